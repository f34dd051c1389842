// Package extension discovers the optional modules that can be compiled into
// an agent and installs their source files around a single build.
package extension

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// Module is a named bundle of agent source files.
type Module interface {
	// Name is the name requests use to select the module
	Name() string
	// CheckDependencies reports whether the module's Go dependencies already resolve
	CheckDependencies(ctx context.Context) bool
	// InstallDependencies fetches the module's Go dependencies
	InstallDependencies(ctx context.Context) bool
	// CopyFiles installs the module's files under baseDir
	CopyFiles(ctx context.Context, baseDir string) error
	// RemoveFiles removes the module's files from baseDir
	RemoveFiles(ctx context.Context, baseDir string) error
}

// Loader turns a module file into a Module. name is the file's base name
// without extension.
type Loader func(name, path string) (Module, error)

// Loaders maps a file extension (including the dot) to the loader that
// handles it.
type Loaders struct {
	mu      sync.RWMutex
	loaders map[string]Loader
}

func NewLoaders() *Loaders {
	return &Loaders{loaders: make(map[string]Loader)}
}

func (l *Loaders) Register(ext string, loader Loader) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ext = strings.ToLower(ext)
	if _, exists := l.loaders[ext]; exists {
		return fmt.Errorf("a loader already exists for extension '%s'", ext)
	}

	l.loaders[ext] = loader
	return nil
}

// For returns the loader for path, if any.
func (l *Loaders) For(path string) (Loader, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	loader, ok := l.loaders[strings.ToLower(filepath.Ext(path))]
	return loader, ok
}

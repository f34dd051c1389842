// Package manifest implements extension modules described by a YAML
// manifest listing the agent source files the module adds and the Go
// modules those files import.
//
// A manifest looks like:
//
//	kind: Extension
//	description: Slack contact
//	files:
//	  - source: contact/slack.go
//	    target: contact/slack.go
//	dependencies:
//	  - github.com/slack-go/slack
package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sandbuild/sandbuild/pkg/extension"
	"github.com/sandbuild/sandbuild/pkg/toolchain"
	"sigs.k8s.io/yaml"
)

const KindExtension = "Extension"

// Extensions handled by the loader returned from NewLoader.
var FileExtensions = []string{".yml", ".yaml"}

type Manifest struct {
	Kind         string     `json:"kind,omitempty"`
	Description  string     `json:"description,omitempty"`
	Files        []FileSpec `json:"files"`
	Dependencies []string   `json:"dependencies,omitempty"`
}

type FileSpec struct {
	// Source is relative to the extension source directory
	Source string `json:"source"`
	// Target is relative to the agent source tree
	Target string `json:"target"`
}

func (m *Manifest) Validate() error {
	var err error
	if m.Kind != "" && m.Kind != KindExtension {
		err = errors.Join(err, fmt.Errorf("invalid kind '%s': expected '%s'", m.Kind, KindExtension))
	}
	if len(m.Files) == 0 {
		err = errors.Join(err, fmt.Errorf("manifest must list at least one file"))
	}
	for i, f := range m.Files {
		if f.Source == "" || f.Target == "" {
			err = errors.Join(err, fmt.Errorf("files[%d]: source and target are required", i))
			continue
		}
		if !filepath.IsLocal(f.Source) {
			err = errors.Join(err, fmt.Errorf("files[%d]: source '%s' must be a relative path inside the source directory", i, f.Source))
		}
		if !filepath.IsLocal(f.Target) {
			err = errors.Join(err, fmt.Errorf("files[%d]: target '%s' must be a relative path inside the build directory", i, f.Target))
		}
	}

	return err
}

func Read(data []byte) (*Manifest, error) {
	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, err
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return m, nil
}

type Options struct {
	// SourceDir holds the files manifests refer to
	SourceDir string
	// BuildDir is the agent module root used for dependency checks
	BuildDir  string
	Toolchain toolchain.Toolchain
}

// NewLoader returns the registration function for manifest files.
func NewLoader(opts Options) extension.Loader {
	return func(name, path string) (extension.Module, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest: %w", err)
		}

		m, err := Read(data)
		if err != nil {
			return nil, fmt.Errorf("invalid manifest '%s': %w", path, err)
		}

		return &Module{name: name, manifest: m, opts: opts}, nil
	}
}

// Register adds the manifest loader to loaders for every manifest file extension.
func Register(loaders *extension.Loaders, opts Options) error {
	loader := NewLoader(opts)
	for _, ext := range FileExtensions {
		if err := loaders.Register(ext, loader); err != nil {
			return err
		}
	}
	return nil
}

type Module struct {
	name     string
	manifest *Manifest
	opts     Options
}

var _ extension.Module = &Module{}

func (m *Module) Name() string {
	return m.name
}

func (m *Module) Description() string {
	return m.manifest.Description
}

func (m *Module) CheckDependencies(ctx context.Context) bool {
	for _, dep := range m.manifest.Dependencies {
		if m.opts.Toolchain == nil || !m.opts.Toolchain.HasModule(ctx, m.opts.BuildDir, dep) {
			return false
		}
	}
	return true
}

func (m *Module) InstallDependencies(ctx context.Context) bool {
	if m.opts.Toolchain == nil || !m.opts.Toolchain.Available() {
		return false
	}
	for _, dep := range m.manifest.Dependencies {
		if err := m.opts.Toolchain.GetModule(ctx, m.opts.BuildDir, dep); err != nil {
			return false
		}
	}
	return true
}

// CopyFiles copies every file into baseDir. If any copy fails the files
// already copied are removed again.
func (m *Module) CopyFiles(ctx context.Context, baseDir string) error {
	var copied []string
	for _, f := range m.manifest.Files {
		if err := ctx.Err(); err != nil {
			return errors.Join(err, removeAll(copied))
		}

		dst := filepath.Join(baseDir, f.Target)
		if err := copyFile(filepath.Join(m.opts.SourceDir, f.Source), dst); err != nil {
			return errors.Join(fmt.Errorf("failed to copy %s: %w", f.Source, err), removeAll(copied))
		}
		copied = append(copied, dst)
	}

	return nil
}

// RemoveFiles removes every target file. Files that are already gone are
// not an error.
func (m *Module) RemoveFiles(ctx context.Context, baseDir string) error {
	targets := make([]string, 0, len(m.manifest.Files))
	for _, f := range m.manifest.Files {
		targets = append(targets, filepath.Join(baseDir, f.Target))
	}
	return removeAll(targets)
}

func removeAll(paths []string) error {
	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}

	return out.Close()
}

package extension

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Registry holds the modules found by discovery. Lookups are safe for
// concurrent use; entries are added by Discover and never removed.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
	loaders *Loaders
	logger  *slog.Logger
}

func NewRegistry(loaders *Loaders, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Registry{
		modules: make(map[string]Module),
		loaders: loaders,
		logger:  logger,
	}
}

type candidate struct {
	name string
	path string
}

// Discover walks root recursively, skipping files and directories whose
// names start with "." or "_", and registers every module that loads and
// whose dependencies are satisfied or can be installed. Failures are logged
// and the module is left out. Discover may be called again to pick up new
// modules.
func (r *Registry) Discover(ctx context.Context, root string) error {
	var candidates []candidate
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && isHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := r.loaders.For(path); !ok {
			return nil
		}

		name := strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
		candidates = append(candidates, candidate{name: name, path: path})
		return nil
	})
	if err != nil {
		return err
	}

	// loading and dependency checks run concurrently
	loaded := make([]loadResult, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, c := range candidates {
		g.Go(func() error {
			loaded[i] = r.load(gctx, c)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// installs all modify the same module directory, so they run one at a time
	for i, res := range loaded {
		if res.module == nil || ctx.Err() != nil {
			continue
		}
		c := candidates[i]
		if _, exists := r.Get(res.module.Name()); exists {
			r.logger.Warn("duplicate extension module, keeping the first", "name", c.name, "path", c.path)
			continue
		}
		if !res.depsOK && !res.module.InstallDependencies(ctx) {
			r.logger.Error("extension dependencies unavailable", "name", c.name, "path", c.path)
			continue
		}
		if r.Register(res.module) {
			r.logger.Debug("loaded extension module", "name", c.name)
		}
	}

	return ctx.Err()
}

type loadResult struct {
	module Module
	depsOK bool
}

func (r *Registry) load(ctx context.Context, c candidate) loadResult {
	loader, _ := r.loaders.For(c.path)

	m, err := loader(c.name, c.path)
	if err != nil {
		r.logger.Error("error loading extension", "path", c.path, "error", err)
		return loadResult{}
	}

	return loadResult{module: m, depsOK: m.CheckDependencies(ctx)}
}

// Register adds m under its own name. It reports false when the name is
// already taken.
func (r *Registry) Register(m Module) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[m.Name()]; exists {
		return false
	}

	r.modules[m.Name()] = m
	return true
}

func (r *Registry) Get(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.modules[name]
	return m, ok
}

// Names returns the registered module names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")
}

package extension

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Manager installs registered modules into the build directory and removes
// them again. Nothing is touched when the toolchain is unavailable, since no
// build can use the files.
type Manager struct {
	registry  *Registry
	available func() bool
	baseDir   string
	logger    *slog.Logger
}

type ManagerOptions struct {
	// BaseDir is the agent source tree module files are copied into
	BaseDir string
	// ToolchainAvailable gates install and uninstall
	ToolchainAvailable func() bool
	Logger             *slog.Logger
}

func NewManager(registry *Registry, opts ManagerOptions) *Manager {
	m := &Manager{
		registry:  registry,
		available: opts.ToolchainAvailable,
		baseDir:   opts.BaseDir,
		logger:    opts.Logger,
	}
	if m.available == nil {
		m.available = func() bool { return true }
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}

	return m
}

// InstallAll copies the files of each named module and returns the names
// that were installed. Unknown names and copy failures are logged and left
// out; they do not stop the remaining installs.
func (m *Manager) InstallAll(ctx context.Context, names []string) []string {
	if len(names) == 0 || !m.available() {
		return nil
	}

	installed := make([]string, 0, len(names))
	for _, name := range names {
		if err := m.install(ctx, name); err != nil {
			m.logger.ErrorContext(ctx, "failed to install extension", "name", name, "error", err)
			continue
		}
		installed = append(installed, name)
	}

	return installed
}

func (m *Manager) install(ctx context.Context, name string) (err error) {
	mod, ok := m.registry.Get(name)
	if !ok {
		return fmt.Errorf("module %s not found", name)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic copying files: %v", r)
		}
	}()

	return mod.CopyFiles(ctx, m.baseDir)
}

// UninstallAll removes the files of each named module. It must be given the
// names returned by InstallAll. It returns the names whose removal failed.
func (m *Manager) UninstallAll(ctx context.Context, names []string) []string {
	if len(names) == 0 || !m.available() {
		return nil
	}

	m.logger.DebugContext(ctx, "cleaning up files for extension modules", "names", strings.Join(names, ", "))

	var failed []string
	for _, name := range names {
		mod, ok := m.registry.Get(name)
		if !ok {
			failed = append(failed, name)
			continue
		}
		if err := mod.RemoveFiles(ctx, m.baseDir); err != nil {
			m.logger.ErrorContext(ctx, "failed to remove extension files", "name", name, "error", err)
			failed = append(failed, name)
		}
	}

	return failed
}

// WithInstalled installs names, runs fn with the installed subset and then
// uninstalls exactly that subset. The uninstall runs however fn exits,
// including on panic and on cancellation of ctx.
func (m *Manager) WithInstalled(ctx context.Context, names []string, fn func(ctx context.Context, installed []string) error) error {
	installed := m.InstallAll(ctx, names)
	if len(installed) > 0 {
		m.logger.DebugContext(ctx, "installed extension modules", "names", strings.Join(installed, ", "))
	}

	defer m.UninstallAll(context.WithoutCancel(ctx), installed)

	return fn(ctx, installed)
}

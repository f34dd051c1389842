package extension

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(available bool, modules ...*mockModule) *Manager {
	r := NewRegistry(NewLoaders(), nil)
	for _, m := range modules {
		r.Register(m)
	}
	return NewManager(r, ManagerOptions{
		BaseDir:            "/src/gocat",
		ToolchainAvailable: func() bool { return available },
	})
}

func TestManager_InstallAll(t *testing.T) {
	tt := map[string]struct {
		available bool
		modules   []*mockModule
		requested []string
		expected  []string
	}{
		"installs every registered module": {
			available: true,
			modules:   []*mockModule{{name: "gist"}, {name: "shells"}},
			requested: []string{"gist", "shells"},
			expected:  []string{"gist", "shells"},
		},
		"unknown module is skipped": {
			available: true,
			modules:   []*mockModule{{name: "gist"}},
			requested: []string{"missing", "gist"},
			expected:  []string{"gist"},
		},
		"copy failure does not stop the batch": {
			available: true,
			modules:   []*mockModule{{name: "gist", copyErr: errors.New("disk full")}, {name: "shells"}},
			requested: []string{"gist", "shells"},
			expected:  []string{"shells"},
		},
		"panicking copy is treated as failure": {
			available: true,
			modules:   []*mockModule{{name: "gist", copyPanics: true}, {name: "shells"}},
			requested: []string{"gist", "shells"},
			expected:  []string{"shells"},
		},
		"toolchain absent installs nothing": {
			available: false,
			modules:   []*mockModule{{name: "gist"}},
			requested: []string{"gist"},
			expected:  nil,
		},
		"nothing requested": {
			available: true,
			modules:   []*mockModule{{name: "gist"}},
			expected:  nil,
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			m := newTestManager(tc.available, tc.modules...)
			installed := m.InstallAll(context.Background(), tc.requested)
			if tc.expected == nil {
				assert.Empty(t, installed)
			} else {
				assert.Equal(t, tc.expected, installed)
			}

			if !tc.available {
				for _, mod := range tc.modules {
					assert.Empty(t, mod.copied)
				}
			}
		})
	}
}

func TestManager_UninstallAll(t *testing.T) {
	gist := &mockModule{name: "gist"}
	shells := &mockModule{name: "shells", removeErr: errors.New("permission denied")}
	unused := &mockModule{name: "unused"}
	m := newTestManager(true, gist, shells, unused)

	failed := m.UninstallAll(context.Background(), []string{"gist", "shells", "ghost"})

	assert.Equal(t, []string{"shells", "ghost"}, failed)
	assert.Equal(t, []string{"/src/gocat"}, gist.removed)
	assert.Equal(t, []string{"/src/gocat"}, shells.removed)
	assert.Empty(t, unused.removed)

	absent := newTestManager(false, gist)
	assert.Empty(t, absent.UninstallAll(context.Background(), []string{"gist"}))
	assert.Len(t, gist.removed, 1)
}

func TestManager_WithInstalled(t *testing.T) {
	tt := map[string]struct {
		fn        func(ctx context.Context, installed []string) error
		cancelled bool
		expectErr bool
	}{
		"build succeeds": {
			fn: func(ctx context.Context, installed []string) error { return nil },
		},
		"build fails": {
			fn:        func(ctx context.Context, installed []string) error { return errors.New("compile failed") },
			expectErr: true,
		},
		"request abandoned": {
			fn: func(ctx context.Context, installed []string) error {
				return ctx.Err()
			},
			cancelled: true,
			expectErr: true,
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			gist := &mockModule{name: "gist"}
			broken := &mockModule{name: "broken", copyErr: errors.New("disk full")}
			m := newTestManager(true, gist, broken)

			ctx, cancel := context.WithCancel(context.Background())
			if tc.cancelled {
				cancel()
			} else {
				defer cancel()
			}

			var seen []string
			err := m.WithInstalled(ctx, []string{"gist", "broken", "missing"}, func(ctx context.Context, installed []string) error {
				seen = installed
				return tc.fn(ctx, installed)
			})

			if tc.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			assert.Equal(t, []string{"gist"}, seen)
			assert.Len(t, gist.removed, 1)
			assert.Empty(t, broken.removed)
		})
	}
}

func TestManager_WithInstalled_Panic(t *testing.T) {
	gist := &mockModule{name: "gist"}
	m := newTestManager(true, gist)

	require.Panics(t, func() {
		_ = m.WithInstalled(context.Background(), []string{"gist"}, func(ctx context.Context, installed []string) error {
			panic("compiler crashed")
		})
	})

	assert.Len(t, gist.removed, 1)
}

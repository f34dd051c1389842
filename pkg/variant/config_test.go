package variant

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"
)

func writeVariant(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yml"), []byte(content), 0644))
}

func TestFileSource_Load(t *testing.T) {
	dir := t.TempDir()
	writeVariant(t, dir, "default", `name: default
default_c2_protocol: HTTP
default_group: red
activate_proxy_peer_listeners: true
include_proxy_peer_protocol:
  - SmbPipe
gocat_extensions:
  - gist
  - shells
`)
	writeVariant(t, dir, "multi", `---
name: first
default_group: blue
---
name: second
`)
	writeVariant(t, dir, "noname", `default_group: blue
`)
	writeVariant(t, dir, "badtype", `name: bad
activate_proxy_peer_listeners: "yes please"
`)
	writeVariant(t, dir, "empty", ``)

	tt := map[string]struct {
		name        string
		expected    *VariantConfig
		notFound    bool
		expectErr   bool
		errContains string
	}{
		"full variant": {
			name: "default",
			expected: &VariantConfig{
				Name:                   "default",
				DefaultProtocol:        ptr.To("HTTP"),
				DefaultGroup:           ptr.To("red"),
				ActivateProxyListeners: ptr.To(true),
				IncludedProxyProtocols: []string{"SmbPipe"},
				Extensions:             []string{"gist", "shells"},
			},
		},
		"first document wins": {
			name: "multi",
			expected: &VariantConfig{
				Name:         "first",
				DefaultGroup: ptr.To("blue"),
			},
		},
		"missing file": {
			name:     "nonexistent",
			notFound: true,
		},
		"path traversal rejected": {
			name:     "../default",
			notFound: true,
		},
		"missing name fails validation": {
			name:      "noname",
			expectErr: true,
		},
		"wrong field type fails validation": {
			name:      "badtype",
			expectErr: true,
		},
		"empty document": {
			name:        "empty",
			expectErr:   true,
			errContains: "empty",
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			s := &FileSource{Dir: dir}
			cfg, err := s.Load(context.Background(), tc.name)

			if tc.notFound {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrNotFound))
				return
			}
			if tc.expectErr {
				require.Error(t, err)
				assert.False(t, errors.Is(err, ErrNotFound))
				if tc.errContains != "" {
					assert.Contains(t, err.Error(), tc.errContains)
				}
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expected, cfg)
		})
	}
}

func TestFileSource_List(t *testing.T) {
	dir := t.TempDir()
	writeVariant(t, dir, "default", "name: default\n")
	writeVariant(t, dir, "red", "name: red\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0644))

	names, err := (&FileSource{Dir: dir}).List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"default", "red"}, names)

	names, err = (&FileSource{Dir: filepath.Join(dir, "missing")}).List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestBuiltinSource(t *testing.T) {
	cfg, err := BuiltinSource{}.Load(context.Background(), "red")
	require.NoError(t, err)
	assert.Equal(t, "red", cfg.Name)
	assert.ElementsMatch(t, []string{"gist", "shared", "shells", "shellcode"}, cfg.Extensions)

	// callers cannot mutate the builtin table
	cfg.Extensions[0] = "changed"
	again, err := BuiltinSource{}.Load(context.Background(), "red")
	require.NoError(t, err)
	assert.NotContains(t, again.Extensions, "changed")

	_, err = BuiltinSource{}.Load(context.Background(), "default")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []string{"basic", "red"}, ListBuiltinNames())
}

type brokenSource struct{}

func (brokenSource) Load(ctx context.Context, name string) (*VariantConfig, error) {
	return nil, errors.New("disk on fire")
}

func TestChainSource(t *testing.T) {
	dir := t.TempDir()
	writeVariant(t, dir, "red", "name: red-override\n")

	chain := ChainSource{&FileSource{Dir: dir}, BuiltinSource{}}

	cfg, err := chain.Load(context.Background(), "red")
	require.NoError(t, err)
	assert.Equal(t, "red-override", cfg.Name)

	cfg, err = chain.Load(context.Background(), "basic")
	require.NoError(t, err)
	assert.Equal(t, "basic", cfg.Name)

	_, err = chain.Load(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = ChainSource{brokenSource{}, BuiltinSource{}}.Load(context.Background(), "unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
}

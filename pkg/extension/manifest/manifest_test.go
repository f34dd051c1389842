package manifest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sandbuild/sandbuild/pkg/extension"
	"github.com/sandbuild/sandbuild/pkg/toolchain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockToolchain implements toolchain.Toolchain for testing
type mockToolchain struct {
	available bool
	modules   map[string]bool
	getErr    error
	fetched   []string
}

func (m *mockToolchain) Available() bool { return m.available }

func (m *mockToolchain) Compile(ctx context.Context, params toolchain.CompileParams) error {
	return nil
}

func (m *mockToolchain) HasModule(ctx context.Context, dir, module string) bool {
	return m.modules[module]
}

func (m *mockToolchain) GetModule(ctx context.Context, dir, module string) error {
	m.fetched = append(m.fetched, module)
	return m.getErr
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestRead(t *testing.T) {
	tt := map[string]struct {
		input       string
		expectErr   bool
		errContains string
	}{
		"valid manifest": {
			input: `kind: Extension
description: Slack contact
files:
  - source: contact/slack.go
    target: contact/slack.go
dependencies:
  - github.com/slack-go/slack
`,
		},
		"kind can be omitted": {
			input: `files:
  - source: a.go
    target: b.go
`,
		},
		"wrong kind": {
			input: `kind: Task
files:
  - source: a.go
    target: b.go
`,
			expectErr:   true,
			errContains: "invalid kind",
		},
		"no files": {
			input:       `description: empty`,
			expectErr:   true,
			errContains: "at least one file",
		},
		"missing target": {
			input: `files:
  - source: a.go
`,
			expectErr:   true,
			errContains: "source and target are required",
		},
		"target escapes build directory": {
			input: `files:
  - source: a.go
    target: ../../etc/passwd
`,
			expectErr:   true,
			errContains: "inside the build directory",
		},
		"absolute source": {
			input: `files:
  - source: /etc/shadow
    target: a.go
`,
			expectErr:   true,
			errContains: "inside the source directory",
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			m, err := Read([]byte(tc.input))
			if tc.expectErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.errContains)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, m.Files)
		})
	}
}

func TestModule_Dependencies(t *testing.T) {
	tt := map[string]struct {
		deps            []string
		toolchain       *mockToolchain
		expectedCheck   bool
		expectedInstall bool
	}{
		"no dependencies": {
			toolchain:       &mockToolchain{available: true},
			expectedCheck:   true,
			expectedInstall: true,
		},
		"dependency present": {
			deps:            []string{"github.com/slack-go/slack"},
			toolchain:       &mockToolchain{available: true, modules: map[string]bool{"github.com/slack-go/slack": true}},
			expectedCheck:   true,
			expectedInstall: true,
		},
		"dependency missing but installable": {
			deps:            []string{"github.com/slack-go/slack"},
			toolchain:       &mockToolchain{available: true},
			expectedCheck:   false,
			expectedInstall: true,
		},
		"dependency missing and install fails": {
			deps:            []string{"github.com/slack-go/slack"},
			toolchain:       &mockToolchain{available: true, getErr: errors.New("no network")},
			expectedCheck:   false,
			expectedInstall: false,
		},
		"toolchain absent": {
			deps:            []string{"github.com/slack-go/slack"},
			toolchain:       &mockToolchain{available: false},
			expectedCheck:   false,
			expectedInstall: false,
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			m := &Module{
				name:     "slack",
				manifest: &Manifest{Dependencies: tc.deps},
				opts:     Options{BuildDir: "/src/gocat", Toolchain: tc.toolchain},
			}
			assert.Equal(t, tc.expectedCheck, m.CheckDependencies(context.Background()))
			assert.Equal(t, tc.expectedInstall, m.InstallDependencies(context.Background()))
		})
	}
}

func TestModule_CopyAndRemove(t *testing.T) {
	sourceDir := t.TempDir()
	baseDir := t.TempDir()
	writeFile(t, filepath.Join(sourceDir, "contact", "slack.go"), "package contact\n")
	writeFile(t, filepath.Join(sourceDir, "contact", "slack_util.go"), "package contact\n\nfunc util() {}\n")

	m := &Module{
		name: "slack",
		manifest: &Manifest{Files: []FileSpec{
			{Source: "contact/slack.go", Target: "contact/slack.go"},
			{Source: "contact/slack_util.go", Target: "contact/util/slack_util.go"},
		}},
		opts: Options{SourceDir: sourceDir},
	}

	require.NoError(t, m.CopyFiles(context.Background(), baseDir))

	data, err := os.ReadFile(filepath.Join(baseDir, "contact", "slack.go"))
	require.NoError(t, err)
	assert.Equal(t, "package contact\n", string(data))
	assert.FileExists(t, filepath.Join(baseDir, "contact", "util", "slack_util.go"))

	require.NoError(t, m.RemoveFiles(context.Background(), baseDir))
	assert.NoFileExists(t, filepath.Join(baseDir, "contact", "slack.go"))
	assert.NoFileExists(t, filepath.Join(baseDir, "contact", "util", "slack_util.go"))

	// removing twice is fine
	require.NoError(t, m.RemoveFiles(context.Background(), baseDir))
}

func TestModule_CopyRollsBackOnFailure(t *testing.T) {
	sourceDir := t.TempDir()
	baseDir := t.TempDir()
	writeFile(t, filepath.Join(sourceDir, "shells", "osascript.go"), "package shells\n")

	m := &Module{
		name: "shells",
		manifest: &Manifest{Files: []FileSpec{
			{Source: "shells/osascript.go", Target: "execute/shells/osascript.go"},
			{Source: "shells/missing.go", Target: "execute/shells/missing.go"},
		}},
		opts: Options{SourceDir: sourceDir},
	}

	err := m.CopyFiles(context.Background(), baseDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shells/missing.go")
	assert.NoFileExists(t, filepath.Join(baseDir, "execute", "shells", "osascript.go"))
}

func TestLoaderWithRegistry(t *testing.T) {
	root := t.TempDir()
	manifests := filepath.Join(root, "app", "extensions")
	sources := filepath.Join(root, "gocat-extensions")
	buildDir := filepath.Join(root, "gocat")

	writeFile(t, filepath.Join(sources, "contact", "slack.go"), "package contact\n")
	writeFile(t, filepath.Join(manifests, "contact", "slack.yml"), `files:
  - source: contact/slack.go
    target: contact/slack.go
`)
	writeFile(t, filepath.Join(manifests, "contact", "broken.yml"), `files: not-a-list`)
	writeFile(t, filepath.Join(manifests, "contact", "__init__.yml"), `files: []`)

	tc := &mockToolchain{available: true}
	loaders := extension.NewLoaders()
	require.NoError(t, Register(loaders, Options{SourceDir: sources, BuildDir: buildDir, Toolchain: tc}))

	registry := extension.NewRegistry(loaders, nil)
	require.NoError(t, registry.Discover(context.Background(), manifests))
	assert.Equal(t, []string{"slack"}, registry.Names())

	manager := extension.NewManager(registry, extension.ManagerOptions{
		BaseDir:            buildDir,
		ToolchainAvailable: tc.Available,
	})

	err := manager.WithInstalled(context.Background(), []string{"slack"}, func(ctx context.Context, installed []string) error {
		assert.Equal(t, []string{"slack"}, installed)
		assert.FileExists(t, filepath.Join(buildDir, "contact", "slack.go"))
		return nil
	})
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(buildDir, "contact", "slack.go"))
}

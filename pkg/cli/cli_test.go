package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/sandbuild/sandbuild/pkg/peerinfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// newWorkspace lays out a service directory whose toolchain can never be
// found, so nothing is compiled
func newWorkspace(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "sandbuild.yml"), `
kind: BuildService
baseDir: sandcat
peersFile: agents.yml
protocols:
  GIST: token
toolchain:
  binary: sandbuild-missing-go-toolchain
logLevel: error
`)
	writeFile(t, filepath.Join(dir, "sandcat", "conf", "stealth.yml"), `
name: stealth
default_c2_protocol: GIST
gocat_extensions: [gist]
`)
	writeFile(t, filepath.Join(dir, "sandcat", "app", "extensions", "contact", "gist.yml"), `
kind: Extension
description: GIST contact
files:
  - source: contact/gist.go
    target: contact/gist.go
`)
	writeFile(t, filepath.Join(dir, "sandcat", "app", "extensions", "_disabled.yml"), `
files:
  - source: a.go
    target: a.go
`)
	writeFile(t, filepath.Join(dir, "sandcat", "gocat-extensions", "contact", "gist.go"), "package contact\n")
	writeFile(t, filepath.Join(dir, "agents.yml"), `
agents:
  - paw: abc
    trusted: true
    proxy_receivers:
      HTTP: ["10.0.0.1:8889"]
`)

	return dir, filepath.Join(dir, "sandbuild.yml")
}

const fakeGoScript = `#!/bin/sh
[ "$1" = "build" ] || exit 0
out=""
while [ $# -gt 0 ]; do
	if [ "$1" = "-o" ]; then out="$2"; fi
	shift
done
printf 'agent' > "$out"
`

// fakeGo puts a go binary on PATH that writes a stub agent to the -o path
// of every build
func fakeGo(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake toolchain is a shell script")
	}

	bin := t.TempDir()
	writeFile(t, filepath.Join(bin, "go"), fakeGoScript)
	require.NoError(t, os.Chmod(filepath.Join(bin, "go"), 0755))
	t.Setenv("PATH", bin)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestExtensionsList(t *testing.T) {
	_, config := newWorkspace(t)

	out, err := run(t, "extensions", "list", "--config", config)
	require.NoError(t, err)
	assert.Contains(t, out, "gist  GIST contact")
	assert.NotContains(t, out, "disabled")
}

func TestVariantsList(t *testing.T) {
	_, config := newWorkspace(t)

	out, err := run(t, "variants", "list", "--config", config)
	require.NoError(t, err)
	assert.Equal(t, "stealth\nbasic (builtin)\nred (builtin)\n", out)
}

func TestVariantsShow(t *testing.T) {
	_, config := newWorkspace(t)

	out, err := run(t, "variants", "show", "red", "--config", config)
	require.NoError(t, err)
	assert.Contains(t, out, "name: red")
	assert.Contains(t, out, "- shellcode")

	_, err = run(t, "variants", "show", "nope", "--config", config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "variant 'nope' not found")
}

func TestPeersEncodeDecode(t *testing.T) {
	_, config := newWorkspace(t)

	out, err := run(t, "peers", "encode", "--config", config)
	require.NoError(t, err)

	values := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		k, v, ok := strings.Cut(line, ":")
		require.True(t, ok)
		values[k] = strings.TrimSpace(v)
	}
	require.Len(t, values["receiverKey"], 30)

	dir, err := peerinfo.Decode(values["encodedReceivers"], values["receiverKey"])
	require.NoError(t, err)
	assert.Equal(t, peerinfo.Directory{"HTTP": {"10.0.0.1:8889"}}, dir)

	out, err = run(t, "peers", "decode", values["encodedReceivers"], "--key", values["receiverKey"])
	require.NoError(t, err)
	assert.Contains(t, out, `"10.0.0.1:8889"`)
}

func TestBuild_WithoutToolchain(t *testing.T) {
	dir, config := newWorkspace(t)

	_, err := run(t, "build", "--config", config, "--platform", "linux", "--variant", "stealth")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "go toolchain not available")

	writeFile(t, filepath.Join(dir, "sandcat", "payloads", "sandcat.go-linux"), "prebuilt")
	output := filepath.Join(dir, "agent")

	out, err := run(t, "build", "--config", config, "--platform", "linux", "--variant", "stealth", "-o", output)
	require.NoError(t, err)
	assert.Contains(t, out, "Built sandcat.go for linux")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "prebuilt", string(data))

	// the extension was never installed
	_, err = os.Stat(filepath.Join(dir, "sandcat", "contact", "gist.go"))
	assert.True(t, os.IsNotExist(err))
}

func TestBuild_DefaultConfig(t *testing.T) {
	fakeGo(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "gocat", "sandcat.go"), "package main\n")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "payloads"), 0755))
	t.Chdir(dir)

	out, err := run(t, "build", "--platform", "linux", "-o", "agent")
	require.NoError(t, err)
	assert.Contains(t, out, "Built sandcat.go for linux")

	data, err := os.ReadFile(filepath.Join(dir, "payloads", "sandcat.go-linux"))
	require.NoError(t, err)
	assert.Equal(t, "agent", string(data))

	data, err = os.ReadFile(filepath.Join(dir, "agent"))
	require.NoError(t, err)
	assert.Equal(t, "agent", string(data))

	_, err = os.Stat(filepath.Join(dir, "gocat", "payloads"))
	assert.True(t, os.IsNotExist(err))
}

func TestInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	config := filepath.Join(dir, "sandbuild.yml")
	writeFile(t, config, "logLevel: loud\n")

	_, err := run(t, "variants", "list", "--config", config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid logLevel")
}

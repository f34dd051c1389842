package testcase

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"text/template"

	"sigs.k8s.io/yaml"

	"github.com/sandbuild/sandbuild/pkg/config"
	"github.com/sandbuild/sandbuild/pkg/extension/manifest"
	"github.com/sandbuild/sandbuild/pkg/peerinfo"
)

const (
	buildSeparator = "--files--"
	missingGo      = "sandbuild-functional-missing-go"
)

// fakeGo answers the toolchain queries sandbuild makes and records every
// build: its arguments, then the agent tree as it was while compiling.
var fakeGo = template.Must(template.New("go").Parse(`#!/bin/sh
case "$1" in
env)
	echo go1.22.5
	;;
list|get)
	;;
build)
	record="{{.BuildLog}}/build-$$.txt"
	out=""
	prev=""
	for a in "$@"; do
		printf '%s\n' "$a" >> "$record"
		if [ "$prev" = "-o" ]; then out="$a"; fi
		prev="$a"
	done
	echo "{{.Separator}}" >> "$record"
	(cd "{{.BaseDir}}" && find . -type f) >> "$record"
	echo "fake agent" > "$out"
	;;
*)
	exit 1
	;;
esac
`))

// Generator handles generating the service layout for a test case
type Generator struct {
	t       *testing.T
	tempDir string
}

// NewGenerator creates a new generator with a temporary directory
func NewGenerator(t *testing.T) (*Generator, error) {
	tempDir, err := os.MkdirTemp("", "sandbuild-functional-*")
	if err != nil {
		return nil, err
	}

	t.Cleanup(func() {
		os.RemoveAll(tempDir)
	})

	return &Generator{t: t, tempDir: tempDir}, nil
}

// TempDir returns the temporary directory path
func (g *Generator) TempDir() string {
	return g.tempDir
}

// BaseDir is the agent source tree
func (g *Generator) BaseDir() string {
	return filepath.Join(g.tempDir, "sandcat")
}

// BuildLog holds one record per go build invocation
func (g *Generator) BuildLog() string {
	return filepath.Join(g.tempDir, "builds")
}

// GenerateLayout writes the agent tree, variants, extensions, peers, the
// fake toolchain and the service config, and returns the config path
func (g *Generator) GenerateLayout(tc *TestCase, listen string) (string, error) {
	base := g.BaseDir()

	if err := g.writeFile(filepath.Join(base, "gocat", "sandcat.go"), "package main\n"); err != nil {
		return "", err
	}
	if err := g.writeFile(filepath.Join(base, "gocat", "shared", "shared.go"), "package main\n"); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Join(base, config.DefaultPayloadDir), 0755); err != nil {
		return "", err
	}
	if err := os.MkdirAll(g.BuildLog(), 0755); err != nil {
		return "", err
	}

	for name, content := range tc.variants {
		if err := g.writeFile(filepath.Join(base, config.DefaultVariantsDir, name+".yml"), content); err != nil {
			return "", err
		}
	}

	for _, ext := range tc.extensions {
		if err := g.generateExtension(ext); err != nil {
			return "", err
		}
	}

	peersFile, err := g.writeYAML("agents.yml", map[string][]peerinfo.Peer{"agents": tc.peers})
	if err != nil {
		return "", err
	}

	goBinary := missingGo
	if !tc.noGo {
		goBinary, err = g.generateFakeGo()
		if err != nil {
			return "", err
		}
	}

	return g.writeYAML("sandbuild.yml", &config.Config{
		Kind:      config.KindBuildService,
		Listen:    listen,
		BaseDir:   base,
		PeersFile: peersFile,
		Protocols: tc.protocols,
		Toolchain: config.ToolchainConfig{Binary: goBinary, MinVersion: "1.21"},
		LogLevel:  "debug",
	})
}

func (g *Generator) generateExtension(ext *ExtensionBuilder) error {
	m := &manifest.Manifest{
		Kind:         manifest.KindExtension,
		Description:  ext.description,
		Dependencies: ext.deps,
	}

	paths := make([]string, 0, len(ext.files))
	for path := range ext.files {
		paths = append(paths, path)
	}
	slices.Sort(paths)

	for _, path := range paths {
		m.Files = append(m.Files, manifest.FileSpec{Source: path, Target: path})
		src := filepath.Join(g.BaseDir(), config.DefaultExtensionSourceDir, path)
		if err := g.writeFile(src, ext.files[path]); err != nil {
			return err
		}
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}

	return g.writeFile(filepath.Join(g.BaseDir(), config.DefaultExtensionsDir, ext.name+".yml"), string(data))
}

func (g *Generator) generateFakeGo() (string, error) {
	path := filepath.Join(g.tempDir, "bin", "go")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return "", err
	}
	defer f.Close()

	err = fakeGo.Execute(f, map[string]string{
		"BuildLog":  g.BuildLog(),
		"BaseDir":   g.BaseDir(),
		"Separator": buildSeparator,
	})
	if err != nil {
		return "", fmt.Errorf("failed to write fake go toolchain: %w", err)
	}

	return path, nil
}

// ReadBuilds parses the build records written by the fake toolchain
func (g *Generator) ReadBuilds() ([]BuildRecord, error) {
	entries, err := os.ReadDir(g.BuildLog())
	if err != nil {
		return nil, err
	}

	var builds []BuildRecord
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(g.BuildLog(), e.Name()))
		if err != nil {
			return nil, err
		}

		args, files, _ := strings.Cut(string(data), buildSeparator+"\n")
		builds = append(builds, BuildRecord{
			Args:  splitLines(args),
			Files: trimDotSlash(splitLines(files)),
		})
	}

	return builds, nil
}

// Tree lists the files under the agent source tree
func (g *Generator) Tree() ([]string, error) {
	var files []string
	err := filepath.WalkDir(g.BaseDir(), func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(g.BaseDir(), path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	return files, err
}

func (g *Generator) writeYAML(name string, v any) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}

	path := filepath.Join(g.tempDir, name)
	return path, g.writeFile(path, string(data))
}

func (g *Generator) writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}

func splitLines(s string) []string {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func trimDotSlash(paths []string) []string {
	for i, p := range paths {
		paths[i] = strings.TrimPrefix(p, "./")
	}
	return paths
}

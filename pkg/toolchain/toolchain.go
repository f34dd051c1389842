// Package toolchain wraps the Go compiler used to build agents.
package toolchain

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
)

const (
	DefaultBinary = "go"
	DefaultArch   = "amd64"
)

// Toolchain is the compiler collaborator. Availability gates every file
// system mutation done for a build.
type Toolchain interface {
	// Available reports whether the toolchain can be used on this host
	Available() bool
	// Compile builds params.SourceFile into params.Output
	Compile(ctx context.Context, params CompileParams) error
	// HasModule reports whether module resolves from dir
	HasModule(ctx context.Context, dir, module string) bool
	// GetModule downloads module into the build list of dir
	GetModule(ctx context.Context, dir, module string) error
}

type CompileParams struct {
	Platform   string
	Arch       string
	Output     string
	SourceFile string
	// BuildMode is passed as -buildmode when set, e.g. "c-shared"
	BuildMode string
	LDFlags   string
	// Env holds extra KEY=VALUE pairs such as CGO_ENABLED=0 or CC=...
	Env []string
	Dir string
}

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error)

// LookPath locates a binary, like exec.LookPath.
type LookPath func(file string) (string, error)

type Options struct {
	// Binary is the go binary name or path, defaults to "go"
	Binary string
	// MinVersion, when set, disables the toolchain if the installed go is older
	MinVersion string
	Runner     Runner
	LookPath   LookPath
}

type Go struct {
	binary     string
	minVersion string
	run        Runner
	lookPath   LookPath

	versionOnce sync.Once
	versionOK   bool
}

var _ Toolchain = &Go{}

func New(opts Options) *Go {
	g := &Go{
		binary:     opts.Binary,
		minVersion: opts.MinVersion,
		run:        opts.Runner,
		lookPath:   opts.LookPath,
	}
	if g.binary == "" {
		g.binary = DefaultBinary
	}
	if g.run == nil {
		g.run = execRunner
	}
	if g.lookPath == nil {
		g.lookPath = exec.LookPath
	}

	return g
}

func (g *Go) Available() bool {
	if _, err := g.lookPath(g.binary); err != nil {
		return false
	}

	if g.minVersion == "" {
		return true
	}

	g.versionOnce.Do(func() {
		g.versionOK = g.checkVersion(context.Background()) == nil
	})

	return g.versionOK
}

// Version returns the version of the installed toolchain.
func (g *Go) Version(ctx context.Context) (*semver.Version, error) {
	out, err := g.run(ctx, "", nil, g.binary, "env", "GOVERSION")
	if err != nil {
		return nil, fmt.Errorf("failed to query go version: %w", err)
	}

	raw := strings.TrimPrefix(strings.TrimSpace(string(out)), "go")
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse go version '%s': %w", raw, err)
	}

	return v, nil
}

func (g *Go) checkVersion(ctx context.Context) error {
	constraint, err := semver.NewConstraint(">= " + g.minVersion)
	if err != nil {
		return fmt.Errorf("invalid minimum go version '%s': %w", g.minVersion, err)
	}

	v, err := g.Version(ctx)
	if err != nil {
		return err
	}

	if !constraint.Check(v) {
		return fmt.Errorf("go %s is older than required %s", v, g.minVersion)
	}

	return nil
}

func (g *Go) Compile(ctx context.Context, params CompileParams) error {
	args := []string{"build"}
	if params.BuildMode != "" {
		args = append(args, "-buildmode="+params.BuildMode)
	}
	args = append(args, "-o", params.Output)
	if params.LDFlags != "" {
		args = append(args, "-ldflags", params.LDFlags)
	}
	args = append(args, sourceArg(params.SourceFile))

	arch := params.Arch
	if arch == "" {
		arch = DefaultArch
	}

	env := append([]string{"GOOS=" + params.Platform, "GOARCH=" + arch}, params.Env...)

	out, err := g.run(ctx, params.Dir, env, g.binary, args...)
	if err != nil {
		return fmt.Errorf("go build failed: %w\noutput: %s", err, string(out))
	}

	return nil
}

// sourceArg makes a relative source file explicit, so go never reads it as a
// flag.
func sourceArg(file string) string {
	if filepath.IsAbs(file) || strings.HasPrefix(file, "./") {
		return file
	}
	return "./" + file
}

func (g *Go) HasModule(ctx context.Context, dir, module string) bool {
	_, err := g.run(ctx, dir, nil, g.binary, "list", "-m", module)
	return err == nil
}

func (g *Go) GetModule(ctx context.Context, dir, module string) error {
	out, err := g.run(ctx, dir, nil, g.binary, "get", module)
	if err != nil {
		return fmt.Errorf("go get %s failed: %w\noutput: %s", module, err, string(out))
	}
	return nil
}

func execRunner(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	return cmd.CombinedOutput()
}

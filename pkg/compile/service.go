// Package compile drives one agent build from request to artifact: it
// resolves the build plan, installs the plan's extensions, runs the
// toolchain and reads the artifact back.
package compile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sandbuild/sandbuild/pkg/build"
	"github.com/sandbuild/sandbuild/pkg/extension"
	"github.com/sandbuild/sandbuild/pkg/toolchain"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultExecutableDir = "gocat"
	DefaultLibraryDir    = "gocat/shared"
	DefaultLibrarySource = "shared.go"

	// MinGWCompiler is used as the C compiler for windows libraries when installed
	MinGWCompiler = "x86_64-w64-mingw32-gcc"
	// HardenedExtLDFlags enable DEP and ASLR on windows libraries
	HardenedExtLDFlags = `-extldflags "-Wl,--nxcompat -Wl,--dynamicbase -Wl,--high-entropy-va"`
)

var (
	ErrInvalidRequest = errors.New("invalid build request")
	// ErrSourceNotFound is logged when the entrypoint to compile does not exist
	ErrSourceNotFound = errors.New("source file not found")
)

// libraryOptions are the per-platform settings of a c-shared build. Platforms
// without an entry are never compiled as libraries.
type libraryOptions struct {
	env        []string
	cc         string
	extLDFlags string
}

var libraryPlatforms = map[string]libraryOptions{
	"windows": {env: []string{"CGO_ENABLED=1"}, cc: MinGWCompiler, extLDFlags: HardenedExtLDFlags},
	"linux":   {env: []string{"CGO_ENABLED=1"}},
}

// target describes what to compile for one request.
type target struct {
	dir        string
	sourceFile string
	buildMode  string
	env        []string
	extLDFlags string
}

type Service struct {
	resolver  *build.Resolver
	manager   *extension.Manager
	toolchain toolchain.Toolchain
	store     ArtifactStore
	lookPath  toolchain.LookPath
	logger    *slog.Logger

	executableDir string
	libraryDir    string
	librarySource string

	// workspace serializes builds, since every build shares the source tree
	// extension files are installed into
	workspace *semaphore.Weighted
}

type Options struct {
	Resolver  *build.Resolver
	Manager   *extension.Manager
	Toolchain toolchain.Toolchain
	Store     ArtifactStore

	// BaseDir is the agent source tree, the same directory extensions are
	// installed into
	BaseDir string
	// ExecutableDir holds the executable entrypoints, relative to BaseDir
	ExecutableDir string
	// LibraryDir holds LibrarySource, relative to BaseDir
	LibraryDir    string
	LibrarySource string

	// LookPath finds the optional cross compilers, defaults to exec.LookPath
	LookPath toolchain.LookPath
	Logger   *slog.Logger
}

func NewService(opts Options) *Service {
	s := &Service{
		resolver:      opts.Resolver,
		manager:       opts.Manager,
		toolchain:     opts.Toolchain,
		store:         opts.Store,
		lookPath:      opts.LookPath,
		logger:        opts.Logger,
		executableDir: filepath.Join(opts.BaseDir, valueOr(opts.ExecutableDir, DefaultExecutableDir)),
		libraryDir:    filepath.Join(opts.BaseDir, valueOr(opts.LibraryDir, DefaultLibraryDir)),
		librarySource: valueOr(opts.LibrarySource, DefaultLibrarySource),
		workspace:     semaphore.NewWeighted(1),
	}
	if s.lookPath == nil {
		s.lookPath = exec.LookPath
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}

	return s
}

// CompileExecutable builds req.File from the executable directory into the
// artifact store and returns the stored artifact. Build failures are logged;
// the caller gets whatever artifact the store holds afterwards.
func (s *Service) CompileExecutable(ctx context.Context, req *build.Request) ([]byte, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	if s.toolchain.Available() {
		s.run(ctx, req, target{
			dir:        s.executableDir,
			sourceFile: req.File,
			env:        []string{"CGO_ENABLED=0"},
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return s.store.Fetch(ctx, req.File, req.Platform)
}

// CompileLibrary builds the shared library entrypoint as a c-shared library
// named req.File. Only platforms with cgo settings are compiled.
func (s *Service) CompileLibrary(ctx context.Context, req *build.Request) ([]byte, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	opts, supported := libraryPlatforms[req.Platform]
	if s.toolchain.Available() && supported {
		env := slices.Clone(opts.env)
		if opts.cc != "" {
			if _, err := s.lookPath(opts.cc); err == nil {
				env = append(env, "CC="+opts.cc)
			}
		}
		s.run(ctx, req, target{
			dir:        s.libraryDir,
			sourceFile: s.librarySource,
			buildMode:  "c-shared",
			env:        env,
			extLDFlags: opts.extLDFlags,
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return s.store.Fetch(ctx, req.File, req.Platform)
}

func (s *Service) run(ctx context.Context, req *build.Request, t target) {
	if err := s.workspace.Acquire(ctx, 1); err != nil {
		s.logger.WarnContext(ctx, "build abandoned while waiting for the workspace", "file", req.File, "error", err)
		return
	}
	defer s.workspace.Release(1)

	if err := s.compile(ctx, req, t); err != nil {
		s.logger.ErrorContext(ctx, "failed to compile agent", "file", req.File, "platform", req.Platform, "error", err)
	}
}

func (s *Service) compile(ctx context.Context, req *build.Request, t target) error {
	source := filepath.Join(t.dir, t.sourceFile)
	if info, err := os.Stat(source); err != nil || info.IsDir() {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, source)
	}

	r := *req
	if t.extLDFlags != "" {
		r.LDFlagSuffix = t.extLDFlags
	}

	plan, err := s.resolver.Resolve(ctx, &r)
	if err != nil {
		return fmt.Errorf("failed to resolve build plan: %w", err)
	}

	params := toolchain.CompileParams{
		Platform:   req.Platform,
		Output:     s.store.Path(req.File, req.Platform),
		SourceFile: t.sourceFile,
		BuildMode:  t.buildMode,
		LDFlags:    plan.LDFlagString(),
		Env:        t.env,
		Dir:        t.dir,
	}

	return s.manager.WithInstalled(ctx, plan.Extensions, func(ctx context.Context, installed []string) error {
		s.logger.DebugContext(ctx, "dynamically compiling", "source", t.sourceFile, "dir", t.dir)
		return s.toolchain.Compile(ctx, params)
	})
}

func validate(req *build.Request) error {
	if req.File == "" || req.Platform == "" {
		return fmt.Errorf("%w: file and platform are required", ErrInvalidRequest)
	}
	if !isPlainName(req.File) {
		return fmt.Errorf("%w: file '%s' must be a plain file name", ErrInvalidRequest, req.File)
	}
	if !isPlainName(req.Platform) {
		return fmt.Errorf("%w: invalid platform '%s'", ErrInvalidRequest, req.Platform)
	}
	return nil
}

// isPlainName reports whether name is a single local path element that
// cannot be mistaken for a flag.
func isPlainName(name string) bool {
	return filepath.IsLocal(name) && filepath.Base(name) == name && !strings.HasPrefix(name, "-")
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

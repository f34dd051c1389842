package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/sandbuild/sandbuild/pkg/build"
	"github.com/sandbuild/sandbuild/pkg/compile"
	"github.com/sandbuild/sandbuild/pkg/config"
	"github.com/sandbuild/sandbuild/pkg/contact"
	"github.com/sandbuild/sandbuild/pkg/extension"
	"github.com/sandbuild/sandbuild/pkg/extension/manifest"
	"github.com/sandbuild/sandbuild/pkg/peerinfo"
	"github.com/sandbuild/sandbuild/pkg/toolchain"
	"github.com/sandbuild/sandbuild/pkg/variant"
)

// app holds the wired service components
type app struct {
	config    *config.Config
	logger    *slog.Logger
	toolchain toolchain.Toolchain
	variants  *variant.FileSource
	encoder   *peerinfo.Encoder
	registry  *extension.Registry
	compiler  *compile.Service
}

func loadConfig(opts *globalOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configFile != "" {
		cfg, err = config.FromFile(opts.configFile)
	} else {
		cfg, err = config.Default(opts.baseDir)
	}
	if err != nil {
		return nil, err
	}

	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// newApp wires every component from the config. Extensions are not
// discovered until discover is called.
func newApp(opts *globalOptions, logOutput io.Writer) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg, logOutput)
	if err != nil {
		return nil, err
	}

	tc := toolchain.New(toolchain.Options{
		Binary:     cfg.Toolchain.Binary,
		MinVersion: cfg.Toolchain.MinVersion,
	})

	loaders := extension.NewLoaders()
	err = manifest.Register(loaders, manifest.Options{
		SourceDir: cfg.ExtensionSourceDir,
		BuildDir:  cfg.BaseDir,
		Toolchain: tc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register extension loaders: %w", err)
	}
	registry := extension.NewRegistry(loaders, logger.With("component", "extensions"))

	manager := extension.NewManager(registry, extension.ManagerOptions{
		BaseDir:            cfg.BaseDir,
		ToolchainAvailable: tc.Available,
		Logger:             logger.With("component", "extensions"),
	})

	fileVariants := &variant.FileSource{Dir: cfg.VariantsDir}

	encoder := peerinfo.NewEncoder(&peerinfo.FileSource{Path: cfg.PeersFile}, peerinfo.EncoderOptions{
		Logger: logger.With("component", "peers"),
	})

	resolver := build.NewResolver(build.ResolverOptions{
		Variants: variant.ChainSource{fileVariants, variant.BuiltinSource{}},
		Contacts: contact.StaticRegistry(cfg.Protocols),
		Peers:    encoder,
		Logger:   logger.With("component", "resolver"),
	})

	compiler := compile.NewService(compile.Options{
		Resolver:  resolver,
		Manager:   manager,
		Toolchain: tc,
		Store:     &compile.DirStore{Dir: cfg.PayloadDir},
		BaseDir:   cfg.BaseDir,
		Logger:    logger.With("component", "compile"),
	})

	return &app{
		config:    cfg,
		logger:    logger,
		toolchain: tc,
		variants:  fileVariants,
		encoder:   encoder,
		registry:  registry,
		compiler:  compiler,
	}, nil
}

func (a *app) discover(ctx context.Context) error {
	err := a.registry.Discover(ctx, a.config.ExtensionsDir)
	if errors.Is(err, fs.ErrNotExist) {
		a.logger.WarnContext(ctx, "extension directory not found, building without extensions", "dir", a.config.ExtensionsDir)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to discover extensions: %w", err)
	}
	a.logger.InfoContext(ctx, "loaded extension modules", "count", len(a.registry.Names()))
	return nil
}

// Package config loads the service configuration file.
//
// Example:
//
//	kind: BuildService
//	listen: 0.0.0.0:8888
//	baseDir: plugins/sandcat
//	protocols:
//	  GIST: ${GIST_TOKEN:-}
//	toolchain:
//	  minVersion: "1.21"
//	rateLimit:
//	  rps: 2
//	  burst: 5
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"sigs.k8s.io/yaml"
)

const KindBuildService = "BuildService"

// Defaults. Directories are relative to BaseDir.
const (
	DefaultListen             = "0.0.0.0:8888"
	DefaultVariantsDir        = "conf"
	DefaultExtensionsDir      = "app/extensions"
	DefaultExtensionSourceDir = "gocat-extensions"
	DefaultPayloadDir         = "payloads"
	DefaultLogLevel           = "info"
)

type Config struct {
	Kind   string `json:"kind,omitempty"`
	Listen string `json:"listen,omitempty"`

	// BaseDir is the agent source tree builds run in
	BaseDir string `json:"baseDir,omitempty"`
	// VariantsDir holds <variant>.yml documents
	VariantsDir string `json:"variantsDir,omitempty"`
	// ExtensionsDir is scanned for extension manifests
	ExtensionsDir string `json:"extensionsDir,omitempty"`
	// ExtensionSourceDir is where manifest file sources are read from
	ExtensionSourceDir string `json:"extensionSourceDir,omitempty"`
	// PayloadDir receives compiled artifacts
	PayloadDir string `json:"payloadDir,omitempty"`
	// PeersFile lists known agents and their proxy receivers
	PeersFile string `json:"peersFile,omitempty"`

	// Protocols maps a C2 protocol name to its configuration value
	Protocols map[string]string `json:"protocols,omitempty"`

	Toolchain ToolchainConfig  `json:"toolchain,omitempty"`
	RateLimit *RateLimitConfig `json:"rateLimit,omitempty"`
	LogLevel  string           `json:"logLevel,omitempty"`
}

type ToolchainConfig struct {
	Binary     string `json:"binary,omitempty"`
	MinVersion string `json:"minVersion,omitempty"`
}

type RateLimitConfig struct {
	RPS   float64 `json:"rps"`
	Burst int     `json:"burst"`
}

// Default returns the configuration used when no file is given, rooted at
// baseDir.
func Default(baseDir string) (*Config, error) {
	c := &Config{BaseDir: baseDir}
	if err := c.applyDefaults(""); err != nil {
		return nil, err
	}
	return c, nil
}

// Read parses data and then expands environment references in its string
// values. Relative paths are resolved against basePath.
func Read(data []byte, basePath string) (*Config, error) {
	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := c.expandEnv(); err != nil {
		return nil, fmt.Errorf("failed to expand config: %w", err)
	}

	if err := c.applyDefaults(basePath); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return c, nil
}

func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for '%s': %w", path, err)
	}

	return Read(data, filepath.Dir(absPath))
}

// expandEnv expands ${VAR} references value by value, so expanded text is
// never parsed as YAML.
func (c *Config) expandEnv() error {
	var err error
	expandField := func(name string, value *string) {
		v, eerr := ExpandEnv(*value)
		if eerr != nil {
			err = errors.Join(err, fmt.Errorf("%s: %w", name, eerr))
			return
		}
		*value = v
	}

	expandField("listen", &c.Listen)
	expandField("baseDir", &c.BaseDir)
	expandField("variantsDir", &c.VariantsDir)
	expandField("extensionsDir", &c.ExtensionsDir)
	expandField("extensionSourceDir", &c.ExtensionSourceDir)
	expandField("payloadDir", &c.PayloadDir)
	expandField("peersFile", &c.PeersFile)
	expandField("toolchain.binary", &c.Toolchain.Binary)
	expandField("toolchain.minVersion", &c.Toolchain.MinVersion)
	expandField("logLevel", &c.LogLevel)
	for protocol, value := range c.Protocols {
		expandField("protocols."+protocol, &value)
		c.Protocols[protocol] = value
	}

	return err
}

// applyDefaults fills unset fields and makes every directory absolute, since
// the toolchain runs with its working directory inside BaseDir.
func (c *Config) applyDefaults(basePath string) error {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	if c.BaseDir == "" {
		c.BaseDir = basePath
	} else {
		c.BaseDir = resolvePath(c.BaseDir, basePath)
	}
	c.VariantsDir = resolveOrDefault(c.VariantsDir, basePath, c.BaseDir, DefaultVariantsDir)
	c.ExtensionsDir = resolveOrDefault(c.ExtensionsDir, basePath, c.BaseDir, DefaultExtensionsDir)
	c.ExtensionSourceDir = resolveOrDefault(c.ExtensionSourceDir, basePath, c.BaseDir, DefaultExtensionSourceDir)
	c.PayloadDir = resolveOrDefault(c.PayloadDir, basePath, c.BaseDir, DefaultPayloadDir)
	if c.PeersFile != "" {
		c.PeersFile = resolvePath(c.PeersFile, basePath)
	}

	for _, path := range []*string{&c.BaseDir, &c.VariantsDir, &c.ExtensionsDir, &c.ExtensionSourceDir, &c.PayloadDir, &c.PeersFile} {
		if *path == "" && path != &c.BaseDir {
			continue
		}
		abs, err := filepath.Abs(*path)
		if err != nil {
			return fmt.Errorf("failed to resolve path '%s': %w", *path, err)
		}
		*path = abs
	}

	return nil
}

func (c *Config) Validate() error {
	var err error

	if c.Kind != "" && c.Kind != KindBuildService {
		err = errors.Join(err, fmt.Errorf("invalid kind '%s': expected '%s'", c.Kind, KindBuildService))
	}
	if c.Listen == "" {
		err = errors.Join(err, fmt.Errorf("listen address is required"))
	}
	if c.Toolchain.MinVersion != "" {
		if _, verr := semver.NewVersion(c.Toolchain.MinVersion); verr != nil {
			err = errors.Join(err, fmt.Errorf("invalid toolchain.minVersion '%s': %w", c.Toolchain.MinVersion, verr))
		}
	}
	if c.RateLimit != nil {
		if c.RateLimit.RPS <= 0 {
			err = errors.Join(err, fmt.Errorf("rateLimit.rps must be positive"))
		}
		if c.RateLimit.Burst < 1 {
			err = errors.Join(err, fmt.Errorf("rateLimit.burst must be at least 1"))
		}
	}
	if _, lerr := c.Level(); lerr != nil {
		err = errors.Join(err, lerr)
	}

	return err
}

// Level returns LogLevel as a slog level.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("invalid logLevel '%s': %w", c.LogLevel, err)
	}
	return level, nil
}

func resolvePath(path, basePath string) string {
	if path == "" || filepath.IsAbs(path) || basePath == "" {
		return path
	}
	return filepath.Join(basePath, path)
}

func resolveOrDefault(path, basePath, baseDir, def string) string {
	if path == "" {
		return filepath.Join(baseDir, def)
	}
	return resolvePath(path, basePath)
}

// Package variant loads the named build flavors ("variants") of the agent.
package variant

import (
	"context"
	"errors"
	"slices"
)

// DefaultName is the variant used when a request does not name one.
const DefaultName = "default"

// ErrNotFound is returned by a Source that has no variant with the requested name.
var ErrNotFound = errors.New("variant not found")

// VariantConfig describes one agent build flavor. Optional fields are nil when
// the document does not set them.
type VariantConfig struct {
	// Name of the variant, required
	Name string `json:"name"`

	// DefaultProtocol is the C2 protocol compiled in as the agent default
	DefaultProtocol *string `json:"default_c2_protocol,omitempty"`

	// DefaultGroup is the group the agent joins
	DefaultGroup *string `json:"default_group,omitempty"`

	// ActivateProxyListeners turns on the agent's peer-to-peer receivers
	ActivateProxyListeners *bool `json:"activate_proxy_peer_listeners,omitempty"`

	// IncludedProxyProtocols restricts the embedded proxy peer directory to
	// these protocols. Empty means no peer directory is embedded.
	IncludedProxyProtocols []string `json:"include_proxy_peer_protocol,omitempty"`

	// Extensions always compiled into this variant
	Extensions []string `json:"gocat_extensions,omitempty"`
}

type Source interface {
	// Load returns the variant called name, or an error wrapping ErrNotFound.
	Load(ctx context.Context, name string) (*VariantConfig, error)
}

// ChainSource asks each source in turn and returns the first variant found.
type ChainSource []Source

var _ Source = ChainSource{}

func (c ChainSource) Load(ctx context.Context, name string) (*VariantConfig, error) {
	var errs []error
	for _, s := range c {
		cfg, err := s.Load(ctx, name)
		if err == nil {
			return cfg, nil
		}
		if !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return nil, ErrNotFound
}

var builtinVariants = map[string]*VariantConfig{
	"basic": {
		Name: "basic",
	},
	"red": {
		Name:       "red",
		Extensions: []string{"gist", "shared", "shells", "shellcode"},
	},
}

// BuiltinSource serves the variants that ship with the service.
type BuiltinSource struct{}

var _ Source = BuiltinSource{}

func (BuiltinSource) Load(ctx context.Context, name string) (*VariantConfig, error) {
	cfg, ok := builtinVariants[name]
	if !ok {
		return nil, ErrNotFound
	}

	out := *cfg
	out.Extensions = slices.Clone(cfg.Extensions)
	return &out, nil
}

// ListBuiltinNames returns the names of the builtin variants.
func ListBuiltinNames() []string {
	names := make([]string, 0, len(builtinVariants))
	for name := range builtinVariants {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

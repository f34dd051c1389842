// Package build turns a build request and its variant configuration into the
// linker flags and extension list for one agent compile.
package build

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/sandbuild/sandbuild/pkg/contact"
	"github.com/sandbuild/sandbuild/pkg/keygen"
	"github.com/sandbuild/sandbuild/pkg/peerinfo"
	"github.com/sandbuild/sandbuild/pkg/variant"
)

// baseLDFlags strip debug information and the symbol table.
var baseLDFlags = []string{"-s", "-w"}

// Plan is the resolved input of one compile.
type Plan struct {
	Variant    *variant.VariantConfig
	Overrides  OverrideSet
	LDFlags    []string
	Extensions []string
}

// LDFlagString joins LDFlags the way the linker expects them.
func (p *Plan) LDFlagString() string {
	return strings.Join(p.LDFlags, " ")
}

// Resolution is the state the stages of a resolve work on.
type Resolution struct {
	Request   *Request
	Variant   *variant.VariantConfig
	Overrides OverrideSet
	// Peers is the most recently staged peer directory payload
	Peers *peerinfo.Payload
}

// Stage contributes overrides to a Resolution. Stages run in order and a
// later stage overwrites what an earlier one set.
type Stage struct {
	Name  string
	Apply func(ctx context.Context, res *Resolution) error
}

type Resolver struct {
	variants  variant.Source
	contacts  contact.Registry
	peers     *peerinfo.Encoder
	generator keygen.Generator
	logger    *slog.Logger
}

type ResolverOptions struct {
	Variants  variant.Source
	Contacts  contact.Registry
	Peers     *peerinfo.Encoder
	Generator keygen.Generator
	Logger    *slog.Logger
}

func NewResolver(opts ResolverOptions) *Resolver {
	r := &Resolver{
		variants:  opts.Variants,
		contacts:  opts.Contacts,
		peers:     opts.Peers,
		generator: opts.Generator,
		logger:    opts.Logger,
	}
	if r.contacts == nil {
		r.contacts = contact.StaticRegistry{}
	}
	if r.peers == nil {
		r.peers = peerinfo.NewEncoder(peerinfo.StaticSource{}, peerinfo.EncoderOptions{})
	}
	if r.generator == nil {
		r.generator = keygen.Generate
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}

	return r
}

// Resolve computes the plan for req. Missing optional inputs contribute
// nothing. Errors come from the peer source or from a value that cannot be
// passed to the linker as one argument.
func (r *Resolver) Resolve(ctx context.Context, req *Request) (*Plan, error) {
	cfg := r.LoadVariant(ctx, req.Variant)

	res := &Resolution{
		Request:   req,
		Variant:   cfg,
		Overrides: OverrideSet{VarKey: r.generator(keygen.DefaultLength)},
	}

	for _, stage := range r.Stages() {
		if err := stage.Apply(ctx, res); err != nil {
			return nil, fmt.Errorf("%s: %w", stage.Name, err)
		}
	}

	flags, err := res.Overrides.Flags()
	if err != nil {
		return nil, err
	}

	ldflags := slices.Concat(baseLDFlags, flags)
	if req.LDFlagSuffix != "" {
		ldflags = append(ldflags, req.LDFlagSuffix)
	}

	plan := &Plan{
		Variant:    cfg,
		Overrides:  res.Overrides,
		LDFlags:    ldflags,
		Extensions: ExtensionUnion(cfg, req),
	}
	r.logger.DebugContext(ctx, "resolved build plan", "ldflags", plan.LDFlagString(), "extensions", plan.Extensions)

	return plan, nil
}

// LoadVariant returns the named variant, or nil when it cannot be loaded.
func (r *Resolver) LoadVariant(ctx context.Context, name string) *variant.VariantConfig {
	if name == "" {
		name = variant.DefaultName
	}
	if r.variants == nil {
		return nil
	}

	cfg, err := r.variants.Load(ctx, name)
	if err != nil {
		r.logger.DebugContext(ctx, "no variant config, using defaults", "variant", name, "reason", err)
		return nil
	}

	r.logger.DebugContext(ctx, "using variant config", "variant", cfg.Name)
	return cfg
}

// Stages returns the override stages in precedence order: variant values,
// then request values, then the request's peer filter, then the peer payload.
func (r *Resolver) Stages() []Stage {
	return []Stage{
		{Name: "variant protocol", Apply: r.variantProtocol},
		{Name: "variant group", Apply: r.variantGroup},
		{Name: "variant proxy listeners", Apply: r.variantListeners},
		{Name: "variant proxy peers", Apply: r.variantPeers},
		{Name: "request overrides", Apply: r.requestOverrides},
		{Name: "request proxy peers", Apply: r.requestPeers},
		{Name: "proxy peer payload", Apply: r.peerPayload},
	}
}

func (r *Resolver) variantProtocol(ctx context.Context, res *Resolution) error {
	if res.Variant == nil || res.Variant.DefaultProtocol == nil {
		return nil
	}
	r.setProtocol(ctx, res.Overrides, *res.Variant.DefaultProtocol)
	return nil
}

func (r *Resolver) variantGroup(ctx context.Context, res *Resolution) error {
	if res.Variant == nil || res.Variant.DefaultGroup == nil {
		return nil
	}
	res.Overrides.Set(VarGroup, *res.Variant.DefaultGroup)
	return nil
}

func (r *Resolver) variantListeners(ctx context.Context, res *Resolution) error {
	if res.Variant == nil || res.Variant.ActivateProxyListeners == nil {
		return nil
	}
	res.Overrides.Set(VarListenP2P, strconv.FormatBool(*res.Variant.ActivateProxyListeners))
	return nil
}

func (r *Resolver) variantPeers(ctx context.Context, res *Resolution) error {
	if res.Variant == nil || len(res.Variant.IncludedProxyProtocols) == 0 {
		return nil
	}

	payload, err := r.peers.EncodeFilter(ctx, peerinfo.IncludeFilter(res.Variant.IncludedProxyProtocols))
	if err != nil {
		return err
	}
	res.Peers = payload
	return nil
}

func (r *Resolver) requestOverrides(ctx context.Context, res *Resolution) error {
	req := res.Request
	if req.Server != nil {
		res.Overrides.Set(VarServer, *req.Server)
	}
	if req.Group != nil {
		res.Overrides.Set(VarGroup, *req.Group)
	}
	if req.ListenP2P != nil {
		res.Overrides.Set(VarListenP2P, *req.ListenP2P)
	}
	if req.C2 != nil {
		r.setProtocol(ctx, res.Overrides, *req.C2)
	}
	return nil
}

func (r *Resolver) requestPeers(ctx context.Context, res *Resolution) error {
	if res.Request.PeerFilter == nil {
		return nil
	}

	r.logger.DebugContext(ctx, "available peer-to-peer proxy receivers requested")
	payload, err := r.peers.Encode(ctx, *res.Request.PeerFilter)
	if err != nil {
		return err
	}
	res.Peers = payload
	return nil
}

func (r *Resolver) peerPayload(ctx context.Context, res *Resolution) error {
	if res.Peers == nil || res.Peers.Cipher == "" || res.Peers.Key == "" {
		return nil
	}
	res.Overrides.Set(VarEncodedReceivers, res.Peers.Cipher)
	res.Overrides.Set(VarReceiverKey, res.Peers.Key)
	return nil
}

// setProtocol selects protocol and, when the registry knows it, writes its
// configuration value. An unknown protocol leaves any earlier value alone.
func (r *Resolver) setProtocol(ctx context.Context, o OverrideSet, protocol string) {
	o.Set(VarC2Name, protocol)
	if value, ok := r.contacts.ConfigFor(ctx, protocol); ok {
		o.Set("main."+contact.KeyVariable, value)
	}
}

// ExtensionUnion returns the sorted, deduplicated union of the variant's
// extensions and the request's extensions.
func ExtensionUnion(cfg *variant.VariantConfig, req *Request) []string {
	set := make(map[string]struct{})
	if cfg != nil {
		for _, n := range cfg.Extensions {
			if n != "" {
				set[n] = struct{}{}
			}
		}
	}
	for _, n := range req.ExtensionNames() {
		set[n] = struct{}{}
	}

	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	slices.Sort(names)

	return names
}

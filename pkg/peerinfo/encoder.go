// Package peerinfo gathers the proxy receiver addresses of trusted agents and
// encodes them for embedding into an agent build.
//
// The encoding is a repeating-key XOR followed by base64. It is a reversible
// compatibility transform for casual string obfuscation and provides no
// confidentiality.
package peerinfo

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/sandbuild/sandbuild/pkg/keygen"
)

// Directory maps a proxy protocol to the receiver addresses available for it.
type Directory map[string][]string

// Payload is an encoded Directory plus the key needed to decode it.
type Payload struct {
	Cipher string
	Key    string
}

type Encoder struct {
	source    PeerSource
	generator keygen.Generator
	logger    *slog.Logger
}

type EncoderOptions struct {
	// Generator overrides the key generator, mostly for tests
	Generator keygen.Generator
	Logger    *slog.Logger
}

func NewEncoder(source PeerSource, opts EncoderOptions) *Encoder {
	e := &Encoder{
		source:    source,
		generator: opts.Generator,
		logger:    opts.Logger,
	}
	if e.generator == nil {
		e.generator = keygen.Generate
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}

	return e
}

// Collect returns the deduplicated receiver addresses of all trusted peers
// whose protocols pass the filter.
func (e *Encoder) Collect(ctx context.Context, filter Filter) (Directory, error) {
	peers, err := e.source.TrustedPeers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list trusted peers: %w", err)
	}

	sets := make(map[string]map[string]struct{})
	for _, p := range peers {
		if !p.Trusted {
			continue
		}
		for protocol, addresses := range p.ProxyReceivers {
			if !filter.Allows(protocol) {
				continue
			}
			set, ok := sets[protocol]
			if !ok {
				set = make(map[string]struct{})
				sets[protocol] = set
			}
			for _, addr := range addresses {
				set[addr] = struct{}{}
			}
		}
	}

	dir := make(Directory, len(sets))
	for protocol, set := range sets {
		dir[protocol] = slices.Sorted(maps.Keys(set))
	}

	e.logger.DebugContext(ctx, "found peer-to-peer proxy receivers",
		"protocols", strings.Join(slices.Sorted(maps.Keys(dir)), ", "))

	return dir, nil
}

// Encode collects the directory selected by the filter string and encodes
// it with a freshly generated key.
func (e *Encoder) Encode(ctx context.Context, filter string) (*Payload, error) {
	return e.EncodeFilter(ctx, ParseFilter(filter))
}

// EncodeFilter is Encode with an already parsed filter.
func (e *Encoder) EncodeFilter(ctx context.Context, filter Filter) (*Payload, error) {
	dir, err := e.Collect(ctx, filter)
	if err != nil {
		return nil, err
	}

	key := e.generator(keygen.DefaultLength)
	cipher, err := EncodeWithKey(dir, key)
	if err != nil {
		return nil, err
	}

	return &Payload{Cipher: cipher, Key: key}, nil
}

// Marshal returns the canonical serialization of dir. An empty or nil
// directory serializes to "{}".
func Marshal(dir Directory) ([]byte, error) {
	if dir == nil {
		dir = Directory{}
	}

	data, err := json.Marshal(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal peer directory: %w", err)
	}

	return data, nil
}

// EncodeWithKey serializes dir and returns base64(XOR(serialized, key)).
func EncodeWithKey(dir Directory, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("encoding key cannot be empty")
	}

	data, err := Marshal(dir)
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(XOR(data, []byte(key))), nil
}

// Decode reverses EncodeWithKey.
func Decode(cipher, key string) (Directory, error) {
	if key == "" {
		return nil, fmt.Errorf("decoding key cannot be empty")
	}

	raw, err := base64.StdEncoding.DecodeString(cipher)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 payload: %w", err)
	}

	dir := Directory{}
	if err := json.Unmarshal(XOR(raw, []byte(key)), &dir); err != nil {
		return nil, fmt.Errorf("failed to parse decoded peer directory: %w", err)
	}

	return dir, nil
}

// XOR returns data with every byte i XORed against key[i % len(key)].
func XOR(data, key []byte) []byte {
	out := make([]byte, len(data))
	if len(key) == 0 {
		copy(out, data)
		return out
	}

	for i := range data {
		out[i] = data[i] ^ key[i%len(key)]
	}

	return out
}

package peerinfo

import (
	"context"
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// Peer is an agent known to the server along with its proxy receivers.
type Peer struct {
	Paw            string              `json:"paw"`
	Trusted        bool                `json:"trusted"`
	ProxyReceivers map[string][]string `json:"proxy_receivers,omitempty"`
}

// PeerSource lists agents that may serve as proxy peers. Implementations
// should return only trusted agents; the encoder skips untrusted ones anyway.
type PeerSource interface {
	TrustedPeers(ctx context.Context) ([]Peer, error)
}

// StaticSource is an in-memory PeerSource.
type StaticSource []Peer

var _ PeerSource = StaticSource{}

func (s StaticSource) TrustedPeers(ctx context.Context) ([]Peer, error) {
	trusted := make([]Peer, 0, len(s))
	for _, p := range s {
		if p.Trusted {
			trusted = append(trusted, p)
		}
	}
	return trusted, nil
}

// FileSource reads the peer list from a YAML or JSON file on every call, so
// edits are picked up without a restart.
type FileSource struct {
	Path string
}

var _ PeerSource = &FileSource{}

type peerFile struct {
	Agents []Peer `json:"agents"`
}

func (s *FileSource) TrustedPeers(ctx context.Context) ([]Peer, error) {
	if s.Path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read peer file '%s': %w", s.Path, err)
	}

	f := &peerFile{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to parse peer file '%s': %w", s.Path, err)
	}

	return StaticSource(f.Agents).TrustedPeers(ctx)
}

// Package contact exposes the per-protocol configuration values that are
// compiled into an agent alongside its selected C2 protocol.
package contact

import "context"

// KeyVariable is the unqualified variable that receives a protocol's
// configuration value, whatever the protocol.
const KeyVariable = "c2Key"

type Registry interface {
	// ConfigFor returns the configuration value for protocol, if the
	// protocol is known.
	ConfigFor(ctx context.Context, protocol string) (string, bool)
}

// StaticRegistry maps protocol names to configuration values.
type StaticRegistry map[string]string

var _ Registry = StaticRegistry{}

func (r StaticRegistry) ConfigFor(ctx context.Context, protocol string) (string, bool) {
	v, ok := r[protocol]
	return v, ok
}

package peerinfo

import "strings"

const (
	// FilterAll selects every proxy protocol.
	FilterAll = "all"

	excludeMarker = "!"
)

// Filter selects which proxy protocols are embedded into a build.
type Filter struct {
	Protocols map[string]struct{}
	Exclude   bool
}

// ParseFilter parses a filter string of one of the forms:
//   - "" or "all": include every protocol
//   - "http,dns": include only these protocols
//   - "!http,dns": include everything except these protocols
func ParseFilter(raw string) Filter {
	f := Filter{}
	if raw == "" || strings.EqualFold(raw, FilterAll) {
		return f
	}

	if rest, ok := strings.CutPrefix(raw, excludeMarker); ok {
		raw = rest
		f.Exclude = true
	}

	f.Protocols = make(map[string]struct{})
	for _, p := range strings.Split(raw, ",") {
		f.Protocols[p] = struct{}{}
	}

	return f
}

// IncludeFilter returns a filter selecting only the given protocols. An
// empty list selects every protocol, like an empty filter string.
func IncludeFilter(protocols []string) Filter {
	f := Filter{}
	for _, p := range protocols {
		if f.Protocols == nil {
			f.Protocols = make(map[string]struct{}, len(protocols))
		}
		f.Protocols[p] = struct{}{}
	}
	return f
}

// Allows reports whether addresses for protocol pass the filter.
func (f Filter) Allows(protocol string) bool {
	if len(f.Protocols) == 0 {
		return true
	}

	_, listed := f.Protocols[protocol]
	if f.Exclude {
		return !listed
	}

	return listed
}

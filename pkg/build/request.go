package build

import (
	"net/http"
	"strings"
)

// Header names a build request is read from.
const (
	HeaderFile       = "file"
	HeaderPlatform   = "platform"
	HeaderVariant    = "gocat-variant"
	HeaderExtensions = "gocat-extensions"
	HeaderPeers      = "includeProxyPeers"
	HeaderServer     = "server"
	HeaderGroup      = "group"
	HeaderListenP2P  = "listenP2P"
	HeaderC2         = "c2"
)

// Request holds the named parameters of one build. Every field but File and
// Platform is optional; nil pointers mean "not supplied".
type Request struct {
	File     string
	Platform string

	// Variant names the variant configuration, defaults to variant.DefaultName
	Variant string
	// Extensions is a comma-separated list of extension names
	Extensions string
	// PeerFilter is an "all", "a,b" or "!a,b" proxy protocol filter
	PeerFilter *string

	Server    *string
	Group     *string
	ListenP2P *string
	C2        *string

	// LDFlagSuffix is appended verbatim to the linker flags
	LDFlagSuffix string
}

// RequestFromHeaders builds a Request from HTTP headers. A header that is
// present with an empty value still counts as supplied.
func RequestFromHeaders(h http.Header) *Request {
	return &Request{
		File:       h.Get(HeaderFile),
		Platform:   h.Get(HeaderPlatform),
		Variant:    h.Get(HeaderVariant),
		Extensions: h.Get(HeaderExtensions),
		PeerFilter: optionalHeader(h, HeaderPeers),
		Server:     optionalHeader(h, HeaderServer),
		Group:      optionalHeader(h, HeaderGroup),
		ListenP2P:  optionalHeader(h, HeaderListenP2P),
		C2:         optionalHeader(h, HeaderC2),
	}
}

// ExtensionNames returns the non-empty names in Extensions.
func (r *Request) ExtensionNames() []string {
	var names []string
	for _, n := range strings.Split(r.Extensions, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

func optionalHeader(h http.Header, key string) *string {
	values := h.Values(key)
	if len(values) == 0 {
		return nil
	}
	v := values[0]
	return &v
}

package build

import (
	"fmt"
	"maps"
	"slices"
)

// Linker variables the resolver writes.
const (
	VarKey              = "main.key"
	VarServer           = "main.server"
	VarGroup            = "main.group"
	VarListenP2P        = "main.listenP2P"
	VarC2Name           = "main.c2Name"
	VarEncodedReceivers = "github.com/mitre/gocat/proxy.encodedReceivers"
	VarReceiverKey      = "github.com/mitre/gocat/proxy.receiverKey"
)

// OverrideSet maps fully-qualified linker variables to their values. Later
// writes to a variable replace earlier ones.
type OverrideSet map[string]string

func (o OverrideSet) Set(variable, value string) {
	o[variable] = value
}

func (o OverrideSet) Get(variable string) (string, bool) {
	v, ok := o[variable]
	return v, ok
}

// Keys returns the variables in sorted order.
func (o OverrideSet) Keys() []string {
	return slices.Sorted(maps.Keys(o))
}

// Flags renders the set as "-X variable=value" linker flags in key order.
// Assignments containing spaces or quotes are quoted the way go splits
// -ldflags, so a value always stays a single argument.
func (o OverrideSet) Flags() ([]string, error) {
	flags := make([]string, 0, len(o))
	for _, k := range o.Keys() {
		arg, err := quoteArg(k + "=" + o[k])
		if err != nil {
			return nil, fmt.Errorf("cannot set %s: %w", k, err)
		}
		flags = append(flags, "-X "+arg)
	}
	return flags, nil
}

// quoteArg quotes arg for go's -ldflags splitting, which knows single and
// double quotes but no escapes.
func quoteArg(arg string) (string, error) {
	var space, single, double bool
	for _, c := range arg {
		switch c {
		case ' ', '\t', '\n', '\r':
			space = true
		case '\'':
			single = true
		case '"':
			double = true
		}
	}

	switch {
	case !space && !single && !double:
		return arg, nil
	case !single:
		return "'" + arg + "'", nil
	case !double:
		return `"` + arg + `"`, nil
	default:
		return "", fmt.Errorf("value contains both single and double quotes")
	}
}

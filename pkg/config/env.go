package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

const maxExpandPasses = 10

var (
	// ${VAR:-default}, matched before the required form
	envWithDefaultPattern = regexp.MustCompile(`\$\{([^:}]+):-([^}]*)\}`)
	// ${VAR}
	envRequiredPattern = regexp.MustCompile(`\$\{([^}]+)\}`)
)

// ExpandEnv replaces ${VAR} and ${VAR:-default} references in value. A
// variable that is set but empty counts as unset. Referencing an unset ${VAR}
// without a default is an error. Values produced by an expansion are expanded
// again, so defaults may refer to other variables.
func ExpandEnv(value string) (string, error) {
	return expand(value, os.LookupEnv)
}

func expand(value string, lookup func(string) (string, bool)) (string, error) {
	result := value

	for range maxExpandPasses {
		prev := result

		result = envWithDefaultPattern.ReplaceAllStringFunc(result, func(match string) string {
			sub := envWithDefaultPattern.FindStringSubmatch(match)
			if v, ok := lookup(sub[1]); ok && v != "" {
				return v
			}
			return sub[2]
		})

		var missing []string
		result = envRequiredPattern.ReplaceAllStringFunc(result, func(match string) string {
			sub := envRequiredPattern.FindStringSubmatch(match)
			if strings.Contains(sub[1], ":-") {
				return match
			}
			v, ok := lookup(sub[1])
			if !ok || v == "" {
				missing = append(missing, match)
				return match
			}
			return v
		})

		if len(missing) > 0 {
			return "", fmt.Errorf("required environment variable(s) not set: %v", missing)
		}

		if result == prev {
			break
		}
	}

	return result, nil
}

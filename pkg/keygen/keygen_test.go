package keygen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerate(t *testing.T) {
	tt := map[string]struct {
		length      int
		expectedLen int
	}{
		"default length": {
			length:      DefaultLength,
			expectedLen: 30,
		},
		"short key": {
			length:      4,
			expectedLen: 4,
		},
		"zero length": {
			length:      0,
			expectedLen: 0,
		},
		"negative length": {
			length:      -3,
			expectedLen: 0,
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			key := Generate(tc.length)
			assert.Len(t, key, tc.expectedLen)
			for _, r := range key {
				assert.True(t, strings.ContainsRune(alphabet, r), "unexpected character %q", r)
			}
		})
	}
}

func TestGenerate_IndependentKeys(t *testing.T) {
	seen := make(map[string]struct{})
	for range 100 {
		key := Generate(DefaultLength)
		_, dup := seen[key]
		assert.False(t, dup, "key %s generated twice", key)
		seen[key] = struct{}{}
	}
}

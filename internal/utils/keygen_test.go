// internal/utils/keygen_test.go
package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateLicenseKey(t *testing.T) {
	key, err := GenerateLicenseKey("kh")
	require.NoError(t, err)

	parts := strings.Split(key, "-")
	require.Len(t, parts, 5)
	assert.Equal(t, "KH", parts[0])
	for _, group := range parts[1:] {
		assert.Len(t, group, 4)
		// Ambiguous characters are excluded from the charset
		assert.NotContains(t, group, "0")
		assert.NotContains(t, group, "O")
		assert.NotContains(t, group, "1")
		assert.NotContains(t, group, "I")
	}
}

func TestGenerateLicenseKeyWithoutPrefix(t *testing.T) {
	key, err := GenerateLicenseKey("")
	require.NoError(t, err)
	assert.Len(t, strings.Split(key, "-"), 4)
}

func TestGenerateLicenseKeyUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key, err := GenerateLicenseKey("KH")
		require.NoError(t, err)
		assert.False(t, seen[key])
		seen[key] = true
	}
}

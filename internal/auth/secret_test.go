package auth

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSecret_Entropy(t *testing.T) {
	first, err := NewSecret()
	require.NoError(t, err)
	second, err := NewSecret()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)

	raw, err := base64.RawURLEncoding.DecodeString(first)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}

func TestHashSecret_Deterministic(t *testing.T) {
	digest := HashSecret("some-opaque-secret")

	assert.Equal(t, digest, HashSecret("some-opaque-secret"))
	assert.NotEqual(t, digest, HashSecret("some-other-secret"))

	raw, err := hex.DecodeString(digest)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}

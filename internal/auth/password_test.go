package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBcryptHasher(t *testing.T) {
	hasher := NewBcryptHasher()

	hash, err := hasher.Hash("Str0ngPass!")
	require.NoError(t, err)
	assert.NotEqual(t, "Str0ngPass!", hash)

	assert.NoError(t, hasher.Compare(hash, "Str0ngPass!"))
	assert.Error(t, hasher.Compare(hash, "wrong-password"))
}

func TestGenerateSecureToken(t *testing.T) {
	a, err := GenerateSecureToken(32)
	require.NoError(t, err)
	b, err := GenerateSecureToken(32)
	require.NoError(t, err)

	assert.Len(t, a, 64) // hex-encoded
	assert.NotEqual(t, a, b)
}

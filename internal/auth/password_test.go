package auth

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasher_HashAndVerify(t *testing.T) {
	hasher := NewPasswordHasher(bcrypt.MinCost, 2)
	ctx := context.Background()

	hash, err := hasher.Hash(ctx, "CorrectHorse1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2"))
	assert.NotContains(t, hash, "CorrectHorse1")

	ok, err := hasher.Verify(ctx, "CorrectHorse1", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = hasher.Verify(ctx, "WrongHorse1", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPasswordHasher_Verify_MalformedHash(t *testing.T) {
	hasher := NewPasswordHasher(bcrypt.MinCost, 1)

	ok, err := hasher.Verify(context.Background(), "anything", "not-a-bcrypt-hash")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPasswordHasher_Hash_CanceledContext(t *testing.T) {
	hasher := NewPasswordHasher(bcrypt.MinCost, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Fill the only slot so acquisition blocks, then the canceled context
	// must win the select.
	hasher.slots <- struct{}{}
	defer func() { <-hasher.slots }()

	_, err := hasher.Hash(ctx, "CorrectHorse1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewPasswordHasher_OutOfRangeCost(t *testing.T) {
	hasher := NewPasswordHasher(99, 1)
	assert.Equal(t, bcrypt.DefaultCost, hasher.cost)

	hasher = NewPasswordHasher(1, 0)
	assert.Equal(t, bcrypt.DefaultCost, hasher.cost)
	assert.Equal(t, 1, cap(hasher.slots))
}

package domain

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Vovarama1992/fonodesk/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestAuthLoginAndValidate(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemoryStore()
	hash, err := HashPassword("fono123")
	require.NoError(t, err)
	store.Hash = hash

	auth, err := NewAuthService(store, testSecret, time.Hour)
	require.NoError(t, err)

	_, err = auth.Login(ctx, "wrong")
	assert.ErrorIs(t, err, ErrInvalidPassword)

	token, err := auth.Login(ctx, "fono123")
	require.NoError(t, err)

	ok, err := auth.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = auth.ValidateToken(ctx, token+"x")
	assert.False(t, ok)
	ok, _ = auth.ValidateToken(ctx, "")
	assert.False(t, ok)

	other, err := NewAuthService(store, strings.Repeat("z", 32), time.Hour)
	require.NoError(t, err)
	ok, _ = other.ValidateToken(ctx, token)
	assert.False(t, ok)
}

func TestAuthExpiredToken(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemoryStore()
	store.Hash, _ = HashPassword("pw")

	auth, err := NewAuthService(store, testSecret, time.Nanosecond)
	require.NoError(t, err)
	token, err := auth.Login(ctx, "pw")
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)
	ok, _ := auth.ValidateToken(ctx, token)
	assert.False(t, ok)
}

func TestAuthRequiresLongSecret(t *testing.T) {
	_, err := NewAuthService(testutil.NewMemoryStore(), "short", 0)
	assert.ErrorIs(t, err, ErrSecretTooShort)
}

func TestAuthNoOperatorConfigured(t *testing.T) {
	auth, err := NewAuthService(testutil.NewMemoryStore(), testSecret, 0)
	require.NoError(t, err)
	_, err = auth.Login(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

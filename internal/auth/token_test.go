package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestActionTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")

	signed, err := SignActionToken(secret, "3f2c1a", "approve", time.Hour)
	require.NoError(t, err)

	claims, err := ParseActionToken(secret, signed)
	require.NoError(t, err)
	require.Equal(t, "3f2c1a", claims.FixID)
	require.Equal(t, "approve", claims.Action)
}

func TestExpiredTokenRejected(t *testing.T) {
	secret := []byte("test-secret")

	signed, err := SignActionToken(secret, "3f2c1a", "approve", -time.Minute)
	require.NoError(t, err)

	_, err = ParseActionToken(secret, signed)
	require.Error(t, err)
}

func TestWrongSecretRejected(t *testing.T) {
	signed, err := SignActionToken([]byte("secret-a"), "3f2c1a", "reject", time.Hour)
	require.NoError(t, err)

	_, err = ParseActionToken([]byte("secret-b"), signed)
	require.Error(t, err)
}

package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminTokenRoundTrip(t *testing.T) {
	tok, err := NewAdminToken("s3cret", "ops@camp", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Exp, 5*time.Second)

	claims, err := ParseAdminToken("s3cret", tok.Token)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, claims.Role)
	assert.Equal(t, "ops@camp", claims.Subject)
}

func TestParseAdminToken_Rejects(t *testing.T) {
	tok, err := NewAdminToken("s3cret", "ops", time.Hour)
	require.NoError(t, err)

	_, err = ParseAdminToken("other", tok.Token)
	assert.Error(t, err)

	expired, err := NewAdminToken("s3cret", "ops", -time.Minute)
	require.NoError(t, err)
	_, err = ParseAdminToken("s3cret", expired.Token)
	assert.Error(t, err)

	_, err = NewAdminToken(" ", "ops", time.Hour)
	assert.Error(t, err)
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("correct horse", 4)
	require.NoError(t, err)
	assert.True(t, VerifyPassword(hash, "correct horse"))
	assert.False(t, VerifyPassword(hash, "wrong"))
	assert.False(t, VerifyPassword("not-a-hash", "correct horse"))
}

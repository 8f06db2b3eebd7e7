package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carstyle/backend/internal/auth"
)

func TestService_IssueAndParse(t *testing.T) {
	svc := auth.NewService("test-secret", time.Hour)

	token, err := svc.IssueToken(5, "client@example.com", auth.RoleClient)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(5), claims.UserID)
	assert.Equal(t, "client@example.com", claims.Email)
	assert.Equal(t, auth.RoleClient, claims.Role)
}

func TestService_ParseToken(t *testing.T) {
	svc := auth.NewService("test-secret", time.Hour)

	t.Run("garbage token", func(t *testing.T) {
		_, err := svc.ParseToken("not-a-token")
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := auth.NewService("other-secret", time.Hour)
		token, err := other.IssueToken(5, "client@example.com", auth.RoleClient)
		require.NoError(t, err)

		_, err = svc.ParseToken(token)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("expired token", func(t *testing.T) {
		short := auth.NewService("test-secret", time.Nanosecond)
		token, err := short.IssueToken(5, "client@example.com", auth.RoleClient)
		require.NoError(t, err)

		time.Sleep(10 * time.Millisecond)
		_, err = short.ParseToken(token)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})
}

func TestClaims_IsStaff(t *testing.T) {
	assert.False(t, (&auth.Claims{Role: auth.RoleClient}).IsStaff())
	assert.True(t, (&auth.Claims{Role: auth.RoleEmployee}).IsStaff())
	assert.True(t, (&auth.Claims{Role: auth.RoleAdmin}).IsStaff())
}

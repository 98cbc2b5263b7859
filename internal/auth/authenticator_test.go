package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestAuthenticator() *Authenticator {
	return New("pepper", bcrypt.MinCost)
}

func TestCookieRoundTrip(t *testing.T) {
	t.Parallel()

	a := newTestAuthenticator()
	cookie, err := a.GenerateToken(7)
	require.NoError(t, err)
	require.NotEmpty(t, cookie)

	assert.True(t, a.ValidateCookie(7, cookie))
	assert.False(t, a.ValidateCookie(8, cookie), "cookie is bound to its account")
	tampered := []byte(cookie)
	tampered[len(tampered)-1] ^= 0x01
	assert.False(t, a.ValidateCookie(7, string(tampered)))
	assert.False(t, a.ValidateCookie(7, ""))

	a.InvalidateToken(7)
	assert.False(t, a.ValidateCookie(7, cookie))
}

func TestSecondTokenInvalidatesFirst(t *testing.T) {
	t.Parallel()

	a := newTestAuthenticator()
	first, err := a.GenerateToken(3)
	require.NoError(t, err)
	second, err := a.GenerateToken(3)
	require.NoError(t, err)

	assert.False(t, a.ValidateCookie(3, first))
	assert.True(t, a.ValidateCookie(3, second))
}

func TestCookieIsOnlyHalfTheHash(t *testing.T) {
	t.Parallel()

	a := newTestAuthenticator()
	cookie, err := a.GenerateToken(11)
	require.NoError(t, err)

	serverHalf := a.halves[11]
	assert.Len(t, cookie+serverHalf, 60)
	assert.True(t, strings.HasPrefix(cookie, "$2a$"))
	assert.NotContains(t, cookie, serverHalf)
}

func TestRefreshToken(t *testing.T) {
	t.Parallel()

	a := newTestAuthenticator()
	first, err := a.RefreshToken(5)
	require.NoError(t, err, "refresh issues a token for an account without one")
	assert.True(t, a.ValidateCookie(5, first))

	fresh, err := a.RefreshToken(5)
	require.NoError(t, err)

	assert.False(t, a.ValidateCookie(5, first))
	assert.True(t, a.ValidateCookie(5, fresh))
}

func TestPasswordHash(t *testing.T) {
	t.Parallel()

	a := newTestAuthenticator()
	hash, err := a.HashPassword("hunter22")
	require.NoError(t, err)

	assert.True(t, a.CheckPassword(hash, "hunter22"))
	assert.False(t, a.CheckPassword(hash, "hunter23"))
	assert.False(t, New("other", bcrypt.MinCost).CheckPassword(hash, "hunter22"), "pepper is part of the hash")

	_, err = a.HashPassword(strings.Repeat("x", MaxPasswordLength+1))
	assert.Error(t, err)
}

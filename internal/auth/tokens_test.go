package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIssuer(production bool) *TokenIssuer {
	return NewTokenIssuer("test-secret", 15*time.Minute, 7*24*time.Hour, production)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	issuer := newTestIssuer(false)

	token, err := issuer.IssueAccess("user-1", "alice@example.com")
	require.NoError(t, err)

	claims, err := issuer.ParseAccess(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.NotEmpty(t, claims.ID)
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	issuer := newTestIssuer(false)

	token, err := issuer.IssueRefresh("user-1")
	require.NoError(t, err)

	claims, err := issuer.ParseRefresh(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Empty(t, claims.Email)
}

func TestTokenTypeIsEnforced(t *testing.T) {
	issuer := newTestIssuer(false)

	access, err := issuer.IssueAccess("user-1", "alice@example.com")
	require.NoError(t, err)
	refresh, err := issuer.IssueRefresh("user-1")
	require.NoError(t, err)

	_, err = issuer.ParseRefresh(access)
	assert.Error(t, err)
	_, err = issuer.ParseAccess(refresh)
	assert.Error(t, err)
}

func TestExpiredTokenIsRejected(t *testing.T) {
	issuer := newTestIssuer(false)
	issuer.now = func() time.Time { return time.Now().Add(-time.Hour) }

	token, err := issuer.IssueAccess("user-1", "alice@example.com")
	require.NoError(t, err)

	issuer.now = time.Now
	_, err = issuer.ParseAccess(token)
	assert.Error(t, err)
}

func TestWrongSecretIsRejected(t *testing.T) {
	issuer := newTestIssuer(false)
	other := NewTokenIssuer("other-secret", 15*time.Minute, 7*24*time.Hour, false)

	token, err := issuer.IssueAccess("user-1", "alice@example.com")
	require.NoError(t, err)

	_, err = other.ParseAccess(token)
	assert.Error(t, err)
}

func TestJtiIsUniquePerToken(t *testing.T) {
	issuer := newTestIssuer(false)

	first, err := issuer.IssueAccess("user-1", "alice@example.com")
	require.NoError(t, err)
	second, err := issuer.IssueAccess("user-1", "alice@example.com")
	require.NoError(t, err)

	firstClaims, err := issuer.ParseAccess(first)
	require.NoError(t, err)
	secondClaims, err := issuer.ParseAccess(second)
	require.NoError(t, err)

	assert.NotEqual(t, firstClaims.ID, secondClaims.ID)
}

func TestRefreshCookieAttributes(t *testing.T) {
	t.Run("development", func(t *testing.T) {
		issuer := newTestIssuer(false)
		rec := httptest.NewRecorder()
		issuer.SetRefreshCookie(rec, "tok")

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		cookie := cookies[0]
		assert.Equal(t, "refresh_token", cookie.Name)
		assert.Equal(t, "/api/auth", cookie.Path)
		assert.True(t, cookie.HttpOnly)
		assert.False(t, cookie.Secure)
		assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
		assert.Equal(t, int((7 * 24 * time.Hour).Seconds()), cookie.MaxAge)
	})

	t.Run("production", func(t *testing.T) {
		issuer := newTestIssuer(true)
		rec := httptest.NewRecorder()
		issuer.SetRefreshCookie(rec, "tok")

		cookie := rec.Result().Cookies()[0]
		assert.True(t, cookie.Secure)
		assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	})
}

func TestClearRefreshCookie(t *testing.T) {
	issuer := newTestIssuer(false)
	rec := httptest.NewRecorder()
	issuer.ClearRefreshCookie(rec)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "refresh_token", cookies[0].Name)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestRefreshCookieFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	assert.Empty(t, RefreshCookie(r))

	r.AddCookie(&http.Cookie{Name: "refresh_token", Value: "tok"})
	assert.Equal(t, "tok", RefreshCookie(r))
}

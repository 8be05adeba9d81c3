package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerFixture struct {
	*fixture
	handler *Handler
	mux     *http.ServeMux
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	f := &handlerFixture{fixture: newFixture(t)}
	f.handler = NewHandler(f.service, "https://app.chicknneeds.shop")
	f.mux = http.NewServeMux()
	f.handler.Register(f.mux)
	return f
}

func (f *handlerFixture) post(t *testing.T, path string, body any, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	r.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(r)
	}

	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, r)
	return rec
}

func (f *handlerFixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()

	r := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, r)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func refreshCookieFrom(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == "refresh_token" {
			return cookie
		}
	}
	return nil
}

// loginFully walks both phases through the HTTP surface and returns the
// final 200 response.
func (f *handlerFixture) loginFully(t *testing.T) *httptest.ResponseRecorder {
	t.Helper()

	rec := f.post(t, "/api/auth/login", map[string]string{
		"login":    "alice@example.com",
		"password": "Sunflower7",
	})
	require.Equal(t, http.StatusPartialContent, rec.Code)

	rec = f.post(t, "/api/auth/login", map[string]string{
		"login":    "alice@example.com",
		"password": "Sunflower7",
		"code":     f.mailer.lastLoginCode(),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	return rec
}

func TestHandleRegister(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.post(t, "/api/auth/register", validRegisterInput())
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "Registration successful. Please verify your email before logging in.", body["message"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "alice@example.com", user["email"])
	assert.Equal(t, false, user["emailVerified"])
}

func TestHandleRegisterValidationErrors(t *testing.T) {
	f := newHandlerFixture(t)

	input := validRegisterInput()
	input.Username = "x"
	rec := f.post(t, "/api/auth/register", input)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Validation failed", body["message"])

	errs := body["errors"].([]any)
	require.Len(t, errs, 1)
	first := errs[0].(map[string]any)
	assert.Equal(t, "username", first["field"])
}

func TestHandleRegisterConflict(t *testing.T) {
	f := newHandlerFixture(t)

	require.Equal(t, http.StatusOK, f.post(t, "/api/auth/register", validRegisterInput()).Code)

	rec := f.post(t, "/api/auth/register", validRegisterInput())
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Email already registered", decodeBody(t, rec)["message"])
}

func TestHandleRegisterRejectsBadJSON(t *testing.T) {
	f := newHandlerFixture(t)

	r := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid JSON body", decodeBody(t, rec)["message"])
}

func TestHandleLoginTwoPhases(t *testing.T) {
	f := newHandlerFixture(t)
	f.registerVerifiedUser(t)

	rec := f.post(t, "/api/auth/login", map[string]string{
		"login":    "alice@example.com",
		"password": "Sunflower7",
	})
	require.Equal(t, http.StatusPartialContent, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["requiresCode"])
	assert.Equal(t, float64(300), body["resendIn"])
	assert.Nil(t, refreshCookieFrom(rec))

	rec = f.post(t, "/api/auth/login", map[string]string{
		"login":    "alice@example.com",
		"password": "Sunflower7",
		"code":     f.mailer.lastLoginCode(),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body = decodeBody(t, rec)
	assert.NotEmpty(t, body["token"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "alice_smith", user["username"])

	cookie := refreshCookieFrom(rec)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, "/api/auth", cookie.Path)
}

func TestHandleLoginMissingFields(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.post(t, "/api/auth/login", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "Validation failed", body["message"])
	assert.Len(t, body["errors"].([]any), 2)
}

func TestHandleLoginInvalidCredentials(t *testing.T) {
	f := newHandlerFixture(t)
	f.registerVerifiedUser(t)

	rec := f.post(t, "/api/auth/login", map[string]string{
		"login":    "alice@example.com",
		"password": "WrongPass1",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "Invalid credentials", body["message"])
	assert.Equal(t, float64(4), body["remainingAttempts"])
}

func TestHandleLoginUnverified(t *testing.T) {
	f := newHandlerFixture(t)
	require.Equal(t, http.StatusOK, f.post(t, "/api/auth/register", validRegisterInput()).Code)

	rec := f.post(t, "/api/auth/login", map[string]string{
		"login":    "alice@example.com",
		"password": "Sunflower7",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "You must verify your email first before you can access your account.", decodeBody(t, rec)["message"])
}

func TestHandleLoginLocked(t *testing.T) {
	f := newHandlerFixture(t)
	f.registerVerifiedUser(t)

	for i := 0; i < 5; i++ {
		f.post(t, "/api/auth/login", map[string]string{
			"login":    "alice@example.com",
			"password": "WrongPass1",
		})
	}

	rec := f.post(t, "/api/auth/login", map[string]string{
		"login":    "alice@example.com",
		"password": "Sunflower7",
	})
	// The per-IP limiter answers first once the budget is spent.
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHandleRefresh(t *testing.T) {
	f := newHandlerFixture(t)
	f.registerVerifiedUser(t)

	login := f.loginFully(t)
	cookie := refreshCookieFrom(login)
	require.NotNil(t, cookie)

	r := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	r.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["token"])

	rotated := refreshCookieFrom(rec)
	require.NotNil(t, rotated)
	assert.NotEqual(t, cookie.Value, rotated.Value)

	// The consumed cookie replays as revoked.
	r = httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	r.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	rec = httptest.NewRecorder()
	f.mux.ServeHTTP(rec, r)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Refresh token revoked", decodeBody(t, rec)["message"])
}

func TestHandleRefreshWithoutCookie(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.post(t, "/api/auth/refresh", map[string]string{})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Missing refresh token", decodeBody(t, rec)["message"])
}

func TestHandleRefreshWithGarbageCookie(t *testing.T) {
	f := newHandlerFixture(t)

	r := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	r.AddCookie(&http.Cookie{Name: "refresh_token", Value: "garbage"})
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, r)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid or expired refresh token", decodeBody(t, rec)["message"])
}

func TestHandleLogout(t *testing.T) {
	f := newHandlerFixture(t)
	f.registerVerifiedUser(t)

	login := f.loginFully(t)
	accessToken := decodeBody(t, login)["token"].(string)
	cookie := refreshCookieFrom(login)

	r := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	r.Header.Set("Authorization", "Bearer "+accessToken)
	r.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["ok"])

	cleared := refreshCookieFrom(rec)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)

	// The access token is dead from here on.
	protected := Middleware(f.service.issuer, f.service.AccessDenylist(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	r = httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	r.Header.Set("Authorization", "Bearer "+accessToken)
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleLogoutWithoutSession(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.post(t, "/api/auth/logout", map[string]string{})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["ok"])
}

func TestHandleVerifyRedirects(t *testing.T) {
	f := newHandlerFixture(t)
	require.Equal(t, http.StatusOK, f.post(t, "/api/auth/register", validRegisterInput()).Code)
	token := f.mailer.lastVerifyToken()

	rec := f.get(t, "/api/auth/verify?token="+url.QueryEscape(token))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://app.chicknneeds.shop/verify?status=Email+verified", rec.Header().Get("Location"))

	rec = f.get(t, "/api/auth/verify?token=bogus")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://app.chicknneeds.shop/verify?status=Invalid+token", rec.Header().Get("Location"))
}

func TestHandleForgotPassword(t *testing.T) {
	f := newHandlerFixture(t)
	f.registerVerifiedUser(t)

	rec := f.post(t, "/api/auth/forgot-password", map[string]string{"email": "not-an-email"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.post(t, "/api/auth/forgot-password", map[string]string{"email": "alice@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "If an account with that email exists, a password reset link has been sent.", decodeBody(t, rec)["message"])

	// Unknown addresses get the same answer.
	rec = f.post(t, "/api/auth/forgot-password", map[string]string{"email": "ghost@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.post(t, "/api/auth/forgot-password", map[string]string{"email": "alice@example.com"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHandleResetPasswordRequiresCsrf(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.post(t, "/api/auth/reset-password", map[string]string{
		"token":           "whatever",
		"password":        "Moonlight8",
		"confirmPassword": "Moonlight8",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Invalid CSRF token", decodeBody(t, rec)["message"])
}

func TestHandleResetPasswordFullFlow(t *testing.T) {
	f := newHandlerFixture(t)
	f.registerVerifiedUser(t)

	require.Equal(t, http.StatusOK, f.post(t, "/api/auth/forgot-password", map[string]string{"email": "alice@example.com"}).Code)
	resetToken := f.mailer.lastResetToken()

	csrfRec := f.get(t, "/api/auth/csrf-token")
	require.Equal(t, http.StatusOK, csrfRec.Code)
	csrfToken := decodeBody(t, csrfRec)["csrfToken"].(string)

	rec := f.post(t, "/api/auth/reset-password", map[string]string{
		"token":           resetToken,
		"password":        "Moonlight8",
		"confirmPassword": "Moonlight8",
	}, func(r *http.Request) {
		r.Header.Set("X-CSRF-Token", csrfToken)
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Password has been reset successfully. You can now log in with your new password.", decodeBody(t, rec)["message"])

	// The CSRF ticket was consumed with the request.
	rec = f.post(t, "/api/auth/reset-password", map[string]string{
		"token":           resetToken,
		"password":        "Starboard9",
		"confirmPassword": "Starboard9",
		"csrfToken":       csrfToken,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMiddleware(t *testing.T) {
	f := newHandlerFixture(t)
	f.registerVerifiedUser(t)

	login := f.loginFully(t)
	accessToken := decodeBody(t, login)["token"].(string)

	var gotUserID string
	protected := Middleware(f.service.issuer, f.service.AccessDenylist(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("valid token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
		r.Header.Set("Authorization", "Bearer "+accessToken)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.NotEmpty(t, gotUserID)
	})

	t.Run("missing token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
		r.Header.Set("Authorization", "Bearer garbage")
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("refresh token rejected on protected routes", func(t *testing.T) {
		cookie := refreshCookieFrom(login)
		r := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
		r.Header.Set("Authorization", "Bearer "+cookie.Value)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"net/url"
	"strings"

	"github.com/getsentry/sentry-go"

	"chicknneeds-api/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service    *Service
	appBaseURL string
}

func NewHandler(service *Service, appBaseURL string) *Handler {
	return &Handler{service: service, appBaseURL: strings.TrimRight(appBaseURL, "/")}
}

// Register mounts the auth endpoints on the mux under /api/auth.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/register", h.handleRegister)
	mux.HandleFunc("POST /api/auth/login", h.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", h.handleLogout)
	mux.HandleFunc("POST /api/auth/refresh", h.handleRefresh)
	mux.HandleFunc("GET /api/auth/verify", h.handleVerify)
	mux.HandleFunc("POST /api/auth/forgot-password", h.handleForgotPassword)
	mux.HandleFunc("GET /api/auth/csrf-token", h.handleCsrfToken)
	mux.HandleFunc("POST /api/auth/reset-password", h.handleResetPassword)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var input RegisterInput
	if !decodeJSON(w, r, &input) {
		return
	}

	user, err := h.service.Register(r.Context(), input)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"message": "Validation failed",
				"errors":  verr.Errors,
			})
			return
		}
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			writeMessage(w, http.StatusBadRequest, conflict.Message)
			return
		}

		sentry.CaptureException(err)
		writeMessage(w, http.StatusInternalServerError, "Registration failed. Please try again.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Registration successful. Please verify your email before logging in.",
		"user":    user,
	})
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Code     string `json:"code"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Login = strings.TrimSpace(body.Login)
	var fieldErrors []FieldError
	if body.Login == "" {
		fieldErrors = append(fieldErrors, FieldError{Field: "login", Message: "Email or username is required"})
	}
	if body.Password == "" {
		fieldErrors = append(fieldErrors, FieldError{Field: "password", Message: "Password is required"})
	}
	if len(fieldErrors) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"message": "Validation failed",
			"errors":  fieldErrors,
		})
		return
	}

	result, err := h.service.Login(r.Context(), LoginInput{
		Login:    body.Login,
		Password: body.Password,
		Code:     strings.TrimSpace(body.Code),
		ClientIP: observability.ClientIP(r),
	})
	if err != nil {
		h.writeLoginError(w, err)
		return
	}

	h.service.issuer.SetRefreshCookie(w, result.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user":  result.User,
	})
}

func (h *Handler) writeLoginError(w http.ResponseWriter, err error) {
	var rateLimited *RateLimitedError
	if errors.As(err, &rateLimited) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"message":           rateLimited.Message,
			"remainingAttempts": rateLimited.RemainingAttempts,
		})
		return
	}

	var invalid *InvalidCredentialsError
	if errors.As(err, &invalid) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"message":           "Invalid credentials",
			"remainingAttempts": invalid.RemainingAttempts,
		})
		return
	}

	var locked *LockedError
	if errors.As(err, &locked) {
		writeMessage(w, http.StatusLocked, locked.Error())
		return
	}

	if errors.Is(err, ErrEmailNotVerified) {
		writeMessage(w, http.StatusForbidden, "You must verify your email first before you can access your account.")
		return
	}

	var codeRequired *CodeRequiredError
	if errors.As(err, &codeRequired) {
		writeJSON(w, http.StatusPartialContent, map[string]any{
			"message":      codeRequired.Message,
			"requiresCode": true,
			"resendIn":     codeRequired.ResendIn,
		})
		return
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		writeMessage(w, http.StatusBadRequest, authErr.Message)
		return
	}

	sentry.CaptureException(err)
	writeMessage(w, http.StatusInternalServerError, "Login failed. Please try again.")
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.service.Logout(r.Context(), bearerToken(r), RefreshCookie(r))
	h.service.issuer.ClearRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	cookie := RefreshCookie(r)
	if cookie == "" {
		writeMessage(w, http.StatusUnauthorized, "Missing refresh token")
		return
	}

	result, err := h.service.Refresh(r.Context(), cookie)
	if err != nil {
		switch {
		case errors.Is(err, ErrRefreshRevoked):
			writeMessage(w, http.StatusUnauthorized, "Refresh token revoked")
		case errors.Is(err, ErrInvalidRefreshToken):
			writeMessage(w, http.StatusUnauthorized, "Invalid or expired refresh token")
		default:
			sentry.CaptureException(err)
			writeMessage(w, http.StatusInternalServerError, "Failed to refresh token")
		}
		return
	}

	h.service.issuer.SetRefreshCookie(w, result.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{"token": result.Token})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	status := h.service.Verify(r.Context(), r.URL.Query().Get("token"))
	http.Redirect(w, r, h.appBaseURL+"/verify?status="+url.QueryEscape(status), http.StatusFound)
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var body forgotPasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Email = strings.ToLower(strings.TrimSpace(body.Email))
	if _, err := mail.ParseAddress(body.Email); err != nil {
		writeMessage(w, http.StatusBadRequest, "Please provide a valid email address")
		return
	}

	if err := h.service.ForgotPassword(r.Context(), body.Email, observability.ClientIP(r)); err != nil {
		var rateLimited *RateLimitedError
		if errors.As(err, &rateLimited) {
			writeMessage(w, http.StatusTooManyRequests, rateLimited.Message)
			return
		}
		sentry.CaptureException(err)
		writeMessage(w, http.StatusInternalServerError, "Failed to process password reset request. Please try again.")
		return
	}

	writeMessage(w, http.StatusOK, "If an account with that email exists, a password reset link has been sent.")
}

func (h *Handler) handleCsrfToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.service.Csrf().Issue(observability.ClientIP(r))
	if err != nil {
		sentry.CaptureException(err)
		writeMessage(w, http.StatusInternalServerError, "Failed to issue CSRF token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"csrfToken": token})
}

type resetPasswordRequest struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	CsrfToken       string `json:"csrfToken"`
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var body resetPasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	clientIP := observability.ClientIP(r)

	csrfToken := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if csrfToken == "" {
		csrfToken = strings.TrimSpace(body.CsrfToken)
	}
	if err := h.service.Csrf().Validate(csrfToken, clientIP); err != nil {
		writeMessage(w, http.StatusForbidden, err.Error())
		return
	}

	err := h.service.ResetPassword(r.Context(), ResetInput{
		Token:           strings.TrimSpace(body.Token),
		Password:        body.Password,
		ConfirmPassword: body.ConfirmPassword,
		ClientIP:        clientIP,
	})
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			writeMessage(w, http.StatusBadRequest, verr.Error())
			return
		}
		var rateLimited *RateLimitedError
		if errors.As(err, &rateLimited) {
			writeMessage(w, http.StatusTooManyRequests, rateLimited.Message)
			return
		}
		var authErr *AuthError
		if errors.As(err, &authErr) {
			writeMessage(w, http.StatusBadRequest, authErr.Message)
			return
		}

		sentry.CaptureException(err)
		writeMessage(w, http.StatusInternalServerError, "Failed to reset password. Please try again.")
		return
	}

	writeMessage(w, http.StatusOK, "Password has been reset successfully. You can now log in with your new password.")
}

// --- shared helpers ---

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

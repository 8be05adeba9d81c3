package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	mrand "math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"chicknneeds-api/internal/observability"
)

const (
	defaultMaxAttempts    = 5
	defaultLockDuration   = 15 * time.Minute
	defaultAttemptWindow  = time.Hour
	defaultLoginCodeTTL   = 5 * time.Minute
	defaultResetTokenTTL  = 15 * time.Minute
	defaultResetFloor     = 300 * time.Millisecond
	passwordHistoryLimit  = 3
	minResetStrengthScore = 3
)

// Mailer delivers challenge emails. Implementations live in
// internal/email; a nil-key configuration degrades to console logging.
type Mailer interface {
	SendVerification(ctx context.Context, to, firstName, token string) error
	SendLoginCode(ctx context.Context, to, firstName, code string) error
	SendPasswordReset(ctx context.Context, to, firstName, token string) error
}

// Service orchestrates registration, verification, two-phase login,
// password reset, and the refresh/logout session lifecycle.
type Service struct {
	store           Store
	mailer          Mailer
	issuer          *TokenIssuer
	limiter         *AttemptLimiter
	accessDenylist  Denylist
	refreshDenylist Denylist
	csrf            *CsrfGuard
	logger          *observability.Logger

	maxAttempts   int
	lockDuration  time.Duration
	loginCodeTTL  time.Duration
	resetTokenTTL time.Duration
	resetFloor    time.Duration

	now   func() time.Time
	sleep func(time.Duration)
}

type ServiceConfig struct {
	MaxAttempts   int
	LockDuration  time.Duration
	AttemptWindow time.Duration
	LoginCodeTTL  time.Duration
	ResetTokenTTL time.Duration
}

func NewService(
	store Store,
	mailer Mailer,
	issuer *TokenIssuer,
	accessDenylist, refreshDenylist Denylist,
	logger *observability.Logger,
	cfg ServiceConfig,
) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = defaultLockDuration
	}
	if cfg.AttemptWindow <= 0 {
		cfg.AttemptWindow = defaultAttemptWindow
	}
	if cfg.LoginCodeTTL <= 0 {
		cfg.LoginCodeTTL = defaultLoginCodeTTL
	}
	if cfg.ResetTokenTTL <= 0 {
		cfg.ResetTokenTTL = defaultResetTokenTTL
	}

	return &Service{
		store:           store,
		mailer:          mailer,
		issuer:          issuer,
		limiter:         NewAttemptLimiter(cfg.MaxAttempts, cfg.AttemptWindow, cfg.LockDuration),
		accessDenylist:  accessDenylist,
		refreshDenylist: refreshDenylist,
		csrf:            NewCsrfGuard(15 * time.Minute),
		logger:          logger,
		maxAttempts:     cfg.MaxAttempts,
		lockDuration:    cfg.LockDuration,
		loginCodeTTL:    cfg.LoginCodeTTL,
		resetTokenTTL:   cfg.ResetTokenTTL,
		resetFloor:      defaultResetFloor,
		now:             time.Now,
		sleep:           time.Sleep,
	}
}

// Csrf exposes the guard for the csrf-token endpoint and reset handler.
func (s *Service) Csrf() *CsrfGuard { return s.csrf }

// AccessDenylist is consulted by the protected-route middleware.
func (s *Service) AccessDenylist() Denylist { return s.accessDenylist }

// --- Register ---

type RegisterInput struct {
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Email           string `json:"email"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (s *Service) Register(ctx context.Context, input RegisterInput) (PublicUser, error) {
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Username = strings.TrimSpace(input.Username)

	if verr := validateRegistration(input); verr != nil {
		return PublicUser{}, verr
	}

	existing, err := s.store.FindConflict(ctx, input.Email, input.Username)
	switch {
	case err == nil:
		if existing.Email == input.Email {
			return PublicUser{}, &ConflictError{Field: "email", Message: "Email already registered"}
		}
		return PublicUser{}, &ConflictError{Field: "username", Message: "Username already taken"}
	case !errors.Is(err, ErrNotFound):
		return PublicUser{}, err
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return PublicUser{}, fmt.Errorf("hash password: %w", err)
	}

	id, err := newUUID()
	if err != nil {
		return PublicUser{}, err
	}

	user := User{
		ID:           id,
		Email:        input.Email,
		Username:     input.Username,
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return PublicUser{}, err
	}

	// Best-effort: a failed verification email must not fail registration.
	// The identity then exists unverified with no email delivered, which is
	// an operator-visible state, not an error.
	token, err := randomToken(24)
	if err == nil {
		if _, err = s.store.CreateChallenge(ctx, user.ID, token, PurposeVerify); err == nil {
			err = s.mailer.SendVerification(ctx, user.Email, user.FirstName, token)
		}
	}
	if err != nil {
		s.logger.Warn("verification_email_failed", map[string]any{
			"user_id": user.ID,
			"error":   err.Error(),
		})
	}

	return user.Public(), nil
}

// --- Verify ---

// Verify consumes a verify-purpose challenge and flips the identity's
// verified flag. The returned status feeds the browser redirect.
func (s *Service) Verify(ctx context.Context, token string) string {
	if token == "" {
		return "Missing token"
	}

	ch, err := s.store.GetChallengeByToken(ctx, token, PurposeVerify)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "Invalid token"
		}
		s.logger.Error("verify_lookup_failed", map[string]any{"error": err.Error()})
		return "Verification failed"
	}

	if err := s.store.MarkEmailVerified(ctx, ch.UserID); err != nil {
		s.logger.Error("verify_update_failed", map[string]any{"error": err.Error()})
		return "Verification failed"
	}
	if err := s.store.DeleteChallenge(ctx, ch.ID); err != nil {
		s.logger.Error("verify_cleanup_failed", map[string]any{"error": err.Error()})
	}

	return "Email verified"
}

// --- Login ---

type LoginInput struct {
	Login    string
	Password string
	Code     string
	ClientIP string
}

type LoginResult struct {
	Token        string
	RefreshToken string
	User         PublicUser
}

// Login runs the two-phase flow: the first call with a correct password
// sends (or reports a pending) email code via CodeRequiredError; the
// second call presents the code and receives the session pair.
func (s *Service) Login(ctx context.Context, input LoginInput) (LoginResult, error) {
	limitKey := input.Login + "_" + input.ClientIP

	decision := s.limiter.Check(limitKey)
	if !decision.Allowed {
		return LoginResult{}, &RateLimitedError{
			Message:    decision.Message,
			RetryAfter: decision.RetryAfter,
		}
	}

	user, err := s.store.GetUserByLogin(ctx, input.Login)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.limiter.RecordFailure(limitKey)
			return LoginResult{}, &InvalidCredentialsError{RemainingAttempts: decision.RemainingAttempts - 1}
		}
		return LoginResult{}, err
	}

	if user.LockedUntil != nil && s.now().Before(*user.LockedUntil) {
		return LoginResult{}, &LockedError{Until: *user.LockedUntil}
	}

	if !VerifyPassword(user.PasswordHash, input.Password) {
		failed, _, err := s.store.RecordLoginFailure(ctx, user.ID, s.maxAttempts, s.lockDuration)
		if err != nil {
			return LoginResult{}, err
		}
		s.limiter.RecordFailure(limitKey)

		remaining := s.maxAttempts - failed
		if remaining < 0 {
			remaining = 0
		}
		return LoginResult{}, &InvalidCredentialsError{RemainingAttempts: remaining}
	}

	if !user.EmailVerified {
		return LoginResult{}, ErrEmailNotVerified
	}

	if input.Code == "" {
		return LoginResult{}, s.issueLoginCode(ctx, user)
	}

	if err := s.consumeLoginCode(ctx, user, input.Code); err != nil {
		return LoginResult{}, err
	}

	if err := s.store.ResetLoginState(ctx, user.ID); err != nil {
		return LoginResult{}, err
	}
	s.limiter.Clear(limitKey)

	access, err := s.issuer.IssueAccess(user.ID, user.Email)
	if err != nil {
		return LoginResult{}, err
	}
	refresh, err := s.issuer.IssueRefresh(user.ID)
	if err != nil {
		return LoginResult{}, err
	}

	return LoginResult{Token: access, RefreshToken: refresh, User: user.Public()}, nil
}

// issueLoginCode enforces the resend cooldown: a live code younger than
// the TTL blocks a new one and reports the remaining wait instead.
func (s *Service) issueLoginCode(ctx context.Context, user User) error {
	existing, err := s.store.LatestChallenge(ctx, user.ID, PurposeLogin)
	if err == nil {
		age := s.now().Sub(existing.CreatedAt)
		if age < s.loginCodeTTL {
			resendIn := int(math.Ceil((s.loginCodeTTL - age).Seconds()))
			return &CodeRequiredError{Message: "Verification code already sent", ResendIn: resendIn}
		}
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	if err := s.store.DeleteChallenges(ctx, user.ID, PurposeLogin); err != nil {
		return err
	}

	code, err := randomLoginCode()
	if err != nil {
		return err
	}
	if _, err := s.store.CreateChallenge(ctx, user.ID, code, PurposeLogin); err != nil {
		return err
	}
	if err := s.mailer.SendLoginCode(ctx, user.Email, user.FirstName, code); err != nil {
		return fmt.Errorf("send login code: %w", err)
	}

	return &CodeRequiredError{
		Message:  "Verification code sent to your email",
		ResendIn: int(s.loginCodeTTL.Seconds()),
	}
}

func (s *Service) consumeLoginCode(ctx context.Context, user User, code string) error {
	ch, err := s.store.GetChallengeByToken(ctx, code, PurposeLogin)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &AuthError{Message: "Invalid verification code"}
		}
		return err
	}
	if ch.UserID != user.ID {
		return &AuthError{Message: "Invalid verification code"}
	}

	if s.now().Sub(ch.CreatedAt) > s.loginCodeTTL {
		if err := s.store.DeleteChallenge(ctx, ch.ID); err != nil {
			return err
		}
		return &AuthError{Message: "Verification code expired. Please request a new code."}
	}

	return s.store.DeleteChallenge(ctx, ch.ID)
}

// --- Forgot password ---

func (s *Service) ForgotPassword(ctx context.Context, email, clientIP string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	limitKey := "forgot_" + email + "_" + clientIP

	decision := s.limiter.Check(limitKey)
	if !decision.Allowed {
		return &RateLimitedError{
			Message:    "Too many password reset requests. Please wait before trying again.",
			RetryAfter: decision.RetryAfter,
		}
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Unknown email reports success to prevent enumeration.
			return nil
		}
		return err
	}

	if recent, err := s.store.LatestChallenge(ctx, user.ID, PurposeReset); err == nil {
		if s.now().Sub(recent.CreatedAt) < s.resetTokenTTL {
			return &RateLimitedError{
				Message: "A password reset link was recently sent and is still valid for up to 15 minutes. Please check your email or try again later.",
			}
		}
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	token, err := randomToken(48)
	if err != nil {
		return err
	}
	if _, err := s.store.CreateChallenge(ctx, user.ID, token, PurposeReset); err != nil {
		return err
	}
	if err := s.mailer.SendPasswordReset(ctx, user.Email, user.FirstName, token); err != nil {
		return fmt.Errorf("send password reset: %w", err)
	}

	s.limiter.RecordFailure(limitKey)
	return nil
}

// --- Reset password ---

type ResetInput struct {
	Token           string
	Password        string
	ConfirmPassword string
	ClientIP        string
}

// ResetPassword holds every exit path, success or failure, to a floor
// latency so response timing reveals nothing about token validity.
func (s *Service) ResetPassword(ctx context.Context, input ResetInput) error {
	start := s.now()
	err := s.resetPassword(ctx, input)
	s.holdFloor(start)
	return err
}

func (s *Service) holdFloor(start time.Time) {
	elapsed := s.now().Sub(start)
	target := s.resetFloor + time.Duration(mrand.Intn(100))*time.Millisecond
	if elapsed < target {
		s.sleep(target - elapsed)
	}
}

func (s *Service) resetPassword(ctx context.Context, input ResetInput) error {
	if verr := validateResetToken(input.Token); verr != nil {
		return &ValidationError{Errors: []FieldError{*verr}}
	}
	if verr := ValidatePassword(input.Password); verr != nil {
		return &ValidationError{Errors: []FieldError{*verr}}
	}
	if input.Password != input.ConfirmPassword {
		return &ValidationError{Errors: []FieldError{{Field: "confirmPassword", Message: "Passwords do not match"}}}
	}

	clientKey := "reset_" + input.ClientIP
	tokenKey := "token_" + tokenPrefix(input.Token) + "_" + input.ClientIP

	if decision := s.limiter.Check(clientKey); !decision.Allowed {
		return &RateLimitedError{
			Message:    "Too many reset attempts. Please wait before trying again.",
			RetryAfter: decision.RetryAfter,
		}
	}
	if decision := s.limiter.Check(tokenKey); !decision.Allowed {
		return &RateLimitedError{
			Message:    "Too many attempts for this reset link. Please request a new one.",
			RetryAfter: decision.RetryAfter,
		}
	}

	ch, err := s.store.GetChallengeByToken(ctx, input.Token, PurposeReset)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.limiter.RecordFailure(clientKey)
			s.limiter.RecordFailure(tokenKey)
			return &AuthError{Message: "Invalid or expired reset token."}
		}
		return err
	}

	if s.now().Sub(ch.CreatedAt) > s.resetTokenTTL {
		if err := s.store.DeleteChallenge(ctx, ch.ID); err != nil {
			return err
		}
		s.limiter.RecordFailure(clientKey)
		s.limiter.RecordFailure(tokenKey)
		return &AuthError{Message: "Reset token has expired. Please request a new password reset."}
	}

	user, err := s.store.GetUserByID(ctx, ch.UserID)
	if err != nil {
		return err
	}

	if VerifyPassword(user.PasswordHash, input.Password) {
		if err := s.store.DeleteChallenge(ctx, ch.ID); err != nil {
			return err
		}
		return &AuthError{Message: "New password must be different from your current password."}
	}

	if score, _ := PasswordStrength(input.Password); score < minResetStrengthScore {
		return &AuthError{Message: "Password is too weak. Please choose a stronger password with more complexity."}
	}

	if IsPasswordReused(input.Password, user.PasswordHistory, passwordHistoryLimit) {
		return &AuthError{Message: "You cannot reuse a recent password. Please choose a different one."}
	}

	newHash, err := HashPassword(input.Password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	history := PrependPasswordHistory(user.PasswordHistory, newHash, passwordHistoryLimit)

	if err := s.store.UpdatePassword(ctx, user.ID, newHash, history); err != nil {
		return err
	}
	if err := s.store.DeleteChallenge(ctx, ch.ID); err != nil {
		return err
	}

	s.limiter.Clear(clientKey)
	s.limiter.Clear(tokenKey)

	s.logger.Info("password_reset_completed", map[string]any{
		"user_id": user.ID,
		"ip":      input.ClientIP,
	})

	return nil
}

// --- Refresh / Logout ---

type RefreshResult struct {
	Token        string
	RefreshToken string
}

// Refresh rotates the session: the presented refresh token's jti is
// denylisted before the new pair is returned, so it can never replay.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	if refreshToken == "" {
		return RefreshResult{}, ErrInvalidRefreshToken
	}

	claims, err := s.issuer.ParseRefresh(refreshToken)
	if err != nil {
		return RefreshResult{}, ErrInvalidRefreshToken
	}

	revoked, err := s.refreshDenylist.Contains(ctx, claims.ID)
	if err != nil {
		return RefreshResult{}, err
	}
	if revoked {
		return RefreshResult{}, ErrRefreshRevoked
	}

	if claims.ExpiresAt != nil {
		if err := s.refreshDenylist.Add(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
			return RefreshResult{}, err
		}
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return RefreshResult{}, ErrInvalidRefreshToken
		}
		return RefreshResult{}, err
	}

	access, err := s.issuer.IssueAccess(user.ID, user.Email)
	if err != nil {
		return RefreshResult{}, err
	}
	refresh, err := s.issuer.IssueRefresh(user.ID)
	if err != nil {
		return RefreshResult{}, err
	}

	return RefreshResult{Token: access, RefreshToken: refresh}, nil
}

// Logout denylists whatever valid tokens the caller presented. It never
// fails from the caller's perspective.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) {
	if accessToken != "" {
		if claims, err := s.issuer.ParseAccess(accessToken); err == nil && claims.ExpiresAt != nil {
			if err := s.accessDenylist.Add(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
				s.logger.Warn("logout_denylist_failed", map[string]any{"error": err.Error()})
			}
		}
	}

	if refreshToken != "" {
		if claims, err := s.issuer.ParseRefresh(refreshToken); err == nil && claims.ExpiresAt != nil {
			if err := s.refreshDenylist.Add(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
				s.logger.Warn("logout_denylist_failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

// --- helpers ---

func newUUID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid v7: %w", err)
	}
	return id.String(), nil
}

func randomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// randomLoginCode is the 6-character uppercase hex code mailed as the
// login second factor.
func randomLoginCode() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate login code: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

func tokenPrefix(token string) string {
	if len(token) > 16 {
		return token[:16]
	}
	return token
}

package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chicknneeds-api/internal/observability"
)

const brevoEndpoint = "https://api.brevo.com/v3/smtp/email"

type Config struct {
	From        string
	AppBaseURL  string
	APIBaseURL  string
	BrevoAPIKey string
}

// Mailer delivers auth challenge emails through the Brevo transactional
// API. Without an API key it degrades to logging the link or code, which
// keeps local development working with no provider account.
type Mailer struct {
	config     Config
	logger     *observability.Logger
	httpClient *http.Client
	endpoint   string
}

func NewMailer(config Config, logger *observability.Logger) *Mailer {
	if config.From == "" {
		config.From = "no-reply@chicknneeds.shop"
	}
	config.AppBaseURL = strings.TrimRight(config.AppBaseURL, "/")
	config.APIBaseURL = strings.TrimRight(config.APIBaseURL, "/")

	return &Mailer{
		config: config,
		logger: logger,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		endpoint: brevoEndpoint,
	}
}

func (m *Mailer) SendVerification(ctx context.Context, to, firstName, token string) error {
	verifyURL := m.config.APIBaseURL + "/api/auth/verify?token=" + url.QueryEscape(token)

	if m.config.BrevoAPIKey == "" {
		m.logger.Info("email_provider_not_configured", map[string]any{
			"kind":       "verification",
			"to":         to,
			"verify_url": verifyURL,
		})
		return nil
	}

	html := fmt.Sprintf(
		`<p>Hi %s,</p><p>Welcome to Chick'N Needs! Please confirm your email address to activate your account.</p><p><a href="%s">Verify my email</a></p><p>If the button does not work, open this link: %s</p>`,
		htmlEscape(firstName), verifyURL, verifyURL,
	)

	return m.send(ctx, to, "Verify your email - Chick'N Needs", html)
}

func (m *Mailer) SendLoginCode(ctx context.Context, to, firstName, code string) error {
	if m.config.BrevoAPIKey == "" {
		m.logger.Info("email_provider_not_configured", map[string]any{
			"kind": "login_code",
			"to":   to,
			"code": code,
		})
		return nil
	}

	html := fmt.Sprintf(
		`<p>Hi %s,</p><p>Your Chick'N Needs login code is:</p><p style="font-size:24px;font-weight:bold;letter-spacing:4px">%s</p><p>The code expires in 5 minutes. If you did not try to log in, you can ignore this email.</p>`,
		htmlEscape(firstName), code,
	)

	return m.send(ctx, to, "Your login code - Chick'N Needs", html)
}

func (m *Mailer) SendPasswordReset(ctx context.Context, to, firstName, token string) error {
	resetURL := m.config.AppBaseURL + "/reset-password?token=" + url.QueryEscape(token)

	if m.config.BrevoAPIKey == "" {
		m.logger.Info("email_provider_not_configured", map[string]any{
			"kind":      "password_reset",
			"to":        to,
			"reset_url": resetURL,
		})
		return nil
	}

	html := fmt.Sprintf(
		`<p>Hi %s,</p><p>We received a request to reset your Chick'N Needs password.</p><p><a href="%s">Reset my password</a></p><p>The link expires in 15 minutes. If you did not request this, no action is needed.</p>`,
		htmlEscape(firstName), resetURL,
	)

	return m.send(ctx, to, "Reset your password - Chick'N Needs", html)
}

type brevoRequest struct {
	Sender      brevoAddress   `json:"sender"`
	To          []brevoAddress `json:"to"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
}

type brevoAddress struct {
	Email string `json:"email"`
}

type brevoErrorResponse struct {
	Message string `json:"message"`
}

func (m *Mailer) send(ctx context.Context, to, subject, html string) error {
	payload, err := json.Marshal(brevoRequest{
		Sender:      brevoAddress{Email: m.config.From},
		To:          []brevoAddress{{Email: to}},
		Subject:     subject,
		HTMLContent: html,
	})
	if err != nil {
		return fmt.Errorf("encode email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", m.config.BrevoAPIKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("email request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var parsed brevoErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return fmt.Errorf("email send failed: %s", parsed.Message)
	}
	return fmt.Errorf("email send failed with status %d", resp.StatusCode)
}

func htmlEscape(value string) string {
	replacer := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return replacer.Replace(value)
}

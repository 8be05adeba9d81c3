package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrCsrfInvalid  = errors.New("Invalid CSRF token")
	ErrCsrfMismatch = errors.New("CSRF token IP mismatch")
	ErrCsrfExpired  = errors.New("CSRF token expired")
)

type csrfTicket struct {
	ip      string
	expires time.Time
}

// CsrfGuard issues single-use, time-boxed tickets bound to the caller's
// address. Validation consumes the ticket no matter the outcome.
type CsrfGuard struct {
	mu      sync.Mutex
	tickets map[string]csrfTicket
	ttl     time.Duration
	now     func() time.Time
}

func NewCsrfGuard(ttl time.Duration) *CsrfGuard {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &CsrfGuard{
		tickets: make(map[string]csrfTicket),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Issue mints a high-entropy ticket bound to ip.
func (g *CsrfGuard) Issue(ip string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	token := hex.EncodeToString(raw)

	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.tickets[token] = csrfTicket{ip: ip, expires: now.Add(g.ttl)}
	g.pruneLocked(now)

	return token, nil
}

// Validate checks and consumes the ticket. A ticket that exists is
// deleted before the verdict is returned, so no ticket validates twice.
func (g *CsrfGuard) Validate(token, ip string) error {
	if token == "" {
		return ErrCsrfInvalid
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	ticket, ok := g.tickets[token]
	if !ok {
		return ErrCsrfInvalid
	}
	delete(g.tickets, token)

	if g.now().After(ticket.expires) {
		return ErrCsrfExpired
	}
	if ticket.ip != ip {
		return ErrCsrfMismatch
	}

	return nil
}

func (g *CsrfGuard) pruneLocked(now time.Time) {
	if len(g.tickets) < 1000 {
		return
	}
	for token, ticket := range g.tickets {
		if now.After(ticket.expires) {
			delete(g.tickets, token)
		}
	}
}

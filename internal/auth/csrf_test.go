package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCsrfGuardRoundTrip(t *testing.T) {
	guard := NewCsrfGuard(15 * time.Minute)

	token, err := guard.Issue("1.2.3.4")
	require.NoError(t, err)
	assert.Len(t, token, 64)

	assert.NoError(t, guard.Validate(token, "1.2.3.4"))
}

func TestCsrfGuardSingleUse(t *testing.T) {
	guard := NewCsrfGuard(15 * time.Minute)

	token, err := guard.Issue("1.2.3.4")
	require.NoError(t, err)

	require.NoError(t, guard.Validate(token, "1.2.3.4"))
	assert.ErrorIs(t, guard.Validate(token, "1.2.3.4"), ErrCsrfInvalid)
}

func TestCsrfGuardIPMismatchConsumesTicket(t *testing.T) {
	guard := NewCsrfGuard(15 * time.Minute)

	token, err := guard.Issue("1.2.3.4")
	require.NoError(t, err)

	assert.ErrorIs(t, guard.Validate(token, "5.6.7.8"), ErrCsrfMismatch)

	// The failed attempt burned the ticket for the rightful IP too.
	assert.ErrorIs(t, guard.Validate(token, "1.2.3.4"), ErrCsrfInvalid)
}

func TestCsrfGuardExpiry(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	guard := NewCsrfGuard(15 * time.Minute)
	guard.now = func() time.Time { return clock }

	token, err := guard.Issue("1.2.3.4")
	require.NoError(t, err)

	clock = clock.Add(16 * time.Minute)
	assert.ErrorIs(t, guard.Validate(token, "1.2.3.4"), ErrCsrfExpired)
}

func TestCsrfGuardEmptyToken(t *testing.T) {
	guard := NewCsrfGuard(15 * time.Minute)
	assert.ErrorIs(t, guard.Validate("", "1.2.3.4"), ErrCsrfInvalid)
}

func TestCsrfGuardUnknownToken(t *testing.T) {
	guard := NewCsrfGuard(15 * time.Minute)
	assert.ErrorIs(t, guard.Validate("deadbeef", "1.2.3.4"), ErrCsrfInvalid)
}

package auth

import (
	"fmt"
	"sync"
	"time"
)

const maxTrackedIdentifiers = 5000

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed           bool
	RemainingAttempts int
	Message           string
	RetryAfter        time.Duration
}

type attemptRecord struct {
	count        int
	firstAttempt time.Time
	lastAttempt  time.Time
	lockedUntil  *time.Time
}

// AttemptLimiter counts failed attempts per identifier (login handle +
// client address) and locks the identifier once the budget is spent.
// State is process-local and lost on restart; this is a soft anti-abuse
// layer, not the last line of defense.
type AttemptLimiter struct {
	mu           sync.Mutex
	records      map[string]*attemptRecord
	maxAttempts  int
	window       time.Duration
	lockDuration time.Duration
	now          func() time.Time
}

func NewAttemptLimiter(maxAttempts int, window, lockDuration time.Duration) *AttemptLimiter {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if window <= 0 {
		window = time.Hour
	}
	if lockDuration <= 0 {
		lockDuration = 15 * time.Minute
	}

	return &AttemptLimiter{
		records:      make(map[string]*attemptRecord),
		maxAttempts:  maxAttempts,
		window:       window,
		lockDuration: lockDuration,
		now:          time.Now,
	}
}

// Check reports whether the identifier may attempt again. Reaching the
// budget starts the lockout; a lockout that has passed resets the record.
func (l *AttemptLimiter) Check(identifier string) Decision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[identifier]
	if !ok {
		return Decision{Allowed: true, RemainingAttempts: l.maxAttempts}
	}

	if record.lockedUntil != nil && now.After(*record.lockedUntil) {
		delete(l.records, identifier)
		return Decision{Allowed: true, RemainingAttempts: l.maxAttempts}
	}

	if record.lockedUntil != nil {
		retryAfter := record.lockedUntil.Sub(now)
		minutes := int(retryAfter.Minutes()) + 1
		return Decision{
			Allowed:    false,
			Message:    fmt.Sprintf("Account locked. Try again in %d minutes.", minutes),
			RetryAfter: retryAfter,
		}
	}

	if record.count >= l.maxAttempts {
		until := now.Add(l.lockDuration)
		record.lockedUntil = &until
		return Decision{
			Allowed:    false,
			Message:    "Too many failed attempts. Account locked for 15 minutes.",
			RetryAfter: l.lockDuration,
		}
	}

	return Decision{Allowed: true, RemainingAttempts: l.maxAttempts - record.count}
}

// RecordFailure increments the identifier's counter. The counter restarts
// when the first attempt falls outside the rolling window.
func (l *AttemptLimiter) RecordFailure(identifier string) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[identifier]
	if !ok {
		record = &attemptRecord{firstAttempt: now}
		l.records[identifier] = record
	}

	record.count++
	record.lastAttempt = now

	if now.Sub(record.firstAttempt) > l.window {
		record.count = 1
		record.firstAttempt = now
	}

	if len(l.records) > maxTrackedIdentifiers {
		l.evictStaleLocked(now)
	}
}

// Clear drops the identifier's record entirely. Called after any
// successful authentication.
func (l *AttemptLimiter) Clear(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, identifier)
}

func (l *AttemptLimiter) evictStaleLocked(now time.Time) {
	threshold := now.Add(-l.window)
	for key, record := range l.records {
		if record.lastAttempt.Before(threshold) && (record.lockedUntil == nil || now.After(*record.lockedUntil)) {
			delete(l.records, key)
		}
	}
}

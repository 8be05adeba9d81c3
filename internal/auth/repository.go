package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store is what the auth service needs from persistence. The Postgres
// Repository implements it; tests substitute an in-memory fake.
type Store interface {
	CreateUser(ctx context.Context, user User) error
	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserByLogin(ctx context.Context, login string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	FindConflict(ctx context.Context, email, username string) (User, error)
	MarkEmailVerified(ctx context.Context, userID string) error
	RecordLoginFailure(ctx context.Context, userID string, maxAttempts int, lockDuration time.Duration) (failed int, lockedUntil *time.Time, err error)
	ResetLoginState(ctx context.Context, userID string) error
	UpdatePassword(ctx context.Context, userID, newHash string, history []string) error

	CreateChallenge(ctx context.Context, userID, token, purpose string) (Challenge, error)
	GetChallengeByToken(ctx context.Context, token, purpose string) (Challenge, error)
	LatestChallenge(ctx context.Context, userID, purpose string) (Challenge, error)
	DeleteChallenge(ctx context.Context, id string) error
	DeleteChallenges(ctx context.Context, userID, purpose string) error
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, email, username, first_name, last_name, COALESCE(phone, ''), password_hash,
	password_history, email_verified, failed_login_attempts, locked_until, created_at, updated_at`

func scanUser(row *sql.Row) (User, error) {
	var user User
	var history []byte
	var lockedUntil sql.NullTime

	err := row.Scan(
		&user.ID, &user.Email, &user.Username, &user.FirstName, &user.LastName,
		&user.Phone, &user.PasswordHash, &history, &user.EmailVerified,
		&user.FailedLoginAttempts, &lockedUntil, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("scan user: %w", err)
	}

	if len(history) > 0 {
		if err := json.Unmarshal(history, &user.PasswordHistory); err != nil {
			return User{}, fmt.Errorf("decode password history: %w", err)
		}
	}
	if lockedUntil.Valid {
		value := lockedUntil.Time.UTC()
		user.LockedUntil = &value
	}

	return user, nil
}

func (r *Repository) CreateUser(ctx context.Context, user User) error {
	history, err := json.Marshal(user.PasswordHistory)
	if err != nil {
		return fmt.Errorf("encode password history: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, username, first_name, last_name, phone, password_hash,
			password_history, email_verified, failed_login_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`, user.ID, user.Email, user.Username, user.FirstName, user.LastName,
		nullableString(user.Phone), user.PasswordHash, history, user.EmailVerified,
		user.FailedLoginAttempts, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

func (r *Repository) GetUserByID(ctx context.Context, id string) (User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = $1
	`, id))
}

// GetUserByLogin resolves a login handle that may be an email or a username.
func (r *Repository) GetUserByLogin(ctx context.Context, login string) (User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE email = $1 OR username = $1
	`, login))
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE email = $1
	`, email))
}

// FindConflict returns a user already holding the email or username.
func (r *Repository) FindConflict(ctx context.Context, email, username string) (User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE email = $1 OR username = $2
	`, email, username))
}

func (r *Repository) MarkEmailVerified(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET email_verified = TRUE, updated_at = NOW() WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	return nil
}

// RecordLoginFailure increments the identity's failure counter under a row
// lock and starts the lockout once maxAttempts are reached.
func (r *Repository) RecordLoginFailure(ctx context.Context, userID string, maxAttempts int, lockDuration time.Duration) (int, *time.Time, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("begin login failure tx: %w", err)
	}
	defer tx.Rollback()

	var failed int
	err = tx.QueryRowContext(ctx, `
		SELECT failed_login_attempts FROM users WHERE id = $1 FOR UPDATE
	`, userID).Scan(&failed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil, ErrNotFound
		}
		return 0, nil, fmt.Errorf("lock user row: %w", err)
	}

	failed++
	var lockedUntil *time.Time
	var lockedValue any
	if failed >= maxAttempts {
		until := time.Now().UTC().Add(lockDuration)
		lockedUntil = &until
		lockedValue = until
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE users SET failed_login_attempts = $2, locked_until = $3, updated_at = NOW()
		WHERE id = $1
	`, userID, failed, lockedValue)
	if err != nil {
		return 0, nil, fmt.Errorf("update login failures: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("commit login failure tx: %w", err)
	}

	return failed, lockedUntil, nil
}

func (r *Repository) ResetLoginState(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET failed_login_attempts = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("reset login state: %w", err)
	}
	return nil
}

// UpdatePassword persists the new hash and its history and clears any
// lockout state in the same statement.
func (r *Repository) UpdatePassword(ctx context.Context, userID, newHash string, history []string) error {
	encoded, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode password history: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2, password_history = $3,
			failed_login_attempts = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`, userID, newHash, encoded)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	return nil
}

func (r *Repository) CreateChallenge(ctx context.Context, userID, token, purpose string) (Challenge, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Challenge{}, fmt.Errorf("generate challenge id: %w", err)
	}

	ch := Challenge{
		ID:        id.String(),
		UserID:    userID,
		Token:     token,
		Purpose:   purpose,
		CreatedAt: time.Now().UTC(),
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO email_challenges (id, user_id, token, purpose, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ch.ID, ch.UserID, ch.Token, ch.Purpose, ch.CreatedAt)
	if err != nil {
		return Challenge{}, fmt.Errorf("insert email challenge: %w", err)
	}

	return ch, nil
}

func (r *Repository) GetChallengeByToken(ctx context.Context, token, purpose string) (Challenge, error) {
	var ch Challenge
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, token, purpose, created_at
		FROM email_challenges
		WHERE token = $1 AND purpose = $2
	`, token, purpose).Scan(&ch.ID, &ch.UserID, &ch.Token, &ch.Purpose, &ch.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Challenge{}, ErrNotFound
		}
		return Challenge{}, fmt.Errorf("query email challenge: %w", err)
	}

	return ch, nil
}

func (r *Repository) LatestChallenge(ctx context.Context, userID, purpose string) (Challenge, error) {
	var ch Challenge
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, token, purpose, created_at
		FROM email_challenges
		WHERE user_id = $1 AND purpose = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, purpose).Scan(&ch.ID, &ch.UserID, &ch.Token, &ch.Purpose, &ch.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Challenge{}, ErrNotFound
		}
		return Challenge{}, fmt.Errorf("query latest challenge: %w", err)
	}

	return ch, nil
}

func (r *Repository) DeleteChallenge(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM email_challenges WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete email challenge: %w", err)
	}
	return nil
}

func (r *Repository) DeleteChallenges(ctx context.Context, userID, purpose string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM email_challenges WHERE user_id = $1 AND purpose = $2
	`, userID, purpose)
	if err != nil {
		return fmt.Errorf("delete email challenges: %w", err)
	}
	return nil
}

// CleanupResult summarizes a maintenance pass over stale auth rows.
type CleanupResult struct {
	DeletedChallenges int64 `json:"deleted_challenges"`
	UnlockedUsers     int64 `json:"unlocked_users"`
}

// CleanupStaleAuthData drops email challenges past any useful lifetime and
// clears lockout state that expired long ago.
func (r *Repository) CleanupStaleAuthData(ctx context.Context, challengeRetention time.Duration, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if challengeRetention <= 0 {
		challengeRetention = 24 * time.Hour
	}

	cutoff := time.Now().UTC().Add(-challengeRetention)

	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id FROM email_challenges
			WHERE created_at < $1
			ORDER BY created_at ASC
			LIMIT $2
		)
		DELETE FROM email_challenges t
		USING stale
		WHERE t.id = stale.id
	`, cutoff, batchSize)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("delete stale challenges: %w", err)
	}
	deletedChallenges, err := res.RowsAffected()
	if err != nil {
		return CleanupResult{}, fmt.Errorf("stale challenges rows affected: %w", err)
	}

	res, err = r.db.ExecContext(ctx, `
		UPDATE users
		SET failed_login_attempts = 0, locked_until = NULL, updated_at = NOW()
		WHERE locked_until IS NOT NULL AND locked_until < NOW()
	`)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("clear expired lockouts: %w", err)
	}
	unlocked, err := res.RowsAffected()
	if err != nil {
		return CleanupResult{}, fmt.Errorf("expired lockouts rows affected: %w", err)
	}

	return CleanupResult{DeletedChallenges: deletedChallenges, UnlockedUsers: unlocked}, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

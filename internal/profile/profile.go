package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"chicknneeds-api/internal/auth"
)

var nameRegex = regexp.MustCompile(`^[a-zA-Z\s]+$`)

const maxJSONBodyBytes = 1 << 20

type Profile struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Username      string    `json:"username"`
	FirstName     string    `json:"firstName"`
	LastName      string    `json:"lastName"`
	Phone         string    `json:"phone,omitempty"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Get(ctx context.Context, userID string) (Profile, error) {
	var p Profile
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, username, first_name, last_name, COALESCE(phone, ''), email_verified, created_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&p.ID, &p.Email, &p.Username, &p.FirstName, &p.LastName, &p.Phone, &p.EmailVerified, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, auth.ErrNotFound
		}
		return Profile{}, fmt.Errorf("query profile: %w", err)
	}

	return p, nil
}

func (r *Repository) Update(ctx context.Context, userID string, firstName, lastName, phone *string) (Profile, error) {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET first_name = COALESCE($2, first_name),
			last_name = COALESCE($3, last_name),
			phone = COALESCE($4, phone),
			updated_at = NOW()
		WHERE id = $1
	`, userID, firstName, lastName, phone)
	if err != nil {
		return Profile{}, fmt.Errorf("update profile: %w", err)
	}

	return r.Get(ctx, userID)
}

type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.repo.Get(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "Profile not found")
			return
		}
		sentry.CaptureException(err)
		writeMessage(w, http.StatusInternalServerError, "Failed to load profile")
		return
	}

	writeJSON(w, http.StatusOK, p)
}

type updateRequest struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Phone     *string `json:"phone"`
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body updateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	for _, field := range []*string{body.FirstName, body.LastName} {
		if field == nil {
			continue
		}
		trimmed := strings.TrimSpace(*field)
		if len(trimmed) < 1 || len(trimmed) > 100 || !nameRegex.MatchString(trimmed) {
			writeMessage(w, http.StatusBadRequest, "Names must be 1-100 characters of letters and spaces")
			return
		}
		*field = trimmed
	}

	p, err := h.repo.Update(r.Context(), auth.UserIDFromContext(r.Context()), body.FirstName, body.LastName, body.Phone)
	if err != nil {
		sentry.CaptureException(err)
		writeMessage(w, http.StatusInternalServerError, "Failed to update profile")
		return
	}

	writeJSON(w, http.StatusOK, p)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

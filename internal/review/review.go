package review

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"chicknneeds-api/internal/auth"
)

var ErrDuplicate = errors.New("review already exists")

const maxJSONBodyBytes = 1 << 20

type Review struct {
	ID        string    `json:"id"`
	ProductID string    `json:"productId"`
	Author    string    `json:"author"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) ListForProduct(ctx context.Context, productID string) ([]Review, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT rv.id, rv.product_id, u.username, rv.rating, COALESCE(rv.comment, ''), rv.created_at
		FROM reviews rv
		JOIN users u ON u.id = rv.user_id
		WHERE rv.product_id = $1
		ORDER BY rv.created_at DESC
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	defer rows.Close()

	reviews := make([]Review, 0)
	for rows.Next() {
		var rv Review
		if err := rows.Scan(&rv.ID, &rv.ProductID, &rv.Author, &rv.Rating, &rv.Comment, &rv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		reviews = append(reviews, rv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}

	return reviews, nil
}

func (r *Repository) Create(ctx context.Context, userID, productID string, rating int, comment string) (Review, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Review{}, fmt.Errorf("generate review id: %w", err)
	}

	now := time.Now().UTC()
	var author string
	err = r.db.QueryRowContext(ctx, `
		WITH inserted AS (
			INSERT INTO reviews (id, user_id, product_id, rating, comment, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (user_id, product_id) DO NOTHING
			RETURNING user_id
		)
		SELECT u.username FROM inserted i JOIN users u ON u.id = i.user_id
	`, id.String(), userID, productID, rating, nullableString(comment), now).Scan(&author)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Review{}, ErrDuplicate
		}
		return Review{}, fmt.Errorf("insert review: %w", err)
	}

	return Review{
		ID:        id.String(),
		ProductID: productID,
		Author:    author,
		Rating:    rating,
		Comment:   comment,
		CreatedAt: now,
	}, nil
}

type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) ListForProduct(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.repo.ListForProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		sentry.CaptureException(err)
		writeMessage(w, http.StatusInternalServerError, "Failed to list reviews")
		return
	}

	writeJSON(w, http.StatusOK, reviews)
}

type createRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body createRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if body.Rating < 1 || body.Rating > 5 {
		writeMessage(w, http.StatusBadRequest, "Rating must be between 1 and 5")
		return
	}

	rv, err := h.repo.Create(
		r.Context(),
		auth.UserIDFromContext(r.Context()),
		r.PathValue("id"),
		body.Rating,
		strings.TrimSpace(body.Comment),
	)
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			writeMessage(w, http.StatusConflict, "You have already reviewed this product")
			return
		}
		sentry.CaptureException(err)
		writeMessage(w, http.StatusInternalServerError, "Failed to create review")
		return
	}

	writeJSON(w, http.StatusCreated, rv)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

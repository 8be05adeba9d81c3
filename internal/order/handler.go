package order

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"

	"chicknneeds-api/internal/auth"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

type checkoutRequest struct {
	PaymentMethod string `json:"paymentMethod"`
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body checkoutRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if body.PaymentMethod == "" {
		body.PaymentMethod = "cod"
	}

	order, err := h.repo.Checkout(r.Context(), auth.UserIDFromContext(r.Context()), body.PaymentMethod)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyCart):
			writeMessage(w, http.StatusBadRequest, "Your cart is empty")
		case errors.Is(err, ErrInsufficient):
			writeMessage(w, http.StatusConflict, err.Error())
		default:
			sentry.CaptureException(err)
			writeMessage(w, http.StatusInternalServerError, "Failed to place order")
		}
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	orders, err := h.repo.List(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		sentry.CaptureException(err)
		writeMessage(w, http.StatusInternalServerError, "Failed to list orders")
		return
	}

	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	order, err := h.repo.Get(r.Context(), auth.UserIDFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "Order not found")
			return
		}
		sentry.CaptureException(err)
		writeMessage(w, http.StatusInternalServerError, "Failed to load order")
		return
	}

	writeJSON(w, http.StatusOK, order)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

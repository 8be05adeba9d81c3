package maintenance

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"chicknneeds-api/internal/auth"
	"chicknneeds-api/internal/observability"
)

// CleanupHandler purges stale auth rows (old email challenges, expired
// lockouts) on a schedule driven by an external cron hitting this
// endpoint with the shared secret.
type CleanupHandler struct {
	repo               *auth.Repository
	logger             *observability.Logger
	cronSecret         string
	challengeRetention time.Duration
	batchSize          int
}

func NewCleanupHandler(
	repo *auth.Repository,
	logger *observability.Logger,
	cronSecret string,
	challengeRetention time.Duration,
	batchSize int,
) *CleanupHandler {
	return &CleanupHandler{
		repo:               repo,
		logger:             logger,
		cronSecret:         strings.TrimSpace(cronSecret),
		challengeRetention: challengeRetention,
		batchSize:          batchSize,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
		return
	}

	header := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "unauthorized"})
		return
	}

	result, err := h.repo.CleanupStaleAuthData(r.Context(), h.challengeRetention, h.batchSize)
	if err != nil {
		h.logger.Error("auth_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "cleanup failed"})
		return
	}

	h.logger.Info("auth_cleanup_completed", map[string]any{
		"deleted_challenges": result.DeletedChallenges,
		"unlocked_users":     result.UnlockedUsers,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

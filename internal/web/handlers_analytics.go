package web

import (
	"context"
	"net/http"
	"time"

	"github.com/JonMunkholm/immunoload/internal/core"
)

// summaryResponse adds the derived response rate to the stored summary.
type summaryResponse struct {
	*core.Summary
	ResponseRate float64 `json:"response_rate"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.service.Summary(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{Summary: sum, ResponseRate: sum.ResponseRate()})
}

// handleHealth pings the database and reports ingestion slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	body := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"ingest":    s.service.LimiterStatus(),
	}
	if err := s.service.Ping(ctx); err != nil {
		body["status"] = "unhealthy"
		body["error"] = core.MapError(err).Message
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

package web

import (
	"net/http"

	"github.com/JonMunkholm/immunoload/internal/core"
	"github.com/JonMunkholm/immunoload/internal/logging"
)

// handleImpact reports what deleting an entity would remove.
func (s *Server) handleImpact(kind core.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			respondError(w, r, err)
			return
		}
		impact, err := s.service.Impact(r.Context(), kind, id)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, impact)
	}
}

// handleDelete deletes an entity and its dependent samples. Deletes over
// the confirmation threshold answer 409 with the impact unless force=true.
func (s *Server) handleDelete(kind core.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			respondError(w, r, err)
			return
		}
		force, err := boolParam(r, "force")
		if err != nil {
			respondError(w, r, err)
			return
		}
		result, err := s.service.Delete(r.Context(), kind, id, force)
		if err != nil {
			respondError(w, r, err)
			return
		}
		logging.FromContext(r.Context()).Info("entity deleted",
			"entity_type", kind,
			"entity_id", id,
			"dependent_samples", result.DependentSampleCount,
			"force", force,
		)
		writeJSON(w, http.StatusOK, result)
	}
}

type batchDeleteRequest struct {
	EntityType string  `json:"entity_type"`
	IDs        []int64 `json:"ids"`
	Force      bool    `json:"force"`
}

// handleDeleteBatch deletes several entities of one kind in one
// transaction, gated by the batch threshold.
func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	var req batchDeleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	kind, ok := core.ParseEntityKind(req.EntityType)
	if !ok {
		badRequest(w, r, "entity_type must be project, subject or sample")
		return
	}
	batch, err := s.service.DeleteBatch(r.Context(), kind, req.IDs, req.Force)
	if err != nil {
		respondError(w, r, err)
		return
	}
	logging.FromContext(r.Context()).Info("entities deleted",
		"entity_type", kind,
		"count", len(batch.Impacts),
		"dependent_samples", batch.DependentSampleCount,
		"force", req.Force,
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted": len(batch.Impacts),
		"impact":  batch,
	})
}

// handleCleanup deletes samples whose project or subject is missing.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	orphans, err := s.service.SweepOrphans(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	if orphans == nil {
		orphans = []core.Sample{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cleaned_up":       len(orphans),
		"orphaned_samples": orphans,
	})
}

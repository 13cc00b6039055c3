package api

import (
	"net/http"
	"time"

	"github.com/casagrid/gatehouse/pkg/audit"
	"github.com/casagrid/gatehouse/pkg/authz"
)

// clearCache handles POST /v1/cache/clear. Admin services call this
// after mutating roles, overrides, or flags so stale decisions expire
// immediately instead of after the cache TTL.
func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	var req ClearCacheRequest
	if r.ContentLength != 0 {
		if !parseJSONOrError(w, r, &req) {
			return
		}
	}

	cleared := s.engine.ClearCache(req.UserID, req.WorkspaceID)

	var actorID *int64
	if user, ok := authz.PrincipalFromContext(r.Context()); ok {
		actorID = &user.ID
	}
	event := audit.NewOperatorEvent(r.Context(), audit.EventTypeCacheClear, actorID, audit.ResultSuccess, "decision cache cleared")
	event.WorkspaceID = req.WorkspaceID
	event.Details = map[string]interface{}{"cleared_entries": cleared}
	if req.UserID != nil {
		event.Details["target_user_id"] = *req.UserID
	}
	if err := s.events.Log(r.Context(), event); err != nil {
		s.logger.WithError(err).Warn("failed to write cache clear audit event")
	}

	writeJSON(w, http.StatusOK, ClearCacheResponse{
		Cleared:     cleared,
		UserID:      req.UserID,
		WorkspaceID: req.WorkspaceID,
		ClearedAt:   time.Now().UTC(),
	})
}

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/casagrid/gatehouse/pkg/authz"
)

// checkAccess handles POST /v1/access/check. It evaluates a decision
// for an arbitrary user without side effects unless the caller opts
// into auditing.
func (s *Server) checkAccess(w http.ResponseWriter, r *http.Request) {
	var req CheckAccessRequest
	if !parseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID <= 0 {
		writeBadRequest(w, "user_id is required")
		return
	}
	if strings.TrimSpace(req.Action) == "" {
		writeBadRequest(w, "action is required")
		return
	}

	allowed, err := s.engine.CheckAccess(r.Context(), authz.AccessRequest{
		User:         authz.User{ID: req.UserID, Email: req.UserEmail},
		Action:       req.Action,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		WorkspaceID:  req.WorkspaceID,
		Module:       req.Module,
		SkipAudit:    !req.Audit,
	})
	if err != nil {
		s.logger.WithError(err).Error("access check failed")
		writeInternalError(w)
		return
	}

	writeJSON(w, http.StatusOK, CheckAccessResponse{
		Allowed:      allowed,
		UserID:       req.UserID,
		Action:       req.Action,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		WorkspaceID:  req.WorkspaceID,
		Module:       req.Module,
		CheckedAt:    time.Now().UTC(),
	})
}

// effectivePermissions handles GET /v1/permissions/effective. Sections
// of the report follow the coordinates supplied as query parameters.
func (s *Server) effectivePermissions(w http.ResponseWriter, r *http.Request) {
	userID, err := parseQueryInt64Ptr(r, "user_id")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if userID == nil {
		writeBadRequest(w, "user_id is required")
		return
	}

	workspaceID, err := parseQueryInt64Ptr(r, "workspace_id")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	query := r.URL.Query()
	report, err := s.engine.ListEffectivePermissions(r.Context(),
		authz.User{ID: *userID, Email: query.Get("user_email")},
		workspaceID,
		query.Get("module"),
		query.Get("resource_type"),
		query.Get("resource_id"),
	)
	if err != nil {
		s.logger.WithError(err).Error("effective permissions report failed")
		writeInternalError(w)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/casagrid/gatehouse/pkg/audit"
)

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 1000
)

// auditEvents handles GET /v1/audit/events. The default response is a
// JSON envelope; format=csv or format=ndjson streams an export file.
func (s *Server) auditEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := searchFilterFromQuery(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	events, err := s.audit.Search(r.Context(), filter)
	if err != nil {
		s.logger.WithError(err).Error("audit search failed")
		writeInternalError(w)
		return
	}

	format := audit.ExportFormat(strings.ToLower(r.URL.Query().Get("format")))
	switch format {
	case "", audit.ExportFormatJSON:
		writeJSON(w, http.StatusOK, AuditEventsResponse{
			Events: events,
			Count:  len(events),
			Limit:  filter.Limit,
			Offset: filter.Offset,
		})
	case audit.ExportFormatCSV, audit.ExportFormatNDJSON:
		data, err := audit.Export(events, format)
		if err != nil {
			s.logger.WithError(err).Error("audit export failed")
			writeInternalError(w)
			return
		}
		contentType := "text/csv"
		if format == audit.ExportFormatNDJSON {
			contentType = "application/x-ndjson"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=audit-events.%s", format))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	default:
		writeBadRequest(w, fmt.Sprintf("unsupported format: %s", format))
	}
}

// auditStats handles GET /v1/audit/stats.
func (s *Server) auditStats(w http.ResponseWriter, r *http.Request) {
	start, err := parseQueryTimePtr(r, "start_time")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	end, err := parseQueryTimePtr(r, "end_time")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	stats, err := s.audit.GetStats(r.Context(), start, end)
	if err != nil {
		s.logger.WithError(err).Error("audit stats failed")
		writeInternalError(w)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// searchFilterFromQuery maps query parameters onto a search filter.
// event_type and result repeat; timestamps are RFC3339.
func searchFilterFromQuery(r *http.Request) (audit.SearchFilter, error) {
	var filter audit.SearchFilter
	var err error

	if filter.StartTime, err = parseQueryTimePtr(r, "start_time"); err != nil {
		return filter, err
	}
	if filter.EndTime, err = parseQueryTimePtr(r, "end_time"); err != nil {
		return filter, err
	}
	if filter.UserID, err = parseQueryInt64Ptr(r, "user_id"); err != nil {
		return filter, err
	}
	if filter.WorkspaceID, err = parseQueryInt64Ptr(r, "workspace_id"); err != nil {
		return filter, err
	}

	query := r.URL.Query()
	filter.UserEmail = query.Get("user_email")
	filter.Module = query.Get("module")
	filter.Action = query.Get("action")
	filter.Layer = query.Get("layer")
	filter.ResourceType = query.Get("resource_type")
	filter.ResourceID = query.Get("resource_id")
	filter.IPAddress = query.Get("ip_address")
	filter.RequestID = query.Get("request_id")
	filter.SortBy = query.Get("sort_by")
	filter.SortOrder = query.Get("sort_order")

	for _, v := range query["event_type"] {
		filter.EventTypes = append(filter.EventTypes, audit.EventType(v))
	}
	for _, v := range query["result"] {
		filter.Results = append(filter.Results, audit.Result(v))
	}

	if filter.Limit, err = parseQueryInt(r, "limit", defaultAuditPageSize); err != nil {
		return filter, err
	}
	if filter.Limit > maxAuditPageSize {
		filter.Limit = maxAuditPageSize
	}
	if filter.Offset, err = parseQueryInt(r, "offset", 0); err != nil {
		return filter, err
	}

	return filter, nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/friendsincode/shopfloor/internal/audit"
	"github.com/friendsincode/shopfloor/internal/models"
)

// handleAuditList returns a paginated list of audit logs (admin only).
func (a *API) handleAuditList(w http.ResponseWriter, r *http.Request) {
	filters, ok := parseAuditFilters(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_time")
		return
	}

	logs, total, err := a.auditSvc.Query(r.Context(), filters)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to query audit logs")
		writeError(w, http.StatusInternalServerError, "query_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"audit_logs": logs,
		"total":      total,
		"limit":      filters.Limit,
		"offset":     filters.Offset,
	})
}

// parseAuditFilters extracts query filters from the request. Malformed
// timestamps are rejected, malformed paging falls back to defaults.
func parseAuditFilters(r *http.Request) (audit.QueryFilters, bool) {
	q := r.URL.Query()
	filters := audit.QueryFilters{Limit: 100}

	if userID := q.Get("user_id"); userID != "" {
		filters.UserID = &userID
	}
	if action := q.Get("action"); action != "" {
		a := models.AuditAction(action)
		filters.Action = &a
	}
	if resourceType := q.Get("resource_type"); resourceType != "" {
		filters.ResourceType = &resourceType
	}
	if resourceID := q.Get("resource_id"); resourceID != "" {
		filters.ResourceID = &resourceID
	}

	for key, dst := range map[string]**time.Time{"start_time": &filters.StartTime, "end_time": &filters.EndTime} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filters, false
		}
		*dst = &t
	}

	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 && n <= audit.MaxQueryLimit {
		filters.Limit = n
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		filters.Offset = n
	}
	return filters, true
}

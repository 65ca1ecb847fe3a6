package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"flock/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := s.service.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// Everything below is tenant-scoped; auth and role resolution happen
	// upstream, the resolved tenant arrives on X-Tenant-ID.
	tenantID := strings.TrimSpace(r.Header.Get("X-Tenant-ID"))
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "MISSING_TENANT", "X-Tenant-ID header is required", nil)
		return
	}

	segments := splitPath(r.URL.Path)
	if len(segments) < 2 || segments[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch segments[1] {
	case "bulletins":
		s.handleBulletins(w, r, tenantID, segments[2:])
	case "items":
		s.handleItems(w, r, tenantID, segments[2:])
	case "sessions":
		s.handleSessions(w, r, tenantID, segments[2:])
	case "stats":
		s.handleStats(w, r, tenantID, segments[2:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleBulletins(w http.ResponseWriter, r *http.Request, tenantID string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body CreateIssueInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		issue, err := s.service.CreateIssue(r.Context(), tenantID, body)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, issueResponse(issue))

	case len(rest) == 0 && r.Method == http.MethodGet:
		issues, err := s.service.ListIssues(r.Context(), tenantID, r.URL.Query().Get("from"), r.URL.Query().Get("to"))
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(issues))
		for _, issue := range issues {
			payload = append(payload, issueResponse(issue))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": payload})

	case len(rest) == 1 && r.Method == http.MethodGet:
		issue, err := s.service.GetIssue(r.Context(), tenantID, rest[0])
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, issueResponse(issue))

	case len(rest) == 1 && r.Method == http.MethodPut:
		var body UpdateIssueInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.writeOutcome(w, s.service.UpdateIssue(r.Context(), tenantID, rest[0], body))

	case len(rest) == 1 && r.Method == http.MethodDelete:
		s.writeOutcome(w, s.service.DeleteIssue(r.Context(), tenantID, rest[0]))

	case len(rest) == 2 && rest[1] == "layout" && r.Method == http.MethodPut:
		var body SaveLayoutInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.writeOutcome(w, s.service.SaveLayout(r.Context(), tenantID, rest[0], body))

	case len(rest) == 2 && rest[1] == "status" && r.Method == http.MethodPut:
		var body ChangeStatusInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.writeOutcome(w, s.service.ChangeStatus(r.Context(), tenantID, rest[0], body))

	case len(rest) == 2 && rest[1] == "template" && r.Method == http.MethodPut:
		var body ChangeTemplateInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.writeOutcome(w, s.service.ChangeTemplate(r.Context(), tenantID, rest[0], body))

	case len(rest) == 2 && rest[1] == "copy-settings" && r.Method == http.MethodPost:
		var body CopySettingsInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.writeOutcome(w, s.service.CopySettings(r.Context(), tenantID, rest[0], body))

	case len(rest) == 2 && rest[1] == "lock" && r.Method == http.MethodPost:
		var body LockIssueInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.writeOutcome(w, s.service.LockIssue(r.Context(), tenantID, rest[0], body))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleItems(w http.ResponseWriter, r *http.Request, tenantID string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body CreateItemInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.CreateItem(r.Context(), tenantID, body)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, itemResponse(item))

	case len(rest) == 0 && r.Method == http.MethodGet:
		items, err := s.service.ListItems(r.Context(), tenantID, r.URL.Query().Get("date"))
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(items))
		for _, item := range items {
			payload = append(payload, itemResponse(item))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": payload})

	case len(rest) == 1 && r.Method == http.MethodPut:
		var body UpdateItemInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.writeOutcome(w, s.service.UpdateItem(r.Context(), tenantID, rest[0], body))

	case len(rest) == 1 && r.Method == http.MethodDelete:
		s.writeOutcome(w, s.service.DeleteItem(r.Context(), tenantID, rest[0]))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request, tenantID string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body struct {
			BulletinID string `json:"bulletinId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.StartSession(r.Context(), tenantID, body.BulletinID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"sessionId": session.ID,
			"startedAt": session.StartedAt,
		})

	case len(rest) == 1 && r.Method == http.MethodGet:
		session, err := s.service.GetSession(r.Context(), tenantID, rest[0])
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"sessionId":  session.ID,
			"bulletinId": session.BulletinIssueID,
			"startedAt":  session.StartedAt,
			"endedAt":    session.EndedAt,
		})

	case len(rest) == 2 && rest[1] == "end" && r.Method == http.MethodPost:
		result, err := s.service.EndSession(r.Context(), tenantID, rest[0])
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case len(rest) == 2 && rest[1] == "timings" && r.Method == http.MethodPost:
		var body RecordTimingInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.writeOutcome(w, s.service.RecordTiming(r.Context(), tenantID, rest[0], body))

	case len(rest) == 2 && rest[1] == "summary" && r.Method == http.MethodGet:
		summary, err := s.service.SessionSummary(r.Context(), tenantID, rest[0])
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summaryResponse(summary))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request, tenantID string, rest []string) {
	query := r.URL.Query()
	switch {
	case len(rest) == 1 && rest[0] == "grouped" && r.Method == http.MethodGet:
		groups, err := s.service.GroupedStats(r.Context(), tenantID, StatsQuery{
			GroupBy:   query.Get("groupBy"),
			Series:    query.Get("series"),
			Presenter: query.Get("presenter"),
			TimeSlot:  query.Get("timeSlot"),
			From:      query.Get("from"),
			To:        query.Get("to"),
		})
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"groups": groups})

	case len(rest) == 1 && rest[0] == "detail" && r.Method == http.MethodGet:
		sessions, err := s.service.GroupDetail(r.Context(), tenantID,
			query.Get("groupBy"), query.Get("key"), query.Get("from"), query.Get("to"))
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(sessions))
		for _, detail := range sessions {
			payload = append(payload, map[string]any{
				"sessionId":      detail.SessionID,
				"issueDate":      detail.IssueDate.Format("2006-01-02"),
				"presenter":      detail.Presenter,
				"series":         detail.Series,
				"startedAt":      detail.StartedAt,
				"endedAt":        detail.EndedAt,
				"plannedMinutes": detail.PlannedMinutes,
				"actualMinutes":  detail.ActualMinutes,
				"deltaMinutes":   detail.DeltaMinutes,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": payload})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) writeOutcome(w http.ResponseWriter, err error) {
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("server error: %v", err)
	}
	writeError(w, status, code, message, details)
}

func issueResponse(issue store.BulletinIssue) map[string]any {
	return map[string]any{
		"id":          issue.ID,
		"serviceDate": issue.IssueDate.Format("2006-01-02"),
		"status":      issue.Status,
		"template":    issue.Template,
		"presenter":   issue.Presenter,
		"series":      issue.Series,
		"layout":      json.RawMessage(issue.Layout),
		"lockedAt":    issue.LockedAt,
		"lockedBy":    issue.LockedBy,
		"createdAt":   issue.CreatedAt,
		"updatedAt":   issue.UpdatedAt,
	}
}

func itemResponse(item store.ServiceItem) map[string]any {
	return map[string]any{
		"id":          item.ID,
		"serviceDate": item.ServiceDate.Format("2006-01-02"),
		"itemType":    item.ItemType,
		"sequence":    item.Sequence,
		"title":       item.Title,
		"durationMin": item.DurationMin,
		"section":     item.Section,
		"licensingNo": item.LicensingNo,
	}
}

func summaryResponse(summary store.SessionSummary) map[string]any {
	items := make([]map[string]any, 0, len(summary.Items))
	for _, item := range summary.Items {
		items = append(items, map[string]any{
			"itemId":          item.ItemID,
			"title":           item.Title,
			"itemType":        item.ItemType,
			"sequence":        item.Sequence,
			"plannedMin":      item.PlannedMin,
			"startedAt":       item.StartedAt,
			"endedAt":         item.EndedAt,
			"durationSeconds": item.DurationSeconds,
		})
	}
	return map[string]any{
		"sessionId": summary.SessionID,
		"items":     items,
		"totals": map[string]any{
			"plannedMinutes": summary.Totals.PlannedMinutes,
			"actualMinutes":  summary.Totals.ActualMinutes,
			"deltaMinutes":   summary.Totals.DeltaMinutes,
		},
	}
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Tenant-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

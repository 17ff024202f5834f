package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"inkwell/api/internal/export"
	"inkwell/api/internal/query"
	"inkwell/api/internal/store"
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

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
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

		checks := map[string]any{"database": map[string]any{"status": "ok"}}
		statusCode := http.StatusOK
		if err := s.service.Ping(ctx); err != nil {
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{"ok": statusCode == http.StatusOK, "checks": checks})
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/documents":
		s.handleCreateDocument(w, r)
	case r.URL.Path == "/api/versions/compare" && r.Method == http.MethodGet:
		s.handleCompareVersions(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/documents/"):
		s.routeDocuments(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/branches":
		s.handleCreateBranch(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/api/branches":
		s.handleListBranches(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/branches/merge":
		s.handleMergeBranch(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/branches/"):
		s.routeBranches(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/versions/"):
		s.routeVersions(w, r)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

// routeDocuments dispatches /api/documents/{id}[/versions|/export]
func (s *HTTPServer) routeDocuments(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	parts := strings.Split(rest, "/")
	documentID := parts[0]
	if documentID == "" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.handleGetDocument(w, r, documentID)
	case len(parts) == 2 && parts[1] == "versions" && r.Method == http.MethodPost:
		s.handleSaveVersion(w, r, documentID)
	case len(parts) == 2 && parts[1] == "versions" && r.Method == http.MethodGet:
		s.handleVersionHistory(w, r, documentID)
	case len(parts) == 2 && parts[1] == "export" && r.Method == http.MethodGet:
		s.handleExportHistory(w, r, documentID)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

// routeVersions dispatches /api/versions/{id}[/restore]
func (s *HTTPServer) routeVersions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/versions/")
	parts := strings.Split(rest, "/")
	versionID := parts[0]
	if versionID == "" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.handleGetVersion(w, r, versionID)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.handleDeleteVersion(w, r, versionID)
	case len(parts) == 2 && parts[1] == "restore" && r.Method == http.MethodPost:
		s.handleRestoreVersion(w, r, versionID)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

// routeBranches dispatches /api/branches/{id}[/switch]
func (s *HTTPServer) routeBranches(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/branches/")
	parts := strings.Split(rest, "/")
	branchID := parts[0]
	if branchID == "" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "switch" && r.Method == http.MethodPost:
		s.handleSwitchBranch(w, r, branchID)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.handleDeleteBranch(w, r, branchID)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var input CreateDocumentInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", nil)
		return
	}
	doc, err := s.service.CreateDocument(r.Context(), input)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, documentPayload(doc, 0))
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request, documentID string) {
	doc, err := s.service.GetDocument(r.Context(), documentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	count, err := s.service.CountVersions(r.Context(), documentID)
	if err != nil {
		log.Printf("http: count versions for %s: %v", documentID, err)
		count = 0
	}
	writeJSON(w, http.StatusOK, documentPayload(doc, count))
}

func (s *HTTPServer) handleSaveVersion(w http.ResponseWriter, r *http.Request, documentID string) {
	var input SaveVersionInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", nil)
		return
	}
	input.DocumentID = documentID
	version, err := s.service.SaveVersion(r.Context(), input)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, versionPayload(version))
}

func (s *HTTPServer) handleVersionHistory(w http.ResponseWriter, r *http.Request, documentID string) {
	q := r.URL.Query()

	// free-text search takes priority over filter/sort listing
	if text := q.Get("q"); text != "" {
		versions, err := s.service.SearchVersions(r.Context(), documentID, text)
		if err != nil {
			log.Printf("http: search versions for %s: %v", documentID, err)
			versions = nil
		}
		writeJSON(w, http.StatusOK, map[string]any{"versions": versionPayloads(versions)})
		return
	}

	versions, err := s.service.GetFilteredVersions(r.Context(), documentID, q.Get("filter"), query.SortOrder(q.Get("sort")))
	if err != nil {
		// missing history is a displayable state, not a failure
		log.Printf("http: version history for %s: %v", documentID, err)
		versions = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versionPayloads(versions)})
}

func (s *HTTPServer) handleExportHistory(w http.ResponseWriter, r *http.Request, documentID string) {
	format := export.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = export.FormatJSON
	}
	result, err := s.service.ExportVersionHistory(r.Context(), documentID, format)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleGetVersion(w http.ResponseWriter, r *http.Request, versionID string) {
	version, err := s.service.GetVersion(r.Context(), versionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if version == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Version not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, versionPayload(*version))
}

func (s *HTTPServer) handleDeleteVersion(w http.ResponseWriter, r *http.Request, versionID string) {
	deleted, err := s.service.DeleteVersion(r.Context(), versionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (s *HTTPServer) handleRestoreVersion(w http.ResponseWriter, r *http.Request, versionID string) {
	snapshot, err := s.service.RestoreVersion(r.Context(), versionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if snapshot == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Version not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *HTTPServer) handleCompareVersions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	idA, idB := q.Get("a"), q.Get("b")
	if idA == "" || idB == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Both a and b version ids are required", nil)
		return
	}
	result, err := s.service.CompareVersions(r.Context(), idA, idB)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if result == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Version not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleCreateBranch(w http.ResponseWriter, r *http.Request) {
	var input CreateBranchInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", nil)
		return
	}
	branch, err := s.service.CreateBranch(r.Context(), input)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, branchPayload(branch))
}

func (s *HTTPServer) handleListBranches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	projectID := q.Get("projectId")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "projectId is required", nil)
		return
	}
	var documentID *string
	if value := q.Get("documentId"); value != "" {
		documentID = &value
	}
	branches, err := s.service.ListBranches(r.Context(), Scope{ProjectID: projectID, DocumentID: documentID})
	if err != nil {
		log.Printf("http: list branches for %s: %v", projectID, err)
		branches = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{"branches": branchPayloads(branches)})
}

func (s *HTTPServer) handleSwitchBranch(w http.ResponseWriter, r *http.Request, branchID string) {
	switched, err := s.service.SwitchBranch(r.Context(), branchID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"switched": switched})
}

func (s *HTTPServer) handleDeleteBranch(w http.ResponseWriter, r *http.Request, branchID string) {
	deleted, err := s.service.DeleteBranch(r.Context(), branchID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

type mergeBranchRequest struct {
	SourceBranchID string `json:"sourceBranchId"`
	TargetBranchID string `json:"targetBranchId"`
	AuthorName     string `json:"authorName"`
}

func (s *HTTPServer) handleMergeBranch(w http.ResponseWriter, r *http.Request) {
	var input mergeBranchRequest
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", nil)
		return
	}
	if input.SourceBranchID == "" || input.TargetBranchID == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "sourceBranchId and targetBranchId are required", nil)
		return
	}
	result, err := s.service.MergeBranch(r.Context(), input.SourceBranchID, input.TargetBranchID, input.AuthorName)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if result.Outcome == MergeConflict {
		status = http.StatusConflict
	}
	payload := map[string]any{"outcome": result.Outcome}
	if result.Version != nil {
		payload["version"] = versionPayload(*result.Version)
	}
	if result.Conflict != nil {
		payload["conflict"] = result.Conflict
	}
	writeJSON(w, status, payload)
}

func documentPayload(doc store.Document, versionCount int) map[string]any {
	return map[string]any{
		"id":           doc.ID,
		"projectId":    doc.ProjectID,
		"title":        doc.Title,
		"status":       doc.Status,
		"content":      doc.Content,
		"updatedBy":    doc.UpdatedBy,
		"updatedAt":    doc.UpdatedAt,
		"versionCount": versionCount,
	}
}

func versionPayload(v store.Version) map[string]any {
	return map[string]any{
		"id":              v.ID,
		"documentId":      v.DocumentID,
		"branchId":        v.BranchID,
		"versionNumber":   v.VersionNumber,
		"parentVersionId": v.ParentVersionID,
		"content":         v.Content,
		"title":           v.Title,
		"summary":         v.Summary,
		"status":          v.Status,
		"authorName":      v.AuthorName,
		"message":         v.Message,
		"type":            v.Type,
		"contentHash":     v.ContentHash,
		"wordCount":       v.WordCount,
		"charCount":       v.CharCount,
		"timestamp":       v.Timestamp,
	}
}

func versionPayloads(versions []store.Version) []map[string]any {
	payloads := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		payloads = append(payloads, versionPayload(v))
	}
	return payloads
}

func branchPayload(b store.Branch) map[string]any {
	return map[string]any{
		"id":              b.ID,
		"projectId":       b.ProjectID,
		"documentId":      b.DocumentID,
		"name":            b.Name,
		"description":     b.Description,
		"color":           b.Color,
		"parentVersionId": b.ParentVersionID,
		"isActive":        b.IsActive,
		"createdBy":       b.CreatedBy,
		"createdAt":       b.CreatedAt,
		"updatedAt":       b.UpdatedAt,
	}
}

func branchPayloads(branches []store.Branch) []map[string]any {
	payloads := make([]map[string]any, 0, len(branches))
	for _, b := range branches {
		payloads = append(payloads, branchPayload(b))
	}
	return payloads
}

func writeDomainError(w http.ResponseWriter, err error) {
	domain := asDomainError(err)
	writeError(w, domain.Status, domain.Code, domain.Message, domain.Details)
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
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return err
	}
	return nil
}

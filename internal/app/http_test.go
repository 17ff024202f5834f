package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestHandler(svc *Service) http.Handler {
	return NewHTTPServer(svc, "*").Handler()
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("response is not valid JSON: %v (%s)", err, rec.Body.String())
	}
	return payload
}

func TestHealthRoute(t *testing.T) {
	handler := newTestHandler(newTestService(newMemStore()))

	rec := doRequest(t, handler, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	payload := decodeResponse(t, rec)
	if payload["ok"] != true {
		t.Errorf("expected ok true, got %v", payload["ok"])
	}
}

func TestUnknownRoute(t *testing.T) {
	handler := newTestHandler(newTestService(newMemStore()))

	rec := doRequest(t, handler, http.MethodGet, "/api/nowhere", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDocumentAndVersionRoutes(t *testing.T) {
	handler := newTestHandler(newTestService(newMemStore()))

	rec := doRequest(t, handler, http.MethodPost, "/api/documents",
		`{"projectId":"proj-1","title":"Chapter One","authorName":"Avery"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	created := decodeResponse(t, rec)
	documentID, _ := created["id"].(string)
	if documentID == "" {
		t.Fatalf("expected a document id, got %v", created)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/documents/"+documentID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	fetched := decodeResponse(t, rec)
	if fetched["versionCount"] != float64(0) {
		t.Errorf("expected versionCount 0 before any save, got %v", fetched["versionCount"])
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/documents/"+documentID+"/versions",
		`{"content":"Hello world","authorName":"Avery","message":"first draft"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	saved := decodeResponse(t, rec)
	if saved["versionNumber"] != float64(1) {
		t.Errorf("expected version number 1, got %v", saved["versionNumber"])
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/documents/"+documentID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	fetched = decodeResponse(t, rec)
	if fetched["versionCount"] != float64(1) {
		t.Errorf("expected versionCount 1 after the save, got %v", fetched["versionCount"])
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/documents/"+documentID+"/versions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	listing := decodeResponse(t, rec)
	versions, _ := listing["versions"].([]any)
	if len(versions) != 1 {
		t.Fatalf("expected 1 version in history, got %d", len(versions))
	}
}

func TestCompareRouteRequiresBothIDs(t *testing.T) {
	handler := newTestHandler(newTestService(newMemStore()))

	rec := doRequest(t, handler, http.MethodGet, "/api/versions/compare?a=ver_1", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDeleteVersionRouteRejectsDescendants(t *testing.T) {
	svc := newTestService(newMemStore())
	handler := newTestHandler(svc)

	doc := seedDocument(t, svc, "proj-1")
	v1 := mustSave(t, svc, doc.ID, "Hello", "first")
	mustSave(t, svc, doc.ID, "Hello world", "second")

	rec := doRequest(t, handler, http.MethodDelete, "/api/versions/"+v1.ID, "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestMergeRouteSignalsConflict(t *testing.T) {
	svc := newTestService(newMemStore())
	handler := newTestHandler(svc)

	doc := seedDocument(t, svc, "proj-1")
	v1 := mustSave(t, svc, doc.ID, "Hello", "first")
	documentID := doc.ID
	main := mustCreateBranch(t, svc, CreateBranchInput{
		ProjectID: doc.ProjectID, DocumentID: &documentID, Name: "main", ParentVersionID: v1.ID,
	})
	draft := mustCreateBranch(t, svc, CreateBranchInput{
		ProjectID: doc.ProjectID, DocumentID: &documentID, Name: "draft", ParentVersionID: v1.ID,
	})

	if _, err := svc.SwitchBranch(context.Background(), draft.ID); err != nil {
		t.Fatalf("switch: %v", err)
	}
	mustSave(t, svc, doc.ID, "Hello brave world", "draft work")
	if _, err := svc.SwitchBranch(context.Background(), main.ID); err != nil {
		t.Fatalf("switch: %v", err)
	}
	mustSave(t, svc, doc.ID, "Hello world again", "main work")

	rec := doRequest(t, handler, http.MethodPost, "/api/branches/merge",
		`{"sourceBranchId":"`+draft.ID+`","targetBranchId":"`+main.ID+`","authorName":"Avery"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (%s)", rec.Code, rec.Body.String())
	}
	payload := decodeResponse(t, rec)
	if payload["outcome"] != string(MergeConflict) {
		t.Errorf("expected conflict outcome, got %v", payload["outcome"])
	}
}

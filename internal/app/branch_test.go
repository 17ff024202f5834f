package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"inkwell/api/internal/store"
)

func mustCreateBranch(t *testing.T, svc *Service, input CreateBranchInput) store.Branch {
	t.Helper()
	branch, err := svc.CreateBranch(context.Background(), input)
	if err != nil {
		t.Fatalf("create branch %s: %v", input.Name, err)
	}
	return branch
}

func docScope(doc store.Document) Scope {
	documentID := doc.ID
	return Scope{ProjectID: doc.ProjectID, DocumentID: &documentID}
}

func TestCreateAndSwitchBranches(t *testing.T) {
	svc := newTestService(newMemStore())
	doc := seedDocument(t, svc, "proj-1")
	v1 := mustSave(t, svc, doc.ID, "Hello", "first")

	documentID := doc.ID
	main := mustCreateBranch(t, svc, CreateBranchInput{
		ProjectID:       doc.ProjectID,
		DocumentID:      &documentID,
		Name:            "main",
		ParentVersionID: v1.ID,
		CreatedBy:       "Avery",
	})
	if !main.IsActive {
		t.Error("expected the first branch of a scope to start active")
	}

	draft := mustCreateBranch(t, svc, CreateBranchInput{
		ProjectID:       doc.ProjectID,
		DocumentID:      &documentID,
		Name:            "draft",
		ParentVersionID: v1.ID,
		CreatedBy:       "Avery",
	})
	if draft.IsActive {
		t.Error("expected later branches to start inactive")
	}

	switched, err := svc.SwitchBranch(context.Background(), draft.ID)
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if !switched {
		t.Fatal("expected the switch to succeed")
	}

	branches, err := svc.ListBranches(context.Background(), docScope(doc))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(branches) != 2 {
		t.Fatalf("expected 2 branches, got %d", len(branches))
	}
	for _, b := range branches {
		wantActive := b.ID == draft.ID
		if b.IsActive != wantActive {
			t.Errorf("branch %s active=%v, want %v", b.Name, b.IsActive, wantActive)
		}
	}
}

func TestCreateBranchValidation(t *testing.T) {
	svc := newTestService(newMemStore())
	doc := seedDocument(t, svc, "proj-1")
	v1 := mustSave(t, svc, doc.ID, "Hello", "first")

	var domain *DomainError

	_, err := svc.CreateBranch(context.Background(), CreateBranchInput{ProjectID: doc.ProjectID})
	if !errors.As(err, &domain) || domain.Code != "VALIDATION_FAILED" {
		t.Errorf("expected VALIDATION_FAILED without a name, got %v", err)
	}

	_, err = svc.CreateBranch(context.Background(), CreateBranchInput{
		ProjectID:       doc.ProjectID,
		Name:            "draft",
		ParentVersionID: "ver_missing",
	})
	if !errors.As(err, &domain) || domain.Code != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND for a missing fork point, got %v", err)
	}

	other := "doc_other"
	_, err = svc.CreateBranch(context.Background(), CreateBranchInput{
		ProjectID:       doc.ProjectID,
		DocumentID:      &other,
		Name:            "draft",
		ParentVersionID: v1.ID,
	})
	if !errors.As(err, &domain) || domain.Code != "VALIDATION_FAILED" {
		t.Errorf("expected VALIDATION_FAILED for a cross-document fork point, got %v", err)
	}
}

func TestCreateProjectScopedBranchChecksProject(t *testing.T) {
	svc := newTestService(newMemStore())
	doc := seedDocument(t, svc, "proj-1")
	v1 := mustSave(t, svc, doc.ID, "Hello", "first")

	branch := mustCreateBranch(t, svc, CreateBranchInput{
		ProjectID:       doc.ProjectID,
		Name:            "novel-rewrite",
		ParentVersionID: v1.ID,
	})
	if branch.DocumentID != nil {
		t.Error("expected a project-scoped branch")
	}

	_, err := svc.CreateBranch(context.Background(), CreateBranchInput{
		ProjectID:       "proj-other",
		Name:            "stolen",
		ParentVersionID: v1.ID,
	})
	var domain *DomainError
	if !errors.As(err, &domain) || domain.Code != "VALIDATION_FAILED" {
		t.Fatalf("expected VALIDATION_FAILED for a cross-project fork point, got %v", err)
	}
}

func TestSwitchBranchMissing(t *testing.T) {
	svc := newTestService(newMemStore())

	_, err := svc.SwitchBranch(context.Background(), "br_missing")
	var domain *DomainError
	if !errors.As(err, &domain) || domain.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestConcurrentSwitchesKeepOneActive(t *testing.T) {
	svc := newTestService(newMemStore())
	doc := seedDocument(t, svc, "proj-1")
	v1 := mustSave(t, svc, doc.ID, "Hello", "first")

	documentID := doc.ID
	branches := make([]store.Branch, 0, 4)
	for _, name := range []string{"main", "draft", "edit", "alt"} {
		branches = append(branches, mustCreateBranch(t, svc, CreateBranchInput{
			ProjectID:       doc.ProjectID,
			DocumentID:      &documentID,
			Name:            name,
			ParentVersionID: v1.ID,
		}))
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		target := branches[i%len(branches)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.SwitchBranch(context.Background(), target.ID); err != nil {
				t.Errorf("switch %s: %v", target.Name, err)
			}
		}()
	}
	wg.Wait()

	listed, err := svc.ListBranches(context.Background(), docScope(doc))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	active := 0
	for _, b := range listed {
		if b.IsActive {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("expected exactly one active branch after racing switches, got %d", active)
	}
}

func TestDeleteActiveBranchRejected(t *testing.T) {
	svc := newTestService(newMemStore())
	doc := seedDocument(t, svc, "proj-1")
	v1 := mustSave(t, svc, doc.ID, "Hello", "first")

	documentID := doc.ID
	main := mustCreateBranch(t, svc, CreateBranchInput{
		ProjectID:       doc.ProjectID,
		DocumentID:      &documentID,
		Name:            "main",
		ParentVersionID: v1.ID,
	})
	draft := mustCreateBranch(t, svc, CreateBranchInput{
		ProjectID:       doc.ProjectID,
		DocumentID:      &documentID,
		Name:            "draft",
		ParentVersionID: v1.ID,
	})

	_, err := svc.DeleteBranch(context.Background(), main.ID)
	var domain *DomainError
	if !errors.As(err, &domain) || domain.Code != "VALIDATION_FAILED" {
		t.Fatalf("expected VALIDATION_FAILED deleting the active branch, got %v", err)
	}

	deleted, err := svc.DeleteBranch(context.Background(), draft.ID)
	if err != nil {
		t.Fatalf("delete inactive: %v", err)
	}
	if !deleted {
		t.Fatal("expected the inactive branch to be deleted")
	}
}

func TestSaveAttachesToActiveBranch(t *testing.T) {
	svc := newTestService(newMemStore())
	doc := seedDocument(t, svc, "proj-1")
	v1 := mustSave(t, svc, doc.ID, "Hello", "first")

	documentID := doc.ID
	mustCreateBranch(t, svc, CreateBranchInput{
		ProjectID:       doc.ProjectID,
		DocumentID:      &documentID,
		Name:            "main",
		ParentVersionID: v1.ID,
	})
	draft := mustCreateBranch(t, svc, CreateBranchInput{
		ProjectID:       doc.ProjectID,
		DocumentID:      &documentID,
		Name:            "draft",
		ParentVersionID: v1.ID,
	})
	if _, err := svc.SwitchBranch(context.Background(), draft.ID); err != nil {
		t.Fatalf("switch: %v", err)
	}

	v2 := mustSave(t, svc, doc.ID, "Hello world", "on the draft")
	if v2.BranchID == nil || *v2.BranchID != draft.ID {
		t.Errorf("expected the save to land on the draft branch, got %v", v2.BranchID)
	}
	if v2.ParentVersionID == nil || *v2.ParentVersionID != v1.ID {
		t.Errorf("expected the save to descend from the fork point, got %v", v2.ParentVersionID)
	}
}

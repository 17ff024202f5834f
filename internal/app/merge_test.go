package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"inkwell/api/internal/store"
)

// forkFixture builds a document with one saved version and two branches
// forked from it, with main active.
type forkFixture struct {
	svc   *Service
	doc   store.Document
	v1    store.Version
	main  store.Branch
	draft store.Branch
}

func newForkFixture(t *testing.T) forkFixture {
	t.Helper()
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
	draft := mustCreateBranch(t, svc, CreateBranchInput{
		ProjectID:       doc.ProjectID,
		DocumentID:      &documentID,
		Name:            "draft",
		ParentVersionID: v1.ID,
		CreatedBy:       "Avery",
	})
	return forkFixture{svc: svc, doc: doc, v1: v1, main: main, draft: draft}
}

func (f forkFixture) switchTo(t *testing.T, branchID string) {
	t.Helper()
	if _, err := f.svc.SwitchBranch(context.Background(), branchID); err != nil {
		t.Fatalf("switch: %v", err)
	}
}

func TestMergeFastForward(t *testing.T) {
	f := newForkFixture(t)
	f.switchTo(t, f.draft.ID)
	v2 := mustSave(t, f.svc, f.doc.ID, "Hello world", "draft work")

	result, err := f.svc.MergeBranch(context.Background(), f.draft.ID, f.main.ID, "Avery")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if result.Outcome != MergeFastForwarded {
		t.Fatalf("expected fastForwarded, got %s", result.Outcome)
	}
	merged := result.Version
	if merged == nil {
		t.Fatal("expected a merge version")
	}
	if merged.Content != v2.Content {
		t.Errorf("expected the merge to carry the source content, got %q", merged.Content)
	}
	if merged.VersionNumber != 3 {
		t.Errorf("expected version number 3, got %d", merged.VersionNumber)
	}
	if merged.ParentVersionID == nil || *merged.ParentVersionID != f.v1.ID {
		t.Errorf("expected the merge to descend from the target tip %s, got %v", f.v1.ID, merged.ParentVersionID)
	}
	if merged.BranchID == nil || *merged.BranchID != f.main.ID {
		t.Errorf("expected the merge to land on the target branch, got %v", merged.BranchID)
	}
	if merged.Type != "merge" {
		t.Errorf("expected type merge, got %s", merged.Type)
	}
	if merged.Message != `Merge branch "draft" into "main"` {
		t.Errorf("unexpected merge message %q", merged.Message)
	}
}

func TestMergeDivergedReportsConflict(t *testing.T) {
	f := newForkFixture(t)
	f.switchTo(t, f.draft.ID)
	v2 := mustSave(t, f.svc, f.doc.ID, "Hello brave world", "draft work")
	f.switchTo(t, f.main.ID)
	v3 := mustSave(t, f.svc, f.doc.ID, "Hello world again", "main work")

	result, err := f.svc.MergeBranch(context.Background(), f.draft.ID, f.main.ID, "Avery")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if result.Outcome != MergeConflict {
		t.Fatalf("expected conflict, got %s", result.Outcome)
	}
	if result.Version != nil {
		t.Error("a conflicted merge must not write a version")
	}
	if result.Conflict == nil {
		t.Fatal("expected conflict details")
	}
	if result.Conflict.SourceTip.VersionID != v2.ID {
		t.Errorf("expected source tip %s, got %s", v2.ID, result.Conflict.SourceTip.VersionID)
	}
	if result.Conflict.TargetTip.VersionID != v3.ID {
		t.Errorf("expected target tip %s, got %s", v3.ID, result.Conflict.TargetTip.VersionID)
	}
	if len(result.Conflict.Diff.Added)+len(result.Conflict.Diff.Removed)+len(result.Conflict.Diff.Changed) == 0 {
		t.Error("expected the conflict diff to carry the divergence")
	}

	count, err := f.svc.CountVersions(context.Background(), f.doc.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Errorf("expected the version count to stay at 3, got %d", count)
	}
}

func TestMergeFreshBranchesIsNoOp(t *testing.T) {
	f := newForkFixture(t)

	// Neither branch has its own versions, so both tips are the fork point.
	result, err := f.svc.MergeBranch(context.Background(), f.draft.ID, f.main.ID, "Avery")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if result.Outcome != MergeNoOp {
		t.Fatalf("expected noop, got %s", result.Outcome)
	}
}

func TestMergeTwiceIsNoOp(t *testing.T) {
	f := newForkFixture(t)
	f.switchTo(t, f.draft.ID)
	mustSave(t, f.svc, f.doc.ID, "Hello world", "draft work")

	first, err := f.svc.MergeBranch(context.Background(), f.draft.ID, f.main.ID, "Avery")
	if err != nil {
		t.Fatalf("first merge: %v", err)
	}
	if first.Outcome != MergeFastForwarded {
		t.Fatalf("expected fastForwarded, got %s", first.Outcome)
	}

	second, err := f.svc.MergeBranch(context.Background(), f.draft.ID, f.main.ID, "Avery")
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if second.Outcome != MergeNoOp {
		t.Fatalf("expected noop on re-merge, got %s", second.Outcome)
	}
}

func TestMergeValidation(t *testing.T) {
	f := newForkFixture(t)
	var domain *DomainError

	_, err := f.svc.MergeBranch(context.Background(), f.main.ID, f.main.ID, "Avery")
	if !errors.As(err, &domain) || domain.Code != "VALIDATION_FAILED" {
		t.Errorf("expected VALIDATION_FAILED for a self merge, got %v", err)
	}

	_, err = f.svc.MergeBranch(context.Background(), "br_missing", f.main.ID, "Avery")
	if !errors.As(err, &domain) || domain.Code != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND for a missing source, got %v", err)
	}

	_, err = f.svc.MergeBranch(context.Background(), f.draft.ID, "br_missing", "Avery")
	if !errors.As(err, &domain) || domain.Code != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND for a missing target, got %v", err)
	}
}

func TestMergeAcrossProjectsRejected(t *testing.T) {
	f := newForkFixture(t)

	otherDoc := seedDocument(t, f.svc, "proj-2")
	otherV1 := mustSave(t, f.svc, otherDoc.ID, "Elsewhere", "first")
	otherID := otherDoc.ID
	foreign := mustCreateBranch(t, f.svc, CreateBranchInput{
		ProjectID:       otherDoc.ProjectID,
		DocumentID:      &otherID,
		Name:            "main",
		ParentVersionID: otherV1.ID,
	})

	_, err := f.svc.MergeBranch(context.Background(), foreign.ID, f.main.ID, "Avery")
	var domain *DomainError
	if !errors.As(err, &domain) || domain.Code != "VALIDATION_FAILED" {
		t.Fatalf("expected VALIDATION_FAILED across projects, got %v", err)
	}
}

// slowTipStore stretches the gap between reading the latest version and
// inserting the next one, so racing writers collide on the same version
// number unless they share a lock.
type slowTipStore struct {
	*memStore
}

func (s *slowTipStore) LastVersion(ctx context.Context, documentID string) (*store.Version, error) {
	last, err := s.memStore.LastVersion(ctx, documentID)
	time.Sleep(20 * time.Millisecond)
	return last, err
}

func TestConcurrentSaveAndMergeKeepNumbersUnique(t *testing.T) {
	svc := newTestService(&slowTipStore{newMemStore()})
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
	draft := mustCreateBranch(t, svc, CreateBranchInput{
		ProjectID:       doc.ProjectID,
		DocumentID:      &documentID,
		Name:            "draft",
		ParentVersionID: v1.ID,
		CreatedBy:       "Avery",
	})

	// Give draft a version of its own so merging it into main can
	// fast-forward, then switch back to main for the racing save.
	if _, err := svc.SwitchBranch(context.Background(), draft.ID); err != nil {
		t.Fatalf("switch to draft: %v", err)
	}
	mustSave(t, svc, doc.ID, "Hello world", "draft work")
	if _, err := svc.SwitchBranch(context.Background(), main.ID); err != nil {
		t.Fatalf("switch to main: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := svc.MergeBranch(context.Background(), draft.ID, main.ID, "Avery")
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, err := svc.SaveVersion(context.Background(), SaveVersionInput{
			DocumentID: doc.ID,
			Content:    "Hello everyone",
			AuthorName: "Blake",
			Message:    "racing save",
		})
		errs <- err
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("racing writer failed: %v", err)
		}
	}

	// Whichever writer lands first, the numbers must stay unique and
	// gap-free.
	versions, err := svc.GetVersionHistory(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	seen := make(map[int]bool, len(versions))
	for _, v := range versions {
		if seen[v.VersionNumber] {
			t.Fatalf("duplicate version number %d", v.VersionNumber)
		}
		seen[v.VersionNumber] = true
	}
	for n := 1; n <= len(versions); n++ {
		if !seen[n] {
			t.Errorf("expected version number %d to exist", n)
		}
	}
}

package app

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

type CreateBranchInput struct {
	ProjectID       string  `json:"projectId"`
	DocumentID      *string `json:"documentId"`
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	Color           string  `json:"color"`
	ParentVersionID string  `json:"parentVersionId"`
	CreatedBy       string  `json:"createdBy"`
}

// CreateBranch creates a branch anchored at an existing version in the same
// scope. The first branch of a scope becomes active immediately; later ones
// start inactive and require an explicit switch.
func (s *Service) CreateBranch(ctx context.Context, input CreateBranchInput) (store.Branch, error) {
	if s.store == nil {
		return store.Branch{}, notConfigured()
	}
	if input.ProjectID == "" || input.Name == "" {
		return store.Branch{}, validationFailed("projectId and name are required", nil)
	}
	if input.ParentVersionID == "" {
		return store.Branch{}, validationFailed("parentVersionId is required", nil)
	}

	forkPoint, err := s.store.GetVersion(ctx, input.ParentVersionID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Branch{}, notFound("fork point version not found")
	}
	if err != nil {
		return store.Branch{}, err
	}
	if err := s.checkForkPointScope(ctx, forkPoint, input.ProjectID, input.DocumentID); err != nil {
		return store.Branch{}, err
	}

	scope := Scope{ProjectID: input.ProjectID, DocumentID: input.DocumentID}
	lock := s.scopeLock(scope.key())
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.store.CountBranches(ctx, input.ProjectID, input.DocumentID)
	if err != nil {
		return store.Branch{}, err
	}

	branch := store.Branch{
		ID:              util.NewBranchID(),
		ProjectID:       input.ProjectID,
		DocumentID:      input.DocumentID,
		Name:            input.Name,
		Description:     input.Description,
		Color:           input.Color,
		ParentVersionID: input.ParentVersionID,
		IsActive:        existing == 0,
		CreatedBy:       input.CreatedBy,
	}
	if err := s.store.InsertBranch(ctx, branch); err != nil {
		return store.Branch{}, createFailed("could not create branch", err)
	}

	if s.mirror != nil && branch.Name != "main" {
		documentID := forkPoint.DocumentID
		go func() {
			if err := s.mirror.EnsureBranch(documentID, branch.Name, "main"); err != nil {
				log.Printf("mirror: ensure branch %s for %s: %v", branch.Name, documentID, err)
			}
		}()
	}

	return branch, nil
}

// checkForkPointScope verifies the fork point version belongs to the scope
// the branch is being created in.
func (s *Service) checkForkPointScope(ctx context.Context, forkPoint store.Version, projectID string, documentID *string) error {
	if documentID != nil {
		if forkPoint.DocumentID != *documentID {
			return validationFailed("fork point belongs to a different document", nil)
		}
		return nil
	}
	doc, err := s.store.GetDocument(ctx, forkPoint.DocumentID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("fork point document not found")
	}
	if err != nil {
		return err
	}
	if doc.ProjectID != projectID {
		return validationFailed("fork point belongs to a different project", nil)
	}
	return nil
}

func (s *Service) ListBranches(ctx context.Context, scope Scope) ([]store.Branch, error) {
	if s.store == nil {
		return nil, notConfigured()
	}
	return s.store.ListBranches(ctx, scope.ProjectID, scope.DocumentID)
}

// SwitchBranch makes the given branch the active one for its scope. The
// deactivate-all/activate-one pair runs inside one store transaction and
// under the per-scope lock, so racing switches cannot leave the scope with
// zero or two active branches.
func (s *Service) SwitchBranch(ctx context.Context, branchID string) (bool, error) {
	if s.store == nil {
		return false, notConfigured()
	}

	branch, err := s.store.GetBranch(ctx, branchID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, notFound("branch not found")
	}
	if err != nil {
		return false, err
	}

	scope := Scope{ProjectID: branch.ProjectID, DocumentID: branch.DocumentID}
	lock := s.scopeLock(scope.key())
	lock.Lock()
	defer lock.Unlock()

	switched, err := s.store.SwitchBranch(ctx, branch.ProjectID, branch.DocumentID, branchID)
	if err != nil {
		return false, updateFailed("could not switch branch", err)
	}
	if !switched {
		return false, notFound("branch not found in scope")
	}
	return true, nil
}

// DeleteBranch removes branch metadata. The active branch is protected;
// callers must switch away first so the scope never loses its current
// pointer.
func (s *Service) DeleteBranch(ctx context.Context, branchID string) (bool, error) {
	if s.store == nil {
		return false, notConfigured()
	}

	branch, err := s.store.GetBranch(ctx, branchID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, notFound("branch not found")
	}
	if err != nil {
		return false, err
	}
	if branch.IsActive {
		return false, validationFailed("cannot delete the active branch, switch away first", nil)
	}

	scope := Scope{ProjectID: branch.ProjectID, DocumentID: branch.DocumentID}
	lock := s.scopeLock(scope.key())
	lock.Lock()
	defer lock.Unlock()

	deleted, err := s.store.DeleteBranch(ctx, branchID)
	if err != nil {
		return false, updateFailed("could not delete branch", err)
	}
	return deleted, nil
}

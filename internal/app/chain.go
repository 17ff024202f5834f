package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"inkwell/api/internal/fingerprint"
	"inkwell/api/internal/search"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

const (
	exportArchiveTimeout = 10 * time.Second
	cacheWriteTimeout    = 3 * time.Second
)

type SaveVersionInput struct {
	DocumentID string `json:"-"`
	Content    string `json:"content"`
	Title      string `json:"title"`
	Summary    string `json:"summary"`
	Status     string `json:"status"`
	AuthorName string `json:"authorName"`
	Message    string `json:"message"`
	Type       string `json:"type"`
}

// SaveVersion appends a new immutable version to the document's chain:
// fingerprint the content, point at the previous tip, assign the next
// number, and associate the active branch if the scope has one. Existing
// rows are never touched.
func (s *Service) SaveVersion(ctx context.Context, input SaveVersionInput) (store.Version, error) {
	if s.store == nil {
		return store.Version{}, notConfigured()
	}

	doc, err := s.GetDocument(ctx, input.DocumentID)
	if err != nil {
		return store.Version{}, err
	}

	if input.Type == "" {
		input.Type = s.cfg.DefaultVersionType
	}
	if input.Status == "" {
		input.Status = doc.Status
	}
	if input.Title == "" {
		input.Title = doc.Title
	}

	// Serialize version writes per document so numbers stay gap-free.
	lock := s.documentLock(input.DocumentID)
	lock.Lock()
	defer lock.Unlock()

	fp := fingerprint.Compute(input.Content)

	last, err := s.store.LastVersion(ctx, input.DocumentID)
	if err != nil {
		return store.Version{}, err
	}

	version := store.Version{
		ID:            util.NewVersionID(),
		DocumentID:    input.DocumentID,
		VersionNumber: 1,
		Content:       input.Content,
		Title:         input.Title,
		Summary:       input.Summary,
		Status:        input.Status,
		AuthorName:    input.AuthorName,
		Message:       input.Message,
		Type:          input.Type,
		ContentHash:   fp.Hash,
		WordCount:     fp.WordCount,
		CharCount:     fp.CharCount,
		Timestamp:     time.Now().UTC(),
	}
	if last != nil {
		version.VersionNumber = last.VersionNumber + 1
	}

	branchName := "main"
	active, err := s.activeBranchForDocument(ctx, doc)
	if err != nil {
		return store.Version{}, err
	}
	if active != nil {
		branchID := active.ID
		version.BranchID = &branchID
		branchName = active.Name
	}

	parent, err := s.parentFor(ctx, last, active)
	if err != nil {
		return store.Version{}, err
	}
	if parent != nil {
		parentID := parent.ID
		version.ParentVersionID = &parentID
	}

	if err := s.store.InsertVersion(ctx, version); err != nil {
		return store.Version{}, createFailed("could not save version", err)
	}

	// The document row tracks the latest saved state.
	if err := s.store.UpdateDocumentState(ctx, doc.ID, input.Title, input.Status, input.Content, input.AuthorName); err != nil {
		log.Printf("versions: update document state for %s: %v", doc.ID, err)
	}

	s.history.Invalidate(ctx, input.DocumentID)
	s.indexVersion(version)
	s.mirrorSave(doc.ID, branchName, version)

	return version, nil
}

// parentFor picks the version the new save descends from: the active
// branch's tip when a branch is active, otherwise the document's latest
// version. Saving onto a branch with no versions of its own descends from
// the branch's fork point, which is how two branches come to diverge.
func (s *Service) parentFor(ctx context.Context, last *store.Version, active *store.Branch) (*store.Version, error) {
	if active == nil {
		return last, nil
	}
	tip, err := s.store.LastVersionOnBranch(ctx, active.ID)
	if err != nil {
		return nil, err
	}
	if tip != nil {
		return tip, nil
	}
	forkPoint, err := s.store.GetVersion(ctx, active.ParentVersionID)
	if errors.Is(err, sql.ErrNoRows) {
		return last, nil
	}
	if err != nil {
		return nil, err
	}
	return &forkPoint, nil
}

// activeBranchForDocument prefers a document-scoped active branch, falling
// back to the project-wide one.
func (s *Service) activeBranchForDocument(ctx context.Context, doc store.Document) (*store.Branch, error) {
	documentID := doc.ID
	active, err := s.store.ActiveBranch(ctx, doc.ProjectID, &documentID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return active, nil
	}
	return s.store.ActiveBranch(ctx, doc.ProjectID, nil)
}

// GetVersionHistory lists a document's versions, newest first. A missing or
// empty history is a valid, displayable state, so read errors degrade to an
// empty list only at the HTTP layer; here they propagate.
func (s *Service) GetVersionHistory(ctx context.Context, documentID string) ([]store.Version, error) {
	if s.store == nil {
		return nil, notConfigured()
	}

	if versions, found := s.history.GetHistory(ctx, documentID); found {
		return versions, nil
	}

	versions, err := s.store.ListVersionsByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	if s.history != nil {
		snapshot := versions
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
			defer cancel()
			if err := s.history.SetHistory(ctx, documentID, snapshot); err != nil {
				log.Printf("cache: set history for %s: %v", documentID, err)
			}
		}()
	}
	return versions, nil
}

func (s *Service) GetVersion(ctx context.Context, versionID string) (*store.Version, error) {
	if s.store == nil {
		return nil, notConfigured()
	}
	version, err := s.store.GetVersion(ctx, versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &version, nil
}

// DeleteVersion removes a version record. Versions that still have
// descendants cannot be removed; re-parenting is not performed, so allowing
// it would orphan every child in the chain.
func (s *Service) DeleteVersion(ctx context.Context, versionID string) (bool, error) {
	if s.store == nil {
		return false, notConfigured()
	}

	version, err := s.store.GetVersion(ctx, versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, notFound("version not found")
	}
	if err != nil {
		return false, err
	}

	hasChildren, err := s.store.HasChildVersions(ctx, versionID)
	if err != nil {
		return false, err
	}
	if hasChildren {
		return false, validationFailed("version has descendants and cannot be deleted", nil)
	}

	deleted, err := s.store.DeleteVersion(ctx, versionID)
	if err != nil {
		return false, updateFailed("could not delete version", err)
	}
	if deleted {
		s.history.Invalidate(ctx, version.DocumentID)
		s.removeFromIndex(versionID)
	}
	return deleted, nil
}

// ---- side channels, all best-effort ----

func (s *Service) indexVersion(version store.Version) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		record := search.VersionRecord{
			ID:         version.ID,
			DocumentID: version.DocumentID,
			Title:      version.Title,
			AuthorName: version.AuthorName,
			Message:    version.Message,
			Content:    version.Content,
			Type:       version.Type,
			Timestamp:  version.Timestamp.Unix(),
		}
		if err := s.meili.IndexVersion(record); err != nil {
			log.Printf("search: index version %s: %v", version.ID, err)
		}
	}()
}

func (s *Service) removeFromIndex(versionID string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteVersion(versionID); err != nil {
			log.Printf("search: delete version %s: %v", versionID, err)
		}
	}()
}

func (s *Service) mirrorSave(documentID, branchName string, version store.Version) {
	if s.mirror == nil {
		return
	}
	go func() {
		if err := s.mirror.EnsureRepo(documentID, version.Content, version.AuthorName); err != nil {
			log.Printf("mirror: ensure repo for %s: %v", documentID, err)
			return
		}
		if branchName != "main" {
			if err := s.mirror.EnsureBranch(documentID, branchName, "main"); err != nil {
				log.Printf("mirror: ensure branch %s for %s: %v", branchName, documentID, err)
				return
			}
		}
		message := version.Message
		if message == "" {
			message = "Save version " + version.ID
		}
		if _, err := s.mirror.MirrorSave(documentID, branchName, version.Content, version.AuthorName, message); err != nil {
			log.Printf("mirror: save for %s: %v", documentID, err)
		}
	}()
}

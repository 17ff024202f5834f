package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"sync"

	"inkwell/api/internal/cache"
	"inkwell/api/internal/config"
	"inkwell/api/internal/diff"
	"inkwell/api/internal/export"
	"inkwell/api/internal/gitmirror"
	"inkwell/api/internal/query"
	"inkwell/api/internal/search"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

// Scope identifies the branch namespace: a whole project, or a single
// document within it. At most one branch per scope is active at a time.
type Scope struct {
	ProjectID  string
	DocumentID *string
}

func (s Scope) key() string {
	if s.DocumentID == nil {
		return s.ProjectID
	}
	return s.ProjectID + "|" + *s.DocumentID
}

// DocumentSnapshot is the editable view reconstructed from a version, the
// inverse of what saveVersion captures.
type DocumentSnapshot struct {
	DocumentID string `json:"documentId"`
	Title      string `json:"title"`
	Summary    string `json:"summary"`
	Status     string `json:"status"`
	Content    string `json:"content"`
}

type dataStore interface {
	InsertDocument(context.Context, store.Document) error
	GetDocument(context.Context, string) (store.Document, error)
	UpdateDocumentState(context.Context, string, string, string, string, string) error

	InsertVersion(context.Context, store.Version) error
	GetVersion(context.Context, string) (store.Version, error)
	ListVersionsByDocument(context.Context, string) ([]store.Version, error)
	LastVersion(context.Context, string) (*store.Version, error)
	LastVersionOnBranch(context.Context, string) (*store.Version, error)
	CountVersions(context.Context, string) (int, error)
	HasChildVersions(context.Context, string) (bool, error)
	DeleteVersion(context.Context, string) (bool, error)

	InsertBranch(context.Context, store.Branch) error
	GetBranch(context.Context, string) (store.Branch, error)
	ListBranches(context.Context, string, *string) ([]store.Branch, error)
	CountBranches(context.Context, string, *string) (int, error)
	ActiveBranch(context.Context, string, *string) (*store.Branch, error)
	SwitchBranch(context.Context, string, *string, string) (bool, error)
	DeleteBranch(context.Context, string) (bool, error)

	Ping(ctx context.Context) error
}

type Service struct {
	cfg     config.Config
	store   dataStore
	history *cache.HistoryCache
	meili   *search.Meili
	mirror  *gitmirror.Service
	archive archiveSink

	scopeMu    sync.Mutex
	scopeLocks map[string]*sync.Mutex
	docLocks   map[string]*sync.Mutex
}

// archiveSink is what the service needs from the export archive.
type archiveSink interface {
	StoreExport(ctx context.Context, documentID, filename, mimeType string, data []byte) (string, error)
}

func New(cfg config.Config, dataStore *store.PostgresStore) *Service {
	return &Service{
		cfg:        cfg,
		store:      dataStore,
		scopeLocks: make(map[string]*sync.Mutex),
		docLocks:   make(map[string]*sync.Mutex),
	}
}

// WithHistoryCache attaches the optional Redis history cache.
func (s *Service) WithHistoryCache(history *cache.HistoryCache) *Service {
	s.history = history
	return s
}

// WithSearch attaches the optional Meilisearch accelerator.
func (s *Service) WithSearch(meili *search.Meili) *Service {
	s.meili = meili
	return s
}

// WithGitMirror attaches the optional per-document git trail.
func (s *Service) WithGitMirror(mirror *gitmirror.Service) *Service {
	s.mirror = mirror
	return s
}

// WithArchive attaches the optional export archive sink.
func (s *Service) WithArchive(sink archiveSink) *Service {
	s.archive = sink
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	if s.store == nil {
		return notConfigured()
	}
	return s.store.Ping(ctx)
}

// scopeLock serializes switch/merge/save sequences for one scope, since the
// store's row operations alone cannot order two racing multi-step updates.
func (s *Service) scopeLock(key string) *sync.Mutex {
	s.scopeMu.Lock()
	defer s.scopeMu.Unlock()
	lock, ok := s.scopeLocks[key]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.scopeLocks[key] = lock
	return lock
}

// documentLock guards every path that appends a version to a document's
// chain. Saves and merge commits each read the latest number before
// inserting, so they must agree on one mutex or racing writers assign the
// same number. Document locks live in their own map: a merge holds a scope
// lock and a document lock at once, and the two namespaces must never hand
// out the same mutex.
func (s *Service) documentLock(documentID string) *sync.Mutex {
	s.scopeMu.Lock()
	defer s.scopeMu.Unlock()
	lock, ok := s.docLocks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.docLocks[documentID] = lock
	return lock
}

// ---- documents ----

type CreateDocumentInput struct {
	ProjectID string `json:"projectId"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	Content   string `json:"content"`
	Author    string `json:"authorName"`
}

func (s *Service) CreateDocument(ctx context.Context, input CreateDocumentInput) (store.Document, error) {
	if s.store == nil {
		return store.Document{}, notConfigured()
	}
	if input.ProjectID == "" {
		return store.Document{}, validationFailed("projectId is required", nil)
	}
	if input.Status == "" {
		input.Status = "draft"
	}
	item := store.Document{
		ID:        util.NewDocumentID(),
		ProjectID: input.ProjectID,
		Title:     input.Title,
		Status:    input.Status,
		Content:   input.Content,
		UpdatedBy: input.Author,
	}
	if err := s.store.InsertDocument(ctx, item); err != nil {
		return store.Document{}, createFailed("could not create document", err)
	}
	return item, nil
}

func (s *Service) GetDocument(ctx context.Context, documentID string) (store.Document, error) {
	if s.store == nil {
		return store.Document{}, notConfigured()
	}
	item, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, notFound("document not found")
	}
	if err != nil {
		return store.Document{}, err
	}
	return item, nil
}

// CountVersions reports how many versions a document has accumulated.
func (s *Service) CountVersions(ctx context.Context, documentID string) (int, error) {
	if s.store == nil {
		return 0, notConfigured()
	}
	return s.store.CountVersions(ctx, documentID)
}

// ---- restore / queries / export ----

// RestoreVersion reconstructs an editable document view from a stored
// version. It does not write anything; applying the snapshot is the
// caller's decision.
func (s *Service) RestoreVersion(ctx context.Context, versionID string) (*DocumentSnapshot, error) {
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
	return &DocumentSnapshot{
		DocumentID: version.DocumentID,
		Title:      version.Title,
		Summary:    version.Summary,
		Status:     version.Status,
		Content:    version.Content,
	}, nil
}

// CompareVersions produces the structured diff between any two stored
// versions. A missing version yields nil rather than an error, mirroring
// how the rest of the read surface degrades.
func (s *Service) CompareVersions(ctx context.Context, versionIDA, versionIDB string) (*diff.Result, error) {
	if s.store == nil {
		return nil, notConfigured()
	}
	a, err := s.GetVersion(ctx, versionIDA)
	if err != nil {
		return nil, err
	}
	b, err := s.GetVersion(ctx, versionIDB)
	if err != nil {
		return nil, err
	}
	if a == nil || b == nil {
		return nil, nil
	}
	result := diff.Compare(*a, *b)
	return &result, nil
}

// GetFilteredVersions lists a document's history filtered by version type
// and ordered per sortOrder.
func (s *Service) GetFilteredVersions(ctx context.Context, documentID, typeFilter string, sortOrder query.SortOrder) ([]store.Version, error) {
	versions, err := s.GetVersionHistory(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return query.Sort(query.Filter(versions, typeFilter), sortOrder), nil
}

// SearchVersions matches versions of a document against a free-text query.
// Meilisearch serves the query when available; otherwise the in-memory
// substring scan does.
func (s *Service) SearchVersions(ctx context.Context, documentID, text string) ([]store.Version, error) {
	versions, err := s.GetVersionHistory(ctx, documentID)
	if err != nil {
		return nil, err
	}

	if s.meili != nil && s.meili.Healthy() {
		ids, err := s.meili.SearchVersionIDs(search.Query{Text: text, DocumentID: documentID})
		if err == nil {
			byID := make(map[string]store.Version, len(versions))
			for _, v := range versions {
				byID[v.ID] = v
			}
			matched := make([]store.Version, 0, len(ids))
			for _, id := range ids {
				if v, ok := byID[id]; ok {
					matched = append(matched, v)
				}
			}
			return matched, nil
		}
		log.Printf("search: meilisearch error, falling back to scan: %v", err)
	}

	return query.Search(versions, text), nil
}

// ExportVersionHistory renders the full history in the requested format and
// archives a copy when an archive sink is configured.
func (s *Service) ExportVersionHistory(ctx context.Context, documentID string, format export.Format) (*export.Result, error) {
	versions, err := s.GetVersionHistory(ctx, documentID)
	if err != nil {
		return nil, err
	}

	result, err := export.History(documentID, versions, format)
	if err != nil {
		if errors.Is(err, export.ErrUnsupportedFormat) {
			return nil, validationFailed("unsupported export format", string(format))
		}
		return nil, err
	}

	if s.archive != nil {
		go func(res export.Result) {
			ctx, cancel := context.WithTimeout(context.Background(), exportArchiveTimeout)
			defer cancel()
			key, err := s.archive.StoreExport(ctx, documentID, res.Filename, res.MimeType, res.Data)
			if err != nil {
				log.Printf("archive: store export for %s: %v", documentID, err)
				return
			}
			log.Printf("archive: stored export %s", key)
		}(*result)
	}

	return result, nil
}

// Package search maintains an optional Meilisearch index over version
// records. When Meilisearch is absent or unhealthy, callers fall back to
// the in-memory substring scan in internal/query.
package search

// VersionRecord is the data indexed for a version snapshot.
type VersionRecord struct {
	ID         string `json:"id"`
	DocumentID string `json:"documentId"`
	Title      string `json:"title"`
	AuthorName string `json:"authorName"`
	Message    string `json:"message"`
	Content    string `json:"content"`
	Type       string `json:"type"`
	Timestamp  int64  `json:"timestamp"`
}

// Query describes a version search request.
type Query struct {
	Text       string
	DocumentID string
	Limit      int
}

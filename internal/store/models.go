package store

import "time"

// Version is an immutable snapshot of a document's content plus lineage.
// Rows are only ever inserted or deleted, never updated.
type Version struct {
	ID              string
	DocumentID      string
	BranchID        *string
	VersionNumber   int
	ParentVersionID *string
	Content         string
	Title           string
	Summary         string
	Status          string
	AuthorName      string
	Message         string
	Type            string
	ContentHash     string
	WordCount       int
	CharCount       int
	Timestamp       time.Time
}

// Branch is a named pointer anchored at a fork-point version. DocumentID is
// nil for project-wide branches.
type Branch struct {
	ID              string
	ProjectID       string
	DocumentID      *string
	Name            string
	Description     string
	Color           string
	ParentVersionID string
	IsActive        bool
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Document struct {
	ID        string
	ProjectID string
	Title     string
	Status    string
	Content   string
	UpdatedBy string
	UpdatedAt time.Time
}

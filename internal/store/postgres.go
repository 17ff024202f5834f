package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- documents ----

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, project_id, title, status, content, updated_by_name)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.ProjectID, item.Title, item.Status, item.Content, item.UpdatedBy)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var item Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, status, content, updated_by_name, updated_at
		FROM documents
		WHERE id=$1
	`, documentID).Scan(&item.ID, &item.ProjectID, &item.Title, &item.Status, &item.Content, &item.UpdatedBy, &item.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	return item, nil
}

func (s *PostgresStore) UpdateDocumentState(ctx context.Context, documentID, title, status, content, updatedBy string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET title=$2, status=$3, content=$4, updated_by_name=$5, updated_at=NOW()
		WHERE id=$1
	`, documentID, title, status, content, updatedBy)
	if err != nil {
		return fmt.Errorf("update document state: %w", err)
	}
	return nil
}

// ---- versions ----

const versionColumns = `
	id, document_id, branch_id, version_number, parent_version_id,
	content, title, summary, status, author_name, message, type,
	content_hash, word_count, char_count, created_at
`

func scanVersion(row interface{ Scan(...any) error }) (Version, error) {
	var item Version
	err := row.Scan(
		&item.ID, &item.DocumentID, &item.BranchID, &item.VersionNumber, &item.ParentVersionID,
		&item.Content, &item.Title, &item.Summary, &item.Status, &item.AuthorName, &item.Message, &item.Type,
		&item.ContentHash, &item.WordCount, &item.CharCount, &item.Timestamp,
	)
	return item, err
}

func (s *PostgresStore) InsertVersion(ctx context.Context, item Version) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO versions (
			id, document_id, branch_id, version_number, parent_version_id,
			content, title, summary, status, author_name, message, type,
			content_hash, word_count, char_count, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		item.ID, item.DocumentID, item.BranchID, item.VersionNumber, item.ParentVersionID,
		item.Content, item.Title, item.Summary, item.Status, item.AuthorName, item.Message, item.Type,
		item.ContentHash, item.WordCount, item.CharCount, item.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, versionID string) (Version, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM versions WHERE id=$1`, versionID)
	return scanVersion(row)
}

func (s *PostgresStore) ListVersionsByDocument(ctx context.Context, documentID string) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM versions
		WHERE document_id=$1
		ORDER BY version_number DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]Version, 0)
	for rows.Next() {
		item, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

// LastVersion returns the most recently created version for a document, or
// nil when the document has no versions yet.
func (s *PostgresStore) LastVersion(ctx context.Context, documentID string) (*Version, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM versions
		WHERE document_id=$1
		ORDER BY version_number DESC
		LIMIT 1
	`, documentID)
	item, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last version: %w", err)
	}
	return &item, nil
}

// LastVersionOnBranch returns the newest version recorded against a branch,
// or nil when the branch has no versions of its own yet.
func (s *PostgresStore) LastVersionOnBranch(ctx context.Context, branchID string) (*Version, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM versions
		WHERE branch_id=$1
		ORDER BY version_number DESC
		LIMIT 1
	`, branchID)
	item, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last version on branch: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) CountVersions(ctx context.Context, documentID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM versions WHERE document_id=$1`, documentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count versions: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) HasChildVersions(ctx context.Context, versionID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM versions WHERE parent_version_id=$1)`, versionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check child versions: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) DeleteVersion(ctx context.Context, versionID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM versions WHERE id=$1`, versionID)
	if err != nil {
		return false, fmt.Errorf("delete version: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete version rows: %w", err)
	}
	return affected > 0, nil
}

// ---- branches ----

const branchColumns = `
	id, project_id, document_id, name, description, color,
	parent_version_id, is_active, created_by_name, created_at, updated_at
`

func scanBranch(row interface{ Scan(...any) error }) (Branch, error) {
	var item Branch
	err := row.Scan(
		&item.ID, &item.ProjectID, &item.DocumentID, &item.Name, &item.Description, &item.Color,
		&item.ParentVersionID, &item.IsActive, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) InsertBranch(ctx context.Context, item Branch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branches (
			id, project_id, document_id, name, description, color,
			parent_version_id, is_active, created_by_name
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, item.ID, item.ProjectID, item.DocumentID, item.Name, item.Description, item.Color,
		item.ParentVersionID, item.IsActive, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert branch: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBranch(ctx context.Context, branchID string) (Branch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+branchColumns+` FROM branches WHERE id=$1`, branchID)
	return scanBranch(row)
}

func (s *PostgresStore) ListBranches(ctx context.Context, projectID string, documentID *string) ([]Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+branchColumns+`
		FROM branches
		WHERE project_id=$1 AND document_id IS NOT DISTINCT FROM $2
		ORDER BY created_at ASC
	`, projectID, documentID)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()

	items := make([]Branch, 0)
	for rows.Next() {
		item, err := scanBranch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate branches: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountBranches(ctx context.Context, projectID string, documentID *string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM branches
		WHERE project_id=$1 AND document_id IS NOT DISTINCT FROM $2
	`, projectID, documentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count branches: %w", err)
	}
	return count, nil
}

// ActiveBranch returns the active branch for a scope, or nil when the scope
// has no active branch (branching not in use, or no branches at all).
func (s *PostgresStore) ActiveBranch(ctx context.Context, projectID string, documentID *string) (*Branch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+branchColumns+`
		FROM branches
		WHERE project_id=$1 AND document_id IS NOT DISTINCT FROM $2 AND is_active=TRUE
		LIMIT 1
	`, projectID, documentID)
	item, err := scanBranch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active branch: %w", err)
	}
	return &item, nil
}

// SwitchBranch deactivates every branch in the scope and activates the
// target as a single transaction, so a crash between the two statements
// cannot leave the scope with zero or two active branches.
func (s *PostgresStore) SwitchBranch(ctx context.Context, projectID string, documentID *string, branchID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin switch branch: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE branches SET is_active=FALSE, updated_at=NOW()
		WHERE project_id=$1 AND document_id IS NOT DISTINCT FROM $2 AND is_active=TRUE
	`, projectID, documentID); err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("deactivate branches: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE branches SET is_active=TRUE, updated_at=NOW()
		WHERE id=$1 AND project_id=$2 AND document_id IS NOT DISTINCT FROM $3
	`, branchID, projectID, documentID)
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("activate branch: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("activate branch rows: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit switch branch: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) DeleteBranch(ctx context.Context, branchID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM branches WHERE id=$1`, branchID)
	if err != nil {
		return false, fmt.Errorf("delete branch: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete branch rows: %w", err)
	}
	return affected > 0, nil
}

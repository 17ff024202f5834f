package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"inkwell/api/internal/store"
)

// record is the flattened view of a version used by both formats.
type record struct {
	ID              string  `json:"id"`
	DocumentID      string  `json:"documentId"`
	BranchID        *string `json:"branchId"`
	VersionNumber   int     `json:"versionNumber"`
	ParentVersionID *string `json:"parentVersionId"`
	Content         string  `json:"content"`
	Title           string  `json:"title"`
	Summary         string  `json:"summary"`
	Status          string  `json:"status"`
	AuthorName      string  `json:"authorName"`
	Message         string  `json:"message"`
	Type            string  `json:"type"`
	ContentHash     string  `json:"contentHash"`
	WordCount       int     `json:"wordCount"`
	CharCount       int     `json:"charCount"`
	Timestamp       string  `json:"timestamp"`
}

// History renders the version sequence in the requested format. The caller
// passes versions already ordered; this function preserves that order.
func History(documentID string, versions []store.Version, format Format) (*Result, error) {
	switch format {
	case FormatJSON:
		return historyJSON(documentID, versions)
	case FormatCSV:
		return historyCSV(documentID, versions)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func historyJSON(documentID string, versions []store.Version) (*Result, error) {
	records := make([]record, 0, len(versions))
	for _, v := range versions {
		records = append(records, record{
			ID:              v.ID,
			DocumentID:      v.DocumentID,
			BranchID:        v.BranchID,
			VersionNumber:   v.VersionNumber,
			ParentVersionID: v.ParentVersionID,
			Content:         v.Content,
			Title:           v.Title,
			Summary:         v.Summary,
			Status:          v.Status,
			AuthorName:      v.AuthorName,
			Message:         v.Message,
			Type:            v.Type,
			ContentHash:     v.ContentHash,
			WordCount:       v.WordCount,
			CharCount:       v.CharCount,
			Timestamp:       v.Timestamp.UTC().Format(time.RFC3339),
		})
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal history: %w", err)
	}
	return &Result{
		Data:     append(data, '\n'),
		Filename: fmt.Sprintf("%s-history.json", documentID),
		MimeType: "application/json",
	}, nil
}

var csvHeader = []string{"id", "versionNumber", "authorName", "message", "wordCount", "charCount", "type", "timestamp"}

func historyCSV(documentID string, versions []store.Version) (*Result, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, v := range versions {
		row := []string{
			v.ID,
			strconv.Itoa(v.VersionNumber),
			v.AuthorName,
			v.Message,
			strconv.Itoa(v.WordCount),
			strconv.Itoa(v.CharCount),
			v.Type,
			v.Timestamp.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}

	return &Result{
		Data:     buf.Bytes(),
		Filename: fmt.Sprintf("%s-history.csv", documentID),
		MimeType: "text/csv",
	}, nil
}

// Package export renders a document's version history as JSON or CSV.
package export

import "errors"

// Format represents the export output format
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrUnsupportedFormat indicates the requested format is not one of the
// supported history export formats.
var ErrUnsupportedFormat = errors.New("export format unsupported")

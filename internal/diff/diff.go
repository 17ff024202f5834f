// Package diff computes a structured comparison between two version
// snapshots. Results are derived on demand and never persisted.
package diff

import (
	"strings"
	"time"

	"inkwell/api/internal/store"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Meta identifies one side of a comparison for attribution.
type Meta struct {
	VersionID     string    `json:"versionId"`
	VersionNumber int       `json:"versionNumber"`
	AuthorName    string    `json:"authorName"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
}

// Change pairs a removed run of words with the run inserted in its place.
type Change struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

// Result is the full comparison between two versions.
type Result struct {
	WordCountDelta int      `json:"wordCountDelta"`
	CharCountDelta int      `json:"charCountDelta"`
	Added          []string `json:"added"`
	Removed        []string `json:"removed"`
	Changed        []Change `json:"changed"`
	From           Meta     `json:"from"`
	To             Meta     `json:"to"`
}

// Compare diffs two version records at word granularity. The versions need
// not share a chain; count deltas come from the stored fingerprints so the
// result matches what was recorded at save time.
func Compare(from, to store.Version) Result {
	result := Result{
		WordCountDelta: to.WordCount - from.WordCount,
		CharCountDelta: to.CharCount - from.CharCount,
		Added:          []string{},
		Removed:        []string{},
		Changed:        []Change{},
		From:           toMeta(from),
		To:             toMeta(to),
	}

	if from.Content == to.Content {
		return result
	}

	segments := wordDiff(from.Content, to.Content)
	for i := 0; i < len(segments); i++ {
		segment := segments[i]
		switch segment.op {
		case diffmatchpatch.DiffDelete:
			// A deletion immediately followed by an insertion reads as a
			// changed run, not separate remove+add.
			if i+1 < len(segments) && segments[i+1].op == diffmatchpatch.DiffInsert {
				result.Changed = append(result.Changed, Change{Before: segment.text, After: segments[i+1].text})
				i++
				continue
			}
			result.Removed = append(result.Removed, segment.text)
		case diffmatchpatch.DiffInsert:
			result.Added = append(result.Added, segment.text)
		}
	}
	return result
}

type segment struct {
	op   diffmatchpatch.Operation
	text string
}

// wordDiff runs diffmatchpatch in line mode over word-per-line encoded
// content, which yields a word-level partition instead of a character one.
func wordDiff(from, to string) []segment {
	dmp := diffmatchpatch.New()
	fromWords, toWords, wordIndex := dmp.DiffLinesToChars(wordsPerLine(from), wordsPerLine(to))
	diffs := dmp.DiffMain(fromWords, toWords, false)
	diffs = dmp.DiffCharsToLines(diffs, wordIndex)

	segments := make([]segment, 0, len(diffs))
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffEqual {
			continue
		}
		text := strings.Join(strings.Split(strings.Trim(d.Text, "\n"), "\n"), " ")
		if text == "" {
			continue
		}
		segments = append(segments, segment{op: d.Type, text: text})
	}
	return segments
}

func wordsPerLine(content string) string {
	words := strings.Fields(content)
	if len(words) == 0 {
		return ""
	}
	return strings.Join(words, "\n") + "\n"
}

func toMeta(v store.Version) Meta {
	return Meta{
		VersionID:     v.ID,
		VersionNumber: v.VersionNumber,
		AuthorName:    v.AuthorName,
		Message:       v.Message,
		Timestamp:     v.Timestamp,
	}
}

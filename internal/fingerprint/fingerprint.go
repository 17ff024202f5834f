// Package fingerprint computes the content fingerprint stored with every
// version: a fast change-detection hash plus word and character counts.
package fingerprint

import (
	"hash/fnv"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Fingerprint is the derived triple persisted on a version at save time.
// It is never recomputed from stored content.
type Fingerprint struct {
	Hash      string
	WordCount int
	CharCount int
}

// Compute derives the fingerprint for a content string. The hash is FNV-1a,
// which is order-sensitive and deterministic but not collision-resistant; it
// exists to answer "did the text change since the last save", not to provide
// tamper evidence.
func Compute(content string) Fingerprint {
	h := fnv.New64a()
	_, _ = h.Write([]byte(content))

	return Fingerprint{
		Hash:      strconv.FormatUint(h.Sum64(), 16),
		WordCount: len(strings.Fields(content)),
		CharCount: utf8.RuneCountInString(content),
	}
}

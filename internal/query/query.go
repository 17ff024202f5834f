// Package query provides stateless filter/sort/search over in-memory
// version collections for presentation-layer listings.
package query

import (
	"sort"
	"strings"

	"inkwell/api/internal/store"
)

// SortOrder selects how a version listing is ordered.
type SortOrder string

const (
	SortNewest    SortOrder = "newest"
	SortOldest    SortOrder = "oldest"
	SortAuthor    SortOrder = "author"
	SortWordCount SortOrder = "wordCount"
)

// FilterAll passes every version through regardless of type.
const FilterAll = "all"

// Filter keeps versions whose type matches typeFilter. The input slice is
// not modified.
func Filter(versions []store.Version, typeFilter string) []store.Version {
	if typeFilter == "" || typeFilter == FilterAll {
		return versions
	}
	filtered := make([]store.Version, 0, len(versions))
	for _, v := range versions {
		if v.Type == typeFilter {
			filtered = append(filtered, v)
		}
	}
	return filtered
}

// Sort returns a sorted copy of versions. Unknown orders fall back to
// newest-first, which is what every listing defaults to.
func Sort(versions []store.Version, order SortOrder) []store.Version {
	sorted := make([]store.Version, len(versions))
	copy(sorted, versions)

	switch order {
	case SortOldest:
		sort.SliceStable(sorted, func(i, j int) bool {
			if sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
				return sorted[i].VersionNumber < sorted[j].VersionNumber
			}
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		})
	case SortAuthor:
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].AuthorName < sorted[j].AuthorName
		})
	case SortWordCount:
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].WordCount > sorted[j].WordCount
		})
	default:
		// Saves landing within the same tick still order by chain position.
		sort.SliceStable(sorted, func(i, j int) bool {
			if sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
				return sorted[i].VersionNumber > sorted[j].VersionNumber
			}
			return sorted[i].Timestamp.After(sorted[j].Timestamp)
		})
	}
	return sorted
}

// Search keeps versions where the query appears in the message, author
// name, content, or title. Matching is case-insensitive and a hit in any
// field qualifies.
func Search(versions []store.Version, q string) []store.Version {
	needle := strings.ToLower(strings.TrimSpace(q))
	if needle == "" {
		return versions
	}
	matched := make([]store.Version, 0, len(versions))
	for _, v := range versions {
		if strings.Contains(strings.ToLower(v.Message), needle) ||
			strings.Contains(strings.ToLower(v.AuthorName), needle) ||
			strings.Contains(strings.ToLower(v.Content), needle) ||
			strings.Contains(strings.ToLower(v.Title), needle) {
			matched = append(matched, v)
		}
	}
	return matched
}

package dedup

import (
	"sort"
	"strings"
)

// SortCandidates orders items by keyword ascending, then score descending,
// keeping input order for ties. Items without a keyword sort last.
func SortCandidates[T any](items []T, keyword func(T) string, score func(T) float64) {
	sort.SliceStable(items, func(i, j int) bool {
		ki, kj := strings.ToLower(keyword(items[i])), strings.ToLower(keyword(items[j]))
		if ki != kj {
			if ki == "" || kj == "" {
				return kj == ""
			}
			return ki < kj
		}
		return score(items[i]) > score(items[j])
	})
}

// Package dedup collapses near-duplicate requirement candidates.
package dedup

import (
	"sort"
	"strings"
	"unicode"

	"github.com/fyrsmithlabs/kravscan/internal/textclean"
)

// DefaultThreshold is the default similarity above which two texts are duplicates.
const DefaultThreshold = 93.0

// Scope partitions candidates before comparison.
type Scope string

const (
	// PerFile compares candidates from the same document only.
	PerFile Scope = "per_file"
	// Global compares all candidates of a batch.
	Global Scope = "global"
)

// Item is one candidate as seen by the deduplicator.
type Item struct {
	Text  string
	Score float64
	// Source is the partition key under PerFile.
	Source string
}

// Options configures Dedup.
type Options struct {
	Threshold float64
	Scope     Scope
}

type survivor struct {
	idx   int
	key   []rune
	score float64
}

// Dedup returns the indices of items that survive, in ascending order.
//
// Items are visited in input order. A newcomer that is at least Threshold
// similar to a survivor with a score at least its own is dropped. Otherwise it
// replaces every survivor it is similar to. The result is deterministic for a
// given input order, and no two survivors in one partition are Threshold
// similar.
func Dedup(items []Item, opts Options) []int {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	groups := make(map[string][]survivor)

	for i, it := range items {
		part := ""
		if opts.Scope != Global {
			part = it.Source
		}
		key := []rune(normalize(it.Text))
		kept := groups[part]

		var similar []int
		dominated := false
		for j, s := range kept {
			if ratio(key, s.key, opts.Threshold) < opts.Threshold {
				continue
			}
			if s.score >= it.Score {
				dominated = true
				break
			}
			similar = append(similar, j)
		}
		if dominated {
			continue
		}
		if len(similar) > 0 {
			next := kept[:0:0]
			for j, s := range kept {
				if len(similar) > 0 && similar[0] == j {
					similar = similar[1:]
					continue
				}
				next = append(next, s)
			}
			kept = next
		}
		groups[part] = append(kept, survivor{idx: i, key: key, score: it.Score})
	}

	var out []int
	for _, kept := range groups {
		for _, s := range kept {
			out = append(out, s.idx)
		}
	}
	sort.Ints(out)
	return out
}

// Ratio returns the Indel similarity of a and b on a 0..100 scale after
// lowercasing, stripping punctuation and collapsing whitespace. Two empty
// texts are identical.
func Ratio(a, b string) float64 {
	return ratio([]rune(normalize(a)), []rune(normalize(b)), 0)
}

// ratio is 200*LCS/(len(a)+len(b)). When the length difference alone rules
// out reaching floor, it returns the upper bound without computing the LCS.
func ratio(a, b []rune, floor float64) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 100
	}
	short := min(len(a), len(b))
	if bound := 200 * float64(short) / float64(total); bound < floor {
		return bound
	}
	return 200 * float64(lcs(a, b)) / float64(total)
}

func lcs(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, s)
	return textclean.Fold(s)
}

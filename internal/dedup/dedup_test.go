package dedup

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRatio(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"abc", "abc", 100},
		{"", "", 100},
		{"a", "", 0},
		{"abcd", "abce", 75},
		{"Kanaler skal isoleres.", "kanaler   SKAL isoleres", 100},
		{"NS-EN 13779", "ns en 13779", 100},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q~%q", tt.a, tt.b), func(t *testing.T) {
			assert.InDelta(t, tt.want, Ratio(tt.a, tt.b), 1e-9)
			assert.InDelta(t, Ratio(tt.b, tt.a), Ratio(tt.a, tt.b), 1e-9, "symmetric")
		})
	}
}

func TestDedup_TrailingWhitespaceAndPunctuation(t *testing.T) {
	items := []Item{
		{Text: "Kanaler skal isoleres mot kondens.", Score: 82, Source: "a.pdf"},
		{Text: "Kanaler skal isoleres mot kondens  ", Score: 75, Source: "a.pdf"},
	}
	assert.Equal(t, []int{0}, Dedup(items, Options{Threshold: 93, Scope: PerFile}))
}

func TestDedup(t *testing.T) {
	tests := []struct {
		name  string
		items []Item
		opts  Options
		want  []int
	}{
		{
			name: "higher later score replaces",
			items: []Item{
				{Text: "Luftmengde skal være 500 m3/s", Score: 70},
				{Text: "Luftmengde skal være 500 m3/s.", Score: 80},
			},
			want: []int{1},
		},
		{
			name: "tie keeps earlier",
			items: []Item{
				{Text: "Dører skal være EI30", Score: 80},
				{Text: "dører skal være EI30!", Score: 80},
			},
			want: []int{0},
		},
		{
			name: "per file keeps copies from different documents",
			items: []Item{
				{Text: "Tavlen skal merkes", Score: 80, Source: "a.docx"},
				{Text: "Tavlen skal merkes", Score: 90, Source: "b.docx"},
			},
			opts: Options{Scope: PerFile},
			want: []int{0, 1},
		},
		{
			name: "global collapses across documents",
			items: []Item{
				{Text: "Tavlen skal merkes", Score: 80, Source: "a.docx"},
				{Text: "Tavlen skal merkes", Score: 90, Source: "b.docx"},
			},
			opts: Options{Scope: Global},
			want: []int{1},
		},
		{
			name: "newcomer replaces every similar survivor",
			items: []Item{
				{Text: "aaaa", Score: 10},
				{Text: "bbbb", Score: 10},
				{Text: "aaaabbbb", Score: 20},
			},
			opts: Options{Threshold: 60},
			want: []int{2},
		},
		{
			name: "distinct texts survive",
			items: []Item{
				{Text: "Vifter skal ha lav SFP", Score: 60},
				{Text: "Tavler skal ha reserveplass", Score: 60},
			},
			want: []int{0, 1},
		},
		{name: "empty", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Dedup(tt.items, tt.opts))
		})
	}
}

func TestDedup_NoSimilarSurvivors(t *testing.T) {
	var items []Item
	bases := []string{
		"Ventilasjonsanlegget skal dimensjoneres for 500 m3/s",
		"Ventilasjonsanlegget skal dimensjoneres for 600 m3/s",
		"Alle dører skal være EI30",
		"Alle dører skal være EI60",
		"Kabler skal merkes i begge ender",
	}
	for i := 0; i < 30; i++ {
		items = append(items, Item{
			Text:   bases[i%len(bases)] + []string{"", ".", " ", "!"}[i%4],
			Score:  float64((i * 37) % 100),
			Source: []string{"a", "b"}[i%2],
		})
	}
	for _, scope := range []Scope{PerFile, Global} {
		got := Dedup(items, Options{Threshold: 93, Scope: scope})
		for x := 0; x < len(got); x++ {
			for y := x + 1; y < len(got); y++ {
				a, b := items[got[x]], items[got[y]]
				if scope == PerFile && a.Source != b.Source {
					continue
				}
				assert.Less(t, Ratio(a.Text, b.Text), 93.0, "%q vs %q", a.Text, b.Text)
			}
		}
		assert.Equal(t, got, Dedup(items, Options{Threshold: 93, Scope: scope}), "deterministic")
	}
}

func TestSortCandidates(t *testing.T) {
	type c struct {
		kw    string
		score float64
		id    int
	}
	items := []c{
		{"vifte", 70, 0},
		{"", 99, 1},
		{"Kanal", 60, 2},
		{"vifte", 90, 3},
		{"kanal", 60, 4},
	}
	SortCandidates(items, func(x c) string { return x.kw }, func(x c) float64 { return x.score })
	var ids []int
	for _, it := range items {
		ids = append(ids, it.id)
	}
	assert.Equal(t, []int{2, 4, 3, 0, 1}, ids)
}

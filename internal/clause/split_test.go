package clause

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func texts(cs []Clause) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Text
	}
	return out
}

func TestSplit(t *testing.T) {
	s := NewSplitter()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "single obligation sentence",
			in:   "Ventilasjonsanlegget skal dimensjoneres for en luftmengde på 500 m³/s.",
			want: []string{"Ventilasjonsanlegget skal dimensjoneres for en luftmengde på 500 m³/s."},
		},
		{
			name: "sentences split on terminal punctuation",
			in:   "Anlegget skal leveres komplett. Alle kabler skal merkes! Er dette klart? Ja.",
			want: []string{"Anlegget skal leveres komplett.", "Alle kabler skal merkes!"},
		},
		{
			name: "abbreviation does not end sentence",
			in:   "Det skal monteres ca. 12 vifter iht. beskrivelsen.",
			want: []string{"Det skal monteres ca. 12 vifter iht. beskrivelsen."},
		},
		{
			name: "decimal numbers are not boundaries",
			in:   "Trykkfallet må ikke overstige 1.5 kPa i noen sone.",
			want: []string{"Trykkfallet må ikke overstige 1.5 kPa i noen sone."},
		},
		{
			name: "colon splits heading from body",
			in:   "Krav til vifter: Viftene skal ha EC-motor.",
			want: []string{"Viftene skal ha EC-motor."},
		},
		{
			name: "capitalized lead term opens a new clause",
			in:   "Luftmengde 500 m³/h per sone Temperatur 21 °C i alle rom",
			want: []string{"Luftmengde 500 m³/h per sone", "Temperatur 21 °C i alle rom"},
		},
		{
			name: "bullets are stripped",
			in:   "- Alle dører skal være EI30.\n2.1 Rørene skal isoleres.",
			want: []string{"Alle dører skal være EI30.", "Rørene skal isoleres."},
		},
		{
			name: "fragment ending in connector is merged",
			in:   "Kanaler skal isoleres og\nmerkes med strømningsretning.",
			want: []string{"Kanaler skal isoleres og merkes med strømningsretning."},
		},
		{
			name: "short and cue-less segments dropped",
			in:   "Innledning.\nDette dokumentet beskriver prosjektet generelt.\nSkal.",
			want: nil,
		},
		{
			name: "exact repeats dropped",
			in:   "Alle kabler skal merkes.\nAlle kabler skal merkes.",
			want: []string{"Alle kabler skal merkes."},
		},
		{
			name: "english obligations",
			in:   "The contractor shall submit drawings. Nice weather today.",
			want: []string{"The contractor shall submit drawings."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := texts(s.Split(tt.in))
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplit_Pages(t *testing.T) {
	in := "[[PAGE 1]]\nAnlegget skal leveres komplett.\n[[PAGE 2]]\nAlle kabler skal merkes.\nRørene skal isoleres."
	got := NewSplitter().Split(in)
	require.Len(t, got, 3)
	assert.Equal(t, 1, got[0].Page)
	assert.Equal(t, 2, got[1].Page)
	assert.Equal(t, 2, got[2].Page)
}

func TestSplit_MergeStopsAtPageBreak(t *testing.T) {
	in := "[[PAGE 1]]\nKanaler skal isoleres og\n[[PAGE 2]]\nmerkes med strømningsretning som vist."
	got := texts(NewSplitter().Split(in))
	assert.Equal(t, []string{"Kanaler skal isoleres og"}, got)
}

func TestSplit_Options(t *testing.T) {
	s := NewSplitter(WithLeadTerms([]string{"Kapasitet"}), WithMinRunes(5))
	got := texts(s.Split("Kapasitet stor nok"))
	assert.Equal(t, []string{"Kapasitet stor nok"}, got)
}

func TestKeep(t *testing.T) {
	s := NewSplitter()
	assert.True(t, s.Keep("Romtemperatur maks tjueen grader"), "lead term")
	assert.True(t, s.Keep("Vifter leveres med 230 V tilkobling"), "units")
	assert.True(t, s.Keep("Anlegget bør være stille"), "obligation")
	assert.False(t, s.Keep("Skal ha det"), "too short")
	assert.False(t, s.Keep("Dette er en beskrivelse av bygget"), "no cue")
	assert.False(t, s.Keep("Skalaen er feil i tegningen"), "skal inside another word")
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		text string
		want Category
	}{
		{"Det er ikke tillatt å bruke PVC-rør.", CategoryProhibition},
		{"Dører skal ikke stå åpne.", CategoryProhibition},
		{"FDV-dokumentasjon skal leveres ved overtakelse.", CategoryDocumentation},
		{"Anlegget skal innreguleres og funksjonstestes.", CategoryVerification},
		{"Utførelse skal være i henhold til NS-EN 12237.", CategoryStandard},
		{"Tiltaket skal oppfylle TEK17.", CategoryStandard},
		{"Luftmengden skal være 500 m³/h.", CategoryPerformance},
		{"Anlegget skal styres fra SD-anlegget.", CategoryFunctional},
		{"Bygget ligger i sentrum.", CategoryInformative},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.text))
		})
	}
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "a b c", Summarize("a  b c", 5))
	assert.Equal(t, "en to tre…", Summarize("en to tre fire fem", 3))
	assert.Equal(t, "en to tre.", Summarize("en to tre. fire fem", 3))
	assert.Equal(t, "en to", Summarize("en to", 0))
}

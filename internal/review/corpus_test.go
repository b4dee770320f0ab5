package review

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorpus_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.csv")
	c, err := LoadCorpus(path)
	require.NoError(t, err)
	assert.Zero(t, c.Len())

	c.Upsert("Kanaler skal isoleres; også bend.", "ventilasjon")
	c.Upsert(`Tavle merket "T1" skal leveres.`, "elektro")
	require.NoError(t, c.Save())

	again, err := LoadCorpus(path)
	require.NoError(t, err)
	assert.Equal(t, c.Entries(), again.Entries())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "text;discipline\n")
}

func TestLoadCorpus_HeaderlessAndLegacyRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.csv")
	content := "Viften skal ha EC-motor;ventilasjon\n" +
		"\n" +
		"enkeltfelt\n" +
		"Kabler skal merkes;elektro\n" +
		"VIFTEN skal ha  EC-motor;VVS\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	c, err := LoadCorpus(path)
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	label, ok := c.Label("viften skal ha ec-motor")
	require.True(t, ok)
	assert.Equal(t, "VVS", label, "later rows win")
	assert.Equal(t, "Viften skal ha EC-motor", c.Entries()[0].Text, "first spelling kept")
}

func TestCorpus_RemoveKeepsIndex(t *testing.T) {
	c, err := LoadCorpus(filepath.Join(t.TempDir(), "c.csv"))
	require.NoError(t, err)
	c.Upsert("a krav", "x")
	c.Upsert("b krav", "y")
	c.Upsert("c krav", "z")

	assert.True(t, c.Remove("A  KRAV"))
	assert.False(t, c.Remove("a krav"))

	label, ok := c.Label("c krav")
	require.True(t, ok)
	assert.Equal(t, "z", label)
	c.Upsert("c krav", "w")
	assert.Equal(t, []Entry{{"b krav", "y"}, {"c krav", "w"}}, c.Entries())
}

func TestNegativeStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "neg.txt")
	n, err := LoadNegatives(path)
	require.NoError(t, err)

	assert.True(t, n.Add("Foo skal\nbar."))
	assert.False(t, n.Add("foo SKAL bar."))
	assert.False(t, n.Add("   "))
	assert.True(t, n.Add("Annet"))
	require.NoError(t, n.Save())

	again, err := LoadNegatives(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Foo skal bar.", "Annet"}, again.Lines())
	assert.True(t, again.Contains("foo skal bar."))

	assert.True(t, again.Remove("FOO skal bar."))
	assert.Equal(t, []string{"Annet"}, again.Lines())
	assert.False(t, again.Contains("Foo skal bar."))
}

func TestSamples(t *testing.T) {
	c, err := LoadCorpus(filepath.Join(t.TempDir(), "c.csv"))
	require.NoError(t, err)
	c.Upsert("Kanaler skal isoleres", "ventilasjon")
	n, err := LoadNegatives(filepath.Join(t.TempDir(), "n.txt"))
	require.NoError(t, err)
	n.Add("Møtet startet klokken ni")

	cls, err := Samples(KindClassifier, c, n)
	require.NoError(t, err)
	require.Len(t, cls, 1)
	assert.Equal(t, "ventilasjon", cls[0].Label)

	val, err := Samples(KindValidator, c, n)
	require.NoError(t, err)
	require.Len(t, val, 2)
	assert.Equal(t, "1", val[0].Label)
	assert.Equal(t, "0", val[1].Label)

	_, err = Samples("tagger", c, n)
	assert.Error(t, err)
}

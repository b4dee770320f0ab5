package normalize

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/fyrsmithlabs/kravscan/internal/config"
)

func newNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	return New(config.Default().Normalizer, nil)
}

// buildPDF writes a minimal PDF with one page per entry, one text line per string.
func buildPDF(t *testing.T, pages ...[]string) []byte {
	t.Helper()
	var objs []string
	nPages := len(pages)
	fontID := 3 + 2*nPages
	kids := make([]string, nPages)
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 3+2*i)
	}
	objs = append(objs,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), nPages),
	)
	for i, lines := range pages {
		var content strings.Builder
		content.WriteString("BT /F1 12 Tf")
		for j, l := range lines {
			fmt.Fprintf(&content, " 1 0 0 1 72 %d Tm (%s) Tj", 720-20*j, l)
		}
		content.WriteString(" ET")
		objs = append(objs,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>", fontID, 4+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", content.Len(), content.String()),
		)
	}
	objs = append(objs, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return b.Bytes()
}

func buildDOCX(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + body + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

const docxBodyFixture = `<w:p><w:r><w:t>Generelle krav</w:t></w:r></w:p>` +
	`<w:p><w:pPr><w:numPr><w:ilvl w:val="0"/><w:numId w:val="1"/></w:numPr><w:tabs><w:tab w:val="left" w:pos="720"/></w:tabs></w:pPr>` +
	`<w:r><w:t xml:space="preserve">Ventilasjonsanlegget skal </w:t></w:r><w:r><w:t>dimensjoneres for 500 m³/s.</w:t></w:r></w:p>` +
	`<w:p><w:r><w:t>Pos</w:t><w:tab/><w:t>Beskrivelse</w:t><w:br/><w:t>Neste linje</w:t></w:r></w:p>`

func TestNormalize_DOCX(t *testing.T) {
	doc, err := newNormalizer(t).Normalize(context.Background(), "beskrivelse.docx", buildDOCX(t, docxBodyFixture))
	require.NoError(t, err)
	assert.Equal(t, "Generelle krav\n\n- Ventilasjonsanlegget skal dimensjoneres for 500 m³/s.\n\nPos\tBeskrivelse\nNeste linje", doc.Text)
	assert.False(t, doc.Paginated)
}

func TestNormalize_PDF(t *testing.T) {
	data := buildPDF(t,
		[]string{"Ventilasjonsanlegget skal dimensjoneres", "for 500 m3/s."},
		[]string{"Side to skal ha tekst."},
	)
	doc, err := newNormalizer(t).Normalize(context.Background(), "krav.pdf", data)
	require.NoError(t, err)
	assert.True(t, doc.Paginated)
	assert.Contains(t, doc.Text, "[[PAGE 1]]\nVentilasjonsanlegget skal dimensjoneres\nfor 500 m3/s.\n")
	assert.Contains(t, doc.Text, "[[PAGE 2]]\nSide to skal ha tekst.")
	assert.Less(t, strings.Index(doc.Text, "[[PAGE 1]]"), strings.Index(doc.Text, "[[PAGE 2]]"))
}

func TestNormalize_CorruptPDF(t *testing.T) {
	doc, err := newNormalizer(t).Normalize(context.Background(), "broken.pdf", []byte("%PDF-1.4\nnot really a pdf"))
	require.ErrorIs(t, err, ErrCorrupt)
	require.NotNil(t, doc)
	assert.Equal(t, "broken.pdf", doc.Name)
	assert.Empty(t, doc.Text)
}

func TestNormalize_XLSX(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Pos", "Krav"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"1", "Luftmengde  skal være 500 m3/h"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]any{"2", "Skjult rad skal med"}))
	require.NoError(t, f.SetRowVisible("Sheet1", 3, false))
	_, err := f.NewSheet("Elektro")
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue("Elektro", "B1", "Tavler skal merkes"))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	doc, err := newNormalizer(t).Normalize(context.Background(), "liste.xlsx", buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "Sheet: Sheet1\n\nPos | Krav\n\n1 | Luftmengde skal være 500 m3/h\n\n2 | Skjult rad skal med\n\nSheet: Elektro\n\nTavler skal merkes", doc.Text)
}

func TestNormalize_HTML(t *testing.T) {
	html := `<html><head><title>x</title><style>p{}</style></head><body>
<h1>Krav</h1><p>Dører skal   være <b>EI30</b>.</p>
<ul><li>Punkt en</li><li>Punkt to</li></ul>
<table><tr><td>A</td><td>B</td></tr></table><script>var x;</script></body></html>`
	doc, err := newNormalizer(t).Normalize(context.Background(), "side.html", []byte(html))
	require.NoError(t, err)
	assert.Equal(t, "Krav\n\nDører skal være EI30.\n\n- Punkt en\n\n- Punkt to\n\nA | B", doc.Text)
}

func TestNormalize_Text(t *testing.T) {
	n := newNormalizer(t)
	doc, err := n.Normalize(context.Background(), "notat.txt", []byte("\xEF\xBB\xBFDør skal være EI30"))
	require.NoError(t, err)
	assert.Equal(t, "Dør skal være EI30", doc.Text)

	// Windows-1252: ø = 0xF8, æ = 0xE6.
	doc, err = n.Normalize(context.Background(), "gammel.TXT", []byte("D\xF8r skal v\xE6re EI30"))
	require.NoError(t, err)
	assert.Equal(t, "Dør skal være EI30", doc.Text)
}

func TestNormalize_Unsupported(t *testing.T) {
	doc, err := newNormalizer(t).Normalize(context.Background(), "tegning.dwg", []byte{1, 2})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Nil(t, doc)
	assert.False(t, Supported("x.dwg"))
	assert.True(t, Supported("X.PDF"))
}

func TestNormalize_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newNormalizer(t).Normalize(ctx, "a.txt", []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func buildEML(subject, body string, attachments map[string][]byte) []byte {
	var b strings.Builder
	w := func(s string) { b.WriteString(s + "\r\n") }
	w("From: kari@example.com")
	w("To: ola@example.com")
	w("Subject: " + subject)
	w("MIME-Version: 1.0")
	w(`Content-Type: multipart/mixed; boundary="BOUNDARY"`)
	w("")
	w("--BOUNDARY")
	w("Content-Type: text/plain; charset=utf-8")
	w("")
	w(body)
	for _, name := range sortedKeys(attachments) {
		w("--BOUNDARY")
		w("Content-Type: application/octet-stream")
		w(`Content-Disposition: attachment; filename="` + name + `"`)
		w("Content-Transfer-Encoding: base64")
		w("")
		w(base64.StdEncoding.EncodeToString(attachments[name]))
	}
	w("--BOUNDARY--")
	return []byte(b.String())
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestNormalize_EML(t *testing.T) {
	data := buildEML("Krav til brann", "Alle dører skal være EI30.", map[string][]byte{
		"krav.txt":  []byte("Sprinkleranlegg skal leveres."),
		"bilde.png": {0x89, 'P', 'N', 'G'},
	})
	doc, err := newNormalizer(t).Normalize(context.Background(), "mail.eml", data)
	require.NoError(t, err)
	assert.Equal(t, "Krav til brann\n\nAlle dører skal være EI30.", doc.Text)
	require.Len(t, doc.Children, 1)
	assert.Equal(t, "mail.eml/krav.txt", doc.Children[0].Name)
	assert.Equal(t, "Sprinkleranlegg skal leveres.", strings.TrimSpace(doc.Children[0].Text))
	require.Len(t, doc.Errors, 1)
	assert.Contains(t, doc.Errors[0], "bilde.png")
	assert.Contains(t, doc.Errors[0], ErrUnsupportedFormat.Error())

	var names []string
	doc.Walk(func(d *Document) { names = append(names, d.Name) })
	assert.Equal(t, []string{"mail.eml", "mail.eml/krav.txt"}, names)
}

func TestNormalize_EMLDepthLimit(t *testing.T) {
	inner := buildEML("Indre", "Indre tekst.", map[string][]byte{"dyp.txt": []byte("Dypt vedlegg.")})
	outer := buildEML("Ytre", "Ytre tekst.", map[string][]byte{"indre.eml": inner})

	cfg := config.Default().Normalizer
	cfg.MaxDepth = 1
	doc, err := New(cfg, nil).Normalize(context.Background(), "ytre.eml", outer)
	require.NoError(t, err)
	require.Len(t, doc.Children, 1)
	child := doc.Children[0]
	assert.Empty(t, child.Children)
	require.Len(t, child.Errors, 1)
	assert.Contains(t, child.Errors[0], ErrDepthExceeded.Error())
}

func TestNormalize_LegacyConversion(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("converter fixture is a shell script")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "convert.sh")
	// Arguments: <target> --outdir <dir> <input>
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ncp \"$4\" \"$3/input.$1\"\n"), 0o700))

	cfg := config.Default().Normalizer
	cfg.ConverterCommand = []string{script}
	doc, err := New(cfg, nil).Normalize(context.Background(), "gammel.doc", buildDOCX(t, docxBodyFixture))
	require.NoError(t, err)
	assert.Equal(t, "gammel.doc", doc.Name)
	assert.Contains(t, doc.Text, "Ventilasjonsanlegget skal dimensjoneres")

	cfg.ConverterCommand = []string{"false"}
	doc, err = New(cfg, nil).Normalize(context.Background(), "gammel.xls", []byte("x"))
	assert.ErrorIs(t, err, ErrConversion)
	require.NotNil(t, doc)
	assert.Empty(t, doc.Text)
}

func TestNormalize_ConverterTimeoutKillsChildren(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("converter fixture needs sh")
	}
	cfg := config.Default().Normalizer
	cfg.ConverterCommand = []string{"sh", "-c", "sleep 6 & sleep 6"}
	cfg.ConverterTimeout = config.Duration(200 * time.Millisecond)

	start := time.Now()
	doc, err := New(cfg, nil).Normalize(context.Background(), "gammel.doc", []byte("x"))
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrConversion)
	assert.ErrorContains(t, err, "timed out")
	require.NotNil(t, doc)
	assert.Less(t, elapsed, 3*time.Second)
}

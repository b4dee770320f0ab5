// Package normalize turns uploaded documents into plain text.
//
// Every supported format ends up as UTF-8 text with blank-line separated
// blocks. Paginated sources carry [[PAGE n]] marker lines so later stages can
// attribute clauses to pages. Email attachments become child documents.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kravscan/internal/config"
)

const instrumentationName = "github.com/fyrsmithlabs/kravscan/internal/normalize"

var (
	// ErrUnsupportedFormat indicates a file extension with no extractor.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrCorrupt indicates a file that could not be parsed.
	ErrCorrupt = errors.New("corrupt document")

	// ErrConversion indicates the external converter failed.
	ErrConversion = errors.New("conversion failed")

	// ErrDepthExceeded indicates attachments nested deeper than the limit.
	ErrDepthExceeded = errors.New("attachment depth exceeded")
)

// Document is the normalized form of one file.
type Document struct {
	Name string `json:"name"`
	Text string `json:"text"`
	// Paginated is set when Text carries [[PAGE n]] markers.
	Paginated bool        `json:"paginated"`
	Children  []*Document `json:"children,omitempty"`
	// Errors lists non-fatal problems, such as skipped attachments.
	Errors []string `json:"errors,omitempty"`
}

// Walk calls fn for d and every descendant, parents first.
func (d *Document) Walk(fn func(*Document)) {
	fn(d)
	for _, c := range d.Children {
		c.Walk(fn)
	}
}

type extractor func(ctx context.Context, n *Normalizer, name string, data []byte, depth int) (*Document, error)

// extractorFor maps a lowercase extension to its extractor. extractEML and
// the converter recurse into normalize, so this cannot be a package-level map.
func extractorFor(ext string) (extractor, bool) {
	switch ext {
	case ".pdf":
		return extractPDF, true
	case ".docx", ".docm":
		return extractDOCX, true
	case ".doc":
		return convertAndExtract("docx"), true
	case ".xlsx", ".xlsm":
		return extractXLSX, true
	case ".xls":
		return convertAndExtract("xlsx"), true
	case ".eml":
		return extractEML, true
	case ".html", ".htm":
		return extractHTML, true
	case ".txt", ".md", ".csv":
		return extractText, true
	}
	return nil, false
}

// Supported reports whether name has an extension the normalizer handles.
func Supported(name string) bool {
	_, ok := extractorFor(strings.ToLower(filepath.Ext(name)))
	return ok
}

// Normalizer extracts text from documents. It is safe for concurrent use.
type Normalizer struct {
	cfg    config.NormalizerConfig
	logger *zap.Logger
	tracer trace.Tracer
}

// New returns a Normalizer. A nil logger is replaced with a no-op logger.
func New(cfg config.NormalizerConfig, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 3
	}
	return &Normalizer{cfg: cfg, logger: logger, tracer: otel.Tracer(instrumentationName)}
}

// NormalizeFile reads path and normalizes it under its base name.
func (n *Normalizer) NormalizeFile(ctx context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return n.Normalize(ctx, filepath.Base(path), data)
}

// Normalize extracts text from data, choosing the extractor by the extension
// of name. A corrupt file yields a Document with empty text and an error.
func (n *Normalizer) Normalize(ctx context.Context, name string, data []byte) (*Document, error) {
	return n.normalize(ctx, name, data, 0)
}

func (n *Normalizer) normalize(ctx context.Context, name string, data []byte, depth int) (doc *Document, err error) {
	ext := strings.ToLower(filepath.Ext(name))
	ctx, span := n.tracer.Start(ctx, "normalize.Normalize", trace.WithAttributes(
		attribute.String("document", name),
		attribute.String("format", ext),
		attribute.Int("bytes", len(data)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	fn, ok := extractorFor(ext)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnsupportedFormat)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, err = fn(ctx, n, name, data, depth)
	if doc == nil {
		doc = &Document{Name: name}
	}
	if err != nil {
		doc.Text = ""
		n.logger.Debug("document extraction failed", zap.String("document", name), zap.Error(err))
		return doc, err
	}
	return doc, nil
}

func pageMarker(page int) string {
	return fmt.Sprintf("[[PAGE %d]]", page)
}

package normalize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jhillyerd/enmime"
	"go.uber.org/zap"
)

func extractEML(ctx context.Context, n *Normalizer, name string, data []byte, depth int) (*Document, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", name, ErrCorrupt, err)
	}

	body := env.Text
	if strings.TrimSpace(body) == "" && env.HTML != "" {
		if body, err = htmlText(strings.NewReader(env.HTML)); err != nil {
			return nil, fmt.Errorf("%s: %w: html body: %v", name, ErrCorrupt, err)
		}
	}
	doc := &Document{Name: name}
	if subject := strings.TrimSpace(env.GetHeader("Subject")); subject != "" {
		doc.Text = subject + "\n\n"
	}
	doc.Text += strings.TrimSpace(body)

	for _, perr := range env.Errors {
		if perr.Severe {
			doc.Errors = append(doc.Errors, perr.Error())
		}
	}

	for i, part := range env.Attachments {
		child := part.FileName
		if child == "" {
			child = fmt.Sprintf("attachment-%d", i+1)
		}
		childName := name + "/" + filepath.Base(child)
		if depth+1 > n.cfg.MaxDepth {
			doc.Errors = append(doc.Errors, fmt.Sprintf("%s: %v", childName, ErrDepthExceeded))
			continue
		}
		if !Supported(child) {
			doc.Errors = append(doc.Errors, fmt.Sprintf("%s: %v", childName, ErrUnsupportedFormat))
			continue
		}
		cd, err := n.normalize(ctx, childName, part.Content, depth+1)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			n.logger.Debug("attachment extraction failed", zap.String("attachment", childName), zap.Error(err))
			doc.Errors = append(doc.Errors, err.Error())
			continue
		}
		doc.Children = append(doc.Children, cd)
	}
	return doc, nil
}

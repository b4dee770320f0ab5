package normalize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// convertAndExtract runs the configured converter to turn a legacy file into
// target format, then normalizes the output by its new extension.
//
// The converter is invoked as
//
//	<converter_command...> <target> --outdir <dir> <input>
//
// which matches LibreOffice's soffice --headless --convert-to.
func convertAndExtract(target string) extractor {
	return func(ctx context.Context, n *Normalizer, name string, data []byte, depth int) (*Document, error) {
		out, err := n.convert(ctx, name, data, target)
		if err != nil {
			return nil, err
		}
		converted := strings.TrimSuffix(name, filepath.Ext(name)) + "." + target
		doc, err := n.normalize(ctx, converted, out, depth)
		if doc != nil {
			doc.Name = name
		}
		return doc, err
	}
}

// waitDelay bounds how long a killed converter's output pipes are drained.
const waitDelay = time.Second

func (n *Normalizer) convert(ctx context.Context, name string, data []byte, target string) ([]byte, error) {
	if len(n.cfg.ConverterCommand) == 0 {
		return nil, fmt.Errorf("%s: %w: no converter configured", name, ErrConversion)
	}
	dir, err := os.MkdirTemp("", "kravscan-convert-*")
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", name, ErrConversion, err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "input"+strings.ToLower(filepath.Ext(name)))
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", name, ErrConversion, err)
	}
	outDir := filepath.Join(dir, "out")
	if err := os.Mkdir(outDir, 0o700); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", name, ErrConversion, err)
	}

	if t := n.cfg.ConverterTimeout.Duration(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	args := append(append([]string{}, n.cfg.ConverterCommand[1:]...), target, "--outdir", outDir, in)
	cmd := exec.CommandContext(ctx, n.cfg.ConverterCommand[0], args...)
	killGroupOnCancel(cmd)
	// Stop waiting on pipes held open by orphaned children.
	cmd.WaitDelay = waitDelay
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w: timed out after %s", name, ErrConversion, n.cfg.ConverterTimeout.Duration())
		}
		return nil, fmt.Errorf("%s: %w: %v: %s", name, ErrConversion, err, strings.TrimSpace(stderr.String()))
	}

	out, err := os.ReadFile(filepath.Join(outDir, "input."+target))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: converter produced no %s output", name, ErrConversion, target)
	}
	n.logger.Debug("converted legacy document",
		zap.String("document", name), zap.String("target", target), zap.Int("bytes", len(out)))
	return out, nil
}

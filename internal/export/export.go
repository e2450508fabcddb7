// Package export writes finished output images to a directory or an object
// store bucket under their resolved filenames.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/dunamismax/variantforge/internal/domain"
)

// Target stores one exported file and reports where it went.
type Target interface {
	Write(ctx context.Context, name string, payload domain.Payload) (string, error)
}

type LocalDir struct {
	Dir string
}

func (d LocalDir) Write(ctx context.Context, name string, payload domain.Payload) (string, error) {
	if strings.TrimSpace(d.Dir) == "" {
		return "", errors.New("output directory is required")
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	fullPath := filepath.Join(d.Dir, name)
	if err := os.WriteFile(fullPath, payload.Data, 0o644); err != nil {
		return "", fmt.Errorf("write output file: %w", err)
	}
	return fullPath, nil
}

type ObjectWriter interface {
	WriteObject(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

type ObjectStore struct {
	Storage ObjectWriter
}

func (o ObjectStore) Write(ctx context.Context, name string, payload domain.Payload) (string, error) {
	if o.Storage == nil {
		return "", errors.New("storage client is required")
	}
	return o.Storage.WriteObject(ctx, name, payload.Data, payload.ContentType)
}

type Exported struct {
	OutputID string `json:"output_id"`
	Filename string `json:"filename"`
	Location string `json:"location"`
	Bytes    int    `json:"bytes"`
}

type Exporter struct {
	logger *zap.Logger
	target Target
}

func NewExporter(logger *zap.Logger, target Target) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{logger: logger, target: target}
}

// Export writes the full-size payload of each output. Outputs sharing a
// filename overwrite each other in list order. A failed write does not stop
// the remaining ones; the returned error joins every failure.
func (e *Exporter) Export(ctx context.Context, outputs []domain.OutputImage) ([]Exported, error) {
	written := make([]Exported, 0, len(outputs))
	var errs []error
	for _, out := range outputs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		name := sanitizeFilename(out.Filename)
		location, err := e.target.Write(ctx, name, out.Full)
		if err != nil {
			errs = append(errs, fmt.Errorf("export %s: %w", out.ID, err))
			e.logger.Error("export failed", zap.String("output_id", out.ID), zap.Error(err))
			continue
		}
		written = append(written, Exported{
			OutputID: out.ID,
			Filename: name,
			Location: location,
			Bytes:    out.Full.Bytes,
		})
	}

	e.logger.Info("export finished",
		zap.Int("written", len(written)),
		zap.Int("failed", len(errs)),
	)
	return written, errors.Join(errs...)
}

// sanitizeFilename keeps a filename inside the export root.
func sanitizeFilename(in string) string {
	in = strings.TrimSpace(filepath.Base(filepath.Clean("/" + in)))
	if in == "" || in == "/" || in == "." {
		return "unnamed"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r < 0x20, r == 0x7f:
			b.WriteRune('_')
		case strings.ContainsRune(`\/:*?"<>|`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hochfrequenz/sprint-orch/internal/config"
	"github.com/hochfrequenz/sprint-orch/internal/domain"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// FileName returns SPRINT-YYYY-MM-DD.<ext> for the UTC date of t
func FileName(t time.Time, format string) string {
	ext := "json"
	if format == config.FormatYAML {
		ext = "yaml"
	}
	return fmt.Sprintf("SPRINT-%s.%s", t.UTC().Format("2006-01-02"), ext)
}

// Writer persists run documents into a directory, one file per day
type Writer struct {
	dir     string
	format  string
	version string
	mirror  Sink
	logger  *zap.Logger
	now     func() time.Time
}

// WriterOption configures a Writer
type WriterOption func(*Writer)

// WithMirror uploads every written document to sink as well
func WithMirror(sink Sink) WriterOption {
	return func(w *Writer) { w.mirror = sink }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) WriterOption {
	return func(w *Writer) { w.logger = logger }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) { w.now = now }
}

// NewWriter creates a writer for dir in the given format (json or yaml)
func NewWriter(dir, format, version string, opts ...WriterOption) *Writer {
	w := &Writer{
		dir:     dir,
		format:  format,
		version: version,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write stores the run and returns the local path. A same-day report is
// replaced. Mirror failures are logged and do not fail the write.
func (w *Writer) Write(ctx context.Context, run domain.RunSnapshot) (string, error) {
	now := w.now()
	doc := NewDocument(run, w.version, now)

	data, contentType, err := w.encode(doc)
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}

	name := FileName(now, w.format)
	path := filepath.Join(w.dir, name)
	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	w.logger.Info("report saved", zap.String("path", path))

	if w.mirror != nil {
		if err := w.mirror.Put(ctx, name, data, contentType); err != nil {
			w.logger.Warn("report mirror failed", zap.String("file", name), zap.Error(err))
		} else {
			w.logger.Debug("report mirrored", zap.String("file", name))
		}
	}

	return path, nil
}

func (w *Writer) encode(doc Document) ([]byte, string, error) {
	if w.format == config.FormatYAML {
		data, err := yaml.Marshal(doc)
		return data, "application/yaml", err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, "", err
	}
	return append(data, '\n'), "application/json", nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Package loader reads policy documents from the filesystem.
package loader

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"unicode/utf8"

	"policyrag/internal/domain"
)

// DefaultPattern is the glob used when none is given.
const DefaultPattern = "*.md"

// Loader loads markdown files together with their provenance metadata.
type Loader struct {
	logger *slog.Logger
}

// New creates a Loader. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load reads a single markdown file.
func (l *Loader) Load(path string) (domain.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Document{}, fmt.Errorf("document %s: %w", path, domain.ErrNotFound)
		}
		return domain.Document{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return domain.Document{}, fmt.Errorf("document %s is a directory: %w", path, domain.ErrInvalidInput)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return domain.Document{}, fmt.Errorf("document %s is not valid UTF-8: %w", path, domain.ErrInvalidInput)
	}

	doc := domain.Document{
		Content: string(data),
		Metadata: map[string]string{
			domain.MetaSource:   path,
			domain.MetaFilename: filepath.Base(path),
			domain.MetaFileType: "markdown",
			domain.MetaFileSize: strconv.FormatInt(info.Size(), 10),
		},
	}
	l.logger.Debug("loaded document", "filename", doc.Metadata[domain.MetaFilename], "bytes", info.Size())
	return doc, nil
}

// Discover returns the files in dir matching pattern, sorted by path.
// A missing directory is not an error: it is logged and yields no paths.
func (l *Loader) Discover(dir, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			l.logger.Warn("directory not found", "dir", dir)
			return nil, nil
		}
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		l.logger.Warn("not a directory", "dir", dir)
		return nil, nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, domain.ErrInvalidInput)
	}
	paths := matches[:0]
	for _, m := range matches {
		if fi, err := os.Stat(m); err == nil && !fi.IsDir() {
			paths = append(paths, m)
		}
	}
	sort.Strings(paths)
	l.logger.Info("found documents", "dir", dir, "pattern", pattern, "count", len(paths))
	return paths, nil
}

// LoadDirectory loads every file in dir matching pattern. Files that fail to
// load are logged and skipped.
func (l *Loader) LoadDirectory(dir, pattern string) ([]domain.Document, error) {
	paths, err := l.Discover(dir, pattern)
	if err != nil {
		return nil, err
	}
	docs := make([]domain.Document, 0, len(paths))
	for _, p := range paths {
		doc, err := l.Load(p)
		if err != nil {
			l.logger.Error("failed to load document", "path", p, "error", err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

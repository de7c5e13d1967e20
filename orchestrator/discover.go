package orchestrator

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/poiesic/sluice/queue"
)

// DefaultExtensions are the file extensions discovered when none are configured.
var DefaultExtensions = []string{".txt", ".md"}

// Discoverer finds eligible text files below a root directory.
type Discoverer struct {
	root       string
	extensions map[string]struct{}
	skip       map[string]struct{}
	logger     *slog.Logger
}

// NewDiscoverer creates a Discoverer for root. Files are eligible when their
// extension, compared case-insensitively, is in extensions. Directories in
// skip, such as the scratch and state directories, are never entered.
func NewDiscoverer(root string, extensions []string, skip ...string) (*Discoverer, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidRoot, root)
	}

	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	d := &Discoverer{
		root:       abs,
		extensions: make(map[string]struct{}, len(extensions)),
		skip:       make(map[string]struct{}, len(skip)),
		logger:     slog.Default().With("component", "discovery"),
	}
	for _, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		d.extensions[ext] = struct{}{}
	}
	for _, dir := range skip {
		if dir == "" {
			continue
		}
		if abs, err := filepath.Abs(dir); err == nil {
			d.skip[abs] = struct{}{}
		}
	}
	return d, nil
}

// Root returns the absolute discovery root.
func (d *Discoverer) Root() string {
	return d.root
}

// Resolve returns the file for a queue path.
func (d *Discoverer) Resolve(path string) string {
	return filepath.Join(d.root, filepath.FromSlash(path))
}

// Discover walks the root and returns every eligible file as a candidate
// keyed by its slash-separated path relative to the root. Hidden directories
// are skipped, as are entries that cannot be read.
func (d *Discoverer) Discover(ctx context.Context) ([]queue.Candidate, error) {
	var found []queue.Candidate
	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == d.root {
				return err
			}
			d.logger.Warn("skipping unreadable entry", "path", path, "err", err)
			return nil
		}
		if entry.IsDir() {
			if path == d.root {
				return nil
			}
			if _, ok := d.skip[path]; ok || strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		if _, ok := d.extensions[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			d.logger.Warn("skipping unreadable file", "path", path, "err", err)
			return nil
		}
		rel, err := filepath.Rel(d.root, path)
		if err != nil {
			return err
		}
		found = append(found, queue.Candidate{Path: filepath.ToSlash(rel), SizeBytes: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", d.root, err)
	}
	return found, nil
}

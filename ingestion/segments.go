package ingestion

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/poiesic/sluice/core"
)

// Scratch is the directory tree holding materialized segments.
//
// A top-level unit gets <root>/<hash>_<stem>/, where hash is derived from the
// unit's path so two files with the same name never share a directory. A
// segment's own children go in a directory next to the segment file, named
// after its stem, so the whole tree of a unit sits under one directory.
type Scratch struct {
	root string
}

// NewScratch creates the scratch root if needed.
func NewScratch(root string) (*Scratch, error) {
	if root == "" {
		return nil, ErrScratchRequired
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Scratch{root: root}, nil
}

// Root returns the scratch root directory.
func (s *Scratch) Root() string {
	return s.root
}

// Dir returns the directory that holds unit's segments.
func (s *Scratch) Dir(unit core.Unit) string {
	stem := fileStem(unit.File)
	if unit.RecursionLevel == 0 {
		return filepath.Join(s.root, fmt.Sprintf("%016x_%s", uint64(core.IDFromContent(unit.Path)), stem))
	}
	return filepath.Join(filepath.Dir(unit.File), stem)
}

// Materialize writes segments of parent to its scratch directory and returns
// them as units one level deeper, in order. Leftovers from an earlier attempt
// are replaced.
func (s *Scratch) Materialize(parent core.Unit, segments []string) ([]core.Unit, error) {
	dir := s.Dir(parent)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("clear scratch dir: %w", err)
	}
	files, err := WriteSegments(dir, parent.Name(), segments)
	if err != nil {
		return nil, err
	}

	units := make([]core.Unit, len(files))
	for i, file := range files {
		units[i] = core.Unit{
			Path:           parent.Path + "#" + filepath.Base(file),
			File:           file,
			Source:         parent.Source,
			SizeBytes:      int64(len(segments[i])),
			RecursionLevel: parent.RecursionLevel + 1,
		}
	}
	return units, nil
}

// Remove deletes unit's scratch directory and everything below it.
func (s *Scratch) Remove(unit core.Unit) error {
	return os.RemoveAll(s.Dir(unit))
}

// SegmentName returns the file name of the segment at ordinal (1-based) out
// of total, for a file called name: notes.txt becomes notes_01.txt.
func SegmentName(name string, ordinal, total int) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	width := max(2, len(strconv.Itoa(total)))
	return fmt.Sprintf("%s_%0*d%s", base, width, ordinal, ext)
}

// WriteSegments writes each segment to dir under its SegmentName and returns
// the file paths in order.
func WriteSegments(dir, name string, segments []string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create segment dir: %w", err)
	}
	files := make([]string, len(segments))
	for i, seg := range segments {
		file := filepath.Join(dir, SegmentName(name, i+1, len(segments)))
		if err := os.WriteFile(file, []byte(seg), 0o644); err != nil {
			return nil, fmt.Errorf("write segment %d: %w", i+1, err)
		}
		files[i] = file
	}
	return files, nil
}

func fileStem(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

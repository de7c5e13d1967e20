package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/poiesic/sluice/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingIngester records every call and fails units on demand. When next
// is set, successful calls are delegated to it.
type recordingIngester struct {
	mu    sync.Mutex
	units []core.Unit
	texts []string
	fail  func(unit core.Unit, text string) error
	next  Ingester
}

func (r *recordingIngester) Ingest(ctx context.Context, unit core.Unit, text string) (IngestResult, error) {
	r.mu.Lock()
	r.units = append(r.units, unit)
	r.texts = append(r.texts, text)
	r.mu.Unlock()

	if r.fail != nil {
		if err := r.fail(unit, text); err != nil {
			return IngestResult{}, err
		}
	}
	if r.next != nil {
		return r.next.Ingest(ctx, unit, text)
	}
	return IngestResult{Chunks: 1, Embedded: 1, Inserted: 1}, nil
}

func paragraphs(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "Paragraph %04d talks about things. It has two sentences.\n\n", i)
	}
	return sb.String()
}

func writeUnit(t *testing.T, name, text string) core.Unit {
	t.Helper()
	file := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(file, []byte(text), 0o644))
	return core.Unit{Path: name, File: file, Source: name, SizeBytes: int64(len(text))}
}

func newTestProcessor(t *testing.T, ingester Ingester, limits Limits) (*Processor, *Scratch) {
	t.Helper()
	scratch, err := NewScratch(filepath.Join(t.TempDir(), "scratch"))
	require.NoError(t, err)
	p, err := NewProcessor(ingester, scratch, limits)
	require.NoError(t, err)
	return p, scratch
}

func scratchEntries(t *testing.T, s *Scratch) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	return entries
}

func TestLimits_Validate(t *testing.T) {
	assert.NoError(t, DefaultLimits().Validate())

	tests := []Limits{
		{MaxDirectSize: 0, MinSegmentSize: 1, MaxRecursionDepth: 1},
		{MaxDirectSize: 10, MinSegmentSize: 0, MaxRecursionDepth: 1},
		{MaxDirectSize: 10, MinSegmentSize: 20, MaxRecursionDepth: 1},
		{MaxDirectSize: 10, MinSegmentSize: 5, MaxRecursionDepth: -1},
	}
	for _, limits := range tests {
		assert.ErrorIs(t, limits.Validate(), ErrInvalidLimits, "%+v", limits)
	}
}

func TestNewProcessor_Validation(t *testing.T) {
	scratch, err := NewScratch(t.TempDir())
	require.NoError(t, err)

	_, err = NewProcessor(nil, scratch, DefaultLimits())
	assert.ErrorIs(t, err, ErrIngesterRequired)

	_, err = NewProcessor(&recordingIngester{}, nil, DefaultLimits())
	assert.ErrorIs(t, err, ErrScratchRequired)

	_, err = NewProcessor(&recordingIngester{}, scratch, Limits{})
	assert.ErrorIs(t, err, ErrInvalidLimits)

	_, err = NewProcessor(&recordingIngester{}, scratch, DefaultLimits(), WithSplitter(nil))
	assert.Error(t, err)
}

func TestProcessor_SmallUnitIngestedDirectly(t *testing.T) {
	ing := &recordingIngester{}
	p, scratch := newTestProcessor(t, ing, Limits{MaxDirectSize: 1000, MinSegmentSize: 100, MaxRecursionDepth: 3})
	unit := writeUnit(t, "small.txt", paragraphs(3))

	out, err := p.Process(context.Background(), unit)
	require.NoError(t, err)

	require.Len(t, ing.units, 1)
	assert.Equal(t, "small.txt", ing.units[0].Path)
	assert.Equal(t, 0, out.Splits)
	assert.Equal(t, []core.Leaf{{Path: "small.txt", Chunks: 1}}, out.Leaves)
	assert.Empty(t, scratchEntries(t, scratch))
}

func TestProcessor_OversizedUnitIsSplitInOrder(t *testing.T) {
	ing := &recordingIngester{}
	p, scratch := newTestProcessor(t, ing, Limits{MaxDirectSize: 1000, MinSegmentSize: 200, MaxRecursionDepth: 3})
	text := paragraphs(60)
	unit := writeUnit(t, "big.txt", text)

	out, err := p.Process(context.Background(), unit)
	require.NoError(t, err)

	assert.Equal(t, text, strings.Join(ing.texts, ""), "segments cover the whole unit in reading order")
	for i, u := range ing.units {
		assert.LessOrEqual(t, len(ing.texts[i]), 1000, "leaf %s exceeds direct size", u.Path)
		assert.Greater(t, u.RecursionLevel, 0)
		assert.True(t, strings.HasPrefix(u.Path, "big.txt#big_"), u.Path)
	}
	assert.GreaterOrEqual(t, out.Splits, 1)
	assert.Len(t, out.Leaves, len(ing.units))
	assert.Empty(t, scratchEntries(t, scratch), "scratch removed after success")
}

func TestProcessor_DirectFailureFallsBackToSplit(t *testing.T) {
	ing := &recordingIngester{
		fail: func(_ core.Unit, text string) error {
			if len(text) > 400 {
				return errGlitch
			}
			return nil
		},
	}
	p, scratch := newTestProcessor(t, ing, Limits{MaxDirectSize: 10000, MinSegmentSize: 100, MaxRecursionDepth: 4})
	text := paragraphs(20)
	unit := writeUnit(t, "payload.txt", text)

	out, err := p.Process(context.Background(), unit)
	require.NoError(t, err)

	assert.Equal(t, "payload.txt", ing.units[0].Path, "direct attempt comes first")
	assert.GreaterOrEqual(t, out.Splits, 1)
	var leafText strings.Builder
	for _, leaf := range out.Leaves {
		for i, u := range ing.units {
			if u.Path == leaf.Path {
				leafText.WriteString(ing.texts[i])
			}
		}
	}
	assert.Equal(t, text, leafText.String())
	assert.Empty(t, scratchEntries(t, scratch))
}

func TestProcessor_InputErrorIsNotSplit(t *testing.T) {
	ing := &recordingIngester{
		fail: func(core.Unit, string) error {
			return fmt.Errorf("%w: bad bytes", core.ErrInvalidInput)
		},
	}
	p, scratch := newTestProcessor(t, ing, Limits{MaxDirectSize: 10000, MinSegmentSize: 100, MaxRecursionDepth: 4})
	unit := writeUnit(t, "broken.txt", paragraphs(20))

	out, err := p.Process(context.Background(), unit)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	assert.Len(t, ing.units, 1)
	assert.Equal(t, 0, out.Splits)
	assert.Empty(t, scratchEntries(t, scratch))
}

func TestProcessor_MissingFileIsInputError(t *testing.T) {
	p, _ := newTestProcessor(t, &recordingIngester{}, DefaultLimits())

	_, err := p.Process(context.Background(), core.Unit{Path: "gone.txt", File: filepath.Join(t.TempDir(), "gone.txt")})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestProcessor_RecursionBound(t *testing.T) {
	ing := &recordingIngester{
		fail: func(core.Unit, string) error { return errGlitch },
	}
	const depth = 3
	p, scratch := newTestProcessor(t, ing, Limits{MaxDirectSize: 1000, MinSegmentSize: 1, MaxRecursionDepth: depth})
	unit := writeUnit(t, "doomed.txt", paragraphs(24))

	out, err := p.Process(context.Background(), unit)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRecursionExhausted)
	assert.ErrorIs(t, err, errGlitch)

	assert.Equal(t, depth, out.MaxLevel)
	assert.Empty(t, out.Leaves)
	for _, u := range ing.units {
		assert.LessOrEqual(t, u.RecursionLevel, depth)
	}
	assert.NotEmpty(t, scratchEntries(t, scratch), "failed segments are kept for inspection")
}

func TestProcessor_ZeroDepthNeverSplits(t *testing.T) {
	ing := &recordingIngester{
		fail: func(core.Unit, string) error { return errGlitch },
	}
	p, _ := newTestProcessor(t, ing, Limits{MaxDirectSize: 1000, MinSegmentSize: 1, MaxRecursionDepth: 0})
	unit := writeUnit(t, "flat.txt", paragraphs(5))

	out, err := p.Process(context.Background(), unit)
	assert.ErrorIs(t, err, ErrRecursionExhausted)
	assert.Len(t, ing.units, 1)
	assert.Equal(t, 0, out.Splits)
}

func TestProcessor_UnsplittableUnit(t *testing.T) {
	word := strings.Repeat("x", 300)

	t.Run("oversized but ingestible", func(t *testing.T) {
		ing := &recordingIngester{}
		p, _ := newTestProcessor(t, ing, Limits{MaxDirectSize: 100, MinSegmentSize: 10, MaxRecursionDepth: 3})
		unit := writeUnit(t, "word.txt", word)

		out, err := p.Process(context.Background(), unit)
		require.NoError(t, err)
		assert.Len(t, ing.units, 1, "terminal case is attempted once")
		assert.Equal(t, 0, out.Splits)
		assert.Len(t, out.Leaves, 1)
	})

	t.Run("oversized and failing", func(t *testing.T) {
		ing := &recordingIngester{fail: func(core.Unit, string) error { return errGlitch }}
		p, _ := newTestProcessor(t, ing, Limits{MaxDirectSize: 100, MinSegmentSize: 10, MaxRecursionDepth: 3})
		unit := writeUnit(t, "word.txt", word)

		_, err := p.Process(context.Background(), unit)
		assert.ErrorIs(t, err, ErrUnsplittable)
		assert.Len(t, ing.units, 1)
	})

	t.Run("direct attempt already failed", func(t *testing.T) {
		ing := &recordingIngester{fail: func(core.Unit, string) error { return errGlitch }}
		p, _ := newTestProcessor(t, ing, Limits{MaxDirectSize: 1000, MinSegmentSize: 10, MaxRecursionDepth: 3})
		unit := writeUnit(t, "word.txt", word)

		_, err := p.Process(context.Background(), unit)
		assert.ErrorIs(t, err, ErrUnsplittable)
		assert.Len(t, ing.units, 1, "no second attempt of the same text")
	})
}

func TestProcessor_FailedSegmentFailsParentAndKeepsScratch(t *testing.T) {
	ing := &recordingIngester{
		fail: func(u core.Unit, _ string) error {
			if strings.HasSuffix(u.Path, "_02.txt") {
				return fmt.Errorf("%w: segment two", core.ErrInvalidInput)
			}
			return nil
		},
	}
	p, scratch := newTestProcessor(t, ing, Limits{MaxDirectSize: 100, MinSegmentSize: 50, MaxRecursionDepth: 3})
	unit := writeUnit(t, "three.txt", paragraphs(3))

	out, err := p.Process(context.Background(), unit)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	var paths []string
	for _, u := range ing.units {
		paths = append(paths, u.Path)
	}
	assert.Equal(t, []string{"three.txt#three_01.txt", "three.txt#three_02.txt", "three.txt#three_03.txt"}, paths,
		"later segments still run after a failure")
	assert.Len(t, out.Leaves, 2)

	dir := scratch.Dir(unit)
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, files, 3)

	t.Run("rerun succeeds and cleans up", func(t *testing.T) {
		ing.fail = nil
		_, err := p.Process(context.Background(), unit)
		require.NoError(t, err)
		assert.NoDirExists(t, dir)
	})
}

func TestProcessor_EndToEnd(t *testing.T) {
	const kb = 1 << 10

	h := newHarness(t)
	sizes := &recordingIngester{next: h.worker}
	p, scratch := newTestProcessor(t, sizes, Limits{MaxDirectSize: 5 * kb, MinSegmentSize: 1 * kb, MaxRecursionDepth: 5})

	text := paragraphs(12 * kb / 58)
	require.Greater(t, len(text), 11*kb)
	unit := writeUnit(t, "large.txt", text)

	out, err := p.Process(context.Background(), unit)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(out.Leaves), 3)
	for i := range sizes.texts {
		assert.LessOrEqual(t, len(sizes.texts[i]), 5*kb)
	}
	assert.Equal(t, text, strings.Join(sizes.texts, ""))
	assert.Empty(t, scratchEntries(t, scratch))

	count, err := h.store.Count(context.Background(), testCollection)
	require.NoError(t, err)
	assert.Equal(t, out.Chunks, count, "one stored chunk per derived chunk")
	assert.Equal(t, count, h.store.TotalWrites(), "no chunk written twice")
	assert.Equal(t, count, out.Inserted)

	for _, leaf := range out.Leaves {
		missing, err := h.dedup.Missing(context.Background(), leaf.ExpectedIDs())
		require.NoError(t, err)
		assert.Empty(t, missing, leaf.Path)
	}
}

func TestProcessor_OversizedInvalidUTF8IsNotSplit(t *testing.T) {
	ing := &recordingIngester{}
	p, scratch := newTestProcessor(t, ing, Limits{MaxDirectSize: 200, MinSegmentSize: 50, MaxRecursionDepth: 3})
	text := paragraphs(3) + "\xff" + paragraphs(3)
	unit := writeUnit(t, "mixed.txt", text)

	out, err := p.Process(context.Background(), unit)
	require.Error(t, err)
	assert.True(t, IsInputError(err))
	assert.Equal(t, 0, out.Splits)
	assert.Equal(t, 0, out.Segments)
	assert.Empty(t, ing.units, "nothing is ingested from a malformed unit")
	assert.Empty(t, scratchEntries(t, scratch))
}

type brokenChunker struct{}

func (brokenChunker) SplitText(string) ([]string, error) {
	return nil, errors.New("vocabulary unavailable")
}

func TestProcessor_ChunkerFailureIsNotSplit(t *testing.T) {
	h := newHarness(t)
	worker, err := NewWorker(h.embedder, h.dedup, WithChunker(brokenChunker{}))
	require.NoError(t, err)
	p, scratch := newTestProcessor(t, worker, Limits{MaxDirectSize: 10000, MinSegmentSize: 100, MaxRecursionDepth: 3})
	unit := writeUnit(t, "healthy.txt", paragraphs(10))

	out, err := p.Process(context.Background(), unit)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChunking)
	assert.Equal(t, 0, out.Splits)
	assert.Empty(t, scratchEntries(t, scratch))
	assert.Equal(t, 0, h.embedder.CallCount())
}

func TestProcessor_DefaultChunkerMultibyte(t *testing.T) {
	h := newHarness(t)
	worker, err := NewWorker(h.embedder, h.dedup, WithEmbedBatchSize(4), WithEmbedRetry(fastPolicy()))
	require.NoError(t, err)
	p, _ := newTestProcessor(t, worker, Limits{MaxDirectSize: 1 << 20, MinSegmentSize: 1 << 10, MaxRecursionDepth: 2})

	var sb strings.Builder
	for i := 0; i < 400; i++ {
		fmt.Fprintf(&sb, "第%d段落：日本語の文章と絵文字 🎉🚀 を含むテキストです。\n\n", i)
	}
	unit := writeUnit(t, "notes_ja.txt", sb.String())

	out, err := p.Process(context.Background(), unit)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Splits)
	require.Greater(t, out.Chunks, 1)

	for _, id := range core.ChunkIDs(unit.Path, out.Chunks) {
		chunk, ok := h.store.Chunk(testCollection, id)
		require.True(t, ok)
		assert.True(t, utf8.ValidString(chunk.Text))
	}
}

package splitter

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundaries_Pieces(t *testing.T) {
	tests := []struct {
		name     string
		boundary Boundary
		text     string
		want     []string
	}{
		{"paragraph", Paragraph, "a\n\n\nb", []string{"a\n\n\n", "b"}},
		{"paragraph with indented blank", Paragraph, "a\n  \nb\n\n", []string{"a\n  \n", "b\n\n"}},
		{"paragraph crlf", Paragraph, "a\r\n\r\nb", []string{"a\r\n\r\n", "b"}},
		{"no boundary", Paragraph, "one line", []string{"one line"}},
		{"line", Line, "a\nb\r\nc", []string{"a\n", "b\r\n", "c"}},
		{"sentence", Sentence, "Stop. Go! Why? ok", []string{"Stop. ", "Go! ", "Why? ", "ok"}},
		{"sentence closing quote", Sentence, `He said "stop." Then left.`, []string{`He said "stop." `, "Then left."}},
		{"sentence needs whitespace", Sentence, "version 1.2.3 released", []string{"version 1.2.3 released"}},
		{"clause", Clause, "a, b; c: d", []string{"a, ", "b; ", "c: ", "d"}},
		{"empty", Clause, "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.boundary.Pieces(tt.text)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.text, strings.Join(got, ""))
		})
	}
}

func TestNewRegexBoundary_InvalidPattern(t *testing.T) {
	_, err := NewRegexBoundary("broken", `[`)
	assert.Error(t, err)
}

func TestSplit_PrefersParagraphs(t *testing.T) {
	text := "aaaa\n\nbbbb\n\ncccc"
	assert.Equal(t, []string{"aaaa\n\n", "bbbb\n\n", "cccc"}, Split(text, 7))
}

func TestSplit_PacksPiecesGreedily(t *testing.T) {
	text := "aa\n\nbb\n\ncc"
	assert.Equal(t, []string{"aa\n\nbb\n\n", "cc"}, Split(text, 8))
}

func TestSplit_CascadesToSentences(t *testing.T) {
	text := "One two. Three four. Five six."
	assert.Equal(t, []string{"One two. ", "Three four. ", "Five six."}, Split(text, 10))
}

func TestSplit_CascadesToClauses(t *testing.T) {
	text := "alpha, beta, gamma, delta"
	got := Split(text, 13)
	assert.Equal(t, []string{"alpha, beta, ", "gamma, delta"}, got)
}

func TestSplit_OversizedAtomicPiece(t *testing.T) {
	word := strings.Repeat("x", 50)

	got := Split(word, 10)
	assert.Equal(t, []string{word}, got, "a word is never cut")

	got = Split("short. "+word, 10)
	assert.Equal(t, []string{"short. ", word}, got)
}

func TestSplit_SmallInput(t *testing.T) {
	assert.Nil(t, Split("", 10))
	assert.Equal(t, []string{"fits"}, Split("fits", 10))
	assert.Equal(t, []string{"no target"}, Split("no target", 0))
}

func TestSplit_CustomBoundaries(t *testing.T) {
	s := New(Line)
	got := s.Split("one. two.\nthree. four.", 12)
	assert.Equal(t, []string{"one. two.\n", "three. four."}, got)

	got = s.Split("one. two. three. four.", 12)
	assert.Equal(t, []string{"one. two. three. four."}, got, "sentences are not a boundary here")
}

func TestSplit_Properties(t *testing.T) {
	words := []string{"lorem", "ipsum", "dolor", "sit", "amet", "consectetur", "adipiscing"}
	seps := []string{" ", " ", " ", ", ", "; ", ". ", "! ", "\n", "\n\n", "\n  \n"}
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		var sb strings.Builder
		n := 20 + rng.Intn(400)
		for i := 0; i < n; i++ {
			sb.WriteString(words[rng.Intn(len(words))])
			sb.WriteString(seps[rng.Intn(len(seps))])
		}
		text := sb.String()
		target := 8 + rng.Intn(200)

		segments := Split(text, target)
		require.NotEmpty(t, segments)
		assert.Equal(t, text, strings.Join(segments, ""), "round %d: concatenation must reconstruct input", round)

		for i, seg := range segments {
			require.NotEmpty(t, seg, "round %d: segment %d is empty", round, i)
			if len(seg) > target {
				// only an unbreakable piece may exceed the target
				assert.Len(t, New().refine(nil, seg, 0, target, 0), 1, "round %d: segment %d could have been split", round, i)
			}
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := strings.Repeat("Sentence one here. Another sentence, with a clause.\n\n", 40)
	assert.Equal(t, Split(text, 300), Split(text, 300))
}

func TestTargetSize(t *testing.T) {
	const mb = int64(1 << 20)
	assert.Equal(t, 6*mb, TargetSize(12*mb, mb))
	assert.Equal(t, mb, TargetSize(mb+mb/2, mb))
	assert.Equal(t, mb, TargetSize(100, mb))
}

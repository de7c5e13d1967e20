package ingestion

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktokenloader "github.com/pkoukk/tiktoken-go-loader"
	"github.com/tmc/langchaingo/textsplitter"
)

// Default chunking parameters, in tokens.
const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 100
	DefaultEncoding     = "cl100k_base"
)

var loaderOnce sync.Once

// useOfflineVocabulary makes tiktoken read its vocabularies from the
// embedded assets instead of downloading them.
func useOfflineVocabulary() {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktokenloader.NewOfflineLoader())
	})
}

// TokenChunker splits text into windows of at most size tokens, with overlap
// tokens shared between neighbours. Window edges that fall inside a multibyte
// character are widened to the enclosing character, so every chunk of valid
// UTF-8 input is itself valid UTF-8.
type TokenChunker struct {
	encoding *tiktoken.Tiktoken
	size     int
	overlap  int
}

var _ textsplitter.TextSplitter = (*TokenChunker)(nil)

// NewTokenChunker loads the named encoding and returns a chunker over it.
// An empty encoding selects DefaultEncoding.
func NewTokenChunker(size, overlap int, encoding string) (*TokenChunker, error) {
	if size < 1 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	if encoding == "" {
		encoding = DefaultEncoding
	}

	useOfflineVocabulary()
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", encoding, err)
	}
	return &TokenChunker{encoding: enc, size: size, overlap: overlap}, nil
}

// SplitText implements textsplitter.TextSplitter. Special-token markers in the
// text are encoded as ordinary text.
func (c *TokenChunker) SplitText(text string) ([]string, error) {
	tokens := c.encoding.EncodeOrdinary(text)
	if len(tokens) == 0 {
		return nil, nil
	}

	// offsets[i] is the byte offset in text where token i starts.
	offsets := make([]int, len(tokens)+1)
	for i, tok := range tokens {
		offsets[i+1] = offsets[i] + len(c.encoding.Decode([]int{tok}))
	}
	if offsets[len(tokens)] != len(text) {
		return nil, fmt.Errorf("tokens cover %d of %d bytes", offsets[len(tokens)], len(text))
	}

	step := c.size - c.overlap
	var chunks []string
	for start := 0; start < len(tokens); start += step {
		end := min(start+c.size, len(tokens))
		from := runeStart(text, offsets[start])
		to := runeEnd(text, offsets[end])
		if from < to {
			chunks = append(chunks, text[from:to])
		}
		if end == len(tokens) {
			break
		}
	}
	return chunks, nil
}

// runeStart moves i back to the first byte of the character containing it.
func runeStart(text string, i int) int {
	for i > 0 && i < len(text) && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

// runeEnd moves i forward past the character containing it.
func runeEnd(text string, i int) int {
	for i < len(text) && !utf8.RuneStart(text[i]) {
		i++
	}
	return i
}

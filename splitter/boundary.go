// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package splitter

import (
	"fmt"
	"regexp"
)

// Boundary breaks text into pieces at one kind of semantic boundary.
//
// Each piece keeps the separator that ends it, so the pieces concatenate
// back to the input exactly. Implementations never return empty pieces.
type Boundary interface {
	Name() string
	Pieces(text string) []string
}

type regexBoundary struct {
	name string
	re   *regexp.Regexp
}

// NewRegexBoundary returns a Boundary that cuts text after every match of pattern.
func NewRegexBoundary(name, pattern string) (Boundary, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("boundary %s: %w", name, err)
	}
	return &regexBoundary{name: name, re: re}, nil
}

func mustBoundary(name, pattern string) Boundary {
	b, err := NewRegexBoundary(name, pattern)
	if err != nil {
		panic(err)
	}
	return b
}

func (b *regexBoundary) Name() string {
	return b.name
}

func (b *regexBoundary) Pieces(text string) []string {
	if text == "" {
		return nil
	}
	var pieces []string
	start := 0
	for _, loc := range b.re.FindAllStringIndex(text, -1) {
		end := loc[1]
		if end <= start {
			continue
		}
		pieces = append(pieces, text[start:end])
		start = end
	}
	if start < len(text) {
		pieces = append(pieces, text[start:])
	}
	return pieces
}

// Built-in boundaries, from most to least semantic.
var (
	// Paragraph cuts after a blank line, absorbing any further whitespace.
	Paragraph = mustBoundary("paragraph", `\r?\n[ \t]*\r?\n\s*`)
	// Line cuts after each line break.
	Line = mustBoundary("line", `\r?\n`)
	// Sentence cuts after terminal punctuation followed by whitespace.
	Sentence = mustBoundary("sentence", `[.!?]+["')\]]*\s+`)
	// Clause cuts after a comma, semicolon or colon followed by whitespace.
	Clause = mustBoundary("clause", `[,;:]\s+`)
)

// DefaultBoundaries returns the paragraph, line, sentence, clause cascade.
func DefaultBoundaries() []Boundary {
	return []Boundary{Paragraph, Line, Sentence, Clause}
}

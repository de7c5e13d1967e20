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

package core

import (
	"fmt"
	"unicode/utf8"
)

// ValidateChunk validates a Chunk before it is written to a store.
//
// Validation rules:
//   - Text must not be empty
//   - Vector must not be empty
//
// NOT validated:
//   - ID (0 is a legal hash output)
//   - Metadata (optional)
func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}

	if chunk.Text == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyContent)
	}

	if len(chunk.Vector) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyVector)
	}

	return nil
}

// ValidateUnit validates a Unit before processing.
//
// Validation rules:
//   - Path must not be empty
//   - File must not be empty
//   - RecursionLevel must not be negative
func ValidateUnit(unit *Unit) error {
	if unit == nil {
		return fmt.Errorf("%w: unit is nil", ErrInvalidUnit)
	}

	if unit.Path == "" || unit.File == "" {
		return fmt.Errorf("%w: %w", ErrInvalidUnit, ErrEmptyPath)
	}

	if unit.RecursionLevel < 0 {
		return fmt.Errorf("%w: %w", ErrInvalidUnit, ErrNegativeLevel)
	}

	return nil
}

// ValidateText reports ErrInvalidInput when text cannot be embedded as-is.
func ValidateText(text string) error {
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: text is not valid UTF-8", ErrInvalidInput)
	}
	return nil
}

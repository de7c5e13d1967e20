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

import "errors"

// Domain validation errors
var (
	// ErrInvalidInput marks a unit whose content can never be ingested,
	// such as text that is not valid UTF-8 or a file that cannot be read.
	// Splitting cannot fix these, so they fail without recursion.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidChunk indicates a Chunk failed validation.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrInvalidUnit indicates a Unit failed validation.
	ErrInvalidUnit = errors.New("invalid unit")

	// ErrEmptyPath indicates a unit or chunk has no path.
	ErrEmptyPath = errors.New("path cannot be empty")

	// ErrEmptyVector indicates a chunk has no embedding.
	ErrEmptyVector = errors.New("vector cannot be empty")

	// ErrEmptyContent indicates the chunk text is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrNegativeLevel indicates a recursion level below zero.
	ErrNegativeLevel = errors.New("recursion level cannot be negative")
)

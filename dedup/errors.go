package dedup

import "errors"

var (
	// ErrNotVisible is returned while written chunks are not yet reported by the store.
	ErrNotVisible = errors.New("written chunks not yet visible")
)

package orchestrator

import (
	"fmt"
	"io"
	"time"

	"github.com/poiesic/sluice/ingestion"
)

// FailedPath is a path in the failed state with its recorded reason.
type FailedPath struct {
	Path   string
	Reason string
}

// Summary reports the outcome of one Run.
type Summary struct {
	RunID      string
	Discovered int
	Enqueued   int
	Recovered  []string

	Processed int // top-level units taken from the queue
	Split     int // top-level units that needed splitting
	Succeeded int
	Failed    int

	Segments int
	MaxLevel int
	Chunks   int
	Inserted int
	Skipped  int

	Pending     int
	FailedPaths []FailedPath
	Elapsed     time.Duration
}

func (s *Summary) add(out *ingestion.Outcome) {
	if out == nil {
		return
	}
	if out.Splits > 0 {
		s.Split++
	}
	s.Segments += out.Segments
	s.MaxLevel = max(s.MaxLevel, out.MaxLevel)
	s.Chunks += out.Chunks
	s.Inserted += out.Inserted
	s.Skipped += out.Skipped
}

// Write prints the summary for an operator.
func (s *Summary) Write(w io.Writer) {
	fmt.Fprintf(w, "Run %s\n", s.RunID)
	fmt.Fprintf(w, "  discovered: %d (new: %d, recovered: %d)\n", s.Discovered, s.Enqueued, len(s.Recovered))
	fmt.Fprintf(w, "  processed:  %d (split: %d, succeeded: %d, failed: %d)\n", s.Processed, s.Split, s.Succeeded, s.Failed)
	fmt.Fprintf(w, "  segments:   %d (max level: %d)\n", s.Segments, s.MaxLevel)
	fmt.Fprintf(w, "  chunks:     %d inserted, %d already stored\n", s.Inserted, s.Skipped)
	fmt.Fprintf(w, "  pending:    %d\n", s.Pending)
	fmt.Fprintf(w, "  elapsed:    %s\n", s.Elapsed.Round(time.Millisecond))
	if len(s.FailedPaths) > 0 {
		fmt.Fprintf(w, "Failed paths:\n")
		for _, f := range s.FailedPaths {
			fmt.Fprintf(w, "  %s: %s\n", f.Path, f.Reason)
		}
	}
}

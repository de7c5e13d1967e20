package core

import (
	"testing"
)

func TestIDFromContent(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantSame bool
	}{
		{
			name:     "same content produces same ID",
			content:  "test content",
			wantSame: true,
		},
		{
			name:     "empty string",
			content:  "",
			wantSame: true,
		},
		{
			name:     "long content",
			content:  "This is a much longer piece of content that should still hash consistently",
			wantSame: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id1 := IDFromContent(tt.content)
			id2 := IDFromContent(tt.content)

			if tt.wantSame && id1 != id2 {
				t.Errorf("IDFromContent() produced different IDs for same content: %d vs %d", id1, id2)
			}
		})
	}
}

func TestChunkID(t *testing.T) {
	if ChunkID("a.txt", 0) != ChunkID("a.txt", 0) {
		t.Errorf("ChunkID() is not deterministic")
	}
	if ChunkID("a.txt", 0) == ChunkID("a.txt", 1) {
		t.Errorf("ChunkID() produced same ID for different offsets")
	}
	if ChunkID("a.txt", 0) == ChunkID("b.txt", 0) {
		t.Errorf("ChunkID() produced same ID for different paths")
	}
	// "a.txt#1" + "0" must not collide with "a.txt" + "10"
	if ChunkID("a.txt#1", 0) == ChunkID("a.txt", 10) {
		t.Errorf("ChunkID() collided across path/index boundary")
	}
}

func TestChunkIDs(t *testing.T) {
	ids := ChunkIDs("doc.txt", 3)
	if len(ids) != 3 {
		t.Fatalf("ChunkIDs() returned %d ids, want 3", len(ids))
	}
	for i, id := range ids {
		if id != ChunkID("doc.txt", i) {
			t.Errorf("ChunkIDs()[%d] = %d, want %d", i, id, ChunkID("doc.txt", i))
		}
	}
	if got := ChunkIDs("doc.txt", 0); len(got) != 0 {
		t.Errorf("ChunkIDs() with zero count = %v, want empty", got)
	}
}

func TestCheckpointRecord_ExpectedIDs(t *testing.T) {
	rec := &CheckpointRecord{
		Path:   "big.txt",
		Status: StateCompleted,
		Leaves: []Leaf{
			{Path: "big.txt#big_01.txt", Chunks: 2},
			{Path: "big.txt#big_02.txt", Chunks: 1},
		},
	}

	want := []ID{
		ChunkID("big.txt#big_01.txt", 0),
		ChunkID("big.txt#big_01.txt", 1),
		ChunkID("big.txt#big_02.txt", 0),
	}
	got := rec.ExpectedIDs()
	if len(got) != len(want) {
		t.Fatalf("ExpectedIDs() returned %d ids, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ExpectedIDs()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestUnit_Name(t *testing.T) {
	u := Unit{Path: "docs/a.txt#a_01.txt", File: "/scratch/x_a/a_01.txt"}
	if got := u.Name(); got != "a_01.txt" {
		t.Errorf("Unit.Name() = %v, want a_01.txt", got)
	}
}

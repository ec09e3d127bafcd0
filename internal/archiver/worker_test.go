package archiver

import (
	"testing"
	"time"

	"github.com/neicnordic/endit/internal/stage"
)

func entries(sizes ...int64) []stage.Entry {
	now := time.Now()
	out := make([]stage.Entry, len(sizes))
	for i, s := range sizes {
		out[i] = stage.Entry{ID: string(rune('a' + i)), Size: s, MTime: now.Add(time.Duration(i) * time.Second)}
	}
	return out
}

func TestChunkForSpawn_StopsOncePastSpawnSize(t *testing.T) {
	pending := entries(100, 100, 100, 100)
	chunk, rest := chunkForSpawn(pending, 150)
	if len(chunk) != 2 {
		t.Fatalf("expected 2 entries (first crossing of 150), got %d", len(chunk))
	}
	if len(rest) != 2 {
		t.Errorf("expected 2 entries left over, got %d", len(rest))
	}
	if chunk[0].ID != "a" || chunk[1].ID != "b" {
		t.Errorf("expected oldest-first carving, got %v", chunk)
	}
}

func TestChunkForSpawn_AlwaysTakesAtLeastOne(t *testing.T) {
	pending := entries(1 << 40)
	chunk, rest := chunkForSpawn(pending, 4096)
	if len(chunk) != 1 || len(rest) != 0 {
		t.Errorf("a single oversized entry must still be carved, got chunk=%d rest=%d", len(chunk), len(rest))
	}
}

func TestChunkForSpawn_EmptyPending(t *testing.T) {
	chunk, rest := chunkForSpawn(nil, 4096)
	if len(chunk) != 0 || len(rest) != 0 {
		t.Errorf("expected empty results for empty input, got chunk=%d rest=%d", len(chunk), len(rest))
	}
}

func TestChunkForSpawn_DisjointAcrossWorkers(t *testing.T) {
	pending := entries(100, 100, 100, 100, 100, 100)
	first, rest := chunkForSpawn(pending, 250)
	second, _ := chunkForSpawn(rest, 250)

	seen := map[string]bool{}
	for _, e := range first {
		seen[e.ID] = true
	}
	for _, e := range second {
		if seen[e.ID] {
			t.Errorf("identifier %s handed to two workers", e.ID)
		}
	}
}

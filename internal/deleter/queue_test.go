package deleter

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/neicnordic/endit/internal/stage"
)

func TestEnqueue_SnapshotsAndAcknowledges(t *testing.T) {
	d, base := newTestDaemon(t, false)

	trashDir := stage.Path(base, "trash")
	for _, id := range []string{"AA", "BB"} {
		if err := os.WriteFile(filepath.Join(trashDir, id), nil, 0o644); err != nil {
			t.Fatalf("seeding trash marker %s: %v", id, err)
		}
	}

	now := time.Unix(1700000000, 0)
	n, err := d.enqueue(now)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 enqueued, got %d", n)
	}

	for _, id := range []string{"AA", "BB"} {
		if stage.Exists(filepath.Join(trashDir, id)) {
			t.Errorf("expected trash marker %s to be acknowledged (removed)", id)
		}
	}

	batchFiles, ids, err := loadQueue(base)
	if err != nil {
		t.Fatalf("loadQueue: %v", err)
	}
	if len(batchFiles) != 1 {
		t.Fatalf("expected exactly one batch file, got %d", len(batchFiles))
	}
	got := make([]string, 0, len(ids))
	for id := range ids {
		got = append(got, id)
	}
	sort.Strings(got)
	if len(got) != 2 || got[0] != "AA" || got[1] != "BB" {
		t.Errorf("expected queue to contain AA,BB, got %v", got)
	}
}

func TestEnqueue_DebugModeMovesInsteadOfRemoving(t *testing.T) {
	d, base := newTestDaemon(t, true)

	trashDir := stage.Path(base, "trash")
	if err := os.WriteFile(filepath.Join(trashDir, "CC"), nil, 0o644); err != nil {
		t.Fatalf("seeding trash marker: %v", err)
	}

	if _, err := d.enqueue(time.Unix(1700000100, 0)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if stage.Exists(filepath.Join(trashDir, "CC")) {
		t.Error("expected marker to be moved out of trash/, not left in place")
	}
	debugPath := stage.Path(base, "trash", "debug", "CC")
	if !stage.Exists(debugPath) {
		t.Error("expected marker to be relocated to trash/debug/ in debug mode")
	}
}

func TestWriteQueueBatch_CollidingTimestampRetries(t *testing.T) {
	base := t.TempDir()
	if err := stage.EnsureWritable(base); err != nil {
		t.Fatalf("EnsureWritable: %v", err)
	}

	now := time.Unix(1700000200, 0)
	if _, err := writeQueueBatch(base, now, []string{"X"}); err != nil {
		t.Fatalf("first writeQueueBatch: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := writeQueueBatch(base, now, []string{"Y"}); err != nil {
			t.Errorf("second writeQueueBatch: %v", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("writeQueueBatch did not resolve the timestamp collision in time")
	}

	_, ids, err := loadQueue(base)
	if err != nil {
		t.Fatalf("loadQueue: %v", err)
	}
	if !ids["X"] || !ids["Y"] {
		t.Errorf("expected both batches present after collision retry, got %v", ids)
	}
}

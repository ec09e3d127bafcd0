package stats

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriter_FlushWritesBothFormats(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, "testhsm", "archiver")

	flushed := w.Counter("flushed_bytes_total", "bytes archived")
	flushed.Add(1024)
	pending := w.Gauge("pending_files", "files waiting to archive")
	pending.Set(7)

	if err := w.Flush(time.Unix(0, 0)); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	jsonPath := filepath.Join(dir, "testhsm-archiver-stats.json")
	raw, err := os.ReadFile(jsonPath)
	if err != nil {
		t.Fatalf("reading json stats: %v", err)
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("unmarshalling json stats: %v", err)
	}
	if snap.Counters["flushed_bytes_total"] != 1024 {
		t.Errorf("expected flushed_bytes_total=1024, got %v", snap.Counters["flushed_bytes_total"])
	}
	if snap.Gauges["pending_files"] != 7 {
		t.Errorf("expected pending_files=7, got %v", snap.Gauges["pending_files"])
	}
	if snap.HSM != "testhsm" {
		t.Errorf("expected hsm label testhsm, got %q", snap.HSM)
	}

	promPath := filepath.Join(dir, "testhsm-archiver-stats.prom")
	promRaw, err := os.ReadFile(promPath)
	if err != nil {
		t.Fatalf("reading prometheus stats: %v", err)
	}
	promText := string(promRaw)
	if !strings.Contains(promText, "flushed_bytes_total") {
		t.Errorf("prometheus text missing counter: %s", promText)
	}
	if !strings.Contains(promText, `hsm="testhsm"`) {
		t.Errorf("prometheus text missing hsm label: %s", promText)
	}
}

func TestWriter_CounterGaugeAreIdempotent(t *testing.T) {
	w := New(t.TempDir(), "h", "retriever")
	a := w.Counter("x", "help")
	b := w.Counter("x", "help")
	if a != b {
		t.Error("expected Counter to return the same registered metric on repeat calls")
	}
}

package deleter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/neicnordic/endit/internal/stage"
)

// enqueue scans trash/ for pending deletion markers and, if any are
// found, snapshots them atomically into a new trash/queue/<ts> batch
// file before unlinking (or, in debug mode, relocating) the originals.
// The unlink is the acknowledgement to the plugin that the deletion
// request has been durably accepted, so it must not happen before the
// batch file is safely on disk.
func (d *Daemon) enqueue(now time.Time) (int, error) {
	trashDir := stage.Path(d.cfg.Dir, "trash")
	entries, err := stage.Scan(trashDir)
	if err != nil {
		return 0, fmt.Errorf("scanning trash/: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	sort.Strings(ids)

	if _, err := writeQueueBatch(d.cfg.Dir, now, ids); err != nil {
		return 0, fmt.Errorf("writing trash queue batch: %w", err)
	}

	for _, id := range ids {
		src := filepath.Join(trashDir, id)
		if d.cfg.DeleterDebug {
			debugDir := stage.Path(d.cfg.Dir, "trash", "debug")
			if err := os.MkdirAll(debugDir, 0o755); err != nil {
				d.logger.WithField("error", err).Warn("creating trash/debug failed, leaving marker in place")
				continue
			}
			if err := os.Rename(src, filepath.Join(debugDir, id)); err != nil && !os.IsNotExist(err) {
				d.logger.WithField("id", id).WithField("error", err).Warn("moving trash marker to debug dir failed")
			}
			continue
		}
		if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
			d.logger.WithField("id", id).WithField("error", err).Warn("removing trash marker failed")
		}
	}

	return len(ids), nil
}

// writeQueueBatch writes ids as a JSON array to a new, non-colliding
// trash/queue/<unix_ts> file, sleeping a second and retrying when the
// timestamp is already in use.
func writeQueueBatch(base string, now time.Time, ids []string) (string, error) {
	queueDir := stage.Path(base, "trash", "queue")
	data, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}

	for {
		path := filepath.Join(queueDir, strconv.FormatInt(now.Unix(), 10))
		if stage.Exists(path) {
			time.Sleep(time.Second)
			now = now.Add(time.Second)
			continue
		}
		if err := stage.AtomicWriteFile(path, data, 0o644); err != nil {
			return "", err
		}
		return path, nil
	}
}

// loadQueue reads every batch file in trash/queue/, unions their
// identifiers into one set, and returns the batch file paths alongside
// it so the caller can unlink them once the delete invocation completes.
func loadQueue(base string) (batchFiles []string, ids map[string]bool, err error) {
	queueDir := stage.Path(base, "trash", "queue")
	des, err := os.ReadDir(queueDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, map[string]bool{}, nil
		}
		return nil, nil, err
	}

	ids = make(map[string]bool)
	for _, de := range des {
		if de.IsDir() {
			continue
		}
		path := filepath.Join(queueDir, de.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			continue // transient I/O; this batch is picked up again next tick
		}
		var batch []string
		if err := json.Unmarshal(raw, &batch); err != nil {
			continue // malformed batch file; leave it for inspection rather than losing identifiers
		}
		batchFiles = append(batchFiles, path)
		for _, id := range batch {
			ids[id] = true
		}
	}
	return batchFiles, ids, nil
}

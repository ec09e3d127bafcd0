package retriever

import (
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/neicnordic/endit/internal/stage"
)

const (
	requestParseRetries = 25
	requestParseDelay   = 20 * time.Millisecond
)

// parseRequestFile reads and JSON-decodes one request/<ID> file,
// retrying a bounded number of times to tolerate the plugin's
// non-atomic writes.
func parseRequestFile(path string) (request, error) {
	var req request
	var err error
	for attempt := 0; attempt < requestParseRetries; attempt++ {
		var raw []byte
		raw, err = os.ReadFile(path)
		if err != nil {
			return request{}, err
		}
		if err = json.Unmarshal(raw, &req); err == nil {
			return req, nil
		}
		time.Sleep(requestParseDelay)
	}
	return request{}, err
}

// pgidAlive reports whether the request's parent process still exists,
// by looking up its process group. A dead parent means the
// plugin-spawned mover gave up on this request, so there is no one left
// to deliver the file to.
func pgidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := syscall.Getpgid(pid)
	return err == nil
}

// ingest scans request/ for identifier-pattern names, parses new or
// invalidated entries, and drops requests that are stale or already
// satisfied. Cache validity: an entry is revalidated by comparing the
// request file's current mtime to the mtime it was cached at; a missing
// mtime (stat failure) is always treated as invalidation.
func (d *Daemon) ingest(now time.Time) {
	reqDir := stage.Path(d.cfg.Dir, "request")
	inDir := stage.Path(d.cfg.Dir, "in")

	entries, err := stage.Scan(reqDir)
	if err != nil {
		d.logger.WithField("error", err).Warn("scanning request/ failed")
		return
	}

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		seen[e.ID] = true
		path := filepath.Join(reqDir, e.ID)

		if cached, ok := d.cache[e.ID]; ok && cached.mtime.Equal(e.MTime) {
			continue // unchanged, still valid
		}

		req, err := parseRequestFile(path)
		if err != nil {
			d.logger.WithField("error", err).WithField("id", e.ID).
				Warn("giving up on malformed request file, discarding")
			os.Remove(path)
			delete(d.cache, e.ID)
			continue
		}

		if req.Action != "" && req.Action != "recall" {
			delete(d.cache, e.ID)
			continue
		}

		if !pgidAlive(req.ParentPID) {
			os.Remove(path)
			delete(d.cache, e.ID)
			continue
		}

		if info, err := os.Stat(filepath.Join(inDir, e.ID)); err == nil && info.Size() == req.FileSize {
			os.Remove(path)
			delete(d.cache, e.ID)
			continue
		}

		d.cache[e.ID] = &cachedRequest{
			id:     e.ID,
			req:    req,
			mtime:  e.MTime,
			volume: d.volumeFor(e.ID),
		}
	}

	for id := range d.cache {
		if !seen[id] {
			delete(d.cache, id)
		}
	}
}

// revalidateVolumes re-tags every cached request with its current
// hint-derived volume, called after a hint file reload invalidates the
// previous assignments.
func (d *Daemon) revalidateVolumes() {
	for id, cached := range d.cache {
		cached.volume = d.volumeFor(id)
		d.cache[id] = cached
	}
}

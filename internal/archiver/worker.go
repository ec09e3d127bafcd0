package archiver

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/neicnordic/endit/internal/stage"
	"github.com/neicnordic/endit/internal/tapeclient"
)

// worker tracks one running archive invocation: the files it was handed
// (for completion accounting) and the underlying tapeclient.Worker for
// reaping.
type worker struct {
	tw    *tapeclient.Worker
	files map[string]int64 // identifier -> size, as handed to this worker
}

// chunkForSpawn carves identifiers off the front of pending (already
// sorted oldest-mtime-first) until their cumulative size exceeds
// spawnSize. It returns the carved slice and the remainder. The caller's
// spawnSize carries a small slack so tiny runs don't round a file out of
// every chunk, at the known cost of sometimes splitting temporally
// adjacent groups across tapes.
func chunkForSpawn(pending []stage.Entry, spawnSize int64) (chunk, rest []stage.Entry) {
	var total int64
	i := 0
	for i < len(pending) {
		chunk = append(chunk, pending[i])
		total += pending[i].Size
		i++
		if total > spawnSize {
			break
		}
	}
	return chunk, pending[i:]
}

// spawn forks a dsmc archive invocation over chunk, returning the
// tracked worker. The caller is responsible for the inter-spawn pacing
// sleep that keeps descriptions unique and paces the tape server.
func (d *Daemon) spawn(ctx context.Context, now time.Time, chunk []stage.Entry) (*worker, error) {
	outDir := stage.Path(d.cfg.Dir, "out")
	paths := stage.JoinAbsolute(outDir, chunk)

	listPath, err := stage.WriteFileList(d.cfg.Dir, "archive", paths)
	if err != nil {
		return nil, fmt.Errorf("writing archive file list: %w", err)
	}

	description := fmt.Sprintf("ENDIT-%s", now.UTC().Format(time.RFC3339))
	args := tapeclient.ArchiveArgs(tapeclient.SplitOpts(d.cfg.DSMCOpts), description, listPath)

	tw, err := tapeclient.Start(ctx, tapeclient.Invocation{
		Command:  "dsmc",
		Args:     args,
		CPULimit: d.cfg.DSMCCPULimit,
	})
	if err != nil {
		return nil, fmt.Errorf("starting archive worker: %w", err)
	}

	files := make(map[string]int64, len(chunk))
	for _, e := range chunk {
		files[e.ID] = e.Size
	}
	return &worker{tw: tw, files: files}, nil
}

// reap collects any workers that have exited, classifying each of their
// files as flushed (out/ID gone: the tape client deleted it via
// -deletefiles) or a retry candidate (out/ID still present: the client
// silently failed for that entry).
func (d *Daemon) reap() (flushedBytes, flushedFiles int64, retried []string) {
	outDir := stage.Path(d.cfg.Dir, "out")
	remaining := d.workers[:0]

	for _, w := range d.workers {
		select {
		case <-w.tw.Done():
			res, err := w.tw.Wait()
			if err != nil {
				d.logger.WithField("error", err).Warn("archive worker wait failed")
			}
			for id, size := range w.files {
				if stage.Exists(stage.Path(outDir, "", id)) {
					d.retryFiles[id] = size
					retried = append(retried, id)
				} else {
					flushedBytes += size
					flushedFiles++
					delete(d.retryFiles, id)
					delete(d.retryCounts, id)
					delete(d.abandoned, id)
				}
			}
			if res != nil && len(res.ErrorLines) > 0 {
				d.logger.WithField("lines", res.ErrorLines).Warn("archive worker reported tape client errors")
			}
		default:
			remaining = append(remaining, w)
		}
	}
	d.workers = remaining
	return flushedBytes, flushedFiles, retried
}

// killAll kills every running worker concurrently, so shutdown latency
// doesn't scale with the number of mounted tapes.
func (d *Daemon) killAll() {
	var g errgroup.Group
	for _, w := range d.workers {
		w := w
		g.Go(func() error {
			w.tw.Kill()
			return nil
		})
	}
	_ = g.Wait()
}

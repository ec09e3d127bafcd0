package deleter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/neicnordic/endit/internal/stage"
	"github.com/neicnordic/endit/internal/tapeclient"
)

// tapeWorker tracks the single in-flight delete invocation; the deleter
// never runs more than one at a time - one cron tick, one invocation.
type tapeWorker struct {
	tw      *tapeclient.Worker
	ids     []string
	batches []string
}

// processQueue loads the union of every pending batch file, invokes the
// tape-delete command over it, and blocks until it completes. A queue
// that is empty when the cron tick fires is a no-op. The caller (Tick)
// is responsible for not calling this concurrently with a still-running
// invocation.
func (d *Daemon) processQueue(ctx context.Context, now time.Time) error {
	batchFiles, idSet, err := loadQueue(d.cfg.Dir)
	if err != nil {
		return fmt.Errorf("loading trash queue: %w", err)
	}
	if len(idSet) == 0 {
		return nil
	}

	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	outDir := stage.Path(d.cfg.Dir, "out")
	paths := make([]string, len(ids))
	for i, id := range ids {
		paths[i] = filepath.Join(outDir, id)
	}

	listPath, err := stage.WriteFileList(d.cfg.Dir, "delete", paths)
	if err != nil {
		return fmt.Errorf("writing delete file list: %w", err)
	}

	args := tapeclient.DeleteArgs(tapeclient.SplitOpts(d.cfg.DSMCOpts), nil, listPath)
	w, err := tapeclient.Start(ctx, tapeclient.Invocation{
		Command:  "dsmc",
		Args:     args,
		CPULimit: d.cfg.DSMCCPULimit,
	})
	if err != nil {
		return fmt.Errorf("starting delete worker: %w", err)
	}

	d.running = &tapeWorker{tw: w, ids: ids, batches: batchFiles}
	d.gBusy.Set(1)
	res, _ := w.Wait()
	d.gBusy.Set(0)
	d.running = nil

	outcome := ParseOutput(res.ErrorLines)
	deleted, requeue := outcome.Resolve(ids)

	if len(deleted) > 0 {
		d.logger.WithField("count", len(deleted)).Info("tape client confirmed deletions")
		d.cDeleted.Add(float64(len(deleted)))
	}

	for _, path := range batchFiles {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			d.logger.WithField("path", path).WithField("error", rmErr).Warn("removing processed trash queue batch failed")
		}
	}

	if len(requeue) > 0 {
		d.logger.WithField("count", len(requeue)).WithField("lines", res.ErrorLines).
			Warn("delete invocation failed for some identifiers, re-enqueuing")
		if _, err := writeQueueBatch(d.cfg.Dir, now, requeue); err != nil {
			return fmt.Errorf("re-enqueuing failed deletions: %w", err)
		}
		d.cRetries.Add(float64(len(requeue)))
		d.pendingRetry = true
	} else {
		d.pendingRetry = false
	}

	return nil
}

package retriever

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/neicnordic/endit/internal/stage"
	"github.com/neicnordic/endit/internal/tapeclient"
)

// retrieveWorker tracks one running retrieve invocation.
type retrieveWorker struct {
	tw     *tapeclient.Worker
	volume string
	files  map[string]int64
}

// bufferState is the outcome of the buffer-pressure computation over
// in/'s filesystem.
type bufferState int

const (
	bufferOK bufferState = iota
	bufferBacklog
	bufferKill
)

// checkBuffer computes free space on in/'s filesystem against the
// reserved buffer size (halved when the filesystem is smaller than the
// configured reservation) and classifies it against the backlog/kill
// thresholds.
func (d *Daemon) checkBuffer() (bufferState, error) {
	inDir := stage.Path(d.cfg.Dir, "in")
	space, err := stage.GetDiskSpace(inDir)
	if err != nil {
		return bufferOK, err
	}

	bufferSize := d.cfg.RetrieverBufferSizeGiB * (1 << 30)
	if int64(space.TotalBytes) < bufferSize {
		bufferSize = int64(space.TotalBytes) / 2
	}

	free := int64(space.AvailableBytes)
	killFloor := bufferSize * int64(100-d.cfg.RetrieverKillThreshold) / 100
	backlogFloor := bufferSize * int64(100-d.cfg.RetrieverBacklogThreshold) / 100

	if free <= killFloor {
		return bufferKill, nil
	}
	if free <= backlogFloor {
		return bufferBacklog, nil
	}
	return bufferOK, nil
}

// preClean removes any in/ID whose size doesn't match the expected
// request size before a retrieve runs, since a stale duplicate-archival
// leftover would otherwise make the post-run size check meaningless.
func (d *Daemon) preClean(job *volumeJob) {
	inDir := stage.Path(d.cfg.Dir, "in")
	for id, cached := range job.ids {
		path := stage.Path(inDir, "", id)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.Size() != cached.req.FileSize {
			os.Remove(path)
		}
	}
}

// spawn writes the volume's file list (skipping requests whose in/ID has
// meanwhile reached the expected size), forks a retrieve invocation, and
// returns the tracked worker. A job whose list ends up empty is dropped
// entirely.
func (d *Daemon) spawn(ctx context.Context, job *volumeJob) (*retrieveWorker, error) {
	outDir := stage.Path(d.cfg.Dir, "out")
	inDir := stage.Path(d.cfg.Dir, "in")

	var paths []string
	files := make(map[string]int64, len(job.ids))
	for id, cached := range job.ids {
		if info, err := os.Stat(stage.Path(inDir, "", id)); err == nil && info.Size() == cached.req.FileSize {
			continue // satisfied since it was grouped into this job
		}
		paths = append(paths, stage.Path(outDir, "", id))
		files[id] = cached.req.FileSize
	}
	if len(paths) == 0 {
		return nil, nil
	}

	listPath, err := stage.WriteFileList(d.cfg.Dir, job.volume, paths)
	if err != nil {
		return nil, fmt.Errorf("writing retrieve file list for volume %q: %w", job.volume, err)
	}

	args := tapeclient.RetrieveArgs(tapeclient.SplitOpts(d.cfg.DSMCOpts), nil, listPath, inDir)
	tw, err := tapeclient.Start(ctx, tapeclient.Invocation{
		Command:      "dsmc",
		Args:         args,
		CPULimit:     d.cfg.DSMCCPULimit,
		Stdin:        strings.NewReader("A\n"),
		WatchPrompts: true,
	})
	if err != nil {
		return nil, fmt.Errorf("starting retrieve worker for volume %q: %w", job.volume, err)
	}

	return &retrieveWorker{tw: tw, volume: job.volume, files: files}, nil
}

// reap collects exited retrieve workers and tallies, for each file it
// carried, whether in/ID now has the expected size (staged) or not
// (retried, left for the next tick's job building to re-attempt). The
// exit code is advisory only: the plugin sees either a completed in/ID
// or a still-present request/ID and retries on its own timer, and this
// daemon's bookkeeping follows the same on-disk signals.
//
// A worker that failed (error lines, non-zero exit, or files left
// incomplete) puts its volume on a sleeptime cooldown before it may be
// respawned, so a broken tape is not hammered with a fresh dsmc every
// second. The cooldown covers the synthetic default volume too, which
// has no remount delay to fall back on.
func (d *Daemon) reap(now time.Time) (reaped bool, stagedBytes, stagedFiles, retries int64) {
	inDir := stage.Path(d.cfg.Dir, "in")
	for volume, w := range d.workers {
		select {
		case <-w.tw.Done():
			res, _ := w.tw.Wait()
			d.lastMount[volume] = now
			failed := res != nil && (res.ExitErr != nil || len(res.ErrorLines) > 0)
			if res != nil && len(res.ErrorLines) > 0 {
				d.logger.WithField("volume", volume).WithField("lines", res.ErrorLines).
					Warn("retrieve worker reported tape client errors")
			}
			for id, size := range w.files {
				info, err := os.Stat(stage.Path(inDir, "", id))
				if err == nil && info.Size() == size {
					stagedBytes += size
					stagedFiles++
				} else {
					retries++
					failed = true
				}
			}
			if failed {
				d.cooldown[volume] = now.Add(d.cfg.SleepTime)
				d.logger.WithField("volume", volume).WithField("until", now.Add(d.cfg.SleepTime)).
					Info("backing off volume after a failed retrieve")
			}
			delete(d.workers, volume)
			reaped = true
		default:
		}
	}
	return reaped, stagedBytes, stagedFiles, retries
}

// killAll SIGKILLs every running retrieve worker concurrently, used both
// on shutdown and when the in/ filesystem crosses the kill threshold
// mid-run. A volume held by a wedged worker must not delay killing the
// others.
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

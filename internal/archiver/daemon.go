// Package archiver implements the threshold-driven admission controller
// that coalesces files in out/ into bounded-parallel tape-archive
// sessions.
package archiver

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/neicnordic/endit/internal/config"
	"github.com/neicnordic/endit/internal/logging"
	"github.com/neicnordic/endit/internal/stage"
	"github.com/neicnordic/endit/internal/stats"
	"github.com/neicnordic/endit/internal/supervisor"
)

// Daemon implements supervisor.Component for the archiver. All fields
// below are touched only from the supervisor's single goroutine, so no
// locking is needed inside the daemon itself.
type Daemon struct {
	cfg    *config.Schema
	ov     *config.OverrideState
	logger logging.Logger
	statsW *stats.Writer

	bypass supervisor.BypassFlag

	lastTrigger     int
	prevUsageLevel  int
	inactivityStart time.Time // zero value means the timer is not running
	retryFiles      map[string]int64
	retryCounts     map[string]int
	abandoned       map[string]bool // retried past archiver_maxretries; no longer drives the retry timeout

	workers []*worker

	flushedBytes int64
	flushedFiles int64
	flushRetries int64

	gAllusageBytes prometheus.Gauge
	gAllusageFiles prometheus.Gauge
	gWorkingBytes  prometheus.Gauge
	gWorkingFiles  prometheus.Gauge
	gPendingBytes  prometheus.Gauge
	gPendingFiles  prometheus.Gauge
	gBusyWorkers   prometheus.Gauge
	gMaxWorkers    prometheus.Gauge
	gTime          prometheus.Gauge
	cFlushedBytes  prometheus.Counter
	cFlushedFiles  prometheus.Counter
	cFlushRetries  prometheus.Counter
}

// New builds an archiver Daemon from an already-loaded config schema.
func New(cfg *config.Schema, ov *config.OverrideState, logger logging.Logger) *Daemon {
	statsW := stats.New(cfg.StatsDir, cfg.ShortDesc, "archiver")
	d := &Daemon{
		cfg:         cfg,
		ov:          ov,
		logger:      logger,
		statsW:      statsW,
		retryFiles:  make(map[string]int64),
		retryCounts: make(map[string]int),
		abandoned:   make(map[string]bool),
	}
	d.wireMetrics()
	return d
}

func (d *Daemon) wireMetrics() {
	d.gAllusageBytes = d.statsW.Gauge("usage_bytes", "total bytes currently staged in out/")
	d.gAllusageFiles = d.statsW.Gauge("usage_files", "total files currently staged in out/")
	d.gWorkingBytes = d.statsW.Gauge("working_bytes", "bytes currently owned by a running worker")
	d.gWorkingFiles = d.statsW.Gauge("working_files", "files currently owned by a running worker")
	d.gPendingBytes = d.statsW.Gauge("pending_bytes", "bytes in out/ not yet claimed by any worker")
	d.gPendingFiles = d.statsW.Gauge("pending_files", "files in out/ not yet claimed by any worker")
	d.gBusyWorkers = d.statsW.Gauge("busyworkers", "archive workers currently running")
	d.gMaxWorkers = d.statsW.Gauge("maxworkers", "current sticky session count (lasttrigger)")
	d.gTime = d.statsW.Gauge("time", "unix timestamp of the last stats flush")
	d.cFlushedBytes = d.statsW.Counter("flushed_bytes", "bytes successfully archived")
	d.cFlushedFiles = d.statsW.Counter("flushed_files", "files successfully archived")
	d.cFlushRetries = d.statsW.Counter("flush_retries", "files that needed a retry after a failed worker")
}

// HandleSignal implements supervisor.Component.
func (d *Daemon) HandleSignal(sig os.Signal) {
	switch sig {
	case syscall.SIGUSR1:
		d.bypass.Signal()
	default:
		// TERM/INT/QUIT/HUP: supervisor.Run kills the daemon via Shutdown
		// right after this returns.
	}
}

// Shutdown implements supervisor.Component: kill every running worker
// and return.
func (d *Daemon) Shutdown() {
	d.killAll()
}

// Tick implements supervisor.Component. It reaps finished workers,
// rescans out/, recomputes the threshold model, spawns new workers if
// warranted, and flushes stats, returning how long to sleep before the
// next tick.
func (d *Daemon) Tick(now time.Time) time.Duration {
	flushedBytes, flushedFiles, retried := d.reap()
	d.flushedBytes += flushedBytes
	d.flushedFiles += flushedFiles
	if len(retried) > 0 {
		d.flushRetries += int64(len(retried))
		for _, id := range retried {
			d.retryCounts[id]++
			if d.cfg.ArchiverMaxRetries > 0 && d.retryCounts[id] > d.cfg.ArchiverMaxRetries {
				delete(d.retryFiles, id)
				d.abandoned[id] = true
			}
		}
	}
	reaped := flushedBytes > 0 || len(retried) > 0

	cfg, err := d.ov.Reconcile(d.cfg, d.logger, time.Sleep)
	if err != nil {
		d.logger.WithField("error", err).Warn("override reconciliation failed, keeping previous config")
	} else {
		d.cfg = cfg
	}

	outDir := stage.Path(d.cfg.Dir, "out")
	entries, err := stage.Scan(outDir)
	if err != nil {
		d.logger.WithField("error", err).Warn("scanning out/ failed")
		entries = nil
	}
	stage.SortByMTimeAsc(entries)

	owned := make(map[string]bool)
	var workingBytes, workingFiles int64
	for _, w := range d.workers {
		for id, size := range w.files {
			owned[id] = true
			workingBytes += size
			workingFiles++
		}
	}

	allusage := stage.TotalSize(entries)
	var pendingEntries []stage.Entry
	var pending int64
	for _, e := range entries {
		if owned[e.ID] {
			continue
		}
		pendingEntries = append(pendingEntries, e)
		pending += e.Size
	}

	var thresholdBytes [10]int64
	for i, giB := range d.cfg.ArchiverThresholdsGiB {
		thresholdBytes[i] = giB * GiB
	}

	currentWorkers := len(d.workers)
	level := usageLevel(allusage, thresholdBytes, d.lastTrigger)
	trigger := shouldTrigger(level, currentWorkers, d.lastTrigger, d.prevUsageLevel, pending, thresholdBytes[1])
	triggerLevel := triggerLevelFor(level, d.lastTrigger, trigger)

	bypass := d.bypass.Take()
	if level == 0 && allusage > 0 {
		if d.inactivityStart.IsZero() {
			d.inactivityStart = now
		}
		timeout := d.cfg.ArchiverTimeout
		if len(d.retryFiles) > 0 {
			timeout = minDuration(d.cfg.ArchiverTimeout, d.cfg.ArchiverRetryTimeout)
		}
		if currentWorkers == 0 && now.Sub(d.inactivityStart) > timeout {
			triggerLevel = maxInt(triggerLevel, 1)
			// Restart the timer at the attempt, so a worker that fails
			// again waits out the retry timeout instead of re-firing on
			// every subsequent tick.
			d.inactivityStart = now
		}
	} else {
		d.inactivityStart = time.Time{}
	}
	if bypass {
		if pending > 0 {
			triggerLevel = maxInt(triggerLevel, 1)
			d.inactivityStart = now
		} else {
			d.logger.Info("USR1 received but nothing is pending, ignoring")
		}
	}
	if len(d.abandoned) > 0 {
		d.logger.WithField("count", len(d.abandoned)).
			Warn("identifiers exceeded archiver_maxretries and are no longer retried automatically")
	}

	if allusage == 0 {
		d.inactivityStart = time.Time{}
		d.lastTrigger = 0
		d.retryFiles = make(map[string]int64)
		d.retryCounts = make(map[string]int)
		d.abandoned = make(map[string]bool)
		triggerLevel = 0
	} else {
		d.lastTrigger = rampDown(d.lastTrigger, level, d.prevUsageLevel)
		if triggerLevel > d.lastTrigger {
			d.lastTrigger = triggerLevel
		}
	}
	d.prevUsageLevel = level

	spawnedAny := false
	if triggerLevel > currentWorkers && len(pendingEntries) > 0 {
		tospawn := triggerLevel - currentWorkers
		denom := triggerLevel
		if denom == 0 {
			denom = 1
		}
		spawnSize := allusage/int64(denom) + 4096
		ctx := context.Background()
		for i := 0; i < tospawn && len(pendingEntries) > 0; i++ {
			var chunk []stage.Entry
			chunk, pendingEntries = chunkForSpawn(pendingEntries, spawnSize)
			if len(chunk) == 0 {
				break
			}
			w, err := d.spawn(ctx, now, chunk)
			if err != nil {
				d.logger.WithField("error", err).Error("failed to spawn archive worker")
				break
			}
			d.workers = append(d.workers, w)
			spawnedAny = true
			if i < tospawn-1 {
				time.Sleep(2 * time.Second)
			}
		}
	}

	d.gAllusageBytes.Set(float64(allusage))
	d.gAllusageFiles.Set(float64(len(entries)))
	d.gWorkingBytes.Set(float64(workingBytes))
	d.gWorkingFiles.Set(float64(workingFiles))
	d.gPendingBytes.Set(float64(pending))
	d.gPendingFiles.Set(float64(len(pendingEntries)))
	d.gBusyWorkers.Set(float64(len(d.workers)))
	d.gMaxWorkers.Set(float64(d.lastTrigger))
	d.gTime.Set(float64(now.Unix()))
	if flushedBytes > 0 {
		d.cFlushedBytes.Add(float64(flushedBytes))
	}
	if flushedFiles > 0 {
		d.cFlushedFiles.Add(float64(flushedFiles))
	}
	if len(retried) > 0 {
		d.cFlushRetries.Add(float64(len(retried)))
	}
	if err := d.statsW.Flush(now); err != nil {
		d.logger.WithField("error", err).Warn("flushing archiver stats failed")
	}

	if reaped || spawnedAny {
		return time.Second
	}
	return d.cfg.SleepTime
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

package retriever

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/neicnordic/endit/internal/config"
	"github.com/neicnordic/endit/internal/logging"
	"github.com/neicnordic/endit/internal/stage"
	"github.com/neicnordic/endit/internal/stats"
	"github.com/neicnordic/endit/internal/supervisor"
)

// Daemon implements supervisor.Component for the retriever.
type Daemon struct {
	cfg    *config.Schema
	ov     *config.OverrideState
	logger logging.Logger
	statsW *stats.Writer

	bypass supervisor.BypassFlag

	cache     map[string]*cachedRequest
	hint      map[string]hintEntry
	hintMTime time.Time
	lastMount map[string]time.Time
	cooldown  map[string]time.Time // volume -> earliest respawn after a failed retrieve
	workers   map[string]*retrieveWorker

	watcher *fsnotify.Watcher // best-effort early wake only; see watch.go
	wake    chan struct{}

	gStageBytes    prometheus.Gauge
	gStageFiles    prometheus.Gauge
	gStageRetries  prometheus.Gauge
	gWorkingBytes  prometheus.Gauge
	gWorkingFiles  prometheus.Gauge
	gReqBytes      prometheus.Gauge
	gReqFiles      prometheus.Gauge
	gInAvailBytes  prometheus.Gauge
	gBusyWorkers   prometheus.Gauge
	gMaxWorkers    prometheus.Gauge
	gTime          prometheus.Gauge
	gHintMTime     prometheus.Gauge
	gHintEntries   prometheus.Gauge
	cStagedBytes   prometheus.Counter
	cStagedFiles   prometheus.Counter
	cStageRetries  prometheus.Counter
}

// New builds a retriever Daemon from an already-loaded config schema.
func New(cfg *config.Schema, ov *config.OverrideState, logger logging.Logger) *Daemon {
	statsW := stats.New(cfg.StatsDir, cfg.ShortDesc, "retriever")
	d := &Daemon{
		cfg:       cfg,
		ov:        ov,
		logger:    logger,
		statsW:    statsW,
		cache:     make(map[string]*cachedRequest),
		hint:      make(map[string]hintEntry),
		lastMount: make(map[string]time.Time),
		cooldown:  make(map[string]time.Time),
		workers:   make(map[string]*retrieveWorker),
	}
	d.wireMetrics()
	d.startWatcher()
	return d
}

func (d *Daemon) wireMetrics() {
	d.gStageBytes = d.statsW.Gauge("staged_bytes", "bytes successfully retrieved")
	d.gStageFiles = d.statsW.Gauge("staged_files", "files successfully retrieved")
	d.gStageRetries = d.statsW.Gauge("stage_retries", "retrieve attempts that needed a retry")
	d.gWorkingBytes = d.statsW.Gauge("working_bytes", "bytes currently owned by a running worker")
	d.gWorkingFiles = d.statsW.Gauge("working_files", "files currently owned by a running worker")
	d.gReqBytes = d.statsW.Gauge("requests_bytes", "bytes requested but not yet assigned to a worker")
	d.gReqFiles = d.statsW.Gauge("requests_files", "files requested but not yet assigned to a worker")
	d.gInAvailBytes = d.statsW.Gauge("in_avail_bytes", "free space on the in/ filesystem")
	d.gBusyWorkers = d.statsW.Gauge("busyworkers", "retrieve workers currently running")
	d.gMaxWorkers = d.statsW.Gauge("maxworkers", "configured retriever_maxworkers")
	d.gTime = d.statsW.Gauge("time", "unix timestamp of the last stats flush")
	d.gHintMTime = d.statsW.Gauge("hintfile_mtime", "mtime of the last successfully loaded hint file")
	d.gHintEntries = d.statsW.Gauge("hintfile_entries", "entries in the last successfully loaded hint file")
	d.cStagedBytes = d.statsW.Counter("staged_bytes_total", "cumulative bytes retrieved")
	d.cStagedFiles = d.statsW.Counter("staged_files_total", "cumulative files retrieved")
	d.cStageRetries = d.statsW.Counter("stage_retries_total", "cumulative retrieve retries")
}

// HandleSignal implements supervisor.Component.
func (d *Daemon) HandleSignal(sig os.Signal) {
	if sig == syscall.SIGUSR1 {
		d.bypass.Signal()
	}
}

// Shutdown implements supervisor.Component.
func (d *Daemon) Shutdown() {
	d.killAll()
	d.stopWatcher()
}

// Tick implements supervisor.Component.
func (d *Daemon) Tick(now time.Time) time.Duration {
	reaped, stagedBytes, stagedFiles, retries := d.reap(now)
	if stagedBytes > 0 {
		d.cStagedBytes.Add(float64(stagedBytes))
	}
	if stagedFiles > 0 {
		d.cStagedFiles.Add(float64(stagedFiles))
	}
	if retries > 0 {
		d.cStageRetries.Add(float64(retries))
	}

	cfg, err := d.ov.Reconcile(d.cfg, d.logger, time.Sleep)
	if err != nil {
		d.logger.WithField("error", err).Warn("override reconciliation failed, keeping previous config")
	} else {
		d.cfg = cfg
	}

	if d.reloadHint(d.cfg.HintFile) {
		d.revalidateVolumes()
	}

	d.ingest(now)

	bypass := d.bypass.Take()
	waitingForSlot := false
	var workingBytes, workingFiles int64
	for _, w := range d.workers {
		for _, size := range w.files {
			workingBytes += size
			workingFiles++
		}
	}

	jobs := d.buildJobs()
	var reqBytes, reqFiles int64
	for _, job := range jobs {
		for _, cached := range job.ids {
			reqBytes += cached.req.FileSize
			reqFiles++
		}
	}

	buffer, err := d.checkBuffer()
	if err != nil {
		d.logger.WithField("error", err).Warn("checking in/ buffer state failed")
	}
	if buffer == bufferKill {
		d.killAll()
	}

	spawnedAny := false
	if buffer != bufferBacklog && buffer != bufferKill {
		ctx := context.Background()
		for _, job := range jobs {
			if len(d.workers) >= d.cfg.RetrieverMaxWorkers {
				waitingForSlot = true
				break
			}
			if !d.readyToStart(job, now, bypass) {
				continue
			}
			d.preClean(job)
			w, err := d.spawn(ctx, job)
			if err != nil {
				d.logger.WithField("volume", job.volume).WithField("error", err).
					Error("failed to spawn retrieve worker")
				continue
			}
			if w == nil {
				continue // list emptied out after re-validation
			}
			d.workers[job.volume] = w
			d.lastMount[job.volume] = now
			spawnedAny = true
		}
	}

	var inAvail int64
	if space, err := stage.GetDiskSpace(stage.Path(d.cfg.Dir, "in")); err == nil {
		inAvail = int64(space.AvailableBytes)
	}

	d.gStageBytes.Set(float64(stagedBytes))
	d.gStageFiles.Set(float64(stagedFiles))
	d.gStageRetries.Set(float64(retries))
	d.gWorkingBytes.Set(float64(workingBytes))
	d.gWorkingFiles.Set(float64(workingFiles))
	d.gReqBytes.Set(float64(reqBytes))
	d.gReqFiles.Set(float64(reqFiles))
	d.gInAvailBytes.Set(float64(inAvail))
	d.gBusyWorkers.Set(float64(len(d.workers)))
	d.gMaxWorkers.Set(float64(d.cfg.RetrieverMaxWorkers))
	d.gTime.Set(float64(now.Unix()))
	d.gHintMTime.Set(float64(d.hintMTime.Unix()))
	d.gHintEntries.Set(float64(len(d.hint)))
	if err := d.statsW.Flush(now); err != nil {
		d.logger.WithField("error", err).Warn("flushing retriever stats failed")
	}

	switch {
	case reaped:
		return time.Second
	case waitingForSlot:
		return 500 * time.Millisecond
	case spawnedAny:
		return time.Second
	default:
		return d.cfg.SleepTime
	}
}

// Package deleter implements the one component where cron-scheduled
// batching replaces continuous polling: it acknowledges pending
// deletions out of trash/ into durable queue batches every tick, then on
// a cron-like schedule invokes the tape-delete command over the whole
// queue and reconciles its partial-success output. Tape deletions are
// expensive and have low urgency, so batching wins over immediacy.
package deleter

import (
	"os"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/neicnordic/endit/internal/config"
	"github.com/neicnordic/endit/internal/logging"
	"github.com/neicnordic/endit/internal/stats"
	"github.com/neicnordic/endit/internal/supervisor"
)

// Daemon implements supervisor.Component for the deleter.
type Daemon struct {
	cfg    *config.Schema
	ov     *config.OverrideState
	logger logging.Logger
	statsW *stats.Writer

	flushQueue supervisor.BypassFlag // USR1: force-process the queue on next tick

	schedule Schedule
	nextFire time.Time
	running  *tapeWorker

	pendingRetry bool // set when the previous cron tick re-enqueued a partial failure

	gQueueFiles prometheus.Gauge
	gBusy       prometheus.Gauge
	gTime       prometheus.Gauge
	cDeleted    prometheus.Counter
	cRetries    prometheus.Counter
}

// New builds a deleter Daemon from an already-loaded config schema. The
// cron schedule is parsed eagerly; a parse failure is fatal to startup,
// like any other configuration error.
func New(cfg *config.Schema, ov *config.OverrideState, logger logging.Logger) (*Daemon, error) {
	hostname, _ := os.Hostname()
	sched, err := buildSchedule(cfg.DeleterQueueProcInterval, hostname)
	if err != nil {
		return nil, err
	}

	statsW := stats.New(cfg.StatsDir, cfg.ShortDesc, "deleter")
	d := &Daemon{
		cfg:      cfg,
		ov:       ov,
		logger:   logger,
		statsW:   statsW,
		schedule: sched,
		nextFire: sched.Next(time.Now()),
	}
	d.wireMetrics()
	return d, nil
}

// buildSchedule tries the robfig/cron/v3-backed Schedule first, falling
// back to the rollover-based scheduler only when the configured interval
// isn't a cron-parseable expression.
func buildSchedule(raw, hostname string) (Schedule, error) {
	if sched, err := ParseSchedule(raw, hostname); err == nil {
		return sched, nil
	}
	return ParseFallback(raw)
}

func (d *Daemon) wireMetrics() {
	d.gQueueFiles = d.statsW.Gauge("queue_files", "identifiers currently queued for deletion")
	d.gBusy = d.statsW.Gauge("busyworkers", "1 while a delete invocation is running, else 0")
	d.gTime = d.statsW.Gauge("time", "unix timestamp of the last stats flush")
	d.cDeleted = d.statsW.Counter("deleted_files", "identifiers confirmed deleted from tape")
	d.cRetries = d.statsW.Counter("delete_retries", "identifiers re-enqueued after a failed delete invocation")
}

// HandleSignal implements supervisor.Component.
func (d *Daemon) HandleSignal(sig os.Signal) {
	if sig == syscall.SIGUSR1 {
		d.flushQueue.Signal()
	}
}

// Shutdown implements supervisor.Component: kill the running tape client
// if one is in flight, then return.
func (d *Daemon) Shutdown() {
	if d.running != nil {
		d.running.tw.Kill()
	}
}

package deleter

import (
	"context"
	"time"
)

// Tick implements supervisor.Component. Every tick acknowledges pending
// trash/ markers into a queue batch; the queue is only actually sent to
// the tape client when the cron schedule says it's due, USR1 forced it,
// or the previous attempt left a partial failure to retry.
func (d *Daemon) Tick(now time.Time) time.Duration {
	cfg, err := d.ov.Reconcile(d.cfg, d.logger, time.Sleep)
	if err != nil {
		d.logger.WithField("error", err).Warn("override reconciliation failed, keeping previous config")
	} else {
		d.cfg = cfg
	}

	enqueued, err := d.enqueue(now)
	if err != nil {
		d.logger.WithField("error", err).Warn("enqueueing trash/ markers failed")
	}

	flush := d.flushQueue.Take()
	due := !now.Before(d.nextFire)

	if due || flush || d.pendingRetry {
		if err := d.processQueue(context.Background(), now); err != nil {
			d.logger.WithField("error", err).Error("processing trash queue failed")
		}
		if due {
			d.nextFire = d.schedule.Next(now)
		}
	}

	_, ids, err := loadQueue(d.cfg.Dir)
	if err != nil {
		d.logger.WithField("error", err).Warn("counting trash queue depth failed")
	}
	d.gQueueFiles.Set(float64(len(ids)))
	d.gTime.Set(float64(now.Unix()))
	if err := d.statsW.Flush(now); err != nil {
		d.logger.WithField("error", err).Warn("flushing deleter stats failed")
	}

	if enqueued > 0 || flush || d.pendingRetry {
		return time.Second
	}
	return d.cfg.SleepTime
}

package retriever

import (
	"sort"
	"time"
)

// buildJobs groups every cached request not already owned by a running
// worker into per-volume jobs, tracking the oldest/newest request
// timestamp in each.
func (d *Daemon) buildJobs() []*volumeJob {
	jobs := make(map[string]*volumeJob)
	for id, cached := range d.cache {
		if _, busy := d.workers[cached.volume]; busy {
			continue
		}
		job, ok := jobs[cached.volume]
		if !ok {
			job = &volumeJob{volume: cached.volume, ids: make(map[string]*cachedRequest), tsOldest: cached.mtime, tsNewest: cached.mtime}
			jobs[cached.volume] = job
		}
		job.ids[id] = cached
		if cached.mtime.Before(job.tsOldest) {
			job.tsOldest = cached.mtime
		}
		if cached.mtime.After(job.tsNewest) {
			job.tsNewest = cached.mtime
		}
	}

	ordered := make([]*volumeJob, 0, len(jobs))
	for _, job := range jobs {
		ordered = append(ordered, job)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].tsOldest.Before(ordered[j].tsOldest)
	})
	return ordered
}

// readyToStart applies the start policy gating: the failure cooldown
// for every volume, then remount-delay for non-default volumes, then
// fill-delay unless bypassed by USR1. The synthetic default volume has
// no mount cost to amortize, so only the cooldown gates it. USR1 skips
// the coalescing delays only; the failure cooldown and the remount
// delay protect the tape hardware and stay in force.
func (d *Daemon) readyToStart(job *volumeJob, now time.Time, bypass bool) bool {
	if until, ok := d.cooldown[job.volume]; ok {
		if now.Before(until) {
			return false
		}
		delete(d.cooldown, job.volume)
	}
	if job.volume == defaultVolume {
		return true
	}
	if last, ok := d.lastMount[job.volume]; ok && last.Add(d.cfg.RetrieverRemountDelay).After(now) {
		return false
	}
	if bypass {
		return true
	}
	stillGrowing := job.tsOldest.After(now.Add(-d.cfg.RetrieverReqListFillWaitMax)) &&
		job.tsNewest.After(now.Add(-d.cfg.RetrieverReqListFillWait))
	return !stillGrowing
}

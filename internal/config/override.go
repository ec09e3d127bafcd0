package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/neicnordic/endit/internal/logging"
)

// OverrideState tracks the runtime override file's applied mtime so the
// caller's main loop can decide, once per tick, whether to reload.
type OverrideState struct {
	path      string
	appliedAt time.Time // mtime of the override file we last successfully applied
	applied   bool       // whether an override is currently layered on base
	last      *Schema    // most recently merged Schema, reused when mtime hasn't advanced
}

// NewOverrideState returns a fresh tracker for the given override path
// (may be empty, meaning overrides are disabled).
func NewOverrideState(path string) *OverrideState {
	return &OverrideState{path: path}
}

// overridePayload is the whitelisted subset of Schema fields that may
// appear in the runtime override JSON file.
type overridePayload struct {
	SleepTime                   *int64 `json:"sleeptime,omitempty"`
	ArchiverThreshold1Usage     *int64 `json:"archiver_threshold1_usage,omitempty"`
	ArchiverThreshold2Usage     *int64 `json:"archiver_threshold2_usage,omitempty"`
	ArchiverThreshold3Usage     *int64 `json:"archiver_threshold3_usage,omitempty"`
	ArchiverThreshold4Usage     *int64 `json:"archiver_threshold4_usage,omitempty"`
	ArchiverThreshold5Usage     *int64 `json:"archiver_threshold5_usage,omitempty"`
	ArchiverThreshold6Usage     *int64 `json:"archiver_threshold6_usage,omitempty"`
	ArchiverThreshold7Usage     *int64 `json:"archiver_threshold7_usage,omitempty"`
	ArchiverThreshold8Usage     *int64 `json:"archiver_threshold8_usage,omitempty"`
	ArchiverThreshold9Usage     *int64 `json:"archiver_threshold9_usage,omitempty"`
	ArchiverTimeout             *int64 `json:"archiver_timeout,omitempty"`
	ArchiverRetryTimeout        *int64 `json:"archiver_retrytimeout,omitempty"`
	RetrieverMaxWorkers         *int64 `json:"retriever_maxworkers,omitempty"`
	RetrieverRemountDelay       *int64 `json:"retriever_remountdelay,omitempty"`
	RetrieverReqListFillWait    *int64 `json:"retriever_reqlistfillwait,omitempty"`
	RetrieverReqListFillWaitMax *int64 `json:"retriever_reqlistfillwaitmax,omitempty"`
	RetrieverBufferSize         *int64 `json:"retriever_buffersize,omitempty"`
	RetrieverBacklogThreshold   *int64 `json:"retriever_backlogthreshold,omitempty"`
	RetrieverKillThreshold      *int64 `json:"retriever_killthreshold,omitempty"`
}

const overrideParseRetries = 10
const overrideParseRetryDelay = 100 * time.Millisecond

// Reconcile inspects the override file's mtime relative to the state
// already applied and returns a Schema layering the override on top of
// base when appropriate. Per-tick semantics:
//
//   - missing file + override currently applied -> revert to base and log
//     the revert (no per-key diff is logged for a revert)
//   - present + newer than last load -> parse (retrying transient errors),
//     apply whitelist+validators, revalidate threshold monotonicity
//   - present + not newer -> no-op, return the previously merged Schema
//
// sleeper is injected so tests can avoid real sleeps; pass time.Sleep in
// production.
func (st *OverrideState) Reconcile(base *Schema, logger logging.Logger, sleeper func(time.Duration)) (*Schema, error) {
	if st.path == "" {
		return base, nil
	}

	info, err := os.Stat(st.path)
	if os.IsNotExist(err) {
		if st.applied {
			logger.WithField("override_file", st.path).Info("runtime override file removed, reverting to base config")
			st.applied = false
			st.appliedAt = time.Time{}
			st.last = nil
		}
		return base, nil
	}
	if err != nil {
		return base, fmt.Errorf("stat override file: %w", err)
	}

	if st.applied && !info.ModTime().After(st.appliedAt) {
		return st.lastMerged(base)
	}

	var payload overridePayload
	var parseErr error
	for attempt := 0; attempt < overrideParseRetries; attempt++ {
		data, rerr := os.ReadFile(st.path)
		if rerr != nil {
			parseErr = rerr
			sleeper(overrideParseRetryDelay)
			continue
		}
		if uerr := json.Unmarshal(data, &payload); uerr != nil {
			parseErr = uerr
			sleeper(overrideParseRetryDelay)
			continue
		}
		parseErr = nil
		break
	}
	if parseErr != nil {
		logger.WithError(parseErr).WithField("override_file", st.path).Warn("failed to parse runtime override after retries, keeping previous config")
		return st.lastMerged(base)
	}

	merged := *base
	diffs := logging.Fields{}
	applyInt := func(name string, dst *int64, v *int64) {
		if v == nil {
			return
		}
		if *dst != *v {
			diffs[name] = fmt.Sprintf("%d -> %d", *dst, *v)
		}
		*dst = *v
	}
	applyDur := func(name string, dst *time.Duration, v *int64) {
		if v == nil {
			return
		}
		nv := time.Duration(*v) * time.Second
		if *dst != nv {
			diffs[name] = fmt.Sprintf("%s -> %s", *dst, nv)
		}
		*dst = nv
	}

	applyDur("sleeptime", &merged.SleepTime, payload.SleepTime)
	applyInt("archiver_threshold1_usage", &merged.ArchiverThresholdsGiB[1], payload.ArchiverThreshold1Usage)
	applyInt("archiver_threshold2_usage", &merged.ArchiverThresholdsGiB[2], payload.ArchiverThreshold2Usage)
	applyInt("archiver_threshold3_usage", &merged.ArchiverThresholdsGiB[3], payload.ArchiverThreshold3Usage)
	applyInt("archiver_threshold4_usage", &merged.ArchiverThresholdsGiB[4], payload.ArchiverThreshold4Usage)
	applyInt("archiver_threshold5_usage", &merged.ArchiverThresholdsGiB[5], payload.ArchiverThreshold5Usage)
	applyInt("archiver_threshold6_usage", &merged.ArchiverThresholdsGiB[6], payload.ArchiverThreshold6Usage)
	applyInt("archiver_threshold7_usage", &merged.ArchiverThresholdsGiB[7], payload.ArchiverThreshold7Usage)
	applyInt("archiver_threshold8_usage", &merged.ArchiverThresholdsGiB[8], payload.ArchiverThreshold8Usage)
	applyInt("archiver_threshold9_usage", &merged.ArchiverThresholdsGiB[9], payload.ArchiverThreshold9Usage)
	applyDur("archiver_timeout", &merged.ArchiverTimeout, payload.ArchiverTimeout)
	applyDur("archiver_retrytimeout", &merged.ArchiverRetryTimeout, payload.ArchiverRetryTimeout)

	if payload.RetrieverMaxWorkers != nil {
		nv := int(*payload.RetrieverMaxWorkers)
		if merged.RetrieverMaxWorkers != nv {
			diffs["retriever_maxworkers"] = fmt.Sprintf("%d -> %d", merged.RetrieverMaxWorkers, nv)
		}
		merged.RetrieverMaxWorkers = nv
	}
	applyDur("retriever_remountdelay", &merged.RetrieverRemountDelay, payload.RetrieverRemountDelay)
	applyDur("retriever_reqlistfillwait", &merged.RetrieverReqListFillWait, payload.RetrieverReqListFillWait)
	applyDur("retriever_reqlistfillwaitmax", &merged.RetrieverReqListFillWaitMax, payload.RetrieverReqListFillWaitMax)
	if payload.RetrieverBufferSize != nil {
		merged.RetrieverBufferSizeGiB = *payload.RetrieverBufferSize
	}
	if payload.RetrieverBacklogThreshold != nil {
		merged.RetrieverBacklogThreshold = int(*payload.RetrieverBacklogThreshold)
	}
	if payload.RetrieverKillThreshold != nil {
		merged.RetrieverKillThreshold = int(*payload.RetrieverKillThreshold)
	}

	if err := ValidateThresholdMonotonicity(merged.ArchiverThresholdsGiB); err != nil {
		logger.WithError(err).WithField("override_file", st.path).Warn("runtime override violates threshold monotonicity, keeping previous config")
		return st.lastMerged(base)
	}

	if len(diffs) > 0 {
		logger.WithFields(diffs).Info("applied runtime configuration override")
	}

	st.applied = true
	st.appliedAt = info.ModTime()
	st.last = &merged
	return &merged, nil
}

func (st *OverrideState) lastMerged(base *Schema) (*Schema, error) {
	if st.last != nil {
		return st.last, nil
	}
	return base, nil
}

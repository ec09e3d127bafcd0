// Package config loads the ENDIT key/value configuration file, applies
// typed defaults, migrates deprecated keys, and layers a whitelisted
// runtime override on top.
package config

import "time"

// Schema is the typed configuration shared by all three daemons. Fields
// are populated from the on-disk key/value file (see Load) and, for the
// subset flagged canOverride below, may be temporarily replaced by the
// runtime override file (see OverrideState.Reconcile).
type Schema struct {
	// Staging tree and process-wide paths.
	Dir       string // required: staging tree root ($base)
	LogDir    string
	StatsDir  string
	ShortDesc string
	DSMCOpts  string

	OverrideFile string
	HintFile     string

	// Stale-file cleanup on startup.
	StaleInAge   time.Duration
	StaleListAge time.Duration

	// Process/worker limits.
	DSMCCPULimit time.Duration
	SleepTime    time.Duration

	// Archiver.
	ArchiverThresholdsGiB [10]int64 // index 0 unused (always 0), 1..9 from config
	ArchiverTimeout       time.Duration
	ArchiverRetryTimeout  time.Duration
	ArchiverMaxRetries    int

	// Retriever.
	RetrieverMaxWorkers         int
	RetrieverRemountDelay       time.Duration
	RetrieverReqListFillWait    time.Duration
	RetrieverReqListFillWaitMax time.Duration
	RetrieverBufferSizeGiB      int64
	RetrieverBacklogThreshold   int // percent
	RetrieverKillThreshold      int // percent

	// Deleter.
	DeleterQueueProcInterval string
	DeleterDebug             bool
}

// field describes one recognized key for parsing, defaulting, and the
// runtime-override whitelist.
type field struct {
	key         string
	required    bool
	canOverride bool
	kind        kind
}

type kind int

const (
	kindString kind = iota
	kindPosInt
	kindInt
	kindBool
	kindDuration // value in the file is seconds
)

// schemaFields is the single source of truth for "what keys exist", used
// by Load to reject unknown keys. Its canOverride flags mirror the keys
// of overridePayload, which is what Reconcile actually accepts.
var schemaFields = []field{
	{key: "dir", required: true, kind: kindString},
	{key: "logdir", kind: kindString},
	{key: "statsdir", kind: kindString},
	{key: "shortdesc", kind: kindString},
	{key: "dsmcopts", kind: kindString},
	{key: "overridefile", kind: kindString},
	{key: "retriever_hintfile", kind: kindString},
	{key: "stalein_age", kind: kindPosInt},
	{key: "stalelist_age", kind: kindPosInt},
	{key: "dsmc_cpulimit", kind: kindPosInt},
	{key: "sleeptime", kind: kindPosInt, canOverride: true},
	{key: "archiver_threshold1_usage", kind: kindPosInt, canOverride: true},
	{key: "archiver_threshold2_usage", kind: kindPosInt, canOverride: true},
	{key: "archiver_threshold3_usage", kind: kindPosInt, canOverride: true},
	{key: "archiver_threshold4_usage", kind: kindPosInt, canOverride: true},
	{key: "archiver_threshold5_usage", kind: kindPosInt, canOverride: true},
	{key: "archiver_threshold6_usage", kind: kindPosInt, canOverride: true},
	{key: "archiver_threshold7_usage", kind: kindPosInt, canOverride: true},
	{key: "archiver_threshold8_usage", kind: kindPosInt, canOverride: true},
	{key: "archiver_threshold9_usage", kind: kindPosInt, canOverride: true},
	{key: "archiver_timeout", kind: kindPosInt, canOverride: true},
	{key: "archiver_retrytimeout", kind: kindPosInt, canOverride: true},
	{key: "archiver_maxretries", kind: kindPosInt},
	{key: "retriever_maxworkers", kind: kindPosInt, canOverride: true},
	{key: "retriever_remountdelay", kind: kindPosInt, canOverride: true},
	{key: "retriever_reqlistfillwait", kind: kindPosInt, canOverride: true},
	{key: "retriever_reqlistfillwaitmax", kind: kindPosInt, canOverride: true},
	{key: "retriever_buffersize", kind: kindPosInt, canOverride: true},
	{key: "retriever_backlogthreshold", kind: kindPosInt, canOverride: true},
	{key: "retriever_killthreshold", kind: kindPosInt, canOverride: true},
	{key: "deleter_queueprocinterval", kind: kindString},
	{key: "deleter_debug", kind: kindBool},
}

// deprecatedKeys maps a retired key name to its replacement. Load logs a
// warning and rewrites the key in place before validating.
var deprecatedKeys = map[string]string{
	"maxworkers":        "retriever_maxworkers",
	"remountdelay":      "retriever_remountdelay",
	"threshold1":        "archiver_threshold1_usage",
	"threshold2":        "archiver_threshold2_usage",
	"threshold3":        "archiver_threshold3_usage",
	"threshold4":        "archiver_threshold4_usage",
	"threshold5":        "archiver_threshold5_usage",
	"threshold6":        "archiver_threshold6_usage",
	"threshold7":        "archiver_threshold7_usage",
	"threshold8":        "archiver_threshold8_usage",
	"threshold9":        "archiver_threshold9_usage",
	"buffersize":        "retriever_buffersize",
	"queueprocinterval": "deleter_queueprocinterval",
}

func fieldByKey(key string) (field, bool) {
	for _, f := range schemaFields {
		if f.key == key {
			return f, true
		}
	}
	return field{}, false
}

// defaultValues holds the raw-string default for every optional key.
var defaultValues = map[string]string{
	"logdir":                       "/var/log/endit",
	"statsdir":                     "/run/endit",
	"stalein_age":                  "7",
	"stalelist_age":                "7",
	"dsmc_cpulimit":                "172800",
	"sleeptime":                    "60",
	"archiver_timeout":             "21600",
	"archiver_retrytimeout":        "3600",
	"archiver_maxretries":          "0",
	"retriever_maxworkers":         "1",
	"retriever_remountdelay":       "3600",
	"retriever_reqlistfillwait":    "30",
	"retriever_reqlistfillwaitmax": "300",
	"retriever_buffersize":         "1000",
	"retriever_backlogthreshold":   "10",
	"retriever_killthreshold":      "95",
	"deleter_queueprocinterval":    "hourly",
	"deleter_debug":                "false",
}

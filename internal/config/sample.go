package config

import (
	"fmt"
	"io"
)

// sampleConfig is the annotated example configuration file shipped by
// the sample-config utility subcommand. Every recognized key in
// schemaFields appears here, in the same key/value format Load expects
// ("key = value", "#" comments, blank lines ignored).
const sampleConfig = `# Example configuration for the ENDIT HSM bridge.
# Generated by "endit sample-config" -- edit and install at /etc/endit.conf
# (or pass -config to point at a copy elsewhere).
#
# Syntax: "key = value" per line. Blank lines and lines starting with "#"
# are ignored. Unknown keys abort startup.

# Staging tree root. Required; must contain (or be able to create)
# out/, in/, request/, requestlists/, trash/, trash/queue/.
dir = /var/spool/endit

# Where each daemon writes its JSON log lines.
logdir = /var/log/endit

# Where each daemon writes its stats snapshot (JSON + Prometheus text).
statsdir = /run/endit

# Short label identifying this HSM instance, used in the stats filename
# and the "hsm" Prometheus label. Defaults to the hostname if unset.
#shortdesc = tape1

# Options appended verbatim to every dsmc invocation.
#dsmcopts = -quiet

# Path to the runtime override file, a JSON document whose whitelisted
# keys temporarily mask the values below. Reconciled once per tick.
# Leave unset to disable the override mechanism.
#overridefile = /var/spool/endit/override.conf

# Path to an optional tape-hint JSON file consulted by the retriever when
# coalescing requests by volume.
#retriever_hintfile = /etc/endit-hints.json

# Age (days) after which leftover files in in/ and requestlists/ from a
# previous run are discarded on startup.
stalein_age = 7
stalelist_age = 7

# Run-time limit (seconds, wall clock) after which a dsmc child process
# is killed.
dsmc_cpulimit = 172800

# Base tick interval (seconds) for the supervisor loop when nothing else
# shortens it.
sleeptime = 60

# Archiver thresholds (GiB of staged-but-unarchived data in out/) at
# which progressively more aggressive archiving is triggered. Must be
# strictly increasing; unset levels default to 0 (disabled).
archiver_threshold1_usage = 10
archiver_threshold2_usage = 50
archiver_threshold3_usage = 100
#archiver_threshold4_usage = 0
#archiver_threshold5_usage = 0
#archiver_threshold6_usage = 0
#archiver_threshold7_usage = 0
#archiver_threshold8_usage = 0
#archiver_threshold9_usage = 0

# Seconds out/ may hold data below archiver_threshold1_usage, with no
# worker running, before an archive session is started anyway.
archiver_timeout = 21600

# Seconds an identifier waits in retryfiles before being retried.
archiver_retrytimeout = 3600

# Maximum times an identifier may be retried before the archiver stops
# automatically retrying it. 0 = unlimited.
archiver_maxretries = 0

# Maximum concurrent retriever workers (one per tape volume).
retriever_maxworkers = 1

# Seconds after a volume was last mounted before the retriever may mount
# it again.
retriever_remountdelay = 3600

# Seconds to wait for a request list to fill before starting it anyway,
# and the hard cap on that wait.
retriever_reqlistfillwait = 30
retriever_reqlistfillwaitmax = 300

# Disk buffer size (GiB) the retriever assumes is available in in/.
retriever_buffersize = 1000

# Percent buffer usage at which retrieval backs off, and the percent at
# which every running retrieve is killed outright.
retriever_backlogthreshold = 10
retriever_killthreshold = 95

# How often the deleter processes its queue: a named interval (minutely,
# hourly, daily, weekly, monthly) or a five-field crontab expression.
deleter_queueprocinterval = hourly

# When true, trash/ markers are moved to trash/debug/ instead of being
# deleted once acknowledged into a queue batch.
deleter_debug = false
`

// WriteSample writes the annotated example configuration to w. It has no
// scheduling logic of its own and performs no validation against
// schemaFields beyond what is checked by hand when the template is
// edited; Load is the single source of truth for what is actually
// accepted.
func WriteSample(w io.Writer) error {
	_, err := fmt.Fprint(w, sampleConfig)
	return err
}

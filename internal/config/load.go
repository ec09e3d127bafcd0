package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/neicnordic/endit/internal/logging"
)

// rawConfig is a parsed key -> raw string value map, pre-typing.
type rawConfig map[string]string

// parseFile reads a flat "key = value" file, skipping blank lines and
// lines starting with '#'. Unknown keys are migrated via deprecatedKeys
// (with a warning) before being checked against the schema.
func parseFile(path string, logger logging.Logger) (rawConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	raw := rawConfig{}
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			return nil, fmt.Errorf("%s:%d: malformed line %q (expected key = value)", path, lineNo, line)
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])

		if replacement, ok := deprecatedKeys[key]; ok {
			if logger != nil {
				logger.WithFields(logging.Fields{
					"old_key": key,
					"new_key": replacement,
				}).Warn("config key is deprecated, migrating")
			}
			key = replacement
		}

		if _, ok := fieldByKey(key); !ok {
			return nil, fmt.Errorf("%s:%d: unknown configuration key %q", path, lineNo, key)
		}
		raw[key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return raw, nil
}

// Load reads the config file at path, applies defaults for unset
// optional keys, validates required keys and archiver threshold
// monotonicity, and returns a populated Schema.
func Load(path string, logger logging.Logger) (*Schema, error) {
	raw, err := parseFile(path, logger)
	if err != nil {
		return nil, err
	}
	return build(raw)
}

func build(raw rawConfig) (*Schema, error) {
	get := func(key string) (string, bool) {
		if v, ok := raw[key]; ok {
			return v, true
		}
		if v, ok := defaultValues[key]; ok {
			return v, true
		}
		return "", false
	}

	reqString := func(key string) (string, error) {
		v, ok := get(key)
		if !ok || v == "" {
			return "", fmt.Errorf("required configuration key %q is missing", key)
		}
		return v, nil
	}
	optString := func(key string) string {
		v, _ := get(key)
		return v
	}
	optPosInt := func(key string) (int64, error) {
		v, ok := get(key)
		if !ok || v == "" {
			return 0, nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("configuration key %q must be a positive integer, got %q: %w", key, v, err)
		}
		if n < 0 {
			return 0, fmt.Errorf("configuration key %q must be a positive integer, got %d", key, n)
		}
		return n, nil
	}
	optBool := func(key string) (bool, error) {
		v, ok := get(key)
		if !ok || v == "" {
			return false, nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("configuration key %q must be a boolean, got %q: %w", key, v, err)
		}
		return b, nil
	}

	s := &Schema{}
	var err error

	if s.Dir, err = reqString("dir"); err != nil {
		return nil, err
	}
	s.LogDir = optString("logdir")
	s.StatsDir = optString("statsdir")
	s.ShortDesc = optString("shortdesc")
	if s.ShortDesc == "" {
		if host, herr := os.Hostname(); herr == nil {
			s.ShortDesc = host
		} else {
			s.ShortDesc = "endit"
		}
	}
	s.DSMCOpts = optString("dsmcopts")
	s.OverrideFile = optString("overridefile")
	s.HintFile = optString("retriever_hintfile")
	s.DeleterQueueProcInterval = optString("deleter_queueprocinterval")

	if s.DeleterDebug, err = optBool("deleter_debug"); err != nil {
		return nil, err
	}

	durFromSeconds := func(key string) (time.Duration, error) {
		n, err := optPosInt(key)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * time.Second, nil
	}
	durFromDays := func(key string) (time.Duration, error) {
		n, err := optPosInt(key)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}

	if s.StaleInAge, err = durFromDays("stalein_age"); err != nil {
		return nil, err
	}
	if s.StaleListAge, err = durFromDays("stalelist_age"); err != nil {
		return nil, err
	}
	if s.DSMCCPULimit, err = durFromSeconds("dsmc_cpulimit"); err != nil {
		return nil, err
	}
	if s.SleepTime, err = durFromSeconds("sleeptime"); err != nil {
		return nil, err
	}
	if s.ArchiverTimeout, err = durFromSeconds("archiver_timeout"); err != nil {
		return nil, err
	}
	if s.ArchiverRetryTimeout, err = durFromSeconds("archiver_retrytimeout"); err != nil {
		return nil, err
	}
	maxRetries, err := optPosInt("archiver_maxretries")
	if err != nil {
		return nil, err
	}
	s.ArchiverMaxRetries = int(maxRetries)

	for i := 1; i <= 9; i++ {
		key := fmt.Sprintf("archiver_threshold%d_usage", i)
		v, err := optPosInt(key)
		if err != nil {
			return nil, err
		}
		s.ArchiverThresholdsGiB[i] = v
	}

	maxWorkers, err := optPosInt("retriever_maxworkers")
	if err != nil {
		return nil, err
	}
	s.RetrieverMaxWorkers = int(maxWorkers)
	if s.RetrieverRemountDelay, err = durFromSeconds("retriever_remountdelay"); err != nil {
		return nil, err
	}
	if s.RetrieverReqListFillWait, err = durFromSeconds("retriever_reqlistfillwait"); err != nil {
		return nil, err
	}
	if s.RetrieverReqListFillWaitMax, err = durFromSeconds("retriever_reqlistfillwaitmax"); err != nil {
		return nil, err
	}
	if s.RetrieverBufferSizeGiB, err = optPosInt("retriever_buffersize"); err != nil {
		return nil, err
	}
	backlog, err := optPosInt("retriever_backlogthreshold")
	if err != nil {
		return nil, err
	}
	s.RetrieverBacklogThreshold = int(backlog)
	kill, err := optPosInt("retriever_killthreshold")
	if err != nil {
		return nil, err
	}
	s.RetrieverKillThreshold = int(kill)

	if err := ValidateThresholdMonotonicity(s.ArchiverThresholdsGiB); err != nil {
		return nil, err
	}

	return s, nil
}

// ValidateThresholdMonotonicity enforces threshold_i_usage <
// threshold_{i+1}_usage for every adjacent pair of defined (non-zero)
// thresholds.
func ValidateThresholdMonotonicity(thresholds [10]int64) error {
	lastDefined := int64(-1)
	lastIndex := 0
	for i := 1; i <= 9; i++ {
		v := thresholds[i]
		if v == 0 {
			continue
		}
		if lastDefined >= 0 && v <= lastDefined {
			return fmt.Errorf("archiver_threshold%d_usage (%d) must be greater than archiver_threshold%d_usage (%d)", i, v, lastIndex, lastDefined)
		}
		lastDefined = v
		lastIndex = i
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "endit.conf")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaultsAndRequiredDir(t *testing.T) {
	path := writeConfig(t, "dir = /var/spool/endit\n")

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dir != "/var/spool/endit" {
		t.Errorf("expected dir to round-trip, got %q", cfg.Dir)
	}
	if cfg.SleepTime.Seconds() != 60 {
		t.Errorf("expected sleeptime default of 60s, got %s", cfg.SleepTime)
	}
	if cfg.ArchiverTimeout.Seconds() != 21600 {
		t.Errorf("expected archiver_timeout default of 21600s, got %s", cfg.ArchiverTimeout)
	}
	if cfg.RetrieverMaxWorkers != 1 {
		t.Errorf("expected retriever_maxworkers default of 1, got %d", cfg.RetrieverMaxWorkers)
	}
}

func TestLoad_MissingRequiredKeyFails(t *testing.T) {
	path := writeConfig(t, "logdir = /var/log/endit\n")
	if _, err := Load(path, nil); err == nil {
		t.Error("expected Load to fail without a required 'dir' key")
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeConfig(t, "dir = /var/spool/endit\nbogus_key = 1\n")
	if _, err := Load(path, nil); err == nil {
		t.Error("expected Load to reject an unrecognized key")
	}
}

func TestLoad_DeprecatedKeyMigrates(t *testing.T) {
	path := writeConfig(t, "dir = /var/spool/endit\nmaxworkers = 4\n")
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RetrieverMaxWorkers != 4 {
		t.Errorf("expected deprecated 'maxworkers' to migrate to retriever_maxworkers=4, got %d", cfg.RetrieverMaxWorkers)
	}
}

func TestLoad_ThresholdMonotonicityEnforced(t *testing.T) {
	path := writeConfig(t, "dir = /var/spool/endit\narchiver_threshold1_usage = 500\narchiver_threshold2_usage = 100\n")
	if _, err := Load(path, nil); err == nil {
		t.Error("expected Load to reject non-monotonic thresholds")
	}
}

func TestLoad_ThresholdMonotonicitySkipsUnsetLevels(t *testing.T) {
	path := writeConfig(t, "dir = /var/spool/endit\narchiver_threshold1_usage = 100\narchiver_threshold5_usage = 500\n")
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ArchiverThresholdsGiB[1] != 100 || cfg.ArchiverThresholdsGiB[5] != 500 {
		t.Errorf("unexpected thresholds: %v", cfg.ArchiverThresholdsGiB)
	}
}

func TestValidateThresholdMonotonicity(t *testing.T) {
	ok := [10]int64{}
	ok[1], ok[2], ok[3] = 10, 20, 30
	if err := ValidateThresholdMonotonicity(ok); err != nil {
		t.Errorf("expected strictly increasing thresholds to validate, got %v", err)
	}

	bad := [10]int64{}
	bad[1], bad[2] = 10, 10
	if err := ValidateThresholdMonotonicity(bad); err == nil {
		t.Error("expected equal adjacent thresholds to fail validation")
	}
}

func TestLoad_MalformedLineFails(t *testing.T) {
	path := writeConfig(t, "dir = /var/spool/endit\nthis line has no equals sign\n")
	if _, err := Load(path, nil); err == nil {
		t.Error("expected Load to fail on a malformed line")
	}
}

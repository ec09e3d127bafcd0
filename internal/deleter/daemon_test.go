package deleter

import (
	"testing"

	"github.com/neicnordic/endit/internal/config"
	"github.com/neicnordic/endit/internal/logging"
	"github.com/neicnordic/endit/internal/stage"
)

// testSchema builds the minimal Schema the deleter package's tests need:
// a staging tree root and the debug flag. Every other field keeps its
// zero value, which is fine since these tests never touch the cron
// schedule or the tape client.
func testSchema(dir string, debug bool) *config.Schema {
	return &config.Schema{
		Dir:          dir,
		DeleterDebug: debug,
	}
}

func newTestDaemon(t *testing.T, debug bool) (*Daemon, string) {
	t.Helper()
	base := t.TempDir()
	if err := stage.EnsureWritable(base); err != nil {
		t.Fatalf("EnsureWritable: %v", err)
	}
	d := &Daemon{
		cfg:    testSchema(base, debug),
		logger: logging.New("deleter-test", "", "error"),
	}
	return d, base
}

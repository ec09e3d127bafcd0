package tapeclient

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fakeDSMC writes an executable shell script standing in for dsmc and
// returns its path, letting the worker-process tests exercise real
// fork+exec plumbing without touching an actual tape client.
func fakeDSMC(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "dsmc")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWorker_SuccessCollectsOutput(t *testing.T) {
	cmd := fakeDSMC(t, `echo "ANS1898I ignored line"; echo "transfer complete"; exit 0`)

	w, err := Start(context.Background(), Invocation{Command: cmd, Args: []string{"archive"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	res, err := w.Wait()
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if res.ExitErr != nil {
		t.Errorf("expected clean exit, got %v", res.ExitErr)
	}
	if !strings.Contains(res.Output, "transfer complete") {
		t.Errorf("output missing expected line: %q", res.Output)
	}
	if len(res.ErrorLines) != 1 || !strings.Contains(res.ErrorLines[0], "ANS1898I") {
		t.Errorf("expected exactly one mined error line, got %v", res.ErrorLines)
	}
}

func TestWorker_NonZeroExit(t *testing.T) {
	cmd := fakeDSMC(t, `echo "ANS1345E No objects on server match '/data/out/ABC'" 1>&2; exit 12`)

	w, err := Start(context.Background(), Invocation{Command: cmd})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	res, err := w.Wait()
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if res.ExitErr == nil {
		t.Error("expected non-nil ExitErr for exit code 12")
	}
	if len(res.ErrorLines) != 1 {
		t.Errorf("expected one error line, got %v", res.ErrorLines)
	}
}

func TestWorker_KillsOnPrompt(t *testing.T) {
	cmd := fakeDSMC(t, `echo "Do you want to continue? (yes/no)"; sleep 30; echo "should never print"`)

	w, err := Start(context.Background(), Invocation{Command: cmd, WatchPrompts: true})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker was not killed after emitting a prompt")
	}

	res, err := w.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if strings.Contains(res.Output, "should never print") {
		t.Error("dsmc kept running past the prompt; it should have been killed")
	}
}

func TestWorker_CPULimitKillsLongRunner(t *testing.T) {
	cmd := fakeDSMC(t, `sleep 30`)

	w, err := Start(context.Background(), Invocation{Command: cmd, CPULimit: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("CPU limit watchdog did not kill the child")
	}
}

func TestWorker_DoneClosesExactlyOnce(t *testing.T) {
	cmd := fakeDSMC(t, `exit 0`)

	w, err := Start(context.Background(), Invocation{Command: cmd})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := w.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	// Calling Kill after exit must not panic or double-close anything.
	w.Kill()
}

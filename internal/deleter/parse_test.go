package deleter

import (
	"reflect"
	"sort"
	"testing"
)

func TestParseOutput_WholeBatchAlreadyDeleted(t *testing.T) {
	// ANS1302E means nothing in the batch matched the server query: all
	// three identifiers count as deleted.
	out := ParseOutput([]string{"ANS1302E No objects on server match query"})
	if !out.WholeBatchDeleted {
		t.Fatal("expected WholeBatchDeleted")
	}
	if out.Failed {
		t.Error("ANS1302E alone must not mark the invocation failed")
	}

	deleted, requeue := out.Resolve([]string{"A", "B", "C"})
	sort.Strings(deleted)
	if !reflect.DeepEqual(deleted, []string{"A", "B", "C"}) {
		t.Errorf("expected all three deleted, got %v", deleted)
	}
	if len(requeue) != 0 {
		t.Errorf("expected nothing requeued, got %v", requeue)
	}
}

func TestParseOutput_PartialFailureRequeuesUnnamed(t *testing.T) {
	// The invocation fails with ANS1345E quoting 'out/A' and an
	// unclassified ANS9999E quoting 'out/B': A deleted, B re-queued.
	out := ParseOutput([]string{
		`ANS1345E Object 'out/A' not found in server file space`,
		`ANS9999E Some other error about 'out/B'`,
	})
	if out.WholeBatchDeleted {
		t.Error("did not expect WholeBatchDeleted")
	}
	if !out.Failed {
		t.Fatal("expected the unclassified ANS9999E line to mark the invocation failed")
	}
	if !out.AlreadyDeleted["A"] {
		t.Error("expected A recorded as already-deleted from the ANS1345E line")
	}

	deleted, requeue := out.Resolve([]string{"A", "B"})
	if !reflect.DeepEqual(deleted, []string{"A"}) {
		t.Errorf("expected [A] deleted, got %v", deleted)
	}
	if !reflect.DeepEqual(requeue, []string{"B"}) {
		t.Errorf("expected [B] requeued, got %v", requeue)
	}
}

func TestParseOutput_BenignCodesIgnored(t *testing.T) {
	out := ParseOutput([]string{
		"ANS1278W File excluded by include/exclude list",
		"ANS1898I Volume is not currently available",
	})
	if out.Failed || out.WholeBatchDeleted || len(out.AlreadyDeleted) != 0 {
		t.Errorf("expected benign-only output to classify as a clean success, got %+v", out)
	}

	deleted, requeue := out.Resolve([]string{"A"})
	if !reflect.DeepEqual(deleted, []string{"A"}) || len(requeue) != 0 {
		t.Errorf("expected full success for benign-only output, got deleted=%v requeue=%v", deleted, requeue)
	}
}

func TestParseOutput_NoErrorLinesIsCleanSuccess(t *testing.T) {
	out := ParseOutput(nil)
	deleted, requeue := out.Resolve([]string{"A", "B"})
	if len(deleted) != 2 || len(requeue) != 0 {
		t.Errorf("expected a clean exit to delete everything, got deleted=%v requeue=%v", deleted, requeue)
	}
}

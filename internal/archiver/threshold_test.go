package archiver

import "testing"

func thresholds(vals ...int64) [10]int64 {
	var t [10]int64
	for i, v := range vals {
		t[i+1] = v * GiB
	}
	return t
}

func TestUsageLevel_NoneFireReturnsZero(t *testing.T) {
	th := thresholds(1000, 2000)
	if got := usageLevel(10*GiB, th, 0); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}

func TestUsageLevel_FirstExceeded(t *testing.T) {
	th := thresholds(500, 2000)
	// 3 TiB exceeds both; highest (2) should win.
	if got := usageLevel(3*1024*GiB, th, 0); got != 2 {
		t.Errorf("expected level 2, got %d", got)
	}
}

func TestUsageLevel_MinlevelOneWithoutStickyTrigger(t *testing.T) {
	th := thresholds(1000, 2000)
	// lastTrigger == 0 means minlevel == 1, so the walk stops at
	// threshold_1; usage under it fires no level and yields 0.
	if got := usageLevel(1, th, 0); got != 0 {
		t.Errorf("expected 0 for trivial usage, got %d", got)
	}
}

func TestShouldTrigger_TinyBacklogBelowEveryThreshold(t *testing.T) {
	// A 10 MiB file against GiB-scale thresholds: usagelevel stays 0, so
	// the inactivity-timer path (not shouldTrigger) is what eventually
	// forces a spawn; shouldTrigger itself must return false here.
	if shouldTrigger(0, 0, 0, 0, 10*1024*1024, 1000*GiB) {
		t.Error("expected no threshold-driven trigger when usage never exceeds threshold_1")
	}
}

func TestShouldTrigger_ColdStartBacklogFiresSecondLevel(t *testing.T) {
	// 3 TiB across thresholds [500, 2000] GiB, no workers running.
	th := thresholds(500, 2000)
	level := usageLevel(3*1024*GiB, th, 0)
	if level != 2 {
		t.Fatalf("expected usagelevel 2, got %d", level)
	}
	if !shouldTrigger(level, 0, 0, 0, 3*1024*GiB, th[1]) {
		t.Error("expected a threshold-driven trigger for a 3 TiB backlog against [500,2000] GiB")
	}
}

func TestTriggerLevelFor_StickyFloor(t *testing.T) {
	if got := triggerLevelFor(1, 3, true); got != 3 {
		t.Errorf("expected sticky floor of lastTrigger=3 to win over usagelevel=1, got %d", got)
	}
	if got := triggerLevelFor(5, 3, true); got != 5 {
		t.Errorf("expected usagelevel=5 to exceed lastTrigger=3, got %d", got)
	}
	if got := triggerLevelFor(5, 3, false); got != 3 {
		t.Errorf("expected lastTrigger unchanged when trigger is false, got %d", got)
	}
}

func TestRampDown_DecrementsThenResets(t *testing.T) {
	if got := rampDown(3, 1, 0); got != 2 {
		t.Errorf("expected decrement from 3 to 2, got %d", got)
	}
	if got := rampDown(1, 0, 5); got != 0 {
		t.Errorf("expected full reset to 0 once usagelevel hits 0, got %d", got)
	}
}

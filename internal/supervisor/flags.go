package supervisor

import "sync/atomic"

// BypassFlag is the atomically-stored "skip the delay this once" signal
// USR1 sets: level-triggered for exactly one iteration, never read or
// written outside the tick goroutine except via these atomic ops.
// Components embed one and call Take() once per Tick.
type BypassFlag struct {
	set atomic.Bool
}

// Signal marks the flag armed. Safe to call from HandleSignal.
func (f *BypassFlag) Signal() {
	f.set.Store(true)
}

// Take reports whether the flag was armed and clears it, so each USR1
// bypasses exactly one tick's worth of delay rather than sticking.
func (f *BypassFlag) Take() bool {
	return f.set.Swap(false)
}

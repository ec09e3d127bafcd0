package deleter

import "github.com/neicnordic/endit/internal/tapeclient"

// Outcome is the reconciled result of mining one delete invocation's
// output for AN\w\d\d\d\d\w lines:
//
//   - ANS1278W, ANS1898I are benign and ignored entirely;
//   - ANS1302E means the whole batch was already deleted: success;
//   - ANS1345E ... '<path>' names one object already deleted: recorded
//     as a partial success, used only when the invocation as a whole
//     failed;
//   - any other AN code marks the whole invocation failed.
type Outcome struct {
	WholeBatchDeleted bool
	AlreadyDeleted    map[string]bool // basenames extracted from ANS1345E lines
	Failed            bool
}

// ParseOutput classifies every error-code line mined from a delete
// invocation's output. It never looks at exit status or totals - only
// the whitelisted AN codes.
func ParseOutput(errorLines []string) Outcome {
	out := Outcome{AlreadyDeleted: make(map[string]bool)}
	for _, line := range errorLines {
		switch tapeclient.Classify(line) {
		case tapeclient.OutcomePartialSkip, tapeclient.OutcomeTransientVolume:
			// ANS1278W / ANS1898I: benign, ignore.
		case tapeclient.OutcomeNotFound:
			// ANS1302E: no objects matched query, whole batch already gone.
			out.WholeBatchDeleted = true
		case tapeclient.OutcomeAlreadyDeleted:
			// ANS1345E: single object already deleted.
			if base := tapeclient.ExtractQuotedPath(line); base != "" {
				out.AlreadyDeleted[base] = true
			}
		default:
			out.Failed = true
		}
	}
	return out
}

// Resolve maps an Outcome against the batch's full identifier set,
// returning which identifiers count as deleted and which must be
// re-enqueued for a future cron tick.
//
//   - ANS1302E fired: everyone in the batch is deleted.
//   - The invocation failed on an unclassified code: only the
//     identifiers ANS1345E named are deleted; anything not explicitly
//     named stays in the retry set. A tape client that stops quoting
//     paths in ANS1345E lines thus degrades to reprocessing everything,
//     never to losing a deletion.
//   - Otherwise (no error lines classified as a failure at all): the
//     whole batch succeeded.
func (o Outcome) Resolve(allIDs []string) (deleted, requeue []string) {
	switch {
	case o.WholeBatchDeleted:
		return allIDs, nil
	case o.Failed:
		for _, id := range allIDs {
			if o.AlreadyDeleted[id] {
				deleted = append(deleted, id)
			} else {
				requeue = append(requeue, id)
			}
		}
		return deleted, requeue
	default:
		return allIDs, nil
	}
}

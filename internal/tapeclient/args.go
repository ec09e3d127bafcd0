package tapeclient

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// SplitOpts splits a raw "dsmcopts" config string on whitespace into an
// argument slice, the form every dsmc invocation appends verbatim. An
// empty string yields nil, not a one-element slice of "".
func SplitOpts(raw string) []string {
	return strings.Fields(raw)
}

// ArchiveArgs builds the argument list for an archive invocation:
// "archive -deletefiles <dsmcOpts> -description=<description>
// -filelist=<fileListPath>".
func ArchiveArgs(dsmcOpts []string, description, fileListPath string) []string {
	args := []string{"archive", "-deletefiles"}
	args = append(args, dsmcOpts...)
	args = append(args, fmt.Sprintf("-description=%s", description))
	args = append(args, fmt.Sprintf("-filelist=%s", fileListPath))
	return args
}

// RetrieveArgs builds the argument list for a retrieve invocation:
// "retrieve -replace=no -followsymbolic=yes <displayOpts> <dsmcOpts>
// -filelist=<fileListPath> <indir>/".
func RetrieveArgs(dsmcOpts, displayOpts []string, fileListPath, indir string) []string {
	args := []string{"retrieve", "-replace=no", "-followsymbolic=yes"}
	args = append(args, displayOpts...)
	args = append(args, dsmcOpts...)
	args = append(args, fmt.Sprintf("-filelist=%s", fileListPath))
	args = append(args, indir+"/")
	return args
}

// DeleteArgs builds the argument list for a delete-archive invocation:
// "delete archive -noprompt <displayOpts> <dsmcOpts>
// -filelist=<fileListPath>".
func DeleteArgs(dsmcOpts, displayOpts []string, fileListPath string) []string {
	args := []string{"delete", "archive", "-noprompt"}
	args = append(args, displayOpts...)
	args = append(args, dsmcOpts...)
	args = append(args, fmt.Sprintf("-filelist=%s", fileListPath))
	return args
}

// Outcome classifies one error-code line mined out of dsmc's output.
type Outcome int

const (
	// OutcomeUnknown is an AN\w####\w code the classifier doesn't
	// recognize; callers should treat it as a hard failure, conservatively.
	OutcomeUnknown Outcome = iota
	// OutcomePartialSkip marks one object (not the whole batch) as
	// unreadable/skipped - ANS1278W, "skipping file".
	OutcomePartialSkip
	// OutcomeNotFound marks a query that matched no objects on the
	// server - ANS1302E; for a delete batch, everything is already gone.
	OutcomeNotFound
	// OutcomeTransientVolume marks a volume-availability problem the
	// retriever should retry rather than fail - ANS1898I "volume not
	// available".
	OutcomeTransientVolume
	// OutcomeAlreadyDeleted marks ANS1345E, a single object within a
	// larger deletion batch that the tape server reports as already
	// gone - a per-object partial success, not a failure.
	OutcomeAlreadyDeleted
)

var knownCodes = map[string]Outcome{
	"ANS1278W": OutcomePartialSkip,
	"ANS1898I": OutcomeTransientVolume,
	"ANS1302E": OutcomeNotFound,
	"ANS1345E": OutcomeAlreadyDeleted,
}

// Classify maps one mined error-code line to an Outcome. Lines that match
// ErrorCodePattern but aren't in the known-code table classify as
// OutcomeUnknown; callers treat those as the encompassing operation
// having failed.
func Classify(line string) Outcome {
	code := ErrorCodePattern.FindString(line)
	if code == "" {
		return OutcomeUnknown
	}
	if o, ok := knownCodes[code]; ok {
		return o
	}
	return OutcomeUnknown
}

// quotedPathPattern pulls the single-quoted path out of an ANS1345E line,
// e.g. "ANS1345E ... object '/staging/out/ID' not found".
var quotedPathPattern = regexp.MustCompile(`'([^']+)'`)

// ExtractQuotedPath returns the basename of the first single-quoted path
// in line, or "" if none is present.
func ExtractQuotedPath(line string) string {
	m := quotedPathPattern.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	return path.Base(m[1])
}

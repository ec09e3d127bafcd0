// Package retriever implements per-tape-volume request coalescing: it
// watches request/ for pending recalls, groups them by tape volume using
// an optional hint file, and runs up to retriever_maxworkers parallel
// tape-retrieve sessions, honoring fill-delay, remount-delay, and
// buffer-pressure backoff.
package retriever

import "time"

// request mirrors one request/<ID> JSON state file as written by the
// dCache plugin. Other fields are tolerated and ignored.
type request struct {
	ParentPID int    `json:"parent_pid"`
	FileSize  int64  `json:"file_size"`
	Action    string `json:"action"`
}

// cachedRequest is a parsed request plus the bookkeeping needed to
// revalidate it cheaply: the mtime it was parsed at (a failed stat is
// always treated as invalidation) and the volume it's currently
// assigned to.
type cachedRequest struct {
	id     string
	req    request
	mtime  time.Time
	volume string
}

// hintEntry is one entry of the tape-hint JSON file.
type hintEntry struct {
	VolID string `json:"volid"`
	Order string `json:"order"`
	Size  int64  `json:"size"`
}

// volumeJob is the per-volume grouping the start policy iterates.
type volumeJob struct {
	volume   string
	ids      map[string]*cachedRequest
	tsOldest time.Time
	tsNewest time.Time
}

const defaultVolume = "default"

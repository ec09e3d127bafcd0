package stage

import (
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Entry describes one identifier-named file found during a directory
// scan: its identifier, size, and modification time.
type Entry struct {
	ID    string
	Size  int64
	MTime time.Time
}

// Scan lists identifier-pattern entries directly under dir, ignoring
// anything that doesn't match IdentifierPattern and any subdirectory.
func Scan(dir string) ([]Entry, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	entries := make([]Entry, 0, len(des))
	for _, de := range des {
		if de.IsDir() || !IsIdentifier(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Transient I/O (file vanished mid-scan): skip, retry next tick.
			continue
		}
		entries = append(entries, Entry{ID: de.Name(), Size: info.Size(), MTime: info.ModTime()})
	}
	return entries, nil
}

// SortByMTimeAsc sorts entries oldest-first, the temporal-affinity
// ordering used by the archiver's chunking and the retriever's job
// ordering.
func SortByMTimeAsc(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].MTime.Before(entries[j].MTime)
	})
}

// TotalSize sums Size across entries.
func TotalSize(entries []Entry) int64 {
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	return total
}

// JoinAbsolute returns dir/id for every entry, the absolute-path form
// written into requestlists/ files.
func JoinAbsolute(dir string, entries []Entry) []string {
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = filepath.Join(dir, e.ID)
	}
	return paths
}

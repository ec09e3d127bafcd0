// Package stage implements the on-disk contract with the dCache HSM
// plugin: the staging tree layout, the identifier naming convention, and
// the filesystem helpers (writability checks, atomic writes, directory
// scans) shared by the archiver, retriever, and deleter.
package stage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// RequiredDirs are the staging subdirectories that must exist and be
// writable before any daemon enters its main loop.
var RequiredDirs = []string{"out", "in", "request", "requestlists", "trash", filepath.Join("trash", "queue")}

// IdentifierPattern matches the hex names the plugin assigns; only
// names matching this are considered payload, everything else in a
// staging subdirectory is ignored.
var IdentifierPattern = regexp.MustCompile(`^[0-9A-Fa-f]+$`)

// IsIdentifier reports whether name is a valid file identifier.
func IsIdentifier(name string) bool {
	return IdentifierPattern.MatchString(name)
}

// EnsureWritable verifies that base exists and that every required
// subdirectory is present and writable, creating missing directories and
// probing writability with a throwaway temp file. Any failure here is
// fatal to daemon startup.
func EnsureWritable(base string) error {
	if info, err := os.Stat(base); err != nil {
		return fmt.Errorf("staging tree base %q: %w", base, err)
	} else if !info.IsDir() {
		return fmt.Errorf("staging tree base %q is not a directory", base)
	}

	for _, d := range RequiredDirs {
		dir := filepath.Join(base, d)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %q: %w", dir, err)
		}
		probe, err := os.CreateTemp(dir, ".endit-writecheck-*")
		if err != nil {
			return fmt.Errorf("directory %q is not writable: %w", dir, err)
		}
		name := probe.Name()
		probe.Close()
		if err := os.Remove(name); err != nil {
			return fmt.Errorf("cleaning up write probe in %q: %w", dir, err)
		}
	}
	return nil
}

// Path joins the staging tree base with one of its well-known
// subdirectories and, optionally, an identifier.
func Path(base, subdir string, parts ...string) string {
	all := append([]string{base, subdir}, parts...)
	return filepath.Join(all...)
}

// Exists reports whether path refers to an existing filesystem entry.
// Disappearance of out/ID is the archive-success signal, so completion
// accounting only ever needs this binary answer.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CleanStale removes the entries under dir for which the maxAge predicate
// reports true (callers pass an age test). It is used on daemon restart
// to clear stale in/ and requestlists/ content.
// Subdirectories are left alone; the caller chooses dir precisely.
func CleanStale(dir string, maxAge func(os.FileInfo) bool) (removed int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	for _, e := range entries {
		info, ierr := e.Info()
		if ierr != nil {
			continue
		}
		if info.IsDir() {
			continue
		}
		if !maxAge(info) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("removing stale file %q: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

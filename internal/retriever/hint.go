package retriever

import (
	"encoding/json"
	"os"
	"regexp"
)

// volumeNamePattern matches every character not allowed in a volume
// name; each such character is replaced by '_' before use as a
// directory-safe name.
var volumeNamePattern = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

func sanitizeVolume(raw string) string {
	return volumeNamePattern.ReplaceAllString(raw, "_")
}

// reloadHint checks the hint file's mtime and, if changed, reparses it.
// On any error it logs and keeps the previous hint map. Returns true
// whenever a newer file was parsed and installed (even if its content is
// unchanged), so the caller knows to invalidate the request cache's
// volume assignments.
func (d *Daemon) reloadHint(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			d.logger.WithField("error", err).Warn("stat hint file failed")
		}
		return false
	}
	if !info.ModTime().After(d.hintMTime) {
		return false
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		d.logger.WithField("error", err).Warn("reading hint file failed, keeping previous hints")
		return false
	}
	var parsed map[string]hintEntry
	if err := json.Unmarshal(raw, &parsed); err != nil {
		d.logger.WithField("error", err).Warn("parsing hint file failed, keeping previous hints")
		return false
	}

	sanitized := make(map[string]hintEntry, len(parsed))
	for id, e := range parsed {
		e.VolID = sanitizeVolume(e.VolID)
		sanitized[id] = e
	}
	d.hint = sanitized
	d.hintMTime = info.ModTime()
	return true
}

func (d *Daemon) volumeFor(id string) string {
	if e, ok := d.hint[id]; ok && e.VolID != "" {
		return e.VolID
	}
	return defaultVolume
}

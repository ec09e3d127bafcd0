package stage

import (
	"os"
	"path/filepath"
)

// AtomicWriteFile writes data to a temp file in the same directory as
// path, then renames it into place, so readers never observe a partial
// write. It is used for trash/queue/<ts> batch files and the stats
// writer; requestlists/ files are written by WriteFileList instead.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// WriteFileList writes the given absolute paths as a newline-separated
// file inside requestlists/, named with the given prefix, and returns
// its path. This is the -filelist= input format for every dsmc
// invocation.
func WriteFileList(base, prefix string, absolutePaths []string) (string, error) {
	dir := Path(base, "requestlists")
	f, err := os.CreateTemp(dir, prefix+"-*")
	if err != nil {
		return "", err
	}
	defer f.Close()

	for _, p := range absolutePaths {
		if _, err := f.WriteString(p + "\n"); err != nil {
			os.Remove(f.Name())
			return "", err
		}
	}
	return f.Name(), nil
}

package store

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
)

// readRecordFile reads at most limit bytes of path. A missing file returns
// nil, nil.
func readRecordFile(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, errRecordTooLarge
	}
	return b, nil
}

// replaceJSON atomically replaces path with the indented JSON of v: a
// synced temp file is renamed over the target, then the directory is
// synced so the rename survives a crash.
func replaceJSON(path string, v any, mode os.FileMode) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir, base := filepath.Split(path)
	f, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	_, err = f.Write(b)
	if err == nil {
		err = f.Chmod(mode)
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	return syncDir(filepath.Clean(dir))
}

// tempLeftovers lists temp files an interrupted replaceJSON left behind.
func tempLeftovers(path string) []string {
	matches, _ := filepath.Glob(path + ".tmp-*")
	return matches
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

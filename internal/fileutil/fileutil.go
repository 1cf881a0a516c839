package fileutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// TempPattern is the os.CreateTemp pattern used for in-progress writes. Files
// carrying it are never mistaken for finished outputs.
const TempPattern = ".part-*"

// IsTempName reports whether name is an in-progress write created by this package.
func IsTempName(name string) bool {
	return strings.Contains(filepath.Base(name), ".part-")
}

// TempTarget returns the name of the file an in-progress write was destined
// for, or "" when name is not a temp file.
func TempTarget(name string) string {
	base := filepath.Base(name)
	target, _, found := strings.Cut(base, ".part-")
	if !found {
		return ""
	}
	return target
}

// RemoveTemps deletes leftover in-progress writes for target and returns the
// removed paths. Callers must hold whatever claim guards target.
func RemoveTemps(target string) ([]string, error) {
	dir := filepath.Dir(target)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	want := filepath.Base(target)
	var removed []string
	for _, entry := range entries {
		if entry.IsDir() || TempTarget(entry.Name()) != want {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("remove %s: %w", path, err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}

// CreateTemp opens a new temporary file beside target. Renaming it over target
// once complete publishes the content atomically.
func CreateTemp(target string) (*os.File, error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %q: %w", dir, err)
	}
	return os.CreateTemp(dir, filepath.Base(target)+TempPattern)
}

// Publish fsyncs and closes tmp, then renames it onto target. tmp is removed on failure.
func Publish(tmp *os.File, target string) error {
	name := tmp.Name()
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Chmod(name, 0o644); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("chmod %s: %w", name, err)
	}
	if err := os.Rename(name, target); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("rename into %s: %w", target, err)
	}
	return nil
}

// WriteFileAtomic writes data to a temp file beside path and renames it into place.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := CreateTemp(path)
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	return Publish(tmp, path)
}

// WriteJSONAtomic encodes value as indented JSON and writes it atomically.
func WriteJSONAtomic(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, append(data, '\n'))
}

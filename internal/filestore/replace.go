package filestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrReplaceFailed matches every *ReplaceError via errors.Is.
var ErrReplaceFailed = errors.New("replace failed")

const (
	backupSuffix = ".bak"
	tmpMarker    = ".tmp-"
)

// ReplaceError reports the step of a replacement that failed. The file at
// Path still holds its previous content.
type ReplaceError struct {
	Path  string
	Op    string
	Cause error
}

func (e *ReplaceError) Error() string {
	return fmt.Sprintf("replace %s: %s: %v", e.Path, e.Op, e.Cause)
}

func (e *ReplaceError) Unwrap() error { return e.Cause }

func (e *ReplaceError) Is(target error) bool { return target == ErrReplaceFailed }

// Replacer swaps file content so readers only ever see the old or the new
// bytes. The rename and copy steps are fields so tests can inject failures.
type Replacer struct {
	rename   func(oldpath, newpath string) error
	copyFile func(src, dst string) error
}

// NewReplacer returns a Replacer backed by the local filesystem.
func NewReplacer() *Replacer {
	return &Replacer{rename: os.Rename, copyFile: copyFile}
}

func backupPath(path string) string { return path + backupSuffix }

// Replace writes data next to path, backs up the current file, renames the
// new file into place and drops the backup. Any failure after the backup
// exists restores it.
func (r *Replacer) Replace(path string, data []byte) (int64, error) {
	tmpName, err := writeTemp(path, data)
	if err != nil {
		return 0, &ReplaceError{Path: path, Op: "write temp", Cause: err}
	}

	backup := backupPath(path)
	hadOriginal := false
	if _, err := os.Stat(path); err == nil {
		hadOriginal = true
		if err := r.copyFile(path, backup); err != nil {
			_ = os.Remove(tmpName)
			_ = os.Remove(backup)
			return 0, &ReplaceError{Path: path, Op: "backup", Cause: err}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		_ = os.Remove(tmpName)
		return 0, &ReplaceError{Path: path, Op: "stat", Cause: err}
	}

	if err := r.rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		if hadOriginal {
			if rerr := os.Rename(backup, path); rerr != nil {
				return 0, &ReplaceError{Path: path, Op: "rename", Cause: errors.Join(err, fmt.Errorf("restore backup: %w", rerr))}
			}
		}
		return 0, &ReplaceError{Path: path, Op: "rename", Cause: err}
	}

	if hadOriginal {
		// A leftover backup is swept by Recover.
		_ = os.Remove(backup)
	}
	return int64(len(data)), nil
}

func writeTemp(path string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+tmpMarker+"*")
	if err != nil {
		return "", err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

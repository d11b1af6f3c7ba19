package filestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"docedit/internal/model"
)

var (
	// ErrNotFound is returned when a committed file is missing.
	ErrNotFound = errors.New("file not found")
	// ErrTooLarge is returned by WriteNew when the input exceeds the limit.
	ErrTooLarge = errors.New("file too large")
	// ErrOutsideRoot is returned for paths that escape the storage root.
	ErrOutsideRoot = errors.New("path outside storage root")
)

// Layout is the storage context for committed document files: one file per
// document at <root>/<key>.<ext>. It is built once at startup and shared.
type Layout struct {
	root     string
	replacer *Replacer
}

// NewLayout creates root if needed and returns a Layout over it.
func NewLayout(root string) (*Layout, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Layout{root: abs, replacer: NewReplacer()}, nil
}

// Root is the absolute storage directory.
func (l *Layout) Root() string { return l.root }

// PathFor returns the committed file path for a document key.
func (l *Layout) PathFor(key string, ft model.FileType) string {
	return filepath.Join(l.root, key+"."+string(ft))
}

func (l *Layout) check(path string) error {
	rel, err := filepath.Rel(l.root, filepath.Clean(path))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return nil
}

// WriteNew stores the first version of a document. At most maxBytes are
// accepted; zero means no limit.
func (l *Layout) WriteNew(path string, r io.Reader, maxBytes int64) (int64, error) {
	if err := l.check(path); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(l.root, "."+filepath.Base(path)+tmpMarker+"*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	n, err := io.Copy(tmp, src)
	if err != nil {
		_ = tmp.Close()
		return 0, fmt.Errorf("write file: %w", err)
	}
	if maxBytes > 0 && n > maxBytes {
		_ = tmp.Close()
		return 0, ErrTooLarge
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return 0, fmt.Errorf("sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return 0, fmt.Errorf("commit file: %w", err)
	}
	committed = true
	return n, nil
}

// Replace atomically swaps the content of an existing document file.
func (l *Layout) Replace(path string, data []byte) (int64, error) {
	if err := l.check(path); err != nil {
		return 0, &ReplaceError{Path: path, Op: "check", Cause: err}
	}
	return l.replacer.Replace(path, data)
}

// Open returns the committed file and its size.
func (l *Layout) Open(path string) (*os.File, int64, error) {
	if err := l.check(path); err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("open file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat file: %w", err)
	}
	return f, st.Size(), nil
}

// ReadFile returns the committed bytes.
func (l *Layout) ReadFile(path string) ([]byte, error) {
	f, _, err := l.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Remove deletes a committed file and any backup next to it. Missing files
// are not an error.
func (l *Layout) Remove(path string) error {
	if err := l.check(path); err != nil {
		return err
	}
	for _, p := range []string{path, backupPath(path)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove file: %w", err)
		}
	}
	return nil
}

// RecoveryReport counts what Recover cleaned up.
type RecoveryReport struct {
	Restored    int
	RemovedBak  int
	RemovedTemp int
}

// Recover cleans up after an interrupted replacement. A backup whose file is
// gone is renamed back into place; other backups and all temp files are
// deleted. Files modified within minAge are left alone, since a live
// replacement or upload may still own them. Pass 0 only before serving
// traffic.
func (l *Layout) Recover(minAge time.Duration) (RecoveryReport, error) {
	var rep RecoveryReport
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return rep, fmt.Errorf("read upload dir: %w", err)
	}

	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		full := filepath.Join(l.root, name)
		if minAge > 0 {
			info, err := e.Info()
			if err != nil || time.Since(info.ModTime()) < minAge {
				continue
			}
		}

		switch {
		case strings.HasPrefix(name, ".") && strings.Contains(name, tmpMarker):
			if err := os.Remove(full); err != nil {
				errs = append(errs, err)
				continue
			}
			rep.RemovedTemp++

		case strings.HasSuffix(name, backupSuffix):
			target := strings.TrimSuffix(full, backupSuffix)
			if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
				if err := os.Rename(full, target); err != nil {
					errs = append(errs, err)
					continue
				}
				rep.Restored++
				continue
			}
			if err := os.Remove(full); err != nil {
				errs = append(errs, err)
				continue
			}
			rep.RemovedBak++
		}
	}
	return rep, errors.Join(errs...)
}

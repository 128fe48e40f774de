package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrTooLarge is returned by SaveOriginal when the upload exceeds the limit.
var ErrTooLarge = errors.New("file exceeds upload limit")

// Files lays document artifacts out under DataDir:
//
//	originals/<docID>/<name>         uploaded PDF, never modified
//	signed/<docID>/signed-<name>     composited artifact, replaced atomically
type Files struct {
	DataDir string
}

func (f *Files) OriginalsDir() string { return filepath.Join(f.DataDir, "originals") }
func (f *Files) SignedDir() string    { return filepath.Join(f.DataDir, "signed") }

// SafeName reduces a client supplied file name to a plain basename.
func SafeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == "/" || name == ".." {
		return "document.pdf"
	}
	return name
}

// SignedName is the derived artifact name for an original file name.
func SignedName(fileName string) string {
	return "signed-" + SafeName(fileName)
}

// SaveOriginal copies r to originals/<docID>/<name>, refusing more than
// maxBytes. It returns the stored path and the byte count.
func (f *Files) SaveOriginal(docID, name string, r io.Reader, maxBytes int64) (string, int64, error) {
	dir := filepath.Join(f.OriginalsDir(), docID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", 0, fmt.Errorf("create original dir: %w", err)
	}
	path := filepath.Join(dir, SafeName(name))

	dst, err := os.Create(path)
	if err != nil {
		os.RemoveAll(dir)
		return "", 0, fmt.Errorf("create file: %w", err)
	}
	written, err := io.Copy(dst, io.LimitReader(r, maxBytes+1))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.RemoveAll(dir)
		return "", 0, fmt.Errorf("write file: %w", err)
	}
	if written > maxBytes {
		os.RemoveAll(dir)
		return "", 0, ErrTooLarge
	}
	return path, written, nil
}

func (f *Files) ReadOriginal(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read original: %w", err)
	}
	return b, nil
}

// PublishSigned writes data to a temporary file beside the final artifact,
// syncs it and renames it into place, so readers only ever see a complete
// file. An existing artifact is replaced.
func (f *Files) PublishSigned(docID, originalName string, data []byte) (string, error) {
	dir := filepath.Join(f.SignedDir(), docID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create signed dir: %w", err)
	}
	final := filepath.Join(dir, SignedName(originalName))

	tmp, err := os.CreateTemp(dir, ".signed-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		cleanup()
		return "", fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		cleanup()
		return "", fmt.Errorf("publish signed: %w", err)
	}
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return final, nil
}

// RemoveDocument deletes every artifact of a document.
func (f *Files) RemoveDocument(docID string) error {
	var errs []error
	for _, dir := range []string{f.OriginalsDir(), f.SignedDir()} {
		if err := os.RemoveAll(filepath.Join(dir, docID)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RemoveStaleTemps deletes unpublished signed artifacts last modified
// before cutoff, left behind by a crash between write and rename.
func (f *Files) RemoveStaleTemps(cutoff time.Time) (int, error) {
	removed := 0
	err := filepath.WalkDir(f.SignedDir(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(".signed-*.tmp", d.Name()); !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		removed++
		return nil
	})
	return removed, err
}

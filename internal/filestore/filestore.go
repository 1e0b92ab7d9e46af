// Package filestore persists uploaded files on local disk for the hub's
// shared file listing. In-progress uploads are written under a partial
// suffix and renamed into place on completion, so listings never show a
// half-written file.
package filestore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/models"
)

// partialSuffix marks uploads still being written.
const partialSuffix = ".uploading"

// Store owns one upload directory.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the upload directory path.
func (s *Store) Dir() string { return s.dir }

// Save streams r into the store under a unique, sanitized name derived from
// originalName and returns the final file info. The partial file is removed
// on any error.
func (s *Store) Save(r io.Reader, originalName string) (models.FileInfo, error) {
	name := s.resolveUniqueName(SanitizeFileName(originalName))
	partial := filepath.Join(s.dir, name+partialSuffix)
	final := filepath.Join(s.dir, name)

	f, err := os.Create(partial)
	if err != nil {
		return models.FileInfo{}, fmt.Errorf("create partial: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(partial)
		return models.FileInfo{}, fmt.Errorf("write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(partial)
		return models.FileInfo{}, fmt.Errorf("close upload: %w", err)
	}
	if err := os.Rename(partial, final); err != nil {
		os.Remove(partial)
		return models.FileInfo{}, fmt.Errorf("finalize upload: %w", err)
	}

	info, err := s.Stat(name)
	if err != nil {
		return models.FileInfo{}, err
	}
	logrus.WithFields(logrus.Fields{
		"file": name,
		"size": info.Size,
	}).Info("File stored")
	return info, nil
}

// Stat returns info for one stored file.
func (s *Store) Stat(name string) (models.FileInfo, error) {
	path, err := s.safePath(name)
	if err != nil {
		return models.FileInfo{}, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return models.FileInfo{}, err
	}
	return models.FileInfo{FileName: name, Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

// Open returns a reader for a stored file plus its info.
func (s *Store) Open(name string) (*os.File, models.FileInfo, error) {
	info, err := s.Stat(name)
	if err != nil {
		return nil, models.FileInfo{}, err
	}
	path, err := s.safePath(name)
	if err != nil {
		return nil, models.FileInfo{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, models.FileInfo{}, err
	}
	return f, info, nil
}

// List returns all completed files, newest first. Partials are skipped.
func (s *Store) List() ([]models.FileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read upload dir: %w", err)
	}
	files := make([]models.FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), partialSuffix) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, models.FileInfo{FileName: e.Name(), Size: fi.Size(), ModTime: fi.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ModTime.After(files[j].ModTime) })
	return files, nil
}

// Delete removes a stored file. It reports false when the file is absent.
func (s *Store) Delete(name string) (bool, error) {
	path, err := s.safePath(name)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	logrus.WithField("file", name).Info("File deleted")
	return true, nil
}

// safePath rejects names that would escape the upload directory.
func (s *Store) safePath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return filepath.Join(s.dir, name), nil
}

// resolveUniqueName appends "(n)" before the extension until the candidate
// collides with neither a stored file nor an in-flight partial.
func (s *Store) resolveUniqueName(name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	candidate := name
	for i := 1; ; i++ {
		finalPath := filepath.Join(s.dir, candidate)
		partialPath := finalPath + partialSuffix
		if !exists(finalPath) && !exists(partialPath) {
			return candidate
		}
		candidate = fmt.Sprintf("%s(%d)%s", base, i, ext)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

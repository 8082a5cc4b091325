package fs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pavel-fokin/share-relay/internal/share"
)

const partSuffix = ".part"

// Storage implements share.BlobStorage using the filesystem
type Storage struct {
	dataDir string
}

// NewStorage creates a new filesystem storage rooted at dataDir
func NewStorage(dataDir string) (*Storage, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Storage{dataDir: dataDir}, nil
}

// Dir returns the directory blobs are stored in
func (s *Storage) Dir() string {
	return s.dataDir
}

// Put streams content to a temporary file and renames it into place once
// the whole payload has been accepted.
func (s *Storage) Put(content io.Reader, limit int64) (string, int64, error) {
	key := uuid.NewString()
	filePath := s.path(key)
	partPath := filePath + partSuffix

	file, err := os.OpenFile(partPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create file: %w", err)
	}

	size, err := io.Copy(file, io.LimitReader(content, limit+1))
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(partPath)
		return "", 0, fmt.Errorf("failed to write file content: %w", err)
	}
	if size > limit {
		os.Remove(partPath)
		return "", 0, fmt.Errorf("%w: file limit is %s", share.ErrPayloadTooLarge, humanize.IBytes(uint64(limit)))
	}

	if err := os.Rename(partPath, filePath); err != nil {
		os.Remove(partPath)
		return "", 0, fmt.Errorf("failed to publish file: %w", err)
	}

	return key, size, nil
}

// Open returns a reader for the blob content
func (s *Storage) Open(key string) (io.ReadCloser, error) {
	if !validKey(key) {
		return nil, share.ErrBlobNotFound
	}

	file, err := os.Open(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, share.ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// Exists checks if a blob exists
func (s *Storage) Exists(key string) bool {
	if !validKey(key) {
		return false
	}
	info, err := os.Stat(s.path(key))
	return err == nil && info.Mode().IsRegular()
}

// Delete removes a blob by key
func (s *Storage) Delete(key string) error {
	if !validKey(key) {
		return nil
	}

	if err := os.Remove(s.path(key)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil // File already deleted
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

// Purge removes blobs and partial uploads left by a previous process.
// Only names this storage could have produced are touched.
func (s *Storage) Purge() (int, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read data directory: %w", err)
	}

	var (
		removed int
		errs    []error
	)
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !validKey(strings.TrimSuffix(entry.Name(), partSuffix)) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dataDir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	return removed, errors.Join(errs...)
}

func (s *Storage) path(key string) string {
	return filepath.Join(s.dataDir, key)
}

// validKey keeps keys from escaping the data directory.
func validKey(key string) bool {
	_, err := uuid.Parse(key)
	return err == nil && !strings.ContainsAny(key, `/\{}:`)
}

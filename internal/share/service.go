package share

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

const (
	DefaultTTL         = 30 * time.Minute
	DefaultMaxFileSize = 10 << 20
	DefaultMaxTextSize = 100 << 10

	// sniffLen matches the amount of data mimetype inspects by default.
	sniffLen = 3072

	genericMimeType = "application/octet-stream"
)

// Options configures a Service. Zero fields fall back to defaults.
type Options struct {
	TTL           time.Duration
	MaxFileSize   int64
	MaxTextSize   int64
	CodeLength    int
	SweepInterval time.Duration
	Now           func() time.Time
	Logger        *slog.Logger
}

// Service provides the text and file sharing operations
type Service struct {
	texts   *Store[TextRecord]
	files   *Store[FileRecord]
	blobs   BlobStorage
	codes   *CodeGenerator
	sweeper *Sweeper

	ttl         time.Duration
	maxFileSize int64
	maxTextSize int64
	now         func() time.Time
	logger      *slog.Logger
}

// NewService creates a new share service on top of blobs
func NewService(blobs BlobStorage, opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.MaxTextSize <= 0 {
		opts.MaxTextSize = DefaultMaxTextSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Service{
		blobs:       blobs,
		codes:       NewCodeGenerator(opts.CodeLength),
		ttl:         opts.TTL,
		maxFileSize: opts.MaxFileSize,
		maxTextSize: opts.MaxTextSize,
		now:         opts.Now,
		logger:      opts.Logger,
	}
	s.texts = NewStore[TextRecord](opts.Now, nil)
	s.files = NewStore(opts.Now, s.releaseBlob)
	s.sweeper = NewSweeper(s.texts, s.files, blobs, opts.SweepInterval, opts.Now, opts.Logger)
	return s
}

// ShareText stores content and returns its record
func (s *Service) ShareText(content string) (TextRecord, error) {
	if strings.TrimSpace(content) == "" {
		return TextRecord{}, ErrEmptyInput
	}
	if int64(len(content)) > s.maxTextSize {
		return TextRecord{}, fmt.Errorf("%w: text limit is %s", ErrPayloadTooLarge, humanize.IBytes(uint64(s.maxTextSize)))
	}

	rec, err := s.texts.Add(s.codes, func(code string) TextRecord {
		now := s.now()
		return TextRecord{
			Code:      code,
			Content:   content,
			CreatedAt: now,
			ExpiresAt: now.Add(s.ttl),
		}
	})
	if err != nil {
		return TextRecord{}, fmt.Errorf("failed to store text: %w", err)
	}

	s.logger.Info("Text shared", "code", rec.Code, "bytes", len(content))
	return rec, nil
}

// RetrieveText returns the live text record for code
func (s *Service) RetrieveText(code string) (TextRecord, error) {
	rec, ok := s.texts.Get(code)
	if !ok {
		return TextRecord{}, ErrNotFound
	}
	return rec, nil
}

// UploadRequest represents a file upload request
type UploadRequest struct {
	Name     string
	MimeType string
	Content  io.Reader
}

// ShareFile writes the upload to blob storage and then publishes its record.
// The record is never visible before its bytes are fully written.
func (s *Service) ShareFile(req *UploadRequest) (FileRecord, error) {
	if req == nil || req.Content == nil {
		return FileRecord{}, ErrNoFile
	}

	mimeType, content, err := detectMimeType(req.MimeType, req.Content)
	if err != nil {
		return FileRecord{}, err
	}

	key, size, err := s.blobs.Put(content, s.maxFileSize)
	if err != nil {
		return FileRecord{}, fmt.Errorf("failed to save file: %w", err)
	}

	name := originalName(req.Name)
	rec, err := s.files.Add(s.codes, func(code string) FileRecord {
		now := s.now()
		return FileRecord{
			Code:         code,
			StorageKey:   key,
			OriginalName: name,
			MimeType:     mimeType,
			Size:         size,
			CreatedAt:    now,
			ExpiresAt:    now.Add(s.ttl),
		}
	})
	if err != nil {
		s.releaseBlobKey(key)
		return FileRecord{}, fmt.Errorf("failed to save file metadata: %w", err)
	}

	s.logger.Info("File shared",
		"code", rec.Code,
		"storage_key", rec.StorageKey,
		"mime_type", rec.MimeType,
		"size", humanize.IBytes(uint64(rec.Size)),
	)
	return rec, nil
}

// FileInfo returns the metadata of a live file whose bytes are present
func (s *Service) FileInfo(code string) (FileRecord, error) {
	rec, ok := s.files.Get(code)
	if !ok {
		return FileRecord{}, ErrNotFound
	}
	if !s.blobs.Exists(rec.StorageKey) {
		s.healMissingBlob(rec)
		return FileRecord{}, ErrBlobMissing
	}
	return rec, nil
}

// OpenFile returns the metadata and content of a live file. The caller must
// close the reader.
func (s *Service) OpenFile(code string) (FileRecord, io.ReadCloser, error) {
	rec, ok := s.files.Get(code)
	if !ok {
		return FileRecord{}, nil, ErrNotFound
	}

	content, err := s.blobs.Open(rec.StorageKey)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			s.healMissingBlob(rec)
			return FileRecord{}, nil, ErrBlobMissing
		}
		return FileRecord{}, nil, fmt.Errorf("failed to retrieve file content: %w", err)
	}
	return rec, content, nil
}

// Stats holds the number of records currently held
type Stats struct {
	Texts int `json:"texts"`
	Files int `json:"files"`
}

// Stats reports store sizes
func (s *Service) Stats() Stats {
	return Stats{Texts: s.texts.Len(), Files: s.files.Len()}
}

// Sweep runs a single eviction tick against now
func (s *Service) Sweep(now time.Time) SweepResult {
	return s.sweeper.Sweep(now)
}

// Run drives the periodic sweeper until ctx is done
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("Sweeper started", "interval", s.sweeper.interval.String(), "ttl", s.ttl.String())
	defer s.logger.Info("Sweeper stopped")
	return s.sweeper.Run(ctx)
}

// Close drops every record and deletes every blob. Nothing survives a
// restart, so leaving the bytes on disk would only leak them.
func (s *Service) Close() error {
	texts := s.texts.Drain()

	var errs []error
	files := s.files.Drain()
	for _, rec := range files {
		if err := s.blobs.Delete(rec.StorageKey); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete blob %s: %w", rec.StorageKey, err))
		}
	}

	s.logger.Info("Share service closed", "texts", len(texts), "files", len(files))
	return errors.Join(errs...)
}

// healMissingBlob drops a record whose bytes disappeared underneath it.
func (s *Service) healMissingBlob(rec FileRecord) {
	s.logger.Warn("Integrity anomaly: blob missing for live file record",
		"code", rec.Code,
		"storage_key", rec.StorageKey,
	)
	s.files.DeleteFunc(rec.Code, func(cur FileRecord) bool {
		return cur.StorageKey == rec.StorageKey
	})
	s.releaseBlobKey(rec.StorageKey)
}

func (s *Service) releaseBlob(rec FileRecord) {
	s.releaseBlobKey(rec.StorageKey)
}

func (s *Service) releaseBlobKey(key string) {
	if err := s.blobs.Delete(key); err != nil {
		s.logger.Warn("Failed to delete blob", "error", err, "storage_key", key)
	}
}

// detectMimeType peeks at the head of content. It keeps a specific declared
// type and sniffs one otherwise. The returned reader yields the full content.
func detectMimeType(declared string, content io.Reader) (string, io.Reader, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(content, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if n == 0 {
		return "", nil, ErrNoFile
	}
	head = head[:n]

	body := io.MultiReader(bytes.NewReader(head), content)
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != genericMimeType {
		return declared, body, nil
	}
	return mimetype.Detect(head).String(), body, nil
}

func originalName(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	return name
}

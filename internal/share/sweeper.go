package share

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often expired records are collected.
const DefaultSweepInterval = time.Minute

// SweepResult summarizes a single sweep tick
type SweepResult struct {
	Texts        int
	Files        int
	BlobFailures int
}

// Sweeper periodically removes expired records and releases their blobs
type Sweeper struct {
	texts    *Store[TextRecord]
	files    *Store[FileRecord]
	blobs    BlobStorage
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewSweeper creates a sweeper over the given stores
func NewSweeper(texts *Store[TextRecord], files *Store[FileRecord], blobs BlobStorage, interval time.Duration, now func() time.Time, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		texts:    texts,
		files:    files,
		blobs:    blobs,
		interval: interval,
		now:      now,
		logger:   logger,
	}
}

// Sweep runs one tick against now. A blob that cannot be deleted is logged
// and skipped; its record is already gone.
func (s *Sweeper) Sweep(now time.Time) SweepResult {
	var result SweepResult

	for _, rec := range s.texts.Sweep(now) {
		result.Texts++
		s.logger.Debug("Expired text", "code", rec.Code)
	}

	for _, rec := range s.files.Sweep(now) {
		result.Files++
		if err := s.blobs.Delete(rec.StorageKey); err != nil {
			result.BlobFailures++
			s.logger.Warn("Failed to delete expired blob",
				"error", err,
				"code", rec.Code,
				"storage_key", rec.StorageKey,
			)
			continue
		}
		s.logger.Debug("Expired file", "code", rec.Code, "storage_key", rec.StorageKey)
	}

	if result.Texts > 0 || result.Files > 0 {
		s.logger.Info("Sweep finished",
			"texts", result.Texts,
			"files", result.Files,
			"blob_failures", result.BlobFailures,
		)
	}
	return result
}

// Run sweeps on every interval until ctx is done. Ticks run on this
// goroutine, so a slow tick delays the next one instead of overlapping it.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Sweeper) tick() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Sweep panicked", "error", fmt.Sprint(r))
		}
	}()
	s.Sweep(s.now())
}

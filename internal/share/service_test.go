package share_test

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavel-fokin/share-relay/internal/fs"
	"github.com/pavel-fokin/share-relay/internal/share"
)

const ttl = 30 * time.Minute

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc     *share.Service
	storage *fs.Storage
	clock   *clock
}

func setupService(t *testing.T, maxFileSize int64) *fixture {
	t.Helper()

	storage, err := fs.NewStorage(t.TempDir())
	require.NoError(t, err)

	c := &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := share.NewService(storage, share.Options{
		TTL:         ttl,
		MaxFileSize: maxFileSize,
		MaxTextSize: 64,
		Now:         c.Now,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	return &fixture{svc: svc, storage: storage, clock: c}
}

func (f *fixture) blobCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(f.storage.Dir())
	require.NoError(t, err)
	return len(entries)
}

func (f *fixture) shareFile(t *testing.T, name, mimeType string, content []byte) share.FileRecord {
	t.Helper()
	rec, err := f.svc.ShareFile(&share.UploadRequest{
		Name:     name,
		MimeType: mimeType,
		Content:  bytes.NewReader(content),
	})
	require.NoError(t, err)
	return rec
}

func TestShareTextRoundTrip(t *testing.T) {
	f := setupService(t, 1024)

	texts := []string{"hello", "  padded  ", "multi\nline\ttext", "ünïcödé ✓"}
	for _, text := range texts {
		rec, err := f.svc.ShareText(text)
		require.NoError(t, err)
		assert.Len(t, rec.Code, share.DefaultCodeLength)
		assert.Equal(t, f.clock.Now().Add(ttl), rec.ExpiresAt)

		got, err := f.svc.RetrieveText(rec.Code)
		require.NoError(t, err)
		assert.Equal(t, text, got.Content)
	}
}

func TestShareTextValidation(t *testing.T) {
	f := setupService(t, 1024)

	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{name: "empty", content: "", wantErr: share.ErrEmptyInput},
		{name: "whitespace only", content: " \n\t ", wantErr: share.ErrEmptyInput},
		{name: "over text limit", content: strings.Repeat("x", 65), wantErr: share.ErrPayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.ShareText(tt.content)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Equal(t, share.Stats{}, f.svc.Stats())
}

func TestRetrieveTextExpiration(t *testing.T) {
	f := setupService(t, 1024)

	rec, err := f.svc.ShareText("short lived")
	require.NoError(t, err)

	f.clock.Advance(ttl - time.Millisecond)
	got, err := f.svc.RetrieveText(rec.Code)
	require.NoError(t, err)
	assert.Equal(t, "short lived", got.Content)

	f.clock.Advance(time.Millisecond)
	_, err = f.svc.RetrieveText(rec.Code)
	assert.ErrorIs(t, err, share.ErrNotFound)

	_, err = f.svc.RetrieveText(rec.Code)
	assert.ErrorIs(t, err, share.ErrNotFound, "second read after expiry is still not found")
}

func TestRetrieveTextCaseInsensitive(t *testing.T) {
	f := setupService(t, 1024)

	rec, err := f.svc.ShareText("case")
	require.NoError(t, err)
	assert.Equal(t, strings.ToUpper(rec.Code), rec.Code)

	got, err := f.svc.RetrieveText(strings.ToLower(rec.Code))
	require.NoError(t, err)
	assert.Equal(t, "case", got.Content)
}

func TestRetrieveTextUnknownCode(t *testing.T) {
	f := setupService(t, 1024)

	_, err := f.svc.RetrieveText("NOPE00")
	assert.ErrorIs(t, err, share.ErrNotFound)
}

func TestShareFileRoundTrip(t *testing.T) {
	f := setupService(t, 1024)
	content := []byte("binary\x00payload\xff")

	rec := f.shareFile(t, "report.bin", "application/x-custom", content)
	assert.Equal(t, int64(len(content)), rec.Size)
	assert.NotEqual(t, "report.bin", rec.StorageKey)

	info, err := f.svc.FileInfo(strings.ToLower(rec.Code))
	require.NoError(t, err)
	assert.Equal(t, "report.bin", info.OriginalName)
	assert.Equal(t, "application/x-custom", info.MimeType)

	got, body, err := f.svc.OpenFile(rec.Code)
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, content, data)
	assert.Equal(t, rec, got)
}

func TestShareFileNames(t *testing.T) {
	f := setupService(t, 1024)

	tests := []struct {
		declared string
		want     string
	}{
		{"photo.png", "photo.png"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\notes.txt`, "notes.txt"},
		{"", "upload"},
	}

	for _, tt := range tests {
		t.Run(tt.declared, func(t *testing.T) {
			rec := f.shareFile(t, tt.declared, "text/plain", []byte("x"))
			assert.Equal(t, tt.want, rec.OriginalName)
		})
	}
}

func TestShareFileSniffsMimeType(t *testing.T) {
	f := setupService(t, 1024)
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

	for _, declared := range []string{"", "application/octet-stream"} {
		rec := f.shareFile(t, "pixel", declared, png)
		assert.Equal(t, "image/png", rec.MimeType)
	}
}

func TestShareFileEmpty(t *testing.T) {
	f := setupService(t, 1024)

	_, err := f.svc.ShareFile(&share.UploadRequest{Name: "empty.txt", Content: bytes.NewReader(nil)})
	assert.ErrorIs(t, err, share.ErrNoFile)

	_, err = f.svc.ShareFile(&share.UploadRequest{Name: "nil.txt"})
	assert.ErrorIs(t, err, share.ErrNoFile)

	assert.Equal(t, 0, f.blobCount(t))
}

func TestShareFileSizeLimit(t *testing.T) {
	const limit = 4096
	f := setupService(t, limit)

	rec := f.shareFile(t, "exact.bin", "application/x-test", bytes.Repeat([]byte("a"), limit))
	assert.Equal(t, int64(limit), rec.Size)
	assert.Equal(t, 1, f.blobCount(t))

	_, err := f.svc.ShareFile(&share.UploadRequest{
		Name:    "big.bin",
		Content: bytes.NewReader(bytes.Repeat([]byte("a"), limit+1)),
	})
	assert.ErrorIs(t, err, share.ErrPayloadTooLarge)
	assert.Equal(t, 1, f.blobCount(t), "rejected upload leaves no blob behind")
	assert.Equal(t, 1, f.svc.Stats().Files)
}

func TestFileInfoBlobMissing(t *testing.T) {
	f := setupService(t, 1024)
	rec := f.shareFile(t, "gone.txt", "text/plain", []byte("soon gone"))

	require.NoError(t, os.Remove(filepath.Join(f.storage.Dir(), rec.StorageKey)))

	_, err := f.svc.FileInfo(rec.Code)
	assert.ErrorIs(t, err, share.ErrBlobMissing)

	_, err = f.svc.FileInfo(rec.Code)
	assert.ErrorIs(t, err, share.ErrNotFound, "dangling record is deleted")
	assert.Equal(t, 0, f.svc.Stats().Files)
}

func TestOpenFileBlobMissing(t *testing.T) {
	f := setupService(t, 1024)
	rec := f.shareFile(t, "gone.txt", "text/plain", []byte("soon gone"))

	require.NoError(t, os.Remove(filepath.Join(f.storage.Dir(), rec.StorageKey)))

	_, _, err := f.svc.OpenFile(rec.Code)
	assert.ErrorIs(t, err, share.ErrBlobMissing)

	_, _, err = f.svc.OpenFile(rec.Code)
	assert.ErrorIs(t, err, share.ErrNotFound)
}

func TestFileLazyExpirationReleasesBlob(t *testing.T) {
	f := setupService(t, 1024)
	rec := f.shareFile(t, "a.txt", "text/plain", []byte("a"))

	f.clock.Advance(ttl)

	_, err := f.svc.FileInfo(rec.Code)
	assert.ErrorIs(t, err, share.ErrNotFound)
	assert.False(t, f.storage.Exists(rec.StorageKey))
	assert.Equal(t, 0, f.blobCount(t))
}

func TestSweepRemovesExpiredRecordsAndBlobs(t *testing.T) {
	f := setupService(t, 1024)

	text, err := f.svc.ShareText("old text")
	require.NoError(t, err)
	file := f.shareFile(t, "old.txt", "text/plain", []byte("old file"))

	f.clock.Advance(ttl / 2)
	fresh := f.shareFile(t, "new.txt", "text/plain", []byte("new file"))

	result := f.svc.Sweep(f.clock.Now().Add(ttl / 2))
	assert.Equal(t, share.SweepResult{Texts: 1, Files: 1}, result)
	assert.Equal(t, share.Stats{Texts: 0, Files: 1}, f.svc.Stats())

	assert.False(t, f.storage.Exists(file.StorageKey))
	assert.True(t, f.storage.Exists(fresh.StorageKey))

	_, err = f.svc.RetrieveText(text.Code)
	assert.ErrorIs(t, err, share.ErrNotFound)
}

func TestSweepRecordAlreadyPastDeadline(t *testing.T) {
	f := setupService(t, 1024)
	rec := f.shareFile(t, "a.txt", "text/plain", []byte("a"))

	f.clock.Advance(ttl + time.Second)
	f.svc.Sweep(f.clock.Now())

	assert.Equal(t, 0, f.svc.Stats().Files)
	_, err := os.Stat(filepath.Join(f.storage.Dir(), rec.StorageKey))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConcurrentSharesGetDistinctCodes(t *testing.T) {
	const n = 200
	f := setupService(t, 1024)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = make(map[string]string, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			text := fmt.Sprintf("text %d", i)
			rec, err := f.svc.ShareText(text)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			codes[rec.Code] = text
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	require.Len(t, codes, n)
	for code, text := range codes {
		got, err := f.svc.RetrieveText(code)
		require.NoError(t, err)
		assert.Equal(t, text, got.Content)
	}
}

func TestCloseDeletesEverything(t *testing.T) {
	f := setupService(t, 1024)

	_, err := f.svc.ShareText("bye")
	require.NoError(t, err)
	f.shareFile(t, "a.txt", "text/plain", []byte("a"))
	f.shareFile(t, "b.txt", "text/plain", []byte("b"))

	require.NoError(t, f.svc.Close())
	assert.Equal(t, share.Stats{}, f.svc.Stats())
	assert.Equal(t, 0, f.blobCount(t))
}

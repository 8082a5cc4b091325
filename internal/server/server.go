package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/pavel-fokin/share-relay/internal/config"
	"github.com/pavel-fokin/share-relay/internal/share"
)

// multipartOverhead leaves room for boundaries and part headers around the
// file itself.
const multipartOverhead = 1 << 20

func New(cfg *config.Config, shareService *share.Service) *http.Server {
	codes := share.NewCodeGenerator(cfg.CodeLength)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthz(shareService))
	mux.HandleFunc("POST /api/share/text", shareText(cfg, shareService))
	mux.HandleFunc("GET /api/share/text/{code}", retrieveText(codes, shareService))
	mux.HandleFunc("POST /api/share/file", shareFile(cfg, shareService))
	mux.HandleFunc("GET /api/share/file/{code}", downloadFile(codes, shareService))
	mux.HandleFunc("GET /api/share/file/{code}/info", fileInfo(codes, shareService))

	// Wrap the handler with logging middleware
	handler := loggingMiddleware(cors.AllowAll().Handler(mux))

	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}
}

func healthz(shareService *share.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, shareService.Stats())
	}
}

type shareTextRequest struct {
	Text string `json:"text"`
}

type shareTextResponse struct {
	Code      string `json:"code"`
	ExpiresAt int64  `json:"expiresAt"`
}

type retrieveTextResponse struct {
	Text string `json:"text"`
}

type shareFileResponse struct {
	Code         string `json:"code"`
	ExpiresAt    int64  `json:"expiresAt"`
	OriginalName string `json:"originalName"`
}

type fileInfoResponse struct {
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
	ExpiresAt    int64  `json:"expiresAt"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func shareText(cfg *config.Config, shareService *share.Service) http.HandlerFunc {
	// JSON escaping can double the size of the text on the wire.
	maxBody := 2*int64(cfg.MaxTextSize) + 1024

	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBody)

		var req shareTextRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, share.ErrPayloadTooLarge)
				return
			}
			// An unreadable body carries no text either.
			writeError(w, share.ErrEmptyInput)
			return
		}

		rec, err := shareService.ShareText(req.Text)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, shareTextResponse{
			Code:      rec.Code,
			ExpiresAt: rec.ExpiresAt.UnixMilli(),
		})
	}
}

func retrieveText(codes *share.CodeGenerator, shareService *share.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.PathValue("code")
		if !codes.Valid(code) {
			writeError(w, share.ErrNotFound)
			return
		}

		rec, err := shareService.RetrieveText(code)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, retrieveTextResponse{Text: rec.Content})
	}
}

func shareFile(cfg *config.Config, shareService *share.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, int64(cfg.MaxFileSize)+multipartOverhead)

		reader, err := r.MultipartReader()
		if err != nil {
			writeError(w, share.ErrNoFile)
			return
		}

		for {
			part, err := reader.NextPart()
			if err == io.EOF {
				writeError(w, share.ErrNoFile)
				return
			}
			if err != nil {
				writeError(w, uploadError(err))
				return
			}

			if part.FormName() != "file" || part.FileName() == "" {
				part.Close()
				continue
			}

			rec, err := shareService.ShareFile(&share.UploadRequest{
				Name:     part.FileName(),
				MimeType: part.Header.Get("Content-Type"),
				Content:  part,
			})
			part.Close()
			if err != nil {
				slog.Error("Upload failed", "error", err, "filename", part.FileName())
				writeError(w, uploadError(err))
				return
			}

			writeJSON(w, http.StatusOK, shareFileResponse{
				Code:         rec.Code,
				ExpiresAt:    rec.ExpiresAt.UnixMilli(),
				OriginalName: rec.OriginalName,
			})
			return
		}
	}
}

func downloadFile(codes *share.CodeGenerator, shareService *share.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.PathValue("code")
		if !codes.Valid(code) {
			writeError(w, share.ErrNotFound)
			return
		}

		file, content, err := shareService.OpenFile(code)
		if err != nil {
			writeError(w, err)
			return
		}
		defer content.Close()

		// Set response headers
		w.Header().Set("Content-Type", file.MimeType)
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.OriginalName}))
		w.Header().Set("Content-Length", fmt.Sprintf("%d", file.Size))

		// Stream file content
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, content); err != nil {
			slog.Error("Failed to stream file", "error", err, "code", file.Code)
		}
	}
}

func fileInfo(codes *share.CodeGenerator, shareService *share.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.PathValue("code")
		if !codes.Valid(code) {
			writeError(w, share.ErrNotFound)
			return
		}

		file, err := shareService.FileInfo(code)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, fileInfoResponse{
			OriginalName: file.OriginalName,
			MimeType:     file.MimeType,
			Size:         file.Size,
			ExpiresAt:    file.ExpiresAt.UnixMilli(),
		})
	}
}

// uploadError folds a body size violation into ErrPayloadTooLarge.
func uploadError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return share.ErrPayloadTooLarge
	}
	return err
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, share.ErrEmptyInput):
		return http.StatusBadRequest, share.ErrEmptyInput.Error()
	case errors.Is(err, share.ErrNoFile):
		return http.StatusBadRequest, share.ErrNoFile.Error()
	case errors.Is(err, share.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, share.ErrPayloadTooLarge.Error()
	case errors.Is(err, share.ErrNotFound):
		return http.StatusNotFound, share.ErrNotFound.Error()
	case errors.Is(err, share.ErrBlobMissing):
		return http.StatusNotFound, share.ErrBlobMissing.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, message := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// loggingMiddleware logs HTTP requests with structured logging
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

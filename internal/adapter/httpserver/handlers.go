package httpserver

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/fairyhunter13/cv-screening-pipeline/internal/domain"
	"github.com/fairyhunter13/cv-screening-pipeline/internal/pipeline"
)

var allowedExts = map[string]bool{
	".pdf":  true,
	".docx": true,
	".doc":  true,
	".txt":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

var allowedMIMEs = map[string]bool{
	"application/pdf": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/msword": true,
	"text/plain":         true,
	"image/png":          true,
	"image/jpeg":         true,
}

func allowedExt(name string) bool {
	return allowedExts[strings.ToLower(filepath.Ext(name))]
}

func allowedMIME(mime string) bool {
	// mimetype reports text with a charset suffix, e.g. "text/plain; charset=utf-8".
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	return allowedMIMEs[mime]
}

// UploadHandler accepts a candidate document and drops it into the intake
// container under its {rank}_{candidate} name. Two request shapes are
// supported: multipart/form-data with a "file" field, or a raw body with
// the name in X-Filename.
func (s *Server) UploadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		maxBytes := s.Cfg.MaxUploadMB * 1024 * 1024
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

		filename, body, err := readUpload(r, maxBytes)
		if err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "too large") {
				writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": map[string]any{
					"code": "PAYLOAD_TOO_LARGE", "message": "payload too large", "details": map[string]any{"max_mb": s.Cfg.MaxUploadMB},
				}})
				return
			}
			writeError(w, err, nil)
			return
		}

		rankID, candidateID := pipeline.ParseItemName(filename)
		if rankID == "" || candidateID == "" {
			writeError(w, fmt.Errorf("%w: filename must be {rank}_{candidate}.{ext}, got %q", domain.ErrIdentification, filename), map[string]string{"filename": filename})
			return
		}

		if !allowedExt(filename) {
			writeJSON(w, http.StatusUnsupportedMediaType, map[string]any{"error": map[string]any{
				"code": "UNSUPPORTED_MEDIA_TYPE", "message": "unsupported file extension", "details": map[string]string{"filename": filename},
			}})
			return
		}
		mime := mimetype.Detect(body)
		if !allowedMIME(mime.String()) {
			writeJSON(w, http.StatusUnsupportedMediaType, map[string]any{"error": map[string]any{
				"code": "UNSUPPORTED_MEDIA_TYPE", "message": "unsupported file content", "details": map[string]string{"mime": mime.String(), "filename": filename},
			}})
			return
		}

		key := filepath.Base(filename)
		if err := s.Store.Upload(r.Context(), s.Cfg.CandidatesContainer, key, bytes.NewReader(body), mime.String()); err != nil {
			writeError(w, fmt.Errorf("%w: store upload: %v", domain.ErrTransientService, err), nil)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]any{
			"upload_id":    uuid.NewString(),
			"key":          key,
			"rank_id":      rankID,
			"candidate_id": candidateID,
			"size":         len(body),
		})
	}
}

// readUpload extracts (filename, body) from either request shape.
func readUpload(r *http.Request, maxBytes int64) (string, []byte, error) {
	if strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			return "", nil, fmt.Errorf("%w: %v", domain.ErrMalformedInput, err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", nil, fmt.Errorf("%w: file field required", domain.ErrMalformedInput)
		}
		defer func() { _ = file.Close() }()
		body, err := io.ReadAll(file)
		if err != nil {
			return "", nil, fmt.Errorf("%w: read file: %v", domain.ErrMalformedInput, err)
		}
		if len(body) == 0 {
			return "", nil, fmt.Errorf("%w: empty file", domain.ErrMalformedInput)
		}
		return header.Filename, body, nil
	}

	filename := r.Header.Get("X-Filename")
	if filename == "" {
		return "", nil, fmt.Errorf("%w: X-Filename header required for raw uploads", domain.ErrMalformedInput)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return "", nil, fmt.Errorf("%w: read body: %v", domain.ErrMalformedInput, err)
	}
	if len(body) == 0 {
		return "", nil, fmt.Errorf("%w: empty body", domain.ErrMalformedInput)
	}
	return filename, body, nil
}

// ReadyzHandler reports whether the intake container is reachable.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.Store.List(r.Context(), s.Cfg.CandidatesContainer, ""); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

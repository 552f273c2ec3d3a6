package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/cv-screening-pipeline/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error, details any) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrMalformedInput):
		code = http.StatusBadRequest
		codeStr = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrIdentification):
		code = http.StatusBadRequest
		codeStr = "UNIDENTIFIABLE_NAME"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrTransientService):
		code = http.StatusServiceUnavailable
		codeStr = "UPSTREAM_UNAVAILABLE"
	}
	writeJSON(w, code, map[string]any{"error": map[string]any{
		"code":    codeStr,
		"message": err.Error(),
		"details": details,
	}})
}

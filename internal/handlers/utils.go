package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jjudge-oj/accounts/types"
)

const maxJSONBodyBytes = 1 << 20

var errInvalidBody = errors.New("invalid request body")

// Envelope is the uniform body of every JSON response.
type Envelope struct {
	Success    bool           `json:"success"`
	Message    string         `json:"message"`
	Data       any            `json:"data"`
	Pagination map[string]any `json:"pagination"`
	Timestamp  time.Time      `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Envelope{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeErrorData(w, status, message, nil)
}

func writeErrorData(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Envelope{
		Success:   false,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

func writePage[T any](w http.ResponseWriter, message string, page types.Page[T]) {
	items := page.Items
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, Envelope{
		Success:    true,
		Message:    message,
		Data:       items,
		Pagination: paginationInfo(page),
		Timestamp:  time.Now().UTC(),
	})
}

func paginationInfo[T any](page types.Page[T]) map[string]any {
	return map[string]any{
		"page":          page.Page,
		"size":          page.Size,
		"totalElements": page.TotalElements,
		"totalPages":    page.TotalPages(),
		"isFirst":       page.IsFirst(),
		"isLast":        page.IsLast(),
	}
}

// decodeJSON reads a single JSON value of at most maxJSONBodyBytes.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return errInvalidBody
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errInvalidBody
	}
	return nil
}

func parseUserID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, "id")), 10, 64)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, key string) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	return v, err == nil
}

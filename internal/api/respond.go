package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/iammorganparry/cmem/internal/models"
)

const (
	maxBodyBytes = 4 << 20
	maxBatchIDs  = 100
	defaultLimit = 50
	maxLimit     = 200
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps the error taxonomy onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrUpstreamTransient), errors.Is(err, models.ErrUpstreamPermanent):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a JSON body. An empty body leaves v untouched when
// allowEmpty is set.
func decodeJSON(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return fmt.Errorf("invalid request body: %v: %w", err, models.ErrValidation)
	}
	return nil
}

func idParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q: %w", raw, models.ErrValidation)
	}
	return id, nil
}

// listFilter parses project, type, from, to, page and limit.
func listFilter(r *http.Request) (models.ListFilter, error) {
	q := r.URL.Query()
	f := models.ListFilter{Project: strings.TrimSpace(q.Get("project"))}

	if raw := q.Get("type"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			ot := models.ObservationType(strings.TrimSpace(t))
			if !ot.IsValid() {
				return f, fmt.Errorf("invalid type %q: %w", t, models.ErrValidation)
			}
			f.Types = append(f.Types, ot)
		}
	}

	var err error
	if f.From, err = int64Query(q.Get("from")); err != nil {
		return f, err
	}
	if f.To, err = int64Query(q.Get("to")); err != nil {
		return f, err
	}
	if err := validateFilter(f); err != nil {
		return f, err
	}

	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 || f.Limit > maxLimit {
		f.Limit = defaultLimit
	}
	return f, nil
}

// validateFilter checks types and the date window of a decoded filter.
func validateFilter(f models.ListFilter) error {
	for _, t := range f.Types {
		if !t.IsValid() {
			return fmt.Errorf("invalid type %q: %w", t, models.ErrValidation)
		}
	}
	if f.From < 0 || f.To < 0 {
		return fmt.Errorf("timestamps must not be negative: %w", models.ErrValidation)
	}
	if f.From > 0 && f.To > 0 && f.From > f.To {
		return fmt.Errorf("from must not be after to: %w", models.ErrValidation)
	}
	return nil
}

func hasFilter(f models.ListFilter) bool {
	return f.Project != "" || len(f.Types) > 0 || f.From > 0 || f.To > 0
}

func int64Query(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid timestamp %q: %w", raw, models.ErrValidation)
	}
	return v, nil
}

func limitQuery(r *http.Request, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

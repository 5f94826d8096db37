package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/blockreasons/kit"
	"github.com/hazyhaar/blockreasons/safety"
	"github.com/hazyhaar/blockreasons/store"
)

type labelBody struct {
	Label string `json:"label"`
}

type moveBody struct {
	Index *int `json:"index"`
}

// annotationPatch edits a record. Absent fields keep their stored value.
type annotationPatch struct {
	Categories *[]string `json:"categories"`
	Reason     *string   `json:"reason"`
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- categories ---

func (s *Service) handleListCategories(w http.ResponseWriter, r *http.Request) {
	s.serveEndpoint(w, r, s.categories, &emptyRequest{})
}

func (s *Service) handleAddCategory(w http.ResponseWriter, r *http.Request) {
	var body labelBody
	if !decodeBody(w, r, &body) {
		return
	}
	cat, err := s.store.AddCategory(r.Context(), body.Label)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cat)
}

func (s *Service) handleRenameCategory(w http.ResponseWriter, r *http.Request) {
	var body labelBody
	if !decodeBody(w, r, &body) {
		return
	}
	cat, err := s.store.RenameCategory(r.Context(), chi.URLParam(r, "id"), body.Label)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cat)
}

func (s *Service) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteCategory(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleMoveCategory(w http.ResponseWriter, r *http.Request) {
	var body moveBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Index == nil {
		writeError(w, http.StatusBadRequest, errors.New("index required"))
		return
	}
	cats, err := s.store.MoveCategory(r.Context(), chi.URLParam(r, "id"), *body.Index)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cats)
}

func (s *Service) handleResetCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.store.ResetCategories(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cats)
}

// --- blocks ---

func (s *Service) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	s.serveEndpoint(w, r, s.search, &searchRequest{
		Query: r.URL.Query().Get("q"),
		Limit: queryInt(r, "limit", 0),
	})
}

func (s *Service) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	s.serveEndpoint(w, r, s.lookup, &lookupRequest{Username: chi.URLParam(r, "username")})
}

func (s *Service) handleUpdateBlock(w http.ResponseWriter, r *http.Request) {
	var patch annotationPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	ctx := r.Context()
	username := chi.URLParam(r, "username")
	rec, err := s.store.Block(ctx, username)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	categories, reason := rec.Categories, rec.Reason
	if patch.Categories != nil {
		labels, err := s.store.Labels(ctx)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		for _, id := range *patch.Categories {
			if _, ok := labels[id]; !ok {
				s.fail(w, r, fmt.Errorf("%w: %q", ErrUnknownCategory, id))
				return
			}
		}
		categories = *patch.Categories
	}
	if patch.Reason != nil {
		reason = *patch.Reason
	}

	updated, err := s.store.UpdateAnnotation(ctx, username, categories, reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Service) handleDeleteBlock(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteBlock(r.Context(), chi.URLParam(r, "username")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- whole store ---

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	s.serveEndpoint(w, r, s.stats, &emptyRequest{})
}

func (s *Service) handleExport(w http.ResponseWriter, r *http.Request) {
	dump, err := s.store.Export(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="blockreasons.json"`)
	writeJSON(w, http.StatusOK, dump)
}

func (s *Service) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := safety.LimitedReadAll(r.Body, safety.MaxBody)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.Import(r.Context(), data); err != nil {
		s.fail(w, r, err)
		return
	}
	st, err := s.store.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// --- helpers ---

func (s *Service) serveEndpoint(w http.ResponseWriter, r *http.Request, e kit.Endpoint, req any) {
	resp, err := e(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("admin: request failed", "path", r.URL.Path, "request_id", kit.CallerFrom(r.Context()).RequestID, "error", err)
	}
	writeError(w, code, err)
}

func statusFor(err error) int {
	var tooBig *http.MaxBytesError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateCategory), errors.Is(err, store.ErrLastCategory):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidLabel), errors.Is(err, store.ErrInvalidDump), errors.Is(err, ErrUnknownCategory):
		return http.StatusBadRequest
	case errors.Is(err, safety.ErrTooLarge), errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
		} else {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		}
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dunamismax/variantforge/internal/domain"
	"github.com/dunamismax/variantforge/internal/store"
)

var errNoExporter = errors.New("no export target is configured")

func (s *Server) listQuery(r *http.Request) (store.ListQuery, error) {
	q := r.URL.Query()
	key, ok := store.ParseSortKey(q.Get("sort"))
	if !ok {
		return store.ListQuery{}, fmt.Errorf("unknown sort key %q", q.Get("sort"))
	}

	var descending bool
	switch strings.ToLower(q.Get("dir")) {
	case "", "asc":
	case "desc":
		descending = true
	default:
		return store.ListQuery{}, fmt.Errorf("unknown sort direction %q", q.Get("dir"))
	}

	return store.ListQuery{
		Filter:       q.Get("filter"),
		Sort:         key,
		Descending:   descending,
		VariantOrder: s.variants.Order(),
	}, nil
}

func (s *Server) handleListOutputs(w http.ResponseWriter, r *http.Request) {
	query, err := s.listQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.registry.List(query))
}

func (s *Server) handleOutputPayload(thumbnail bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		outputID := chi.URLParam(r, "id")
		out, ok := s.registry.Get(outputID)
		if !ok {
			s.writeError(w, domain.OutputNotFound(outputID))
			return
		}

		payload := out.Full
		if thumbnail {
			payload = out.Thumbnail
		}
		w.Header().Set("Content-Type", payload.ContentType)
		w.Header().Set("Content-Length", fmt.Sprint(len(payload.Data)))
		if !thumbnail {
			w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", out.Filename))
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload.Data)
	}
}

// handleRegenerateOutput rebuilds one output with per-image overrides
// layered over the ones it was generated with.
func (s *Server) handleRegenerateOutput(w http.ResponseWriter, r *http.Request) {
	var overrides domain.Overrides
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &overrides); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}

	res, err := s.runner.Regenerate(r.Context(), chi.URLParam(r, "id"), overrides)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Image)
}

// handleExportOutputs writes every listed output to the export target. The
// same filter and sort parameters as the listing apply.
func (s *Server) handleExportOutputs(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": errNoExporter.Error()})
		return
	}
	query, err := s.listQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	written, err := s.exporter.Export(r.Context(), s.registry.List(query))
	body := map[string]any{"exported": written}
	status := http.StatusOK
	if err != nil {
		body["error"] = err.Error()
		status = http.StatusMultiStatus
		if len(written) == 0 {
			status = http.StatusBadGateway
		}
	}
	writeJSON(w, status, body)
}

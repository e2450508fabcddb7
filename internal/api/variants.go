package api

import (
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dunamismax/variantforge/internal/domain"
	"github.com/dunamismax/variantforge/internal/id"
	"github.com/dunamismax/variantforge/internal/validate"
)

const maxVariantDocumentBytes = 4 << 20

func (s *Server) handleListVariants(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.variants.List())
}

func (s *Server) handleCreateVariant(w http.ResponseWriter, r *http.Request) {
	v := s.variants.Create(id.New())
	s.persist(r.Context())
	s.logger.Info("variant created", zap.String("variant_id", v.ID), zap.String("name", v.Name))
	writeJSON(w, http.StatusCreated, v)
}

// handleReplaceVariant overwrites one variant as a whole record. Fields
// missing from the body keep their current value. Outputs of the variant are
// rebuilt for every input and replace the ones already stored.
func (s *Server) handleReplaceVariant(w http.ResponseWriter, r *http.Request) {
	variantID := chi.URLParam(r, "id")
	current, ok := s.variants.Get(variantID)
	if !ok {
		s.writeError(w, domain.VariantNotFound(variantID))
		return
	}

	next := current.Clone()
	if err := decodeJSON(r, &next); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	next.ID = current.ID

	candidate := s.variants.List()
	position := slices.IndexFunc(candidate, func(v domain.Variant) bool { return v.ID == variantID })
	if position < 0 {
		s.writeError(w, domain.VariantNotFound(variantID))
		return
	}
	next.Index = position
	candidate[position] = next
	if err := validate.Validate(candidate); err != nil {
		s.writeError(w, err)
		return
	}
	if err := validate.ValidateSemantics(candidate); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.variants.Replace(next); err != nil {
		s.writeError(w, err)
		return
	}
	s.persist(r.Context())

	report := s.runner.Refresh(r.Context(), s.inputIDs(), variantID)
	s.logger.Info("variant replaced",
		zap.String("variant_id", variantID),
		zap.Int("outputs_generated", len(report.Generated)),
		zap.Int("failures", len(report.Failures)),
	)

	writeJSON(w, http.StatusOK, map[string]any{
		"variant": next,
		"batch":   newBatchView(report),
	})
}

func (s *Server) handleDeleteVariant(w http.ResponseWriter, r *http.Request) {
	variantID := chi.URLParam(r, "id")
	if err := s.variants.Delete(variantID); err != nil {
		s.writeError(w, err)
		return
	}
	removed := s.registry.RemoveByVariant(variantID)
	s.persist(r.Context())
	s.logger.Info("variant deleted", zap.String("variant_id", variantID), zap.Int("outputs_dropped", removed))
	w.WriteHeader(http.StatusNoContent)
}

type moveRequest struct {
	Index int `json:"index"`
}

func (s *Server) handleMoveVariant(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.variants.Move(chi.URLParam(r, "id"), req.Index); err != nil {
		s.writeError(w, err)
		return
	}
	s.persist(r.Context())
	writeJSON(w, http.StatusOK, s.variants.List())
}

// handleImportVariants replaces the whole variant set. A rejected document
// leaves the current set and its outputs untouched.
func (s *Server) handleImportVariants(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxVariantDocumentBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("read body: %v", err)})
		return
	}
	if len(data) > maxVariantDocumentBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "variant document is too large"})
		return
	}

	variants, err := validate.Import(data)
	if err != nil {
		s.writeError(w, err)
		return
	}

	previous := s.variants.List()
	s.variants.ReplaceAll(variants)
	dropped := 0
	for _, v := range previous {
		dropped += s.registry.RemoveByVariant(v.ID)
	}
	s.persist(r.Context())

	report := s.runner.Run(r.Context(), s.inputIDs())
	s.logger.Info("variants imported",
		zap.Int("variants", len(variants)),
		zap.Int("outputs_dropped", dropped),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"variants": s.variants.List(),
		"batch":    newBatchView(report),
	})
}

func (s *Server) handleExportVariants(w http.ResponseWriter, _ *http.Request) {
	data, err := validate.Export(s.variants.List())
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="variants.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) inputIDs() []string {
	inputs := s.inputs.List()
	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		ids = append(ids, in.ID)
	}
	return ids
}

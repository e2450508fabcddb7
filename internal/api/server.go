package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dunamismax/variantforge/internal/batch"
	"github.com/dunamismax/variantforge/internal/domain"
	"github.com/dunamismax/variantforge/internal/export"
	"github.com/dunamismax/variantforge/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// VariantRepository persists the variant set after every change.
type VariantRepository interface {
	Save(ctx context.Context, variants []domain.Variant) error
}

type Deps struct {
	Variants *store.VariantStore
	Inputs   *store.InputStore
	Registry *store.OutputRegistry
	Runner   *batch.Runner
	// Exporter and Repository are optional.
	Exporter   *export.Exporter
	Repository VariantRepository
	// MaxUploadBytes bounds one multipart upload request.
	MaxUploadBytes int64
}

type Server struct {
	logger         *zap.Logger
	variants       *store.VariantStore
	inputs         *store.InputStore
	registry       *store.OutputRegistry
	runner         *batch.Runner
	exporter       *export.Exporter
	repo           VariantRepository
	maxUploadBytes int64
	metrics        *metrics
	tracer         trace.Tracer
	router         chi.Router
}

func NewServer(logger *zap.Logger, deps Deps) (*Server, error) {
	if deps.Variants == nil || deps.Inputs == nil || deps.Registry == nil || deps.Runner == nil {
		return nil, errors.New("variant store, input store, registry and runner are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 64 << 20
	}

	s := &Server{
		logger:         logger,
		variants:       deps.Variants,
		inputs:         deps.Inputs,
		registry:       deps.Registry,
		runner:         deps.Runner,
		exporter:       deps.Exporter,
		repo:           deps.Repository,
		maxUploadBytes: deps.MaxUploadBytes,
		metrics:        newMetrics(),
		tracer:         otel.Tracer("variantforge/api"),
	}
	s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	r.Use(s.withTracing, s.metrics.withHTTPMetrics)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", s.metrics.metricsHandler(s.runner.Gatherer()))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/variants", func(r chi.Router) {
			r.Get("/", s.handleListVariants)
			r.Post("/", s.handleCreateVariant)
			r.Post("/import", s.handleImportVariants)
			r.Get("/export", s.handleExportVariants)
			r.Put("/{id}", s.handleReplaceVariant)
			r.Delete("/{id}", s.handleDeleteVariant)
			r.Post("/{id}/move", s.handleMoveVariant)
		})
		r.Route("/inputs", func(r chi.Router) {
			r.Get("/", s.handleListInputs)
			r.Post("/", s.handleUploadInputs)
			r.Delete("/{id}", s.handleDeleteInput)
		})
		r.Route("/outputs", func(r chi.Router) {
			r.Get("/", s.handleListOutputs)
			r.Post("/export", s.handleExportOutputs)
			r.Get("/{id}/full", s.handleOutputPayload(false))
			r.Get("/{id}/thumbnail", s.handleOutputPayload(true))
			r.Post("/{id}/regenerate", s.handleRegenerateOutput)
		})
	})

	s.router = r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// persist saves the variant set when a repository is configured. A failed
// save is logged; the in-memory set stays authoritative for the session.
func (s *Server) persist(ctx context.Context) {
	if s.repo == nil {
		return
	}
	if err := s.repo.Save(ctx, s.variants.List()); err != nil {
		s.logger.Error("persist variants failed", zap.Error(err))
	}
}

type failureView struct {
	InputID   string `json:"input_id"`
	VariantID string `json:"variant_id"`
	Status    int    `json:"status"`
	Error     string `json:"error"`
}

type batchView struct {
	Generated []domain.OutputImage `json:"generated"`
	Skipped   int                  `json:"skipped"`
	Failures  []failureView        `json:"failures"`
}

func newBatchView(report batch.Report) batchView {
	view := batchView{
		Generated: report.Generated,
		Skipped:   report.Skipped,
		Failures:  make([]failureView, 0, len(report.Failures)),
	}
	if view.Generated == nil {
		view.Generated = []domain.OutputImage{}
	}
	for _, f := range report.Failures {
		status, _ := errorStatus(f.Err)
		view.Failures = append(view.Failures, failureView{
			InputID:   f.InputID,
			VariantID: f.VariantID,
			Status:    status,
			Error:     f.Err.Error(),
		})
	}
	return view
}

// errorStatus maps the error taxonomy onto HTTP statuses.
func errorStatus(err error) (int, string) {
	var (
		validationErr *domain.ValidationError
		decodeErr     *domain.DecodeError
		transformErr  *domain.TransformError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "invalid_variant"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &decodeErr):
		return http.StatusUnprocessableEntity, "decode_failed"
	case errors.As(err, &transformErr):
		return http.StatusInternalServerError, "transform_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	body := map[string]any{"error": err.Error(), "code": code}

	var verrs domain.ValidationErrors
	if errors.As(err, &verrs) {
		details := make([]map[string]any, 0, len(verrs))
		for _, v := range verrs {
			details = append(details, map[string]any{
				"position": v.Position,
				"field":    v.Field,
				"message":  v.Message,
			})
		}
		body["details"] = details
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, body)
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/h2non/filetype"
	"go.uber.org/zap"

	"github.com/dunamismax/variantforge/internal/domain"
	"github.com/dunamismax/variantforge/internal/id"
	"github.com/dunamismax/variantforge/internal/pipeline"
)

// uploadField is the multipart field carrying input images. It may repeat.
const uploadField = "file"

type inputView struct {
	ID       string `json:"id"`
	Index    int    `json:"index"`
	Filename string `json:"filename"`
	Size     int    `json:"size"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

func newInputView(index int, in domain.InputImage) inputView {
	return inputView{
		ID:       in.ID,
		Index:    index,
		Filename: in.Filename,
		Size:     in.Size(),
		Width:    in.Width,
		Height:   in.Height,
	}
}

func (s *Server) handleListInputs(w http.ResponseWriter, _ *http.Request) {
	inputs := s.inputs.List()
	views := make([]inputView, 0, len(inputs))
	for i, in := range inputs {
		views = append(views, newInputView(i, in))
	}
	writeJSON(w, http.StatusOK, views)
}

// handleUploadInputs accepts one or more images and runs every variant over
// them before answering.
func (s *Server) handleUploadInputs(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.metrics.uploadsRejected.WithLabelValues(statusLabel(http.StatusRequestEntityTooLarge)).Inc()
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "upload exceeds size limit"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid multipart form: %v", err)})
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	headers := r.MultipartForm.File[uploadField]
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "at least one file is required in field " + uploadField})
		return
	}

	images := make([]domain.InputImage, 0, len(headers))
	for _, fh := range headers {
		img, status, err := readUpload(fh)
		if err != nil {
			s.metrics.uploadsRejected.WithLabelValues(statusLabel(status)).Inc()
			writeJSON(w, status, map[string]string{"error": err.Error(), "filename": fh.Filename})
			return
		}
		images = append(images, img)
	}

	added := make([]inputView, 0, len(images))
	ids := make([]string, 0, len(images))
	for _, img := range images {
		index, err := s.inputs.Add(img)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.metrics.uploadedBytes.Add(float64(img.Size()))
		added = append(added, newInputView(index, img))
		ids = append(ids, img.ID)
	}

	report := s.runner.Run(r.Context(), ids)
	s.logger.Info("inputs uploaded",
		zap.Int("inputs", len(added)),
		zap.Int("outputs_generated", len(report.Generated)),
		zap.Int("failures", len(report.Failures)),
	)
	writeJSON(w, http.StatusCreated, map[string]any{
		"inputs": added,
		"batch":  newBatchView(report),
	})
}

// readUpload loads one multipart file, rejecting anything that is not an
// image by its magic bytes.
func readUpload(fh *multipart.FileHeader) (domain.InputImage, int, error) {
	f, err := fh.Open()
	if err != nil {
		return domain.InputImage{}, http.StatusBadRequest, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return domain.InputImage{}, http.StatusBadRequest, fmt.Errorf("read upload: %w", err)
	}
	if !filetype.IsImage(data) {
		return domain.InputImage{}, http.StatusUnsupportedMediaType, fmt.Errorf("%s is not an image", fh.Filename)
	}

	name := filepath.Base(fh.Filename)
	info, err := pipeline.Probe(data)
	if err != nil {
		derr := &domain.DecodeError{Filename: name, Err: err}
		return domain.InputImage{}, http.StatusUnprocessableEntity, derr
	}

	return domain.InputImage{
		ID:       id.New(),
		Filename: name,
		Data:     data,
		Width:    info.Width,
		Height:   info.Height,
	}, http.StatusCreated, nil
}

func (s *Server) handleDeleteInput(w http.ResponseWriter, r *http.Request) {
	inputID := chi.URLParam(r, "id")
	if err := s.inputs.Remove(inputID); err != nil {
		s.writeError(w, err)
		return
	}
	removed := s.registry.RemoveByInput(inputID)
	s.logger.Info("input removed", zap.String("input_id", inputID), zap.Int("outputs_dropped", removed))
	w.WriteHeader(http.StatusNoContent)
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/deception-api/internal/explain"
	"github.com/Brownie44l1/deception-api/internal/model"
)

// FeatureExtractor turns an audio file into the audio model's input vector.
type FeatureExtractor interface {
	ExtractFile(path string) ([]float64, error)
}

// Options tunes request handling.
type Options struct {
	ScratchDir     string        // uploaded audio is written here during extraction
	MaxUploadBytes int64         // request body limit for uploads and JSON
	ExplainTimeout time.Duration // upper bound on one explanation call
	CORSOrigin     string        // also checked against WebSocket Origin headers
}

type Handler struct {
	models    *model.Set
	extractor FeatureExtractor
	explainer explain.Explainer // nil when no provider is configured
	opts      Options
}

// NewHandler wires the loaded models and backends into HTTP handlers. models
// must not be modified once the server starts.
func NewHandler(models *model.Set, extractor FeatureExtractor, explainer explain.Explainer, opts Options) *Handler {
	if models == nil {
		models = &model.Set{}
	}
	if opts.ScratchDir == "" {
		opts.ScratchDir = os.TempDir()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	if opts.ExplainTimeout <= 0 {
		opts.ExplainTimeout = 60 * time.Second
	}
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	return &Handler{
		models:    models,
		extractor: extractor,
		explainer: explainer,
		opts:      opts,
	}
}

type predictionResponse struct {
	Prediction    model.Label             `json:"prediction"`
	Confidence    float64                 `json:"confidence"`
	Probabilities map[model.Label]float64 `json:"probabilities,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "Backend active"})
}

// AudioPredict classifies an uploaded recording sent as multipart field
// "file".
func (h *Handler) AudioPredict(w http.ResponseWriter, r *http.Request) {
	if h.models.Audio == nil {
		h.writeError(w, r, unavailable("Audio model not loaded"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.opts.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, badRequest("Uploaded file is too large"))
			return
		}
		h.writeError(w, r, badRequest("No file uploaded"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, badRequest("No file uploaded"))
		return
	}
	defer file.Close()

	log.Ctx(r.Context()).Debug().
		Str("filename", header.Filename).
		Int64("size", header.Size).
		Msg("received audio upload")

	features, err := h.extractUpload(file)
	if err != nil {
		h.writeError(w, r, internal("Audio prediction failed", err))
		return
	}

	res, err := model.Evaluate(h.models.Audio, features)
	if err != nil {
		h.writeError(w, r, internal("Audio prediction failed", err))
		return
	}
	writeJSON(w, http.StatusOK, predictionResponse{
		Prediction: res.Label(),
		Confidence: res.Confidence(),
	})
}

// extractUpload copies the upload to a scratch file, which is removed before
// returning, and extracts its features.
func (h *Handler) extractUpload(src io.Reader) ([]float64, error) {
	tmp, err := os.CreateTemp(h.opts.ScratchDir, "upload-*.audio")
	if err != nil {
		return nil, err
	}
	path := tmp.Name()
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", path).Msg("failed to remove upload")
		}
	}()

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	return h.extractor.ExtractFile(path)
}

type textRequest struct {
	Text *string `json:"text"`
}

// Predict classifies the "text" field of a JSON body.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if h.models.Text == nil {
		h.writeError(w, r, unavailable("Text model not loaded"))
		return
	}

	var req textRequest
	if e := h.decodeJSON(w, r, &req); e != nil {
		h.writeError(w, r, e)
		return
	}
	if req.Text == nil {
		h.writeError(w, r, badRequest("No text provided"))
		return
	}

	res, err := model.Evaluate(h.models.Text, *req.Text)
	if err != nil {
		h.writeError(w, r, internal("Text prediction failed", err))
		return
	}
	writeJSON(w, http.StatusOK, predictionResponse{
		Prediction:    res.Label(),
		Confidence:    res.MaxProbability(),
		Probabilities: res.ByLabel(),
	})
}

type explainRequest struct {
	Transcript *string `json:"transcript"`
}

type explainResponse struct {
	Explanation string `json:"explanation"`
}

// Explain forwards the "transcript" field to the explanation backend.
func (h *Handler) Explain(w http.ResponseWriter, r *http.Request) {
	var req explainRequest
	if e := h.decodeJSON(w, r, &req); e != nil {
		h.writeError(w, r, e)
		return
	}
	if req.Transcript == nil {
		h.writeError(w, r, badRequest("No transcript provided"))
		return
	}
	if h.explainer == nil {
		h.writeError(w, r, unavailable("Explanation service not configured"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.ExplainTimeout)
	defer cancel()
	text, err := h.explainer.Explain(ctx, *req.Transcript)
	if err != nil {
		h.writeError(w, r, internal("Explanation failed", err))
		return
	}
	writeJSON(w, http.StatusOK, explainResponse{Explanation: text})
}

func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) *Error {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	// An empty body decodes as an empty object so the missing field is
	// reported instead.
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest("Invalid JSON body")
	}
	return nil
}

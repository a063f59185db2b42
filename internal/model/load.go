package model

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/deception-api/internal/modelstore"
)

// ErrUnsupportedArtifact is returned for model files with an unknown extension.
var ErrUnsupportedArtifact = errors.New("model: unsupported artifact format")

// LoadAudio loads an audio classifier from an .onnx or .json artifact.
func LoadAudio(path, onnxLib string) (AudioClassifier, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".onnx":
		if err := InitONNX(onnxLib); err != nil {
			return nil, err
		}
		c, err := NewONNXClassifier(path)
		if err != nil {
			return nil, err
		}
		return c, nil
	case ".json":
		return LoadLinearVector(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedArtifact, path)
	}
}

// LoadText loads a text classifier from a .json artifact.
func LoadText(path string) (TextClassifier, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return LoadLinearText(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedArtifact, path)
	}
}

// Set holds the process-wide predictor handles. It is populated once before
// the server accepts requests and only read afterwards. A nil handle means
// the model failed to load.
type Set struct {
	Audio AudioClassifier
	Text  TextClassifier
}

// Ensurer resolves an artifact to a local file.
type Ensurer interface {
	Ensure(ctx context.Context, a modelstore.Artifact) (string, error)
}

// LoadSet fetches and loads both models. A failure leaves only the affected
// handle nil and is logged; it never aborts the other model.
func LoadSet(ctx context.Context, store Ensurer, audio, text modelstore.Artifact, onnxLib string) *Set {
	s := &Set{}

	if path, err := store.Ensure(ctx, audio); err != nil {
		log.Error().Err(err).Str("model", audio.Name).Msg("failed to fetch model")
	} else if c, err := LoadAudio(path, onnxLib); err != nil {
		log.Error().Err(err).Str("model", audio.Name).Str("path", path).Msg("failed to load model")
	} else {
		s.Audio = c
		log.Info().Str("model", audio.Name).Str("path", path).Msg("model loaded")
	}

	if path, err := store.Ensure(ctx, text); err != nil {
		log.Error().Err(err).Str("model", text.Name).Msg("failed to fetch model")
	} else if c, err := LoadText(path); err != nil {
		log.Error().Err(err).Str("model", text.Name).Str("path", path).Msg("failed to load model")
	} else {
		s.Text = c
		log.Info().Str("model", text.Name).Str("path", path).Msg("model loaded")
	}
	return s
}

// Close releases both handles.
func (s *Set) Close() {
	if s.Audio != nil {
		if err := s.Audio.Close(); err != nil {
			log.Warn().Err(err).Msg("close audio model")
		}
	}
	if s.Text != nil {
		if err := s.Text.Close(); err != nil {
			log.Warn().Err(err).Msg("close text model")
		}
	}
}

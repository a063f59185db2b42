// Package audio turns uploaded recordings into the fixed-length feature
// vector the audio classifier expects: the mean of 13 MFCCs over a 16 kHz
// mono, peak-normalized waveform.
package audio

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// NumFeatures is the length of the vector returned by Extractor.
const NumFeatures = 13

// Extractor computes mean MFCC vectors. It is safe for concurrent use.
type Extractor struct {
	sampleRate int
	minSamples int
	mfcc       *MFCC
}

// NewExtractor returns an Extractor with the default MFCC parameters.
func NewExtractor() *Extractor {
	cfg := DefaultMFCCConfig()
	return &Extractor{
		sampleRate: cfg.SampleRate,
		minSamples: cfg.FFTSize,
		mfcc:       NewMFCC(cfg),
	}
}

// ExtractFile decodes the audio file at path and returns its feature vector.
func (e *Extractor) ExtractFile(path string) ([]float64, error) {
	clip, err := DecodeFile(path)
	if err != nil {
		return nil, err
	}
	return e.Extract(clip)
}

// Extract resamples clip to 16 kHz, normalizes its peak to 1, pads it by
// reflection to at least one FFT window and returns the mean MFCC vector.
func (e *Extractor) Extract(clip Clip) ([]float64, error) {
	if len(clip.Samples) == 0 {
		return nil, ErrEmptyAudio
	}
	y, err := Resample(clip.Samples, clip.SampleRate, e.sampleRate)
	if err != nil {
		return nil, err
	}
	Normalize(y)
	y, err = PadReflect(y, e.minSamples)
	if err != nil {
		return nil, err
	}

	vec := e.mfcc.Mean(y)
	for i, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("audio: feature %d is not finite", i)
		}
	}
	return vec, nil
}

// Normalize scales y in place so its largest absolute sample is 1. Silent
// input is left unchanged.
func Normalize(y []float64) {
	if len(y) == 0 {
		return
	}
	peak := floats.Norm(y, math.Inf(1))
	if peak > 0 {
		floats.Scale(1/peak, y)
	}
}

// PadReflect extends y at the end to length n by mirroring it without
// repeating the edge sample, like numpy.pad(mode="reflect"). Signals of at
// least n samples are returned unchanged.
func PadReflect(y []float64, n int) ([]float64, error) {
	if len(y) >= n {
		return y, nil
	}
	if len(y) == 0 {
		return nil, ErrEmptyAudio
	}
	out := make([]float64, n)
	copy(out, y)
	if len(y) == 1 {
		for i := range out {
			out[i] = y[0]
		}
		return out, nil
	}
	period := 2 * (len(y) - 1)
	for i := len(y); i < n; i++ {
		k := i % period
		if k >= len(y) {
			k = period - k
		}
		out[i] = y[k]
	}
	return out, nil
}

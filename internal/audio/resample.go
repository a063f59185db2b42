package audio

import (
	"fmt"
	"math"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"
	"gonum.org/v1/gonum/floats"
)

// delays caches the measured filter delay in output samples, keyed by
// [from, to].
var delays sync.Map

// Resample converts mono samples from one rate to another. The output has
// exactly ceil(len(samples) * to / from) samples and is aligned with the
// input: a sample at time t in the input lands at time t in the output.
func Resample(samples []float64, from, to int) ([]float64, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("resample: invalid rates %d -> %d", from, to)
	}
	if from == to || len(samples) == 0 {
		return append([]float64(nil), samples...), nil
	}

	delay, err := filterDelay(from, to)
	if err != nil {
		return nil, err
	}
	out, err := resample(samples, from, to)
	if err != nil {
		return nil, err
	}

	want := int(math.Ceil(float64(len(samples)) * float64(to) / float64(from)))
	aligned := make([]float64, want)
	if delay < len(out) {
		copy(aligned, out[delay:])
	}
	return aligned, nil
}

// filterDelay returns how many output samples the filter lags the input.
// The library's reported latency is only an estimate, so the delay is
// measured once per rate pair by placing an impulse one second in.
func filterDelay(from, to int) (int, error) {
	key := [2]int{from, to}
	if d, ok := delays.Load(key); ok {
		return d.(int), nil
	}
	impulse := make([]float64, 2*from)
	impulse[from] = 1
	out, err := resample(impulse, from, to)
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("resample: no output for %d -> %d", from, to)
	}
	delay := max(floats.MaxIdx(out)-to, 0)
	delays.Store(key, delay)
	return delay, nil
}

// resample runs samples through a fresh high quality resampler, followed by
// a silent tail long enough to push out what the filter holds back.
func resample(samples []float64, from, to int) ([]float64, error) {
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	tail := max(from/10, 1024)
	input := make([]float64, len(samples)+tail)
	copy(input, samples)

	out, err := r.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}
	rest, err := r.Flush()
	if err != nil {
		return nil, fmt.Errorf("resample flush: %w", err)
	}
	return append(out, rest...), nil
}

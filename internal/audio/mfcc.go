package audio

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// MFCCConfig controls cepstral feature extraction. The defaults reproduce
// librosa.feature.mfcc with its default arguments.
type MFCCConfig struct {
	SampleRate int     // Hz
	FFTSize    int     // also the window length
	HopSize    int     // samples between frame centers
	NumMels    int     // mel bands
	NumCoeffs  int     // cepstral coefficients kept
	TopDB      float64 // dynamic range kept by the dB conversion; 0 disables
}

// DefaultMFCCConfig returns the parameters the audio classifier was trained
// with.
func DefaultMFCCConfig() MFCCConfig {
	return MFCCConfig{
		SampleRate: 16000,
		FFTSize:    2048,
		HopSize:    512,
		NumMels:    128,
		NumCoeffs:  13,
		TopDB:      80,
	}
}

const amin = 1e-10

// MFCC computes mel-frequency cepstral coefficients. It is safe for
// concurrent use.
type MFCC struct {
	cfg     MFCCConfig
	window  []float64
	melBank [][]float64 // [NumMels][FFTSize/2+1]
	dct     [][]float64 // [NumCoeffs][NumMels]
	ffts    sync.Pool   // *fourier.FFT, which keeps scratch space
}

// NewMFCC precomputes the window, filterbank and DCT basis for cfg.
func NewMFCC(cfg MFCCConfig) *MFCC {
	m := &MFCC{
		cfg:     cfg,
		window:  hannWindow(cfg.FFTSize),
		melBank: melFilterBank(cfg.NumMels, cfg.FFTSize, cfg.SampleRate),
		dct:     dctBasis(cfg.NumCoeffs, cfg.NumMels),
	}
	m.ffts.New = func() any { return fourier.NewFFT(cfg.FFTSize) }
	return m
}

// Compute returns the coefficients of every frame as [frames][NumCoeffs].
// Frames are centered: the signal is zero-padded by FFTSize/2 on each side,
// giving len(samples)/HopSize + 1 frames.
func (m *MFCC) Compute(samples []float64) [][]float64 {
	cfg := m.cfg
	logMel := m.logMelSpectrogram(samples)

	out := make([][]float64, len(logMel))
	for t, bands := range logMel {
		coeffs := make([]float64, cfg.NumCoeffs)
		for k, basis := range m.dct {
			coeffs[k] = floats.Dot(basis, bands)
		}
		out[t] = coeffs
	}
	return out
}

// Mean returns the per-coefficient average over all frames.
func (m *MFCC) Mean(samples []float64) []float64 {
	frames := m.Compute(samples)
	mean := make([]float64, m.cfg.NumCoeffs)
	if len(frames) == 0 {
		return mean
	}
	for _, f := range frames {
		floats.Add(mean, f)
	}
	floats.Scale(1/float64(len(frames)), mean)
	return mean
}

// logMelSpectrogram returns the power mel spectrogram in dB, [frames][NumMels].
func (m *MFCC) logMelSpectrogram(samples []float64) [][]float64 {
	cfg := m.cfg
	nfft := cfg.FFTSize
	half := nfft / 2
	numFrames := len(samples)/cfg.HopSize + 1

	fft := m.ffts.Get().(*fourier.FFT)
	defer m.ffts.Put(fft)

	frame := make([]float64, nfft)
	power := make([]float64, half+1)
	var coeffs []complex128

	melSpec := make([][]float64, numFrames)
	maxDB := math.Inf(-1)
	for t := range melSpec {
		start := t*cfg.HopSize - half
		for i := range frame {
			j := start + i
			if j >= 0 && j < len(samples) {
				frame[i] = samples[j] * m.window[i]
			} else {
				frame[i] = 0
			}
		}

		coeffs = fft.Coefficients(coeffs, frame)
		for k := range power {
			re, im := real(coeffs[k]), imag(coeffs[k])
			power[k] = re*re + im*im
		}

		bands := make([]float64, cfg.NumMels)
		for b, filter := range m.melBank {
			db := 10 * math.Log10(math.Max(amin, floats.Dot(filter, power)))
			bands[b] = db
			if db > maxDB {
				maxDB = db
			}
		}
		melSpec[t] = bands
	}

	if cfg.TopDB > 0 {
		floor := maxDB - cfg.TopDB
		for _, bands := range melSpec {
			for b, v := range bands {
				if v < floor {
					bands[b] = floor
				}
			}
		}
	}
	return melSpec
}

// hannWindow returns a periodic Hann window of length n.
func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// Slaney mel scale: linear below 1 kHz, logarithmic above.
const (
	melFSP       = 200.0 / 3
	melMinLogHz  = 1000.0
	melMinLogMel = melMinLogHz / melFSP
)

var melLogStep = math.Log(6.4) / 27

func hzToMel(hz float64) float64 {
	if hz >= melMinLogHz {
		return melMinLogMel + math.Log(hz/melMinLogHz)/melLogStep
	}
	return hz / melFSP
}

func melToHz(mel float64) float64 {
	if mel >= melMinLogMel {
		return melMinLogHz * math.Exp(melLogStep*(mel-melMinLogMel))
	}
	return melFSP * mel
}

// melFilterBank builds numMels triangular filters spanning 0 Hz to Nyquist,
// each normalized to unit area (Slaney normalization).
func melFilterBank(numMels, fftSize, sampleRate int) [][]float64 {
	numBins := fftSize/2 + 1
	fftFreqs := make([]float64, numBins)
	floats.Span(fftFreqs, 0, float64(sampleRate)/2)

	melPoints := make([]float64, numMels+2)
	floats.Span(melPoints, hzToMel(0), hzToMel(float64(sampleRate)/2))
	hzPoints := make([]float64, len(melPoints))
	for i, mel := range melPoints {
		hzPoints[i] = melToHz(mel)
	}

	bank := make([][]float64, numMels)
	for i := range bank {
		lo, center, hi := hzPoints[i], hzPoints[i+1], hzPoints[i+2]
		enorm := 2 / (hi - lo)
		filter := make([]float64, numBins)
		for k, f := range fftFreqs {
			lower := (f - lo) / (center - lo)
			upper := (hi - f) / (hi - center)
			filter[k] = math.Max(0, math.Min(lower, upper)) * enorm
		}
		bank[i] = filter
	}
	return bank
}

// dctBasis returns the first numCoeffs rows of the orthonormal DCT-II matrix
// of size n.
func dctBasis(numCoeffs, n int) [][]float64 {
	basis := make([][]float64, numCoeffs)
	for k := range basis {
		scale := math.Sqrt(2 / float64(n))
		if k == 0 {
			scale = math.Sqrt(1 / float64(n))
		}
		row := make([]float64, n)
		for i := range row {
			row[i] = scale * math.Cos(math.Pi*float64(k)*(2*float64(i)+1)/(2*float64(n)))
		}
		basis[k] = row
	}
	return basis
}

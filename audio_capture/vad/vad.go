// Package vad measures voice activity as spectral flux: the positive change of the magnitude
// spectrum between consecutive frames. Speech onsets produce large flux, steady noise little.
package vad

import (
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

const DefaultFrameSize = 512

type VAD struct {
	size     int
	previous []float64
}

func New(size int) *VAD {
	if size <= 0 {
		size = DefaultFrameSize
	}

	return &VAD{
		size: size,
	}
}

// Flux returns the spectral flux of frame against the previous call. The first call only
// primes the detector and returns 0.
func (v *VAD) Flux(frame []float64) float64 {
	buf := make([]float64, v.size)
	copy(buf, frame)
	window.Apply(buf, window.Hann)

	spectrum := fft.FFTReal(buf)
	bins := len(spectrum)/2 + 1

	magnitudes := make([]float64, bins)
	for i := 0; i < bins; i++ {
		magnitudes[i] = cmplx.Abs(spectrum[i])
	}

	if v.previous == nil {
		v.previous = magnitudes
		return 0
	}

	flux := 0.0
	for i, m := range magnitudes {
		if diff := m - v.previous[i]; diff > 0 {
			flux += diff
		}
	}
	v.previous = magnitudes

	return flux
}

// PeakFlux is the largest frame-to-frame flux over 16-bit samples.
func PeakFlux(samples []int, frameSize int) float64 {
	v := New(frameSize)

	peak := 0.0
	frame := make([]float64, v.size)
	for start := 0; start < len(samples); start += v.size {
		end := min(start+v.size, len(samples))
		for i := range frame {
			frame[i] = 0
		}
		for i, s := range samples[start:end] {
			frame[i] = float64(s) / 32768
		}
		if f := v.Flux(frame); f > peak {
			peak = f
		}
	}

	return peak
}

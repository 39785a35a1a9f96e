package snore

// MFCC front end
//
// The coefficients follow the usual librosa pipeline so that models trained
// on clips prepared elsewhere stay compatible:
//
// 1. Centre the signal by reflect-padding FFTSize/2 samples on both sides
// 2. Slice frames every HopLength samples and apply a periodic Hann window
// 3. Power spectrum of each frame (|X|^2)
// 4. Project onto a Slaney-style mel filterbank with area normalisation
// 5. Convert to decibels relative to 1.0, clipped at TopDB below the peak
// 6. Orthonormal DCT-II over the mel axis, keeping the first coefficients
//
// A clip of n samples yields 1 + n/HopLength frames.

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

const (
	powerFloor = 1e-10

	slaneyFreqStep   = 200.0 / 3
	slaneyMinLogHz   = 1000.0
	slaneyMinLogMel  = slaneyMinLogHz / slaneyFreqStep
	slaneyLogStepDen = 27.0
)

var slaneyLogStep = math.Log(6.4) / slaneyLogStepDen

// melFilter holds one triangular filter, stored only over its non-zero bins.
type melFilter struct {
	start   int
	weights []float64
}

type mfccBank struct {
	fftSize   int
	hop       int
	numCoeffs int
	topDB     float64
	window    []float64
	filters   []melFilter
	dct       [][]float64
}

func newMFCCBank(cfg FeatureConfig) *mfccBank {
	return &mfccBank{
		fftSize:   cfg.FFTSize,
		hop:       cfg.HopLength,
		numCoeffs: cfg.NumCoefficients,
		topDB:     cfg.TopDB,
		window:    hannWindow(cfg.FFTSize),
		filters:   slaneyMelFilters(cfg.SampleRate, cfg.FFTSize, cfg.NumMels),
		dct:       dctBasis(cfg.NumCoefficients, cfg.NumMels),
	}
}

// compute returns numCoeffs rows of len(frames) MFCC values.
func (b *mfccBank) compute(samples []float64) [][]float64 {
	padded := reflectPad(samples, b.fftSize/2)
	frameCount := 1 + (len(padded)-b.fftSize)/b.hop

	// FFT carries work buffers, one per call keeps compute safe for
	// concurrent use.
	fft := fourier.NewFFT(b.fftSize)
	frame := make([]float64, b.fftSize)
	coeffs := make([]complex128, b.fftSize/2+1)
	power := make([]float64, len(coeffs))

	melDB := make([][]float64, frameCount)
	peak := math.Inf(-1)
	for t := 0; t < frameCount; t++ {
		offset := t * b.hop
		for i := range frame {
			frame[i] = padded[offset+i] * b.window[i]
		}
		coeffs = fft.Coefficients(coeffs, frame)
		for k, c := range coeffs {
			re, im := real(c), imag(c)
			power[k] = re*re + im*im
		}

		mel := make([]float64, len(b.filters))
		for m, f := range b.filters {
			energy := floats.Dot(f.weights, power[f.start:f.start+len(f.weights)])
			mel[m] = 10 * math.Log10(math.Max(powerFloor, energy))
		}
		if p := floats.Max(mel); p > peak {
			peak = p
		}
		melDB[t] = mel
	}

	floor := peak - b.topDB
	out := make([][]float64, b.numCoeffs)
	for k := range out {
		out[k] = make([]float64, frameCount)
	}
	for t, mel := range melDB {
		for m := range mel {
			if mel[m] < floor {
				mel[m] = floor
			}
		}
		for k, basis := range b.dct {
			out[k][t] = floats.Dot(basis, mel)
		}
	}
	return out
}

func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// reflectPad mirrors the signal around its edges without repeating the edge
// sample. Signals shorter than the pad keep bouncing between both ends.
func reflectPad(samples []float64, pad int) []float64 {
	n := len(samples)
	out := make([]float64, n+2*pad)
	if n == 1 {
		for i := range out {
			out[i] = samples[0]
		}
		return out
	}
	period := 2 * (n - 1)
	for i := range out {
		idx := (i - pad) % period
		if idx < 0 {
			idx += period
		}
		if idx >= n {
			idx = period - idx
		}
		out[i] = samples[idx]
	}
	return out
}

func hzToMel(hz float64) float64 {
	if hz >= slaneyMinLogHz {
		return slaneyMinLogMel + math.Log(hz/slaneyMinLogHz)/slaneyLogStep
	}
	return hz / slaneyFreqStep
}

func melToHz(mel float64) float64 {
	if mel >= slaneyMinLogMel {
		return slaneyMinLogHz * math.Exp(slaneyLogStep*(mel-slaneyMinLogMel))
	}
	return mel * slaneyFreqStep
}

func slaneyMelFilters(sampleRate, fftSize, numMels int) []melFilter {
	bins := fftSize/2 + 1
	fftFreqs := make([]float64, bins)
	floats.Span(fftFreqs, 0, float64(sampleRate)/2)

	melPoints := make([]float64, numMels+2)
	floats.Span(melPoints, hzToMel(0), hzToMel(float64(sampleRate)/2))
	hzPoints := make([]float64, len(melPoints))
	for i, m := range melPoints {
		hzPoints[i] = melToHz(m)
	}

	filters := make([]melFilter, numMels)
	for m := 0; m < numMels; m++ {
		lower, centre, upper := hzPoints[m], hzPoints[m+1], hzPoints[m+2]
		enorm := 2.0 / (upper - lower)

		full := make([]float64, bins)
		first, last := -1, -1
		for k, f := range fftFreqs {
			up := (f - lower) / (centre - lower)
			down := (upper - f) / (upper - centre)
			w := math.Max(0, math.Min(up, down))
			if w > 0 {
				full[k] = w * enorm
				if first < 0 {
					first = k
				}
				last = k
			}
		}
		if first < 0 {
			// Empty filter, happens when numMels is large relative to fftSize.
			filters[m] = melFilter{}
			continue
		}
		filters[m] = melFilter{start: first, weights: full[first : last+1]}
	}
	return filters
}

// dctBasis builds the orthonormal DCT-II rows for the first numCoeffs outputs.
func dctBasis(numCoeffs, n int) [][]float64 {
	basis := make([][]float64, numCoeffs)
	for k := range basis {
		scale := math.Sqrt(2.0 / float64(n))
		if k == 0 {
			scale = math.Sqrt(1.0 / float64(n))
		}
		row := make([]float64, n)
		for i := range row {
			row[i] = scale * math.Cos(math.Pi*float64(k)*(2*float64(i)+1)/(2*float64(n)))
		}
		basis[k] = row
	}
	return basis
}

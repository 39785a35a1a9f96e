package snore

// Input level telemetry
//
// RMS and a rough SNR estimate are stored with every live detection so a
// night of recordings can be checked for clipping or a dead microphone. They
// never influence the classification itself.

import (
	"math"
	"sort"
)

// RMS returns the root mean square of samples.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSquares float64
	for _, s := range samples {
		sumSquares += s * s
	}
	return math.Sqrt(sumSquares / float64(len(samples)))
}

// EstimateSNR estimates signal-to-noise ratio in dB. The noise floor is the
// 10th percentile of per-block power over blocks of blockSize samples.
func EstimateSNR(samples []float64, blockSize int) float64 {
	if len(samples) == 0 {
		return 0.0
	}
	if blockSize <= 0 || blockSize > len(samples) {
		blockSize = len(samples)
	}

	var powers []float64
	for start := 0; start+blockSize <= len(samples); start += blockSize {
		rms := RMS(samples[start : start+blockSize])
		powers = append(powers, rms*rms)
	}
	sort.Float64s(powers)
	noisePower := powers[len(powers)/10]

	signalPower := RMS(samples)
	signalPower *= signalPower

	if noisePower == 0 {
		if signalPower == 0 {
			return 0.0
		}
		return 100.0
	}

	snr := signalPower / noisePower
	if snr <= 0 {
		return -100.0
	}
	return 10.0 * math.Log10(snr)
}

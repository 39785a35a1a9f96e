// Package wav decodes and writes PCM WAV files for the feature pipeline.
//
// Every clip that enters the classifier goes through LoadClip so training,
// evaluation and offline classification see identical samples: mono, at the
// configured rate, truncated (never padded) to the clip duration.
package wav

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	resampling "github.com/tphakala/go-audio-resampling"
)

// ErrInvalidWav is returned for files that do not carry a RIFF/WAVE header.
var ErrInvalidWav = errors.New("not a valid wav file")

// Info describes a decoded file.
type Info struct {
	Channels   int
	SampleRate int
	BitDepth   int
	Frames     int
	Duration   float64
}

// ReadWavInfo decodes path and returns its header information together with the
// mono downmix of its samples normalised to [-1, 1].
func ReadWavInfo(path string) (*Info, []float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrInvalidWav)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels <= 0 {
		return nil, nil, fmt.Errorf("%s: missing format chunk", filepath.Base(path))
	}

	bitDepth := int(decoder.BitDepth)
	if bitDepth == 0 {
		bitDepth = buf.SourceBitDepth
	}
	samples := downmix(buf, bitDepth)

	info := &Info{
		Channels:   buf.Format.NumChannels,
		SampleRate: buf.Format.SampleRate,
		BitDepth:   bitDepth,
		Frames:     len(samples),
	}
	if info.SampleRate > 0 {
		info.Duration = float64(info.Frames) / float64(info.SampleRate)
	}
	return info, samples, nil
}

// LoadClip returns at most maxSeconds of mono audio from path at targetRate.
// Shorter files are returned as is.
func LoadClip(path string, targetRate int, maxSeconds float64) ([]float64, error) {
	info, samples, err := ReadWavInfo(path)
	if err != nil {
		return nil, err
	}

	if info.SampleRate != targetRate {
		samples, err = Resample(samples, info.SampleRate, targetRate)
		if err != nil {
			return nil, fmt.Errorf("resample %s: %w", path, err)
		}
	}

	return Truncate(samples, targetRate, maxSeconds), nil
}

// Truncate cuts samples down to maxSeconds at sampleRate. A non-positive
// maxSeconds disables truncation.
func Truncate(samples []float64, sampleRate int, maxSeconds float64) []float64 {
	if maxSeconds <= 0 {
		return samples
	}
	limit := int(maxSeconds * float64(sampleRate))
	if len(samples) > limit {
		return samples[:limit]
	}
	return samples
}

// Resample converts mono samples between sample rates.
func Resample(samples []float64, fromRate, toRate int) ([]float64, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", fromRate, toRate)
	}
	if fromRate == toRate || len(samples) == 0 {
		return samples, nil
	}

	resampler, err := resampling.New(&resampling.Config{
		InputRate:  float64(fromRate),
		OutputRate: float64(toRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	out, err := resampler.Process(samples)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}
	return out, nil
}

// WriteWavFile stores mono samples in [-1, 1] as 16-bit PCM.
func WriteWavFile(path string, samples []float64, sampleRate int) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	encoder := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(math.Round(clamp(s) * 32767))
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := encoder.Write(buf); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("finalise %s: %w", path, err)
	}
	return nil
}

func downmix(buf *audio.IntBuffer, bitDepth int) []float64 {
	channels := buf.Format.NumChannels
	frames := len(buf.Data) / channels
	out := make([]float64, frames)

	// 8-bit WAV is unsigned, everything else is two's complement.
	offset := 0.0
	scale := math.Pow(2, float64(bitDepth-1))
	if bitDepth == 8 {
		offset = 128
		scale = 128
	}
	if scale == 0 {
		scale = 32768
	}

	for i := 0; i < frames; i++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			sum += (float64(buf.Data[i*channels+ch]) - offset) / scale
		}
		out[i] = sum / float64(channels)
	}
	return out
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

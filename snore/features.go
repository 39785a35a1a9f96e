package snore

// Feature Extraction
//
// Every clip, whether it comes from the training folders, the evaluation set
// or a live microphone window, is turned into the same fixed size matrix:
//
//   1. MFCC over the whole clip (see mfcc.go)
//   2. Z-score over the full matrix, one global mean and population std
//   3. Frame count forced to FrameCount by zero padding on the right or by
//      keeping the first FrameCount frames
//
// Normalisation happens before padding, so padded columns are exactly zero.

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"snore-detection/config"
	"snore-detection/wav"
)

// ErrEmptyAudio is returned when a clip carries no samples.
var ErrEmptyAudio = errors.New("no samples provided")

// FeatureConfig fixes the shape of every feature matrix.
type FeatureConfig struct {
	SampleRate      int     `json:"sampleRate" msgpack:"sample_rate"`
	ClipSeconds     float64 `json:"clipSeconds" msgpack:"clip_seconds"`
	NumCoefficients int     `json:"numCoefficients" msgpack:"num_coefficients"`
	FrameCount      int     `json:"frameCount" msgpack:"frame_count"`
	FFTSize         int     `json:"fftSize" msgpack:"fft_size"`
	HopLength       int     `json:"hopLength" msgpack:"hop_length"`
	NumMels         int     `json:"numMels" msgpack:"num_mels"`
	TopDB           float64 `json:"topDb" msgpack:"top_db"`
}

// DefaultFeatureConfig matches the shape the shipped models are trained on.
func DefaultFeatureConfig() FeatureConfig {
	return FeatureConfig{
		SampleRate:      22050,
		ClipSeconds:     10,
		NumCoefficients: 40,
		FrameCount:      216,
		FFTSize:         2048,
		HopLength:       512,
		NumMels:         128,
		TopDB:           80,
	}
}

// FeatureConfigFrom maps the runtime configuration onto a FeatureConfig.
func FeatureConfigFrom(cfg config.Config) FeatureConfig {
	fc := DefaultFeatureConfig()
	fc.SampleRate = cfg.SampleRate
	fc.ClipSeconds = cfg.WindowSeconds
	fc.NumCoefficients = cfg.NumCoefficients
	fc.FrameCount = cfg.FrameCount
	fc.FFTSize = cfg.FFTSize
	fc.HopLength = cfg.HopLength
	fc.NumMels = cfg.NumMels
	return fc
}

// Size is the length of a flattened feature matrix.
func (c FeatureConfig) Size() int {
	return c.NumCoefficients * c.FrameCount
}

func (c FeatureConfig) validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("invalid sample rate %d", c.SampleRate)
	case c.NumCoefficients <= 0 || c.FrameCount <= 0:
		return fmt.Errorf("invalid feature shape %dx%d", c.NumCoefficients, c.FrameCount)
	case c.FFTSize < 2 || c.HopLength <= 0:
		return fmt.Errorf("invalid framing fft=%d hop=%d", c.FFTSize, c.HopLength)
	case c.NumMels < c.NumCoefficients:
		return fmt.Errorf("%d mel bands cannot yield %d coefficients", c.NumMels, c.NumCoefficients)
	case c.TopDB <= 0:
		return fmt.Errorf("invalid top_db %v", c.TopDB)
	}
	return nil
}

// FeatureMatrix is a Coefficients x Frames matrix stored row by row.
type FeatureMatrix struct {
	Coefficients int
	Frames       int
	Data         []float64
}

// At returns the value of coefficient c at frame f.
func (m *FeatureMatrix) At(c, f int) float64 {
	return m.Data[c*m.Frames+f]
}

// Flatten returns a copy of the matrix in row-major order.
func (m *FeatureMatrix) Flatten() []float64 {
	out := make([]float64, len(m.Data))
	copy(out, m.Data)
	return out
}

// Extractor turns audio into fixed size feature matrices. It is safe for
// concurrent use.
type Extractor struct {
	cfg  FeatureConfig
	bank *mfccBank
}

func NewExtractor(cfg FeatureConfig) (*Extractor, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("feature config: %w", err)
	}
	return &Extractor{cfg: cfg, bank: newMFCCBank(cfg)}, nil
}

// Config returns the configuration the extractor was built with.
func (e *Extractor) Config() FeatureConfig {
	return e.cfg
}

// ExtractFile loads a clip from disk and extracts its features. Errors are
// meant to be logged by the caller and the file skipped.
func (e *Extractor) ExtractFile(path string) (*FeatureMatrix, error) {
	samples, err := wav.LoadClip(path, e.cfg.SampleRate, e.cfg.ClipSeconds)
	if err != nil {
		return nil, err
	}
	matrix, err := e.Extract(samples)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return matrix, nil
}

// Extract computes the normalised, fixed width MFCC matrix of samples, which
// must already be mono at the configured sample rate.
func (e *Extractor) Extract(samples []float64) (*FeatureMatrix, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyAudio
	}

	mfcc := e.bank.compute(samples)
	frames := len(mfcc[0])

	flat := make([]float64, 0, len(mfcc)*frames)
	for _, row := range mfcc {
		flat = append(flat, row...)
	}
	normalize(flat)

	out := &FeatureMatrix{
		Coefficients: e.cfg.NumCoefficients,
		Frames:       e.cfg.FrameCount,
		Data:         make([]float64, e.cfg.Size()),
	}
	keep := min(frames, e.cfg.FrameCount)
	for c := 0; c < e.cfg.NumCoefficients; c++ {
		copy(out.Data[c*out.Frames:c*out.Frames+keep], flat[c*frames:c*frames+keep])
	}
	return out, nil
}

// normalize applies a global z-score in place. A constant matrix is only
// centred.
func normalize(values []float64) {
	mean, std := stat.PopMeanStdDev(values, nil)
	if std == 0 {
		std = 1
	}
	for i, v := range values {
		values[i] = (v - mean) / std
	}
}

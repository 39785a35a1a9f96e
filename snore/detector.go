package snore

import (
	"fmt"
	"time"

	"snore-detection/cnn"
	"snore-detection/config"
	"snore-detection/wav"
)

// Model is the trained classifier seen from the detection pipeline.
type Model interface {
	Predict(input []float64) (float64, error)
}

// Result is the outcome of classifying one clip or live window.
type Result struct {
	Probability float64       `json:"probability"`
	IsSnoring   bool          `json:"isSnoring"`
	Threshold   float64       `json:"threshold"`
	Samples     int           `json:"samples"`
	RMS         float64       `json:"rms"`
	SNRDb       float64       `json:"snrDb"`
	Latency     time.Duration `json:"latency"`
}

// IsSnoring applies the decision rule: strictly above threshold.
func IsSnoring(probability, threshold float64) bool {
	return probability > threshold
}

// Detector bundles the read-only state of a detection session: the feature
// extractor, the fitted scaler and the trained model.
type Detector struct {
	extractor *Extractor
	scaler    *Scaler
	model     Model
	threshold float64
}

func NewDetector(extractor *Extractor, scaler *Scaler, model Model, threshold float64) (*Detector, error) {
	if extractor == nil || scaler == nil || model == nil {
		return nil, fmt.Errorf("detector requires an extractor, a scaler and a model")
	}
	if want := extractor.Config().Size(); scaler.Dim() != want {
		return nil, fmt.Errorf("%w: scaler fitted on %d columns, features have %d", ErrDimensionMismatch, scaler.Dim(), want)
	}
	return &Detector{extractor: extractor, scaler: scaler, model: model, threshold: threshold}, nil
}

// LoadDetector builds a detector from the scaler and model artifacts named in cfg.
func LoadDetector(cfg config.Config) (*Detector, error) {
	extractor, err := NewExtractor(FeatureConfigFrom(cfg))
	if err != nil {
		return nil, err
	}
	scaler, err := LoadScaler(cfg.ScalerPath)
	if err != nil {
		return nil, fmt.Errorf("load scaler %s: %w", cfg.ScalerPath, err)
	}
	model, err := cnn.Load(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", cfg.ModelPath, err)
	}
	want := extractor.Config()
	if h, w := model.InputShape(); h != want.NumCoefficients || w != want.FrameCount {
		return nil, fmt.Errorf("%w: model expects %dx%d, features are %dx%d", ErrDimensionMismatch, h, w, want.NumCoefficients, want.FrameCount)
	}
	return NewDetector(extractor, scaler, model, cfg.Threshold)
}

// Threshold returns the decision threshold.
func (d *Detector) Threshold() float64 {
	return d.threshold
}

// Extractor returns the session's feature extractor.
func (d *Detector) Extractor() *Extractor {
	return d.extractor
}

// Classify runs extraction, scaling and the model on mono samples at the
// extractor's sample rate.
func (d *Detector) Classify(samples []float64) (Result, error) {
	started := time.Now()
	matrix, err := d.extractor.Extract(samples)
	if err != nil {
		return Result{}, err
	}
	prob, err := d.classifyMatrix(matrix)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Probability: prob,
		IsSnoring:   IsSnoring(prob, d.threshold),
		Threshold:   d.threshold,
		Samples:     len(samples),
		RMS:         RMS(samples),
		SNRDb:       EstimateSNR(samples, d.extractor.Config().HopLength),
		Latency:     time.Since(started),
	}, nil
}

// ClassifyFile loads at most one clip length of audio from path and classifies
// it the same way as a live window.
func (d *Detector) ClassifyFile(path string) (Result, error) {
	cfg := d.extractor.Config()
	samples, err := wav.LoadClip(path, cfg.SampleRate, cfg.ClipSeconds)
	if err != nil {
		return Result{}, err
	}
	res, err := d.Classify(samples)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", path, err)
	}
	return res, nil
}

// PredictFeatures scales an extracted feature row and returns the model's
// probability for it.
func (d *Detector) PredictFeatures(row []float64) (float64, error) {
	scaled, err := d.scaler.Transform(row)
	if err != nil {
		return 0, err
	}
	prob, err := d.model.Predict(scaled)
	if err != nil {
		return 0, fmt.Errorf("predict: %w", err)
	}
	return prob, nil
}

func (d *Detector) classifyMatrix(matrix *FeatureMatrix) (float64, error) {
	return d.PredictFeatures(matrix.Data)
}

package snore

import (
	"errors"
	"path/filepath"
	"testing"

	"snore-detection/cnn"
	"snore-detection/config"
)

type stubModel struct {
	prob   float64
	err    error
	inputs [][]float64
}

func (m *stubModel) Predict(input []float64) (float64, error) {
	m.inputs = append(m.inputs, input)
	return m.prob, m.err
}

func newStubDetector(t *testing.T, model Model) *Detector {
	t.Helper()
	cfg := smallFeatureConfig()
	ex := newTestExtractor(t, cfg)
	scaler, err := FitScaler(randomRows(9, 8, cfg.Size()))
	if err != nil {
		t.Fatal(err)
	}
	d, err := NewDetector(ex, scaler, model, 0.5)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	return d
}

func TestDetectorThresholdIsStrict(t *testing.T) {
	cases := []struct {
		prob float64
		want bool
	}{
		{0.49, false},
		{0.5, false},
		{0.51, true},
		{0.97, true},
	}
	for _, tc := range cases {
		model := &stubModel{prob: tc.prob}
		d := newStubDetector(t, model)
		res, err := d.Classify(tone(100, 8000, 8000))
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		if res.IsSnoring != tc.want || res.Probability != tc.prob {
			t.Errorf("p=%v: IsSnoring=%v, want %v", tc.prob, res.IsSnoring, tc.want)
		}
		if len(model.inputs) != 1 || len(model.inputs[0]) != smallFeatureConfig().Size() {
			t.Fatalf("model saw %d inputs", len(model.inputs))
		}
	}
}

func TestDetectorPropagatesModelErrors(t *testing.T) {
	d := newStubDetector(t, &stubModel{err: errors.New("boom")})
	if _, err := d.Classify(tone(100, 8000, 8000)); err == nil {
		t.Fatalf("expected model error")
	}
}

func TestNewDetectorRejectsMismatchedScaler(t *testing.T) {
	ex := newTestExtractor(t, smallFeatureConfig())
	scaler, _ := FitScaler(randomRows(1, 4, 5))
	if _, err := NewDetector(ex, scaler, &stubModel{}, 0.5); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestLoadDetectorFromArtifacts(t *testing.T) {
	dir := t.TempDir()
	fc := smallFeatureConfig()
	cfg := config.Load()
	cfg.SampleRate = fc.SampleRate
	cfg.WindowSeconds = fc.ClipSeconds
	cfg.NumCoefficients = fc.NumCoefficients
	cfg.FrameCount = fc.FrameCount
	cfg.FFTSize = fc.FFTSize
	cfg.HopLength = fc.HopLength
	cfg.NumMels = fc.NumMels
	cfg.ScalerPath = filepath.Join(dir, "scaler.json")
	cfg.ModelPath = filepath.Join(dir, "model.msgpack")

	scaler, _ := FitScaler(randomRows(2, 6, fc.Size()))
	if err := scaler.Save(cfg.ScalerPath); err != nil {
		t.Fatal(err)
	}
	net, err := cnn.New(cnn.DefaultConfig(fc.NumCoefficients, fc.FrameCount))
	if err != nil {
		t.Fatal(err)
	}
	if err := net.Save(cfg.ModelPath); err != nil {
		t.Fatal(err)
	}

	d, err := LoadDetector(cfg)
	if err != nil {
		t.Fatalf("LoadDetector: %v", err)
	}
	res, err := d.Classify(noise(5, fc.SampleRate))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Probability < 0 || res.Probability > 1 {
		t.Fatalf("probability %v outside [0, 1]", res.Probability)
	}

	cfg.FrameCount = 20
	if _, err := LoadDetector(cfg); err == nil {
		t.Fatalf("expected shape mismatch error")
	}
}

func TestLoadDetectorMissingArtifacts(t *testing.T) {
	cfg := config.Load()
	cfg.ScalerPath = filepath.Join(t.TempDir(), "missing.json")
	if _, err := LoadDetector(cfg); err == nil {
		t.Fatalf("expected error for missing scaler")
	}
}

func TestClassifyFileMatchesLiveWindowPath(t *testing.T) {
	cfg := smallFeatureConfig()
	path := filepath.Join(t.TempDir(), "long.wav")
	writeClip(t, path, tone(150, cfg.SampleRate, 3*cfg.SampleRate), cfg.SampleRate)

	model := &stubModel{prob: 0.8}
	d := newStubDetector(t, model)
	res, err := d.ClassifyFile(path)
	if err != nil {
		t.Fatalf("ClassifyFile: %v", err)
	}
	if want := int(cfg.ClipSeconds) * cfg.SampleRate; res.Samples != want {
		t.Errorf("Samples = %d, want clip truncated to %d", res.Samples, want)
	}
	if !res.IsSnoring || res.Threshold != 0.5 {
		t.Errorf("unexpected decision %+v", res)
	}
	if res.RMS <= 0 {
		t.Errorf("RMS = %v, want the level of the tone", res.RMS)
	}

	if _, err := d.ClassifyFile(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

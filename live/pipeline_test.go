package live

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"snore-detection/snore"
)

// logisticModel scores a row as sigmoid(bias + weight·sum(row)).
type logisticModel struct {
	bias   float64
	weight float64
}

func (m logisticModel) Predict(row []float64) (float64, error) {
	z := m.bias
	for _, v := range row {
		z += m.weight * v
	}
	return 1 / (1 + math.Exp(-z)), nil
}

func newPipelineDetector(t *testing.T) *snore.Detector {
	t.Helper()
	extractor, err := snore.NewExtractor(snore.FeatureConfig{
		SampleRate:      8000,
		ClipSeconds:     2,
		NumCoefficients: 10,
		FrameCount:      12,
		FFTSize:         256,
		HopLength:       64,
		NumMels:         16,
		TopDB:           80,
	})
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}

	size := extractor.Config().Size()
	rows := make([][]float64, 6)
	for i := range rows {
		row := make([]float64, size)
		for j := range row {
			row[j] = math.Sin(float64(i*size+j)) + float64(i%2)
		}
		rows[i] = row
	}
	scaler, err := snore.FitScaler(rows)
	if err != nil {
		t.Fatalf("FitScaler: %v", err)
	}

	detector, err := snore.NewDetector(extractor, scaler, logisticModel{bias: -3, weight: 0.001}, 0.5)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	return detector
}

func TestSilenceThroughDetectorIsNotSnoring(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newFakeSource(64)
	feed(ctx, src, make([]float32, 256))

	var got WindowReport
	rep := reporterFunc(func(r WindowReport) {
		if !r.NoAudio && got.Samples == nil {
			got = r
			cancel()
		}
	})

	_, out, err := runLoop(t, ctx, src, newPipelineDetector(t), 30*time.Millisecond, rep)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Err != nil {
		t.Fatalf("classification failed: %v", got.Err)
	}
	if got.Result.Probability >= 0.5 || got.Result.IsSnoring {
		t.Fatalf("silence scored %.3f (snoring=%v)", got.Result.Probability, got.Result.IsSnoring)
	}
	if got.Result.RMS != 0 {
		t.Errorf("RMS of silence = %v", got.Result.RMS)
	}
	if !strings.Contains(out.String(), "No snoring. (probability:") {
		t.Errorf("missing no-snoring line in %q", out.String())
	}
}

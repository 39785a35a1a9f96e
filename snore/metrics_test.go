package snore

import (
	"math"
	"strings"
	"testing"
)

func TestConfusionMatrixMetrics(t *testing.T) {
	var m ConfusionMatrix
	pairs := [][2]int{{1, 1}, {1, 1}, {1, 0}, {0, 0}, {0, 0}, {0, 0}, {0, 1}}
	for _, p := range pairs {
		m.Add(p[0], p[1])
	}
	if m.Total() != 7 {
		t.Fatalf("Total = %d", m.Total())
	}
	if got := m.Accuracy(); math.Abs(got-5.0/7) > 1e-12 {
		t.Errorf("Accuracy = %v", got)
	}
	if got := m.Precision(LabelSnore); math.Abs(got-2.0/3) > 1e-12 {
		t.Errorf("Precision = %v", got)
	}
	if got := m.Recall(LabelSnore); math.Abs(got-2.0/3) > 1e-12 {
		t.Errorf("Recall = %v", got)
	}
	out := m.String()
	if !strings.Contains(out, "Non-Snore") || !strings.Contains(out, "Snore") {
		t.Errorf("rendered matrix lacks labels:\n%s", out)
	}
}

func TestEmptyConfusionMatrix(t *testing.T) {
	var m ConfusionMatrix
	if m.Accuracy() != 0 || m.F1(LabelSnore) != 0 {
		t.Fatalf("empty matrix should report zeros")
	}
}

func TestLevels(t *testing.T) {
	if got := RMS([]float64{0.5, -0.5, 0.5, -0.5}); got != 0.5 {
		t.Errorf("RMS = %v, want 0.5", got)
	}
	if got := EstimateSNR(make([]float64, 1000), 100); got != 0 {
		t.Errorf("SNR of silence = %v, want 0", got)
	}

	// Quiet floor with one loud burst.
	samples := noise(1, 10000)
	for i := range samples {
		samples[i] *= 0.01
	}
	for i := 5000; i < 6000; i++ {
		samples[i] = 0.8
	}
	if got := EstimateSNR(samples, 100); got < 10 {
		t.Errorf("SNR with burst = %v, want > 10 dB", got)
	}
}

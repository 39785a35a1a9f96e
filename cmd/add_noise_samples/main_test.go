package main

import (
	"math"
	"path/filepath"
	"slices"
	"testing"

	"snore-detection/snore"
)

func TestMixAtSNR(t *testing.T) {
	clip := make([]float64, 1000)
	noise := make([]float64, 250)
	for i := range clip {
		clip[i] = 0.1 * math.Sin(float64(i)*0.3)
	}
	for i := range noise {
		noise[i] = 0.5 * math.Cos(float64(i)*1.7)
	}

	mixed := mixAtSNR(clip, noise, 17, 20)
	if len(mixed) != len(clip) {
		t.Fatalf("len = %d, want %d", len(mixed), len(clip))
	}

	residual := make([]float64, len(clip))
	for i := range clip {
		residual[i] = mixed[i] - clip[i]
	}
	got := 20 * math.Log10(snore.RMS(clip)/snore.RMS(residual))
	if math.Abs(got-20) > 0.5 {
		t.Errorf("SNR = %.2f dB, want about 20", got)
	}
}

func TestMixAtSNRSilentNoise(t *testing.T) {
	clip := []float64{0.2, -0.2, 0.3}
	mixed := mixAtSNR(clip, []float64{0, 0}, 0, 10)
	for i := range clip {
		if mixed[i] != clip[i] {
			t.Fatalf("silent noise changed the clip: %v", mixed)
		}
	}
}

func TestSourceClipsSkipsEarlierOutputs(t *testing.T) {
	dir := filepath.Join("data", "snoring")
	paths := []string{
		filepath.Join(dir, "night1.wav"),
		filepath.Join(dir, "night1_noise01.wav"),
		filepath.Join(dir, "night1_noise12.WAV"),
		filepath.Join(dir, "noise_fan.wav"),
		filepath.Join(dir, "night2_noise1.wav"),
	}

	kept, skipped := sourceClips(paths)
	want := []string{paths[0], paths[3], paths[4]}
	if !slices.Equal(kept, want) || skipped != 2 {
		t.Fatalf("sourceClips = %v (%d skipped), want %v (2 skipped)", kept, skipped, want)
	}

	again, skipped := sourceClips(kept)
	if len(again) != len(kept) || skipped != 0 {
		t.Fatalf("second pass dropped clips: %v", again)
	}
}

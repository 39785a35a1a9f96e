package snore

import (
	"errors"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"snore-detection/wav"
)

func smallFeatureConfig() FeatureConfig {
	return FeatureConfig{
		SampleRate:      8000,
		ClipSeconds:     2,
		NumCoefficients: 10,
		FrameCount:      12,
		FFTSize:         256,
		HopLength:       64,
		NumMels:         16,
		TopDB:           80,
	}
}

func newTestExtractor(t *testing.T, cfg FeatureConfig) *Extractor {
	t.Helper()
	ex, err := NewExtractor(cfg)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	return ex
}

func noise(seed uint64, n int) []float64 {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.2 * rng.NormFloat64()
	}
	return out
}

func tone(freq float64, sampleRate, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.4 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return out
}

func TestExtractShapeAndZeroPaddedTail(t *testing.T) {
	ex := newTestExtractor(t, DefaultFeatureConfig())
	samples := noise(1, 2*22050)

	m, err := ex.Extract(samples)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if m.Coefficients != 40 || m.Frames != 216 || len(m.Data) != 40*216 {
		t.Fatalf("unexpected shape %dx%d (%d values)", m.Coefficients, m.Frames, len(m.Data))
	}

	realFrames := 1 + len(samples)/512
	nonZero := 0
	for c := 0; c < m.Coefficients; c++ {
		for f := 0; f < m.Frames; f++ {
			v := m.At(c, f)
			if f >= realFrames && v != 0 {
				t.Fatalf("padded value at (%d,%d) = %v, want 0", c, f, v)
			}
			if f < realFrames && v != 0 {
				nonZero++
			}
		}
	}
	if nonZero == 0 {
		t.Fatalf("no signal in the first %d frames", realFrames)
	}
}

func TestExtractKeepsLeadingFramesOfLongClips(t *testing.T) {
	cfg := smallFeatureConfig()
	ex := newTestExtractor(t, cfg)
	samples := noise(2, 40*cfg.HopLength)

	m, err := ex.Extract(samples)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	raw := ex.bank.compute(samples)
	frames := len(raw[0])
	if frames <= cfg.FrameCount {
		t.Fatalf("test clip too short: %d frames", frames)
	}
	var flat []float64
	for _, row := range raw {
		flat = append(flat, row...)
	}
	normalize(flat)

	for c := 0; c < cfg.NumCoefficients; c++ {
		for f := 0; f < cfg.FrameCount; f++ {
			if got, want := m.At(c, f), flat[c*frames+f]; got != want {
				t.Fatalf("(%d,%d) = %v, want %v", c, f, got, want)
			}
		}
	}
}

func TestExtractNormalisesWholeMatrix(t *testing.T) {
	cfg := smallFeatureConfig()
	ex := newTestExtractor(t, cfg)
	// Exactly FrameCount frames, so no padding or truncation.
	samples := noise(3, (cfg.FrameCount-1)*cfg.HopLength)

	m, err := ex.Extract(samples)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	var sum float64
	for _, v := range m.Data {
		sum += v
	}
	mean := sum / float64(len(m.Data))
	var ss float64
	for _, v := range m.Data {
		ss += (v - mean) * (v - mean)
	}
	std := math.Sqrt(ss / float64(len(m.Data)))
	if math.Abs(mean) > 1e-9 || math.Abs(std-1) > 1e-9 {
		t.Fatalf("mean=%g std=%g, want 0 and 1", mean, std)
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	ex := newTestExtractor(t, smallFeatureConfig())
	samples := tone(440, 8000, 8000)

	a, err := ex.Extract(samples)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	b, _ := ex.Extract(samples)
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("value %d differs between runs: %v vs %v", i, a.Data[i], b.Data[i])
		}
	}
}

func TestExtractRejectsEmptyAudio(t *testing.T) {
	ex := newTestExtractor(t, smallFeatureConfig())
	if _, err := ex.Extract(nil); !errors.Is(err, ErrEmptyAudio) {
		t.Fatalf("expected ErrEmptyAudio, got %v", err)
	}
}

func TestExtractSilenceStaysFinite(t *testing.T) {
	ex := newTestExtractor(t, smallFeatureConfig())
	m, err := ex.Extract(make([]float64, 4000))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	for i, v := range m.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("value %d is %v", i, v)
		}
	}
}

func TestExtractFileMatchesInMemoryPath(t *testing.T) {
	cfg := smallFeatureConfig()
	ex := newTestExtractor(t, cfg)
	path := filepath.Join(t.TempDir(), "clip.wav")
	samples := tone(300, cfg.SampleRate, 3*cfg.SampleRate)
	if err := wav.WriteWavFile(path, samples, cfg.SampleRate); err != nil {
		t.Fatal(err)
	}

	fromFile, err := ex.ExtractFile(path)
	if err != nil {
		t.Fatalf("ExtractFile: %v", err)
	}
	loaded, err := wav.LoadClip(path, cfg.SampleRate, cfg.ClipSeconds)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != int(cfg.ClipSeconds)*cfg.SampleRate {
		t.Fatalf("clip not truncated: %d samples", len(loaded))
	}
	inMemory, _ := ex.Extract(loaded)
	for i := range fromFile.Data {
		if fromFile.Data[i] != inMemory.Data[i] {
			t.Fatalf("file and in-memory features differ at %d", i)
		}
	}
}

func TestExtractFileFailsOnGarbage(t *testing.T) {
	ex := newTestExtractor(t, smallFeatureConfig())
	path := filepath.Join(t.TempDir(), "broken.wav")
	if err := os.WriteFile(path, []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ex.ExtractFile(path); err == nil {
		t.Fatalf("expected an error for a non-wav file")
	}
}

func TestNewExtractorValidatesConfig(t *testing.T) {
	cfg := smallFeatureConfig()
	cfg.NumMels = 4
	if _, err := NewExtractor(cfg); err == nil {
		t.Fatalf("expected error when mels < coefficients")
	}
}

func TestSlaneyMelScale(t *testing.T) {
	if got := hzToMel(1000); math.Abs(got-15) > 1e-12 {
		t.Fatalf("hzToMel(1000) = %v, want 15", got)
	}
	for _, hz := range []float64{0, 120, 999, 1000, 4000, 11025} {
		if back := melToHz(hzToMel(hz)); math.Abs(back-hz) > 1e-9 {
			t.Errorf("melToHz(hzToMel(%v)) = %v", hz, back)
		}
	}
}

func TestDefaultMelFiltersAreNonEmpty(t *testing.T) {
	cfg := DefaultFeatureConfig()
	filters := slaneyMelFilters(cfg.SampleRate, cfg.FFTSize, cfg.NumMels)
	if len(filters) != cfg.NumMels {
		t.Fatalf("got %d filters", len(filters))
	}
	for i, f := range filters {
		if len(f.weights) == 0 {
			t.Fatalf("filter %d is empty", i)
		}
		if f.start+len(f.weights) > cfg.FFTSize/2+1 {
			t.Fatalf("filter %d exceeds the spectrum", i)
		}
	}
}

func TestDCTBasisIsOrthonormal(t *testing.T) {
	basis := dctBasis(16, 16)
	for i := range basis {
		for j := range basis {
			var dot float64
			for k := range basis[i] {
				dot += basis[i][k] * basis[j][k]
			}
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(dot-want) > 1e-12 {
				t.Fatalf("row %d . row %d = %v, want %v", i, j, dot, want)
			}
		}
	}
}

func TestReflectPad(t *testing.T) {
	got := reflectPad([]float64{1, 2, 3, 4}, 2)
	want := []float64{3, 2, 1, 2, 3, 4, 3, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("reflectPad = %v, want %v", got, want)
		}
	}
	short := reflectPad([]float64{5}, 3)
	for _, v := range short {
		if v != 5 {
			t.Fatalf("single sample pad = %v", short)
		}
	}
}

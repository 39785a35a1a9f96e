package live

import (
	"os"
	"testing"
	"time"

	"snore-detection/models"
	"snore-detection/snore"
)

type memorySink struct {
	stored []models.Detection
}

func (m *memorySink) StoreDetection(d *models.Detection) error {
	m.stored = append(m.stored, *d)
	return nil
}

func TestHistoryRecorderStoresClassifiedWindows(t *testing.T) {
	sink := &memorySink{}
	dir := t.TempDir()
	rec := NewHistoryRecorder(sink, 8000, true, dir)

	samples := make([]float64, 800)
	for i := range samples {
		samples[i] = 0.25
	}
	ts := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)

	rec.Report(WindowReport{Timestamp: ts, NoAudio: true})
	rec.Report(WindowReport{Timestamp: ts, Err: os.ErrNotExist})
	rec.Report(WindowReport{
		Timestamp: ts,
		Window:    10 * time.Second,
		Samples:   samples,
		Result:    snore.Result{Probability: 0.2, Threshold: 0.5, Latency: 1500 * time.Microsecond},
	})
	rec.Report(WindowReport{
		Timestamp: ts.Add(10 * time.Second),
		Window:    10 * time.Second,
		Samples:   samples,
		Result:    snore.Result{Probability: 0.8, IsSnoring: true, Threshold: 0.5},
	})

	if len(sink.stored) != 2 {
		t.Fatalf("stored %d detections, want 2", len(sink.stored))
	}
	calm, snoring := sink.stored[0], sink.stored[1]
	if calm.RecordingPath != "" {
		t.Errorf("non-snoring window was recorded to %q", calm.RecordingPath)
	}
	if calm.WindowSeconds != 10 || calm.Samples != 800 || calm.LatencyMs != 1.5 {
		t.Errorf("unexpected detection fields: %+v", calm)
	}
	if snoring.RecordingPath == "" {
		t.Fatal("snoring window was not recorded")
	}
	if _, err := os.Stat(snoring.RecordingPath); err != nil {
		t.Errorf("recording missing: %v", err)
	}
}

func TestHistoryRecorderWithoutPersistence(t *testing.T) {
	sink := &memorySink{}
	dir := t.TempDir()
	rec := NewHistoryRecorder(sink, 8000, false, dir)
	rec.Report(WindowReport{
		Timestamp: time.Now(),
		Samples:   make([]float64, 100),
		Result:    snore.Result{Probability: 0.9, IsSnoring: true},
	})

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("recording written with persistence off: %d files", len(entries))
	}
	if len(sink.stored) != 1 {
		t.Errorf("stored %d detections, want 1", len(sink.stored))
	}
}

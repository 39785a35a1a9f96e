package live

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"snore-detection/models"
	"snore-detection/utils"
	"snore-detection/wav"
)

// DetectionSink stores classified windows.
type DetectionSink interface {
	StoreDetection(detection *models.Detection) error
}

// HistoryRecorder stores every classified window and, when enabled, keeps the
// audio of snoring windows for later relabelling. Failures are logged and
// never interrupt the loop.
type HistoryRecorder struct {
	sink         DetectionSink
	sampleRate   int
	persist      bool
	recordingDir string
	logger       *slog.Logger
}

func NewHistoryRecorder(sink DetectionSink, sampleRate int, persist bool, recordingDir string) *HistoryRecorder {
	return &HistoryRecorder{
		sink:         sink,
		sampleRate:   sampleRate,
		persist:      persist,
		recordingDir: recordingDir,
		logger:       utils.GetLogger(),
	}
}

func (h *HistoryRecorder) Report(r WindowReport) {
	if r.NoAudio || r.Err != nil {
		return
	}

	detection := &models.Detection{
		Timestamp:     r.Timestamp,
		Probability:   r.Result.Probability,
		IsSnoring:     r.Result.IsSnoring,
		Threshold:     r.Result.Threshold,
		WindowSeconds: r.Window.Seconds(),
		Samples:       len(r.Samples),
		RMS:           r.Result.RMS,
		SNRDb:         r.Result.SNRDb,
		LatencyMs:     float64(r.Result.Latency.Microseconds()) / 1000,
	}

	if h.persist && r.Result.IsSnoring {
		path := filepath.Join(h.recordingDir, fmt.Sprintf("snore_%s_%s.wav",
			r.Timestamp.Format("20060102T150405"), utils.GenerateUniqueID()))
		if err := wav.WriteWavFile(path, r.Samples, h.sampleRate); err != nil {
			h.logger.Warn("failed to persist snoring window", slog.String("path", path), slog.Any("error", err))
		} else {
			detection.RecordingPath = path
		}
	}

	if h.sink == nil {
		return
	}
	if err := h.sink.StoreDetection(detection); err != nil {
		h.logger.Warn("failed to store detection", slog.Any("error", err))
	}
}

package models

import (
	"sort"
	"time"
)

// Detection is one classified live window as stored in the detection history.
type Detection struct {
	ID            int64     `json:"id" bson:"id"`
	Timestamp     time.Time `json:"timestamp" bson:"timestamp"`
	Probability   float64   `json:"probability" bson:"probability"`
	IsSnoring     bool      `json:"isSnoring" bson:"is_snoring"`
	Threshold     float64   `json:"threshold" bson:"threshold"`
	WindowSeconds float64   `json:"windowSeconds" bson:"window_seconds"`
	Samples       int       `json:"samples" bson:"samples"`
	RMS           float64   `json:"rms" bson:"rms"`
	SNRDb         float64   `json:"snrDb,omitempty" bson:"snr_db"`
	LatencyMs     float64   `json:"latencyMs" bson:"latency_ms"`
	RecordingPath string    `json:"recordingPath,omitempty" bson:"recording_path,omitempty"`
}

// NightSummary aggregates the detections of one night.
type NightSummary struct {
	Night          string  `json:"night"`
	Windows        int     `json:"windows"`
	SnoringWindows int     `json:"snoringWindows"`
	MaxProbability float64 `json:"maxProbability"`
}

// NightOf names the night t belongs to. Nights run from noon to noon and are
// named after the evening's date.
func NightOf(t time.Time) string {
	return t.Add(-12 * time.Hour).Format("2006-01-02")
}

// SummarizeNights groups detections per night, oldest night first.
func SummarizeNights(detections []Detection) []NightSummary {
	byNight := map[string]*NightSummary{}
	for _, d := range detections {
		key := NightOf(d.Timestamp.Local())
		s, ok := byNight[key]
		if !ok {
			s = &NightSummary{Night: key}
			byNight[key] = s
		}
		s.Windows++
		if d.IsSnoring {
			s.SnoringWindows++
		}
		if d.Probability > s.MaxProbability {
			s.MaxProbability = d.Probability
		}
	}

	out := make([]NightSummary, 0, len(byNight))
	for _, s := range byNight {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Night < out[j].Night })
	return out
}

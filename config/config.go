// Package config loads the runtime settings shared by the listener and the
// training tools.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"snore-detection/utils"
)

// Config is built once at startup and never mutated afterwards.
type Config struct {
	SampleRate      int
	WindowSeconds   float64
	NumCoefficients int
	FrameCount      int
	FFTSize         int
	HopLength       int
	NumMels         int
	Threshold       float64
	BlockSize       int
	QueueSize       int
	InputDevice     string

	ScalerPath  string
	ModelPath   string
	SnoreDir    string
	NonSnoreDir string

	DBType         string
	SQLitePath     string
	MongoURI       string
	MongoDatabase  string
	DetectionsFile string

	AlertsAddr        string
	PersistRecordings bool
	RecordingDir      string
}

// Load reads the configuration from the environment. Call godotenv.Load
// beforehand if a .env file should be honoured.
func Load() Config {
	return Config{
		SampleRate:      utils.GetEnvInt("SNORE_SAMPLE_RATE", 22050),
		WindowSeconds:   utils.GetEnvFloat("SNORE_WINDOW_SECONDS", 10),
		NumCoefficients: utils.GetEnvInt("SNORE_MFCC", 40),
		FrameCount:      utils.GetEnvInt("SNORE_FRAMES", 216),
		FFTSize:         utils.GetEnvInt("SNORE_FFT_SIZE", 2048),
		HopLength:       utils.GetEnvInt("SNORE_HOP_LENGTH", 512),
		NumMels:         utils.GetEnvInt("SNORE_MELS", 128),
		Threshold:       utils.GetEnvFloat("SNORE_THRESHOLD", 0.5),
		BlockSize:       utils.GetEnvInt("SNORE_BLOCK_SIZE", 1024),
		QueueSize:       utils.GetEnvInt("SNORE_QUEUE_SIZE", 512),
		InputDevice:     utils.GetEnv("SNORE_INPUT_DEVICE", ""),

		ScalerPath:  utils.GetEnv("SNORE_SCALER_PATH", "scaler.json"),
		ModelPath:   utils.GetEnv("SNORE_MODEL_PATH", "snore_cnn.msgpack"),
		SnoreDir:    utils.GetEnv("SNORE_DIR", "dataset/snoring"),
		NonSnoreDir: utils.GetEnv("NON_SNORE_DIR", "dataset/non_snoring"),

		DBType:         strings.ToLower(utils.GetEnv("DB_TYPE", "sqlite")),
		SQLitePath:     utils.GetEnv("SQLITE_PATH", "db/detections.sqlite3"),
		MongoURI:       utils.GetEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:  utils.GetEnv("MONGO_DATABASE", "snore_detection"),
		DetectionsFile: utils.GetEnv("DETECTIONS_FILE", "server/detections.json"),

		AlertsAddr:        utils.GetEnv("ALERTS_ADDR", ""),
		PersistRecordings: utils.GetEnvBool("SNORE_PERSIST_RECORDINGS", false),
		RecordingDir:      utils.GetEnv("SNORE_RECORDING_DIR", "recordings"),
	}
}

// Window returns the capture window length.
func (c Config) Window() time.Duration {
	return time.Duration(c.WindowSeconds * float64(time.Second))
}

// WindowSamples is the number of samples a full window holds.
func (c Config) WindowSamples() int {
	return int(c.WindowSeconds * float64(c.SampleRate))
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	positive := map[string]int{
		"SNORE_SAMPLE_RATE": c.SampleRate,
		"SNORE_MFCC":        c.NumCoefficients,
		"SNORE_FRAMES":      c.FrameCount,
		"SNORE_FFT_SIZE":    c.FFTSize,
		"SNORE_HOP_LENGTH":  c.HopLength,
		"SNORE_MELS":        c.NumMels,
		"SNORE_BLOCK_SIZE":  c.BlockSize,
		"SNORE_QUEUE_SIZE":  c.QueueSize,
	}
	for key, v := range positive {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", key, v))
		}
	}
	if c.WindowSeconds <= 0 {
		errs = append(errs, fmt.Errorf("SNORE_WINDOW_SECONDS must be positive, got %v", c.WindowSeconds))
	}
	if c.WindowSeconds > 0 && c.FFTSize > 0 && c.WindowSamples() < c.FFTSize {
		errs = append(errs, fmt.Errorf("a %v s window holds %d samples, shorter than SNORE_FFT_SIZE (%d)",
			c.WindowSeconds, c.WindowSamples(), c.FFTSize))
	}
	if c.Threshold <= 0 || c.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("SNORE_THRESHOLD must be in (0, 1), got %v", c.Threshold))
	}
	if c.NumCoefficients > c.NumMels {
		errs = append(errs, fmt.Errorf("SNORE_MFCC (%d) cannot exceed SNORE_MELS (%d)", c.NumCoefficients, c.NumMels))
	}
	if c.HopLength > c.FFTSize {
		errs = append(errs, fmt.Errorf("SNORE_HOP_LENGTH (%d) cannot exceed SNORE_FFT_SIZE (%d)", c.HopLength, c.FFTSize))
	}
	switch c.DBType {
	case "sqlite", "mongo", "json", "none":
	default:
		errs = append(errs, fmt.Errorf("unsupported DB_TYPE %q", c.DBType))
	}
	return errors.Join(errs...)
}

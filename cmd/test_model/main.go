package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"snore-detection/config"
	"snore-detection/snore"

	"github.com/joho/godotenv"
)

// TestConfig holds test configuration
type TestConfig struct {
	Inputs     []string
	OutputCSV  string
	OutputJSON string
}

// TestPrediction stores the result for a single clip
type TestPrediction struct {
	Filename       string  `json:"filename"`
	Probability    float64 `json:"probability"`
	IsSnoring      bool    `json:"is_snoring"`
	ProcessingTime float64 `json:"processing_time_ms"`
	RMS            float64 `json:"rms"`
	SNR            float64 `json:"snr_db"`
	Error          string  `json:"error,omitempty"`
}

// TestReport contains all test results
type TestReport struct {
	Timestamp     time.Time        `json:"timestamp"`
	ModelPath     string           `json:"model_path"`
	Threshold     float64          `json:"threshold"`
	TotalSamples  int              `json:"total_samples"`
	SnoringCount  int              `json:"snoring_count"`
	Predictions   []TestPrediction `json:"predictions"`
	AvgProcessing float64          `json:"avg_processing_ms"`
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	tc := parseFlags(&cfg)

	log.SetFlags(log.Ldate | log.Ltime)
	log.Println("=== Model Testing Pipeline ===")
	log.Printf("Model: %s\n", cfg.ModelPath)
	log.Printf("Scaler: %s\n", cfg.ScalerPath)
	log.Println()

	detector, err := snore.LoadDetector(cfg)
	if err != nil {
		log.Fatalf("ERROR: Failed to load model or scaler: %v", err)
	}

	files, err := collectTestFiles(tc.Inputs)
	if err != nil {
		log.Fatalf("ERROR: Failed to read inputs: %v", err)
	}
	if len(files) == 0 {
		log.Fatalf("ERROR: No .wav files found in %v", tc.Inputs)
	}
	log.Printf("Found %d clips\n", len(files))
	log.Println()

	report := TestReport{Timestamp: time.Now(), ModelPath: cfg.ModelPath, Threshold: detector.Threshold()}
	var totalMs float64
	for _, path := range files {
		pred := classify(detector, path)
		report.Predictions = append(report.Predictions, pred)
		if pred.Error != "" {
			fmt.Printf("%-40s  error: %s\n", filepath.Base(path), pred.Error)
			continue
		}
		report.TotalSamples++
		totalMs += pred.ProcessingTime
		label := "No snoring."
		if pred.IsSnoring {
			label = "Snoring detected!"
			report.SnoringCount++
		}
		fmt.Printf("%-40s  %s (probability: %.2f)\n", filepath.Base(path), label, pred.Probability)
	}
	if report.TotalSamples > 0 {
		report.AvgProcessing = totalMs / float64(report.TotalSamples)
	}
	log.Println()
	log.Printf("%d/%d clips classified as snoring, %.1f ms per clip\n",
		report.SnoringCount, report.TotalSamples, report.AvgProcessing)

	if tc.OutputCSV != "" {
		if err := saveCSV(report, tc.OutputCSV); err != nil {
			log.Printf("WARNING: Failed to save CSV: %v\n", err)
		} else {
			log.Printf("CSV results saved to: %s\n", tc.OutputCSV)
		}
	}
	if tc.OutputJSON != "" {
		if err := saveJSON(report, tc.OutputJSON); err != nil {
			log.Printf("WARNING: Failed to save JSON: %v\n", err)
		} else {
			log.Printf("JSON results saved to: %s\n", tc.OutputJSON)
		}
	}
}

func parseFlags(cfg *config.Config) TestConfig {
	tc := TestConfig{}

	flag.StringVar(&cfg.ModelPath, "model", cfg.ModelPath, "Path to the trained model")
	flag.StringVar(&cfg.ScalerPath, "scaler", cfg.ScalerPath, "Path to the fitted scaler")
	flag.Float64Var(&cfg.Threshold, "threshold", cfg.Threshold, "Decision threshold")
	flag.StringVar(&tc.OutputCSV, "csv", "", "Optional CSV output path")
	flag.StringVar(&tc.OutputJSON, "json", "", "Optional JSON output path")
	flag.Parse()

	tc.Inputs = flag.Args()
	if len(tc.Inputs) == 0 {
		log.Fatal("Usage: test_model [flags] <file.wav|dir> ...")
	}
	return tc
}

func classify(detector *snore.Detector, path string) TestPrediction {
	pred := TestPrediction{Filename: filepath.Base(path)}
	res, err := detector.ClassifyFile(path)
	if err != nil {
		pred.Error = err.Error()
		return pred
	}
	pred.Probability = res.Probability
	pred.IsSnoring = res.IsSnoring
	pred.ProcessingTime = float64(res.Latency.Microseconds()) / 1000
	pred.RMS = res.RMS
	pred.SNR = res.SNRDb
	return pred
}

func collectTestFiles(inputs []string) ([]string, error) {
	var files []string
	for _, in := range inputs {
		info, err := os.Stat(in)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, in)
			continue
		}
		found, err := snore.ListWavFiles(in)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	return files, nil
}

func saveCSV(report TestReport, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"filename", "probability", "is_snoring", "processing_ms", "rms", "snr_db", "error"}); err != nil {
		return err
	}
	for _, p := range report.Predictions {
		row := []string{
			p.Filename,
			strconv.FormatFloat(p.Probability, 'f', 4, 64),
			strconv.FormatBool(p.IsSnoring),
			strconv.FormatFloat(p.ProcessingTime, 'f', 2, 64),
			strconv.FormatFloat(p.RMS, 'f', 5, 64),
			strconv.FormatFloat(p.SNR, 'f', 2, 64),
			p.Error,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func saveJSON(report TestReport, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"snore-detection/config"
	"snore-detection/snore"

	"github.com/joho/godotenv"
)

// EvaluationConfig holds evaluation parameters
type EvaluationConfig struct {
	SnoreDir    string
	NonSnoreDir string
	ReportPath  string
	Workers     int
	Verbose     bool
}

// ClassMetrics tracks per-class performance
type ClassMetrics struct {
	ClassName     string                  `json:"className"`
	TotalSamples  int                     `json:"totalSamples"`
	CorrectCount  int                     `json:"correctCount"`
	Precision     float64                 `json:"precision"`
	Recall        float64                 `json:"recall"`
	F1            float64                 `json:"f1"`
	AvgConfidence float64                 `json:"avgConfidence"`
	ConfidenceStd float64                 `json:"confidenceStd"`
	Misclassified []MisclassificationInfo `json:"misclassified,omitempty"`
}

// MisclassificationInfo stores details of incorrect predictions
type MisclassificationInfo struct {
	Filename       string  `json:"filename"`
	TrueLabel      string  `json:"trueLabel"`
	PredictedLabel string  `json:"predictedLabel"`
	Probability    float64 `json:"probability"`
}

// EvaluationReport contains comprehensive evaluation results
type EvaluationReport struct {
	Timestamp       time.Time      `json:"timestamp"`
	ModelPath       string         `json:"modelPath"`
	ScalerPath      string         `json:"scalerPath"`
	Threshold       float64        `json:"threshold"`
	TotalSamples    int            `json:"totalSamples"`
	CorrectCount    int            `json:"correctCount"`
	OverallAccuracy float64        `json:"overallAccuracy"`
	ClassMetrics    []ClassMetrics `json:"classMetrics"`
	ConfusionMatrix [2][2]int      `json:"confusionMatrix"`
	ProcessingTime  time.Duration  `json:"processingTime"`
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ec := parseFlags(&cfg)

	log.SetFlags(log.Ldate | log.Ltime)
	log.Println("=== Model Evaluation Pipeline ===")
	log.Printf("Model: %s\n", cfg.ModelPath)
	log.Printf("Scaler: %s\n", cfg.ScalerPath)
	log.Printf("Threshold: %.2f\n", cfg.Threshold)
	log.Println()

	log.Println("Loading trained model...")
	detector, err := snore.LoadDetector(cfg)
	if err != nil {
		log.Fatalf("ERROR: Failed to load model: %v", err)
	}
	log.Println()

	log.Println("Extracting evaluation features...")
	started := time.Now()
	dataset, err := snore.BuildDataset(context.Background(), detector.Extractor(), ec.SnoreDir, ec.NonSnoreDir, ec.Workers)
	if err != nil {
		log.Fatalf("ERROR: Failed to read evaluation data: %v", err)
	}
	log.Printf("Evaluating %d clips (%d snoring, %d non-snoring)\n",
		dataset.Len(), dataset.Count(snore.LabelSnore), dataset.Count(snore.LabelNonSnore))

	report := evaluateModel(detector, dataset, cfg, ec)
	report.ProcessingTime = time.Since(started)

	printEvaluationReport(report)

	if ec.ReportPath != "" {
		if err := saveReport(report, ec.ReportPath); err != nil {
			log.Printf("WARNING: Failed to save report: %v\n", err)
		} else {
			log.Printf("\nReport saved to: %s\n", ec.ReportPath)
		}
	}

	log.Println()
	printVerdict(report)
}

func parseFlags(cfg *config.Config) EvaluationConfig {
	ec := EvaluationConfig{}

	flag.StringVar(&cfg.ModelPath, "model", cfg.ModelPath, "Path to the trained model")
	flag.StringVar(&cfg.ScalerPath, "scaler", cfg.ScalerPath, "Path to the fitted scaler")
	flag.Float64Var(&cfg.Threshold, "threshold", cfg.Threshold, "Decision threshold")
	flag.StringVar(&ec.SnoreDir, "snore-dir", cfg.SnoreDir, "Directory of snoring clips")
	flag.StringVar(&ec.NonSnoreDir, "non-snore-dir", cfg.NonSnoreDir, "Directory of non-snoring clips")
	flag.StringVar(&ec.ReportPath, "report", "evaluation_report.json", "Path to save evaluation report (empty to skip)")
	flag.IntVar(&ec.Workers, "workers", runtime.NumCPU(), "Parallel feature extraction workers")
	flag.BoolVar(&ec.Verbose, "verbose", false, "Log every prediction")
	flag.Parse()

	return ec
}

func evaluateModel(detector *snore.Detector, dataset *snore.Dataset, cfg config.Config, ec EvaluationConfig) EvaluationReport {
	report := EvaluationReport{
		Timestamp:  time.Now(),
		ModelPath:  cfg.ModelPath,
		ScalerPath: cfg.ScalerPath,
		Threshold:  cfg.Threshold,
	}

	var cm snore.ConfusionMatrix
	probabilities := map[int][]float64{}
	misclassified := map[int][]MisclassificationInfo{}

	for i, row := range dataset.Features {
		actual := dataset.Labels[i]
		prob, err := detector.PredictFeatures(row)
		if err != nil {
			log.Printf("WARNING: Failed to classify %s: %v\n", dataset.Paths[i], err)
			continue
		}

		predicted := snore.LabelNonSnore
		if snore.IsSnoring(prob, cfg.Threshold) {
			predicted = snore.LabelSnore
		}
		cm.Add(actual, predicted)

		// confidence in the true class
		confidence := prob
		if actual == snore.LabelNonSnore {
			confidence = 1 - prob
		}
		probabilities[actual] = append(probabilities[actual], confidence)

		if predicted != actual {
			misclassified[actual] = append(misclassified[actual], MisclassificationInfo{
				Filename:       filepath.Base(dataset.Paths[i]),
				TrueLabel:      snore.LabelName(actual),
				PredictedLabel: snore.LabelName(predicted),
				Probability:    prob,
			})
		}
		if ec.Verbose {
			log.Printf("  %-40s p=%.3f %s\n", truncate(filepath.Base(dataset.Paths[i]), 40), prob, snore.LabelName(predicted))
		}
	}

	report.TotalSamples = cm.Total()
	report.CorrectCount = cm[0][0] + cm[1][1]
	report.OverallAccuracy = cm.Accuracy() * 100
	report.ConfusionMatrix = cm

	for _, label := range []int{snore.LabelNonSnore, snore.LabelSnore} {
		confs := probabilities[label]
		mean := average(confs)
		report.ClassMetrics = append(report.ClassMetrics, ClassMetrics{
			ClassName:     snore.LabelName(label),
			TotalSamples:  cm[label][0] + cm[label][1],
			CorrectCount:  cm[label][label],
			Precision:     cm.Precision(label),
			Recall:        cm.Recall(label),
			F1:            cm.F1(label),
			AvgConfidence: mean,
			ConfidenceStd: stddev(confs, mean),
			Misclassified: misclassified[label],
		})
	}
	return report
}

func printEvaluationReport(report EvaluationReport) {
	log.Println()
	log.Println("=" + strings.Repeat("=", 79))
	log.Println("EVALUATION RESULTS")
	log.Println("=" + strings.Repeat("=", 79))
	log.Println()

	log.Printf("Overall Accuracy: %.2f%% (%d/%d correct)\n",
		report.OverallAccuracy, report.CorrectCount, report.TotalSamples)
	log.Printf("Processing Time: %.2f seconds\n", report.ProcessingTime.Seconds())
	log.Println()

	log.Println("Per-Class Performance:")
	log.Println(strings.Repeat("-", 80))
	log.Printf("%-12s %9s %9s %9s %11s %9s\n", "Class", "Precision", "Recall", "F1", "Confidence", "Samples")
	log.Println(strings.Repeat("-", 80))
	for _, m := range report.ClassMetrics {
		status := "✓"
		if m.Recall < 0.7 {
			status = "⚠"
		}
		log.Printf("%-12s %9.3f %9.3f %9.3f %10.1f%% %9d   %s\n",
			m.ClassName, m.Precision, m.Recall, m.F1, m.AvgConfidence*100, m.TotalSamples, status)
	}
	log.Println()

	cm := snore.ConfusionMatrix(report.ConfusionMatrix)
	log.Println("Confusion Matrix:")
	log.Println(strings.Repeat("-", 80))
	fmt.Println(cm.String())
	log.Println()

	printMisclassifications(report.ClassMetrics)
}

func printMisclassifications(metrics []ClassMetrics) {
	totalMisclassified := 0
	for _, m := range metrics {
		totalMisclassified += len(m.Misclassified)
	}

	if totalMisclassified == 0 {
		log.Println("✓ No misclassifications!")
		return
	}

	log.Printf("Misclassifications (%d total):\n", totalMisclassified)
	log.Println(strings.Repeat("-", 80))

	for _, m := range metrics {
		if len(m.Misclassified) == 0 {
			continue
		}
		log.Printf("\n%s:", m.ClassName)
		for _, misc := range m.Misclassified {
			log.Printf("  %s → predicted as '%s' (p=%.3f)\n",
				misc.Filename, misc.PredictedLabel, misc.Probability)
		}
	}
	log.Println()
}

func printVerdict(report EvaluationReport) {
	log.Println("=" + strings.Repeat("=", 79))
	log.Println("VERDICT")
	log.Println("=" + strings.Repeat("=", 79))

	accuracy := report.OverallAccuracy

	var verdict string
	var recommendation string

	if accuracy >= 90 {
		verdict = "✓ EXCELLENT"
		recommendation = "Model is ready for overnight use."
	} else if accuracy >= 80 {
		verdict = "✓ GOOD"
		recommendation = "Model works well. Consider recording more varied nights."
	} else if accuracy >= 70 {
		verdict = "⚠ FAIR"
		recommendation = "Model has significant room for improvement. Add more labelled clips."
	} else {
		verdict = "✗ POOR"
		recommendation = "Model needs substantial improvement. Check labels and clip quality."
	}

	log.Printf("Overall Assessment: %s\n", verdict)
	log.Printf("Accuracy: %.2f%%\n", accuracy)
	log.Printf("Recommendation: %s\n", recommendation)
	log.Println("=" + strings.Repeat("=", 79))
}

func saveReport(report EvaluationReport, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	return math.Sqrt(variance / float64(len(values)))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-2] + ".."
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"snore-detection/cnn"
	"snore-detection/config"
	"snore-detection/snore"
	"snore-detection/utils"

	"github.com/joho/godotenv"
)

// Config holds training configuration
type Config struct {
	SnoreDir     string
	NonSnoreDir  string
	ScalerPath   string
	ModelPath    string
	HistoryPath  string
	TestFraction float64
	Seed         uint64
	Epochs       int
	BatchSize    int
	Patience     int
	Workers      int
	Threshold    float64
}

// TrainingReport is written next to the model when -history is set.
type TrainingReport struct {
	Timestamp       time.Time        `json:"timestamp"`
	TrainSamples    int              `json:"trainSamples"`
	TestSamples     int              `json:"testSamples"`
	Epochs          []cnn.EpochStats `json:"epochs"`
	BestEpoch       int              `json:"bestEpoch"`
	StoppedEarly    bool             `json:"stoppedEarly"`
	TestLoss        float64          `json:"testLoss"`
	TestAccuracy    float64          `json:"testAccuracy"`
	ConfusionMatrix [2][2]int        `json:"confusionMatrix"`
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	tc := parseFlags(cfg)

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("=== Snore Classifier Training Pipeline ===\n")
	log.Printf("Snoring clips:     %s\n", tc.SnoreDir)
	log.Printf("Non-snoring clips: %s\n", tc.NonSnoreDir)
	log.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	startTime := time.Now()

	// Step 1: Features
	log.Println("Step 1: Extracting MFCC features...")
	extractor, err := snore.NewExtractor(snore.FeatureConfigFrom(cfg))
	if err != nil {
		log.Fatalf("ERROR: Invalid feature configuration: %v", err)
	}
	dataset, err := snore.BuildDataset(ctx, extractor, tc.SnoreDir, tc.NonSnoreDir, tc.Workers)
	if err != nil {
		log.Fatalf("ERROR: Failed to build dataset: %v", err)
	}
	n, coeffs, frames := dataset.Shape()
	log.Printf("Dataset shape: (%d, %d, %d)\n", n, coeffs, frames)
	log.Printf("  - snoring:     %d\n", dataset.Count(snore.LabelSnore))
	log.Printf("  - non-snoring: %d\n", dataset.Count(snore.LabelNonSnore))
	if n < 2 {
		log.Fatalf("ERROR: Need at least two clips to train, found %d", n)
	}
	log.Println()

	// Step 2: Split and scale
	log.Println("Step 2: Splitting and scaling...")
	trainIdx, testIdx, err := snore.StratifiedSplit(dataset.Labels, tc.TestFraction, tc.Seed)
	if err != nil {
		log.Fatalf("ERROR: Failed to split dataset: %v", err)
	}
	train := dataset.Subset(trainIdx)
	test := dataset.Subset(testIdx)
	log.Printf("Train: %d, Test: %d\n", train.Len(), test.Len())

	scaler, err := snore.FitScaler(train.Features)
	if err != nil {
		log.Fatalf("ERROR: Failed to fit scaler: %v", err)
	}
	trainX, err := scaler.TransformAll(train.Features)
	if err != nil {
		log.Fatalf("ERROR: Failed to scale training rows: %v", err)
	}
	testX, err := scaler.TransformAll(test.Features)
	if err != nil {
		log.Fatalf("ERROR: Failed to scale test rows: %v", err)
	}
	log.Println()

	// Step 3: Train
	log.Println("Step 3: Training CNN...")
	netCfg := cnn.DefaultConfig(coeffs, frames)
	netCfg.Seed = tc.Seed
	network, err := cnn.New(netCfg)
	if err != nil {
		log.Fatalf("ERROR: Failed to build network: %v", err)
	}
	log.Printf("Trainable parameters: %d\n", network.ParamCount())

	trainCfg := cnn.DefaultTrainConfig()
	trainCfg.Epochs = tc.Epochs
	trainCfg.BatchSize = tc.BatchSize
	trainCfg.Patience = tc.Patience
	trainCfg.Seed = tc.Seed
	trainCfg.OnEpoch = func(s cnn.EpochStats) {
		log.Printf("Epoch %2d/%d - loss: %.4f - accuracy: %.4f - val_loss: %.4f - val_accuracy: %.4f\n",
			s.Epoch, tc.Epochs, s.Loss, s.Accuracy, s.ValLoss, s.ValAccuracy)
	}

	history, err := network.Fit(ctx, trainX, train.Labels, trainCfg)
	if err != nil {
		log.Fatalf("ERROR: Training failed: %v", err)
	}
	if history.StoppedEarly {
		log.Printf("Early stopping, restored weights from epoch %d (val_loss %.4f)\n", history.BestEpoch, history.BestLoss)
	}
	log.Println()

	// Step 4: Evaluate
	log.Println("Step 4: Evaluating on held-out clips...")
	report := TrainingReport{
		Timestamp:    time.Now(),
		TrainSamples: train.Len(),
		TestSamples:  test.Len(),
		Epochs:       history.Epochs,
		BestEpoch:    history.BestEpoch,
		StoppedEarly: history.StoppedEarly,
	}
	if test.Len() > 0 {
		loss, acc, err := network.Evaluate(testX, test.Labels)
		if err != nil {
			log.Fatalf("ERROR: Evaluation failed: %v", err)
		}
		probs, err := network.PredictBatch(testX)
		if err != nil {
			log.Fatalf("ERROR: Prediction failed: %v", err)
		}
		var cm snore.ConfusionMatrix
		for i, p := range probs {
			predicted := snore.LabelNonSnore
			if snore.IsSnoring(p, tc.Threshold) {
				predicted = snore.LabelSnore
			}
			cm.Add(test.Labels[i], predicted)
		}
		report.TestLoss = loss
		report.TestAccuracy = acc
		report.ConfusionMatrix = cm
		log.Printf("Test loss: %.4f, test accuracy: %.4f\n", loss, acc)
		fmt.Println()
		fmt.Println("Confusion matrix:")
		fmt.Println(cm.String())
	} else {
		log.Println("WARNING: No held-out clips, skipping evaluation")
	}
	log.Println()

	// Step 5: Save
	log.Println("Step 5: Saving artifacts...")
	if err := scaler.Save(tc.ScalerPath); err != nil {
		log.Fatalf("ERROR: Failed to save scaler: %v", err)
	}
	if err := network.Save(tc.ModelPath); err != nil {
		log.Fatalf("ERROR: Failed to save model: %v", err)
	}
	log.Printf("Scaler saved to: %s\n", tc.ScalerPath)
	log.Printf("Model saved to:  %s\n", tc.ModelPath)
	if tc.HistoryPath != "" {
		if err := saveReport(report, tc.HistoryPath); err != nil {
			log.Printf("WARNING: Failed to save training history: %v\n", err)
		} else {
			log.Printf("History saved to: %s\n", tc.HistoryPath)
		}
	}

	log.Println()
	log.Printf("%s\n", strings.Repeat("=", 79))
	log.Printf("Training finished in %s\n", time.Since(startTime).Round(time.Millisecond))
}

func parseFlags(cfg config.Config) Config {
	tc := Config{}
	var seed uint

	flag.StringVar(&tc.SnoreDir, "snore-dir", cfg.SnoreDir, "Directory of snoring clips")
	flag.StringVar(&tc.NonSnoreDir, "non-snore-dir", cfg.NonSnoreDir, "Directory of non-snoring clips")
	flag.StringVar(&tc.ScalerPath, "scaler", cfg.ScalerPath, "Output path for the fitted scaler")
	flag.StringVar(&tc.ModelPath, "model", cfg.ModelPath, "Output path for the trained model")
	flag.StringVar(&tc.HistoryPath, "history", "", "Optional JSON file for the epoch history")
	flag.Float64Var(&tc.TestFraction, "test-fraction", 0.2, "Share of clips held out for testing")
	flag.UintVar(&seed, "seed", 42, "Seed for the split, initialisation and shuffling")
	flag.IntVar(&tc.Epochs, "epochs", 50, "Maximum number of epochs")
	flag.IntVar(&tc.BatchSize, "batch", 16, "Mini-batch size")
	flag.IntVar(&tc.Patience, "patience", 5, "Epochs without val_loss improvement before stopping")
	flag.IntVar(&tc.Workers, "workers", runtime.NumCPU(), "Parallel feature extraction workers")
	flag.Float64Var(&tc.Threshold, "threshold", cfg.Threshold, "Decision threshold for the test report")
	flag.Parse()
	tc.Seed = uint64(seed)

	for _, dir := range []string{tc.SnoreDir, tc.NonSnoreDir} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			log.Fatalf("ERROR: Directory does not exist: %s", dir)
		}
	}
	return tc
}

func saveReport(report TrainingReport, path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := utils.CreateFolder(dir); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

package main

import (
	"flag"
	"fmt"
	"log"
	"math"

	"snore-detection/config"
	"snore-detection/snore"

	"github.com/joho/godotenv"
)

// Test if feature extraction is deterministic
func main() {
	runs := flag.Int("runs", 5, "Number of extractions to compare")
	flag.Parse()
	if flag.NArg() < 1 || *runs < 2 {
		log.Fatal("Usage: test_determinism [-runs N] <path-to-wav-file>")
	}
	_ = godotenv.Load()

	testFile := flag.Arg(0)
	log.Printf("Testing determinism with: %s\n", testFile)

	extractor, err := snore.NewExtractor(snore.FeatureConfigFrom(config.Load()))
	if err != nil {
		log.Fatalf("Invalid feature configuration: %v", err)
	}

	var featureSets [][]float64
	for i := 0; i < *runs; i++ {
		matrix, err := extractor.ExtractFile(testFile)
		if err != nil {
			log.Fatalf("Run %d failed: %v", i+1, err)
		}
		featureSets = append(featureSets, matrix.Data)
		log.Printf("Run %d: first features: %.10f, %.10f, %.10f",
			i+1, matrix.Data[0], matrix.Data[1], matrix.Data[2])
	}

	fmt.Println("\n=== Determinism Check ===")
	allIdentical := true
	maxDiff := 0.0
	for i := 1; i < *runs; i++ {
		for j := range featureSets[0] {
			a, b := featureSets[0][j], featureSets[i][j]
			if math.Float64bits(a) == math.Float64bits(b) {
				continue
			}
			allIdentical = false
			if diff := math.Abs(a - b); diff > maxDiff {
				maxDiff = diff
			}
		}
	}

	if allIdentical {
		fmt.Printf("✅ All %d runs produced bit-identical features (%d values)\n", *runs, len(featureSets[0]))
	} else {
		fmt.Printf("❌ Feature extraction is NON-DETERMINISTIC (max diff: %e)\n", maxDiff)
	}
}

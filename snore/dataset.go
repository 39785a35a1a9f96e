package snore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"snore-detection/utils"
)

const (
	LabelNonSnore = 0
	LabelSnore    = 1
)

// LabelName returns the display name of a label.
func LabelName(label int) string {
	if label == LabelSnore {
		return "Snore"
	}
	return "Non-Snore"
}

// Dataset holds flattened feature matrices in the order they were listed.
type Dataset struct {
	Coefficients int
	Frames       int
	Features     [][]float64
	Labels       []int
	Paths        []string
}

// Len returns the number of examples.
func (d *Dataset) Len() int {
	return len(d.Labels)
}

// Shape returns (examples, coefficients, frames).
func (d *Dataset) Shape() (int, int, int) {
	return len(d.Features), d.Coefficients, d.Frames
}

// Count returns how many examples carry label.
func (d *Dataset) Count(label int) int {
	n := 0
	for _, l := range d.Labels {
		if l == label {
			n++
		}
	}
	return n
}

// Subset returns a dataset with the rows at idx, in that order. Rows are shared,
// not copied.
func (d *Dataset) Subset(idx []int) *Dataset {
	out := &Dataset{
		Coefficients: d.Coefficients,
		Frames:       d.Frames,
		Features:     make([][]float64, len(idx)),
		Labels:       make([]int, len(idx)),
		Paths:        make([]string, len(idx)),
	}
	for i, j := range idx {
		out.Features[i] = d.Features[j]
		out.Labels[i] = d.Labels[j]
		if j < len(d.Paths) {
			out.Paths[i] = d.Paths[j]
		}
	}
	return out
}

// ListWavFiles returns the .wav files directly inside dir in directory order.
func ListWavFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.ToLower(filepath.Ext(entry.Name())) == ".wav" {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	return files, nil
}

// BuildDataset extracts every snore clip (label 1) followed by every non-snore
// clip (label 0). Files that fail to load are logged and left out. Extraction
// runs on up to workers goroutines; workers <= 0 uses GOMAXPROCS.
func BuildDataset(ctx context.Context, extractor *Extractor, snoreDir, nonSnoreDir string, workers int) (*Dataset, error) {
	snoreFiles, err := ListWavFiles(snoreDir)
	if err != nil {
		return nil, err
	}
	nonSnoreFiles, err := ListWavFiles(nonSnoreDir)
	if err != nil {
		return nil, err
	}

	paths := append(append([]string{}, snoreFiles...), nonSnoreFiles...)
	labels := make([]int, len(paths))
	for i := range snoreFiles {
		labels[i] = LabelSnore
	}

	return buildFromFiles(ctx, extractor, paths, labels, workers)
}

func buildFromFiles(ctx context.Context, extractor *Extractor, paths []string, labels []int, workers int) (*Dataset, error) {
	logger := utils.GetLogger()
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]*FeatureMatrix, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			matrix, err := extractor.ExtractFile(path)
			if err != nil {
				logger.Warn("skipping unreadable clip",
					slog.String("path", path),
					slog.Any("error", err),
				)
				return nil
			}
			results[i] = matrix
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cfg := extractor.Config()
	ds := &Dataset{Coefficients: cfg.NumCoefficients, Frames: cfg.FrameCount}
	for i, matrix := range results {
		if matrix == nil {
			continue
		}
		ds.Features = append(ds.Features, matrix.Data)
		ds.Labels = append(ds.Labels, labels[i])
		ds.Paths = append(ds.Paths, paths[i])
	}
	return ds, nil
}

package snore

// Feature Scaling
//
// After the per-clip normalisation every position of the flattened matrix is
// standardised once more with statistics taken over the training set, the
// way a column-wise standard scaler works. The statistics are computed only
// by FitScaler and never change afterwards: live inference must reuse the
// exact numbers the model was trained with.

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// ErrDimensionMismatch is returned when a vector does not match the fitted width.
var ErrDimensionMismatch = errors.New("feature dimension mismatch")

// Scaler standardises flattened feature matrices column by column.
type Scaler struct {
	mean   []float64
	stddev []float64
}

type scalerFile struct {
	Mean   []float64 `json:"mean"`
	Stddev []float64 `json:"stddev"`
}

// FitScaler computes per-column mean and population standard deviation over
// rows. Constant columns get a standard deviation of 1.
func FitScaler(rows [][]float64) (*Scaler, error) {
	if len(rows) == 0 {
		return nil, errors.New("no rows provided")
	}

	featureCount := len(rows[0])
	if featureCount == 0 {
		return nil, errors.New("rows have no features")
	}

	mean := make([]float64, featureCount)
	for _, row := range rows {
		if len(row) != featureCount {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(row), featureCount)
		}
		for i, val := range row {
			mean[i] += val
		}
	}
	for i := range mean {
		mean[i] /= float64(len(rows))
	}

	stddev := make([]float64, featureCount)
	for _, row := range rows {
		for i, val := range row {
			diff := val - mean[i]
			stddev[i] += diff * diff
		}
	}
	for i := range stddev {
		stddev[i] = math.Sqrt(stddev[i] / float64(len(rows)))
		if stddev[i] < 1e-10 {
			stddev[i] = 1.0
		}
	}

	return &Scaler{mean: mean, stddev: stddev}, nil
}

// Dim is the number of columns the scaler was fitted on.
func (s *Scaler) Dim() int {
	return len(s.mean)
}

// Transform returns a standardised copy of features.
func (s *Scaler) Transform(features []float64) ([]float64, error) {
	if len(features) != len(s.mean) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(features), len(s.mean))
	}

	scaled := make([]float64, len(features))
	for i, val := range features {
		scaled[i] = (val - s.mean[i]) / s.stddev[i]
	}
	return scaled, nil
}

// TransformAll applies Transform to every row.
func (s *Scaler) TransformAll(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		scaled, err := s.Transform(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = scaled
	}
	return out, nil
}

// Save writes the scaler as JSON next to path and renames it into place.
func (s *Scaler) Save(path string) error {
	data, err := json.Marshal(scalerFile{Mean: s.mean, Stddev: s.stddev})
	if err != nil {
		return fmt.Errorf("failed to marshal scaler: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create scaler directory: %w", err)
		}
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// LoadScaler reads a scaler written by Save.
func LoadScaler(path string) (*Scaler, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scaler: %w", err)
	}

	var file scalerFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode scaler: %w", err)
	}
	if len(file.Mean) == 0 || len(file.Mean) != len(file.Stddev) {
		return nil, fmt.Errorf("scaler %s is malformed: %d means, %d stddevs", path, len(file.Mean), len(file.Stddev))
	}
	for i, sd := range file.Stddev {
		if sd <= 0 || math.IsNaN(sd) {
			return nil, fmt.Errorf("scaler %s has invalid stddev %v at column %d", path, sd, i)
		}
	}
	return &Scaler{mean: file.Mean, stddev: file.Stddev}, nil
}

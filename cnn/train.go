package cnn

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// TrainConfig controls Fit.
type TrainConfig struct {
	Epochs          int
	BatchSize       int
	ValidationSplit float64
	LearningRate    float64
	Beta1           float64
	Beta2           float64
	Epsilon         float64
	// Patience is the number of epochs without a validation loss improvement
	// before training stops. Zero disables early stopping.
	Patience int
	Seed     uint64
	OnEpoch  func(EpochStats)
}

// DefaultTrainConfig mirrors the reference training run.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Epochs:          50,
		BatchSize:       16,
		ValidationSplit: 0.2,
		LearningRate:    1e-3,
		Beta1:           0.9,
		Beta2:           0.999,
		Epsilon:         1e-7,
		Patience:        5,
		Seed:            42,
	}
}

// EpochStats summarises one epoch. Validation fields are NaN when no rows
// were held out.
type EpochStats struct {
	Epoch       int     `json:"epoch"`
	Loss        float64 `json:"loss"`
	Accuracy    float64 `json:"accuracy"`
	ValLoss     float64 `json:"valLoss"`
	ValAccuracy float64 `json:"valAccuracy"`
}

// History is returned by Fit.
type History struct {
	Epochs       []EpochStats `json:"epochs"`
	BestEpoch    int          `json:"bestEpoch"`
	BestLoss     float64      `json:"bestLoss"`
	StoppedEarly bool         `json:"stoppedEarly"`
}

type adam struct {
	cfg  TrainConfig
	step int
	m, v [][]float64
}

func newAdam(cfg TrainConfig, params []*param) *adam {
	a := &adam{cfg: cfg}
	for _, p := range params {
		a.m = append(a.m, make([]float64, len(p.w)))
		a.v = append(a.v, make([]float64, len(p.w)))
	}
	return a
}

func (a *adam) update(params []*param) {
	a.step++
	b1, b2 := a.cfg.Beta1, a.cfg.Beta2
	lr := a.cfg.LearningRate * math.Sqrt(1-math.Pow(b2, float64(a.step))) / (1 - math.Pow(b1, float64(a.step)))
	for i, p := range params {
		m, v := a.m[i], a.v[i]
		for j, g := range p.g {
			m[j] = b1*m[j] + (1-b1)*g
			v[j] = b2*v[j] + (1-b2)*g*g
			p.w[j] -= lr * m[j] / (math.Sqrt(v[j]) + a.cfg.Epsilon)
		}
	}
}

// Fit trains the network with binary cross-entropy and Adam. The last
// ValidationSplit fraction of the rows, in the order given, is held out for
// validation and early stopping. On return the network holds the weights of
// the epoch with the lowest monitored loss.
func (n *Network) Fit(ctx context.Context, inputs [][]float64, labels []int, tc TrainConfig) (*History, error) {
	if len(inputs) == 0 {
		return nil, errors.New("no training rows")
	}
	if len(inputs) != len(labels) {
		return nil, fmt.Errorf("got %d rows and %d labels", len(inputs), len(labels))
	}
	if tc.Epochs <= 0 || tc.BatchSize <= 0 {
		return nil, fmt.Errorf("epochs and batch size must be positive")
	}
	if tc.ValidationSplit < 0 || tc.ValidationSplit >= 1 {
		return nil, fmt.Errorf("validation split must be in [0, 1), got %v", tc.ValidationSplit)
	}
	if err := n.checkInputs(inputs); err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	splitAt := trainingRows(len(inputs), tc.ValidationSplit)
	trainX, trainY := inputs[:splitAt], labels[:splitAt]
	valX, valY := inputs[splitAt:], labels[splitAt:]

	params := n.trainable()
	opt := newAdam(tc, params)
	rng := rand.New(rand.NewPCG(tc.Seed, tc.Seed))
	order := make([]int, len(trainX))
	for i := range order {
		order[i] = i
	}

	history := &History{BestEpoch: -1, BestLoss: math.Inf(1)}
	var best [][]float64
	wait := 0

	for epoch := 1; epoch <= tc.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return history, err
		}
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var lossSum float64
		correct := 0
		for start := 0; start < len(order); start += tc.BatchSize {
			end := min(start+tc.BatchSize, len(order))
			batchX := make([][]float64, 0, end-start)
			batchY := make([]float64, 0, end-start)
			for _, idx := range order[start:end] {
				batchX = append(batchX, trainX[idx])
				batchY = append(batchY, float64(trainY[idx]))
			}

			n.zeroGrad()
			logits := n.forward(batchX, true)
			dLogits := make([]float64, len(logits))
			for i, z := range logits {
				lossSum += bceWithLogits(z, batchY[i])
				if (sigmoid(z) > 0.5) == (batchY[i] == 1) {
					correct++
				}
				dLogits[i] = (sigmoid(z) - batchY[i]) / float64(len(logits))
			}
			n.backward(dLogits)
			opt.update(params)
		}

		stats := EpochStats{
			Epoch:       epoch,
			Loss:        lossSum / float64(len(trainX)),
			Accuracy:    float64(correct) / float64(len(trainX)),
			ValLoss:     math.NaN(),
			ValAccuracy: math.NaN(),
		}
		monitored := stats.Loss
		if len(valX) > 0 {
			stats.ValLoss, stats.ValAccuracy = n.evaluate(valX, valY, tc.BatchSize)
			monitored = stats.ValLoss
		}
		history.Epochs = append(history.Epochs, stats)
		if tc.OnEpoch != nil {
			tc.OnEpoch(stats)
		}

		if monitored < history.BestLoss {
			history.BestLoss = monitored
			history.BestEpoch = epoch
			best = n.snapshot()
			wait = 0
		} else {
			wait++
			if tc.Patience > 0 && wait >= tc.Patience {
				history.StoppedEarly = true
				break
			}
		}
	}

	if best != nil {
		if err := n.restore(best); err != nil {
			return history, fmt.Errorf("restore best weights: %w", err)
		}
	}
	return history, nil
}

// trainingRows returns how many leading rows are trained on. The training
// share is floored, so small sets still hold out a validation row. At least
// one row is always trained on.
func trainingRows(n int, validationSplit float64) int {
	splitAt := int(float64(n) * (1 - validationSplit))
	return max(1, min(splitAt, n))
}

// Evaluate returns mean loss and accuracy over rows in inference mode.
func (n *Network) Evaluate(inputs [][]float64, labels []int) (loss, accuracy float64, err error) {
	if len(inputs) == 0 || len(inputs) != len(labels) {
		return 0, 0, fmt.Errorf("got %d rows and %d labels", len(inputs), len(labels))
	}
	if err := n.checkInputs(inputs); err != nil {
		return 0, 0, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	loss, accuracy = n.evaluate(inputs, labels, 32)
	return loss, accuracy, nil
}

func (n *Network) evaluate(inputs [][]float64, labels []int, batchSize int) (float64, float64) {
	var lossSum float64
	correct := 0
	for start := 0; start < len(inputs); start += batchSize {
		end := min(start+batchSize, len(inputs))
		logits := n.forward(inputs[start:end], false)
		for i, z := range logits {
			y := float64(labels[start+i])
			lossSum += bceWithLogits(z, y)
			if (sigmoid(z) > 0.5) == (y == 1) {
				correct++
			}
		}
	}
	return lossSum / float64(len(inputs)), float64(correct) / float64(len(inputs))
}

// Package live runs the capture and classify loop over a microphone stream.
//
// The audio backend pushes blocks into a buffered channel from its own
// goroutine. The loop drains that channel for one window at a time, then
// classifies the concatenated window synchronously before capturing again.
package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"snore-detection/snore"
	"snore-detection/utils"
)

// ErrSourceClosed is returned when the audio source stops delivering blocks.
var ErrSourceClosed = errors.New("audio source closed")

// State is the loop's position in its capture cycle.
type State int32

const (
	StateCapturing State = iota
	StateClassifying
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCapturing:
		return "CAPTURING"
	case StateClassifying:
		return "CLASSIFYING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Source delivers mono float32 blocks asynchronously.
type Source interface {
	Start() error
	Blocks() <-chan []float32
	Stop() error
	Close() error
}

// Detector classifies one window of mono samples.
type Detector interface {
	Classify(samples []float64) (snore.Result, error)
}

// WindowReport describes the outcome of one window.
type WindowReport struct {
	Timestamp time.Time
	Window    time.Duration
	Samples   []float64
	Result    snore.Result
	NoAudio   bool
	Err       error
}

// Reporter receives every window outcome after it has been printed. Report
// runs on the loop goroutine and must not block for long.
type Reporter interface {
	Report(report WindowReport)
}

// Options configures a Loop.
type Options struct {
	Window    time.Duration
	Console   io.Writer
	Reporters []Reporter
}

type Loop struct {
	source    Source
	detector  Detector
	window    time.Duration
	console   *Console
	reporters []Reporter
	logger    *slog.Logger
	state     atomic.Int32
}

func NewLoop(source Source, detector Detector, opts Options) (*Loop, error) {
	if source == nil || detector == nil {
		return nil, errors.New("loop requires a source and a detector")
	}
	if opts.Window <= 0 {
		return nil, fmt.Errorf("invalid window %v", opts.Window)
	}
	out := opts.Console
	if out == nil {
		out = os.Stdout
	}
	return &Loop{
		source:    source,
		detector:  detector,
		window:    opts.Window,
		console:   NewConsole(out),
		reporters: opts.Reporters,
		logger:    utils.GetLogger(),
	}, nil
}

// State returns the current state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

// Run captures and classifies windows until ctx is cancelled or the source
// closes. Cancellation is the normal way to stop and returns nil. The source
// is stopped and closed on every return path.
func (l *Loop) Run(ctx context.Context) error {
	var releaseOnce sync.Once
	release := func() {
		releaseOnce.Do(func() {
			if err := l.source.Stop(); err != nil {
				l.logger.Warn("failed to stop audio stream", slog.Any("error", err))
			}
			if err := l.source.Close(); err != nil {
				l.logger.Warn("failed to close audio stream", slog.Any("error", err))
			}
		})
	}
	defer func() {
		release()
		l.setState(StateStopped)
	}()

	if err := l.source.Start(); err != nil {
		return fmt.Errorf("start audio stream: %w", err)
	}
	l.console.Started()

	for {
		l.setState(StateCapturing)
		blocks, err := l.collect(ctx)
		if ctx.Err() != nil {
			l.console.Stopped()
			return nil
		}

		if len(blocks) == 0 {
			if err != nil {
				return err
			}
			l.console.NoAudio()
			l.report(WindowReport{Timestamp: time.Now(), Window: l.window, NoAudio: true})
			continue
		}

		l.classify(blocks)
		if err != nil {
			return err
		}
	}
}

// collect gathers blocks until the window has elapsed or a single receive
// waits a full window without data.
func (l *Loop) collect(ctx context.Context) ([][]float32, error) {
	var blocks [][]float32
	start := time.Now()
	timeout := time.NewTimer(l.window)
	defer timeout.Stop()

	for time.Since(start) < l.window {
		timeout.Reset(l.window)
		select {
		case <-ctx.Done():
			return blocks, ctx.Err()
		case block, ok := <-l.source.Blocks():
			if !ok {
				return blocks, ErrSourceClosed
			}
			blocks = append(blocks, block)
		case <-timeout.C:
			return blocks, nil
		}
	}
	return blocks, nil
}

func (l *Loop) classify(blocks [][]float32) {
	l.setState(StateClassifying)
	samples := concat(blocks)
	report := WindowReport{Timestamp: time.Now(), Window: l.window, Samples: samples}

	result, err := l.detector.Classify(samples)
	if err != nil {
		l.console.Error(err)
		l.logger.Error("window classification failed",
			slog.Int("samples", len(samples)),
			slog.Any("error", err),
		)
		report.Err = err
		l.report(report)
		return
	}

	l.console.Result(result)
	l.logger.Debug("window classified",
		slog.Float64("probability", result.Probability),
		slog.Bool("isSnoring", result.IsSnoring),
		slog.Int("samples", len(samples)),
		slog.Duration("latency", result.Latency),
	)
	report.Result = result
	l.report(report)
}

func (l *Loop) report(r WindowReport) {
	for _, reporter := range l.reporters {
		reporter.Report(r)
	}
}

func concat(blocks [][]float32) []float64 {
	total := 0
	for _, b := range blocks {
		total += len(b)
	}
	out := make([]float64, 0, total)
	for _, b := range blocks {
		for _, v := range b {
			out = append(out, float64(v))
		}
	}
	return out
}

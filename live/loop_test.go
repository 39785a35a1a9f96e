package live

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"snore-detection/snore"
)

type fakeSource struct {
	blocks   chan []float32
	startErr error
	started  atomic.Int32
	stopped  atomic.Int32
	closed   atomic.Int32
}

func newFakeSource(size int) *fakeSource {
	return &fakeSource{blocks: make(chan []float32, size)}
}

func (s *fakeSource) Start() error {
	s.started.Add(1)
	return s.startErr
}

func (s *fakeSource) Blocks() <-chan []float32 { return s.blocks }

func (s *fakeSource) Stop() error {
	s.stopped.Add(1)
	return nil
}

func (s *fakeSource) Close() error {
	s.closed.Add(1)
	return nil
}

type stubDetector struct {
	mu      sync.Mutex
	calls   int
	results []snore.Result
	errs    []error
	seen    [][]float64
}

func (d *stubDetector) Classify(samples []float64) (snore.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.calls
	d.calls++
	d.seen = append(d.seen, samples)

	var err error
	if i < len(d.errs) {
		err = d.errs[i]
	}
	if err != nil {
		return snore.Result{}, err
	}
	res := snore.Result{Threshold: 0.5}
	if len(d.results) > 0 {
		res = d.results[min(i, len(d.results)-1)]
	}
	res.Samples = len(samples)
	return res, nil
}

func (d *stubDetector) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// reporterFunc adapts a function to Reporter.
type reporterFunc func(WindowReport)

func (f reporterFunc) Report(r WindowReport) { f(r) }

// syncBuffer guards a bytes.Buffer written by the loop goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// feed keeps pushing blocks until ctx is done.
func feed(ctx context.Context, s *fakeSource, block []float32) {
	go func() {
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case s.blocks <- block:
				default:
				}
			}
		}
	}()
}

func runLoop(t *testing.T, ctx context.Context, src *fakeSource, det Detector, window time.Duration, reporters ...Reporter) (*Loop, *syncBuffer, error) {
	t.Helper()
	out := &syncBuffer{}
	loop, err := NewLoop(src, det, Options{Window: window, Console: out, Reporters: reporters})
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	err = loop.Run(ctx)
	return loop, out, err
}

func assertReleased(t *testing.T, src *fakeSource) {
	t.Helper()
	if got := src.stopped.Load(); got != 1 {
		t.Errorf("Stop called %d times, want 1", got)
	}
	if got := src.closed.Load(); got != 1 {
		t.Errorf("Close called %d times, want 1", got)
	}
}

func TestNoAudioSkipsClassification(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	src := newFakeSource(4)
	det := &stubDetector{}
	var noAudio atomic.Int32
	rep := reporterFunc(func(r WindowReport) {
		if r.NoAudio {
			noAudio.Add(1)
		}
	})

	loop, out, err := runLoop(t, ctx, src, det, 20*time.Millisecond, rep)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if det.callCount() != 0 {
		t.Errorf("detector called %d times for empty windows", det.callCount())
	}
	if !strings.Contains(out.String(), "No audio detected.") {
		t.Errorf("missing no-audio notice in %q", out.String())
	}
	if noAudio.Load() == 0 {
		t.Error("reporters did not see a no-audio window")
	}
	if loop.State() != StateStopped {
		t.Errorf("state = %v, want STOPPED", loop.State())
	}
	assertReleased(t, src)
}

func TestSilenceReportsNoSnoring(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newFakeSource(64)
	feed(ctx, src, make([]float32, 256))
	det := &stubDetector{results: []snore.Result{{Probability: 0.1, Threshold: 0.5}}}

	var got WindowReport
	rep := reporterFunc(func(r WindowReport) {
		if !r.NoAudio && got.Samples == nil {
			got = r
			cancel()
		}
	})

	_, out, err := runLoop(t, ctx, src, det, 30*time.Millisecond, rep)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "No snoring. (probability: 0.10)") {
		t.Errorf("missing no-snoring line in %q", text)
	}
	if strings.Contains(text, "Snoring detected!") {
		t.Errorf("silence reported as snoring: %q", text)
	}
	if len(got.Samples) == 0 || len(got.Samples)%256 != 0 {
		t.Errorf("window has %d samples, want a positive multiple of 256", len(got.Samples))
	}
	if !strings.Contains(text, "Detection stopped by user.") {
		t.Errorf("missing stop notice in %q", text)
	}
	assertReleased(t, src)
}

func TestSnoringLineUsesTwoDecimals(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newFakeSource(64)
	feed(ctx, src, []float32{0.5, -0.5})
	det := &stubDetector{results: []snore.Result{{Probability: 0.9271, IsSnoring: true, Threshold: 0.5}}}

	rep := reporterFunc(func(r WindowReport) {
		if !r.NoAudio {
			cancel()
		}
	})

	_, out, err := runLoop(t, ctx, src, det, 20*time.Millisecond, rep)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "Snoring detected! (probability: 0.93)") {
		t.Errorf("missing snoring line in %q", out.String())
	}
}

func TestClassificationErrorContinues(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newFakeSource(64)
	feed(ctx, src, make([]float32, 64))
	det := &stubDetector{
		errs:    []error{errors.New("decode failed")},
		results: []snore.Result{{Probability: 0.2, Threshold: 0.5}},
	}

	var failures, successes atomic.Int32
	rep := reporterFunc(func(r WindowReport) {
		switch {
		case r.Err != nil:
			failures.Add(1)
		case !r.NoAudio:
			successes.Add(1)
			cancel()
		}
	})

	_, out, err := runLoop(t, ctx, src, det, 15*time.Millisecond, rep)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if failures.Load() != 1 || successes.Load() != 1 {
		t.Fatalf("failures=%d successes=%d, want 1 and 1", failures.Load(), successes.Load())
	}
	text := out.String()
	if !strings.Contains(text, "Classification failed: decode failed") {
		t.Errorf("missing error line in %q", text)
	}
	if !strings.Contains(text, "No snoring. (probability: 0.20)") {
		t.Errorf("loop did not continue after the error: %q", text)
	}
}

func TestBlocksConcatenatedInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newFakeSource(4)
	src.blocks <- []float32{1, 2}
	src.blocks <- []float32{3}
	det := &stubDetector{}
	rep := reporterFunc(func(r WindowReport) {
		if !r.NoAudio {
			cancel()
		}
	})

	if _, _, err := runLoop(t, ctx, src, det, 20*time.Millisecond, rep); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if det.callCount() != 1 {
		t.Fatalf("detector called %d times, want 1", det.callCount())
	}
	want := []float64{1, 2, 3}
	got := det.seen[0]
	if len(got) != len(want) {
		t.Fatalf("samples = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("samples = %v, want %v", got, want)
		}
	}
}

func TestCancelledBeforeAudioReleasesStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := newFakeSource(1)
	det := &stubDetector{}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	loop, out, err := runLoop(t, ctx, src, det, time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "Detection stopped by user.") {
		t.Errorf("missing stop notice in %q", out.String())
	}
	if loop.State() != StateStopped {
		t.Errorf("state = %v, want STOPPED", loop.State())
	}
	assertReleased(t, src)
}

func TestStartFailureReleasesStream(t *testing.T) {
	src := newFakeSource(1)
	src.startErr = errors.New("no device")

	_, _, err := runLoop(t, context.Background(), src, &stubDetector{}, time.Second)
	if err == nil || !strings.Contains(err.Error(), "no device") {
		t.Fatalf("Run error = %v, want start failure", err)
	}
	assertReleased(t, src)
}

func TestClosedSourceEndsLoop(t *testing.T) {
	src := newFakeSource(2)
	src.blocks <- []float32{0.1, 0.2}
	close(src.blocks)
	det := &stubDetector{}

	_, _, err := runLoop(t, context.Background(), src, det, time.Second)
	if !errors.Is(err, ErrSourceClosed) {
		t.Fatalf("Run error = %v, want ErrSourceClosed", err)
	}
	if det.callCount() != 1 {
		t.Errorf("pending blocks not classified: %d calls", det.callCount())
	}
	assertReleased(t, src)
}

func TestNewLoopRejectsBadOptions(t *testing.T) {
	if _, err := NewLoop(newFakeSource(1), &stubDetector{}, Options{}); err == nil {
		t.Error("expected error for zero window")
	}
	if _, err := NewLoop(nil, &stubDetector{}, Options{Window: time.Second}); err == nil {
		t.Error("expected error for nil source")
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateCapturing:   "CAPTURING",
		StateClassifying: "CLASSIFYING",
		StateStopped:     "STOPPED",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}

// A full queue drops blocks at the producer. The loop never sees them, so the
// window only holds what was delivered and capture carries on afterwards.
func TestDroppedBlocksShortenWindow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newFakeSource(2)
	dropped := 0
	for i := 1; i <= 5; i++ {
		select {
		case src.blocks <- []float32{float32(i), float32(i)}:
		default:
			dropped++
		}
	}
	if dropped != 3 {
		t.Fatalf("dropped %d blocks, want 3", dropped)
	}

	det := &stubDetector{results: []snore.Result{{Probability: 0.3, Threshold: 0.5}}}
	var windows [][]float64
	rep := reporterFunc(func(r WindowReport) {
		if r.NoAudio {
			return
		}
		windows = append(windows, r.Samples)
		if len(windows) == 1 {
			src.blocks <- []float32{6, 6}
			return
		}
		cancel()
	})

	_, out, err := runLoop(t, ctx, src, det, 25*time.Millisecond, rep)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("got %d classified windows, want 2", len(windows))
	}
	if want := []float64{1, 1, 2, 2}; !slices.Equal(windows[0], want) {
		t.Errorf("first window = %v, want %v", windows[0], want)
	}
	if want := []float64{6, 6}; !slices.Equal(windows[1], want) {
		t.Errorf("second window = %v, want %v", windows[1], want)
	}
	if det.callCount() != 2 {
		t.Errorf("detector called %d times, want 2", det.callCount())
	}
	if !strings.Contains(out.String(), "Detection stopped by user.") {
		t.Errorf("missing stop notice in %q", out.String())
	}
	assertReleased(t, src)
}

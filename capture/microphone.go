// Package capture feeds microphone audio into the live loop through PortAudio.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"snore-detection/utils"
)

// Options selects the input stream format.
type Options struct {
	SampleRate int
	BlockSize  int
	QueueSize  int
	// Device is matched case-insensitively against device names. Empty means
	// the system default input.
	Device string
}

// Microphone is a mono float32 input stream. Blocks are copied out of the
// PortAudio callback and dropped when the queue is full.
type Microphone struct {
	stream  *portaudio.Stream
	blocks  chan []float32
	dropped atomic.Int64
	logger  *slog.Logger

	stopOnce  sync.Once
	closeOnce sync.Once
	stopErr   error
	closeErr  error
}

func NewMicrophone(opts Options) (*Microphone, error) {
	if opts.SampleRate <= 0 || opts.BlockSize <= 0 {
		return nil, fmt.Errorf("invalid stream format: rate=%d block=%d", opts.SampleRate, opts.BlockSize)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	m := &Microphone{
		blocks: make(chan []float32, opts.QueueSize),
		logger: utils.GetLogger(),
	}

	stream, err := m.open(opts)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}
	m.stream = stream
	return m, nil
}

func (m *Microphone) open(opts Options) (*portaudio.Stream, error) {
	if opts.Device == "" {
		stream, err := portaudio.OpenDefaultStream(1, 0, float64(opts.SampleRate), opts.BlockSize, m.callback)
		if err != nil {
			return nil, fmt.Errorf("open default input: %w", err)
		}
		return stream, nil
	}

	dev, err := findInput(opts.Device)
	if err != nil {
		return nil, err
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(opts.SampleRate),
		FramesPerBuffer: opts.BlockSize,
	}
	stream, err := portaudio.OpenStream(params, m.callback)
	if err != nil {
		return nil, fmt.Errorf("open input %q: %w", dev.Name, err)
	}
	return stream, nil
}

func (m *Microphone) callback(in []float32) {
	block := append([]float32(nil), in...)
	select {
	case m.blocks <- block:
	default:
		if n := m.dropped.Add(1); n == 1 || n%100 == 0 {
			m.logger.Warn("audio queue full, dropping block", slog.Int64("dropped", n))
		}
	}
}

func (m *Microphone) Start() error {
	if err := m.stream.Start(); err != nil {
		return fmt.Errorf("start input stream: %w", err)
	}
	return nil
}

// Blocks returns the queue the callback writes to.
func (m *Microphone) Blocks() <-chan []float32 { return m.blocks }

// Dropped reports how many blocks were discarded on a full queue.
func (m *Microphone) Dropped() int64 { return m.dropped.Load() }

func (m *Microphone) Stop() error {
	m.stopOnce.Do(func() {
		m.stopErr = m.stream.Stop()
	})
	return m.stopErr
}

// Close releases the stream and PortAudio. The block queue is closed once
// the callback can no longer run.
func (m *Microphone) Close() error {
	m.closeOnce.Do(func() {
		m.closeErr = errors.Join(m.stream.Close(), portaudio.Terminate())
		close(m.blocks)
	})
	return m.closeErr
}

// Device describes an input device.
type Device struct {
	Index             int
	Name              string
	HostAPI           string
	MaxInputChannels  int
	DefaultSampleRate float64
	Default           bool
}

// ListDevices returns every device that can record.
func ListDevices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	var defaultName string
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultName = def.Name
	}

	var out []Device
	for i, dev := range devices {
		if dev.MaxInputChannels < 1 {
			continue
		}
		d := Device{
			Index:             i,
			Name:              dev.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
			Default:           dev.Name == defaultName,
		}
		if dev.HostApi != nil {
			d.HostAPI = dev.HostApi.Name
		}
		out = append(out, d)
	}
	return out, nil
}

func findInput(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	want := strings.ToLower(name)
	for _, dev := range devices {
		if dev.MaxInputChannels > 0 && strings.Contains(strings.ToLower(dev.Name), want) {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("no input device matching %q", name)
}

package audio_capture

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"
)

const (
	DefaultTargetRate = 16000
	defaultFrameSize  = 4096
)

// ErrNoUsableConfig means the device rejected every candidate
// configuration in the fallback chain. This is fatal to the session.
var ErrNoUsableConfig = errors.New("no usable capture configuration")

// Device describes an available capture device.
type Device struct {
	ID          int
	Name        string
	MaxChannels int
	DefaultRate float64
	Default     bool
}

// Devices lists the capture-capable devices on the system.
func Devices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing audio: %w", err)
	}
	defer portaudio.Terminate()

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}

	defaultInfo, _ := portaudio.DefaultInputDevice()

	var devices []Device
	for i, info := range infos {
		if info.MaxInputChannels <= 0 {
			continue
		}

		devices = append(devices, Device{
			ID:          i,
			Name:        info.Name,
			MaxChannels: info.MaxInputChannels,
			DefaultRate: info.DefaultSampleRate,
			Default:     defaultInfo != nil && info.Name == defaultInfo.Name,
		})
	}

	return devices, nil
}

type Config struct {
	// DeviceName selects the capture device; empty means system default.
	DeviceName string
	// TargetRate is the recognizer's required sample rate.
	TargetRate int
	// FrameSize is the number of frames per blocking read, at the opened
	// rate.
	FrameSize int
	Logger    *zap.Logger
}

type captureImpl struct {
	deviceName string
	targetRate int
	frameSize  int
	logger     *zap.Logger

	audioRunning bool
	stream       *portaudio.Stream
	in           []int16
	channels     int
	openedRate   float64
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	targetRate := cfg.TargetRate
	if targetRate <= 0 {
		targetRate = DefaultTargetRate
	}

	frameSize := cfg.FrameSize
	if frameSize <= 0 {
		frameSize = defaultFrameSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &captureImpl{
		deviceName: cfg.DeviceName,
		targetRate: targetRate,
		frameSize:  frameSize,
		logger:     logger,
	}, nil
}

// candidate is one configuration in the negotiation fallback chain.
type candidate struct {
	channels int
	rate     float64
}

func (c *captureImpl) Open() error {
	if err := c.initAudio(); err != nil {
		return err
	}

	info, err := c.resolveDevice()
	if err != nil {
		c.freeAudio()
		return err
	}

	// Try the device's native shape first, then force mono, then force
	// mono at the target rate. First success wins.
	candidates := []candidate{
		{channels: info.MaxInputChannels, rate: info.DefaultSampleRate},
		{channels: 1, rate: info.DefaultSampleRate},
		{channels: 1, rate: float64(c.targetRate)},
	}

	var lastErr error
	for _, cand := range candidates {
		if cand.channels <= 0 {
			continue
		}

		buf := make([]int16, c.frameSize*cand.channels)
		params := portaudio.StreamParameters{
			Input: portaudio.StreamDeviceParameters{
				Device:   info,
				Channels: cand.channels,
				Latency:  info.DefaultHighInputLatency,
			},
			SampleRate:      cand.rate,
			FramesPerBuffer: c.frameSize,
		}

		stream, err := portaudio.OpenStream(params, buf)
		if err != nil {
			lastErr = err

			c.logger.Debug("capture configuration rejected",
				zap.Int("channels", cand.channels),
				zap.Float64("rate", cand.rate),
				zap.Error(err))

			continue
		}

		if err := stream.Start(); err != nil {
			stream.Close()
			lastErr = err
			continue
		}

		c.stream = stream
		c.in = buf
		c.channels = cand.channels
		c.openedRate = cand.rate

		c.logger.Info("capture device opened",
			zap.String("device", info.Name),
			zap.Int("channels", cand.channels),
			zap.Float64("rate", cand.rate))

		return nil
	}

	c.freeAudio()

	return fmt.Errorf("%w for device %q: %v", ErrNoUsableConfig, info.Name, lastErr)
}

func (c *captureImpl) resolveDevice() (*portaudio.DeviceInfo, error) {
	if c.deviceName == "" {
		info, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("default input device: %w", err)
		}
		return info, nil
	}

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}

	want := strings.ToLower(c.deviceName)
	for _, info := range infos {
		if info.MaxInputChannels <= 0 {
			continue
		}
		if strings.Contains(strings.ToLower(info.Name), want) {
			return info, nil
		}
	}

	return nil, fmt.Errorf("capture device %q not found", c.deviceName)
}

// Read blocks for one hardware buffer and returns it normalized: downmixed
// to mono, resampled to the target rate, with its RMS level attached.
func (c *captureImpl) Read() (Frame, error) {
	if c.stream == nil {
		return Frame{}, fmt.Errorf("capture not open")
	}

	if err := c.stream.Read(); err != nil {
		return Frame{}, fmt.Errorf("reading capture stream: %w", err)
	}

	mono := Downmix(c.in, c.channels)

	if int(c.openedRate) != c.targetRate {
		mono = Resample(mono, int(c.openedRate), c.targetRate)
	}

	// The hardware buffer is reused across reads; hand out a copy.
	samples := make([]int16, len(mono))
	copy(samples, mono)

	return Frame{
		Samples: samples,
		Level:   Level(samples),
	}, nil
}

func (c *captureImpl) Close() error {
	var err error

	if c.stream != nil {
		if stopErr := c.stream.Stop(); stopErr != nil {
			err = stopErr
		}
		if closeErr := c.stream.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		c.stream = nil
	}

	c.freeAudio()

	return err
}

func (c *captureImpl) initAudio() error {
	if !c.audioRunning {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("initializing audio: %w", err)
		}
		c.audioRunning = true
	}

	return nil
}

func (c *captureImpl) freeAudio() {
	if c.audioRunning {
		if err := portaudio.Terminate(); err != nil {
			c.logger.Warn("error while freeing audio", zap.Error(err))
		}
		c.audioRunning = false
	}
}

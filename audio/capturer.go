package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrDeviceUnavailable indicates the microphone is missing or access
	// was denied. Fatal to starting a session; user-actionable.
	ErrDeviceUnavailable = errors.New("audio: capture device unavailable")

	// ErrAlreadyStarted indicates Start was called on a running Capturer.
	// The device is exclusively owned for the session's duration.
	ErrAlreadyStarted = errors.New("audio: capture already started")
)

// Capturer owns one capture device and emits fixed-size PCM frames.
// Start acquires the device and begins producing frames until Stop is
// called; Stop releases it deterministically — no frames are delivered
// after Stop returns.
type Capturer struct {
	ctx        Context
	device     *DeviceInfo
	cfg        CaptureConfig
	frameBytes int

	mu      sync.Mutex
	dev     CaptureDevice
	det     *SpeechDetector
	running bool

	feedMu  sync.Mutex
	feedBuf []byte
}

// NewCapturer prepares a capturer emitting frames of frameDur worth of
// PCM at the configured sample rate. Passing a nil device selects the
// system default.
func NewCapturer(ctx Context, device *DeviceInfo, cfg CaptureConfig, frameDur time.Duration) *Capturer {
	bytesPerSec := int(cfg.SampleRate) * int(cfg.Channels) * BytesPerSample
	frameBytes := bytesPerSec * int(frameDur.Milliseconds()) / 1000
	return &Capturer{
		ctx:        ctx,
		device:     device,
		cfg:        cfg,
		frameBytes: frameBytes,
	}
}

// FrameBytes returns the size of every emitted frame.
func (c *Capturer) FrameBytes() int { return c.frameBytes }

// SampleRate returns the configured capture rate in Hz.
func (c *Capturer) SampleRate() int { return int(c.cfg.SampleRate) }

// AttachDetector routes a copy of the raw capture stream through a
// speech detector. Must be called before Start.
func (c *Capturer) AttachDetector(det *SpeechDetector) {
	c.mu.Lock()
	c.det = det
	c.mu.Unlock()
}

func (c *Capturer) Start(onFrame FrameFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrAlreadyStarted
	}

	dev, err := c.ctx.NewCapture(c.device, c.cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	det := c.det
	if det != nil {
		det.Reset()
	}
	dev.SetCallback(func(data []byte, _ uint32) {
		if det != nil {
			det.Process(data)
		}
		c.feed(data, onFrame)
	})

	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		dev.Close()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	c.feedMu.Lock()
	c.feedBuf = c.feedBuf[:0]
	c.feedMu.Unlock()

	c.dev = dev
	c.running = true
	return nil
}

// feed rechunks raw capture callbacks into frameBytes-sized frames.
// Residual bytes stay buffered for the next callback.
func (c *Capturer) feed(data []byte, onFrame FrameFunc) {
	c.feedMu.Lock()
	c.feedBuf = append(c.feedBuf, data...)
	var frames []Frame
	for len(c.feedBuf) >= c.frameBytes {
		frame := make(Frame, c.frameBytes)
		copy(frame, c.feedBuf[:c.frameBytes])
		c.feedBuf = c.feedBuf[c.frameBytes:]
		frames = append(frames, frame)
	}
	c.feedMu.Unlock()

	for _, frame := range frames {
		onFrame(frame)
	}
}

// Stop releases the device. Safe to call when not running.
func (c *Capturer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}

	// Clear the callback before stopping so the platform layer cannot
	// deliver frames once Stop has returned.
	c.dev.ClearCallback()
	c.dev.Stop()
	c.dev.Close()
	c.dev = nil
	c.running = false
}

func (c *Capturer) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

package audio

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// memContext hands out a controllable in-memory capture device.
type memContext struct {
	dev     *memCapture
	openErr error
}

func (m *memContext) Devices() ([]DeviceInfo, error) { return nil, nil }
func (m *memContext) Close()                         {}

func (m *memContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	return m.dev, nil
}

type memCapture struct {
	mu       sync.Mutex
	cb       DataCallback
	startErr error
}

func (d *memCapture) Start() error { return d.startErr }
func (d *memCapture) Stop()        {}
func (d *memCapture) Close()       {}

func (d *memCapture) SetCallback(cb DataCallback) {
	d.mu.Lock()
	d.cb = cb
	d.mu.Unlock()
}

func (d *memCapture) ClearCallback() {
	d.mu.Lock()
	d.cb = nil
	d.mu.Unlock()
}

func (d *memCapture) push(data []byte) {
	d.mu.Lock()
	cb := d.cb
	d.mu.Unlock()
	if cb != nil {
		cb(data, uint32(len(data)/BytesPerSample))
	}
}

func newTestCapturer(ctx Context) *Capturer {
	return NewCapturer(ctx, nil, CaptureConfig{SampleRate: 16000, Channels: 1}, 100*time.Millisecond)
}

func TestFrameBytes(t *testing.T) {
	c := newTestCapturer(&memContext{dev: &memCapture{}})
	// 16000 samples/s * 2 bytes * 0.1s
	if got := c.FrameBytes(); got != 3200 {
		t.Errorf("FrameBytes = %d, want 3200", got)
	}
}

func TestStartRejectsSecondStart(t *testing.T) {
	c := newTestCapturer(&memContext{dev: &memCapture{}})
	if err := c.Start(func(Frame) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	if err := c.Start(func(Frame) {}); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
}

func TestStartDeviceUnavailable(t *testing.T) {
	c := newTestCapturer(&memContext{openErr: errors.New("no such device")})
	if err := c.Start(func(Frame) {}); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Start = %v, want ErrDeviceUnavailable", err)
	}
	if c.Running() {
		t.Error("capturer should not be running after failed Start")
	}
}

func TestStartFailurePropagatesFromDevice(t *testing.T) {
	dev := &memCapture{startErr: errors.New("permission denied")}
	c := newTestCapturer(&memContext{dev: dev})
	if err := c.Start(func(Frame) {}); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Start = %v, want ErrDeviceUnavailable", err)
	}
	if dev.cb != nil {
		t.Error("callback should be cleared after failed device start")
	}
}

func TestRechunksIntoFixedFrames(t *testing.T) {
	dev := &memCapture{}
	c := newTestCapturer(&memContext{dev: dev})

	var frames []Frame
	if err := c.Start(func(f Frame) { frames = append(frames, f) }); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	// 3200-byte frames: feed 5000 bytes, then 1500 more.
	dev.push(make([]byte, 5000))
	if len(frames) != 1 {
		t.Fatalf("after 5000 bytes: %d frames, want 1", len(frames))
	}
	dev.push(make([]byte, 1500))
	if len(frames) != 2 {
		t.Fatalf("after 6500 bytes: %d frames, want 2", len(frames))
	}
	for i, f := range frames {
		if len(f) != 3200 {
			t.Errorf("frame %d: len = %d, want 3200", i, len(f))
		}
	}
}

func TestStopSilencesCallbacks(t *testing.T) {
	dev := &memCapture{}
	c := newTestCapturer(&memContext{dev: dev})

	count := 0
	if err := c.Start(func(Frame) { count++ }); err != nil {
		t.Fatal(err)
	}
	dev.push(make([]byte, 3200))
	c.Stop()

	before := count
	dev.push(make([]byte, 3200))
	if count != before {
		t.Error("frame delivered after Stop returned")
	}
	if c.Running() {
		t.Error("Running should report false after Stop")
	}
}

func TestStopWhenNotRunning(t *testing.T) {
	c := newTestCapturer(&memContext{dev: &memCapture{}})
	c.Stop() // should not panic
}

func TestRestartAfterStop(t *testing.T) {
	dev := &memCapture{}
	c := newTestCapturer(&memContext{dev: dev})

	if err := c.Start(func(Frame) {}); err != nil {
		t.Fatal(err)
	}
	c.Stop()
	if err := c.Start(func(Frame) {}); err != nil {
		t.Fatalf("restart after Stop: %v", err)
	}
	c.Stop()
}

func TestFakeContextDelivers(t *testing.T) {
	pcm := make([]byte, 8192)
	ctx := NewFakePCMContext(pcm, false)
	c := newTestCapturer(ctx)

	frameCh := make(chan Frame, 16)
	if err := c.Start(func(f Frame) {
		select {
		case frameCh <- f:
		default:
		}
	}); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	select {
	case f := <-frameCh:
		if len(f) != c.FrameBytes() {
			t.Errorf("frame len = %d, want %d", len(f), c.FrameBytes())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered from fake context")
	}
}

package audio

// Frame is a fixed-size buffer of signed 16-bit PCM samples, mono.
// Frames are produced by a Capturer and consumed exactly once by the
// transcription transport; they are never persisted.
type Frame []byte

const (
	BytesPerSample = 2
	WAVHeaderSize  = 44
)

// FrameFunc receives completed frames from a running Capturer.
type FrameFunc func(Frame)

// DataCallback receives raw PCM from the platform capture layer.
type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

// Context enumerates capture devices and opens capture streams. A fake
// implementation replaying recorded audio satisfies the same contract,
// so non-interactive capture agents can drive the pipeline.
type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
}

package audio

import (
	"sync"
	"time"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

const (
	vadMode     = 3
	vadFrameMs  = 20
	vadDebounce = 3 // consecutive speech frames to confirm voice

	// fraction of a tick's frames that must be speech for the tick to
	// count as "speaking"
	speechTickRatio = 0.10
)

// SpeechDetector classifies captured PCM as speech or silence using the
// WebRTC voice activity detector. It consumes the raw device stream in
// 20ms frames, independent of the capturer's frame size.
type SpeechDetector struct {
	vad        *webrtcvad.VAD
	sampleRate int
	frameBytes int

	mu            sync.Mutex
	buf           []byte
	voiceDetected bool
	lastVoiceTime time.Time
	speechRun     int
	totalFrames   int
	speechFrames  int
	tickTotal     int
	tickSpeech    int
}

func NewSpeechDetector(sampleRate int) (*SpeechDetector, error) {
	v, err := webrtcvad.New()
	if err != nil {
		return nil, err
	}
	if err := v.SetMode(vadMode); err != nil {
		return nil, err
	}
	return &SpeechDetector{
		vad:        v,
		sampleRate: sampleRate,
		frameBytes: sampleRate * vadFrameMs / 1000 * BytesPerSample,
	}, nil
}

// Process consumes one raw capture callback worth of PCM. Residual
// bytes below a VAD frame stay buffered for the next call.
func (d *SpeechDetector) Process(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.buf = append(d.buf, data...)
	for len(d.buf) >= d.frameBytes {
		frame := d.buf[:d.frameBytes]
		d.buf = d.buf[d.frameBytes:]

		active, err := d.vad.Process(d.sampleRate, frame)
		if err != nil {
			continue
		}
		d.totalFrames++
		if active {
			d.speechFrames++
			d.speechRun++
			if d.voiceDetected {
				d.lastVoiceTime = time.Now()
			} else if d.speechRun >= vadDebounce {
				d.voiceDetected = true
				d.lastVoiceTime = time.Now()
			}
		} else {
			d.speechRun = 0
		}
	}
}

func (d *SpeechDetector) VoiceDetected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.voiceDetected
}

func (d *SpeechDetector) LastVoiceTime() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastVoiceTime
}

// HasSpeechTick reports whether the frames processed since the previous
// call contained enough speech to count the interval as speaking.
func (d *SpeechDetector) HasSpeechTick() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.totalFrames - d.tickTotal
	s := d.speechFrames - d.tickSpeech
	d.tickTotal, d.tickSpeech = d.totalFrames, d.speechFrames
	if t == 0 {
		return false
	}
	return float64(s)/float64(t) >= speechTickRatio
}

func (d *SpeechDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf = d.buf[:0]
	d.voiceDetected = false
	d.lastVoiceTime = time.Time{}
	d.speechRun = 0
}

package consult

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"medscribe/audio"
	"medscribe/insight"
	"medscribe/log"
	"medscribe/metrics"
	"medscribe/transport"
)

// ErrInvalidTransition is returned when a control action is not legal in
// the session's current state.
var ErrInvalidTransition = errors.New("consult: invalid state transition")

// TransportFactory builds a fresh Transport for one connect cycle. A
// Transport instance is single-use, so every start and resume gets a
// new one.
type TransportFactory func(consultationID uuid.UUID, h transport.Handler) *transport.Transport

// ControllerDeps are the collaborators one Controller drives.
type ControllerDeps struct {
	Capturer       *audio.Capturer
	Transport      TransportFactory
	Analyzer       insight.Analyzer
	Repo           Repository
	Metrics        *metrics.Metrics
	ThrottleWindow time.Duration
	MinChars       int
}

// Controller is the session state machine. It owns the recording
// lifecycle (idle, recording, paused, ended) and wires audio frames into
// the transport, final segments into persistence and the analysis
// throttle, and insight events into the reconciliation store.
type Controller struct {
	id       uuid.UUID
	deps     ControllerDeps
	store    *insight.Store
	throttle *insight.Throttle

	// opMu serializes control actions; mu guards the fields below and
	// is the only lock handler callbacks take.
	opMu sync.Mutex

	mu          sync.Mutex
	state       RecordingState
	tr          *transport.Transport
	transcript  []transport.Segment
	interim     string
	connState   transport.ConnectionState
	lastErr     error
	startedAt   time.Time
	det         *audio.SpeechDetector
	monStop     chan struct{}
	monDone     chan struct{}
	silenceWarn bool
}

func NewController(id uuid.UUID, deps ControllerDeps) *Controller {
	c := &Controller{
		id:    id,
		deps:  deps,
		state: StateIdle,
		store: insight.NewStore(deps.Metrics),
	}
	c.throttle = insight.NewThrottle(id.String(), deps.ThrottleWindow, deps.MinChars,
		deps.Analyzer, c.ingestEvents, deps.Metrics)
	return c
}

func (c *Controller) ID() uuid.UUID         { return c.id }
func (c *Controller) Store() *insight.Store { return c.store }

// ingestEvents folds an analysis batch into the store and persists each
// event. Runs on the throttle's dispatch goroutine.
func (c *Controller) ingestEvents(events []insight.Event) {
	for _, ev := range events {
		c.store.Ingest(ev)
		if c.deps.Repo != nil {
			ev := ev
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := c.deps.Repo.SaveInsightEvent(ctx, c.id, ev); err != nil {
					log.Errorf("save insight event: %v", err)
				}
			}()
		}
	}
}

// Start begins recording for an idle session.
func (c *Controller) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, state)
	}
	c.state = StateRecording
	c.startedAt = time.Now()
	c.mu.Unlock()

	if err := c.goLive(ctx, StateIdle); err != nil {
		return err
	}
	if c.deps.Metrics != nil {
		c.deps.Metrics.ActiveSessions.Inc()
	}
	log.SessionStart(c.id.String())
	return nil
}

// Resume restarts recording for a paused session with a fresh transport.
func (c *Controller) Resume(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state != StatePaused {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, state)
	}
	c.state = StateRecording
	c.mu.Unlock()

	return c.goLive(ctx, StatePaused)
}

// goLive connects a new transport and then starts the capturer, in that
// order so audio is never produced before the transport exists. revert
// is the state to fall back to when bring-up fails.
func (c *Controller) goLive(ctx context.Context, revert RecordingState) error {
	tr := c.deps.Transport(c.id, &transportHandler{c: c})
	if err := tr.Connect(ctx); err != nil {
		c.mu.Lock()
		c.state = revert
		c.lastErr = err
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.tr = tr
	c.mu.Unlock()

	det := c.ensureDetector()
	err := c.deps.Capturer.Start(func(f audio.Frame) { tr.SendFrame(f) })
	if err != nil {
		tr.Disconnect()
		c.mu.Lock()
		c.tr = nil
		c.state = revert
		c.lastErr = err
		c.mu.Unlock()
		return err
	}
	c.startSilenceWatch(det)

	// The transport may have burned through its attempts and parked
	// the session while the capturer was coming up; don't leave the
	// microphone running into a paused session.
	c.mu.Lock()
	parked := c.state != StateRecording
	c.mu.Unlock()
	if parked {
		c.deps.Capturer.Stop()
		c.stopSilenceWatch()
	}
	return nil
}

// ensureDetector lazily attaches a speech detector to the capturer. A
// missing detector degrades to no silence monitoring, never to a failed
// session.
func (c *Controller) ensureDetector() *audio.SpeechDetector {
	c.mu.Lock()
	det := c.det
	c.mu.Unlock()
	if det != nil {
		return det
	}

	det, err := audio.NewSpeechDetector(c.deps.Capturer.SampleRate())
	if err != nil {
		log.Warnf("speech detector unavailable: %v", err)
		return nil
	}
	c.deps.Capturer.AttachDetector(det)
	c.mu.Lock()
	c.det = det
	c.mu.Unlock()
	return det
}

// startSilenceWatch polls the detector while recording and surfaces a
// warning when the microphone goes quiet for too long.
func (c *Controller) startSilenceWatch(det *audio.SpeechDetector) {
	if det == nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	c.mu.Lock()
	c.monStop = stop
	c.monDone = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		mon := audio.NewSilenceMonitor()
		ticker := time.NewTicker(audio.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
			switch mon.Tick(det.HasSpeechTick()) {
			case audio.SilenceWarn:
				c.mu.Lock()
				c.silenceWarn = true
				c.mu.Unlock()
				log.Warnf("no speech detected on consultation %s, check the microphone", c.id)
			case audio.SilenceWarnClear:
				c.mu.Lock()
				c.silenceWarn = false
				c.mu.Unlock()
				log.Infof("speech resumed on consultation %s", c.id)
			}
		}
	}()
}

func (c *Controller) stopSilenceWatch() {
	c.mu.Lock()
	stop, done := c.monStop, c.monDone
	c.monStop, c.monDone = nil, nil
	c.silenceWarn = false
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// Pause stops audio production, then tears down the transport.
func (c *Controller) Pause() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state != StateRecording {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, state)
	}
	c.state = StatePaused
	tr := c.tr
	c.tr = nil
	c.mu.Unlock()

	c.deps.Capturer.Stop()
	c.stopSilenceWatch()
	if tr != nil {
		tr.Disconnect()
	}
	return nil
}

// End terminates the session. It is legal from recording or paused,
// idempotent once ended, flushes any buffered transcript to the
// analyzer and marks the consultation completed.
func (c *Controller) End(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	switch c.state {
	case StateEnded:
		c.mu.Unlock()
		return nil
	case StateRecording, StatePaused:
	default:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: end from %s", ErrInvalidTransition, state)
	}
	wasRecording := c.state == StateRecording
	c.state = StateEnded
	tr := c.tr
	c.tr = nil
	finals := len(c.transcript)
	started := c.startedAt
	c.mu.Unlock()

	if wasRecording {
		c.deps.Capturer.Stop()
		c.stopSilenceWatch()
	}
	if tr != nil {
		tr.Disconnect()
	}

	c.throttle.Flush(ctx)
	c.store.Close()

	if c.deps.Repo != nil {
		go func() {
			saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := c.deps.Repo.UpdateConsultationStatus(saveCtx, c.id, ConsultationCompleted); err != nil {
				log.Errorf("mark consultation completed: %v", err)
			}
		}()
	}

	if c.deps.Metrics != nil {
		c.deps.Metrics.SessionsEnded.Inc()
		c.deps.Metrics.ActiveSessions.Dec()
	}
	log.SessionEnd(c.id.String(), finals, time.Since(started))
	return nil
}

func (c *Controller) State() RecordingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transcript returns the final segments received so far, in arrival
// order.
func (c *Controller) Transcript() []transport.Segment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transport.Segment, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// Interim returns the latest interim text, empty once superseded by a
// final segment.
func (c *Controller) Interim() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interim
}

func (c *Controller) ConnectionState() transport.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connState
}

// SilenceWarning reports whether the microphone has been quiet long
// enough to warn the clinician.
func (c *Controller) SilenceWarning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.silenceWarn
}

// SpeechDetected reports whether confirmed speech has been heard on
// the capture stream, and when it was last heard.
func (c *Controller) SpeechDetected() (bool, time.Time) {
	c.mu.Lock()
	det := c.det
	c.mu.Unlock()
	if det == nil {
		return false, time.Time{}
	}
	return det.VoiceDetected(), det.LastVoiceTime()
}

func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// transportHandler adapts transport callbacks onto the controller. The
// callbacks run on the transport's goroutines and never call back into
// the transport.
type transportHandler struct {
	c *Controller
}

func (h *transportHandler) OnInterim(text string) {
	c := h.c
	c.mu.Lock()
	c.interim = text
	c.mu.Unlock()
	if c.deps.Metrics != nil {
		c.deps.Metrics.InterimSegments.Inc()
	}
}

func (h *transportHandler) OnFinal(seg transport.Segment) {
	c := h.c
	c.mu.Lock()
	c.transcript = append(c.transcript, seg)
	c.interim = ""
	c.mu.Unlock()

	if c.deps.Metrics != nil {
		c.deps.Metrics.FinalSegments.Inc()
	}
	if c.deps.Repo != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := c.deps.Repo.SaveTranscriptSegment(ctx, c.id, seg); err != nil {
				log.Errorf("save transcript segment: %v", err)
			}
		}()
	}
	c.throttle.Push(seg.Text)
}

func (h *transportHandler) OnStateChange(state transport.ConnectionState, err error) {
	c := h.c
	wasRecording := false
	c.mu.Lock()
	c.connState = state
	if state == transport.Failed {
		c.lastErr = err
		if c.state == StateRecording {
			c.state = StatePaused
			wasRecording = true
		}
		// A failed transport holds no connection and no retry timer;
		// dropping the reference is all the cleanup it needs.
		c.tr = nil
	}
	c.mu.Unlock()

	if wasRecording {
		// The stream is gone for good. Park the session so the
		// clinician can resume with a fresh transport or end from
		// the UI.
		c.deps.Capturer.Stop()
		c.stopSilenceWatch()
	}
}

package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"medscribe/log"
	"medscribe/metrics"
)

// ConnectionState tracks the lifecycle of the streaming session. It is
// owned exclusively by the Transport; transitions are the only way it
// mutates.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	// ErrConfiguration marks a non-retryable setup failure, such as a
	// missing credential. A configuration problem will not self-heal,
	// so it never triggers the backoff policy.
	ErrConfiguration = errors.New("transport: configuration error")

	// ErrTerminated is returned by Connect after Disconnect has been
	// called. A Transport instance is single-use; create a new one to
	// retry.
	ErrTerminated = errors.New("transport: already disconnected")
)

// Segment is one transcript chunk from the remote endpoint. Final
// segments are immutable once emitted; interim segments are transient
// and superseded by the next interim or final segment.
type Segment struct {
	ID         uuid.UUID
	Text       string
	Confidence float64
	IsFinal    bool
	ProducedAt time.Time
}

// Message is a decoded inbound frame from the streaming endpoint.
type Message struct {
	Transcript  string
	Confidence  float64
	IsFinal     bool
	SpeechFinal bool
}

// Conn is a single live duplex stream to the transcription endpoint.
type Conn interface {
	Send(ctx context.Context, pcm []byte) error
	Recv(ctx context.Context) (Message, error)
	Close() error
}

// Dialer opens a Conn using short-lived per-consultation credentials.
type Dialer interface {
	Dial(ctx context.Context, creds Credentials) (Conn, error)
}

// Handler receives transport callbacks. Final segments are delivered
// in the order the remote endpoint emitted them; interim segments
// carry no ordering guarantee (only the latest matters).
//
// Handlers run on the transport's goroutines with no internal lock
// held, so a callback may invoke SendFrame (or block on code that
// does). Connect and Disconnect must not be called from a callback.
type Handler interface {
	OnInterim(text string)
	OnFinal(seg Segment)
	OnStateChange(state ConnectionState, err error)
}

// Config controls one Transport instance.
type Config struct {
	ConsultationID string
	BaseDelay      time.Duration // first reconnect delay (default 1s)
	MaxDelay       time.Duration // reconnect delay cap (default 30s)
	MaxAttempts    int           // reconnects before Failed (default 5)
	Metrics        *metrics.Metrics
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	return c
}

// Stats counts transport activity since creation.
type Stats struct {
	FramesSent    uint64
	FramesDropped uint64
	RecvFinal     uint64
	RecvInterim   uint64
	Reconnects    uint64
}

// Transport maintains a single logical streaming session against the
// remote transcription endpoint, surviving transient network failures
// with exponential backoff. Disconnect is terminal for the instance.
type Transport struct {
	cfg     Config
	dialer  Dialer
	tokens  TokenSource
	handler Handler

	mu       sync.Mutex
	state    ConnectionState
	attempts int
	conn     Conn
	timer    *time.Timer
	recvDone chan struct{}
	closed   bool
	stats    Stats

	// notifyWG counts state notifications registered under mu but
	// delivered after it is released; Disconnect drains it.
	notifyWG sync.WaitGroup
}

func New(cfg Config, dialer Dialer, tokens TokenSource, handler Handler) *Transport {
	return &Transport{
		cfg:     cfg.withDefaults(),
		dialer:  dialer,
		tokens:  tokens,
		handler: handler,
		state:   Disconnected,
	}
}

// Connect starts the handshake. It is idempotent: calling it while
// already Connecting or Connected is a no-op. Transient dial failures
// are retried through the backoff policy and surface via
// OnStateChange; only terminal conditions (configuration errors, a
// disconnected instance) are returned.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTerminated
	}
	switch t.state {
	case Connecting, Connected:
		t.mu.Unlock()
		return nil
	case Reconnecting:
		// An explicit connect preempts the pending backoff timer.
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
	}
	changed := t.setStateLocked(Connecting)
	t.mu.Unlock()
	if changed {
		t.notify(Connecting, nil)
	}

	return t.dial(ctx)
}

func (t *Transport) dial(ctx context.Context) error {
	creds, err := t.tokens.ConnectionToken(ctx, t.cfg.ConsultationID)
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrConfiguration, err)
		t.mu.Lock()
		changed := t.setStateLocked(Failed)
		t.mu.Unlock()
		if changed {
			t.notify(Failed, wrapped)
		}
		return wrapped
	}

	conn, err := t.dialer.Dial(ctx, creds)
	if err != nil {
		t.mu.Lock()
		var next ConnectionState
		changed := false
		if !t.closed {
			next, changed = t.scheduleRetryLocked(err)
		}
		t.mu.Unlock()
		if changed {
			t.notify(next, err)
		}
		return nil
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return ErrTerminated
	}
	t.conn = conn
	t.attempts = 0
	t.recvDone = make(chan struct{})
	changed := t.setStateLocked(Connected)
	done := t.recvDone
	t.mu.Unlock()
	if changed {
		t.notify(Connected, nil)
	}

	go t.readLoop(conn, done)
	return nil
}

func (t *Transport) readLoop(conn Conn, done chan struct{}) {
	defer close(done)
	for {
		msg, err := conn.Recv(context.Background())
		if err != nil {
			t.handleClose(conn, err)
			return
		}
		if !t.deliver(msg) {
			return
		}
	}
}

// deliver classifies one inbound message and invokes the handler.
// Returns false once the transport is closed.
func (t *Transport) deliver(msg Message) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	isFinal := msg.IsFinal || msg.SpeechFinal
	if isFinal {
		t.stats.RecvFinal++
	} else {
		t.stats.RecvInterim++
	}
	t.mu.Unlock()

	text := strings.TrimSpace(msg.Transcript)
	if text == "" {
		return true
	}

	if isFinal {
		t.handler.OnFinal(Segment{
			ID:         uuid.New(),
			Text:       text,
			Confidence: msg.Confidence,
			IsFinal:    true,
			ProducedAt: time.Now(),
		})
	} else {
		t.handler.OnInterim(text)
	}
	return true
}

// handleClose reacts to an unexpected stream close by scheduling a
// reconnect, or transitioning to Failed once attempts are exhausted.
func (t *Transport) handleClose(conn Conn, err error) {
	t.mu.Lock()
	if t.closed || t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	conn.Close()
	next, changed := t.scheduleRetryLocked(err)
	t.mu.Unlock()
	if changed {
		t.notify(next, err)
	}
}

// scheduleRetryLocked returns the state it moved to and whether it
// changed; the caller notifies once t.mu is released.
func (t *Transport) scheduleRetryLocked(cause error) (ConnectionState, bool) {
	if t.attempts >= t.cfg.MaxAttempts {
		if t.cfg.Metrics != nil {
			t.cfg.Metrics.TransportFails.Inc()
		}
		return Failed, t.setStateLocked(Failed)
	}

	delay := backoffDelay(t.attempts, t.cfg.BaseDelay, t.cfg.MaxDelay)
	attempt := t.attempts
	t.attempts++
	t.stats.Reconnects++
	if t.cfg.Metrics != nil {
		t.cfg.Metrics.Reconnects.Inc()
	}
	changed := t.setStateLocked(Reconnecting)
	t.timer = time.AfterFunc(delay, t.redial)
	log.ReconnectScheduled(attempt, delay)
	return Reconnecting, changed
}

func (t *Transport) redial() {
	t.mu.Lock()
	if t.closed || t.state != Reconnecting {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	changed := t.setStateLocked(Connecting)
	t.mu.Unlock()
	if changed {
		t.notify(Connecting, nil)
	}

	t.dial(context.Background())
}

// backoffDelay computes min(base << attempt, max).
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt >= 62 {
		return max
	}
	d := base << uint(attempt)
	if d <= 0 || d > max {
		return max
	}
	return d
}

// SendFrame forwards one PCM frame when Connected. Frames sent in any
// other state are dropped, not queued: audio is real-time, and a stale
// frame is worse than a dropped one.
func (t *Transport) SendFrame(frame []byte) {
	t.mu.Lock()
	if t.closed || t.state != Connected || t.conn == nil {
		t.stats.FramesDropped++
		t.mu.Unlock()
		if t.cfg.Metrics != nil {
			t.cfg.Metrics.FramesDropped.Inc()
		}
		return
	}
	conn := t.conn
	t.stats.FramesSent++
	t.mu.Unlock()
	if t.cfg.Metrics != nil {
		t.cfg.Metrics.FramesSent.Inc()
	}

	if err := conn.Send(context.Background(), frame); err != nil {
		// The read loop observes the broken stream and drives the
		// reconnect; nothing to do here.
		log.Warnf("send frame: %v", err)
	}
}

// Disconnect closes the connection, cancels any pending reconnect
// timer and transitions to Disconnected. It guarantees no further
// handler callbacks fire after it returns, and is terminal for this
// instance. Must not be called from a handler callback.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	conn := t.conn
	t.conn = nil
	done := t.recvDone
	changed := t.setStateLocked(Disconnected)
	t.mu.Unlock()
	if changed {
		t.notify(Disconnected, nil)
	}

	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
	// A retry-timer goroutine may have registered a notification just
	// before closed was set; wait it out so quiescence holds.
	t.notifyWG.Wait()
}

func (t *Transport) State() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// setStateLocked mutates state and reports whether it changed. Callers
// hold t.mu; on a change they must fire notify after releasing it, so a
// handler blocked on session teardown can never wedge the transport.
func (t *Transport) setStateLocked(state ConnectionState) bool {
	if t.state == state {
		return false
	}
	t.state = state
	log.ConnectionState(state.String())
	t.notifyWG.Add(1)
	return true
}

func (t *Transport) notify(state ConnectionState, err error) {
	defer t.notifyWG.Done()
	if t.handler != nil {
		t.handler.OnStateChange(state, err)
	}
}

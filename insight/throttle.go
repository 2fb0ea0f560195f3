package insight

import (
	"context"
	"strings"
	"sync"
	"time"

	"medscribe/log"
	"medscribe/metrics"
)

// Throttle accumulates final transcript text and decides when enough has
// arrived to justify an annotation request. Dispatch is evaluated only
// when new text arrives; a single request is in flight at a time, and
// the pending buffer is handed off before the request starts so text is
// never analyzed twice.
type Throttle struct {
	consultationID string
	window         time.Duration
	minChars       int
	analyzer       Analyzer
	onEvents       func([]Event)
	met            *metrics.Metrics

	mu           sync.Mutex
	pending      []string
	pendingLen   int
	lastDispatch time.Time
	inflight     bool
	inflightDone chan struct{} // closed when the current dispatch finishes
}

// NewThrottle wires an analyzer behind a dispatch policy. onEvents is
// invoked with each successful batch, on the dispatch goroutine. met may
// be nil.
func NewThrottle(consultationID string, window time.Duration, minChars int, analyzer Analyzer, onEvents func([]Event), met *metrics.Metrics) *Throttle {
	if window <= 0 {
		window = 5 * time.Second
	}
	if minChars <= 0 {
		minChars = 50
	}
	return &Throttle{
		consultationID: consultationID,
		window:         window,
		minChars:       minChars,
		analyzer:       analyzer,
		onEvents:       onEvents,
		met:            met,
	}
}

// Push appends one final transcript segment and dispatches if the
// throttle window has elapsed, the buffer is long enough and no request
// is already in flight.
func (t *Throttle) Push(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	t.mu.Lock()
	t.pending = append(t.pending, text)
	t.pendingLen += len(text)
	if len(t.pending) > 1 {
		t.pendingLen++ // joining space
	}

	if t.inflight ||
		time.Since(t.lastDispatch) < t.window ||
		t.pendingLen < t.minChars {
		t.mu.Unlock()
		return
	}
	transcript := t.takeLocked()
	t.mu.Unlock()

	go t.dispatch(transcript, nil)
}

// Flush dispatches whatever is buffered regardless of window and length,
// waiting for the request to finish. Called when a session ends so the
// transcript tail is not lost. A dispatch already in flight is drained
// first; the single-request rule holds through shutdown too.
func (t *Throttle) Flush(ctx context.Context) {
	t.mu.Lock()
	for t.inflight {
		wait := t.inflightDone
		t.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return
		}
		t.mu.Lock()
	}
	if t.pendingLen == 0 {
		t.mu.Unlock()
		return
	}
	transcript := t.takeLocked()
	t.mu.Unlock()

	done := make(chan struct{})
	go t.dispatch(transcript, done)
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// takeLocked hands off the buffered text and marks a request in flight.
func (t *Throttle) takeLocked() string {
	transcript := strings.Join(t.pending, " ")
	t.pending = nil
	t.pendingLen = 0
	t.lastDispatch = time.Now()
	t.inflight = true
	t.inflightDone = make(chan struct{})
	return transcript
}

func (t *Throttle) dispatch(transcript string, done chan struct{}) {
	if done != nil {
		defer close(done)
	}
	defer func() {
		t.mu.Lock()
		t.inflight = false
		close(t.inflightDone)
		t.mu.Unlock()
	}()

	log.AnalysisDispatch(t.consultationID, len(transcript))
	if t.met != nil {
		t.met.AnalysisDispatches.Inc()
	}

	started := time.Now()
	events, err := t.analyzer.Analyze(context.Background(), t.consultationID, transcript)
	elapsed := time.Since(started)
	if t.met != nil {
		t.met.AnalysisDuration.Observe(elapsed.Seconds())
	}
	if err != nil {
		// The handed-off text is not requeued: the next batch will
		// carry fresh context and the annotation service works on
		// partial transcripts anyway.
		log.Errorf("analysis failed for %s: %v", t.consultationID, err)
		if t.met != nil {
			t.met.AnalysisFailures.Inc()
		}
		return
	}

	log.AnalysisResult(t.consultationID, len(events), elapsed)
	if t.onEvents != nil && len(events) > 0 {
		t.onEvents(events)
	}
}

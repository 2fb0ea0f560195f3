package audio

import "time"

const (
	// TickInterval is the cadence at which callers are expected to feed
	// the monitor.
	TickInterval = 100 * time.Millisecond

	silenceWarnEvery = 8 * time.Second
	speechMinRatio   = 0.10
	speechClearRatio = 0.25 // higher threshold to clear warning (hysteresis)
)

type SilenceEvent int

const (
	SilenceNone      SilenceEvent = iota
	SilenceWarn                   // no voice detected while recording
	SilenceWarnClear              // speech resumed after warning
)

// SilenceMonitor watches the speech/silence ratio over a sliding window
// and raises a single warning after sustained silence. A dead microphone
// and a recording clinician look identical to the transport, so this is
// the only signal that capture has silently gone wrong.
type SilenceMonitor struct {
	warnAt   int
	windowSz int

	ticks  int
	window []bool
	warned bool
}

func NewSilenceMonitor() *SilenceMonitor {
	warnAt := int(silenceWarnEvery / TickInterval)
	return &SilenceMonitor{
		warnAt:   warnAt,
		windowSz: warnAt,
		window:   make([]bool, warnAt),
	}
}

func (m *SilenceMonitor) ratio(n int) float64 {
	if m.ticks < n {
		n = m.ticks
	}
	if n == 0 {
		return 1.0
	}
	count := 0
	for i := 0; i < n; i++ {
		if m.window[(m.ticks-1-i+m.windowSz)%m.windowSz] {
			count++
		}
	}
	return float64(count) / float64(n)
}

// Tick records whether the last interval contained speech and reports
// any state change.
func (m *SilenceMonitor) Tick(hasSpeech bool) SilenceEvent {
	m.window[m.ticks%m.windowSz] = hasSpeech
	m.ticks++

	r := m.ratio(m.warnAt)

	if m.ticks >= m.warnAt && r < speechMinRatio && !m.warned {
		m.warned = true
		return SilenceWarn
	}
	if m.warned && r >= speechClearRatio {
		m.warned = false
		return SilenceWarnClear
	}
	return SilenceNone
}

// Warned reports whether a silence warning is currently active.
func (m *SilenceMonitor) Warned() bool { return m.warned }

func (m *SilenceMonitor) Reset() {
	m.ticks = 0
	m.warned = false
	for i := range m.window {
		m.window[i] = false
	}
}

package consult

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"medscribe/audio"
	"medscribe/insight"
	"medscribe/log"
	"medscribe/metrics"
)

// ErrSessionNotFound is returned for lookups of unknown consultations.
var ErrSessionNotFound = errors.New("consult: session not found")

// ManagerDeps are the shared collaborators for all sessions.
type ManagerDeps struct {
	NewCapturer    func() (*audio.Capturer, error)
	NewTransport   TransportFactory
	Analyzer       insight.Analyzer
	Repo           Repository
	Metrics        *metrics.Metrics
	ThrottleWindow time.Duration
	MinChars       int
}

// Manager tracks live consultation sessions by id. Ended sessions stay
// registered so their transcript and insights remain queryable.
type Manager struct {
	deps ManagerDeps

	mu       sync.Mutex
	sessions map[uuid.UUID]*Controller
}

func NewManager(deps ManagerDeps) *Manager {
	return &Manager{
		deps:     deps,
		sessions: make(map[uuid.UUID]*Controller),
	}
}

// Create registers a new consultation, persisting the record when a
// repository is configured.
func (m *Manager) Create(ctx context.Context) (*Controller, error) {
	var id uuid.UUID
	if m.deps.Repo != nil {
		var err error
		id, err = m.deps.Repo.CreateConsultation(ctx)
		if err != nil {
			return nil, err
		}
	} else {
		id = uuid.New()
	}

	capt, err := m.deps.NewCapturer()
	if err != nil {
		return nil, err
	}

	ctrl := NewController(id, ControllerDeps{
		Capturer:       capt,
		Transport:      m.deps.NewTransport,
		Analyzer:       m.deps.Analyzer,
		Repo:           m.deps.Repo,
		Metrics:        m.deps.Metrics,
		ThrottleWindow: m.deps.ThrottleWindow,
		MinChars:       m.deps.MinChars,
	})

	m.mu.Lock()
	m.sessions[id] = ctrl
	m.mu.Unlock()

	log.Infof("consultation %s created", id)
	return ctrl, nil
}

// Get returns the session controller for a consultation.
func (m *Manager) Get(id uuid.UUID) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctrl, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return ctrl, nil
}

// Shutdown ends every session that is still live.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ctrls := make([]*Controller, 0, len(m.sessions))
	for _, c := range m.sessions {
		ctrls = append(ctrls, c)
	}
	m.mu.Unlock()

	for _, c := range ctrls {
		switch c.State() {
		case StateRecording, StatePaused:
			endCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := c.End(endCtx); err != nil {
				log.Errorf("shutdown: end session %s: %v", c.ID(), err)
			}
			cancel()
		}
	}
}

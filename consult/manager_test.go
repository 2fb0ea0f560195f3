package consult

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"medscribe/audio"
	"medscribe/transport"
)

func newTestManager(t *testing.T) (*Manager, *ctlDialer, *memRepo) {
	t.Helper()
	log := &eventLog{}
	dialer := &ctlDialer{log: log}
	repo := &memRepo{}

	m := NewManager(ManagerDeps{
		NewCapturer: func() (*audio.Capturer, error) {
			return audio.NewCapturer(&ctlContext{dev: &ctlDevice{log: log}}, nil,
				audio.CaptureConfig{SampleRate: 16000, Channels: 1}, 100*time.Millisecond), nil
		},
		NewTransport: func(id uuid.UUID, h transport.Handler) *transport.Transport {
			return transport.New(transport.Config{
				ConsultationID: id.String(),
				BaseDelay:      time.Millisecond,
				MaxAttempts:    2,
			}, dialer, &transport.StaticTokenSource{URL: "wss://example.test", Key: "k"}, h)
		},
		Analyzer: &stubAnalyzer{},
		Repo:     repo,
	})
	return m, dialer, repo
}

func TestManagerCreateAndGet(t *testing.T) {
	m, _, _ := newTestManager(t)

	ctrl, err := m.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := m.Get(ctrl.ID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != ctrl {
		t.Error("Get returned a different controller")
	}

	if _, err := m.Get(uuid.New()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get unknown = %v, want ErrSessionNotFound", err)
	}
}

func TestManagerShutdownEndsLiveSessions(t *testing.T) {
	m, _, repo := newTestManager(t)

	live, err := m.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := live.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	idle, err := m.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	m.Shutdown(context.Background())

	if got := live.State(); got != StateEnded {
		t.Errorf("live session state = %s, want ended", got)
	}
	if got := idle.State(); got != StateIdle {
		t.Errorf("idle session state = %s, want untouched idle", got)
	}
	waitFor(t, "completion persisted", func() bool {
		return repo.lastStatus() == ConsultationCompleted
	})
}

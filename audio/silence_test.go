package audio

import "testing"

func feedN(m *SilenceMonitor, speech bool, n int) SilenceEvent {
	var last SilenceEvent
	for i := 0; i < n; i++ {
		last = m.Tick(speech)
	}
	return last
}

func TestSilenceWarnAfter8s(t *testing.T) {
	m := NewSilenceMonitor()
	// 79 ticks of silence, no warning yet
	for i := 0; i < 79; i++ {
		if ev := m.Tick(false); ev != SilenceNone {
			t.Fatalf("unexpected event at tick %d: %d", i, ev)
		}
	}
	// 80th tick triggers the warning (8s)
	if ev := m.Tick(false); ev != SilenceWarn {
		t.Fatalf("expected SilenceWarn at tick 80, got %d", ev)
	}
	if !m.Warned() {
		t.Error("Warned should report true after the warning")
	}
}

func TestSilenceWarnClearsOnSpeech(t *testing.T) {
	m := NewSilenceMonitor()
	feedN(m, false, 80)

	// Sustained speech clears the warning (25% of the window)
	for i := 0; i < 80; i++ {
		if ev := m.Tick(true); ev == SilenceWarnClear {
			if m.Warned() {
				t.Error("Warned should report false after clearing")
			}
			return
		}
	}
	t.Fatal("expected SilenceWarnClear after speech")
}

func TestNoWarnDuringSpeech(t *testing.T) {
	m := NewSilenceMonitor()
	for i := 0; i < 200; i++ {
		if ev := m.Tick(true); ev == SilenceWarn {
			t.Fatalf("unexpected warn during speech at tick %d", i)
		}
	}
}

func TestWarnOnlyOnce(t *testing.T) {
	m := NewSilenceMonitor()
	warns := 0
	for i := 0; i < 300; i++ {
		if ev := m.Tick(false); ev == SilenceWarn {
			warns++
		}
	}
	if warns != 1 {
		t.Fatalf("expected exactly 1 SilenceWarn, got %d", warns)
	}
}

func TestWarnStaysDuringNoise(t *testing.T) {
	m := NewSilenceMonitor()
	feedN(m, false, 80)

	// Occasional detector false positives below the clear threshold
	// must not lift the warning.
	for i := 0; i < 80; i++ {
		speech := i%10 == 0 // 10% speech
		if ev := m.Tick(speech); ev == SilenceWarnClear {
			t.Fatalf("warning cleared with 10%% speech at tick %d", i)
		}
	}
}

func TestSilenceMonitorReset(t *testing.T) {
	m := NewSilenceMonitor()
	feedN(m, false, 80)
	m.Reset()
	if m.Warned() {
		t.Error("Warned should report false after Reset")
	}
	for i := 0; i < 79; i++ {
		if ev := m.Tick(false); ev != SilenceNone {
			t.Fatalf("unexpected event at tick %d after reset: %d", i, ev)
		}
	}
}

package insight

import (
	"testing"

	"github.com/google/uuid"
)

func followUpEvent(questions ...string) Event {
	p := &FollowUpPayload{}
	for _, q := range questions {
		p.Questions = append(p.Questions, FollowUpQuestion{
			Category: "history",
			Question: q,
			Priority: "medium",
		})
	}
	return Event{ID: uuid.New(), Kind: KindFollowUp, FollowUp: p}
}

func redFlagEvent(descriptions ...string) Event {
	p := &RedFlagPayload{}
	for _, d := range descriptions {
		p.Flags = append(p.Flags, RedFlag{
			Description: d,
			Severity:    "high",
			Rationale:   "reported chest pain",
		})
	}
	return Event{ID: uuid.New(), Kind: KindRedFlag, RedFlags: p}
}

func entitiesEvent(symptoms ...string) Event {
	p := &EntitiesPayload{}
	for _, s := range symptoms {
		p.Symptoms = append(p.Symptoms, Symptom{Name: s})
	}
	return Event{ID: uuid.New(), Kind: KindEntities, Entities: p}
}

func TestIngestDeduplicatesByText(t *testing.T) {
	s := NewStore(nil)
	s.Ingest(followUpEvent("Any fever?", "When did it start?"))
	s.Ingest(followUpEvent("Any fever?"))
	s.Ingest(followUpEvent("  Any fever?  ")) // whitespace variants collapse

	items := s.Items()
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if len(s.Events()) != 3 {
		t.Errorf("event log = %d entries, want 3", len(s.Events()))
	}
}

func TestSameTextDifferentKindsStayDistinct(t *testing.T) {
	s := NewStore(nil)
	s.Ingest(followUpEvent("Sudden onset headache"))
	s.Ingest(redFlagEvent("Sudden onset headache"))

	if got := len(s.Items()); got != 2 {
		t.Errorf("items = %d, want 2", got)
	}
}

func TestReviewDecisionSurvivesReingestion(t *testing.T) {
	s := NewStore(nil)
	s.Ingest(followUpEvent("Any fever?"))

	items := s.Items()
	if err := s.Dismiss(items[0].ID); err != nil {
		t.Fatal(err)
	}

	// The annotation service repeats itself on the next batch; the
	// clinician's decision must stand.
	s.Ingest(followUpEvent("Any fever?"))

	items = s.Items()
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if items[0].Status != StatusDismissed {
		t.Errorf("status = %s, want dismissed", items[0].Status)
	}
}

func TestFirstSeenOrderIsStable(t *testing.T) {
	s := NewStore(nil)
	s.Ingest(followUpEvent("first"))
	s.Ingest(followUpEvent("second"))
	s.Ingest(followUpEvent("first")) // duplicate must not renumber

	items := s.Items()
	if items[0].Question.Question != "first" || items[1].Question.Question != "second" {
		t.Errorf("order = %q, %q; want first, second",
			items[0].Question.Question, items[1].Question.Question)
	}
	if items[0].FirstSeen >= items[1].FirstSeen {
		t.Errorf("FirstSeen not increasing: %d, %d", items[0].FirstSeen, items[1].FirstSeen)
	}
}

func TestDisplayOrderGroupsByStatus(t *testing.T) {
	s := NewStore(nil)
	s.Ingest(followUpEvent("a", "b", "c", "d"))

	items := s.Items()
	byText := map[string]uuid.UUID{}
	for _, it := range items {
		byText[it.Question.Question] = it.ID
	}
	if err := s.Dismiss(byText["a"]); err != nil {
		t.Fatal(err)
	}
	if err := s.Accept(byText["b"]); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkAsked(byText["c"]); err != nil {
		t.Fatal(err)
	}

	var got []string
	for _, it := range s.Items() {
		got = append(got, it.Question.Question)
	}
	// pending first, then accepted/asked by arrival, dismissed last
	want := []string{"d", "b", "c", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("display order = %v, want %v", got, want)
		}
	}
}

func TestRestoreReturnsToPending(t *testing.T) {
	s := NewStore(nil)
	s.Ingest(redFlagEvent("possible sepsis"))

	id := s.Items()[0].ID
	if err := s.Dismiss(id); err != nil {
		t.Fatal(err)
	}
	if err := s.Restore(id); err != nil {
		t.Fatal(err)
	}
	if got := s.Items()[0].Status; got != StatusPending {
		t.Errorf("status = %s, want pending", got)
	}
	if s.PendingCount() != 1 {
		t.Errorf("pending = %d, want 1", s.PendingCount())
	}
}

func TestActionOnUnknownItem(t *testing.T) {
	s := NewStore(nil)
	if err := s.Accept(uuid.New()); err != ErrUnknownItem {
		t.Errorf("Accept = %v, want ErrUnknownItem", err)
	}
}

func TestEntitiesSnapshotKeepsLatest(t *testing.T) {
	s := NewStore(nil)
	if s.Entities() != nil {
		t.Fatal("expected no entities before first event")
	}
	s.Ingest(entitiesEvent("cough"))
	s.Ingest(entitiesEvent("cough", "fever"))

	got := s.Entities()
	if got == nil || len(got.Symptoms) != 2 {
		t.Fatalf("entities = %+v, want 2 symptoms", got)
	}
	if got := len(s.Items()); got != 0 {
		t.Errorf("entities must not create reviewable items, got %d", got)
	}
}

func TestCloseDiscardsLateEvents(t *testing.T) {
	s := NewStore(nil)
	s.Ingest(followUpEvent("before close"))
	s.Close()
	s.Ingest(followUpEvent("after close"))

	if got := len(s.Items()); got != 1 {
		t.Errorf("items = %d, want 1", got)
	}
	if got := len(s.Events()); got != 1 {
		t.Errorf("events = %d, want 1", got)
	}

	// Triage keeps working after the session ends.
	id := s.Items()[0].ID
	if err := s.Accept(id); err != nil {
		t.Errorf("Accept after Close: %v", err)
	}
}

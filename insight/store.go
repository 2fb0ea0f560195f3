package insight

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"medscribe/metrics"
)

// ErrUnknownItem is returned by review actions referencing an item the
// store never produced.
var ErrUnknownItem = errors.New("insight: unknown item")

// ReviewableItem is one deduplicated suggestion awaiting clinician
// review. Exactly one of Question or Flag is set, matching Kind.
type ReviewableItem struct {
	ID        uuid.UUID
	Kind      EventKind
	Question  *FollowUpQuestion
	Flag      *RedFlag
	Status    ReviewStatus
	FirstSeen int
	UpdatedAt time.Time
}

// Store reconciles the append-only stream of annotation events into the
// deduplicated, review-tracked view a clinician works from. The same
// suggestion arriving in later batches never duplicates an item and
// never resets a review decision.
type Store struct {
	met *metrics.Metrics

	mu        sync.Mutex
	events    []Event
	items     map[string]*ReviewableItem
	byID      map[uuid.UUID]*ReviewableItem
	entities  *EntitiesPayload
	nextOrder int
	closed    bool
}

func NewStore(met *metrics.Metrics) *Store {
	return &Store{
		met:   met,
		items: make(map[string]*ReviewableItem),
		byID:  make(map[uuid.UUID]*ReviewableItem),
	}
}

// dedupKey identifies a suggestion by its user-visible text, so the
// annotation service repeating itself across batches collapses to one
// item.
func dedupKey(kind EventKind, text string) string {
	return string(kind) + "\x00" + strings.TrimSpace(text)
}

// Ingest folds one event into the store. Events arriving after Close
// are discarded.
func (s *Store) Ingest(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.events = append(s.events, ev)
	if s.met != nil {
		s.met.InsightEvents.WithLabelValues(string(ev.Kind)).Inc()
	}

	switch ev.Kind {
	case KindEntities:
		if ev.Entities != nil {
			s.entities = ev.Entities
		}
	case KindFollowUp:
		if ev.FollowUp == nil {
			return
		}
		for i := range ev.FollowUp.Questions {
			q := ev.FollowUp.Questions[i]
			if strings.TrimSpace(q.Question) == "" {
				continue
			}
			s.addLocked(dedupKey(KindFollowUp, q.Question), &ReviewableItem{
				Kind:     KindFollowUp,
				Question: &q,
			})
		}
	case KindRedFlag:
		if ev.RedFlags == nil {
			return
		}
		for i := range ev.RedFlags.Flags {
			f := ev.RedFlags.Flags[i]
			if strings.TrimSpace(f.Description) == "" {
				continue
			}
			s.addLocked(dedupKey(KindRedFlag, f.Description), &ReviewableItem{
				Kind: KindRedFlag,
				Flag: &f,
			})
		}
	}
}

func (s *Store) addLocked(key string, item *ReviewableItem) {
	if _, seen := s.items[key]; seen {
		return
	}
	item.ID = uuid.New()
	item.Status = StatusPending
	item.FirstSeen = s.nextOrder
	item.UpdatedAt = time.Now()
	s.nextOrder++
	s.items[key] = item
	s.byID[item.ID] = item
}

func (s *Store) Accept(id uuid.UUID) error    { return s.setStatus(id, StatusAccepted) }
func (s *Store) Dismiss(id uuid.UUID) error   { return s.setStatus(id, StatusDismissed) }
func (s *Store) MarkAsked(id uuid.UUID) error { return s.setStatus(id, StatusAsked) }

// Restore moves a reviewed item back to pending.
func (s *Store) Restore(id uuid.UUID) error { return s.setStatus(id, StatusPending) }

func (s *Store) setStatus(id uuid.UUID, status ReviewStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.byID[id]
	if !ok {
		return ErrUnknownItem
	}
	if item.Status != status {
		item.Status = status
		item.UpdatedAt = time.Now()
	}
	return nil
}

// statusRank orders items for display: open work first, acknowledged
// items next, dismissed ones last.
func statusRank(s ReviewStatus) int {
	switch s {
	case StatusPending:
		return 0
	case StatusAccepted, StatusAsked:
		return 1
	default:
		return 2
	}
}

// Items returns the review queue in display order: pending items by
// arrival, then accepted and asked, then dismissed.
func (s *Store) Items() []ReviewableItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ReviewableItem, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := statusRank(out[i].Status), statusRank(out[j].Status)
		if ri != rj {
			return ri < rj
		}
		return out[i].FirstSeen < out[j].FirstSeen
	})
	return out
}

// PendingCount reports items still awaiting review.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, item := range s.items {
		if item.Status == StatusPending {
			n++
		}
	}
	return n
}

// Entities returns the latest extracted-entity snapshot, or nil when no
// entities event has arrived yet.
func (s *Store) Entities() *EntitiesPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entities
}

// Events returns a copy of the raw event log in arrival order.
func (s *Store) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Close stops ingestion. Review actions on existing items keep working,
// so a clinician can finish triage after the consultation has ended.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

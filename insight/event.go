package insight

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies what a single annotation event carries.
type EventKind string

const (
	KindEntities EventKind = "entities"
	KindFollowUp EventKind = "follow_up"
	KindRedFlag  EventKind = "red_flag"
)

// ReviewStatus is the clinician-facing lifecycle of a reviewable item.
type ReviewStatus string

const (
	StatusPending   ReviewStatus = "pending"
	StatusAccepted  ReviewStatus = "accepted"
	StatusDismissed ReviewStatus = "dismissed"
	StatusAsked     ReviewStatus = "asked"
)

// FollowUpQuestion is one suggested question for the clinician.
type FollowUpQuestion struct {
	Category string `json:"category"`
	Question string `json:"question"`
	Priority string `json:"priority"`
}

// FollowUpPayload is the content of a follow_up event.
type FollowUpPayload struct {
	Questions []FollowUpQuestion `json:"questions"`
}

// RedFlag is one urgent clinical warning.
type RedFlag struct {
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Rationale   string `json:"rationale"`
}

// RedFlagPayload is the content of a red_flag event.
type RedFlagPayload struct {
	Flags []RedFlag `json:"flags"`
}

// Symptom is one extracted clinical entity.
type Symptom struct {
	Name     string `json:"name"`
	Duration string `json:"duration"`
	Severity string `json:"severity"`
}

// EntitiesPayload is the content of an entities event. Negatives are
// symptoms the patient explicitly denied.
type EntitiesPayload struct {
	Symptoms  []Symptom `json:"symptoms"`
	Negatives []string  `json:"negatives"`
}

// Event is one decoded annotation event. Exactly one of the payload
// pointers is set, matching Kind.
type Event struct {
	ID             uuid.UUID
	ConsultationID string
	Kind           EventKind
	FollowUp       *FollowUpPayload
	RedFlags       *RedFlagPayload
	Entities       *EntitiesPayload
	Raw            json.RawMessage
	CreatedAt      time.Time
}

// decodeEvent parses the kind-specific content of a wire event.
func decodeEvent(consultationID string, kind string, content json.RawMessage) (Event, error) {
	ev := Event{
		ID:             uuid.New(),
		ConsultationID: consultationID,
		Kind:           EventKind(kind),
		Raw:            content,
		CreatedAt:      time.Now(),
	}

	switch ev.Kind {
	case KindFollowUp:
		var p FollowUpPayload
		if err := json.Unmarshal(content, &p); err != nil {
			return Event{}, fmt.Errorf("follow_up content: %w", err)
		}
		ev.FollowUp = &p
	case KindRedFlag:
		var p RedFlagPayload
		if err := json.Unmarshal(content, &p); err != nil {
			return Event{}, fmt.Errorf("red_flag content: %w", err)
		}
		ev.RedFlags = &p
	case KindEntities:
		var p EntitiesPayload
		if err := json.Unmarshal(content, &p); err != nil {
			return Event{}, fmt.Errorf("entities content: %w", err)
		}
		ev.Entities = &p
	default:
		return Event{}, fmt.Errorf("unknown event kind %q", kind)
	}
	return ev, nil
}

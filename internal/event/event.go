package event

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeUserRegistered   Type = "user.registered"
	TypeUserActivated    Type = "user.activated"
	TypeSessionStarted   Type = "session.started"
	TypeSessionRotated   Type = "session.rotated"
	TypeSessionRevoked   Type = "session.revoked"
	TypeRefreshReused    Type = "session.reuse_detected"
	TypeLoginFailed      Type = "login.failed"
	TypeRoleChanged      Type = "user.role_changed"
	TypeUserBanned       Type = "user.banned"
	TypeUserUnbanned     Type = "user.unbanned"
	TypePasswordChanged  Type = "password.changed"
	TypePasswordResetReq Type = "password.reset_requested"
)

type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	ActorID    string         `json:"actor_id,omitempty"`   // Who triggered the event
	SubjectID  string         `json:"subject_id,omitempty"` // Whose account it concerns
	Attributes map[string]any `json:"attributes,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

func New(typ Type, actorID string, subjectID string, attrs map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		ActorID:    actorID,
		SubjectID:  subjectID,
		Attributes: attrs,
		Timestamp:  time.Now().UTC(),
	}
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func()) // Returns channel and unsubscribe function
}

// Nop discards everything. Useful where no one listens.
type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event)
	return ch, func() {}
}

package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vmfleet/engine/internal/models"
)

// Event describes one applied observed-state transition.
type Event struct {
	VMID    uuid.UUID           `json:"vm_id"`
	Name    string              `json:"name"`
	From    models.State        `json:"from_state"`
	To      models.State        `json:"to_state"`
	Desired models.DesiredState `json:"desired_state"`
	Source  string              `json:"source"`
	Reason  string              `json:"reason,omitempty"`
	At      time.Time           `json:"at"`
}

// Publisher emits lifecycle events to interested consumers. Publishing is
// best effort: callers log failures and move on, state is already durable.
type Publisher interface {
	PublishTransition(ctx context.Context, ev Event) error
	Close()
}

// Nop discards every event. Used when no broker is configured.
type Nop struct{}

func (Nop) PublishTransition(context.Context, Event) error { return nil }
func (Nop) Close()                                         {}

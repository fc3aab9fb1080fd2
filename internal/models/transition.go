package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Transition sources identify which actor applied a state write.
const (
	TransitionSourceAPI        = "api"
	TransitionSourceWorker     = "worker"
	TransitionSourceReconciler = "reconciler"
)

// StateTransition is an append-only audit row recorded atomically with every
// observed-state write. Rows are never updated or deleted.
type StateTransition struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	VMID      uuid.UUID      `gorm:"type:uuid;index;not null" json:"vm_id"`
	FromState State          `gorm:"type:varchar(16);not null" json:"from_state"`
	ToState   State          `gorm:"type:varchar(16);not null" json:"to_state"`
	Desired   DesiredState   `gorm:"type:varchar(16);not null" json:"desired_state"`
	Source    string         `gorm:"type:varchar(16);not null" json:"source"`
	Reason    string         `gorm:"type:varchar(255)" json:"reason,omitempty"`
	Detail    datatypes.JSON `gorm:"type:jsonb" json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

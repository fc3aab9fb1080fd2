package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// State is the controller's last recorded belief about a VM's actual condition.
type State string

const (
	StatePending      State = "pending"
	StateProvisioning State = "provisioning"
	StateRunning      State = "running"
	StateStopping     State = "stopping"
	StateStopped      State = "stopped"
	StateTerminating  State = "terminating"
	StateTerminated   State = "terminated"
	StateError        State = "error"
)

// DesiredState is the operator's intended end state for a VM.
type DesiredState string

const (
	DesiredRunning DesiredState = "running"
	DesiredStopped DesiredState = "stopped"
	DesiredDeleted DesiredState = "deleted"
)

// transitions defines every legal observed-state edge. Writes that do not
// follow an edge here are rejected before they reach the store.
var transitions = map[State][]State{
	StatePending:      {StateProvisioning, StateTerminating},
	StateProvisioning: {StateRunning, StateError, StateTerminating},
	StateRunning:      {StateStopping, StateTerminating, StateError},
	StateStopping:     {StateStopped, StateError, StateTerminating},
	StateStopped:      {StateProvisioning, StateTerminating, StateError},
	StateTerminating:  {StateTerminated, StateError},
	StateError:        {StateTerminating},
	StateTerminated:   {},
}

// CanTransition reports whether from -> to is a legal observed-state edge.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InFlight reports whether the state marks an operation in progress against
// the backend. In-flight rows are owned by a pending task or the reconciler.
func (s State) InFlight() bool {
	return s == StateProvisioning || s == StateStopping || s == StateTerminating
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateTerminated
}

// Valid reports whether s is a known observed state.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Valid reports whether d is a known desired state.
func (d DesiredState) Valid() bool {
	return d == DesiredRunning || d == DesiredStopped || d == DesiredDeleted
}

// VM is the central entity tracked by the control plane. The observed state
// is mutated exclusively through the repository's compare-and-swap, keyed on
// Version; every successful write bumps Version by one.
type VM struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID       uuid.UUID      `gorm:"type:uuid;index;not null" json:"owner_id"`
	Name          string         `gorm:"type:varchar(64);index;not null" json:"name" validate:"required,min=3,max=50,excludesall=0x20"`
	CPUs          int            `gorm:"not null" json:"cpus" validate:"required,gte=1,lte=31"`
	MemoryMB      int            `gorm:"not null" json:"memory_mb" validate:"required,gte=1,lte=1023"`
	DesiredState  DesiredState   `gorm:"type:varchar(16);index;not null" json:"desired_state" validate:"required,oneof=running stopped deleted"`
	ObservedState State          `gorm:"type:varchar(16);index;not null" json:"observed_state" validate:"required,oneof=pending provisioning running stopping stopped terminating terminated error"`
	BackendRef    string         `gorm:"type:varchar(128)" json:"backend_ref,omitempty"`
	Version       int64          `gorm:"not null;default:0" json:"version"`
	Retries       int            `gorm:"not null;default:0" json:"retries"`
	LastError     string         `gorm:"type:text" json:"last_error,omitempty"`
	Metadata      datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `gorm:"index" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

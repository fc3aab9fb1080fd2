package provisioner

import (
	"context"

	"github.com/google/uuid"
)

// ResultKind classifies the outcome of an effectful backend call.
type ResultKind string

const (
	ResultSuccess    ResultKind = "success"
	ResultInProgress ResultKind = "in_progress"
	ResultFailure    ResultKind = "failure"
)

// Result is the outcome of a provision/stop/destroy call. BackendRef is set
// on successful provision; Reason carries the backend's failure message.
type Result struct {
	Kind       ResultKind `json:"kind"`
	BackendRef string     `json:"backend_ref,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// Phase is the backend's own view of an instance, reported by Status.
type Phase string

const (
	PhaseCreating   Phase = "creating"
	PhaseRunning    Phase = "running"
	PhaseStopping   Phase = "stopping"
	PhaseStopped    Phase = "stopped"
	PhaseDestroying Phase = "destroying"
	PhaseDestroyed  Phase = "destroyed"
	PhaseMissing    Phase = "missing"
	PhaseFailed     Phase = "failed"
)

// Status is a point-in-time report of backend truth for one instance.
type Status struct {
	Phase  Phase  `json:"phase"`
	Reason string `json:"reason,omitempty"`
}

// ProvisionRequest carries the resource spec for a new backend instance.
type ProvisionRequest struct {
	VMID     uuid.UUID
	Name     string
	CPUs     int
	MemoryMB int
}

// Adapter is the pluggable boundary to a VM backend. Calls may be slow and
// unreliable; callers bound every call with a context deadline and treat a
// deadline hit as in-progress, never as failure. Provision must be
// idempotent per VM id: a repeated call for the same VM returns the existing
// instance instead of creating a second one.
type Adapter interface {
	Provision(ctx context.Context, req ProvisionRequest) (Result, error)
	Stop(ctx context.Context, backendRef string) (Result, error)
	Destroy(ctx context.Context, backendRef string) (Result, error)
	Status(ctx context.Context, backendRef string) (Status, error)
}

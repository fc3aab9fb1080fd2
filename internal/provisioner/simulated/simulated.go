package simulated

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmfleet/engine/internal/provisioner"
	"github.com/vmfleet/engine/pkg/utils"
)

// Options tune the simulated backend. Zero delays resolve every call on the
// spot, which keeps controller and reconciler tests deterministic.
type Options struct {
	ProvisionDelay time.Duration
	StopDelay      time.Duration
	DestroyDelay   time.Duration
}

type instance struct {
	ref     string
	vmID    uuid.UUID
	phase   provisioner.Phase
	next    provisioner.Phase // phase applied once readyAt passes
	readyAt time.Time
	failMsg string
}

// Backend is an in-memory Adapter used for tests and local development.
// Instances live only as long as the process.
type Backend struct {
	mu       sync.Mutex
	opts     Options
	byRef    map[string]*instance
	byVM     map[uuid.UUID]string
	failures map[string]string
	now      func() time.Time
}

var _ provisioner.Adapter = (*Backend)(nil)

func New(opts Options) *Backend {
	return &Backend{
		opts:     opts,
		byRef:    make(map[string]*instance),
		byVM:     make(map[uuid.UUID]string),
		failures: make(map[string]string),
		now:      time.Now,
	}
}

// RefFor returns the backend ref a VM id maps to. Deterministic, so tests
// can address instances before they exist.
func RefFor(vmID uuid.UUID) string {
	return "sim-" + utils.ShortRef(vmID[:])
}

// FailNext makes the next effectful call against ref report Failure(reason).
func (b *Backend) FailNext(ref, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[ref] = reason
}

// PowerOff flips a running instance to stopped behind the controller's back.
func (b *Backend) PowerOff(ref string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if inst, ok := b.byRef[ref]; ok && inst.phase == provisioner.PhaseRunning {
		inst.phase = provisioner.PhaseStopped
		inst.next = ""
	}
}

// Vanish removes an instance entirely, as if deleted outside the control plane.
func (b *Backend) Vanish(ref string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if inst, ok := b.byRef[ref]; ok {
		delete(b.byVM, inst.vmID)
		delete(b.byRef, ref)
	}
}

// advance applies a pending phase flip whose delay has elapsed.
func (b *Backend) advance(inst *instance) {
	if inst.next != "" && !b.now().Before(inst.readyAt) {
		inst.phase = inst.next
		inst.next = ""
	}
}

// takeFailure consumes an injected failure for ref, if any.
func (b *Backend) takeFailure(ref string) (string, bool) {
	msg, ok := b.failures[ref]
	if ok {
		delete(b.failures, ref)
	}
	return msg, ok
}

func (b *Backend) Provision(ctx context.Context, req provisioner.ProvisionRequest) (provisioner.Result, error) {
	if err := ctx.Err(); err != nil {
		return provisioner.Result{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ref := RefFor(req.VMID)
	if msg, ok := b.takeFailure(ref); ok {
		return provisioner.Result{Kind: provisioner.ResultFailure, Reason: msg}, nil
	}

	if existing, ok := b.byVM[req.VMID]; ok {
		inst := b.byRef[existing]
		b.advance(inst)
		switch inst.phase {
		case provisioner.PhaseCreating:
			return provisioner.Result{Kind: provisioner.ResultInProgress, BackendRef: inst.ref}, nil
		case provisioner.PhaseFailed:
			return provisioner.Result{Kind: provisioner.ResultFailure, Reason: inst.failMsg}, nil
		default:
			return provisioner.Result{Kind: provisioner.ResultSuccess, BackendRef: inst.ref}, nil
		}
	}

	inst := &instance{ref: ref, vmID: req.VMID, phase: provisioner.PhaseRunning}
	if b.opts.ProvisionDelay > 0 {
		inst.phase = provisioner.PhaseCreating
		inst.next = provisioner.PhaseRunning
		inst.readyAt = b.now().Add(b.opts.ProvisionDelay)
	}
	b.byRef[ref] = inst
	b.byVM[req.VMID] = ref

	if inst.phase == provisioner.PhaseRunning {
		return provisioner.Result{Kind: provisioner.ResultSuccess, BackendRef: ref}, nil
	}
	return provisioner.Result{Kind: provisioner.ResultInProgress, BackendRef: ref}, nil
}

func (b *Backend) Stop(ctx context.Context, backendRef string) (provisioner.Result, error) {
	if err := ctx.Err(); err != nil {
		return provisioner.Result{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg, ok := b.takeFailure(backendRef); ok {
		if inst, found := b.byRef[backendRef]; found {
			inst.phase = provisioner.PhaseFailed
			inst.failMsg = msg
			inst.next = ""
		}
		return provisioner.Result{Kind: provisioner.ResultFailure, Reason: msg}, nil
	}

	inst, ok := b.byRef[backendRef]
	if !ok {
		return provisioner.Result{Kind: provisioner.ResultFailure, Reason: "unknown backend ref"}, nil
	}
	b.advance(inst)

	switch inst.phase {
	case provisioner.PhaseStopped:
		return provisioner.Result{Kind: provisioner.ResultSuccess, BackendRef: backendRef}, nil
	case provisioner.PhaseStopping:
		return provisioner.Result{Kind: provisioner.ResultInProgress, BackendRef: backendRef}, nil
	}

	if b.opts.StopDelay > 0 {
		inst.phase = provisioner.PhaseStopping
		inst.next = provisioner.PhaseStopped
		inst.readyAt = b.now().Add(b.opts.StopDelay)
		return provisioner.Result{Kind: provisioner.ResultInProgress, BackendRef: backendRef}, nil
	}
	inst.phase = provisioner.PhaseStopped
	inst.next = ""
	return provisioner.Result{Kind: provisioner.ResultSuccess, BackendRef: backendRef}, nil
}

func (b *Backend) Destroy(ctx context.Context, backendRef string) (provisioner.Result, error) {
	if err := ctx.Err(); err != nil {
		return provisioner.Result{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg, ok := b.takeFailure(backendRef); ok {
		if inst, found := b.byRef[backendRef]; found {
			inst.phase = provisioner.PhaseFailed
			inst.failMsg = msg
			inst.next = ""
		}
		return provisioner.Result{Kind: provisioner.ResultFailure, Reason: msg}, nil
	}

	inst, ok := b.byRef[backendRef]
	if !ok {
		// already gone; teardown is idempotent
		return provisioner.Result{Kind: provisioner.ResultSuccess}, nil
	}
	b.advance(inst)

	switch inst.phase {
	case provisioner.PhaseDestroyed:
		return provisioner.Result{Kind: provisioner.ResultSuccess, BackendRef: backendRef}, nil
	case provisioner.PhaseDestroying:
		return provisioner.Result{Kind: provisioner.ResultInProgress, BackendRef: backendRef}, nil
	}

	if b.opts.DestroyDelay > 0 {
		inst.phase = provisioner.PhaseDestroying
		inst.next = provisioner.PhaseDestroyed
		inst.readyAt = b.now().Add(b.opts.DestroyDelay)
		return provisioner.Result{Kind: provisioner.ResultInProgress, BackendRef: backendRef}, nil
	}
	inst.phase = provisioner.PhaseDestroyed
	inst.next = ""
	return provisioner.Result{Kind: provisioner.ResultSuccess, BackendRef: backendRef}, nil
}

func (b *Backend) Status(ctx context.Context, backendRef string) (provisioner.Status, error) {
	if err := ctx.Err(); err != nil {
		return provisioner.Status{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	inst, ok := b.byRef[backendRef]
	if !ok {
		return provisioner.Status{Phase: provisioner.PhaseMissing}, nil
	}
	b.advance(inst)
	return provisioner.Status{Phase: inst.phase, Reason: inst.failMsg}, nil
}

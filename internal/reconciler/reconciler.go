package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmfleet/engine/internal/events"
	"github.com/vmfleet/engine/internal/metrics"
	"github.com/vmfleet/engine/internal/models"
	"github.com/vmfleet/engine/internal/provisioner"
	"github.com/vmfleet/engine/internal/queue"
	"github.com/vmfleet/engine/internal/repository"
	appErr "github.com/vmfleet/engine/pkg/errors"
	"github.com/vmfleet/engine/pkg/logger"
	"go.uber.org/zap"
)

// scanLimit caps the rows examined per pass.
const scanLimit = 500

// Options configure the loop cadence and give-up policy.
type Options struct {
	Interval    time.Duration
	StaleAfter  time.Duration
	MaxRetries  int
	CallTimeout time.Duration
}

// Reconciler converges stored vm state with backend truth. It shares no call
// path with the live task handlers; the two coordinate only through the
// versioned store, so either side can crash without losing work.
type Reconciler struct {
	repo      repository.VMRepository
	adapter   provisioner.Adapter
	enqueuer  queue.Enqueuer
	publisher events.Publisher
	opts      Options
}

func New(repo repository.VMRepository, adapter provisioner.Adapter, enqueuer queue.Enqueuer, publisher events.Publisher, opts Options) *Reconciler {
	return &Reconciler{repo: repo, adapter: adapter, enqueuer: enqueuer, publisher: publisher, opts: opts}
}

func ptr[T any](v T) *T { return &v }

// Run blocks until ctx is cancelled, executing one pass per interval.
func (r *Reconciler) Run(ctx context.Context) {
	logger.L().Info("reconciler started",
		zap.Duration("interval", r.opts.Interval),
		zap.Duration("stale_after", r.opts.StaleAfter),
		zap.Int("max_retries", r.opts.MaxRetries))

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.L().Info("reconciler stopped")
			return
		case <-ticker.C:
			r.Once(ctx)
		}
	}
}

// Once executes a single pass. Store outages are logged and counted; the
// next tick tries again.
func (r *Reconciler) Once(ctx context.Context) {
	metrics.ReconcileRuns.Inc()

	cutoff := time.Now().UTC().Add(-r.opts.StaleAfter)
	states := []models.State{
		models.StateProvisioning, models.StateStopping, models.StateTerminating,
		models.StateRunning, models.StateStopped, models.StatePending,
	}
	vms, err := r.repo.ListStale(ctx, states, cutoff, scanLimit)
	if err != nil {
		metrics.ReconcileErrors.Inc()
		logger.L().Error("reconcile scan failed", zap.Error(err))
		return
	}

	for i := range vms {
		if ctx.Err() != nil {
			return
		}
		vm := &vms[i]
		switch vm.ObservedState {
		case models.StateProvisioning, models.StateStopping, models.StateTerminating:
			r.reconcileInFlight(ctx, vm)
		default:
			r.reconcileStable(ctx, vm)
		}
	}
}

// reconcileInFlight handles rows stuck in a transitional state: either the
// worker died, the backend is slow, or the task was never enqueued.
func (r *Reconciler) reconcileInFlight(ctx context.Context, vm *models.VM) {
	if r.opts.MaxRetries > 0 && vm.Retries >= r.opts.MaxRetries {
		r.forceError(ctx, vm, fmt.Sprintf("gave up after %d reconcile attempts in %s", vm.Retries, vm.ObservedState))
		return
	}

	if vm.BackendRef == "" {
		if vm.ObservedState == models.StateStopping {
			// a stop without a backend ref cannot be acted on
			r.forceError(ctx, vm, "stopping vm has no backend ref")
			return
		}
		// the task died before reaching the backend; re-drive it
		r.redrive(ctx, vm, "no backend activity observed")
		return
	}

	st, err := r.pollStatus(ctx, vm)
	if err != nil {
		r.bumpRetries(ctx, vm, "status poll failed")
		return
	}

	switch vm.ObservedState {
	case models.StateProvisioning:
		switch st.Phase {
		case provisioner.PhaseRunning:
			r.resolveInFlight(ctx, vm, models.StateRunning, "backend reports instance running")
		case provisioner.PhaseCreating:
			r.bumpRetries(ctx, vm, "backend still creating")
		case provisioner.PhaseMissing:
			r.redrive(ctx, vm, "backend has no instance")
		case provisioner.PhaseFailed:
			r.forceError(ctx, vm, statusReason(st, "backend reports failed instance"))
		default:
			r.bumpRetries(ctx, vm, fmt.Sprintf("unexpected backend phase %s while provisioning", st.Phase))
		}
	case models.StateStopping:
		switch st.Phase {
		case provisioner.PhaseStopped:
			r.resolveInFlight(ctx, vm, models.StateStopped, "backend reports instance stopped")
		case provisioner.PhaseStopping:
			r.bumpRetries(ctx, vm, "backend still stopping")
		case provisioner.PhaseRunning:
			r.redrive(ctx, vm, "stop call never reached the backend")
		case provisioner.PhaseFailed, provisioner.PhaseMissing:
			r.forceError(ctx, vm, statusReason(st, fmt.Sprintf("backend reports %s while stopping", st.Phase)))
		default:
			r.bumpRetries(ctx, vm, fmt.Sprintf("unexpected backend phase %s while stopping", st.Phase))
		}
	case models.StateTerminating:
		switch st.Phase {
		case provisioner.PhaseDestroyed, provisioner.PhaseMissing:
			r.resolveInFlight(ctx, vm, models.StateTerminated, "backend instance gone")
		case provisioner.PhaseDestroying:
			r.bumpRetries(ctx, vm, "backend still destroying")
		case provisioner.PhaseFailed:
			r.forceError(ctx, vm, statusReason(st, "backend reports failed teardown"))
		default:
			r.redrive(ctx, vm, fmt.Sprintf("backend reports %s, re-driving teardown", st.Phase))
		}
	}
}

// reconcileStable cross-checks settled rows against the backend and applies
// recorded desired-state changes that never got their task.
func (r *Reconciler) reconcileStable(ctx context.Context, vm *models.VM) {
	// a recorded delete trumps everything else
	if vm.DesiredState == models.DesiredDeleted && vm.ObservedState != models.StateTerminated {
		update := repository.VMUpdate{ObservedState: ptr(models.StateTerminating), LastError: ptr(""), Retries: ptr(0)}
		if r.apply(ctx, vm, update, "applying recorded delete") {
			r.enqueue(ctx, queue.TypeTerminate, vm.ID)
		}
		return
	}

	if vm.ObservedState == models.StateStopped && vm.DesiredState == models.DesiredRunning {
		update := repository.VMUpdate{ObservedState: ptr(models.StateProvisioning), LastError: ptr(""), Retries: ptr(0)}
		if r.apply(ctx, vm, update, "restarting to reach desired state") {
			r.enqueue(ctx, queue.TypeProvision, vm.ID)
		}
		return
	}

	if vm.BackendRef == "" || vm.ObservedState == models.StatePending {
		return
	}

	st, err := r.pollStatus(ctx, vm)
	if err != nil {
		logger.L().Warn("drift check poll failed", zap.Error(err), zap.String("vm_id", vm.ID.String()))
		return
	}

	// drift is surfaced, never silently repaired
	switch vm.ObservedState {
	case models.StateRunning:
		switch st.Phase {
		case provisioner.PhaseStopped, provisioner.PhaseMissing, provisioner.PhaseFailed:
			r.forceError(ctx, vm, fmt.Sprintf("drift: expected running, backend reports %s", st.Phase))
		}
	case models.StateStopped:
		switch st.Phase {
		case provisioner.PhaseRunning, provisioner.PhaseMissing, provisioner.PhaseFailed:
			r.forceError(ctx, vm, fmt.Sprintf("drift: expected stopped, backend reports %s", st.Phase))
		}
	}
}

func (r *Reconciler) pollStatus(ctx context.Context, vm *models.VM) (provisioner.Status, error) {
	stCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	defer cancel()
	return r.adapter.Status(stCtx, vm.BackendRef)
}

// resolveInFlight settles an in-flight row on what the backend reports,
// honoring a delete that arrived while the operation ran.
func (r *Reconciler) resolveInFlight(ctx context.Context, vm *models.VM, next models.State, reason string) {
	if vm.DesiredState == models.DesiredDeleted && next != models.StateTerminated {
		next = models.StateTerminating
		reason = "deferred delete applied during reconcile"
	}
	update := repository.VMUpdate{ObservedState: &next, LastError: ptr(""), Retries: ptr(0)}
	if r.apply(ctx, vm, update, reason) && next == models.StateTerminating {
		r.enqueue(ctx, queue.TypeTerminate, vm.ID)
	}
}

// redrive re-enqueues the task a stale row is waiting on. The retry bump
// lands first so a row cannot be re-driven forever.
func (r *Reconciler) redrive(ctx context.Context, vm *models.VM, why string) {
	if !r.bumpRetries(ctx, vm, why) {
		return
	}
	logger.L().Info("re-driving lifecycle task",
		zap.String("vm_id", vm.ID.String()),
		zap.String("observed_state", string(vm.ObservedState)),
		zap.String("why", why))
	r.enqueue(ctx, taskForState(vm.ObservedState), vm.ID)
}

func (r *Reconciler) bumpRetries(ctx context.Context, vm *models.VM, why string) bool {
	return r.apply(ctx, vm, repository.VMUpdate{Retries: ptr(vm.Retries + 1)}, why)
}

func (r *Reconciler) forceError(ctx context.Context, vm *models.VM, reason string) {
	update := repository.VMUpdate{ObservedState: ptr(models.StateError), LastError: &reason}
	r.apply(ctx, vm, update, reason)
}

// apply writes one CAS update with a reconciler-sourced audit row. Returns
// false when the write did not land; a lost race means a live writer acted
// first and the next pass re-checks the row.
func (r *Reconciler) apply(ctx context.Context, vm *models.VM, update repository.VMUpdate, reason string) bool {
	to := vm.ObservedState
	if update.ObservedState != nil {
		to = *update.ObservedState
	}
	if to != vm.ObservedState && !models.CanTransition(vm.ObservedState, to) {
		logger.L().Error("refusing illegal transition",
			zap.String("vm_id", vm.ID.String()),
			zap.String("from", string(vm.ObservedState)),
			zap.String("to", string(to)))
		return false
	}

	desired := vm.DesiredState
	if update.DesiredState != nil {
		desired = *update.DesiredState
	}
	audit := models.StateTransition{
		FromState: vm.ObservedState,
		ToState:   to,
		Desired:   desired,
		Source:    models.TransitionSourceReconciler,
		Reason:    reason,
	}

	out, err := r.repo.CompareAndSwap(ctx, vm.ID, vm.Version, update, audit)
	if err != nil {
		if appErr.IsCode(err, appErr.CodeConcurrentModification) || appErr.IsCode(err, appErr.CodeNotFound) {
			logger.L().Debug("reconcile write lost race", zap.String("vm_id", vm.ID.String()))
			return false
		}
		metrics.ReconcileErrors.Inc()
		logger.L().Error("reconcile write failed", zap.Error(err), zap.String("vm_id", vm.ID.String()))
		return false
	}

	if to != vm.ObservedState {
		logger.L().Info("reconciled vm",
			zap.String("vm_id", vm.ID.String()),
			zap.String("from", string(vm.ObservedState)),
			zap.String("to", string(to)),
			zap.String("reason", reason))
		metrics.Transitions.WithLabelValues(string(vm.ObservedState), string(to), models.TransitionSourceReconciler).Inc()
		if r.publisher != nil {
			ev := events.Event{
				VMID:    out.ID,
				Name:    out.Name,
				From:    vm.ObservedState,
				To:      to,
				Desired: desired,
				Source:  models.TransitionSourceReconciler,
				Reason:  reason,
				At:      time.Now().UTC(),
			}
			if perr := r.publisher.PublishTransition(ctx, ev); perr != nil {
				logger.L().Warn("publish transition event failed", zap.Error(perr), zap.String("vm_id", out.ID.String()))
			}
		}
	}
	return true
}

func (r *Reconciler) enqueue(ctx context.Context, taskType string, id uuid.UUID) {
	if r.enqueuer == nil {
		return
	}
	if err := r.enqueuer.EnqueueLifecycle(ctx, taskType, id); err != nil {
		logger.L().Error("enqueue from reconciler failed", zap.Error(err), zap.String("task", taskType), zap.String("vm_id", id.String()))
	}
}

func taskForState(st models.State) string {
	switch st {
	case models.StateProvisioning:
		return queue.TypeProvision
	case models.StateStopping:
		return queue.TypeStop
	default:
		return queue.TypeTerminate
	}
}

func statusReason(st provisioner.Status, fallback string) string {
	if st.Reason != "" {
		return st.Reason
	}
	return fallback
}

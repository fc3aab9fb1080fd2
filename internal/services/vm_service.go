package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
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
	"gorm.io/datatypes"
)

// casAttempts bounds the read-validate-write cycle before a
// concurrent_modification error is surfaced to the caller.
const casAttempts = 3

// VM service interface and DTOs
type VMService interface {
	// Lifecycle intents
	Create(ctx context.Context, ownerID uuid.UUID, input *CreateVMInput) (*models.VM, error)
	RequestStart(ctx context.Context, vmID, ownerID uuid.UUID) (*models.VM, error)
	RequestStop(ctx context.Context, vmID, ownerID uuid.UUID) (*models.VM, error)
	RequestDelete(ctx context.Context, vmID, ownerID uuid.UUID) (*models.VM, error)

	// Reads
	Get(ctx context.Context, vmID, ownerID uuid.UUID) (*models.VM, error)
	List(ctx context.Context, ownerID uuid.UUID, filters *VMFilters) ([]models.VM, int64, error)
	ListTransitions(ctx context.Context, vmID, ownerID uuid.UUID, limit int) ([]models.StateTransition, error)
	ListDisks(ctx context.Context, vmID, ownerID uuid.UUID) ([]models.Disk, error)

	// Spec updates
	Update(ctx context.Context, vmID, ownerID uuid.UUID, input *UpdateVMInput) (*models.VM, error)

	// Outcome resolution (called by worker)
	ResolveProvision(ctx context.Context, vmID uuid.UUID, res provisioner.Result) (*models.VM, error)
	ResolveStop(ctx context.Context, vmID uuid.UUID, res provisioner.Result) (*models.VM, error)
	ResolveTerminate(ctx context.Context, vmID uuid.UUID, res provisioner.Result) (*models.VM, error)
}

type CreateVMInput struct {
	Name     string
	CPUs     int
	MemoryMB int
	Metadata map[string]any
	Disks    []DiskInput
}

type DiskInput struct {
	Name   string
	SizeGB int
}

type UpdateVMInput struct {
	Name     *string
	CPUs     *int
	MemoryMB *int
	Metadata map[string]any
}

type VMFilters struct {
	ObservedState string
	DesiredState  string
	Name          string
	Page          int
	PageSize      int
}

type vmService struct {
	vmRepo    repository.VMRepository
	diskRepo  repository.DiskRepository
	transRepo repository.TransitionRepository
	enqueuer  queue.Enqueuer
	publisher events.Publisher
}

func NewVMService(vmRepo repository.VMRepository, diskRepo repository.DiskRepository, transRepo repository.TransitionRepository, enqueuer queue.Enqueuer, publisher events.Publisher) VMService {
	return &vmService{vmRepo: vmRepo, diskRepo: diskRepo, transRepo: transRepo, enqueuer: enqueuer, publisher: publisher}
}

var _ VMService = (*vmService)(nil)

func ptr[T any](v T) *T { return &v }

func validateName(name string) error {
	if len(name) < 3 || len(name) > 50 {
		return appErr.New(appErr.CodeInvalid, "name must be between 3 and 50 characters")
	}
	if strings.Contains(name, " ") {
		return appErr.New(appErr.CodeInvalid, "name must not contain spaces")
	}
	return nil
}

func validateSpec(cpus, memoryMB int) error {
	if cpus < 1 || cpus > 31 {
		return appErr.New(appErr.CodeInvalid, "cpus must be between 1 and 31")
	}
	if memoryMB < 1 || memoryMB > 1023 {
		return appErr.New(appErr.CodeInvalid, "memory_mb must be between 1 and 1023")
	}
	return nil
}

func metadataJSON(m map[string]any) (datatypes.JSON, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInvalid, "marshal metadata failed")
	}
	return datatypes.JSON(b), nil
}

func observeIntent(intent string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.Intents.WithLabelValues(intent, outcome).Inc()
}

func (s *vmService) Create(ctx context.Context, ownerID uuid.UUID, input *CreateVMInput) (vm *models.VM, err error) {
	defer func() { observeIntent("create", err) }()
	logger.L().Info("create vm", zap.String("owner_id", ownerID.String()), zap.String("name", input.Name))

	if err = validateName(input.Name); err != nil {
		return nil, err
	}
	if err = validateSpec(input.CPUs, input.MemoryMB); err != nil {
		return nil, err
	}
	meta, err := metadataJSON(input.Metadata)
	if err != nil {
		return nil, err
	}

	vm = &models.VM{
		ID:            uuid.New(),
		OwnerID:       ownerID,
		Name:          input.Name,
		CPUs:          input.CPUs,
		MemoryMB:      input.MemoryMB,
		DesiredState:  models.DesiredStopped,
		ObservedState: models.StatePending,
		Metadata:      meta,
	}

	disks := make([]models.Disk, 0, len(input.Disks))
	for _, d := range input.Disks {
		if d.Name == "" || len(d.Name) > 50 {
			return nil, appErr.New(appErr.CodeInvalid, "disk name must be between 1 and 50 characters")
		}
		if d.SizeGB < 1 || d.SizeGB > 4096 {
			return nil, appErr.New(appErr.CodeInvalid, "disk size_gb must be between 1 and 4096")
		}
		disks = append(disks, models.Disk{ID: uuid.New(), VMID: vm.ID, Name: d.Name, SizeGB: d.SizeGB})
	}

	if err = s.vmRepo.CreateWithDisks(ctx, vm, disks); err != nil {
		return nil, err
	}

	logger.L().Info("vm created", zap.String("vm_id", vm.ID.String()), zap.String("name", vm.Name))
	return vm, nil
}

// mutateFn inspects the freshly read row and returns the update plus its
// audit entry. Returning a nil update means the intent is an idempotent no-op
// and the current record is returned untouched.
type mutateFn func(vm *models.VM) (*repository.VMUpdate, *models.StateTransition, error)

// mutate runs the read-validate-write cycle under the optimistic lock,
// retrying lost races up to casAttempts before giving up. The returned
// transition is nil when no write happened.
func (s *vmService) mutate(ctx context.Context, vmID uuid.UUID, fn mutateFn) (*models.VM, *models.StateTransition, error) {
	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		var vm models.VM
		if err := s.vmRepo.GetByID(ctx, vmID, &vm); err != nil {
			return nil, nil, err
		}

		update, audit, err := fn(&vm)
		if err != nil {
			return nil, nil, err
		}
		if update == nil {
			return &vm, nil, nil
		}

		if update.ObservedState != nil && *update.ObservedState != vm.ObservedState {
			if !models.CanTransition(vm.ObservedState, *update.ObservedState) {
				return nil, nil, appErr.New(appErr.CodeInvalidTransition,
					fmt.Sprintf("cannot transition from %s to %s", vm.ObservedState, *update.ObservedState))
			}
		}

		out, err := s.vmRepo.CompareAndSwap(ctx, vmID, vm.Version, *update, *audit)
		if err == nil {
			s.afterWrite(ctx, out, *audit)
			return out, audit, nil
		}
		if !appErr.IsCode(err, appErr.CodeConcurrentModification) {
			return nil, nil, err
		}
		metrics.CASConflicts.Inc()
		lastErr = err
	}
	return nil, nil, lastErr
}

// afterWrite records metrics and publishes the transition event. State is
// already durable; failures here are logged and swallowed.
func (s *vmService) afterWrite(ctx context.Context, out *models.VM, applied models.StateTransition) {
	if applied.FromState == applied.ToState {
		return
	}
	metrics.Transitions.WithLabelValues(string(applied.FromState), string(applied.ToState), applied.Source).Inc()
	if s.publisher == nil {
		return
	}
	ev := events.Event{
		VMID:    out.ID,
		Name:    out.Name,
		From:    applied.FromState,
		To:      applied.ToState,
		Desired: applied.Desired,
		Source:  applied.Source,
		Reason:  applied.Reason,
		At:      time.Now().UTC(),
	}
	if err := s.publisher.PublishTransition(ctx, ev); err != nil {
		logger.L().Warn("publish transition event failed", zap.Error(err), zap.String("vm_id", out.ID.String()))
	}
}

// enqueue submits a lifecycle task after its in-flight state is durably
// recorded. A failed enqueue is recoverable: the reconciler re-drives stale
// in-flight rows, so the error is logged rather than surfaced.
func (s *vmService) enqueue(ctx context.Context, taskType string, vmID uuid.UUID) {
	if s.enqueuer == nil {
		logger.L().Warn("task queue not configured, relying on reconciler", zap.String("task", taskType), zap.String("vm_id", vmID.String()))
		return
	}
	if err := s.enqueuer.EnqueueLifecycle(ctx, taskType, vmID); err != nil {
		logger.L().Error("enqueue lifecycle task failed", zap.Error(err), zap.String("task", taskType), zap.String("vm_id", vmID.String()))
	}
}

func (s *vmService) RequestStart(ctx context.Context, vmID, ownerID uuid.UUID) (vm *models.VM, err error) {
	defer func() { observeIntent("start", err) }()
	logger.L().Info("start requested", zap.String("vm_id", vmID.String()))

	out, applied, err := s.mutate(ctx, vmID, func(vm *models.VM) (*repository.VMUpdate, *models.StateTransition, error) {
		if err := s.authorize(vm, ownerID); err != nil {
			return nil, nil, err
		}
		if vm.DesiredState == models.DesiredDeleted {
			return nil, nil, appErr.New(appErr.CodeInvalidTransition, "vm is marked for deletion")
		}

		switch vm.ObservedState {
		case models.StateProvisioning, models.StateRunning:
			// already converging on running
			return nil, nil, nil
		case models.StatePending, models.StateStopped:
			return &repository.VMUpdate{
					ObservedState: ptr(models.StateProvisioning),
					DesiredState:  ptr(models.DesiredRunning),
					LastError:     ptr(""),
					Retries:       ptr(0),
				}, &models.StateTransition{
					FromState: vm.ObservedState,
					ToState:   models.StateProvisioning,
					Desired:   models.DesiredRunning,
					Source:    models.TransitionSourceAPI,
					Reason:    "start requested",
				}, nil
		case models.StateStopping:
			// record intent; the reconciler restarts once the stop resolves
			return &repository.VMUpdate{
					DesiredState: ptr(models.DesiredRunning),
				}, &models.StateTransition{
					FromState: vm.ObservedState,
					ToState:   vm.ObservedState,
					Desired:   models.DesiredRunning,
					Source:    models.TransitionSourceAPI,
					Reason:    "start recorded while stop in flight",
				}, nil
		default:
			return nil, nil, appErr.New(appErr.CodeInvalidTransition,
				fmt.Sprintf("cannot start vm in state %s", vm.ObservedState))
		}
	})
	if err != nil {
		return nil, err
	}
	if applied != nil && applied.ToState == models.StateProvisioning && applied.FromState != applied.ToState {
		s.enqueue(ctx, queue.TypeProvision, vmID)
	}
	return out, nil
}

func (s *vmService) RequestStop(ctx context.Context, vmID, ownerID uuid.UUID) (vm *models.VM, err error) {
	defer func() { observeIntent("stop", err) }()
	logger.L().Info("stop requested", zap.String("vm_id", vmID.String()))

	out, applied, err := s.mutate(ctx, vmID, func(vm *models.VM) (*repository.VMUpdate, *models.StateTransition, error) {
		if err := s.authorize(vm, ownerID); err != nil {
			return nil, nil, err
		}
		if vm.DesiredState == models.DesiredDeleted {
			return nil, nil, appErr.New(appErr.CodeInvalidTransition, "vm is marked for deletion")
		}
		if vm.ObservedState != models.StateRunning {
			return nil, nil, appErr.New(appErr.CodeInvalidTransition,
				fmt.Sprintf("cannot stop vm in state %s", vm.ObservedState))
		}
		return &repository.VMUpdate{
				ObservedState: ptr(models.StateStopping),
				DesiredState:  ptr(models.DesiredStopped),
				LastError:     ptr(""),
				Retries:       ptr(0),
			}, &models.StateTransition{
				FromState: vm.ObservedState,
				ToState:   models.StateStopping,
				Desired:   models.DesiredStopped,
				Source:    models.TransitionSourceAPI,
				Reason:    "stop requested",
			}, nil
	})
	if err != nil {
		return nil, err
	}
	if applied != nil && applied.ToState == models.StateStopping {
		s.enqueue(ctx, queue.TypeStop, vmID)
	}
	return out, nil
}

func (s *vmService) RequestDelete(ctx context.Context, vmID, ownerID uuid.UUID) (vm *models.VM, err error) {
	defer func() { observeIntent("delete", err) }()
	logger.L().Info("delete requested", zap.String("vm_id", vmID.String()))

	out, applied, err := s.mutate(ctx, vmID, func(vm *models.VM) (*repository.VMUpdate, *models.StateTransition, error) {
		if err := s.authorize(vm, ownerID); err != nil {
			return nil, nil, err
		}

		switch vm.ObservedState {
		case models.StateTerminated:
			// deleting a terminated vm is a no-op, version unchanged
			return nil, nil, nil
		case models.StateTerminating:
			if vm.DesiredState == models.DesiredDeleted {
				return nil, nil, nil
			}
			return &repository.VMUpdate{
					DesiredState: ptr(models.DesiredDeleted),
				}, &models.StateTransition{
					FromState: vm.ObservedState,
					ToState:   vm.ObservedState,
					Desired:   models.DesiredDeleted,
					Source:    models.TransitionSourceAPI,
					Reason:    "delete recorded",
				}, nil
		case models.StateProvisioning, models.StateStopping:
			// delete cannot cancel the in-flight call; record intent and let
			// the resolving write take the terminating edge
			if vm.DesiredState == models.DesiredDeleted {
				return nil, nil, nil
			}
			return &repository.VMUpdate{
					DesiredState: ptr(models.DesiredDeleted),
				}, &models.StateTransition{
					FromState: vm.ObservedState,
					ToState:   vm.ObservedState,
					Desired:   models.DesiredDeleted,
					Source:    models.TransitionSourceAPI,
					Reason:    "delete deferred until in-flight operation resolves",
				}, nil
		default:
			return &repository.VMUpdate{
					ObservedState: ptr(models.StateTerminating),
					DesiredState:  ptr(models.DesiredDeleted),
					LastError:     ptr(""),
					Retries:       ptr(0),
				}, &models.StateTransition{
					FromState: vm.ObservedState,
					ToState:   models.StateTerminating,
					Desired:   models.DesiredDeleted,
					Source:    models.TransitionSourceAPI,
					Reason:    "delete requested",
				}, nil
		}
	})
	if err != nil {
		return nil, err
	}
	if applied != nil && applied.ToState == models.StateTerminating && applied.FromState != applied.ToState {
		s.enqueue(ctx, queue.TypeTerminate, vmID)
	}
	return out, nil
}

func (s *vmService) Get(ctx context.Context, vmID, ownerID uuid.UUID) (*models.VM, error) {
	var vm models.VM
	if err := s.vmRepo.GetByID(ctx, vmID, &vm); err != nil {
		return nil, err
	}
	if err := s.authorize(&vm, ownerID); err != nil {
		return nil, err
	}
	return &vm, nil
}

func (s *vmService) List(ctx context.Context, ownerID uuid.UUID, filters *VMFilters) ([]models.VM, int64, error) {
	f := repository.VMFilter{OwnerID: ownerID}
	if filters != nil {
		if filters.ObservedState != "" {
			st := models.State(filters.ObservedState)
			if !st.Valid() {
				return nil, 0, appErr.New(appErr.CodeInvalid, fmt.Sprintf("unknown observed state %q", filters.ObservedState))
			}
			f.ObservedState = st
		}
		if filters.DesiredState != "" {
			ds := models.DesiredState(filters.DesiredState)
			if !ds.Valid() {
				return nil, 0, appErr.New(appErr.CodeInvalid, fmt.Sprintf("unknown desired state %q", filters.DesiredState))
			}
			f.DesiredState = ds
		}
		f.Name = filters.Name
		f.Page = filters.Page
		f.PageSize = filters.PageSize
	}
	return s.vmRepo.List(ctx, f)
}

func (s *vmService) ListTransitions(ctx context.Context, vmID, ownerID uuid.UUID, limit int) ([]models.StateTransition, error) {
	if _, err := s.Get(ctx, vmID, ownerID); err != nil {
		return nil, err
	}
	return s.transRepo.ListByVM(ctx, vmID, limit)
}

func (s *vmService) ListDisks(ctx context.Context, vmID, ownerID uuid.UUID) ([]models.Disk, error) {
	if _, err := s.Get(ctx, vmID, ownerID); err != nil {
		return nil, err
	}
	return s.diskRepo.ListByVM(ctx, vmID)
}

func (s *vmService) Update(ctx context.Context, vmID, ownerID uuid.UUID, input *UpdateVMInput) (vm *models.VM, err error) {
	defer func() { observeIntent("update", err) }()
	logger.L().Info("update vm", zap.String("vm_id", vmID.String()))

	out, _, err := s.mutate(ctx, vmID, func(vm *models.VM) (*repository.VMUpdate, *models.StateTransition, error) {
		if err := s.authorize(vm, ownerID); err != nil {
			return nil, nil, err
		}
		if vm.DesiredState == models.DesiredDeleted || vm.ObservedState == models.StateTerminating || vm.ObservedState == models.StateTerminated {
			return nil, nil, appErr.New(appErr.CodeInvalidTransition, "vm is being deleted")
		}

		update := repository.VMUpdate{}
		changed := false
		if input.Name != nil {
			if err := validateName(*input.Name); err != nil {
				return nil, nil, err
			}
			update.Name = input.Name
			changed = true
		}
		if input.CPUs != nil || input.MemoryMB != nil {
			if vm.ObservedState != models.StatePending && vm.ObservedState != models.StateStopped {
				return nil, nil, appErr.New(appErr.CodeInvalidTransition,
					fmt.Sprintf("resize requires a pending or stopped vm, not %s", vm.ObservedState))
			}
			cpus := vm.CPUs
			mem := vm.MemoryMB
			if input.CPUs != nil {
				cpus = *input.CPUs
			}
			if input.MemoryMB != nil {
				mem = *input.MemoryMB
			}
			if err := validateSpec(cpus, mem); err != nil {
				return nil, nil, err
			}
			update.CPUs = &cpus
			update.MemoryMB = &mem
			changed = true
		}
		if input.Metadata != nil {
			meta, err := metadataJSON(input.Metadata)
			if err != nil {
				return nil, nil, err
			}
			update.Metadata = meta
			changed = true
		}
		if !changed {
			return nil, nil, nil
		}
		return &update, &models.StateTransition{
			FromState: vm.ObservedState,
			ToState:   vm.ObservedState,
			Desired:   vm.DesiredState,
			Source:    models.TransitionSourceAPI,
			Reason:    "spec updated",
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// authorize rejects callers that do not own the record. System actors
// (worker, reconciler) pass uuid.Nil and bypass the check.
func (s *vmService) authorize(vm *models.VM, ownerID uuid.UUID) error {
	if ownerID == uuid.Nil {
		return nil
	}
	if vm.OwnerID != ownerID {
		return appErr.New(appErr.CodeUnauthorized, "vm does not belong to caller")
	}
	return nil
}

// ResolveProvision applies the outcome of a provision call. A success lands
// on running unless a delete arrived mid-flight, in which case the deferred
// terminating edge fires and teardown is enqueued.
func (s *vmService) ResolveProvision(ctx context.Context, vmID uuid.UUID, res provisioner.Result) (*models.VM, error) {
	out, applied, err := s.mutate(ctx, vmID, func(vm *models.VM) (*repository.VMUpdate, *models.StateTransition, error) {
		if vm.ObservedState != models.StateProvisioning {
			// already resolved by a competing writer
			return nil, nil, nil
		}
		switch res.Kind {
		case provisioner.ResultSuccess:
			if vm.DesiredState == models.DesiredDeleted {
				return &repository.VMUpdate{
						ObservedState: ptr(models.StateTerminating),
						BackendRef:    &res.BackendRef,
						LastError:     ptr(""),
						Retries:       ptr(0),
					}, &models.StateTransition{
						FromState: vm.ObservedState,
						ToState:   models.StateTerminating,
						Desired:   vm.DesiredState,
						Source:    models.TransitionSourceWorker,
						Reason:    "deferred delete applied after provision",
					}, nil
			}
			return &repository.VMUpdate{
					ObservedState: ptr(models.StateRunning),
					BackendRef:    &res.BackendRef,
					LastError:     ptr(""),
					Retries:       ptr(0),
				}, &models.StateTransition{
					FromState: vm.ObservedState,
					ToState:   models.StateRunning,
					Desired:   vm.DesiredState,
					Source:    models.TransitionSourceWorker,
					Reason:    "provision succeeded",
				}, nil
		case provisioner.ResultFailure:
			return s.failureUpdate(vm, res.Reason)
		default:
			// still in progress; the reconciler will follow up
			return nil, nil, nil
		}
	})
	if err != nil {
		return nil, err
	}
	if applied != nil && applied.ToState == models.StateTerminating {
		s.enqueue(ctx, queue.TypeTerminate, vmID)
	}
	return out, nil
}

// ResolveStop applies the outcome of a stop call.
func (s *vmService) ResolveStop(ctx context.Context, vmID uuid.UUID, res provisioner.Result) (*models.VM, error) {
	out, applied, err := s.mutate(ctx, vmID, func(vm *models.VM) (*repository.VMUpdate, *models.StateTransition, error) {
		if vm.ObservedState != models.StateStopping {
			return nil, nil, nil
		}
		switch res.Kind {
		case provisioner.ResultSuccess:
			if vm.DesiredState == models.DesiredDeleted {
				return &repository.VMUpdate{
						ObservedState: ptr(models.StateTerminating),
						LastError:     ptr(""),
						Retries:       ptr(0),
					}, &models.StateTransition{
						FromState: vm.ObservedState,
						ToState:   models.StateTerminating,
						Desired:   vm.DesiredState,
						Source:    models.TransitionSourceWorker,
						Reason:    "deferred delete applied after stop",
					}, nil
			}
			return &repository.VMUpdate{
					ObservedState: ptr(models.StateStopped),
					LastError:     ptr(""),
					Retries:       ptr(0),
				}, &models.StateTransition{
					FromState: vm.ObservedState,
					ToState:   models.StateStopped,
					Desired:   vm.DesiredState,
					Source:    models.TransitionSourceWorker,
					Reason:    "stop confirmed",
				}, nil
		case provisioner.ResultFailure:
			return s.failureUpdate(vm, res.Reason)
		default:
			return nil, nil, nil
		}
	})
	if err != nil {
		return nil, err
	}
	if applied != nil && applied.ToState == models.StateTerminating {
		s.enqueue(ctx, queue.TypeTerminate, vmID)
	}
	return out, nil
}

// ResolveTerminate applies the outcome of a destroy call.
func (s *vmService) ResolveTerminate(ctx context.Context, vmID uuid.UUID, res provisioner.Result) (*models.VM, error) {
	out, _, err := s.mutate(ctx, vmID, func(vm *models.VM) (*repository.VMUpdate, *models.StateTransition, error) {
		if vm.ObservedState != models.StateTerminating {
			return nil, nil, nil
		}
		switch res.Kind {
		case provisioner.ResultSuccess:
			return &repository.VMUpdate{
					ObservedState: ptr(models.StateTerminated),
					LastError:     ptr(""),
					Retries:       ptr(0),
				}, &models.StateTransition{
					FromState: vm.ObservedState,
					ToState:   models.StateTerminated,
					Desired:   vm.DesiredState,
					Source:    models.TransitionSourceWorker,
					Reason:    "teardown confirmed",
				}, nil
		case provisioner.ResultFailure:
			return s.failureUpdate(vm, res.Reason)
		default:
			return nil, nil, nil
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// failureUpdate moves a vm to error, recording the backend's reason. The
// failure is never surfaced to the caller of the original intent; it is
// observed through Get.
func (s *vmService) failureUpdate(vm *models.VM, reason string) (*repository.VMUpdate, *models.StateTransition, error) {
	if reason == "" {
		reason = "backend reported failure"
	}
	return &repository.VMUpdate{
			ObservedState: ptr(models.StateError),
			LastError:     &reason,
		}, &models.StateTransition{
			FromState: vm.ObservedState,
			ToState:   models.StateError,
			Desired:   vm.DesiredState,
			Source:    models.TransitionSourceWorker,
			Reason:    reason,
		}, nil
}

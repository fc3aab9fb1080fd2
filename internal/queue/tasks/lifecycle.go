package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/vmfleet/engine/internal/metrics"
	"github.com/vmfleet/engine/internal/models"
	"github.com/vmfleet/engine/internal/provisioner"
	"github.com/vmfleet/engine/internal/queue"
	"github.com/vmfleet/engine/internal/services"
	appErr "github.com/vmfleet/engine/pkg/errors"
	"github.com/vmfleet/engine/pkg/logger"
	"go.uber.org/zap"
)

// LifecycleTaskHandler executes the backend call behind each queued
// lifecycle task and feeds the outcome back through the vm service. A task
// returns an error only on infrastructure faults, so the queue retries
// exactly the work that might still succeed; definitive backend failures are
// recorded on the vm instead.
type LifecycleTaskHandler struct {
	vmSvc   services.VMService
	adapter provisioner.Adapter
	timeout time.Duration
}

func NewLifecycleTaskHandler(vmSvc services.VMService, adapter provisioner.Adapter, timeout time.Duration) *LifecycleTaskHandler {
	return &LifecycleTaskHandler{vmSvc: vmSvc, adapter: adapter, timeout: timeout}
}

func observeTask(taskType string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.TasksProcessed.WithLabelValues(taskType, outcome).Inc()
}

// vmFromTask decodes the payload and loads the current row. A missing vm
// returns (nil, nil): the task is garbage and must not be retried.
func (h *LifecycleTaskHandler) vmFromTask(ctx context.Context, t *asynq.Task) (*models.VM, error) {
	var p queue.LifecyclePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		logger.L().Error("invalid lifecycle task payload", zap.Error(err))
		return nil, err
	}
	id, err := uuid.Parse(p.VMID)
	if err != nil {
		logger.L().Error("invalid vm id in task", zap.Error(err), zap.String("vm_id", p.VMID))
		return nil, err
	}

	vm, err := h.vmSvc.Get(ctx, id, uuid.Nil)
	if err != nil {
		if appErr.IsCode(err, appErr.CodeNotFound) {
			logger.L().Warn("lifecycle task references unknown vm", zap.String("vm_id", id.String()))
			return nil, nil
		}
		return nil, err
	}
	return vm, nil
}

func (h *LifecycleTaskHandler) HandleProvision(ctx context.Context, t *asynq.Task) (err error) {
	defer func() { observeTask(queue.TypeProvision, err) }()

	vm, err := h.vmFromTask(ctx, t)
	if err != nil || vm == nil {
		return err
	}
	if vm.ObservedState != models.StateProvisioning {
		logger.L().Info("provision task is stale", zap.String("vm_id", vm.ID.String()), zap.String("observed_state", string(vm.ObservedState)))
		return nil
	}

	logger.L().Info("handling provision task", zap.String("vm_id", vm.ID.String()), zap.String("name", vm.Name))

	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	res, callErr := h.adapter.Provision(callCtx, provisioner.ProvisionRequest{
		VMID:     vm.ID,
		Name:     vm.Name,
		CPUs:     vm.CPUs,
		MemoryMB: vm.MemoryMB,
	})
	if callErr != nil {
		if errors.Is(callErr, context.DeadlineExceeded) {
			// backend may still be working; the reconciler follows up
			logger.L().Warn("provision call timed out", zap.String("vm_id", vm.ID.String()))
			return nil
		}
		logger.L().Error("provision call failed", zap.Error(callErr), zap.String("vm_id", vm.ID.String()))
		return callErr
	}
	if res.Kind == provisioner.ResultInProgress {
		logger.L().Info("provision still in progress", zap.String("vm_id", vm.ID.String()))
		return nil
	}

	if _, err = h.vmSvc.ResolveProvision(ctx, vm.ID, res); err != nil {
		logger.L().Error("resolve provision failed", zap.Error(err), zap.String("vm_id", vm.ID.String()))
		return err
	}
	return nil
}

func (h *LifecycleTaskHandler) HandleStop(ctx context.Context, t *asynq.Task) (err error) {
	defer func() { observeTask(queue.TypeStop, err) }()

	vm, err := h.vmFromTask(ctx, t)
	if err != nil || vm == nil {
		return err
	}
	if vm.ObservedState != models.StateStopping {
		logger.L().Info("stop task is stale", zap.String("vm_id", vm.ID.String()), zap.String("observed_state", string(vm.ObservedState)))
		return nil
	}

	logger.L().Info("handling stop task", zap.String("vm_id", vm.ID.String()), zap.String("backend_ref", vm.BackendRef))

	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	res, callErr := h.adapter.Stop(callCtx, vm.BackendRef)
	if callErr != nil {
		if errors.Is(callErr, context.DeadlineExceeded) {
			logger.L().Warn("stop call timed out", zap.String("vm_id", vm.ID.String()))
			return nil
		}
		logger.L().Error("stop call failed", zap.Error(callErr), zap.String("vm_id", vm.ID.String()))
		return callErr
	}
	if res.Kind == provisioner.ResultInProgress {
		logger.L().Info("stop still in progress", zap.String("vm_id", vm.ID.String()))
		return nil
	}

	if _, err = h.vmSvc.ResolveStop(ctx, vm.ID, res); err != nil {
		logger.L().Error("resolve stop failed", zap.Error(err), zap.String("vm_id", vm.ID.String()))
		return err
	}
	return nil
}

func (h *LifecycleTaskHandler) HandleTerminate(ctx context.Context, t *asynq.Task) (err error) {
	defer func() { observeTask(queue.TypeTerminate, err) }()

	vm, err := h.vmFromTask(ctx, t)
	if err != nil || vm == nil {
		return err
	}
	if vm.ObservedState != models.StateTerminating {
		logger.L().Info("terminate task is stale", zap.String("vm_id", vm.ID.String()), zap.String("observed_state", string(vm.ObservedState)))
		return nil
	}

	logger.L().Info("handling terminate task", zap.String("vm_id", vm.ID.String()), zap.String("backend_ref", vm.BackendRef))

	// a vm deleted before it ever provisioned has no backend instance
	res := provisioner.Result{Kind: provisioner.ResultSuccess}
	if vm.BackendRef != "" {
		callCtx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		var callErr error
		res, callErr = h.adapter.Destroy(callCtx, vm.BackendRef)
		if callErr != nil {
			if errors.Is(callErr, context.DeadlineExceeded) {
				logger.L().Warn("destroy call timed out", zap.String("vm_id", vm.ID.String()))
				return nil
			}
			logger.L().Error("destroy call failed", zap.Error(callErr), zap.String("vm_id", vm.ID.String()))
			return callErr
		}
		if res.Kind == provisioner.ResultInProgress {
			logger.L().Info("destroy still in progress", zap.String("vm_id", vm.ID.String()))
			return nil
		}
	}

	if _, err = h.vmSvc.ResolveTerminate(ctx, vm.ID, res); err != nil {
		logger.L().Error("resolve terminate failed", zap.Error(err), zap.String("vm_id", vm.ID.String()))
		return err
	}
	return nil
}

package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vmfleet/engine/internal/models"
	"github.com/vmfleet/engine/internal/provisioner"
	"github.com/vmfleet/engine/internal/queue"
	"github.com/vmfleet/engine/internal/services"
	appErr "github.com/vmfleet/engine/pkg/errors"
	"github.com/vmfleet/engine/pkg/logger"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests (required by tasks)
	_, err := logger.Init("info", "json")
	if err != nil {
		panic("failed to init logger: " + err.Error())
	}
	os.Exit(m.Run())
}

// Mock implementations
type mockAdapter struct {
	mock.Mock
}

func (m *mockAdapter) Provision(ctx context.Context, req provisioner.ProvisionRequest) (provisioner.Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(provisioner.Result), args.Error(1)
}

func (m *mockAdapter) Stop(ctx context.Context, backendRef string) (provisioner.Result, error) {
	args := m.Called(ctx, backendRef)
	return args.Get(0).(provisioner.Result), args.Error(1)
}

func (m *mockAdapter) Destroy(ctx context.Context, backendRef string) (provisioner.Result, error) {
	args := m.Called(ctx, backendRef)
	return args.Get(0).(provisioner.Result), args.Error(1)
}

func (m *mockAdapter) Status(ctx context.Context, backendRef string) (provisioner.Status, error) {
	args := m.Called(ctx, backendRef)
	return args.Get(0).(provisioner.Status), args.Error(1)
}

type mockVMService struct {
	mock.Mock
}

func (m *mockVMService) Create(ctx context.Context, ownerID uuid.UUID, input *services.CreateVMInput) (*models.VM, error) {
	args := m.Called(ctx, ownerID, input)
	if v := args.Get(0); v != nil {
		return v.(*models.VM), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockVMService) RequestStart(ctx context.Context, vmID, ownerID uuid.UUID) (*models.VM, error) {
	args := m.Called(ctx, vmID, ownerID)
	if v := args.Get(0); v != nil {
		return v.(*models.VM), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockVMService) RequestStop(ctx context.Context, vmID, ownerID uuid.UUID) (*models.VM, error) {
	args := m.Called(ctx, vmID, ownerID)
	if v := args.Get(0); v != nil {
		return v.(*models.VM), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockVMService) RequestDelete(ctx context.Context, vmID, ownerID uuid.UUID) (*models.VM, error) {
	args := m.Called(ctx, vmID, ownerID)
	if v := args.Get(0); v != nil {
		return v.(*models.VM), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockVMService) Get(ctx context.Context, vmID, ownerID uuid.UUID) (*models.VM, error) {
	args := m.Called(ctx, vmID, ownerID)
	if v := args.Get(0); v != nil {
		return v.(*models.VM), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockVMService) List(ctx context.Context, ownerID uuid.UUID, filters *services.VMFilters) ([]models.VM, int64, error) {
	args := m.Called(ctx, ownerID, filters)
	var vms []models.VM
	if v := args.Get(0); v != nil {
		vms = v.([]models.VM)
	}
	return vms, args.Get(1).(int64), args.Error(2)
}

func (m *mockVMService) ListTransitions(ctx context.Context, vmID, ownerID uuid.UUID, limit int) ([]models.StateTransition, error) {
	args := m.Called(ctx, vmID, ownerID, limit)
	if v := args.Get(0); v != nil {
		return v.([]models.StateTransition), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockVMService) ListDisks(ctx context.Context, vmID, ownerID uuid.UUID) ([]models.Disk, error) {
	args := m.Called(ctx, vmID, ownerID)
	if v := args.Get(0); v != nil {
		return v.([]models.Disk), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockVMService) Update(ctx context.Context, vmID, ownerID uuid.UUID, input *services.UpdateVMInput) (*models.VM, error) {
	args := m.Called(ctx, vmID, ownerID, input)
	if v := args.Get(0); v != nil {
		return v.(*models.VM), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockVMService) ResolveProvision(ctx context.Context, vmID uuid.UUID, res provisioner.Result) (*models.VM, error) {
	args := m.Called(ctx, vmID, res)
	if v := args.Get(0); v != nil {
		return v.(*models.VM), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockVMService) ResolveStop(ctx context.Context, vmID uuid.UUID, res provisioner.Result) (*models.VM, error) {
	args := m.Called(ctx, vmID, res)
	if v := args.Get(0); v != nil {
		return v.(*models.VM), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockVMService) ResolveTerminate(ctx context.Context, vmID uuid.UUID, res provisioner.Result) (*models.VM, error) {
	args := m.Called(ctx, vmID, res)
	if v := args.Get(0); v != nil {
		return v.(*models.VM), args.Error(1)
	}
	return nil, args.Error(1)
}

func lifecycleTask(t *testing.T, taskType string, vmID uuid.UUID) *asynq.Task {
	t.Helper()
	pb, err := json.Marshal(queue.LifecyclePayload{VMID: vmID.String()})
	require.NoError(t, err)
	return asynq.NewTask(taskType, pb)
}

func TestHandleProvisionSuccess(t *testing.T) {
	svc := &mockVMService{}
	adapter := &mockAdapter{}
	h := NewLifecycleTaskHandler(svc, adapter, time.Second)

	vmID := uuid.New()
	vm := &models.VM{ID: vmID, Name: "web-01", CPUs: 2, MemoryMB: 512,
		ObservedState: models.StateProvisioning, DesiredState: models.DesiredRunning}
	res := provisioner.Result{Kind: provisioner.ResultSuccess, BackendRef: "sim-0a1b2c3d4e5f"}

	svc.On("Get", mock.Anything, vmID, uuid.Nil).Return(vm, nil).Once()
	adapter.On("Provision", mock.Anything, mock.MatchedBy(func(req provisioner.ProvisionRequest) bool {
		return req.VMID == vmID && req.CPUs == 2 && req.MemoryMB == 512
	})).Return(res, nil).Once()
	svc.On("ResolveProvision", mock.Anything, vmID, res).Return(vm, nil).Once()

	err := h.HandleProvision(context.Background(), lifecycleTask(t, queue.TypeProvision, vmID))
	require.NoError(t, err)
	mock.AssertExpectationsForObjects(t, svc, adapter)
}

func TestHandleProvisionSkipsStaleTask(t *testing.T) {
	svc := &mockVMService{}
	adapter := &mockAdapter{}
	h := NewLifecycleTaskHandler(svc, adapter, time.Second)

	vmID := uuid.New()
	vm := &models.VM{ID: vmID, Name: "web-01", ObservedState: models.StateRunning, DesiredState: models.DesiredRunning}
	svc.On("Get", mock.Anything, vmID, uuid.Nil).Return(vm, nil).Once()

	err := h.HandleProvision(context.Background(), lifecycleTask(t, queue.TypeProvision, vmID))
	require.NoError(t, err)
	adapter.AssertNotCalled(t, "Provision", mock.Anything, mock.Anything)
	svc.AssertNotCalled(t, "ResolveProvision", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleProvisionTimeoutLeavesRowAlone(t *testing.T) {
	svc := &mockVMService{}
	adapter := &mockAdapter{}
	h := NewLifecycleTaskHandler(svc, adapter, 10*time.Millisecond)

	vmID := uuid.New()
	vm := &models.VM{ID: vmID, Name: "web-01", ObservedState: models.StateProvisioning, DesiredState: models.DesiredRunning}
	svc.On("Get", mock.Anything, vmID, uuid.Nil).Return(vm, nil).Once()
	adapter.On("Provision", mock.Anything, mock.Anything).Return(provisioner.Result{}, context.DeadlineExceeded).Once()

	// a deadline hit is in-progress, not failure and not a retryable error
	err := h.HandleProvision(context.Background(), lifecycleTask(t, queue.TypeProvision, vmID))
	require.NoError(t, err)
	svc.AssertNotCalled(t, "ResolveProvision", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleProvisionInfraErrorRetries(t *testing.T) {
	svc := &mockVMService{}
	adapter := &mockAdapter{}
	h := NewLifecycleTaskHandler(svc, adapter, time.Second)

	vmID := uuid.New()
	vm := &models.VM{ID: vmID, Name: "web-01", ObservedState: models.StateProvisioning, DesiredState: models.DesiredRunning}
	svc.On("Get", mock.Anything, vmID, uuid.Nil).Return(vm, nil).Once()
	adapter.On("Provision", mock.Anything, mock.Anything).Return(provisioner.Result{}, errors.New("connection refused")).Once()

	err := h.HandleProvision(context.Background(), lifecycleTask(t, queue.TypeProvision, vmID))
	require.Error(t, err)
	svc.AssertNotCalled(t, "ResolveProvision", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleProvisionBackendFailureResolved(t *testing.T) {
	svc := &mockVMService{}
	adapter := &mockAdapter{}
	h := NewLifecycleTaskHandler(svc, adapter, time.Second)

	vmID := uuid.New()
	vm := &models.VM{ID: vmID, Name: "web-01", ObservedState: models.StateProvisioning, DesiredState: models.DesiredRunning}
	res := provisioner.Result{Kind: provisioner.ResultFailure, Reason: "no capacity"}

	svc.On("Get", mock.Anything, vmID, uuid.Nil).Return(vm, nil).Once()
	adapter.On("Provision", mock.Anything, mock.Anything).Return(res, nil).Once()
	svc.On("ResolveProvision", mock.Anything, vmID, res).Return(vm, nil).Once()

	// a definitive failure is resolved onto the vm; the task itself succeeds
	err := h.HandleProvision(context.Background(), lifecycleTask(t, queue.TypeProvision, vmID))
	require.NoError(t, err)
	mock.AssertExpectationsForObjects(t, svc, adapter)
}

func TestHandleStopSuccess(t *testing.T) {
	svc := &mockVMService{}
	adapter := &mockAdapter{}
	h := NewLifecycleTaskHandler(svc, adapter, time.Second)

	vmID := uuid.New()
	vm := &models.VM{ID: vmID, Name: "web-01", BackendRef: "sim-0a1b2c3d4e5f",
		ObservedState: models.StateStopping, DesiredState: models.DesiredStopped}
	res := provisioner.Result{Kind: provisioner.ResultSuccess}

	svc.On("Get", mock.Anything, vmID, uuid.Nil).Return(vm, nil).Once()
	adapter.On("Stop", mock.Anything, "sim-0a1b2c3d4e5f").Return(res, nil).Once()
	svc.On("ResolveStop", mock.Anything, vmID, res).Return(vm, nil).Once()

	err := h.HandleStop(context.Background(), lifecycleTask(t, queue.TypeStop, vmID))
	require.NoError(t, err)
	mock.AssertExpectationsForObjects(t, svc, adapter)
}

func TestHandleTerminateDestroysBackend(t *testing.T) {
	svc := &mockVMService{}
	adapter := &mockAdapter{}
	h := NewLifecycleTaskHandler(svc, adapter, time.Second)

	vmID := uuid.New()
	vm := &models.VM{ID: vmID, Name: "web-01", BackendRef: "sim-0a1b2c3d4e5f",
		ObservedState: models.StateTerminating, DesiredState: models.DesiredDeleted}
	res := provisioner.Result{Kind: provisioner.ResultSuccess}

	svc.On("Get", mock.Anything, vmID, uuid.Nil).Return(vm, nil).Once()
	adapter.On("Destroy", mock.Anything, "sim-0a1b2c3d4e5f").Return(res, nil).Once()
	svc.On("ResolveTerminate", mock.Anything, vmID, res).Return(vm, nil).Once()

	err := h.HandleTerminate(context.Background(), lifecycleTask(t, queue.TypeTerminate, vmID))
	require.NoError(t, err)
	mock.AssertExpectationsForObjects(t, svc, adapter)
}

func TestHandleTerminateWithoutBackendInstance(t *testing.T) {
	svc := &mockVMService{}
	adapter := &mockAdapter{}
	h := NewLifecycleTaskHandler(svc, adapter, time.Second)

	vmID := uuid.New()
	// deleted straight from pending; nothing was ever provisioned
	vm := &models.VM{ID: vmID, Name: "web-01", ObservedState: models.StateTerminating, DesiredState: models.DesiredDeleted}

	svc.On("Get", mock.Anything, vmID, uuid.Nil).Return(vm, nil).Once()
	svc.On("ResolveTerminate", mock.Anything, vmID, provisioner.Result{Kind: provisioner.ResultSuccess}).Return(vm, nil).Once()

	err := h.HandleTerminate(context.Background(), lifecycleTask(t, queue.TypeTerminate, vmID))
	require.NoError(t, err)
	adapter.AssertNotCalled(t, "Destroy", mock.Anything, mock.Anything)
	mock.AssertExpectationsForObjects(t, svc)
}

func TestHandleUnknownVMDropsTask(t *testing.T) {
	svc := &mockVMService{}
	adapter := &mockAdapter{}
	h := NewLifecycleTaskHandler(svc, adapter, time.Second)

	vmID := uuid.New()
	svc.On("Get", mock.Anything, vmID, uuid.Nil).Return(nil, appErr.New(appErr.CodeNotFound, "vm not found")).Once()

	err := h.HandleProvision(context.Background(), lifecycleTask(t, queue.TypeProvision, vmID))
	require.NoError(t, err)
	adapter.AssertNotCalled(t, "Provision", mock.Anything, mock.Anything)
}

func TestHandleInvalidPayload(t *testing.T) {
	svc := &mockVMService{}
	adapter := &mockAdapter{}
	h := NewLifecycleTaskHandler(svc, adapter, time.Second)

	err := h.HandleProvision(context.Background(), asynq.NewTask(queue.TypeProvision, []byte("{not json")))
	require.Error(t, err)

	err = h.HandleStop(context.Background(), asynq.NewTask(queue.TypeStop, []byte(`{"vm_id":"not-a-uuid"}`)))
	require.Error(t, err)
}

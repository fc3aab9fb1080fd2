package services

import (
	"context"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vmfleet/engine/internal/events"
	"github.com/vmfleet/engine/internal/models"
	"github.com/vmfleet/engine/internal/repository"
	appErr "github.com/vmfleet/engine/pkg/errors"
	"github.com/vmfleet/engine/pkg/logger"
)

func TestMain(m *testing.M) {
	if _, err := logger.Init("error", "console"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// fakeVMRepo backs the service tests with an in-memory store that keeps the
// same version semantics as the postgres repository: CompareAndSwap only
// applies when the expected version matches, bumps it by one and appends the
// audit row in the same step.
type fakeVMRepo struct {
	mu     sync.Mutex
	vms    map[uuid.UUID]*models.VM
	disks  map[uuid.UUID][]models.Disk
	audits []models.StateTransition

	// casErr is returned while casFailures is nonzero. Positive values fail
	// that many calls, negative values fail every call.
	casErr      error
	casFailures int
	casCalls    int
}

func newFakeVMRepo() *fakeVMRepo {
	return &fakeVMRepo{
		vms:   make(map[uuid.UUID]*models.VM),
		disks: make(map[uuid.UUID][]models.Disk),
	}
}

func (f *fakeVMRepo) Create(_ context.Context, vm *models.VM) error {
	return f.CreateWithDisks(context.Background(), vm, nil)
}

func (f *fakeVMRepo) CreateWithDisks(_ context.Context, vm *models.VM, disks []models.Disk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	vm.CreatedAt = now
	vm.UpdatedAt = now
	cp := *vm
	f.vms[vm.ID] = &cp
	if len(disks) > 0 {
		f.disks[vm.ID] = append(f.disks[vm.ID], disks...)
	}
	return nil
}

func (f *fakeVMRepo) GetByID(_ context.Context, id any, dest *models.VM) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	vmID, ok := id.(uuid.UUID)
	if !ok {
		return appErr.New(appErr.CodeInvalid, "id must be a uuid")
	}
	vm, ok := f.vms[vmID]
	if !ok {
		return appErr.New(appErr.CodeNotFound, "vm not found")
	}
	*dest = *vm
	return nil
}

func (f *fakeVMRepo) Update(_ context.Context, vm *models.VM) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *vm
	f.vms[vm.ID] = &cp
	return nil
}

func (f *fakeVMRepo) Delete(_ context.Context, id any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	vmID := id.(uuid.UUID)
	if _, ok := f.vms[vmID]; !ok {
		return appErr.New(appErr.CodeNotFound, "vm not found")
	}
	delete(f.vms, vmID)
	return nil
}

func (f *fakeVMRepo) List(_ context.Context, filter repository.VMFilter) ([]models.VM, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.VM
	for _, vm := range f.vms {
		if filter.OwnerID != uuid.Nil && vm.OwnerID != filter.OwnerID {
			continue
		}
		if filter.ObservedState != "" && vm.ObservedState != filter.ObservedState {
			continue
		}
		if filter.DesiredState != "" && vm.DesiredState != filter.DesiredState {
			continue
		}
		out = append(out, *vm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, int64(len(out)), nil
}

func (f *fakeVMRepo) ListStale(_ context.Context, states []models.State, olderThan time.Time, limit int) ([]models.VM, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.VM
	for _, vm := range f.vms {
		for _, st := range states {
			if vm.ObservedState == st && vm.UpdatedAt.Before(olderThan) {
				out = append(out, *vm)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeVMRepo) CompareAndSwap(_ context.Context, id uuid.UUID, expectedVersion int64, update repository.VMUpdate, audit models.StateTransition) (*models.VM, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.casCalls++
	if f.casErr != nil && f.casFailures != 0 {
		if f.casFailures > 0 {
			f.casFailures--
		}
		return nil, f.casErr
	}
	vm, ok := f.vms[id]
	if !ok {
		return nil, appErr.New(appErr.CodeNotFound, "vm not found")
	}
	if vm.Version != expectedVersion {
		return nil, appErr.New(appErr.CodeConcurrentModification, "vm version changed")
	}

	if update.ObservedState != nil {
		vm.ObservedState = *update.ObservedState
	}
	if update.DesiredState != nil {
		vm.DesiredState = *update.DesiredState
	}
	if update.BackendRef != nil {
		vm.BackendRef = *update.BackendRef
	}
	if update.LastError != nil {
		vm.LastError = *update.LastError
	}
	if update.Retries != nil {
		vm.Retries = *update.Retries
	}
	if update.Name != nil {
		vm.Name = *update.Name
	}
	if update.CPUs != nil {
		vm.CPUs = *update.CPUs
	}
	if update.MemoryMB != nil {
		vm.MemoryMB = *update.MemoryMB
	}
	if update.Metadata != nil {
		vm.Metadata = update.Metadata
	}
	vm.Version = expectedVersion + 1
	vm.UpdatedAt = time.Now().UTC()

	audit.ID = uuid.New()
	audit.VMID = id
	audit.CreatedAt = time.Now().UTC()
	f.audits = append(f.audits, audit)

	cp := *vm
	return &cp, nil
}

// auditsFor returns the recorded transitions for one vm in insertion order.
func (f *fakeVMRepo) auditsFor(vmID uuid.UUID) []models.StateTransition {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.StateTransition
	for _, a := range f.audits {
		if a.VMID == vmID {
			out = append(out, a)
		}
	}
	return out
}

// forceVersion overwrites a row's version behind the service's back,
// simulating a competing writer.
func (f *fakeVMRepo) forceVersion(vmID uuid.UUID, version int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if vm, ok := f.vms[vmID]; ok {
		vm.Version = version
	}
}

type fakeDiskRepo struct {
	store *fakeVMRepo
}

func (f *fakeDiskRepo) Create(_ context.Context, d *models.Disk) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.disks[d.VMID] = append(f.store.disks[d.VMID], *d)
	return nil
}

func (f *fakeDiskRepo) GetByID(_ context.Context, id any, dest *models.Disk) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	diskID := id.(uuid.UUID)
	for _, disks := range f.store.disks {
		for _, d := range disks {
			if d.ID == diskID {
				*dest = d
				return nil
			}
		}
	}
	return appErr.New(appErr.CodeNotFound, "disk not found")
}

func (f *fakeDiskRepo) Update(_ context.Context, _ *models.Disk) error { return nil }

func (f *fakeDiskRepo) Delete(_ context.Context, _ any) error { return nil }

func (f *fakeDiskRepo) ListByVM(_ context.Context, vmID uuid.UUID) ([]models.Disk, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return append([]models.Disk(nil), f.store.disks[vmID]...), nil
}

type fakeTransitionRepo struct {
	store *fakeVMRepo
}

func (f *fakeTransitionRepo) ListByVM(_ context.Context, vmID uuid.UUID, limit int) ([]models.StateTransition, error) {
	out := f.store.auditsFor(vmID)
	// newest first, matching the postgres repository ordering
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type enqueuedTask struct {
	taskType string
	vmID     uuid.UUID
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []enqueuedTask
	err   error
}

func (f *fakeEnqueuer) EnqueueLifecycle(_ context.Context, taskType string, vmID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, enqueuedTask{taskType: taskType, vmID: vmID})
	return nil
}

func (f *fakeEnqueuer) all() []enqueuedTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]enqueuedTask(nil), f.tasks...)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakePublisher) PublishTransition(_ context.Context, ev events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakePublisher) Close() {}

func (f *fakePublisher) all() []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.Event(nil), f.events...)
}

var (
	_ repository.VMRepository         = (*fakeVMRepo)(nil)
	_ repository.DiskRepository       = (*fakeDiskRepo)(nil)
	_ repository.TransitionRepository = (*fakeTransitionRepo)(nil)
)

// fixture bundles a service wired to the in-memory fakes.
type fixture struct {
	repo      *fakeVMRepo
	enqueuer  *fakeEnqueuer
	publisher *fakePublisher
	svc       VMService
}

func newFixture() *fixture {
	repo := newFakeVMRepo()
	enq := &fakeEnqueuer{}
	pub := &fakePublisher{}
	svc := NewVMService(repo, &fakeDiskRepo{store: repo}, &fakeTransitionRepo{store: repo}, enq, pub)
	return &fixture{repo: repo, enqueuer: enq, publisher: pub, svc: svc}
}

package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vmfleet/engine/internal/models"
	appErr "github.com/vmfleet/engine/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// VMFilter narrows List results. Zero values mean "any".
type VMFilter struct {
	OwnerID       uuid.UUID
	ObservedState models.State
	DesiredState  models.DesiredState
	Name          string
	Page          int
	PageSize      int
}

// VMUpdate names the columns a compare-and-swap write may touch. Nil fields
// are left unchanged. Version is bumped by the repository, never by callers.
type VMUpdate struct {
	ObservedState *models.State
	DesiredState  *models.DesiredState
	BackendRef    *string
	LastError     *string
	Retries       *int
	Name          *string
	CPUs          *int
	MemoryMB      *int
	Metadata      datatypes.JSON
}

func (u VMUpdate) fields() map[string]any {
	f := map[string]any{}
	if u.ObservedState != nil {
		f["observed_state"] = *u.ObservedState
	}
	if u.DesiredState != nil {
		f["desired_state"] = *u.DesiredState
	}
	if u.BackendRef != nil {
		f["backend_ref"] = *u.BackendRef
	}
	if u.LastError != nil {
		f["last_error"] = *u.LastError
	}
	if u.Retries != nil {
		f["retries"] = *u.Retries
	}
	if u.Name != nil {
		f["name"] = *u.Name
	}
	if u.CPUs != nil {
		f["cpus"] = *u.CPUs
	}
	if u.MemoryMB != nil {
		f["memory_mb"] = *u.MemoryMB
	}
	if u.Metadata != nil {
		f["metadata"] = u.Metadata
	}
	return f
}

type VMRepository interface {
	BaseRepository[models.VM]
	CreateWithDisks(ctx context.Context, vm *models.VM, disks []models.Disk) error
	List(ctx context.Context, filter VMFilter) ([]models.VM, int64, error)
	ListStale(ctx context.Context, states []models.State, olderThan time.Time, limit int) ([]models.VM, error)
	CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion int64, update VMUpdate, audit models.StateTransition) (*models.VM, error)
}

type vmRepository struct {
	BaseRepository[models.VM]
	db *gorm.DB
}

func NewVMRepository(db *gorm.DB) VMRepository {
	return &vmRepository{BaseRepository: NewBaseRepository[models.VM](db), db: db}
}

// Create inserts a new VM row. The id must be assigned by the caller.
func (r *vmRepository) Create(ctx context.Context, vm *models.VM) error {
	if err := r.db.WithContext(ctx).Create(vm).Error; err != nil {
		return appErr.Wrap(err, appErr.CodeUnavailable, "insert vm failed")
	}
	return nil
}

// CreateWithDisks inserts the VM and its disks in one transaction.
func (r *vmRepository) CreateWithDisks(ctx context.Context, vm *models.VM, disks []models.Disk) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(vm).Error; err != nil {
			return err
		}
		if len(disks) > 0 {
			if err := tx.Create(&disks).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return appErr.Wrap(err, appErr.CodeUnavailable, "insert vm failed")
	}
	return nil
}

func (r *vmRepository) List(ctx context.Context, filter VMFilter) ([]models.VM, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.VM{})
	if filter.OwnerID != uuid.Nil {
		q = q.Where("owner_id = ?", filter.OwnerID)
	}
	if filter.ObservedState != "" {
		q = q.Where("observed_state = ?", filter.ObservedState)
	}
	if filter.DesiredState != "" {
		q = q.Where("desired_state = ?", filter.DesiredState)
	}
	if filter.Name != "" {
		q = q.Where("name ILIKE ?", "%"+filter.Name+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, appErr.Wrap(err, appErr.CodeUnavailable, "count vms failed")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size < 1 || size > 200 {
		size = 50
	}

	var out []models.VM
	if err := q.Order("created_at DESC").Offset((page - 1) * size).Limit(size).Find(&out).Error; err != nil {
		return nil, 0, appErr.Wrap(err, appErr.CodeUnavailable, "list vms failed")
	}
	return out, total, nil
}

// ListStale returns VMs in any of the given states whose last write is older
// than olderThan, oldest first. Feeds the reconciliation scan.
func (r *vmRepository) ListStale(ctx context.Context, states []models.State, olderThan time.Time, limit int) ([]models.VM, error) {
	q := r.db.WithContext(ctx).
		Where("observed_state IN ?", states).
		Where("updated_at < ?", olderThan).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.VM
	if err := q.Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeUnavailable, "list stale vms failed")
	}
	return out, nil
}

// CompareAndSwap applies update iff the row's version still equals
// expectedVersion, bumping version by one and appending the audit row in the
// same transaction. Returns the reloaded row on success, NotFound if the id
// is unknown, ConcurrentModification if the version moved.
func (r *vmRepository) CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion int64, update VMUpdate, audit models.StateTransition) (*models.VM, error) {
	fields := update.fields()
	fields["version"] = expectedVersion + 1

	var out models.VM
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.VM{}).
			Where("id = ? AND version = ?", id, expectedVersion).
			Updates(fields)
		if res.Error != nil {
			return appErr.Wrap(res.Error, appErr.CodeUnavailable, "vm state write failed")
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&models.VM{}).Where("id = ?", id).Count(&n).Error; err != nil {
				return appErr.Wrap(err, appErr.CodeUnavailable, "vm lookup failed")
			}
			if n == 0 {
				return appErr.New(appErr.CodeNotFound, "vm not found")
			}
			return appErr.New(appErr.CodeConcurrentModification, "vm version changed")
		}

		audit.ID = uuid.New()
		audit.VMID = id
		if err := tx.Create(&audit).Error; err != nil {
			return appErr.Wrap(err, appErr.CodeUnavailable, "append state transition failed")
		}

		if err := tx.First(&out, "id = ?", id).Error; err != nil {
			return appErr.Wrap(err, appErr.CodeUnavailable, "reload vm failed")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

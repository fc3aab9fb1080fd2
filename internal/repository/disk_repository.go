package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/vmfleet/engine/internal/models"
	appErr "github.com/vmfleet/engine/pkg/errors"
	"gorm.io/gorm"
)

type DiskRepository interface {
	BaseRepository[models.Disk]
	ListByVM(ctx context.Context, vmID uuid.UUID) ([]models.Disk, error)
}

type diskRepository struct {
	BaseRepository[models.Disk]
	db *gorm.DB
}

func NewDiskRepository(db *gorm.DB) DiskRepository {
	return &diskRepository{BaseRepository: NewBaseRepository[models.Disk](db), db: db}
}

func (r *diskRepository) ListByVM(ctx context.Context, vmID uuid.UUID) ([]models.Disk, error) {
	var out []models.Disk
	if err := r.db.WithContext(ctx).Where("vm_id = ?", vmID).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeUnavailable, "list disks failed")
	}
	return out, nil
}

package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/vmfleet/engine/internal/models"
	appErr "github.com/vmfleet/engine/pkg/errors"
	"gorm.io/gorm"
)

// TransitionRepository reads the append-only state transition audit log.
// Writes happen inside VMRepository.CompareAndSwap, never here.
type TransitionRepository interface {
	ListByVM(ctx context.Context, vmID uuid.UUID, limit int) ([]models.StateTransition, error)
}

type transitionRepository struct {
	db *gorm.DB
}

func NewTransitionRepository(db *gorm.DB) TransitionRepository {
	return &transitionRepository{db: db}
}

func (r *transitionRepository) ListByVM(ctx context.Context, vmID uuid.UUID, limit int) ([]models.StateTransition, error) {
	q := r.db.WithContext(ctx).Where("vm_id = ?", vmID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.StateTransition
	if err := q.Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeUnavailable, "list state transitions failed")
	}
	return out, nil
}

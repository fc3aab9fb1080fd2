package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Disk is a block device attached to a VM, captured at create time.
type Disk struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	VMID      uuid.UUID      `gorm:"type:uuid;index;not null" json:"vm_id" validate:"required"`
	Name      string         `gorm:"type:varchar(64);not null" json:"name" validate:"required,min=1,max=50"`
	SizeGB    int            `gorm:"not null" json:"size_gb" validate:"required,gte=1,lte=4096"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

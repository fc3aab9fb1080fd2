package types

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type DiskCreateRequest struct {
	Name   string `json:"name" validate:"required,max=50"`
	SizeGB int    `json:"size_gb" validate:"required,gte=1,lte=4096"`
}

type VMCreateRequest struct {
	Name     string              `json:"name" validate:"required,min=3,max=50,excludesall=0x20"`
	CPUs     int                 `json:"cpus" validate:"required,gte=1,lte=31"`
	MemoryMB int                 `json:"memory_mb" validate:"required,gte=1,lte=1023"`
	Metadata map[string]any      `json:"metadata"`
	Disks    []DiskCreateRequest `json:"disks" validate:"omitempty,dive"`
}

type VMUpdateRequest struct {
	Name     *string        `json:"name" validate:"omitempty,min=3,max=50,excludesall=0x20"`
	CPUs     *int           `json:"cpus" validate:"omitempty,gte=1,lte=31"`
	MemoryMB *int           `json:"memory_mb" validate:"omitempty,gte=1,lte=1023"`
	Metadata map[string]any `json:"metadata"`
}

package handlers

import (
	"net/http"

	"gorm.io/gorm"

	"github.com/vmfleet/engine/internal/api/types"
	appErr "github.com/vmfleet/engine/pkg/errors"
)

type HealthHandler struct {
	db *gorm.DB
}

func NewHealthHandler(db *gorm.DB) *HealthHandler { return &HealthHandler{db: db} }

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: map[string]string{"status": "ok"}})
}

// Readiness reports whether the store can be reached. An intent cannot be
// accepted without a durable write, so a failing ping means not ready.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.PingContext(r.Context())
		}
		if err != nil {
			writeAppError(w, appErr.Wrap(err, appErr.CodeUnavailable, "store unreachable"))
			return
		}
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: map[string]string{"status": "ready"}})
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/vmfleet/engine/internal/api/middleware"
	"github.com/vmfleet/engine/internal/api/types"
	"github.com/vmfleet/engine/internal/models"
	"github.com/vmfleet/engine/internal/services"
)

type VMsHandler struct {
	svc      services.VMService
	validate *validator.Validate
}

func NewVMsHandler(svc services.VMService) *VMsHandler {
	return &VMsHandler{svc: svc, validate: validator.New()}
}

// callerID reads the authenticated operator id set by the auth middleware.
func callerID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(middleware.GetUserID(r.Context()))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

func vmIDParam(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}

func (h *VMsHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(r)
	if !ok {
		writeErrorStr(w, http.StatusUnauthorized, "missing subject")
		return
	}

	var req types.VMCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, err.Error())
		return
	}

	input := &services.CreateVMInput{
		Name:     req.Name,
		CPUs:     req.CPUs,
		MemoryMB: req.MemoryMB,
		Metadata: req.Metadata,
	}
	for _, d := range req.Disks {
		input.Disks = append(input.Disks, services.DiskInput{Name: d.Name, SizeGB: d.SizeGB})
	}

	vm, err := h.svc.Create(r.Context(), uid, input)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.APIResponse{Success: true, Data: vm})
}

func (h *VMsHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(r)
	if !ok {
		writeErrorStr(w, http.StatusUnauthorized, "missing subject")
		return
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	filters := &services.VMFilters{
		ObservedState: q.Get("observed_state"),
		DesiredState:  q.Get("desired_state"),
		Name:          q.Get("name"),
		Page:          page,
		PageSize:      size,
	}

	items, total, err := h.svc.List(r.Context(), uid, filters)
	if err != nil {
		writeAppError(w, err)
		return
	}

	// mirror the repository's paging clamp for the meta block
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 50
	} else if size > 200 {
		size = 200
	}
	writeJSON(w, http.StatusOK, types.APIResponse{
		Success: true,
		Data:    items,
		Meta:    &types.Meta{Page: page, PageSize: size, Total: total},
	})
}

func (h *VMsHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(r)
	if !ok {
		writeErrorStr(w, http.StatusUnauthorized, "missing subject")
		return
	}
	id, ok := vmIDParam(r)
	if !ok {
		writeErrorStr(w, http.StatusBadRequest, "invalid vm id")
		return
	}

	vm, err := h.svc.Get(r.Context(), id, uid)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: vm})
}

func (h *VMsHandler) Update(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(r)
	if !ok {
		writeErrorStr(w, http.StatusUnauthorized, "missing subject")
		return
	}
	id, ok := vmIDParam(r)
	if !ok {
		writeErrorStr(w, http.StatusBadRequest, "invalid vm id")
		return
	}

	var req types.VMUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, err.Error())
		return
	}

	vm, err := h.svc.Update(r.Context(), id, uid, &services.UpdateVMInput{
		Name:     req.Name,
		CPUs:     req.CPUs,
		MemoryMB: req.MemoryMB,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: vm})
}

func (h *VMsHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.intent(w, r, h.svc.RequestStart)
}

func (h *VMsHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.intent(w, r, h.svc.RequestStop)
}

func (h *VMsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.intent(w, r, h.svc.RequestDelete)
}

// intent runs an async lifecycle request. The write is durable before the
// response; the effect itself lands later, hence 202.
func (h *VMsHandler) intent(w http.ResponseWriter, r *http.Request, call func(ctx context.Context, vmID, ownerID uuid.UUID) (*models.VM, error)) {
	uid, ok := callerID(r)
	if !ok {
		writeErrorStr(w, http.StatusUnauthorized, "missing subject")
		return
	}
	id, ok := vmIDParam(r)
	if !ok {
		writeErrorStr(w, http.StatusBadRequest, "invalid vm id")
		return
	}

	vm, err := call(r.Context(), id, uid)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.APIResponse{Success: true, Data: vm})
}

func (h *VMsHandler) Transitions(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(r)
	if !ok {
		writeErrorStr(w, http.StatusUnauthorized, "missing subject")
		return
	}
	id, ok := vmIDParam(r)
	if !ok {
		writeErrorStr(w, http.StatusBadRequest, "invalid vm id")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.svc.ListTransitions(r.Context(), id, uid, limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: items})
}

func (h *VMsHandler) Disks(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(r)
	if !ok {
		writeErrorStr(w, http.StatusUnauthorized, "missing subject")
		return
	}
	id, ok := vmIDParam(r)
	if !ok {
		writeErrorStr(w, http.StatusBadRequest, "invalid vm id")
		return
	}

	items, err := h.svc.ListDisks(r.Context(), id, uid)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: items})
}

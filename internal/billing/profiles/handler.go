package profiles

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	billing "github.com/records-erp/records-erp/internal/billing/shared"
	"github.com/records-erp/records-erp/internal/platform/httpx"
	"github.com/records-erp/records-erp/internal/shared"
)

type createRequest struct {
	CustomerID          int64  `json:"customer_id" validate:"required,gt=0"`
	StorageBillingCycle string `json:"storage_billing_cycle" validate:"required,oneof=MONTHLY QUARTERLY"`
	BillingDay          int    `json:"billing_day" validate:"required,min=1,max=28"`
	AutoStorageInvoices bool   `json:"auto_generate_storage_invoices"`
	AutoServiceInvoices bool   `json:"auto_generate_service_invoices"`
	AutoSendInvoices    bool   `json:"auto_send_invoices"`
}

type updateRequest struct {
	StorageBillingCycle *string `json:"storage_billing_cycle" validate:"omitempty,oneof=MONTHLY QUARTERLY"`
	BillingDay          *int    `json:"billing_day" validate:"omitempty,min=1,max=28"`
	AutoStorageInvoices *bool   `json:"auto_generate_storage_invoices"`
	AutoServiceInvoices *bool   `json:"auto_generate_service_invoices"`
	AutoSendInvoices    *bool   `json:"auto_send_invoices"`
}

// Handler exposes billing profile administration.
type Handler struct {
	svc       *Service
	validate  *validator.Validate
	companyID int64
}

// NewHandler builds the handler.
func NewHandler(svc *Service, validate *validator.Validate, companyID int64) *Handler {
	return &Handler{svc: svc, validate: validate, companyID: companyID}
}

// MountRoutes registers the profile routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/billing/profiles", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Patch("/", h.update)
			r.Delete("/", h.archive)
		})
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.ListActive(r.Context(), h.companyID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	p, err := h.svc.Create(r.Context(), shared.NewBillingContext(h.companyID, 0), CreateProfileInput{
		CustomerID:          req.CustomerID,
		StorageBillingCycle: billing.BillingCycle(req.StorageBillingCycle),
		BillingDay:          req.BillingDay,
		AutoStorageInvoices: req.AutoStorageInvoices,
		AutoServiceInvoices: req.AutoServiceInvoices,
		AutoSendInvoices:    req.AutoSendInvoices,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) profileID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "profile id must be an integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.profileID(w, r)
	if !ok {
		return
	}
	p, err := h.svc.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.profileID(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := UpdateProfileInput{
		BillingDay:          req.BillingDay,
		AutoStorageInvoices: req.AutoStorageInvoices,
		AutoServiceInvoices: req.AutoServiceInvoices,
		AutoSendInvoices:    req.AutoSendInvoices,
	}
	if req.StorageBillingCycle != nil {
		cycle := billing.BillingCycle(*req.StorageBillingCycle)
		input.StorageBillingCycle = &cycle
	}

	p, err := h.svc.Update(r.Context(), id, input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) archive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.profileID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Archive(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

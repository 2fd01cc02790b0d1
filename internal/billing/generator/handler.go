package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/records-erp/records-erp/internal/billing/periods"
	"github.com/records-erp/records-erp/internal/platform/httpx"
	"github.com/records-erp/records-erp/internal/shared"
)

// RunEnqueuer submits batch billing runs to the background queue. Implemented
// by jobs.Client; nil disables the async run mode.
type RunEnqueuer interface {
	EnqueueBillingRun(ctx context.Context, companyID int64, referenceDate, trigger string) (string, error)
}

// Handler exposes the billing run and period lifecycle API.
type Handler struct {
	svc       *Service
	periods   *periods.Service
	validate  *validator.Validate
	enqueuer  RunEnqueuer
	companyID int64
}

// NewHandler builds the handler. The deployment is single-tenant; companyID
// scopes every operation.
func NewHandler(svc *Service, periodSvc *periods.Service, validate *validator.Validate, enqueuer RunEnqueuer, companyID int64) *Handler {
	return &Handler{svc: svc, periods: periodSvc, validate: validate, enqueuer: enqueuer, companyID: companyID}
}

// MountRoutes registers the billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/billing", func(r chi.Router) {
		r.Post("/runs", h.runBatch)
		r.Post("/combined", h.runCombined)
		r.Route("/periods", func(r chi.Router) {
			r.Get("/", h.listPeriods)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getPeriod)
				r.Post("/confirm", h.confirmPeriod)
				r.Post("/invoice", h.invoicePeriod)
				r.Post("/cancel", h.cancelPeriod)
				r.Post("/done", h.completePeriod)
			})
		})
	})
}

func (h *Handler) billingContext(r *http.Request) shared.BillingContext {
	var actorID int64
	if raw := r.Header.Get("X-Actor-ID"); raw != "" {
		actorID, _ = strconv.ParseInt(raw, 10, 64)
	}
	return shared.NewBillingContext(h.companyID, actorID)
}

func parseReferenceDate(raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: reference_date must be YYYY-MM-DD", httpx.ErrValidation)
	}
	return t, nil
}

func (h *Handler) runBatch(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
			return
		}
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	bctx := h.billingContext(r)
	ref, err := parseReferenceDate(req.ReferenceDate, bctx.Now())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	if req.Async {
		if h.enqueuer == nil {
			httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "background runs are not configured")
			return
		}
		taskID, err := h.enqueuer.EnqueueBillingRun(r.Context(), h.companyID, req.ReferenceDate, "api")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, queuedRunResponse{TaskID: taskID})
		return
	}

	summary, err := h.svc.GenerateMonthlyBilling(r.Context(), bctx, ref, "api")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) runCombined(w http.ResponseWriter, r *http.Request) {
	var req combinedRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	bctx := h.billingContext(r)
	ref, err := parseReferenceDate(req.ReferenceDate, bctx.Now())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	p, inv, err := h.svc.GenerateCombinedBilling(r.Context(), bctx, req.CustomerID, ref)
	if err != nil {
		if errors.Is(err, shared.ErrRunLocked) {
			httpx.Problem(w, http.StatusConflict, "Billing In Progress", err.Error())
			return
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, combinedResponse{Period: p, Invoice: inv})
}

func (h *Handler) listPeriods(w http.ResponseWriter, r *http.Request) {
	filter := periods.ListFilter{CompanyID: h.companyID}
	q := r.URL.Query()

	if raw := q.Get("customer_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "customer_id must be an integer")
			return
		}
		filter.CustomerID = &id
	}
	if raw := q.Get("billing_type"); raw != "" {
		bt := periods.BillingType(raw)
		filter.BillingType = &bt
	}
	if raw := q.Get("state"); raw != "" {
		st := periods.PeriodState(raw)
		filter.State = &st
	}
	if raw := q.Get("limit"); raw != "" {
		filter.Limit, _ = strconv.Atoi(raw)
	}
	if raw := q.Get("offset"); raw != "" {
		filter.Offset, _ = strconv.Atoi(raw)
	}

	out, err := h.periods.List(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) periodFromPath(w http.ResponseWriter, r *http.Request) (*periods.BillingPeriod, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "period id must be an integer")
		return nil, false
	}
	p, err := h.periods.Get(r.Context(), h.companyID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return nil, false
	}
	return p, true
}

func (h *Handler) getPeriod(w http.ResponseWriter, r *http.Request) {
	p, ok := h.periodFromPath(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) confirmPeriod(w http.ResponseWriter, r *http.Request) {
	p, ok := h.periodFromPath(w, r)
	if !ok {
		return
	}
	if err := h.periods.Confirm(r.Context(), h.billingContext(r), p); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) invoicePeriod(w http.ResponseWriter, r *http.Request) {
	p, ok := h.periodFromPath(w, r)
	if !ok {
		return
	}
	inv, err := h.periods.EmitInvoice(r.Context(), h.billingContext(r), p)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, combinedResponse{Period: p, Invoice: inv})
}

func (h *Handler) cancelPeriod(w http.ResponseWriter, r *http.Request) {
	p, ok := h.periodFromPath(w, r)
	if !ok {
		return
	}
	if err := h.periods.Cancel(r.Context(), h.billingContext(r), p); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) completePeriod(w http.ResponseWriter, r *http.Request) {
	p, ok := h.periodFromPath(w, r)
	if !ok {
		return
	}
	if err := h.periods.MarkDone(r.Context(), h.billingContext(r), p); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tiffinworks/dabba/internal/billing"
	"github.com/tiffinworks/dabba/internal/fault"
	"github.com/tiffinworks/dabba/internal/model"
	"github.com/tiffinworks/dabba/internal/store"
	"github.com/tiffinworks/dabba/internal/tenant"
)

// LifecycleHandler exposes the merchant-facing account actions. The actor's
// merchant id comes from the request context, placed there by the access
// layer in front of this service.
type LifecycleHandler struct {
	accounts  *store.ServiceAccountStore
	lifecycle *billing.Lifecycle
	registry  *tenant.Registry
	logger    *slog.Logger
}

func NewLifecycleHandler(accounts *store.ServiceAccountStore, lifecycle *billing.Lifecycle, registry *tenant.Registry, logger *slog.Logger) *LifecycleHandler {
	return &LifecycleHandler{
		accounts:  accounts,
		lifecycle: lifecycle,
		registry:  registry,
		logger:    logger,
	}
}

func accountID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, fault.Validationf("invalid account id")
	}
	return id, nil
}

func parseDay(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fault.Validationf("invalid date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}

// CreateAccount registers a new end-customer. Merchant-created accounts
// start active; self-registrations come through a different surface and
// start pending_verification.
func (h *LifecycleHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	merchantID := tenant.MerchantID(r.Context())

	var req struct {
		CustomerName  string `json:"customer_name"`
		PhoneNumber   string `json:"phone_number"`
		MealType      string `json:"meal_type"`
		MonthlyAmount int64  `json:"monthly_amount"`
		PaidDays      int    `json:"paid_days"`
		StartDate     string `json:"start_date"`
		SkipWeekends  bool   `json:"skip_weekends"`
		IsTrial       bool   `json:"is_trial"`
		TrialEndDate  string `json:"trial_end_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	account := &model.ServiceAccount{
		MerchantID:    merchantID,
		CustomerName:  req.CustomerName,
		PhoneNumber:   req.PhoneNumber,
		MealType:      req.MealType,
		MonthlyAmount: req.MonthlyAmount,
		PaidDays:      req.PaidDays,
		Status:        model.AccountActive,
		PaymentStatus: model.PaymentPending,
		SkipWeekends:  req.SkipWeekends,
		IsTrial:       req.IsTrial,
	}
	if req.IsTrial {
		account.PaymentStatus = model.PaymentTrial
	}
	if req.StartDate != "" {
		start, err := parseDay(req.StartDate)
		if err != nil {
			writeError(w, err)
			return
		}
		account.StartDate = start
	}
	if req.TrialEndDate != "" {
		end, err := parseDay(req.TrialEndDate)
		if err != nil {
			writeError(w, err)
			return
		}
		account.TrialEndDate = end
	}

	created, err := h.accounts.Create(account)
	if err != nil {
		h.logger.Error("create account", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *LifecycleHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	merchantID := tenant.MerchantID(r.Context())
	id, err := accountID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	account, err := h.accounts.GetByMerchant(merchantID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if account == nil {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}

	history, err := h.accounts.ListPauseHistory(account.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account":        account,
		"days_remaining": account.DaysRemaining(),
		"pause_history":  history,
	})
}

// UpdateAccount applies a whitelisted field patch through the tenant
// registry; unknown fields are rejected before anything is written.
func (h *LifecycleHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	merchantID := tenant.MerchantID(r.Context())
	id, err := accountID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := h.registry.UpdateFields(tenant.KindServiceAccount, merchantID, id, fields); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *LifecycleHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.simpleAction(w, r, h.lifecycle.Approve)
}

func (h *LifecycleHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.simpleAction(w, r, h.lifecycle.Reject)
}

func (h *LifecycleHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.simpleAction(w, r, h.lifecycle.Resume)
}

func (h *LifecycleHandler) simpleAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, merchantID, accountID int64) error) {
	merchantID := tenant.MerchantID(r.Context())
	id, err := accountID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := action(r.Context(), merchantID, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *LifecycleHandler) Pause(w http.ResponseWriter, r *http.Request) {
	merchantID := tenant.MerchantID(r.Context())
	id, err := accountID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	start, err := parseDay(req.Start)
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := parseDay(req.End)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.lifecycle.Pause(r.Context(), merchantID, id, start, end); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (h *LifecycleHandler) Renew(w http.ResponseWriter, r *http.Request) {
	merchantID := tenant.MerchantID(r.Context())
	id, err := accountID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	url, err := h.lifecycle.RenewNow(r.Context(), merchantID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *LifecycleHandler) Skip(w http.ResponseWriter, r *http.Request) {
	merchantID := tenant.MerchantID(r.Context())
	id, err := accountID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	account, err := h.accounts.GetByMerchant(merchantID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if account == nil {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}

	var req struct {
		Date     string `json:"date"`
		MealType string `json:"meal_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	date, err := parseDay(req.Date)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.MealType == "" {
		req.MealType = account.MealType
	}

	record, err := h.lifecycle.SkipDate(r.Context(), account.ID, date, req.MealType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (h *LifecycleHandler) RecordDelivery(w http.ResponseWriter, r *http.Request) {
	merchantID := tenant.MerchantID(r.Context())
	id, err := accountID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Date string `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	date := time.Now().UTC()
	if req.Date != "" {
		date, err = parseDay(req.Date)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	reason, err := h.lifecycle.RecordDelivery(r.Context(), merchantID, id, date)
	if err != nil {
		if fault.IsValidation(err) {
			writeJSON(w, http.StatusConflict, map[string]string{"delivered": "false", "reason": string(reason)})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"delivered": "true"})
}

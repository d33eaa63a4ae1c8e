package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tiffinworks/dabba/internal/fault"
	"github.com/tiffinworks/dabba/internal/gateway"
	"github.com/tiffinworks/dabba/internal/model"
	"github.com/tiffinworks/dabba/internal/store"
	"github.com/tiffinworks/dabba/internal/tenant"
)

// PlatformCheckoutCreator opens the hosted checkout for a merchant's own
// platform plan, as opposed to an end-customer payment.
type PlatformCheckoutCreator interface {
	CreatePlatformCheckout(ctx context.Context, merchantEmail string, merchantID int64) (*gateway.CheckoutSession, error)
}

type MerchantHandler struct {
	merchants *store.MerchantStore
	billing   *store.BillingRecordStore
	gw        PlatformCheckoutCreator
	logger    *slog.Logger
}

func NewMerchantHandler(merchants *store.MerchantStore, billing *store.BillingRecordStore, gw PlatformCheckoutCreator, logger *slog.Logger) *MerchantHandler {
	return &MerchantHandler{
		merchants: merchants,
		billing:   billing,
		gw:        gw,
		logger:    logger,
	}
}

func (h *MerchantHandler) currentMerchant(r *http.Request) (int64, error) {
	id := tenant.MerchantID(r.Context())
	if id == 0 {
		return 0, fault.Validationf("missing merchant identity")
	}
	return id, nil
}

// GetProfile returns the merchant's own subscription state together with
// the latest platform billing record.
func (h *MerchantHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	id, err := h.currentMerchant(r)
	if err != nil {
		writeError(w, err)
		return
	}
	merchant, err := h.merchants.GetByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if merchant == nil {
		writeError(w, fault.NotFound("merchant", r.Header.Get("X-Merchant-ID")))
		return
	}
	record, err := h.billing.GetByMerchant(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"merchant":       merchant,
		"billing_record": record,
	})
}

// Subscribe opens a hosted checkout for the merchant's premium platform
// plan. The subscription itself is activated later by the gateway webhook.
func (h *MerchantHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	id, err := h.currentMerchant(r)
	if err != nil {
		writeError(w, err)
		return
	}
	merchant, err := h.merchants.GetByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if merchant == nil {
		writeError(w, fault.NotFound("merchant", r.Header.Get("X-Merchant-ID")))
		return
	}
	if merchant.SubscriptionState == model.MerchantActive && merchant.PlanType == model.PlanPremium {
		writeError(w, fault.Validationf("merchant already has an active premium plan"))
		return
	}

	session, err := h.gw.CreatePlatformCheckout(r.Context(), merchant.Email, merchant.ID)
	if err != nil {
		h.logger.Error("platform checkout failed", "merchant_id", merchant.ID, "error", err)
		writeError(w, fault.Gateway("create platform checkout", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"checkout_url": session.URL})
}

var (
	overridePlans  = map[string]bool{model.PlanNone: true, model.PlanTrial: true, model.PlanBasic: true, model.PlanPremium: true}
	overrideStates = map[string]bool{model.MerchantTrial: true, model.MerchantActive: true, model.MerchantPastDue: true, model.MerchantCancelled: true, model.MerchantExpired: true}
)

// OverridePlan hand-sets a merchant's plan or state and marks the merchant
// admin-sourced, which freezes it from further webhook transitions. Admin
// actors only.
func (h *MerchantHandler) OverridePlan(w http.ResponseWriter, r *http.Request) {
	if !tenant.IsAdmin(r.Context()) {
		http.Error(w, "admin role required", http.StatusForbidden)
		return
	}
	id, err := h.currentMerchant(r)
	if err != nil {
		writeError(w, err)
		return
	}
	merchant, err := h.merchants.GetByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if merchant == nil {
		writeError(w, fault.NotFound("merchant", r.Header.Get("X-Merchant-ID")))
		return
	}

	var req struct {
		Plan  string `json:"plan"`
		State string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.Validationf("invalid request body"))
		return
	}
	if req.Plan == "" && req.State == "" {
		writeError(w, fault.Validationf("plan or state is required"))
		return
	}
	if req.Plan != "" && !overridePlans[req.Plan] {
		writeError(w, fault.Validationf("unknown plan %q", req.Plan))
		return
	}
	if req.State != "" && !overrideStates[req.State] {
		writeError(w, fault.Validationf("unknown state %q", req.State))
		return
	}

	if req.Plan != "" {
		if err := h.merchants.UpdatePlan(id, req.Plan, model.SourceAdmin); err != nil {
			writeError(w, err)
			return
		}
	} else if err := h.merchants.SetSubscriptionSource(id, model.SourceAdmin); err != nil {
		writeError(w, err)
		return
	}
	if req.State != "" {
		if err := h.merchants.UpdateSubscriptionState(id, req.State); err != nil {
			writeError(w, err)
			return
		}
	}

	h.logger.Info("merchant plan overridden", "merchant_id", id, "plan", req.Plan, "state", req.State)
	updated, err := h.merchants.GetByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tiffinworks/dabba/internal/database"
	"github.com/tiffinworks/dabba/internal/model"
	"github.com/tiffinworks/dabba/internal/store"
	"github.com/tiffinworks/dabba/internal/tenant"
)

func setupMerchantHandler(t *testing.T) (*MerchantHandler, *store.MerchantStore, int64) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ms := store.NewMerchantStore(db)
	bs := store.NewBillingRecordStore(db)
	h := NewMerchantHandler(ms, bs, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	m, err := ms.Create("owner@tiffin.example", "Anna's Dabba")
	if err != nil {
		t.Fatalf("create merchant: %v", err)
	}
	return h, ms, m.ID
}

func overrideRequest(merchantID int64, role, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/merchant/plan-override", strings.NewReader(body))
	actor := tenant.Actor{MerchantID: merchantID, Role: role}
	return r.WithContext(tenant.WithActor(r.Context(), actor))
}

func TestOverridePlanRequiresAdmin(t *testing.T) {
	h, ms, id := setupMerchantHandler(t)

	w := httptest.NewRecorder()
	h.OverridePlan(w, overrideRequest(id, "merchant", `{"plan":"premium"}`))
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	got, _ := ms.GetByID(id)
	if got.PlanType == model.PlanPremium {
		t.Error("non-admin request must not change the plan")
	}
}

func TestOverridePlanSetsPlanAndAdminSource(t *testing.T) {
	h, ms, id := setupMerchantHandler(t)

	w := httptest.NewRecorder()
	h.OverridePlan(w, overrideRequest(id, "admin", `{"plan":"premium","state":"active"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	got, _ := ms.GetByID(id)
	if got.PlanType != model.PlanPremium {
		t.Errorf("plan = %q, want premium", got.PlanType)
	}
	if got.SubscriptionState != model.MerchantActive {
		t.Errorf("state = %q, want active", got.SubscriptionState)
	}
	if got.SubscriptionSource != model.SourceAdmin {
		t.Errorf("source = %q, overrides must pin the admin source", got.SubscriptionSource)
	}

	var body model.Merchant
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.ID != id || body.PlanType != model.PlanPremium {
		t.Errorf("response merchant = %+v, want the updated row", body)
	}
}

func TestOverridePlanStateOnly(t *testing.T) {
	h, ms, id := setupMerchantHandler(t)
	ms.UpdatePlan(id, model.PlanBasic, model.SourceGateway)

	w := httptest.NewRecorder()
	h.OverridePlan(w, overrideRequest(id, "admin", `{"state":"cancelled"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	got, _ := ms.GetByID(id)
	if got.SubscriptionState != model.MerchantCancelled {
		t.Errorf("state = %q, want cancelled", got.SubscriptionState)
	}
	if got.PlanType != model.PlanBasic {
		t.Errorf("plan = %q, state-only override must keep the plan", got.PlanType)
	}
	if got.SubscriptionSource != model.SourceAdmin {
		t.Errorf("source = %q, want admin", got.SubscriptionSource)
	}
}

func TestOverridePlanRejectsBadInput(t *testing.T) {
	h, _, id := setupMerchantHandler(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty", `{}`},
		{"unknown plan", `{"plan":"platinum"}`},
		{"unknown state", `{"state":"dormant"}`},
		{"malformed json", `{`},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		h.OverridePlan(w, overrideRequest(id, "admin", tt.body))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tt.name, w.Code)
		}
	}
}

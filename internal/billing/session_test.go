package billing

import (
	"context"
	"testing"
	"time"

	"github.com/tiffinworks/dabba/internal/fault"
	"github.com/tiffinworks/dabba/internal/model"
)

func TestPlatformFee(t *testing.T) {
	tests := []struct {
		amount int64
		pct    float64
		want   int64
	}{
		{100, 3.5, 4},
		{3000, 3.5, 105},
		{3000, 0, 0},
		{1, 50, 1},
		{999, 10, 100},
		{0, 3.5, 0},
	}
	for _, tt := range tests {
		if got := PlatformFee(tt.amount, tt.pct); got != tt.want {
			t.Errorf("PlatformFee(%d, %v) = %d, want %d", tt.amount, tt.pct, got, tt.want)
		}
	}
}

func TestSessionTrackerOpen(t *testing.T) {
	st := openTestStores(t)
	merchant := createVerifiedMerchant(t, st, "owner@tiffin.example", 3.5)
	account := createActiveAccount(t, st, merchant.ID, day(2026, 1, 30))

	gw := &fakeCheckout{}
	tracker := NewSessionTracker(gw, st.sessions, testLogger())

	row, url, err := tracker.Open(context.Background(), account, merchant, 3000, model.PurposeRenewal)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	if url != "https://pay.example/cs_fake" {
		t.Errorf("url = %q", url)
	}
	if row.PlatformFeeAmount != 105 || row.NetAmount != 2895 {
		t.Errorf("split = fee %d / net %d, want 105 / 2895", row.PlatformFeeAmount, row.NetAmount)
	}
	if row.Status != model.SessionPending {
		t.Errorf("status = %q, want pending", row.Status)
	}
	if len(gw.calls) != 1 || gw.calls[0].ApplicationFee != 105 {
		t.Errorf("gateway call fee = %v, want 105", gw.calls)
	}

	persisted, _ := st.sessions.GetByGatewayID("cs_fake")
	if persisted == nil || persisted.ID != row.ID {
		t.Fatalf("session not persisted under gateway id")
	}
}

func TestSessionTrackerOpenUnverifiedMerchant(t *testing.T) {
	st := openTestStores(t)
	merchant, _ := st.merchants.Create("owner@tiffin.example", "")
	account := createActiveAccount(t, st, merchant.ID, day(2026, 1, 30))

	gw := &fakeCheckout{}
	tracker := NewSessionTracker(gw, st.sessions, testLogger())

	_, _, err := tracker.Open(context.Background(), account, merchant, 3000, model.PurposeRenewal)
	if !fault.IsGateway(err) {
		t.Fatalf("err = %v, want gateway error", err)
	}
	if len(gw.calls) != 0 {
		t.Error("gateway must not be called for an unverified merchant")
	}
}

func TestSessionTrackerOpenRejectsNonPositiveAmount(t *testing.T) {
	st := openTestStores(t)
	merchant := createVerifiedMerchant(t, st, "owner@tiffin.example", 3.5)
	account := createActiveAccount(t, st, merchant.ID, day(2026, 1, 30))

	tracker := NewSessionTracker(&fakeCheckout{}, st.sessions, testLogger())

	for _, amount := range []int64{0, -100} {
		_, _, err := tracker.Open(context.Background(), account, merchant, amount, model.PurposeRenewal)
		if !fault.IsValidation(err) {
			t.Errorf("amount %d: err = %v, want validation error", amount, err)
		}
	}
}

func TestSessionTrackerOpenGatewayFailure(t *testing.T) {
	st := openTestStores(t)
	merchant := createVerifiedMerchant(t, st, "owner@tiffin.example", 3.5)
	account := createActiveAccount(t, st, merchant.ID, day(2026, 1, 30))

	tracker := NewSessionTracker(&fakeCheckout{err: errGatewayDown}, st.sessions, testLogger())

	_, _, err := tracker.Open(context.Background(), account, merchant, 3000, model.PurposeRenewal)
	if !fault.IsGateway(err) {
		t.Fatalf("err = %v, want gateway error", err)
	}

	// No orphan row when the gateway call fails.
	pending, _ := st.sessions.GetPendingByAccountAndPurpose(account.ID, model.PurposeRenewal, time.Now())
	if pending != nil {
		t.Error("no session row should exist after gateway failure")
	}
}

func TestSessionTrackerOpenReusesPendingSession(t *testing.T) {
	st := openTestStores(t)
	merchant := createVerifiedMerchant(t, st, "owner@tiffin.example", 3.5)
	account := createActiveAccount(t, st, merchant.ID, day(2026, 1, 30))

	gw := &fakeCheckout{}
	tracker := NewSessionTracker(gw, st.sessions, testLogger())

	first, firstURL, err := tracker.Open(context.Background(), account, merchant, 3000, model.PurposeRenewal)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	second, secondURL, err := tracker.Open(context.Background(), account, merchant, 3000, model.PurposeRenewal)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second open returned session %d, want reuse of %d", second.ID, first.ID)
	}
	if secondURL != firstURL {
		t.Errorf("second url = %q, want %q", secondURL, firstURL)
	}
	if len(gw.calls) != 1 {
		t.Errorf("gateway calls = %d, want 1", len(gw.calls))
	}

	// A different purpose still opens a fresh session.
	overdue, _, err := tracker.Open(context.Background(), account, merchant, 3000, model.PurposeOverdue)
	if err != nil {
		t.Fatalf("overdue open: %v", err)
	}
	if overdue.ID == first.ID {
		t.Error("different purpose must not reuse the renewal session")
	}

	// Once the open session expires, a new one is issued.
	if err := st.sessions.MarkExpired(first.ID); err != nil {
		t.Fatalf("mark expired: %v", err)
	}
	fresh, _, err := tracker.Open(context.Background(), account, merchant, 3000, model.PurposeRenewal)
	if err != nil {
		t.Fatalf("open after expiry: %v", err)
	}
	if fresh.ID == first.ID {
		t.Error("expired session must not be reused")
	}
}

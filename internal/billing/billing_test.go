package billing

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/tiffinworks/dabba/internal/database"
	"github.com/tiffinworks/dabba/internal/gateway"
	"github.com/tiffinworks/dabba/internal/model"
	"github.com/tiffinworks/dabba/internal/notify"
	"github.com/tiffinworks/dabba/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type stores struct {
	db        *sql.DB
	merchants *store.MerchantStore
	accounts  *store.ServiceAccountStore
	skips     *store.SkipStore
	sessions  *store.PaymentSessionStore
	billing   *store.BillingRecordStore
	events    *store.WebhookEventStore
}

func openTestStores(t *testing.T) stores {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return stores{
		db:        db,
		merchants: store.NewMerchantStore(db),
		accounts:  store.NewServiceAccountStore(db),
		skips:     store.NewSkipStore(db),
		sessions:  store.NewPaymentSessionStore(db),
		billing:   store.NewBillingRecordStore(db),
		events:    store.NewWebhookEventStore(db),
	}
}

func createVerifiedMerchant(t *testing.T, st stores, email string, feePct float64) *model.Merchant {
	t.Helper()
	m, err := st.merchants.Create(email, "")
	if err != nil {
		t.Fatalf("create merchant: %v", err)
	}
	if err := st.merchants.SetPaymentsVerified(m.ID, true, feePct); err != nil {
		t.Fatalf("verify merchant: %v", err)
	}
	m, _ = st.merchants.GetByID(m.ID)
	return m
}

func createActiveAccount(t *testing.T, st stores, merchantID int64, endDate time.Time) *model.ServiceAccount {
	t.Helper()
	a, err := st.accounts.Create(&model.ServiceAccount{
		MerchantID:    merchantID,
		CustomerName:  "Ravi",
		PhoneNumber:   "+919800000001",
		MealType:      "Lunch",
		MonthlyAmount: 3000,
		Status:        model.AccountActive,
		PaymentStatus: model.PaymentPaid,
		PaidDays:      30,
		StartDate:     endDate.AddDate(0, 0, -29),
		EndDate:       endDate,
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return a
}

// fakeCheckout records the last checkout request and serves a canned session.
type fakeCheckout struct {
	calls []gateway.CheckoutParams
	err   error
}

func (f *fakeCheckout) CreateCheckoutSession(ctx context.Context, p gateway.CheckoutParams) (*gateway.CheckoutSession, error) {
	f.calls = append(f.calls, p)
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.CheckoutSession{ID: "cs_fake", URL: "https://pay.example/cs_fake"}, nil
}

type sentMessage struct {
	To  string
	Msg notify.Message
}

// fakeNotifier always succeeds and records what it sent.
type fakeNotifier struct {
	sent []sentMessage
}

func (f *fakeNotifier) Send(ctx context.Context, to string, msg notify.Message) notify.Result {
	f.sent = append(f.sent, sentMessage{To: to, Msg: msg})
	return notify.Result{Success: true, ProviderID: "fake"}
}

var errGatewayDown = errors.New("gateway down")

func makeSessionParams(accountID, merchantID int64, purpose, gatewayID string) store.CreateSessionParams {
	return store.CreateSessionParams{
		AccountID:        &accountID,
		MerchantID:       merchantID,
		Purpose:          purpose,
		Amount:           3000,
		Currency:         "inr",
		GatewaySessionID: gatewayID,
		ExpiresAt:        time.Now().Add(24 * time.Hour),
	}
}

package billing

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/tiffinworks/dabba/internal/fault"
	"github.com/tiffinworks/dabba/internal/gateway"
	"github.com/tiffinworks/dabba/internal/model"
	"github.com/tiffinworks/dabba/internal/store"
)

// CheckoutCreator is the slice of the payment gateway the tracker needs.
type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, p gateway.CheckoutParams) (*gateway.CheckoutSession, error)
}

// sessionTTL is how long a checkout link stays payable.
const sessionTTL = 24 * time.Hour

// PlatformFee is round(amount × feePercentage / 100), half away from zero.
func PlatformFee(amount int64, feePercentage float64) int64 {
	return int64(math.Round(float64(amount) * feePercentage / 100))
}

// SessionTracker opens gateway checkout sessions for customer payments,
// computes the platform fee split, and persists the session record. A still
// payable pending session for the same (account, purpose) is reused, so a
// customer texting RENEW twice gets the same link.
type SessionTracker struct {
	gw       CheckoutCreator
	sessions *store.PaymentSessionStore
	logger   *slog.Logger
	now      func() time.Time
}

func NewSessionTracker(gw CheckoutCreator, sessions *store.PaymentSessionStore, logger *slog.Logger) *SessionTracker {
	return &SessionTracker{
		gw:       gw,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
}

// Open creates a checkout session for the account and returns the persisted
// session row and the hosted checkout URL.
func (t *SessionTracker) Open(ctx context.Context, account *model.ServiceAccount, merchant *model.Merchant, amount int64, purpose string) (*model.PaymentSession, string, error) {
	if merchant == nil || !merchant.PaymentsVerified {
		return nil, "", fault.Gateway("payment gateway unavailable: merchant has no verified payment account", nil)
	}
	if amount <= 0 {
		return nil, "", fault.Validationf("amount must be positive, got %d", amount)
	}

	existing, err := t.sessions.GetPendingByAccountAndPurpose(account.ID, purpose, t.now())
	if err != nil {
		return nil, "", err
	}
	if existing != nil {
		t.logger.Info("reusing open payment session",
			"account_id", account.ID, "purpose", purpose, "session_id", existing.ID)
		return existing, existing.CheckoutURL, nil
	}

	fee := PlatformFee(amount, merchant.FeePercentage)
	net := amount - fee
	expiresAt := t.now().Add(sessionTTL)

	sess, err := t.gw.CreateCheckoutSession(ctx, gateway.CheckoutParams{
		Amount:         amount,
		ApplicationFee: fee,
		Description:    checkoutDescription(purpose, account),
		CustomerEmail:  "",
		Purpose:        purpose,
		AccountID:      strconv.FormatInt(account.ID, 10),
		OwnerEmail:     merchant.Email,
		ExpiresAt:      expiresAt,
	})
	if err != nil {
		return nil, "", fault.Gateway("create checkout session", err)
	}

	row, err := t.sessions.Create(store.CreateSessionParams{
		AccountID:         &account.ID,
		MerchantID:        merchant.ID,
		Purpose:           purpose,
		Amount:            amount,
		Currency:          "inr",
		GatewaySessionID:  sess.ID,
		CheckoutURL:       sess.URL,
		ExpiresAt:         expiresAt,
		PlatformFeeAmount: fee,
		NetAmount:         net,
	})
	if err != nil {
		return nil, "", err
	}

	t.logger.Info("payment session opened",
		"account_id", account.ID, "purpose", purpose, "amount", amount, "fee", fee)
	return row, sess.URL, nil
}

func checkoutDescription(purpose string, account *model.ServiceAccount) string {
	switch purpose {
	case model.PurposeRegistration:
		return "Tiffin subscription - first month"
	case model.PurposeRenewal, model.PurposeOverdue:
		return "Tiffin subscription renewal"
	case model.PurposeTrialConversion:
		return "Tiffin subscription - trial conversion"
	case model.PurposeOneTimeOrder:
		return "One-time tiffin order"
	default:
		return "Tiffin payment for " + account.CustomerName
	}
}

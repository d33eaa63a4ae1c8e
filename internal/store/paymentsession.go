package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tiffinworks/dabba/internal/model"
)

type PaymentSessionStore struct {
	db *sql.DB
}

func NewPaymentSessionStore(db *sql.DB) *PaymentSessionStore {
	return &PaymentSessionStore{db: db}
}

func scanPaymentSession(scanner interface{ Scan(...any) error }) (*model.PaymentSession, error) {
	var p model.PaymentSession
	var accountID sql.NullInt64
	var gatewayID sql.NullString
	var paidAt sql.NullTime
	err := scanner.Scan(
		&p.ID, &p.Reference, &accountID, &p.MerchantID, &p.Purpose, &p.Amount, &p.Currency,
		&gatewayID, &p.CheckoutURL, &p.Status, &p.ExpiresAt, &p.PlatformFeeAmount, &p.NetAmount, &paidAt, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if accountID.Valid {
		p.AccountID = &accountID.Int64
	}
	if gatewayID.Valid {
		p.GatewaySessionID = &gatewayID.String
	}
	if paidAt.Valid {
		p.PaidAt = &paidAt.Time
	}
	return &p, nil
}

const paymentSessionCols = `id, reference, account_id, merchant_id, purpose, amount, currency, gateway_session_id, checkout_url, status, expires_at, platform_fee_amount, net_amount, paid_at, created_at`

type CreateSessionParams struct {
	AccountID         *int64
	MerchantID        int64
	Purpose           string
	Amount            int64
	Currency          string
	GatewaySessionID  string
	CheckoutURL       string
	ExpiresAt         time.Time
	PlatformFeeAmount int64
	NetAmount         int64
}

func (s *PaymentSessionStore) Create(p CreateSessionParams) (*model.PaymentSession, error) {
	var accountID sql.NullInt64
	if p.AccountID != nil {
		accountID = sql.NullInt64{Int64: *p.AccountID, Valid: true}
	}
	result, err := s.db.Exec(
		`INSERT INTO payment_sessions
		 (reference, account_id, merchant_id, purpose, amount, currency, gateway_session_id,
		  checkout_url, expires_at, platform_fee_amount, net_amount)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), accountID, p.MerchantID, p.Purpose, p.Amount, p.Currency,
		p.GatewaySessionID, p.CheckoutURL, p.ExpiresAt.UTC(), p.PlatformFeeAmount, p.NetAmount,
	)
	if err != nil {
		return nil, fmt.Errorf("insert payment session: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *PaymentSessionStore) GetByID(id int64) (*model.PaymentSession, error) {
	row := s.db.QueryRow(`SELECT `+paymentSessionCols+` FROM payment_sessions WHERE id = ?`, id)
	p, err := scanPaymentSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get payment session: %w", err)
	}
	return p, nil
}

func (s *PaymentSessionStore) GetByGatewayID(gatewayID string) (*model.PaymentSession, error) {
	row := s.db.QueryRow(
		`SELECT `+paymentSessionCols+` FROM payment_sessions WHERE gateway_session_id = ?`,
		gatewayID,
	)
	p, err := scanPaymentSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get payment session by gateway id: %w", err)
	}
	return p, nil
}

// GetPendingByAccountAndPurpose returns the most recent pending session for
// the pair that is still payable at now, letting callers reuse an open
// checkout instead of opening a duplicate. Lapsed rows are filtered here;
// their status flips to expired when the gateway reports it.
func (s *PaymentSessionStore) GetPendingByAccountAndPurpose(accountID int64, purpose string, now time.Time) (*model.PaymentSession, error) {
	row := s.db.QueryRow(
		`SELECT `+paymentSessionCols+` FROM payment_sessions
		 WHERE account_id = ? AND purpose = ? AND status = ? AND expires_at > ?
		 ORDER BY created_at DESC LIMIT 1`,
		accountID, purpose, model.SessionPending, now.UTC(),
	)
	p, err := scanPaymentSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending session: %w", err)
	}
	return p, nil
}

// MarkPaid transitions a pending session to paid. Re-marking an already paid
// session keeps the original paid_at.
func (s *PaymentSessionStore) MarkPaid(id int64, paidAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE payment_sessions SET status = ?, paid_at = ? WHERE id = ? AND status = ?`,
		model.SessionPaid, paidAt.UTC(), id, model.SessionPending,
	)
	if err != nil {
		return fmt.Errorf("mark session paid: %w", err)
	}
	return nil
}

func (s *PaymentSessionStore) MarkExpired(id int64) error {
	_, err := s.db.Exec(
		`UPDATE payment_sessions SET status = ? WHERE id = ? AND status = ?`,
		model.SessionExpired, id, model.SessionPending,
	)
	if err != nil {
		return fmt.Errorf("mark session expired: %w", err)
	}
	return nil
}

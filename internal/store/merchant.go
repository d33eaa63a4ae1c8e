package store

import (
	"database/sql"
	"fmt"

	"github.com/tiffinworks/dabba/internal/model"
)

type MerchantStore struct {
	db *sql.DB
}

func NewMerchantStore(db *sql.DB) *MerchantStore {
	return &MerchantStore{db: db}
}

func scanMerchant(scanner interface{ Scan(...any) error }) (*model.Merchant, error) {
	var m model.Merchant
	var trialEndsAt, periodEnd sql.NullTime
	var custID, subID sql.NullString
	var verified, noticeSent int
	err := scanner.Scan(
		&m.ID, &m.Email, &m.BusinessName, &m.SubscriptionState, &m.PlanType,
		&m.SubscriptionSource, &trialEndsAt, &periodEnd, &custID, &subID,
		&m.FeePercentage, &verified, &noticeSent, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if trialEndsAt.Valid {
		m.TrialEndsAt = &trialEndsAt.Time
	}
	if periodEnd.Valid {
		m.CurrentPeriodEnd = &periodEnd.Time
	}
	if custID.Valid {
		m.GatewayCustomerID = &custID.String
	}
	if subID.Valid {
		m.GatewaySubscriptionID = &subID.String
	}
	m.PaymentsVerified = verified != 0
	m.RenewalNoticeSent = noticeSent != 0
	return &m, nil
}

const merchantCols = `id, email, business_name, subscription_state, plan_type, subscription_source, trial_ends_at, current_period_end, gateway_customer_id, gateway_subscription_id, fee_percentage, payments_verified, renewal_notice_sent, created_at, updated_at`

func (s *MerchantStore) Create(email, businessName string) (*model.Merchant, error) {
	result, err := s.db.Exec(
		`INSERT INTO merchants (email, business_name) VALUES (?, ?)`,
		email, businessName,
	)
	if err != nil {
		return nil, fmt.Errorf("insert merchant: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *MerchantStore) GetByID(id int64) (*model.Merchant, error) {
	row := s.db.QueryRow(`SELECT `+merchantCols+` FROM merchants WHERE id = ?`, id)
	m, err := scanMerchant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get merchant: %w", err)
	}
	return m, nil
}

func (s *MerchantStore) GetByEmail(email string) (*model.Merchant, error) {
	row := s.db.QueryRow(`SELECT `+merchantCols+` FROM merchants WHERE email = ?`, email)
	m, err := scanMerchant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get merchant by email: %w", err)
	}
	return m, nil
}

func (s *MerchantStore) GetByGatewaySubscriptionID(subID string) (*model.Merchant, error) {
	row := s.db.QueryRow(`SELECT `+merchantCols+` FROM merchants WHERE gateway_subscription_id = ?`, subID)
	m, err := scanMerchant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get merchant by gateway subscription id: %w", err)
	}
	return m, nil
}

func (s *MerchantStore) GetByGatewayCustomerID(custID string) (*model.Merchant, error) {
	row := s.db.QueryRow(`SELECT `+merchantCols+` FROM merchants WHERE gateway_customer_id = ?`, custID)
	m, err := scanMerchant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get merchant by gateway customer id: %w", err)
	}
	return m, nil
}

// ListPaymentVerified returns merchants allowed to collect customer payments.
func (s *MerchantStore) ListPaymentVerified() ([]model.Merchant, error) {
	rows, err := s.db.Query(`SELECT ` + merchantCols + ` FROM merchants WHERE payments_verified = 1`)
	if err != nil {
		return nil, fmt.Errorf("list payment-verified merchants: %w", err)
	}
	defer rows.Close()

	var merchants []model.Merchant
	for rows.Next() {
		m, err := scanMerchant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan merchant: %w", err)
		}
		merchants = append(merchants, *m)
	}
	return merchants, rows.Err()
}

// ListRenewalNoticeDue returns merchants whose platform period ends on or
// before the cutoff and who have not yet received the one-time renewal email.
func (s *MerchantStore) ListRenewalNoticeDue(cutoff sql.NullTime) ([]model.Merchant, error) {
	rows, err := s.db.Query(
		`SELECT `+merchantCols+` FROM merchants
		 WHERE renewal_notice_sent = 0 AND current_period_end IS NOT NULL AND current_period_end <= ?
		   AND subscription_state = ?`,
		cutoff, model.MerchantActive,
	)
	if err != nil {
		return nil, fmt.Errorf("list renewal-notice merchants: %w", err)
	}
	defer rows.Close()

	var merchants []model.Merchant
	for rows.Next() {
		m, err := scanMerchant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan merchant: %w", err)
		}
		merchants = append(merchants, *m)
	}
	return merchants, rows.Err()
}

func (s *MerchantStore) UpdateSubscriptionState(id int64, state string) error {
	_, err := s.db.Exec(
		`UPDATE merchants SET subscription_state = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		state, id,
	)
	if err != nil {
		return fmt.Errorf("update merchant state: %w", err)
	}
	return nil
}

func (s *MerchantStore) UpdatePlan(id int64, plan, source string) error {
	_, err := s.db.Exec(
		`UPDATE merchants SET plan_type = ?, subscription_source = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		plan, source, id,
	)
	if err != nil {
		return fmt.Errorf("update merchant plan: %w", err)
	}
	return nil
}

func (s *MerchantStore) UpdateGatewayIDs(id int64, customerID, subscriptionID string) error {
	_, err := s.db.Exec(
		`UPDATE merchants SET gateway_customer_id = ?, gateway_subscription_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		customerID, subscriptionID, id,
	)
	if err != nil {
		return fmt.Errorf("update merchant gateway ids: %w", err)
	}
	return nil
}

// UpdatePeriodEnd advances the platform period end and re-arms the one-time
// renewal notice for the new cycle.
func (s *MerchantStore) UpdatePeriodEnd(id int64, periodEnd sql.NullTime) error {
	_, err := s.db.Exec(
		`UPDATE merchants SET current_period_end = ?, renewal_notice_sent = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		periodEnd, id,
	)
	if err != nil {
		return fmt.Errorf("update merchant period end: %w", err)
	}
	return nil
}

func (s *MerchantStore) SetPaymentsVerified(id int64, verified bool, feePercentage float64) error {
	v := 0
	if verified {
		v = 1
	}
	_, err := s.db.Exec(
		`UPDATE merchants SET payments_verified = ?, fee_percentage = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		v, feePercentage, id,
	)
	if err != nil {
		return fmt.Errorf("set merchant payments verified: %w", err)
	}
	return nil
}

func (s *MerchantStore) SetSubscriptionSource(id int64, source string) error {
	_, err := s.db.Exec(
		`UPDATE merchants SET subscription_source = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		source, id,
	)
	if err != nil {
		return fmt.Errorf("set merchant subscription source: %w", err)
	}
	return nil
}

func (s *MerchantStore) SetRenewalNoticeSent(id int64) error {
	_, err := s.db.Exec(
		`UPDATE merchants SET renewal_notice_sent = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("set renewal notice sent: %w", err)
	}
	return nil
}

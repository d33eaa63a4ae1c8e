package store

import (
	"database/sql"
	"fmt"

	"github.com/tiffinworks/dabba/internal/model"
)

type BillingRecordStore struct {
	db *sql.DB
}

func NewBillingRecordStore(db *sql.DB) *BillingRecordStore {
	return &BillingRecordStore{db: db}
}

func scanBillingRecord(scanner interface{ Scan(...any) error }) (*model.BillingRecord, error) {
	var b model.BillingRecord
	var periodEnd sql.NullTime
	err := scanner.Scan(
		&b.ID, &b.MerchantID, &b.GatewaySubscriptionID, &b.PlanType, &b.Status,
		&periodEnd, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if periodEnd.Valid {
		b.CurrentPeriodEnd = &periodEnd.Time
	}
	return &b, nil
}

const billingRecordCols = `id, merchant_id, gateway_subscription_id, plan_type, status, current_period_end, created_at, updated_at`

// Upsert writes the merchant's billing-cycle mirror, one row per merchant.
func (s *BillingRecordStore) Upsert(merchantID int64, gatewaySubID, planType, status string, periodEnd sql.NullTime) error {
	_, err := s.db.Exec(
		`INSERT INTO billing_records (merchant_id, gateway_subscription_id, plan_type, status, current_period_end)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(merchant_id) DO UPDATE SET
		   gateway_subscription_id = excluded.gateway_subscription_id,
		   plan_type = excluded.plan_type,
		   status = excluded.status,
		   current_period_end = excluded.current_period_end,
		   updated_at = CURRENT_TIMESTAMP`,
		merchantID, gatewaySubID, planType, status, periodEnd,
	)
	if err != nil {
		return fmt.Errorf("upsert billing record: %w", err)
	}
	return nil
}

func (s *BillingRecordStore) GetByMerchant(merchantID int64) (*model.BillingRecord, error) {
	row := s.db.QueryRow(
		`SELECT `+billingRecordCols+` FROM billing_records WHERE merchant_id = ?`,
		merchantID,
	)
	b, err := scanBillingRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get billing record: %w", err)
	}
	return b, nil
}

func (s *BillingRecordStore) UpdateStatus(merchantID int64, status string) error {
	_, err := s.db.Exec(
		`UPDATE billing_records SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE merchant_id = ?`,
		status, merchantID,
	)
	if err != nil {
		return fmt.Errorf("update billing record status: %w", err)
	}
	return nil
}

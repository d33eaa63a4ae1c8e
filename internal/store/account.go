package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tiffinworks/dabba/internal/model"
)

type ServiceAccountStore struct {
	db *sql.DB
}

func NewServiceAccountStore(db *sql.DB) *ServiceAccountStore {
	return &ServiceAccountStore{db: db}
}

func scanServiceAccount(scanner interface{ Scan(...any) error }) (*model.ServiceAccount, error) {
	var a model.ServiceAccount
	var trialEnd, startDate, endDate, pauseStart, pauseEnd string
	var isTrial, beforeSent, afterSent, skipWeekends int
	err := scanner.Scan(
		&a.ID, &a.MerchantID, &a.CustomerName, &a.PhoneNumber, &a.MealType,
		&a.MonthlyAmount, &a.Status, &a.DeactivationReason, &isTrial, &trialEnd,
		&a.PaidDays, &a.DeliveredDays, &startDate, &endDate,
		&pauseStart, &pauseEnd, &a.AccumulatedPauseDays, &a.PaymentStatus,
		&beforeSent, &afterSent, &skipWeekends, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.IsTrial = isTrial != 0
	a.TrialEndDate = parseDay(trialEnd)
	a.StartDate = parseDay(startDate)
	a.EndDate = parseDay(endDate)
	a.PauseStart = parseDay(pauseStart)
	a.PauseEnd = parseDay(pauseEnd)
	a.ReminderBeforeSent = beforeSent != 0
	a.ReminderAfterSent = afterSent != 0
	a.SkipWeekends = skipWeekends != 0
	return &a, nil
}

const serviceAccountCols = `id, merchant_id, customer_name, phone_number, meal_type, monthly_amount, status, deactivation_reason, is_trial, trial_end_date, paid_days, delivered_days, start_date, end_date, pause_start, pause_end, accumulated_pause_days, payment_status, reminder_before_sent, reminder_after_sent, skip_weekends, created_at, updated_at`

// Same column list qualified with the service_accounts alias for joins.
const qualifiedAccountCols = `a.id, a.merchant_id, a.customer_name, a.phone_number, a.meal_type, a.monthly_amount, a.status, a.deactivation_reason, a.is_trial, a.trial_end_date, a.paid_days, a.delivered_days, a.start_date, a.end_date, a.pause_start, a.pause_end, a.accumulated_pause_days, a.payment_status, a.reminder_before_sent, a.reminder_after_sent, a.skip_weekends, a.created_at, a.updated_at`

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *ServiceAccountStore) Create(a *model.ServiceAccount) (*model.ServiceAccount, error) {
	result, err := s.db.Exec(
		`INSERT INTO service_accounts
		 (merchant_id, customer_name, phone_number, meal_type, monthly_amount, status,
		  is_trial, trial_end_date, paid_days, start_date, end_date, payment_status, skip_weekends)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.MerchantID, a.CustomerName, a.PhoneNumber, a.MealType, a.MonthlyAmount, a.Status,
		boolInt(a.IsTrial), dayString(a.TrialEndDate), a.PaidDays,
		dayString(a.StartDate), dayString(a.EndDate), a.PaymentStatus, boolInt(a.SkipWeekends),
	)
	if err != nil {
		return nil, fmt.Errorf("insert service account: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *ServiceAccountStore) GetByID(id int64) (*model.ServiceAccount, error) {
	row := s.db.QueryRow(`SELECT `+serviceAccountCols+` FROM service_accounts WHERE id = ?`, id)
	a, err := scanServiceAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get service account: %w", err)
	}
	return a, nil
}

// GetByMerchant is the tenant-scoped point lookup: it only returns the
// account when it belongs to the given merchant.
func (s *ServiceAccountStore) GetByMerchant(merchantID, id int64) (*model.ServiceAccount, error) {
	row := s.db.QueryRow(
		`SELECT `+serviceAccountCols+` FROM service_accounts WHERE id = ? AND merchant_id = ?`,
		id, merchantID,
	)
	a, err := scanServiceAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get service account by merchant: %w", err)
	}
	return a, nil
}

func (s *ServiceAccountStore) GetByPhone(phone string) (*model.ServiceAccount, error) {
	row := s.db.QueryRow(
		`SELECT `+serviceAccountCols+` FROM service_accounts
		 WHERE phone_number = ? AND status != ? ORDER BY created_at DESC LIMIT 1`,
		phone, model.AccountDeleted,
	)
	a, err := scanServiceAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get service account by phone: %w", err)
	}
	return a, nil
}

func (s *ServiceAccountStore) queryAccounts(query string, args ...any) ([]model.ServiceAccount, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.ServiceAccount
	for rows.Next() {
		a, err := scanServiceAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (s *ServiceAccountStore) ListByMerchant(merchantID int64) ([]model.ServiceAccount, error) {
	accounts, err := s.queryAccounts(
		`SELECT `+serviceAccountCols+` FROM service_accounts
		 WHERE merchant_id = ? AND status != ? ORDER BY created_at`,
		merchantID, model.AccountDeleted,
	)
	if err != nil {
		return nil, fmt.Errorf("list accounts by merchant: %w", err)
	}
	return accounts, nil
}

// ListRenewalDue returns active accounts of payment-verified merchants whose
// service ends exactly on endDate and that have not been reminded yet.
func (s *ServiceAccountStore) ListRenewalDue(endDate time.Time) ([]model.ServiceAccount, error) {
	accounts, err := s.queryAccounts(
		`SELECT `+qualifiedAccountCols+` FROM service_accounts a
		 JOIN merchants m ON m.id = a.merchant_id AND m.payments_verified = 1
		 WHERE a.end_date = ? AND a.reminder_before_sent = 0 AND a.status = ?`,
		dayString(endDate), model.AccountActive,
	)
	if err != nil {
		return nil, fmt.Errorf("list renewal-due accounts: %w", err)
	}
	return accounts, nil
}

// ListOverdue returns active accounts of payment-verified merchants whose
// service ended exactly on endDate and that have not had the overdue
// reminder yet.
func (s *ServiceAccountStore) ListOverdue(endDate time.Time) ([]model.ServiceAccount, error) {
	accounts, err := s.queryAccounts(
		`SELECT `+qualifiedAccountCols+` FROM service_accounts a
		 JOIN merchants m ON m.id = a.merchant_id AND m.payments_verified = 1
		 WHERE a.end_date = ? AND a.reminder_after_sent = 0 AND a.status = ?`,
		dayString(endDate), model.AccountActive,
	)
	if err != nil {
		return nil, fmt.Errorf("list overdue accounts: %w", err)
	}
	return accounts, nil
}

// ListExpiredTrials returns still-active trial accounts whose trial ended
// before the given day.
func (s *ServiceAccountStore) ListExpiredTrials(day time.Time) ([]model.ServiceAccount, error) {
	accounts, err := s.queryAccounts(
		`SELECT `+serviceAccountCols+` FROM service_accounts
		 WHERE is_trial = 1 AND trial_end_date != '' AND trial_end_date < ? AND status = ?`,
		dayString(day), model.AccountActive,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired trials: %w", err)
	}
	return accounts, nil
}

func (s *ServiceAccountStore) ListActive() ([]model.ServiceAccount, error) {
	accounts, err := s.queryAccounts(
		`SELECT `+serviceAccountCols+` FROM service_accounts WHERE status = ?`,
		model.AccountActive,
	)
	if err != nil {
		return nil, fmt.Errorf("list active accounts: %w", err)
	}
	return accounts, nil
}

func (s *ServiceAccountStore) UpdateStatus(id int64, status, reason string) error {
	_, err := s.db.Exec(
		`UPDATE service_accounts SET status = ?, deactivation_reason = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, reason, id,
	)
	if err != nil {
		return fmt.Errorf("update account status: %w", err)
	}
	return nil
}

func (s *ServiceAccountStore) SetPaymentStatus(id int64, paymentStatus string) error {
	_, err := s.db.Exec(
		`UPDATE service_accounts SET payment_status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		paymentStatus, id,
	)
	if err != nil {
		return fmt.Errorf("set account payment status: %w", err)
	}
	return nil
}

// ApplyRegistration absolutely sets the fields of a paid registration.
// Status is untouched: the account stays pending_verification until the
// merchant approves it.
func (s *ServiceAccountStore) ApplyRegistration(id int64, startDate, endDate time.Time, paidDays int) error {
	_, err := s.db.Exec(
		`UPDATE service_accounts
		 SET payment_status = ?, start_date = ?, end_date = ?, paid_days = ?, delivered_days = 0,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		model.PaymentPaid, dayString(startDate), dayString(endDate), paidDays, id,
	)
	if err != nil {
		return fmt.Errorf("apply registration: %w", err)
	}
	return nil
}

// ApplyRenewal reactivates the account: new end date, fresh day counters,
// reminder flags re-armed for the next cycle.
func (s *ServiceAccountStore) ApplyRenewal(id int64, endDate time.Time, paidDays int) error {
	_, err := s.db.Exec(
		`UPDATE service_accounts
		 SET status = ?, deactivation_reason = '', payment_status = ?, end_date = ?,
		     paid_days = ?, delivered_days = 0, reminder_before_sent = 0, reminder_after_sent = 0,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		model.AccountActive, model.PaymentPaid, dayString(endDate), paidDays, id,
	)
	if err != nil {
		return fmt.Errorf("apply renewal: %w", err)
	}
	return nil
}

func (s *ServiceAccountStore) SetTrial(id int64, isTrial bool) error {
	_, err := s.db.Exec(
		`UPDATE service_accounts SET is_trial = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		boolInt(isTrial), id,
	)
	if err != nil {
		return fmt.Errorf("set account trial flag: %w", err)
	}
	return nil
}

func (s *ServiceAccountStore) SetReminderBeforeSent(id int64) error {
	_, err := s.db.Exec(
		`UPDATE service_accounts SET reminder_before_sent = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id,
	)
	if err != nil {
		return fmt.Errorf("set reminder before sent: %w", err)
	}
	return nil
}

func (s *ServiceAccountStore) SetReminderAfterSent(id int64) error {
	_, err := s.db.Exec(
		`UPDATE service_accounts SET reminder_after_sent = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id,
	)
	if err != nil {
		return fmt.Errorf("set reminder after sent: %w", err)
	}
	return nil
}

// UpdatePauseWindow persists an accepted pause: the window itself, the
// monotonically accumulated total, and the shifted end date.
func (s *ServiceAccountStore) UpdatePauseWindow(id int64, pauseStart, pauseEnd time.Time, accumulated int, endDate time.Time) error {
	_, err := s.db.Exec(
		`UPDATE service_accounts
		 SET pause_start = ?, pause_end = ?, accumulated_pause_days = ?, end_date = ?,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		dayString(pauseStart), dayString(pauseEnd), accumulated, dayString(endDate), id,
	)
	if err != nil {
		return fmt.Errorf("update pause window: %w", err)
	}
	return nil
}

func (s *ServiceAccountStore) UpdateEndDate(id int64, endDate time.Time) error {
	_, err := s.db.Exec(
		`UPDATE service_accounts SET end_date = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		dayString(endDate), id,
	)
	if err != nil {
		return fmt.Errorf("update account end date: %w", err)
	}
	return nil
}

// SetServiceWindow sets the start and end dates without touching counters.
func (s *ServiceAccountStore) SetServiceWindow(id int64, startDate, endDate time.Time) error {
	_, err := s.db.Exec(
		`UPDATE service_accounts SET start_date = ?, end_date = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		dayString(startDate), dayString(endDate), id,
	)
	if err != nil {
		return fmt.Errorf("set service window: %w", err)
	}
	return nil
}

// MarkDelivered increments the delivered-day counter.
func (s *ServiceAccountStore) MarkDelivered(id int64) error {
	_, err := s.db.Exec(
		`UPDATE service_accounts SET delivered_days = delivered_days + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id,
	)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

func (s *ServiceAccountStore) AddPauseEntry(accountID int64, start, end time.Time, days int) error {
	_, err := s.db.Exec(
		`INSERT INTO pause_history (account_id, start_date, end_date, days) VALUES (?, ?, ?, ?)`,
		accountID, dayString(start), dayString(end), days,
	)
	if err != nil {
		return fmt.Errorf("insert pause entry: %w", err)
	}
	return nil
}

func (s *ServiceAccountStore) ListPauseHistory(accountID int64) ([]model.PauseEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, account_id, start_date, end_date, days, created_at
		 FROM pause_history WHERE account_id = ? ORDER BY created_at`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("list pause history: %w", err)
	}
	defer rows.Close()

	var entries []model.PauseEntry
	for rows.Next() {
		var e model.PauseEntry
		var start, end string
		if err := rows.Scan(&e.ID, &e.AccountID, &start, &end, &e.Days, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pause entry: %w", err)
		}
		e.Start = parseDay(start)
		e.End = parseDay(end)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

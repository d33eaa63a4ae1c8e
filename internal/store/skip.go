package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/tiffinworks/dabba/internal/model"
)

type SkipStore struct {
	db *sql.DB
}

func NewSkipStore(db *sql.DB) *SkipStore {
	return &SkipStore{db: db}
}

func scanSkip(scanner interface{ Scan(...any) error }) (*model.SkipRecord, error) {
	var r model.SkipRecord
	var skipDate string
	var applied int
	err := scanner.Scan(&r.ID, &r.AccountID, &skipDate, &r.MealType, &r.Status, &applied, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.SkipDate = parseDay(skipDate)
	r.CarryForwardApplied = applied != 0
	return &r, nil
}

const skipCols = `id, account_id, skip_date, meal_type, status, carry_forward_applied, created_at`

func (s *SkipStore) Create(accountID int64, skipDate time.Time, mealType string) (*model.SkipRecord, error) {
	result, err := s.db.Exec(
		`INSERT INTO skip_records (account_id, skip_date, meal_type) VALUES (?, ?, ?)`,
		accountID, dayString(skipDate), mealType,
	)
	if err != nil {
		return nil, fmt.Errorf("insert skip record: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *SkipStore) GetByID(id int64) (*model.SkipRecord, error) {
	row := s.db.QueryRow(`SELECT `+skipCols+` FROM skip_records WHERE id = ?`, id)
	r, err := scanSkip(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get skip record: %w", err)
	}
	return r, nil
}

func (s *SkipStore) querySkips(query string, args ...any) ([]model.SkipRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.SkipRecord
	for rows.Next() {
		r, err := scanSkip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan skip record: %w", err)
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// ListActiveByAccount returns the account's active skips, the calendar
// consulted by delivery and end-date computation. Cancelled skips and skips
// whose date has already elapsed (status applied) are excluded.
func (s *SkipStore) ListActiveByAccount(accountID int64) ([]model.SkipRecord, error) {
	records, err := s.querySkips(
		`SELECT `+skipCols+` FROM skip_records WHERE account_id = ? AND status = ?`,
		accountID, model.SkipActive,
	)
	if err != nil {
		return nil, fmt.Errorf("list active skips: %w", err)
	}
	return records, nil
}

// ListUnappliedInMonth returns applied skips within the month that have not
// been converted to carry-forward credit yet.
func (s *SkipStore) ListUnappliedInMonth(accountID int64, month time.Time) ([]model.SkipRecord, error) {
	first := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	next := first.AddDate(0, 1, 0)
	records, err := s.querySkips(
		`SELECT `+skipCols+` FROM skip_records
		 WHERE account_id = ? AND carry_forward_applied = 0 AND status = ?
		   AND skip_date >= ? AND skip_date < ?`,
		accountID, model.SkipApplied, dayString(first), dayString(next),
	)
	if err != nil {
		return nil, fmt.Errorf("list unapplied skips: %w", err)
	}
	return records, nil
}

// MarkElapsedApplied transitions every active skip whose date has passed to
// applied, making it visible to the carry-forward conversion. before is
// exclusive: a skip dated today stays active until tomorrow's run.
func (s *SkipStore) MarkElapsedApplied(before time.Time) error {
	_, err := s.db.Exec(
		`UPDATE skip_records SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE status = ? AND skip_date < ?`,
		model.SkipApplied, model.SkipActive, dayString(before),
	)
	if err != nil {
		return fmt.Errorf("mark elapsed skips applied: %w", err)
	}
	return nil
}

func (s *SkipStore) UpdateStatus(id int64, status string) error {
	_, err := s.db.Exec(
		`UPDATE skip_records SET status = ? WHERE id = ?`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("update skip status: %w", err)
	}
	return nil
}

// MarkCarryForwardApplied flips the one-shot conversion flag for a batch of
// skip ids. Already-flipped rows are left untouched.
func (s *SkipStore) MarkCarryForwardApplied(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.Exec(
		`UPDATE skip_records SET carry_forward_applied = 1 WHERE id IN (`+placeholders+`) AND carry_forward_applied = 0`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("mark carry forward applied: %w", err)
	}
	return nil
}

// Package tenant enforces per-merchant ownership and write discipline for
// the entities the lifecycle engine stores. Entity kinds form a closed,
// compile-time-enumerated registry resolved once at startup; every update
// is validated against a per-entity field whitelist before any SQL is
// attempted, so unknown fields are rejected deterministically instead of
// being tolerated by the storage layer.
package tenant

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/tiffinworks/dabba/internal/fault"
)

// Kind names one registered entity.
type Kind string

const (
	KindServiceAccount Kind = "service_account"
	KindSkipRecord     Kind = "skip_record"
	KindPaymentSession Kind = "payment_session"
)

// Entry describes how one entity kind is owned and which of its fields a
// merchant may write directly. OwnerColumn is the direct merchant FK; kinds
// owned through a parent set ParentTable/ParentFK instead.
type Entry struct {
	Table       string
	OwnerColumn string
	ParentTable string
	ParentFK    string
	SoftDelete  bool
	Writable    map[string]bool
}

// Registry is the closed kind table. Build it once with NewRegistry and pass
// it where needed; there is no mutable package-level state.
type Registry struct {
	db      *sql.DB
	entries map[Kind]Entry
}

func NewRegistry(db *sql.DB) *Registry {
	return &Registry{
		db: db,
		entries: map[Kind]Entry{
			KindServiceAccount: {
				Table:       "service_accounts",
				OwnerColumn: "merchant_id",
				SoftDelete:  true,
				Writable: map[string]bool{
					"customer_name":  true,
					"phone_number":   true,
					"meal_type":      true,
					"monthly_amount": true,
					"skip_weekends":  true,
				},
			},
			KindSkipRecord: {
				Table:       "skip_records",
				ParentTable: "service_accounts",
				ParentFK:    "account_id",
				Writable: map[string]bool{
					"status": true,
				},
			},
			KindPaymentSession: {
				Table:       "payment_sessions",
				OwnerColumn: "merchant_id",
				// Sessions are written only by the tracker and the
				// reconciler, never by direct merchant updates.
				Writable: map[string]bool{},
			},
		},
	}
}

func (r *Registry) entry(kind Kind) (Entry, error) {
	e, ok := r.entries[kind]
	if !ok {
		return Entry{}, fault.Validationf("unknown entity kind %q", kind)
	}
	return e, nil
}

// ownerClause returns the WHERE fragment restricting a row of this kind to
// its owning merchant. The fragment expects (id, merchantID) args.
func (e Entry) ownerClause() string {
	if e.OwnerColumn != "" {
		clause := fmt.Sprintf(`id = ? AND %s = ?`, e.OwnerColumn)
		if e.SoftDelete {
			clause += ` AND status != 'deleted'`
		}
		return clause
	}
	return fmt.Sprintf(
		`id = ? AND %s IN (SELECT id FROM %s WHERE merchant_id = ?)`,
		e.ParentFK, e.ParentTable,
	)
}

// OwnedExists reports whether the entity exists and belongs to the merchant.
func (r *Registry) OwnedExists(kind Kind, merchantID, id int64) (bool, error) {
	e, err := r.entry(kind)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE %s`, e.Table, e.ownerClause())
	var one int
	err = r.db.QueryRow(query, id, merchantID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check ownership: %w", err)
	}
	return true, nil
}

// UpdateFields applies a whitelisted field update to an owned entity.
// Unknown fields fail with a ValidationError naming them; nothing is written
// in that case. A missing or foreign entity fails with NotFoundError.
func (r *Registry) UpdateFields(kind Kind, merchantID, id int64, fields map[string]any) error {
	e, err := r.entry(kind)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return fault.Validationf("no fields to update")
	}

	var unknown []string
	for name := range fields {
		if !e.Writable[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fault.Validationf("fields not writable for %s: %s", kind, strings.Join(unknown, ", "))
	}

	ok, err := r.OwnedExists(kind, merchantID, id)
	if err != nil {
		return err
	}
	if !ok {
		return fault.NotFound(string(kind), fmt.Sprintf("%d", id))
	}

	// Deterministic column order keeps the statement stable.
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var sets []string
	var args []any
	for _, name := range names {
		sets = append(sets, name+" = ?")
		args = append(args, fields[name])
	}
	args = append(args, id, merchantID)

	query := fmt.Sprintf(
		`UPDATE %s SET %s, updated_at = CURRENT_TIMESTAMP WHERE %s`,
		e.Table, strings.Join(sets, ", "), e.ownerClause(),
	)
	if _, err := r.db.Exec(query, args...); err != nil {
		return fmt.Errorf("update %s fields: %w", kind, err)
	}
	return nil
}

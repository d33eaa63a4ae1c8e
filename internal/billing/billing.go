// Package billing is the subscription lifecycle engine: the payment session
// tracker, the webhook reconciler, the reminder scheduler, and the manual
// pause/resume/renew actions. All mutations are per-entity read-modify-write
// with no cross-entity transaction; durable state is committed before any
// best-effort notification.
package billing

import (
	"database/sql"
	"time"
)

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

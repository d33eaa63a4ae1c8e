package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tiffinworks/dabba/internal/dayaccount"
	"github.com/tiffinworks/dabba/internal/fault"
	"github.com/tiffinworks/dabba/internal/model"
	"github.com/tiffinworks/dabba/internal/notify"
	"github.com/tiffinworks/dabba/internal/store"
)

// Lifecycle holds the manual account actions a merchant (or an inbound
// customer message) can trigger: approval, rejection, pause, resume, skip,
// and on-demand renewal. Every account access is scoped to the owning
// merchant.
type Lifecycle struct {
	merchants *store.MerchantStore
	accounts  *store.ServiceAccountStore
	skips     *store.SkipStore
	tracker   *SessionTracker
	notifier  notify.Notifier
	logger    *slog.Logger
	now       func() time.Time
}

func NewLifecycle(
	merchants *store.MerchantStore,
	accounts *store.ServiceAccountStore,
	skips *store.SkipStore,
	tracker *SessionTracker,
	notifier notify.Notifier,
	logger *slog.Logger,
) *Lifecycle {
	return &Lifecycle{
		merchants: merchants,
		accounts:  accounts,
		skips:     skips,
		tracker:   tracker,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}
}

func (l *Lifecycle) ownedAccount(merchantID, accountID int64) (*model.ServiceAccount, error) {
	account, err := l.accounts.GetByMerchant(merchantID, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil || account.Status == model.AccountDeleted {
		return nil, fault.NotFound("service account", fmt.Sprintf("%d", accountID))
	}
	return account, nil
}

// Approve activates a pending self-registration. A missing service window
// is filled in from today.
func (l *Lifecycle) Approve(ctx context.Context, merchantID, accountID int64) error {
	account, err := l.ownedAccount(merchantID, accountID)
	if err != nil {
		return err
	}
	if account.Status != model.AccountPendingVerification {
		return fault.Validationf("account is %s, only pending_verification can be approved", account.Status)
	}

	if account.StartDate.IsZero() && account.PaidDays > 0 {
		start := dayaccount.DateOf(l.now())
		skips, err := l.skips.ListActiveByAccount(account.ID)
		if err != nil {
			return err
		}
		end := dayaccount.ComputeEndDate(start, account.PaidDays, dayaccount.NewSkipCalendar(skips), account.SkipWeekends)
		if err := l.accounts.SetServiceWindow(account.ID, start, end); err != nil {
			return err
		}
	}
	if err := l.accounts.UpdateStatus(account.ID, model.AccountActive, ""); err != nil {
		return err
	}

	l.send(ctx, account.PhoneNumber, notify.Message{
		Template:  "account_approved",
		Variables: map[string]string{"customer": account.CustomerName},
	})
	l.logger.Info("account approved", "account_id", account.ID, "merchant_id", merchantID)
	return nil
}

func (l *Lifecycle) Reject(ctx context.Context, merchantID, accountID int64) error {
	account, err := l.ownedAccount(merchantID, accountID)
	if err != nil {
		return err
	}
	if account.Status != model.AccountPendingVerification {
		return fault.Validationf("account is %s, only pending_verification can be rejected", account.Status)
	}
	if err := l.accounts.UpdateStatus(account.ID, model.AccountRejected, ""); err != nil {
		return err
	}
	l.logger.Info("account rejected", "account_id", account.ID, "merchant_id", merchantID)
	return nil
}

// Pause applies a pause window: the end date shifts forward by exactly the
// window length, once, and the window lands in pause history.
func (l *Lifecycle) Pause(ctx context.Context, merchantID, accountID int64, pauseStart, pauseEnd time.Time) error {
	account, err := l.ownedAccount(merchantID, accountID)
	if err != nil {
		return err
	}

	today := dayaccount.DateOf(l.now())
	days, err := dayaccount.RecordPause(account, pauseStart, pauseEnd, today)
	if err != nil {
		return err
	}

	if err := l.accounts.UpdatePauseWindow(account.ID, account.PauseStart, account.PauseEnd, account.AccumulatedPauseDays, account.EndDate); err != nil {
		return err
	}
	if err := l.accounts.AddPauseEntry(account.ID, account.PauseStart, account.PauseEnd, days); err != nil {
		return err
	}
	if account.PauseStart.Equal(today) {
		if err := l.accounts.UpdateStatus(account.ID, model.AccountPaused, ""); err != nil {
			return err
		}
	}

	l.send(ctx, account.PhoneNumber, notify.Message{
		Template: "pause_confirmed",
		Variables: map[string]string{
			"customer": account.CustomerName,
			"from":     account.PauseStart.Format("2006-01-02"),
			"to":       account.PauseEnd.Format("2006-01-02"),
		},
	})
	l.logger.Info("pause recorded", "account_id", account.ID, "days", days)
	return nil
}

// Resume closes an open pause window at today. The end-date shift from the
// original pause stays as granted.
func (l *Lifecycle) Resume(ctx context.Context, merchantID, accountID int64) error {
	account, err := l.ownedAccount(merchantID, accountID)
	if err != nil {
		return err
	}
	today := dayaccount.DateOf(l.now())
	if account.PauseStart.IsZero() || !account.PauseEnd.After(today) {
		return fault.Validationf("account has no active pause window")
	}

	// The window is half-open, so closing it at today makes today the first
	// delivery day again.
	end := today
	if end.Before(account.PauseStart) {
		// Window never started blocking days; collapse it entirely.
		end = account.PauseStart
	}
	if err := l.accounts.UpdatePauseWindow(account.ID, account.PauseStart, end, account.AccumulatedPauseDays, account.EndDate); err != nil {
		return err
	}
	if account.Status == model.AccountPaused {
		if err := l.accounts.UpdateStatus(account.ID, model.AccountActive, ""); err != nil {
			return err
		}
	}

	l.send(ctx, account.PhoneNumber, notify.Message{
		Template:  "resume_confirmed",
		Variables: map[string]string{"customer": account.CustomerName},
	})
	l.logger.Info("pause resumed early", "account_id", account.ID)
	return nil
}

// RenewNow opens a renewal checkout on demand and returns the URL.
func (l *Lifecycle) RenewNow(ctx context.Context, merchantID, accountID int64) (string, error) {
	account, err := l.ownedAccount(merchantID, accountID)
	if err != nil {
		return "", err
	}
	merchant, err := l.merchants.GetByID(merchantID)
	if err != nil {
		return "", err
	}
	if merchant == nil {
		return "", fault.NotFound("merchant", fmt.Sprintf("%d", merchantID))
	}

	_, url, err := l.tracker.Open(ctx, account, merchant, account.MonthlyAmount, model.PurposeRenewal)
	if err != nil {
		return "", err
	}
	return url, nil
}

// SkipDate records one skipped meal date for an account.
func (l *Lifecycle) SkipDate(ctx context.Context, accountID int64, date time.Time, mealType string) (*model.SkipRecord, error) {
	day := dayaccount.DateOf(date)
	if day.Before(dayaccount.DateOf(l.now())) {
		return nil, fault.Validationf("cannot skip a past date")
	}
	record, err := l.skips.Create(accountID, day, mealType)
	if err != nil {
		return nil, err
	}
	l.logger.Info("skip recorded", "account_id", accountID, "date", day)
	return record, nil
}

// RecordDelivery counts one delivered day after checking the account is
// deliverable on the date. Exhausting the prepaid days deactivates the
// account.
func (l *Lifecycle) RecordDelivery(ctx context.Context, merchantID, accountID int64, date time.Time) (dayaccount.Reason, error) {
	account, err := l.ownedAccount(merchantID, accountID)
	if err != nil {
		return "", err
	}
	skips, err := l.skips.ListActiveByAccount(account.ID)
	if err != nil {
		return "", err
	}

	ok, reason := dayaccount.ShouldDeliverToday(account, dayaccount.NewSkipCalendar(skips), date)
	if !ok {
		return reason, fault.Validationf("not deliverable: %s", reason)
	}

	if err := l.accounts.MarkDelivered(account.ID); err != nil {
		return "", err
	}
	if account.DeliveredDays+1 >= account.PaidDays {
		if err := l.accounts.UpdateStatus(account.ID, model.AccountInactive, model.ReasonCompleted); err != nil {
			return "", err
		}
		l.logger.Info("account completed prepaid days", "account_id", account.ID)
	}
	return dayaccount.ReasonDeliver, nil
}

func (l *Lifecycle) send(ctx context.Context, to string, msg notify.Message) {
	if to == "" {
		return
	}
	if result := l.notifier.Send(ctx, to, msg); !result.Success {
		l.logger.Warn("notification failed", "to", to, "template", msg.Template, "reason", result.Reason)
	}
}

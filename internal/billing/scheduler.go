package billing

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/tiffinworks/dabba/internal/dayaccount"
	"github.com/tiffinworks/dabba/internal/model"
	"github.com/tiffinworks/dabba/internal/notify"
	"github.com/tiffinworks/dabba/internal/store"
)

// reminderLeadDays is the distance between a reminder and the end date, on
// both sides: upcoming reminders fire 3 days before, overdue 3 days after.
const reminderLeadDays = 3

// Scheduler runs the periodic sweeps: renewal reminders, overdue
// deactivation, trial expiry, the one-time platform renewal notice, and the
// monthly carry-forward conversion. An external trigger invokes each pass
// once per UTC day; every pass is safe to re-invoke because already-flagged
// accounts are filtered out at the query. A failure touching one account is
// logged and the pass continues.
type Scheduler struct {
	merchants *store.MerchantStore
	accounts  *store.ServiceAccountStore
	skips     *store.SkipStore
	tracker   *SessionTracker
	notifier  notify.Notifier
	logger    *slog.Logger
	now       func() time.Time
}

func NewScheduler(
	merchants *store.MerchantStore,
	accounts *store.ServiceAccountStore,
	skips *store.SkipStore,
	tracker *SessionTracker,
	notifier notify.Notifier,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		merchants: merchants,
		accounts:  accounts,
		skips:     skips,
		tracker:   tracker,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}
}

// RunUpcomingPass reminds accounts ending in exactly three days: one renewal
// session, one message with the link, one flag flip. The flag makes the pass
// a no-op for the same account on the same cycle.
func (s *Scheduler) RunUpcomingPass(ctx context.Context) {
	today := dayaccount.DateOf(s.now())
	due, err := s.accounts.ListRenewalDue(today.AddDate(0, 0, reminderLeadDays))
	if err != nil {
		s.logger.Error("upcoming pass: list due accounts", "error", err)
		return
	}

	for i := range due {
		account := &due[i]
		merchant, err := s.merchants.GetByID(account.MerchantID)
		if err != nil || merchant == nil {
			s.logger.Error("upcoming pass: merchant lookup", "error", err, "merchant_id", account.MerchantID)
			continue
		}

		_, url, err := s.tracker.Open(ctx, account, merchant, account.MonthlyAmount, model.PurposeRenewal)
		if err != nil {
			s.logger.Error("upcoming pass: open renewal session", "error", err, "account_id", account.ID)
			continue
		}
		if err := s.accounts.SetReminderBeforeSent(account.ID); err != nil {
			s.logger.Error("upcoming pass: set reminder flag", "error", err, "account_id", account.ID)
			continue
		}

		s.send(ctx, account.PhoneNumber, notify.Message{
			Template: "renewal_reminder",
			Variables: map[string]string{
				"customer":     account.CustomerName,
				"end_date":     account.EndDate.Format("2006-01-02"),
				"checkout_url": url,
			},
		})
		s.logger.Info("renewal reminder sent", "account_id", account.ID)
	}
}

// RunOverduePass deactivates accounts three days past their end date that
// never paid: an overdue session is opened, the account goes inactive for
// non-payment, and the after-reminder flag prevents a second sweep.
func (s *Scheduler) RunOverduePass(ctx context.Context) {
	today := dayaccount.DateOf(s.now())
	due, err := s.accounts.ListOverdue(today.AddDate(0, 0, -reminderLeadDays))
	if err != nil {
		s.logger.Error("overdue pass: list overdue accounts", "error", err)
		return
	}

	for i := range due {
		account := &due[i]
		merchant, err := s.merchants.GetByID(account.MerchantID)
		if err != nil || merchant == nil {
			s.logger.Error("overdue pass: merchant lookup", "error", err, "merchant_id", account.MerchantID)
			continue
		}

		_, url, err := s.tracker.Open(ctx, account, merchant, account.MonthlyAmount, model.PurposeOverdue)
		if err != nil {
			s.logger.Error("overdue pass: open overdue session", "error", err, "account_id", account.ID)
			continue
		}

		if err := s.accounts.UpdateStatus(account.ID, model.AccountInactive, model.ReasonNonPayment); err != nil {
			s.logger.Error("overdue pass: deactivate account", "error", err, "account_id", account.ID)
			continue
		}
		if err := s.accounts.SetPaymentStatus(account.ID, model.PaymentOverdue); err != nil {
			s.logger.Error("overdue pass: set payment status", "error", err, "account_id", account.ID)
		}
		if err := s.accounts.SetReminderAfterSent(account.ID); err != nil {
			s.logger.Error("overdue pass: set reminder flag", "error", err, "account_id", account.ID)
		}

		s.send(ctx, account.PhoneNumber, notify.Message{
			Template: "overdue_notice",
			Variables: map[string]string{
				"customer":     account.CustomerName,
				"checkout_url": url,
			},
		})
		s.logger.Info("overdue account deactivated", "account_id", account.ID)
	}
}

// RunTrialExpiryPass deactivates active trial accounts past their trial end
// and offers a paid conversion. The status change itself keeps the pass from
// picking the account up again.
func (s *Scheduler) RunTrialExpiryPass(ctx context.Context) {
	today := dayaccount.DateOf(s.now())
	expired, err := s.accounts.ListExpiredTrials(today)
	if err != nil {
		s.logger.Error("trial pass: list expired trials", "error", err)
		return
	}

	for i := range expired {
		account := &expired[i]
		if err := s.accounts.UpdateStatus(account.ID, model.AccountInactive, model.ReasonTrialExpired); err != nil {
			s.logger.Error("trial pass: deactivate account", "error", err, "account_id", account.ID)
			continue
		}

		vars := map[string]string{"customer": account.CustomerName}
		merchant, err := s.merchants.GetByID(account.MerchantID)
		if err == nil && merchant != nil {
			if _, url, err := s.tracker.Open(ctx, account, merchant, account.MonthlyAmount, model.PurposeTrialConversion); err == nil {
				vars["checkout_url"] = url
			} else {
				s.logger.Warn("trial pass: conversion session unavailable", "error", err, "account_id", account.ID)
			}
		}

		s.send(ctx, account.PhoneNumber, notify.Message{Template: "trial_expired", Variables: vars})
		s.logger.Info("trial expired", "account_id", account.ID)
	}
}

// RunPlatformRenewalPass emails merchants whose platform billing period ends
// within the lead window, once per cycle.
func (s *Scheduler) RunPlatformRenewalPass(ctx context.Context) {
	cutoff := s.now().UTC().AddDate(0, 0, reminderLeadDays)
	due, err := s.merchants.ListRenewalNoticeDue(nullTime(&cutoff))
	if err != nil {
		s.logger.Error("platform renewal pass: list merchants", "error", err)
		return
	}

	for i := range due {
		merchant := &due[i]
		s.send(ctx, merchant.Email, notify.Message{
			Template: "platform_renewal",
			Variables: map[string]string{
				"business":   merchant.BusinessName,
				"period_end": merchant.CurrentPeriodEnd.Format("2006-01-02"),
			},
		})
		if err := s.merchants.SetRenewalNoticeSent(merchant.ID); err != nil {
			s.logger.Error("platform renewal pass: set notice flag", "error", err, "merchant_id", merchant.ID)
		}
	}
}

// RunCarryForwardSweep converts the given month's unconverted skips into
// extended service days for every active account of a payment-verified
// merchant. Elapsed skips are first moved from active to applied, then the
// month's applied records convert. Records are flagged before the end date
// moves, so a re-run can never double-extend.
func (s *Scheduler) RunCarryForwardSweep(ctx context.Context, month time.Time) {
	if err := s.skips.MarkElapsedApplied(dayaccount.DateOf(s.now())); err != nil {
		s.logger.Error("carry-forward sweep: mark elapsed skips", "error", err)
		return
	}

	verified, err := s.merchants.ListPaymentVerified()
	if err != nil {
		s.logger.Error("carry-forward sweep: list merchants", "error", err)
		return
	}
	verifiedIDs := make(map[int64]bool, len(verified))
	for i := range verified {
		verifiedIDs[verified[i].ID] = true
	}

	active, err := s.accounts.ListActive()
	if err != nil {
		s.logger.Error("carry-forward sweep: list accounts", "error", err)
		return
	}

	for i := range active {
		account := &active[i]
		if !verifiedIDs[account.MerchantID] {
			continue
		}
		skips, err := s.skips.ListUnappliedInMonth(account.ID, month)
		if err != nil {
			s.logger.Error("carry-forward sweep: list skips", "error", err, "account_id", account.ID)
			continue
		}
		if len(skips) == 0 {
			continue
		}

		result := dayaccount.ApplyCarryForward(account, skips)
		if len(result.ProcessedIDs) == 0 {
			continue
		}
		if err := s.skips.MarkCarryForwardApplied(result.ProcessedIDs); err != nil {
			s.logger.Error("carry-forward sweep: mark skips", "error", err, "account_id", account.ID)
			continue
		}
		if result.DaysAdded > 0 {
			if err := s.accounts.UpdateEndDate(account.ID, account.EndDate); err != nil {
				s.logger.Error("carry-forward sweep: update end date", "error", err, "account_id", account.ID)
				continue
			}
		}

		s.send(ctx, account.PhoneNumber, notify.Message{
			Template: "carry_forward_applied",
			Variables: map[string]string{
				"customer":   account.CustomerName,
				"days_added": strconv.Itoa(result.DaysAdded),
			},
		})
		s.logger.Info("carry-forward applied",
			"account_id", account.ID, "days_added", result.DaysAdded, "leftover", result.LeftoverCredits)
	}
}

func (s *Scheduler) send(ctx context.Context, to string, msg notify.Message) {
	if to == "" {
		return
	}
	if result := s.notifier.Send(ctx, to, msg); !result.Success {
		s.logger.Warn("notification failed", "to", to, "template", msg.Template, "reason", result.Reason)
	}
}

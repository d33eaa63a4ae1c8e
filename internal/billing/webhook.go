package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/tiffinworks/dabba/internal/dayaccount"
	"github.com/tiffinworks/dabba/internal/model"
	"github.com/tiffinworks/dabba/internal/notify"
	"github.com/tiffinworks/dabba/internal/store"
)

// Reconciler applies signature-verified gateway events to merchant and
// service-account state. Events arrive at least once and possibly out of
// order; every event id is recorded in the ledger before any mutation, so a
// redelivered event is dropped instead of double-granting a billing period.
// A referenced entity that no longer exists is skipped silently (logged):
// events may point at deleted records.
type Reconciler struct {
	merchants *store.MerchantStore
	accounts  *store.ServiceAccountStore
	sessions  *store.PaymentSessionStore
	billing   *store.BillingRecordStore
	skips     *store.SkipStore
	events    *store.WebhookEventStore
	notifier  notify.Notifier
	logger    *slog.Logger
	now       func() time.Time
}

func NewReconciler(
	merchants *store.MerchantStore,
	accounts *store.ServiceAccountStore,
	sessions *store.PaymentSessionStore,
	billing *store.BillingRecordStore,
	skips *store.SkipStore,
	events *store.WebhookEventStore,
	notifier notify.Notifier,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		merchants: merchants,
		accounts:  accounts,
		sessions:  sessions,
		billing:   billing,
		skips:     skips,
		events:    events,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}
}

// Process applies one verified event. Errors are for the caller's log only:
// the transport has already answered the gateway by the time they surface.
func (r *Reconciler) Process(ctx context.Context, event stripe.Event) error {
	first, err := r.events.MarkProcessed(event.ID, string(event.Type))
	if err != nil {
		return err
	}
	if !first {
		r.logger.Info("duplicate webhook event dropped", "event_id", event.ID, "type", event.Type)
		return nil
	}

	switch event.Type {
	case "checkout.session.completed":
		return r.handleCheckoutCompleted(ctx, event)
	case "checkout.session.expired":
		return r.handleCheckoutExpired(event)
	case "invoice.paid":
		return r.handleInvoicePaid(ctx, event)
	case "invoice.payment_failed":
		return r.handleInvoiceFailed(ctx, event)
	case "customer.subscription.updated":
		return r.handleSubscriptionUpdated(event)
	case "customer.subscription.deleted":
		return r.handleSubscriptionDeleted(event)
	}
	return nil
}

func (r *Reconciler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("unmarshal checkout session: %w", err)
	}

	// The session record transitions first; pending -> paid is absolute.
	row, err := r.sessions.GetByGatewayID(sess.ID)
	if err != nil {
		r.logger.Error("lookup session by gateway id", "error", err, "gateway_session_id", sess.ID)
	} else if row != nil {
		if err := r.sessions.MarkPaid(row.ID, r.now()); err != nil {
			r.logger.Error("mark session paid", "error", err, "session_id", row.ID)
		}
	}

	purpose := sess.Metadata["purpose"]
	switch purpose {
	case model.PurposeRegistration:
		return r.applyRegistration(ctx, sess)
	case model.PurposeOneTimeOrder:
		return r.applyOneTimeOrder(ctx, sess)
	case model.PurposeRenewal, model.PurposeTrialConversion, model.PurposeOverdue:
		return r.applyExtension(ctx, sess.Metadata["account_id"], purpose)
	case model.PurposePlatform:
		return r.applyPlatformCheckout(sess)
	default:
		// Legacy sessions carry a bare account reference and no purpose.
		if sess.Metadata["account_id"] != "" {
			return r.applyExtension(ctx, sess.Metadata["account_id"], model.PurposeRenewal)
		}
		r.logger.Warn("checkout completed with unknown purpose", "purpose", purpose, "event_id", event.ID)
		return nil
	}
}

// handleCheckoutExpired retires the session row for a checkout the customer
// never paid, so the next open issues a fresh link.
func (r *Reconciler) handleCheckoutExpired(event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("unmarshal checkout session: %w", err)
	}

	row, err := r.sessions.GetByGatewayID(sess.ID)
	if err != nil {
		return err
	}
	if row == nil {
		r.logger.Info("expired checkout for unknown session, skipping", "gateway_session_id", sess.ID)
		return nil
	}
	if err := r.sessions.MarkExpired(row.ID); err != nil {
		return err
	}
	r.logger.Info("payment session expired", "session_id", row.ID)
	return nil
}

// applyRegistration sets the absolute fields of a paid registration. The
// account stays pending_verification until the merchant approves it.
func (r *Reconciler) applyRegistration(ctx context.Context, sess stripe.CheckoutSession) error {
	account := r.lookupAccount(sess.Metadata["account_id"])
	if account == nil {
		return nil
	}

	start := dayaccount.DateOf(r.now())
	skips, err := r.skips.ListActiveByAccount(account.ID)
	if err != nil {
		return err
	}
	end := dayaccount.ComputeEndDate(start, model.BillingPeriodDays, dayaccount.NewSkipCalendar(skips), account.SkipWeekends)
	if err := r.accounts.ApplyRegistration(account.ID, start, end, model.BillingPeriodDays); err != nil {
		return err
	}

	r.notify(ctx, account.PhoneNumber, notify.Message{
		Template: "registration_paid",
		Variables: map[string]string{
			"customer": account.CustomerName,
			"end_date": end.Format("2006-01-02"),
		},
	})
	r.logger.Info("registration payment applied", "account_id", account.ID, "end_date", end)
	return nil
}

func (r *Reconciler) applyOneTimeOrder(ctx context.Context, sess stripe.CheckoutSession) error {
	account := r.lookupAccount(sess.Metadata["account_id"])
	if account == nil {
		return nil
	}

	vars := map[string]string{"customer": account.CustomerName}
	r.notify(ctx, account.PhoneNumber, notify.Message{Template: "order_paid", Variables: vars})
	if sess.Metadata["owner_email"] != "" {
		r.notify(ctx, sess.Metadata["owner_email"], notify.Message{Template: "order_paid_merchant", Variables: vars})
	}
	r.logger.Info("one-time order paid", "account_id", account.ID)
	return nil
}

// applyExtension grants one billing period from max(existing end date, now)
// and reactivates the account. trial_conversion additionally ends the trial.
func (r *Reconciler) applyExtension(ctx context.Context, accountRef, purpose string) error {
	account := r.lookupAccount(accountRef)
	if account == nil {
		return nil
	}

	base := dayaccount.DateOf(r.now())
	if account.EndDate.After(base) {
		base = account.EndDate
	}
	newEnd := base.AddDate(0, 0, model.BillingPeriodDays)

	if err := r.accounts.ApplyRenewal(account.ID, newEnd, model.BillingPeriodDays); err != nil {
		return err
	}
	if purpose == model.PurposeTrialConversion && account.IsTrial {
		if err := r.accounts.SetTrial(account.ID, false); err != nil {
			return err
		}
	}

	r.notify(ctx, account.PhoneNumber, notify.Message{
		Template: "subscription_renewed",
		Variables: map[string]string{
			"customer": account.CustomerName,
			"end_date": newEnd.Format("2006-01-02"),
		},
	})
	r.logger.Info("subscription extended", "account_id", account.ID, "purpose", purpose, "end_date", newEnd)
	return nil
}

func (r *Reconciler) applyPlatformCheckout(sess stripe.CheckoutSession) error {
	merchant := r.lookupMerchantByRef(sess.Metadata["merchant_id"], sess.Metadata["owner_email"])
	if merchant == nil {
		return nil
	}
	if merchant.SubscriptionSource == model.SourceAdmin {
		r.logger.Info("admin-sourced merchant frozen from webhook transition", "merchant_id", merchant.ID)
		return nil
	}

	customerID := ""
	if sess.Customer != nil {
		customerID = sess.Customer.ID
	}
	subID := ""
	if sess.Subscription != nil {
		subID = sess.Subscription.ID
	}

	if err := r.merchants.UpdateGatewayIDs(merchant.ID, customerID, subID); err != nil {
		return err
	}
	if err := r.merchants.UpdateSubscriptionState(merchant.ID, model.MerchantActive); err != nil {
		return err
	}
	if err := r.merchants.UpdatePlan(merchant.ID, model.PlanPremium, model.SourceGateway); err != nil {
		return err
	}
	if err := r.billing.Upsert(merchant.ID, subID, model.PlanPremium, model.MerchantActive, nullTime(nil)); err != nil {
		return err
	}

	r.logger.Info("platform subscription activated", "merchant_id", merchant.ID)
	return nil
}

func (r *Reconciler) handleInvoicePaid(ctx context.Context, event stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("unmarshal invoice: %w", err)
	}

	subID := subscriptionIDFromInvoice(inv)
	if subID == "" {
		return nil
	}

	// A subscription owned by a merchant means platform billing; anything
	// else is a customer-purpose invoice resolved through its metadata.
	merchant, err := r.merchantForInvoice(inv, subID)
	if err != nil {
		return err
	}
	if merchant != nil {
		if merchant.SubscriptionSource == model.SourceAdmin {
			r.logger.Info("admin-sourced merchant frozen from webhook transition", "merchant_id", merchant.ID)
			return nil
		}
		periodEnd := time.Unix(inv.PeriodEnd, 0).UTC()
		if err := r.merchants.UpdatePeriodEnd(merchant.ID, nullTime(&periodEnd)); err != nil {
			return err
		}
		if err := r.merchants.UpdateSubscriptionState(merchant.ID, model.MerchantActive); err != nil {
			return err
		}
		if err := r.billing.Upsert(merchant.ID, subID, merchant.PlanType, model.MerchantActive, nullTime(&periodEnd)); err != nil {
			return err
		}
		r.logger.Info("platform invoice paid", "merchant_id", merchant.ID, "period_end", periodEnd)
		return nil
	}

	if ref := invoiceAccountRef(inv); ref != "" {
		return r.applyExtension(ctx, ref, model.PurposeRenewal)
	}
	r.logger.Info("invoice paid for unknown subscription, skipping", "subscription_id", subID)
	return nil
}

func (r *Reconciler) handleInvoiceFailed(ctx context.Context, event stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("unmarshal invoice: %w", err)
	}

	subID := subscriptionIDFromInvoice(inv)
	if subID == "" {
		return nil
	}

	merchant, err := r.merchantForInvoice(inv, subID)
	if err != nil {
		return err
	}
	if merchant != nil {
		if merchant.SubscriptionSource == model.SourceAdmin {
			r.logger.Info("admin-sourced merchant frozen from webhook transition", "merchant_id", merchant.ID)
			return nil
		}
		if err := r.merchants.UpdateSubscriptionState(merchant.ID, model.MerchantPastDue); err != nil {
			return err
		}
		if err := r.billing.UpdateStatus(merchant.ID, model.MerchantPastDue); err != nil {
			return err
		}
		r.logger.Info("platform invoice failed", "merchant_id", merchant.ID)
		return nil
	}

	account := r.lookupAccount(invoiceAccountRef(inv))
	if account == nil {
		return nil
	}
	if err := r.accounts.SetPaymentStatus(account.ID, model.PaymentOverdue); err != nil {
		return err
	}
	if err := r.accounts.UpdateStatus(account.ID, model.AccountInactive, model.ReasonNonPayment); err != nil {
		return err
	}
	r.notify(ctx, account.PhoneNumber, notify.Message{
		Template:  "payment_failed",
		Variables: map[string]string{"customer": account.CustomerName},
	})
	r.logger.Info("customer invoice failed, account deactivated", "account_id", account.ID)
	return nil
}

func (r *Reconciler) handleSubscriptionUpdated(event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}

	merchant, err := r.merchants.GetByGatewaySubscriptionID(sub.ID)
	if err != nil || merchant == nil {
		if err != nil {
			return err
		}
		r.logger.Info("subscription updated for unknown merchant, skipping", "subscription_id", sub.ID)
		return nil
	}
	if merchant.SubscriptionSource == model.SourceAdmin {
		r.logger.Info("admin-sourced merchant frozen from webhook transition", "merchant_id", merchant.ID)
		return nil
	}

	state := merchantStateFromGateway(sub.Status)
	if err := r.merchants.UpdateSubscriptionState(merchant.ID, state); err != nil {
		return err
	}
	if err := r.billing.Upsert(merchant.ID, sub.ID, merchant.PlanType, state, nullTime(merchant.CurrentPeriodEnd)); err != nil {
		return err
	}
	r.logger.Info("platform subscription mirrored", "merchant_id", merchant.ID, "state", state)
	return nil
}

func (r *Reconciler) handleSubscriptionDeleted(event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}

	merchant, err := r.merchants.GetByGatewaySubscriptionID(sub.ID)
	if err != nil || merchant == nil {
		if err != nil {
			return err
		}
		r.logger.Info("subscription deleted for unknown merchant, skipping", "subscription_id", sub.ID)
		return nil
	}
	if merchant.SubscriptionSource == model.SourceAdmin {
		r.logger.Info("admin-sourced merchant frozen from webhook transition", "merchant_id", merchant.ID)
		return nil
	}

	if err := r.merchants.UpdateSubscriptionState(merchant.ID, model.MerchantCancelled); err != nil {
		return err
	}
	if err := r.merchants.UpdatePlan(merchant.ID, model.PlanNone, merchant.SubscriptionSource); err != nil {
		return err
	}
	if err := r.billing.UpdateStatus(merchant.ID, model.MerchantCancelled); err != nil {
		return err
	}
	r.logger.Info("platform subscription cancelled", "merchant_id", merchant.ID)
	return nil
}

// lookupAccount resolves a metadata account reference, returning nil (after
// logging) when the reference is absent, malformed, or points nowhere.
func (r *Reconciler) lookupAccount(ref string) *model.ServiceAccount {
	if ref == "" {
		r.logger.Warn("webhook event missing account reference")
		return nil
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		r.logger.Warn("webhook event with malformed account reference", "ref", ref)
		return nil
	}
	account, err := r.accounts.GetByID(id)
	if err != nil {
		r.logger.Error("lookup account", "error", err, "account_id", id)
		return nil
	}
	if account == nil || account.Status == model.AccountDeleted {
		r.logger.Info("webhook event references missing account, skipping", "account_id", id)
		return nil
	}
	return account
}

// merchantForInvoice resolves the merchant behind a platform invoice, first
// by subscription id, then by the gateway customer when the subscription has
// not been recorded yet (invoice events can arrive before the checkout one).
func (r *Reconciler) merchantForInvoice(inv stripe.Invoice, subID string) (*model.Merchant, error) {
	if subID != "" {
		m, err := r.merchants.GetByGatewaySubscriptionID(subID)
		if err != nil || m != nil {
			return m, err
		}
	}
	if inv.Customer != nil && inv.Customer.ID != "" {
		return r.merchants.GetByGatewayCustomerID(inv.Customer.ID)
	}
	return nil, nil
}

func (r *Reconciler) lookupMerchantByRef(idRef, email string) *model.Merchant {
	if idRef != "" {
		if id, err := strconv.ParseInt(idRef, 10, 64); err == nil {
			if m, err := r.merchants.GetByID(id); err == nil && m != nil {
				return m
			}
		}
	}
	if email != "" {
		if m, err := r.merchants.GetByEmail(email); err == nil && m != nil {
			return m
		}
	}
	r.logger.Info("webhook event references missing merchant, skipping", "merchant_ref", idRef, "email", email)
	return nil
}

// notify is best-effort: the preceding state change is already durable.
func (r *Reconciler) notify(ctx context.Context, to string, msg notify.Message) {
	if to == "" {
		return
	}
	if result := r.notifier.Send(ctx, to, msg); !result.Success {
		r.logger.Warn("notification failed", "to", to, "template", msg.Template, "reason", result.Reason)
	}
}

func subscriptionIDFromInvoice(inv stripe.Invoice) string {
	if inv.Parent != nil &&
		inv.Parent.SubscriptionDetails != nil &&
		inv.Parent.SubscriptionDetails.Subscription != nil {
		return inv.Parent.SubscriptionDetails.Subscription.ID
	}
	return ""
}

func invoiceAccountRef(inv stripe.Invoice) string {
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		return inv.Parent.SubscriptionDetails.Metadata["account_id"]
	}
	return ""
}

func merchantStateFromGateway(status stripe.SubscriptionStatus) string {
	switch status {
	case stripe.SubscriptionStatusActive:
		return model.MerchantActive
	case stripe.SubscriptionStatusTrialing:
		return model.MerchantTrial
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return model.MerchantPastDue
	case stripe.SubscriptionStatusCanceled:
		return model.MerchantCancelled
	case stripe.SubscriptionStatusIncompleteExpired:
		return model.MerchantExpired
	default:
		return model.MerchantActive
	}
}

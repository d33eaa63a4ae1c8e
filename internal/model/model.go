package model

import "time"

// Merchant subscription states for the platform billing plan.
const (
	MerchantTrial     = "trial"
	MerchantActive    = "active"
	MerchantPastDue   = "past_due"
	MerchantCancelled = "cancelled"
	MerchantExpired   = "expired"
)

// Platform plan types.
const (
	PlanNone    = "none"
	PlanTrial   = "trial"
	PlanBasic   = "basic"
	PlanPremium = "premium"
)

// Where a merchant's platform subscription came from. Admin-sourced
// merchants are frozen from automatic webhook-driven transitions.
const (
	SourceTrial   = "trial"
	SourceGateway = "gateway"
	SourceAdmin   = "admin"
)

// Service account statuses.
const (
	AccountPendingVerification = "pending_verification"
	AccountActive              = "active"
	AccountPaused              = "paused"
	AccountInactive            = "inactive"
	AccountRejected            = "rejected"
	AccountDeleted             = "deleted"
)

// Service account payment statuses.
const (
	PaymentTrial   = "Trial"
	PaymentPending = "Pending"
	PaymentPaid    = "Paid"
	PaymentOverdue = "Overdue"
)

// Deactivation reasons.
const (
	ReasonNonPayment   = "non_payment"
	ReasonTrialExpired = "trial_expired"
	ReasonCompleted    = "completed"
)

// Skip record statuses.
const (
	SkipActive    = "active"
	SkipApplied   = "applied"
	SkipCancelled = "cancelled"
)

// Payment session statuses.
const (
	SessionPending = "pending"
	SessionPaid    = "paid"
	SessionExpired = "expired"
)

// Payment session purposes. PurposePlatform marks a merchant's own
// platform-plan checkout rather than an end-customer payment.
const (
	PurposeRegistration    = "registration"
	PurposeRenewal         = "renewal"
	PurposeTrialConversion = "trial_conversion"
	PurposeOneTimeOrder    = "one_time_order"
	PurposeOverdue         = "overdue"
	PurposePlatform        = "platform_subscription"
)

// BillingPeriodDays is one customer billing period: the number of paid
// service days granted by a renewal payment.
const BillingPeriodDays = 30

type Merchant struct {
	ID                    int64      `json:"id"`
	Email                 string     `json:"email"`
	BusinessName          string     `json:"business_name"`
	SubscriptionState     string     `json:"subscription_state"`
	PlanType              string     `json:"plan_type"`
	SubscriptionSource    string     `json:"subscription_source"`
	TrialEndsAt           *time.Time `json:"trial_ends_at"`
	CurrentPeriodEnd      *time.Time `json:"current_period_end"`
	GatewayCustomerID     *string    `json:"gateway_customer_id"`
	GatewaySubscriptionID *string    `json:"gateway_subscription_id"`
	FeePercentage         float64    `json:"fee_percentage"`
	PaymentsVerified      bool       `json:"payments_verified"`
	RenewalNoticeSent     bool       `json:"renewal_notice_sent"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// ServiceAccount is one merchant's end-customer subscription record.
// Day-valued fields (StartDate, EndDate, pause window) are calendar dates
// at UTC midnight; zero means unset.
type ServiceAccount struct {
	ID                   int64     `json:"id"`
	MerchantID           int64     `json:"merchant_id"`
	CustomerName         string    `json:"customer_name"`
	PhoneNumber          string    `json:"phone_number"`
	MealType             string    `json:"meal_type"`
	MonthlyAmount        int64     `json:"monthly_amount"`
	Status               string    `json:"status"`
	DeactivationReason   string    `json:"deactivation_reason"`
	IsTrial              bool      `json:"is_trial"`
	TrialEndDate         time.Time `json:"trial_end_date"`
	PaidDays             int       `json:"paid_days"`
	DeliveredDays        int       `json:"delivered_days"`
	StartDate            time.Time `json:"start_date"`
	EndDate              time.Time `json:"end_date"`
	PauseStart           time.Time `json:"pause_start"`
	PauseEnd             time.Time `json:"pause_end"`
	AccumulatedPauseDays int       `json:"accumulated_pause_days"`
	PaymentStatus        string    `json:"payment_status"`
	ReminderBeforeSent   bool      `json:"reminder_before_sent"`
	ReminderAfterSent    bool      `json:"reminder_after_sent"`
	SkipWeekends         bool      `json:"skip_weekends"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// DaysRemaining reports prepaid days not yet consumed by delivery.
func (a *ServiceAccount) DaysRemaining() int {
	if a.DeliveredDays >= a.PaidDays {
		return 0
	}
	return a.PaidDays - a.DeliveredDays
}

type PauseEntry struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"account_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Days      int       `json:"days"`
	CreatedAt time.Time `json:"created_at"`
}

type SkipRecord struct {
	ID                  int64     `json:"id"`
	AccountID           int64     `json:"account_id"`
	SkipDate            time.Time `json:"skip_date"`
	MealType            string    `json:"meal_type"`
	Status              string    `json:"status"`
	CarryForwardApplied bool      `json:"carry_forward_applied"`
	CreatedAt           time.Time `json:"created_at"`
}

type PaymentSession struct {
	ID                int64      `json:"id"`
	Reference         string     `json:"reference"`
	AccountID         *int64     `json:"account_id"`
	MerchantID        int64      `json:"merchant_id"`
	Purpose           string     `json:"purpose"`
	Amount            int64      `json:"amount"`
	Currency          string     `json:"currency"`
	GatewaySessionID  *string    `json:"gateway_session_id"`
	CheckoutURL       string     `json:"checkout_url"`
	Status            string     `json:"status"`
	ExpiresAt         time.Time  `json:"expires_at"`
	PlatformFeeAmount int64      `json:"platform_fee_amount"`
	NetAmount         int64      `json:"net_amount"`
	PaidAt            *time.Time `json:"paid_at"`
	CreatedAt         time.Time  `json:"created_at"`
}

// BillingRecord mirrors a merchant's gateway-side platform subscription.
type BillingRecord struct {
	ID                    int64      `json:"id"`
	MerchantID            int64      `json:"merchant_id"`
	GatewaySubscriptionID string     `json:"gateway_subscription_id"`
	PlanType              string     `json:"plan_type"`
	Status                string     `json:"status"`
	CurrentPeriodEnd      *time.Time `json:"current_period_end"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// WebhookEvent is one row of the processed-event ledger used to suppress
// at-least-once gateway redelivery.
type WebhookEvent struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	ProcessedAt time.Time `json:"processed_at"`
}

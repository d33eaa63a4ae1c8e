// Package gateway wraps the Stripe API surface the lifecycle engine needs:
// hosted checkout sessions, webhook signature verification, and
// subscription/invoice retrieval.
package gateway

import (
	"context"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	checksession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

type Config struct {
	SecretKey       string
	WebhookSecret   string
	PremiumPriceID  string
	SuccessURL      string
	CancelURL       string
	DefaultCurrency string
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	stripe.Key = cfg.SecretKey
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "inr"
	}
	return &Client{cfg: cfg}
}

// CheckoutParams describes one customer payment session. Amount and
// ApplicationFee are in whole currency units; Stripe wants minor units.
type CheckoutParams struct {
	Amount         int64
	Currency       string
	ApplicationFee int64
	Description    string
	CustomerEmail  string
	Purpose        string
	AccountID      string
	OwnerEmail     string
	ExpiresAt      time.Time
}

type CheckoutSession struct {
	ID  string
	URL string
}

// CreateCheckoutSession opens a hosted one-time-payment checkout carrying
// the purpose and account reference in metadata, with the platform fee
// attached to the payment intent.
func (c *Client) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	currency := p.Currency
	if currency == "" {
		currency = c.cfg.DefaultCurrency
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currency),
					UnitAmount: stripe.Int64(p.Amount * 100),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(p.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(c.cfg.SuccessURL),
		CancelURL:  stripe.String(c.cfg.CancelURL),
	}
	if p.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(p.CustomerEmail)
	}
	if p.ApplicationFee > 0 {
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
			ApplicationFeeAmount: stripe.Int64(p.ApplicationFee * 100),
		}
	}
	if !p.ExpiresAt.IsZero() {
		params.ExpiresAt = stripe.Int64(p.ExpiresAt.Unix())
	}
	params.Context = ctx
	params.AddMetadata("purpose", p.Purpose)
	params.AddMetadata("account_id", p.AccountID)
	params.AddMetadata("owner_email", p.OwnerEmail)

	sess, err := checksession.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// CreatePlatformCheckout opens a subscription-mode checkout for a merchant's
// platform plan.
func (c *Client) CreatePlatformCheckout(ctx context.Context, merchantEmail string, merchantID int64) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		CustomerEmail: stripe.String(merchantEmail),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(c.cfg.PremiumPriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(c.cfg.SuccessURL),
		CancelURL:  stripe.String(c.cfg.CancelURL),
	}
	params.Context = ctx
	params.AddMetadata("purpose", "platform_subscription")
	params.AddMetadata("merchant_id", fmt.Sprintf("%d", merchantID))
	params.AddMetadata("owner_email", merchantEmail)

	sess, err := checksession.New(params)
	if err != nil {
		return nil, fmt.Errorf("create platform checkout: %w", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// CreateCustomer creates a Stripe customer and returns the customer ID.
func (c *Client) CreateCustomer(ctx context.Context, email string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	params.Context = ctx
	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return cust.ID, nil
}

// ConstructWebhookEvent verifies the signature and returns the parsed event.
func (c *Client) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, sigHeader, c.cfg.WebhookSecret)
}

// RetrieveSubscription fetches the gateway-side subscription state.
func (c *Client) RetrieveSubscription(id string) (*stripe.Subscription, error) {
	sub, err := subscription.Get(id, nil)
	if err != nil {
		return nil, fmt.Errorf("retrieve subscription: %w", err)
	}
	return sub, nil
}

// RetrieveInvoice fetches a gateway invoice.
func (c *Client) RetrieveInvoice(id string) (*stripe.Invoice, error) {
	inv, err := invoice.Get(id, nil)
	if err != nil {
		return nil, fmt.Errorf("retrieve invoice: %w", err)
	}
	return inv, nil
}

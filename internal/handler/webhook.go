package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	stripe "github.com/stripe/stripe-go/v82"
)

// EventVerifier checks a webhook payload's signature and parses the event.
type EventVerifier interface {
	ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error)
}

// EventProcessor applies one verified gateway event.
type EventProcessor interface {
	Process(ctx context.Context, event stripe.Event) error
}

type WebhookHandler struct {
	verifier   EventVerifier
	reconciler EventProcessor
	logger     *slog.Logger
}

func NewWebhookHandler(verifier EventVerifier, reconciler EventProcessor, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		verifier:   verifier,
		reconciler: reconciler,
		logger:     logger,
	}
}

// HandleGatewayWebhook verifies and applies one gateway event. A bad
// signature is rejected before any mutation. Once the signature passes, any
// processing error is logged and the event is still answered 200: accepted
// for processing is a weaker guarantee than processed, and it keeps the
// gateway from retrying forever against a persistent failure.
func (h *WebhookHandler) HandleGatewayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	event, err := h.verifier.ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	if err := h.reconciler.Process(r.Context(), event); err != nil {
		h.logger.Error("webhook processing failed", "event_id", event.ID, "type", event.Type, "error", err)
	}

	w.WriteHeader(http.StatusOK)
}

package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tiffinworks/dabba/internal/billing"
	"github.com/tiffinworks/dabba/internal/fault"
	"github.com/tiffinworks/dabba/internal/intent"
	"github.com/tiffinworks/dabba/internal/notify"
	"github.com/tiffinworks/dabba/internal/store"
)

// MessageHandler receives inbound customer text messages from the messaging
// provider and routes them by classified intent. The sender is matched to a
// service account by phone number; replies go back out through the notifier.
type MessageHandler struct {
	accounts  *store.ServiceAccountStore
	lifecycle *billing.Lifecycle
	notifier  notify.Notifier
	logger    *slog.Logger
	now       func() time.Time
}

func NewMessageHandler(accounts *store.ServiceAccountStore, lifecycle *billing.Lifecycle, notifier notify.Notifier, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{
		accounts:  accounts,
		lifecycle: lifecycle,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}
}

type inboundMessage struct {
	From string `json:"from"`
	Body string `json:"body"`
}

// HandleInbound always answers 200 with the classified intent and the reply
// text. Provider webhooks retry on non-2xx; a message we cannot act on is
// answered, not rejected.
func (h *MessageHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	var msg inboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if msg.From == "" {
		http.Error(w, "missing sender", http.StatusBadRequest)
		return
	}

	classified := intent.Classify(msg.Body)
	reply := h.route(r.Context(), msg, classified)

	h.send(r.Context(), msg.From, reply)
	writeJSON(w, http.StatusOK, map[string]any{
		"intent": classified,
		"reply":  reply,
	})
}

func (h *MessageHandler) route(ctx context.Context, msg inboundMessage, in intent.Intent) string {
	account, err := h.accounts.GetByPhone(msg.From)
	if err != nil {
		h.logger.Error("lookup account by phone", "error", err)
		return "Something went wrong on our side. Please try again shortly."
	}
	if account == nil {
		return "We could not find a tiffin account for this number. Please contact your provider."
	}

	switch in {
	case intent.IntentSkip:
		tomorrow := h.now().AddDate(0, 0, 1)
		if _, err := h.lifecycle.SkipDate(ctx, account.ID, tomorrow, account.MealType); err != nil {
			h.logger.Warn("skip via message failed", "account_id", account.ID, "error", err)
			return "We could not record the skip. Please contact your provider."
		}
		return fmt.Sprintf("Got it. Your meal on %s is skipped and the day is credited to your plan.", tomorrow.Format("02 Jan"))

	case intent.IntentBalance:
		days := account.DaysRemaining()
		if days == 1 {
			return "You have 1 prepaid day remaining."
		}
		return fmt.Sprintf("You have %d prepaid days remaining.", days)

	case intent.IntentRenew:
		url, err := h.lifecycle.RenewNow(ctx, account.MerchantID, account.ID)
		if err != nil {
			h.logger.Warn("renew via message failed", "account_id", account.ID, "error", err)
			return "We could not create a payment link right now. Please contact your provider."
		}
		return "Renew your tiffin plan here: " + url

	case intent.IntentPause:
		return "To pause your tiffin, please tell your provider the start and end dates, or use the app. Pauses can last up to 30 days."

	case intent.IntentResume:
		if err := h.lifecycle.Resume(ctx, account.MerchantID, account.ID); err != nil {
			if fault.IsValidation(err) {
				return "Your tiffin is not paused right now."
			}
			h.logger.Warn("resume via message failed", "account_id", account.ID, "error", err)
			return "We could not resume your tiffin. Please contact your provider."
		}
		return "Welcome back! Your tiffin deliveries resume from today."

	default:
		return "Sorry, I did not understand that. You can say SKIP, PAUSE, RESUME, BALANCE or RENEW."
	}
}

func (h *MessageHandler) send(ctx context.Context, to, body string) {
	if result := h.notifier.Send(ctx, to, notify.Message{Body: body}); !result.Success {
		h.logger.Warn("reply delivery failed", "to", to, "reason", result.Reason)
	}
}

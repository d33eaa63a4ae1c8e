package server

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/tiffinworks/dabba/internal/billing"
	"github.com/tiffinworks/dabba/internal/gateway"
	"github.com/tiffinworks/dabba/internal/handler"
	"github.com/tiffinworks/dabba/internal/middleware"
	"github.com/tiffinworks/dabba/internal/notify"
	"github.com/tiffinworks/dabba/internal/store"
	"github.com/tiffinworks/dabba/internal/tenant"
)

// Config carries everything the server wires at startup that is not the
// database handle itself.
type Config struct {
	Gateway   gateway.Config
	CronToken string
}

type Server struct {
	db          *sql.DB
	gw          *gateway.Client
	scheduler   *billing.Scheduler
	reconciler  *billing.Reconciler
	lifecycleH  *handler.LifecycleHandler
	merchantH   *handler.MerchantHandler
	webhookH    *handler.WebhookHandler
	messageH    *handler.MessageHandler
	rateLimiter *middleware.RateLimiter
	cronToken   string
	logger      *slog.Logger
}

func New(db *sql.DB, cfg Config, notifier notify.Notifier, logger *slog.Logger) *Server {
	merchantStore := store.NewMerchantStore(db)
	accountStore := store.NewServiceAccountStore(db)
	skipStore := store.NewSkipStore(db)
	sessionStore := store.NewPaymentSessionStore(db)
	billingStore := store.NewBillingRecordStore(db)
	eventStore := store.NewWebhookEventStore(db)
	registry := tenant.NewRegistry(db)

	gw := gateway.NewClient(cfg.Gateway)

	tracker := billing.NewSessionTracker(gw, sessionStore, logger.With("component", "sessions"))
	reconciler := billing.NewReconciler(merchantStore, accountStore, sessionStore, billingStore, skipStore, eventStore, notifier, logger.With("component", "reconciler"))
	scheduler := billing.NewScheduler(merchantStore, accountStore, skipStore, tracker, notifier, logger.With("component", "scheduler"))
	lifecycle := billing.NewLifecycle(merchantStore, accountStore, skipStore, tracker, notifier, logger.With("component", "lifecycle"))

	return &Server{
		db:          db,
		gw:          gw,
		scheduler:   scheduler,
		reconciler:  reconciler,
		lifecycleH:  handler.NewLifecycleHandler(accountStore, lifecycle, registry, logger.With("component", "accounts")),
		merchantH:   handler.NewMerchantHandler(merchantStore, billingStore, gw, logger.With("component", "merchant")),
		webhookH:    handler.NewWebhookHandler(gw, reconciler, logger.With("component", "webhook")),
		messageH:    handler.NewMessageHandler(accountStore, lifecycle, notifier, logger.With("component", "messages")),
		rateLimiter: middleware.NewRateLimiter(),
		cronToken:   cfg.CronToken,
		logger:      logger,
	}
}

// Scheduler exposes the pass runner for the fallback ticker in main.
func (s *Server) Scheduler() *billing.Scheduler {
	return s.scheduler
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes: gateway and provider webhooks authenticate by
	// signature or sender matching, not by merchant identity.
	outerMux.HandleFunc("POST /webhooks/stripe", s.rateLimitedHandler(s.webhookH.HandleGatewayWebhook, 120))
	outerMux.HandleFunc("POST /webhooks/messages", s.rateLimitedHandler(s.messageH.HandleInbound, 60))
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Scheduler trigger routes, guarded by a shared token.
	outerMux.HandleFunc("POST /internal/cron/upcoming", s.cronHandler(s.scheduler.RunUpcomingPass))
	outerMux.HandleFunc("POST /internal/cron/overdue", s.cronHandler(s.scheduler.RunOverduePass))
	outerMux.HandleFunc("POST /internal/cron/trials", s.cronHandler(s.scheduler.RunTrialExpiryPass))
	outerMux.HandleFunc("POST /internal/cron/platform-renewal", s.cronHandler(s.scheduler.RunPlatformRenewalPass))
	outerMux.HandleFunc("POST /internal/cron/carry-forward", s.carryForwardHandler)

	// Merchant routes behind the actor middleware.
	apiMux := http.NewServeMux()
	s.registerMerchantRoutes(apiMux)
	outerMux.Handle("/api/", middleware.RequireActor(apiMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) registerMerchantRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/merchant", s.merchantH.GetProfile)
	mux.HandleFunc("POST /api/merchant/subscribe", s.merchantH.Subscribe)
	mux.HandleFunc("POST /api/merchant/plan-override", s.merchantH.OverridePlan)

	mux.HandleFunc("POST /api/accounts", s.lifecycleH.CreateAccount)
	mux.HandleFunc("GET /api/accounts/{id}", s.lifecycleH.GetAccount)
	mux.HandleFunc("PATCH /api/accounts/{id}", s.lifecycleH.UpdateAccount)
	mux.HandleFunc("POST /api/accounts/{id}/approve", s.lifecycleH.Approve)
	mux.HandleFunc("POST /api/accounts/{id}/reject", s.lifecycleH.Reject)
	mux.HandleFunc("POST /api/accounts/{id}/pause", s.lifecycleH.Pause)
	mux.HandleFunc("POST /api/accounts/{id}/resume", s.lifecycleH.Resume)
	mux.HandleFunc("POST /api/accounts/{id}/renew", s.lifecycleH.Renew)
	mux.HandleFunc("POST /api/accounts/{id}/skips", s.lifecycleH.Skip)
	mux.HandleFunc("POST /api/accounts/{id}/deliveries", s.lifecycleH.RecordDelivery)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc, perMinute int) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, perMinute, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) authorizeCron(w http.ResponseWriter, r *http.Request) bool {
	token := r.Header.Get("X-Cron-Token")
	if s.cronToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.cronToken)) != 1 {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func (s *Server) cronHandler(pass func(ctx context.Context)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorizeCron(w, r) {
			return
		}
		pass(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}
}

// carryForwardHandler runs the monthly skip conversion. The month defaults
// to the previous calendar month; an explicit ?month=YYYY-MM overrides it.
func (s *Server) carryForwardHandler(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeCron(w, r) {
		return
	}
	month := time.Now().UTC().AddDate(0, -1, 0)
	if raw := r.URL.Query().Get("month"); raw != "" {
		parsed, err := time.Parse("2006-01", raw)
		if err != nil {
			http.Error(w, "invalid month, want YYYY-MM", http.StatusBadRequest)
			return
		}
		month = parsed
	}
	s.scheduler.RunCarryForwardSweep(r.Context(), month)
	w.WriteHeader(http.StatusAccepted)
}

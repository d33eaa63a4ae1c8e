package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tiffinworks/dabba/internal/database"
	"github.com/tiffinworks/dabba/internal/gateway"
	"github.com/tiffinworks/dabba/internal/logging"
	"github.com/tiffinworks/dabba/internal/notify"
	"github.com/tiffinworks/dabba/internal/server"
)

func main() {
	// Missing .env is fine in production; config comes from the environment.
	_ = godotenv.Load()

	logger := logging.Setup(os.Getenv("DABBA_LOG_LEVEL"))

	port := os.Getenv("DABBA_PORT")
	if port == "" {
		port = "8080"
	}

	dbPath := os.Getenv("DABBA_DB_PATH")
	if dbPath == "" {
		dbPath = "dabba.db"
	}

	baseURL := os.Getenv("DABBA_BASE_URL")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%s", port)
	}

	db, err := database.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	notifier := notify.NewClient(
		os.Getenv("DABBA_MESSAGING_API_KEY"),
		os.Getenv("DABBA_MESSAGING_SENDER"),
		os.Getenv("DABBA_MESSAGING_URL"),
	)
	if !notifier.Configured() {
		slog.Warn("messaging not configured, customer notifications disabled")
	}

	cfg := server.Config{
		Gateway: gateway.Config{
			SecretKey:       os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret:   os.Getenv("STRIPE_WEBHOOK_SECRET"),
			PremiumPriceID:  os.Getenv("STRIPE_PREMIUM_PRICE_ID"),
			SuccessURL:      baseURL + "/payment/success?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:       baseURL + "/payment/cancelled",
			DefaultCurrency: os.Getenv("DABBA_CURRENCY"),
		},
		CronToken: os.Getenv("DABBA_CRON_TOKEN"),
	}

	srv := server.New(db, cfg, notifier, logger)

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Fallback ticker: runs the daily passes even when no external cron
	// hits the trigger endpoints. Passes are re-invocation safe, so a
	// doubled trigger is harmless.
	passCtx, passCancel := context.WithCancel(context.Background())
	defer passCancel()
	go func() {
		ticker := time.NewTicker(6 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.Scheduler().RunUpcomingPass(passCtx)
				srv.Scheduler().RunOverduePass(passCtx)
				srv.Scheduler().RunTrialExpiryPass(passCtx)
				srv.Scheduler().RunPlatformRenewalPass(passCtx)
				srv.RateLimiter().Cleanup()
			case <-passCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("platform service starting", "addr", ":"+port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	passCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

// Package main runs the stor.chat API server.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/storchat/api/internal/config"
	"github.com/storchat/api/internal/database"
	"github.com/storchat/api/internal/httpapi"
	"github.com/storchat/api/internal/logging"
	"github.com/storchat/api/internal/metrics"
	"github.com/storchat/api/internal/middleware"
	"github.com/storchat/api/internal/notify"
	"github.com/storchat/api/internal/otp"
	"github.com/storchat/api/internal/pushtoken"
	"github.com/storchat/api/internal/woocommerce"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to YAML config (defaults to CONFIG_FILE)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Default().WithError(err).Fatal("failed to load config")
	}

	log := logging.New(httpapi.ServiceName, cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbClient, err := database.NewClient(database.Config{
		URL:        cfg.Supabase.URL,
		ServiceKey: cfg.Supabase.ServiceKey,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to create database client")
	}
	repo := database.NewRepository(dbClient)

	m := metrics.New("storchat")

	tokens := pushtoken.NewService(repo, log,
		pushtoken.WithTTL(cfg.Push.TokenTTL),
		pushtoken.WithMetrics(m),
	)
	sweeper := pushtoken.NewSweeper(tokens, cfg.Push.SweepSchedule, log)
	if err := sweeper.Start(ctx); err != nil {
		log.WithError(err).Fatal("failed to start push token sweeper")
	}

	var provider notify.Provider
	if cfg.Push.FCMCredentialsFile != "" {
		fcm, err := notify.NewFCM(ctx, cfg.Push.FCMCredentialsFile, log)
		if err != nil {
			log.WithError(err).Warn("fcm disabled")
		} else {
			provider = fcm
		}
	} else {
		log.Warn("FCM_CREDENTIALS_FILE not set; push sending disabled")
	}
	notifier := notify.NewNotifier(provider, tokens, log, m)

	var mailbox otp.Mailbox
	if cfg.OTPEnabled() {
		mb, err := otp.NewIMAPMailbox(otp.IMAPConfig{
			Addr:     cfg.OTP.IMAPAddr,
			Username: cfg.OTP.Username,
			Password: cfg.OTP.Password,
			Mailbox:  cfg.OTP.Mailbox,
		})
		if err != nil {
			log.WithError(err).Warn("otp helper disabled")
		} else {
			mailbox = mb
		}
	}

	limiter, closeLimiter := newLimiter(ctx, cfg, log)
	defer closeLimiter()

	if cfg.Auth.JWTSecret == "" {
		log.Warn("SUPABASE_JWT_SECRET not set; /api/save-messages will reject every request")
	}

	api := httpapi.New(httpapi.Deps{
		Repo:         repo,
		PushTokens:   tokens,
		Notifier:     notifier,
		WooCommerce:  woocommerce.NewClient(cfg.WooCommerce.Timeout),
		OTP:          otp.NewHelper(mailbox),
		Auth:         middleware.NewAuthMiddleware([]byte(cfg.Auth.JWTSecret), log, nil),
		SharedSecret: cfg.OTP.SharedSecret,
		Limiter:      limiter,
		CORS:         middleware.NewCORSMiddleware(cfg.CORS.AllowedOrigins),
		Metrics:      m,
		Logger:       log,
		Version:      version,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown error")
	}
	if err := sweeper.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("sweeper stop error")
	}
	cancel()

	log.Info("server stopped")
}

// newLimiter prefers the shared Redis limiter and falls back to an in-process
// one when REDIS_URL is unset or unusable. Both admit RequestsPerSecond per
// second; Burst only applies to the in-process token bucket.
func newLimiter(ctx context.Context, cfg *config.Config, log *logging.Logger) (middleware.Limiter, func()) {
	if cfg.RateLimit.RedisURL != "" {
		rl, err := middleware.NewRedisRateLimiter(cfg.RateLimit.RedisURL, cfg.RateLimit.RequestsPerSecond, time.Second)
		if err == nil {
			return rl, func() { _ = rl.Close() }
		}
		log.WithError(err).Warn("redis rate limiter unavailable; using in-process limiter")
	}
	rl := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
	rl.StartCleanup(ctx, 5*time.Minute)
	return rl, func() {}
}

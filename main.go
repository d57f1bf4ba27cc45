package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/impactmarket/server/auth"
	"github.com/impactmarket/server/config"
	impactDB "github.com/impactmarket/server/db"
	"github.com/impactmarket/server/events"
	"github.com/impactmarket/server/handlers"
	"github.com/impactmarket/server/payments"
	"github.com/impactmarket/server/provider"
	"github.com/impactmarket/server/ratelimit"
	"github.com/impactmarket/server/receipts"
)

var Version = "dev"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("File .env not found!")
	}

	rootCmd := &cobra.Command{
		Use:     "impactmarket",
		Short:   "ImpactMarket payment confirmation service",
		Version: Version,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func migrateCmd() *cobra.Command {
	var down int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}

			logger := log.New(os.Stdout, "[migrate] ", log.LstdFlags)
			if down > 0 {
				return impactDB.RollbackMigrations(cfg.DatabaseURL, down, logger)
			}
			return impactDB.RunMigrations(cfg.DatabaseURL, logger)
		},
	}

	cmd.Flags().IntVar(&down, "down", 0, "roll back this many migrations instead of applying")

	return cmd
}

func serve(parent context.Context, cfg config.Config) error {
	logger := log.New(os.Stdout, "[impactmarket] ", log.LstdFlags|log.Lmicroseconds)

	for _, w := range cfg.Warnings() {
		logger.Printf("warning: %s", w)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RunMigrations {
		if err := impactDB.RunMigrations(cfg.DatabaseURL, logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	db, err := impactDB.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var store ratelimit.Store = ratelimit.NewMemoryStore()
	if cfg.RateLimitStore == config.RateLimitStorePostgres {
		pool, err := ratelimit.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open rate limit pool: %w", err)
		}
		defer pool.Close()
		store = ratelimit.NewPostgresStore(pool)
	}
	limiter := ratelimit.New(store,
		ratelimit.WithCooldown(cfg.RateLimitCooldown),
		ratelimit.WithRetention(cfg.RateLimitRetention),
		ratelimit.WithSweepChance(cfg.RateLimitSweepChance),
		ratelimit.WithLogger(logger),
	)

	var notifiers []handlers.Notifier
	if cfg.RabbitMQURL != "" {
		publisher, conn, err := events.Dial(cfg.RabbitMQURL, cfg.EventsExchange)
		if err != nil {
			return err
		}
		defer conn.Close()
		notifiers = append(notifiers, publisher)
		logger.Printf("publishing payment events to %s", cfg.EventsExchange)
	}
	if cfg.MailgunAPIKey != "" {
		notifiers = append(notifiers, receipts.NewMailer(receipts.Config{
			Domain:   cfg.MailgunDomain,
			APIKey:   cfg.MailgunAPIKey,
			Sender:   cfg.MailgunSender,
			Template: cfg.MailgunTemplate,
			APIBase:  cfg.MailgunAPIBase,
		}))
		logger.Printf("sending receipts through %s", cfg.MailgunDomain)
	}

	stripe := provider.NewStripe(provider.StripeConfig{
		SecretKey:          cfg.StripeSecretKey,
		WebhookSecret:      cfg.StripeWebhookKey,
		SuccessURL:         cfg.SuccessURL,
		CancelURL:          cfg.CancelURL,
		PaymentMethodTypes: cfg.PaymentMethodTypes,
	})

	h := handlers.New(payments.NewPostgresRepository(db), stripe, logger, notifiers...)
	router := handlers.NewRouter(handlers.Deps{
		Handler:           h,
		Limiter:           limiter,
		Verifier:          auth.NewVerifier(cfg.SupabaseJWTSecret),
		AllowedOrigins:    cfg.CORSAllowedOrigins,
		Logger:            logger,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Printf("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown error: %v", err)
	}
	logger.Printf("shutdown complete")
	return nil
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultFrontendURL = "http://localhost:5173"

	RateLimitStoreMemory   = "memory"
	RateLimitStorePostgres = "postgres"
)

type Config struct {
	HTTPAddr string

	StripeSecretKey    string
	StripeWebhookKey   string
	PaymentMethodTypes []string
	FrontendURL        string
	SuccessURL         string
	CancelURL          string

	DatabaseURL   string
	RunMigrations bool

	SupabaseJWTSecret string

	// CORS
	CORSAllowedOrigins []string
	TrustProxyHeaders  bool

	RateLimitCooldown    time.Duration
	RateLimitRetention   time.Duration
	RateLimitSweepChance float64
	RateLimitStore       string

	RabbitMQURL    string
	EventsExchange string

	MailgunDomain   string
	MailgunAPIKey   string
	MailgunSender   string
	MailgunTemplate string
	MailgunAPIBase  string
}

// Load reads configuration from the environment. Call godotenv first to pick up a
// local .env file.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	// Keys with more than one accepted variable name.
	if err := v.BindEnv("stripe_secret_key", "STRIPE_SECRET_KEY", "STRIPE_KEY"); err != nil {
		return Config{}, err
	}

	v.SetDefault("port", "8080")
	v.SetDefault("stripe_payment_method_types", "card")
	v.SetDefault("frontend_url", defaultFrontendURL)
	v.SetDefault("run_migrations", true)
	v.SetDefault("cors_allowed_origins", "*")
	v.SetDefault("rate_limit_cooldown", "1s")
	v.SetDefault("rate_limit_retention", "60s")
	v.SetDefault("rate_limit_sweep_chance", 0.1)
	v.SetDefault("rate_limit_store", RateLimitStoreMemory)
	v.SetDefault("events_exchange", "impactmarket.events")

	addr := strings.TrimSpace(v.GetString("http_addr"))
	if addr == "" {
		addr = ":" + strings.TrimPrefix(strings.TrimSpace(v.GetString("port")), ":")
	}

	frontend := strings.TrimRight(strings.TrimSpace(v.GetString("frontend_url")), "/")
	if frontend == "" {
		frontend = defaultFrontendURL
	}

	success := strings.TrimSpace(v.GetString("checkout_success_url"))
	if success == "" {
		success = frontend + "/payment/success?payment_id={PAYMENT_ID}&session_id={CHECKOUT_SESSION_ID}"
	}
	cancel := strings.TrimSpace(v.GetString("checkout_cancel_url"))
	if cancel == "" {
		cancel = frontend + "/payment/cancel?payment_id={PAYMENT_ID}"
	}

	cooldown, err := parseDuration(v, "rate_limit_cooldown")
	if err != nil {
		return Config{}, err
	}
	retention, err := parseDuration(v, "rate_limit_retention")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		HTTPAddr: addr,

		StripeSecretKey:    strings.TrimSpace(v.GetString("stripe_secret_key")),
		StripeWebhookKey:   strings.TrimSpace(v.GetString("stripe_webhook_secret")),
		PaymentMethodTypes: splitCSV(v.GetString("stripe_payment_method_types"), "card"),
		FrontendURL:        frontend,
		SuccessURL:         success,
		CancelURL:          cancel,

		DatabaseURL:   strings.TrimSpace(v.GetString("database_url")),
		RunMigrations: v.GetBool("run_migrations"),

		SupabaseJWTSecret: v.GetString("supabase_jwt_secret"),

		CORSAllowedOrigins: splitCSV(v.GetString("cors_allowed_origins"), "*"),
		TrustProxyHeaders:  v.GetBool("trust_proxy_headers"),

		RateLimitCooldown:    cooldown,
		RateLimitRetention:   retention,
		RateLimitSweepChance: v.GetFloat64("rate_limit_sweep_chance"),
		RateLimitStore:       strings.ToLower(strings.TrimSpace(v.GetString("rate_limit_store"))),

		RabbitMQURL:    strings.TrimSpace(v.GetString("rabbitmq_url")),
		EventsExchange: v.GetString("events_exchange"),

		MailgunDomain:   v.GetString("mailgun_domain"),
		MailgunAPIKey:   v.GetString("mailgun_api_key"),
		MailgunSender:   v.GetString("mailgun_sender"),
		MailgunTemplate: strings.TrimSpace(v.GetString("mailgun_template")),
		MailgunAPIBase:  strings.TrimRight(strings.TrimSpace(v.GetString("mailgun_api_base")), "/"),
	}

	return cfg, nil
}

// Validate checks what the HTTP server cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.StripeSecretKey == "" {
		errs = append(errs, errors.New("STRIPE_SECRET_KEY is required"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.RateLimitCooldown <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_COOLDOWN must be positive, got %s", c.RateLimitCooldown))
	}
	if c.RateLimitSweepChance < 0 || c.RateLimitSweepChance > 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_SWEEP_CHANCE must be between 0 and 1, got %v", c.RateLimitSweepChance))
	}
	switch c.RateLimitStore {
	case RateLimitStoreMemory, RateLimitStorePostgres:
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_STORE must be %q or %q, got %q", RateLimitStoreMemory, RateLimitStorePostgres, c.RateLimitStore))
	}
	return errors.Join(errs...)
}

// Warnings lists settings that are missing but not fatal.
func (c Config) Warnings() []string {
	var out []string
	if c.StripeWebhookKey == "" {
		out = append(out, "STRIPE_WEBHOOK_SECRET is not set, webhook deliveries will be rejected")
	}
	if c.SupabaseJWTSecret == "" {
		out = append(out, "SUPABASE_JWT_SECRET is not set, creator endpoints will return 401")
	}
	return out
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", strings.ToUpper(key), raw)
	}
	return d, nil
}

func splitCSV(v, def string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{def}
	}
	return out
}

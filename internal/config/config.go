// Package config содержит логику чтения конфигурации сервиса продажи ключей.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса продажи ключей.
type Config struct {
	RunAddress       string        `env:"RUN_ADDRESS"`
	DatabaseURI      string        `env:"DATABASE_URI"`
	WebhookToken     string        `env:"WEBHOOK_TOKEN"`
	MailerAddress    string        `env:"MAILER_ADDRESS"`
	MailerAPIKey     string        `env:"MAILER_API_KEY"`
	MailFrom         string        `env:"MAIL_FROM"`
	ReconcileTimeout time.Duration `env:"RECONCILE_TIMEOUT"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envWebhookToken := cfg.WebhookToken
	envMailerAddress := cfg.MailerAddress
	envMailerAPIKey := cfg.MailerAPIKey
	envMailFrom := cfg.MailFrom
	envReconcileTimeout := cfg.ReconcileTimeout

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.WebhookToken, "t", "", "payment gateway shared secret")
	flag.StringVar(&cfg.MailerAddress, "m", "", "mail gateway address")
	flag.StringVar(&cfg.MailFrom, "f", "noreply@keyshop.local", "sender address for key delivery")
	flag.DurationVar(&cfg.ReconcileTimeout, "r", 10*time.Second, "reconciliation timeout")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envWebhookToken != "" {
		cfg.WebhookToken = envWebhookToken
	}
	if envMailerAddress != "" {
		cfg.MailerAddress = envMailerAddress
	}
	if envMailerAPIKey != "" {
		cfg.MailerAPIKey = envMailerAPIKey
	}
	if envMailFrom != "" {
		cfg.MailFrom = envMailFrom
	}
	if envReconcileTimeout != 0 {
		cfg.ReconcileTimeout = envReconcileTimeout
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}

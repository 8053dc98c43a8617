// Package config loads per-binary settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// ServiceConfig configures promotion-service.
type ServiceConfig struct {
	Addr         string `env:"PROMOTION_ADDR" envDefault:":8060"`
	DocStorePath string `env:"PROMOTION_DOCSTORE_PATH" envDefault:"promotion.db"`
	// BlueprintPath overrides the embedded transformation blueprint.
	BlueprintPath string `env:"PROMOTION_BLUEPRINT_PATH"`

	GatewayURL    string `env:"PROMOTION_GATEWAY_URL"`
	GatewaySecret string `env:"PROMOTION_GATEWAY_SECRET"`
	// ErrorLogDatabaseURL enables the Postgres error_logs sink.
	ErrorLogDatabaseURL string `env:"PROMOTION_ERRORLOG_DATABASE_URL"`
	DatabaseURL         string `env:"DATABASE_URL"`

	KafkaBrokers []string `env:"PROMOTION_KAFKA_BROKERS" envSeparator:","`
	TriggerTopic string   `env:"PROMOTION_TRIGGER_TOPIC" envDefault:"prospect-status-changes"`
	TriggerGroup string   `env:"PROMOTION_TRIGGER_GROUP" envDefault:"promotion-engine"`
	AuditTopic   string   `env:"PROMOTION_AUDIT_TOPIC"`

	ArchiveBucket string `env:"PROMOTION_ARCHIVE_BUCKET"`
	ArchivePrefix string `env:"PROMOTION_ARCHIVE_PREFIX" envDefault:"promotion-engine"`

	OTelEndpoint string `env:"PROMOTION_OTEL_ENDPOINT"`
	Debug        bool   `env:"PROMOTION_DEBUG"`

	RequestTimeout  time.Duration `env:"PROMOTION_REQUEST_TIMEOUT" envDefault:"2m"`
	FinalizeTimeout time.Duration `env:"PROMOTION_FINALIZE_TIMEOUT" envDefault:"30s"`
	StaleAfter      time.Duration `env:"PROMOTION_STALE_AFTER" envDefault:"10m"`
	ReadAttempts    uint          `env:"PROMOTION_READ_ATTEMPTS" envDefault:"3"`
}

func LoadService() (ServiceConfig, error) {
	var cfg ServiceConfig
	if err := env.Parse(&cfg); err != nil {
		return ServiceConfig{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.GatewayURL == "" {
		return ServiceConfig{}, fmt.Errorf("PROMOTION_GATEWAY_URL required")
	}
	if cfg.ErrorLogDatabaseURL == "" {
		cfg.ErrorLogDatabaseURL = cfg.DatabaseURL
	}
	if cfg.AuditTopic != "" && len(cfg.KafkaBrokers) == 0 {
		return ServiceConfig{}, fmt.Errorf("PROMOTION_AUDIT_TOPIC requires PROMOTION_KAFKA_BROKERS")
	}
	if cfg.ReadAttempts == 0 {
		return ServiceConfig{}, fmt.Errorf("PROMOTION_READ_ATTEMPTS must be at least 1")
	}
	return cfg, nil
}

// GatewayConfig configures destination-gateway.
type GatewayConfig struct {
	Addr        string `env:"GATEWAY_ADDR" envDefault:":8090"`
	DatabaseURL string `env:"GATEWAY_DATABASE_URL"`
	// InMemory serves from process memory instead of Postgres.
	InMemory     bool   `env:"GATEWAY_IN_MEMORY"`
	Secret       string `env:"GATEWAY_SECRET"`
	ReplayWindow int    `env:"GATEWAY_REPLAY_WINDOW" envDefault:"1024"`
	OTelEndpoint string `env:"GATEWAY_OTEL_ENDPOINT"`
}

func LoadGateway() (GatewayConfig, error) {
	var cfg GatewayConfig
	if err := env.Parse(&cfg); err != nil {
		return GatewayConfig{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DatabaseURL == "" && !cfg.InMemory {
		return GatewayConfig{}, fmt.Errorf("GATEWAY_DATABASE_URL required unless GATEWAY_IN_MEMORY is set")
	}
	return cfg, nil
}

// CtlConfig holds promotectl defaults; flags override them.
type CtlConfig struct {
	ServiceURL string        `env:"PROMOTECTL_SERVICE_URL" envDefault:"http://localhost:8060"`
	Timeout    time.Duration `env:"PROMOTECTL_TIMEOUT" envDefault:"2m"`
}

func LoadCtl() (CtlConfig, error) {
	var cfg CtlConfig
	if err := env.Parse(&cfg); err != nil {
		return CtlConfig{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

// Gateway back-ends a dispatcher can be bound to.
const (
	KindLegacy = "legacy"
	KindFCM    = "fcm"
	KindAPNS   = "apns"
)

const (
	DefaultAttemptBudget     = 5
	DefaultRetryAfter        = 30 * time.Second
	DefaultGatewayTimeout    = 10 * time.Second
	DefaultFeedbackMaxLength = 10000
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	// FeedbackMaxLen bounds each dispatcher's feedback list.
	FeedbackMaxLen int64
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
	TTLSeconds      int
}

type GatewayConfig struct {
	Endpoint             string
	Timeout              time.Duration
	DefaultRetryAfter    time.Duration
	DefaultAttemptBudget int
}

type FCMConfig struct {
	CredentialsFile string
}

type APNSConfig struct {
	KeyID       string
	TeamID      string
	BundleID    string
	P8KeyPath   string
	Development bool
}

// DispatcherConfig names one dispatcher and the back-end it sends through.
type DispatcherConfig struct {
	Name       string
	Kind       string
	Credential string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Vapid      VapidConfig
	Gateway    GatewayConfig
	FCM        FCMConfig
	APNS       APNSConfig

	Dispatchers []DispatcherConfig

	TopicID              string
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}

	// Gateway
	if val := os.Getenv("GATEWAY_ENDPOINT"); val != "" {
		logger.Debug("Overriding config value", "key", "GATEWAY_ENDPOINT", "source", "env")
		cfg.Gateway.Endpoint = val
	}
	if val := os.Getenv("GATEWAY_CREDENTIAL"); val != "" {
		logger.Debug("Overriding config value", "key", "GATEWAY_CREDENTIAL", "source", "env")
		setDefaultCredential(cfg, val)
	}
	if val := os.Getenv("GATEWAY_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid GATEWAY_TIMEOUT %q: %w", val, err)
		}
		cfg.Gateway.Timeout = d
	}
	if val := os.Getenv("DEFAULT_RETRY_AFTER"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid DEFAULT_RETRY_AFTER %q: %w", val, err)
		}
		cfg.Gateway.DefaultRetryAfter = d
	}
	if val := os.Getenv("DEFAULT_ATTEMPT_BUDGET"); val != "" {
		budget, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("invalid DEFAULT_ATTEMPT_BUDGET %q: %w", val, err)
		}
		cfg.Gateway.DefaultAttemptBudget = budget
	}
	if val := os.Getenv("FCM_CREDENTIALS_FILE"); val != "" {
		cfg.FCM.CredentialsFile = val
	}

	// Redis
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// VAPID
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PUBLIC_KEY", "source", "env")
		cfg.Vapid.PublicKey = val
	}
	if val := os.Getenv("VAPID_PRIVATE_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PRIVATE_KEY", "source", "env")
		cfg.Vapid.PrivateKey = val
	}
	if val := os.Getenv("VAPID_SUB_EMAIL"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_SUB_EMAIL", "source", "env")
		cfg.Vapid.SubscriberEmail = val
	}

	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		var cleanOrigins []string
		for _, o := range strings.Split(corsOrigins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// Final validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)")
	}
	if cfg.Gateway.DefaultAttemptBudget < 0 {
		return nil, fmt.Errorf("gateway.default_attempt_budget must not be negative (DEFAULT_ATTEMPT_BUDGET)")
	}
	if err := validateDispatchers(cfg.Dispatchers); err != nil {
		return nil, err
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.Gateway.Timeout <= 0 {
		cfg.Gateway.Timeout = DefaultGatewayTimeout
	}
	if cfg.Gateway.DefaultRetryAfter <= 0 {
		cfg.Gateway.DefaultRetryAfter = DefaultRetryAfter
	}
	if cfg.PubsubConsumerConfig == nil {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

// setDefaultCredential assigns the credential to the "default" legacy
// dispatcher, adding it when the YAML did not declare one.
func setDefaultCredential(cfg *Config, credential string) {
	for i := range cfg.Dispatchers {
		if cfg.Dispatchers[i].Name == "default" {
			cfg.Dispatchers[i].Credential = credential
			return
		}
	}
	cfg.Dispatchers = append(cfg.Dispatchers, DispatcherConfig{
		Name:       "default",
		Kind:       KindLegacy,
		Credential: credential,
	})
}

func validateDispatchers(dispatchers []DispatcherConfig) error {
	seen := make(map[string]bool, len(dispatchers))
	for i, d := range dispatchers {
		if d.Name == "" {
			return fmt.Errorf("dispatchers[%d].name is required", i)
		}
		if seen[d.Name] {
			return fmt.Errorf("dispatchers[%d].name %q is duplicated", i, d.Name)
		}
		seen[d.Name] = true

		switch d.Kind {
		case KindLegacy:
			if d.Credential == "" {
				return fmt.Errorf("dispatchers[%d] %q: credential is required for kind %q (or GATEWAY_CREDENTIAL for \"default\")", i, d.Name, d.Kind)
			}
		case KindFCM, KindAPNS:
		default:
			return fmt.Errorf("dispatchers[%d] %q: unknown kind %q", i, d.Name, d.Kind)
		}
	}
	return nil
}

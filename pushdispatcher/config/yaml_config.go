package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr           string `yaml:"addr"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	Enabled        bool   `yaml:"enabled"`
	FeedbackMaxLen int64  `yaml:"feedback_max_len"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
	TTLSeconds      int    `yaml:"ttl_seconds"`
}

type YamlGatewayConfig struct {
	Endpoint             string `yaml:"endpoint"`
	Timeout              string `yaml:"timeout"`
	DefaultRetryAfter    string `yaml:"default_retry_after"`
	DefaultAttemptBudget *int   `yaml:"default_attempt_budget"`
}

type YamlFCMConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
}

type YamlAPNSConfig struct {
	KeyID       string `yaml:"key_id"`
	TeamID      string `yaml:"team_id"`
	BundleID    string `yaml:"bundle_id"`
	P8KeyPath   string `yaml:"p8_key_path"`
	Development bool   `yaml:"development"`
}

type YamlDispatcherConfig struct {
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind"`
	Credential string `yaml:"credential"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string                 `yaml:"project_id"`
	ListenAddr             string                 `yaml:"listen_addr"`
	TopicID                string                 `yaml:"topic_id"`
	SubscriptionID         string                 `yaml:"subscription_id"`
	SubscriptionDLQTopicID string                 `yaml:"subscription_dlq_topic_id"`
	CorsConfig             YamlCorsConfig         `yaml:"cors"`
	RedisConfig            YamlRedisConfig        `yaml:"redis"`
	VapidConfig            YamlVapidConfig        `yaml:"vapid"`
	GatewayConfig          YamlGatewayConfig      `yaml:"gateway"`
	FCMConfig              YamlFCMConfig          `yaml:"fcm"`
	APNSConfig             YamlAPNSConfig         `yaml:"apns"`
	Dispatchers            []YamlDispatcherConfig `yaml:"dispatchers"`
	NumPipelineWorkers     int                    `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	timeout, err := parseDuration("gateway.timeout", baseCfg.GatewayConfig.Timeout)
	if err != nil {
		return nil, err
	}
	retryAfter, err := parseDuration("gateway.default_retry_after", baseCfg.GatewayConfig.DefaultRetryAfter)
	if err != nil {
		return nil, err
	}
	budget := DefaultAttemptBudget
	if baseCfg.GatewayConfig.DefaultAttemptBudget != nil {
		budget = *baseCfg.GatewayConfig.DefaultAttemptBudget
	}
	feedbackMaxLen := baseCfg.RedisConfig.FeedbackMaxLen
	if feedbackMaxLen == 0 {
		feedbackMaxLen = DefaultFeedbackMaxLength
	}

	cfg := &Config{
		ProjectID:      baseCfg.ProjectID,
		ListenAddr:     baseCfg.ListenAddr,
		TopicID:        baseCfg.TopicID,
		SubscriptionID: baseCfg.SubscriptionID,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:           baseCfg.RedisConfig.Addr,
			Password:       baseCfg.RedisConfig.Password,
			DB:             baseCfg.RedisConfig.DB,
			Enabled:        baseCfg.RedisConfig.Enabled,
			FeedbackMaxLen: feedbackMaxLen,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
			TTLSeconds:      baseCfg.VapidConfig.TTLSeconds,
		},
		Gateway: GatewayConfig{
			Endpoint:             baseCfg.GatewayConfig.Endpoint,
			Timeout:              timeout,
			DefaultRetryAfter:    retryAfter,
			DefaultAttemptBudget: budget,
		},
		FCM: FCMConfig{CredentialsFile: baseCfg.FCMConfig.CredentialsFile},
		APNS: APNSConfig{
			KeyID:       baseCfg.APNSConfig.KeyID,
			TeamID:      baseCfg.APNSConfig.TeamID,
			BundleID:    baseCfg.APNSConfig.BundleID,
			P8KeyPath:   baseCfg.APNSConfig.P8KeyPath,
			Development: baseCfg.APNSConfig.Development,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	for _, d := range baseCfg.Dispatchers {
		kind := d.Kind
		if kind == "" {
			kind = KindLegacy
		}
		cfg.Dispatchers = append(cfg.Dispatchers, DispatcherConfig{
			Name:       d.Name,
			Kind:       kind,
			Credential: d.Credential,
		})
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
		"dispatchers", len(cfg.Dispatchers),
	)

	return cfg, nil
}

func parseDuration(key, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return d, nil
}

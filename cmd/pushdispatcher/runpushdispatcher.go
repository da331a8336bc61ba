package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	firebase "firebase.google.com/go/v4"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-push-dispatcher/internal/api"
	"github.com/tinywideclouds/go-push-dispatcher/internal/platform/apns"
	"github.com/tinywideclouds/go-push-dispatcher/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-dispatcher/internal/platform/gcm"
	"github.com/tinywideclouds/go-push-dispatcher/internal/platform/transport"
	"github.com/tinywideclouds/go-push-dispatcher/internal/platform/web"
	"github.com/tinywideclouds/go-push-dispatcher/internal/storage/feedback"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/dispatch"
	"github.com/tinywideclouds/go-push-dispatcher/pushdispatcher"
	"github.com/tinywideclouds/go-push-dispatcher/pushdispatcher/config"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-dispatcher")
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Config mapping failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Infrastructure Clients ---
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("PubSub client failed", "err", err)
		os.Exit(1)
	}
	defer psClient.Close()

	// --- Feedback Store ---
	var store *feedback.RedisFeedbackStore
	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis feedback store...", "addr", cfg.Redis.Addr)
		redisClient, err := feedback.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		store, err = feedback.NewRedisFeedbackStore(redisClient, cfg.Redis.FeedbackMaxLen, logger)
		if err != nil {
			logger.Error("Failed to create feedback store", "err", err)
			os.Exit(1)
		}
	}

	// --- Auth ---
	identityURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	if err != nil {
		logger.Error("JWT discovery failed", "err", err)
		os.Exit(1)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		logger.Error("Auth middleware failed", "err", err)
		os.Exit(1)
	}

	// --- Dispatchers ---
	host := pushdispatcher.NewHost(logger)
	if err := startDispatchers(ctx, cfg, host, store, logger); err != nil {
		logger.Error("Failed to start dispatchers", "err", err)
		host.StopAll()
		os.Exit(1)
	}

	// --- Consumer & Service ---
	consumer, err := newIngestionConsumer(ctx, cfg, psClient, logger)
	if err != nil {
		logger.Error("Ingestion consumer failed", "err", err)
		os.Exit(1)
	}

	var fb api.FeedbackReader
	if store != nil {
		fb = store
	}
	service, err := pushdispatcher.NewService(cfg, consumer, host, fb, authMiddleware, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	go func() {
		logger.Info("Starting service...", "addr", cfg.ListenAddr)
		if err := service.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Service shutdown with error", "err", err)
			os.Exit(1)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	sig := <-shutdown
	logger.Info("Received shutdown signal.", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := service.Shutdown(shutdownCtx); err != nil {
		logger.Error("Service shutdown failed", "err", err)
	}
}

// startDispatchers creates one dispatcher per configured credential. The web
// push gateway is shared because it is bound to the service's VAPID keys.
func startDispatchers(ctx context.Context, cfg *config.Config, host *pushdispatcher.Host, store *feedback.RedisFeedbackStore, logger *slog.Logger) error {
	httpClient := &http.Client{Timeout: cfg.Gateway.Timeout}
	policy := transport.Policy{DefaultRetryAfter: cfg.Gateway.DefaultRetryAfter}

	var webGateway dispatch.WebGateway
	if cfg.Vapid.PrivateKey == "" || cfg.Vapid.PublicKey == "" {
		logger.Warn("VAPID keys missing in configuration. Web Push is disabled.")
	} else {
		webGateway = web.NewClient(cfg.Vapid, httpClient, policy, logger)
		logger.Info("Web push enabled", "public_key", cfg.Vapid.PublicKey)
	}

	var fcmGateway dispatch.Gateway
	for _, dc := range cfg.Dispatchers {
		var gw dispatch.Gateway
		switch dc.Kind {
		case config.KindLegacy:
			endpoint := cfg.Gateway.Endpoint
			if endpoint == "" {
				endpoint = gcm.DefaultEndpoint
			}
			gw = gcm.NewClient(endpoint, httpClient, policy, logger)
		case config.KindFCM:
			if fcmGateway == nil {
				g, err := newFCMGateway(ctx, cfg, policy, logger)
				if err != nil {
					return err
				}
				fcmGateway = g
			}
			gw = fcmGateway
		case config.KindAPNS:
			g, err := newAPNSGateway(cfg.APNS, logger)
			if err != nil {
				return err
			}
			gw = g
		default:
			return fmt.Errorf("dispatcher %s: unknown kind %q", dc.Name, dc.Kind)
		}

		opts := []pushdispatcher.Option{
			pushdispatcher.WithAttemptBudget(cfg.Gateway.DefaultAttemptBudget),
			pushdispatcher.WithAbandonHook(func(task dispatch.Task, err error) {
				logger.Warn("Push abandoned", "dispatcher", dc.Name, "push_id", task.PushID, "attempt", task.Attempt, "err", err)
			}),
		}
		if webGateway != nil {
			opts = append(opts, pushdispatcher.WithWebGateway(webGateway))
		}
		if store != nil {
			opts = append(opts, pushdispatcher.WithErrorSink(store.Sink(dc.Name)))
		}
		if _, err := host.Start(dc.Name, dc.Credential, gw, opts...); err != nil {
			return err
		}
	}

	if len(cfg.Dispatchers) == 0 {
		logger.Warn("No dispatchers configured; all submissions will be rejected")
	}
	return nil
}

func newFCMGateway(ctx context.Context, cfg *config.Config, policy transport.Policy, logger *slog.Logger) (dispatch.Gateway, error) {
	var opts []option.ClientOption
	if cfg.FCM.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.FCM.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase App: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create FCM messaging client: %w", err)
	}
	gw, err := fcm.NewGateway(client, policy, logger)
	if err != nil {
		return nil, err
	}
	return gw, nil
}

func newAPNSGateway(cfg config.APNSConfig, logger *slog.Logger) (dispatch.Gateway, error) {
	key, err := os.ReadFile(cfg.P8KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read APNs key: %w", err)
	}
	gw, err := apns.NewGateway(apns.Config{
		KeyID:        cfg.KeyID,
		TeamID:       cfg.TeamID,
		BundleID:     cfg.BundleID,
		P8KeyContent: string(key),
		Development:  cfg.Development,
	}, logger)
	if err != nil {
		return nil, err
	}
	return gw, nil
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 10,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: &durationpb.Duration{Seconds: 5},
			MaximumBackoff: &durationpb.Duration{Seconds: 300},
		},
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}

	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}

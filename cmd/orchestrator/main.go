// cmd/orchestrator/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mygads/govconnect-sub008/internal/admin"
	"github.com/mygads/govconnect-sub008/internal/analytics"
	"github.com/mygads/govconnect-sub008/internal/common/auth"
	"github.com/mygads/govconnect-sub008/internal/common/aws"
	"github.com/mygads/govconnect-sub008/internal/common/config"
	"github.com/mygads/govconnect-sub008/internal/common/database"
	"github.com/mygads/govconnect-sub008/internal/common/logger"
	"github.com/mygads/govconnect-sub008/internal/common/observability"
	"github.com/mygads/govconnect-sub008/internal/ingest"
	"github.com/mygads/govconnect-sub008/internal/notify"
	goldenset "github.com/mygads/govconnect-sub008/internal/pipeline/golden-set"
	knowledgeretrieval "github.com/mygads/govconnect-sub008/internal/pipeline/knowledge-retrieval"
	modelinvoke "github.com/mygads/govconnect-sub008/internal/pipeline/model-invoke"
	"github.com/mygads/govconnect-sub008/internal/pipeline/orchestrator"
	rateguard "github.com/mygads/govconnect-sub008/internal/pipeline/rate-guard"
	responseformat "github.com/mygads/govconnect-sub008/internal/pipeline/response-format"
	"github.com/mygads/govconnect-sub008/internal/pipeline/takeover"
	"github.com/mygads/govconnect-sub008/pkg/registry"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	zapLog.Info("Starting message orchestrator...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog = logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.NewZapAdapter(zapLog)

	serviceName := cfg.App.Name
	if serviceName == "" {
		serviceName = "message-orchestrator"
	}

	obs := observability.New(serviceName)
	defer obs.Shutdown()

	tracing := observability.NewTracing(serviceName, os.Getenv("JAEGER_COLLECTOR_ENDPOINT"))
	defer tracing.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Elasticsearch with retry ---
	var esClient *database.ElasticsearchClient
	err = retryWithBackoff(func() error {
		var err error
		esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return esClient.Ping()
	}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully")

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Operator alerting ---
	var email notify.EmailSender
	var sms notify.SMSSender
	if cfg.Notifications.Email.Enabled {
		sesClient, err := aws.NewSESClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Warn("SES client init failed, email alerts disabled", zap.Error(err))
		} else {
			email = sesClient
		}
	}
	if cfg.Notifications.SMS.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Warn("SNS client init failed, SMS alerts disabled", zap.Error(err))
		} else {
			sms = snsClient
		}
	}
	operatorAlerts := notify.New(email, sms, cfg.Notifications, log)

	// --- Pipeline stages ---
	guard := rateguard.NewGuard(rdb.Client, rateguard.FromAppConfig(cfg.Pipeline.Guard), log)
	guard.SetNotifier(operatorAlerts)

	tracker := takeover.NewTracker(rdb.Client, config.GetDuration(cfg.Pipeline.Takeover.DormantAfterMs), log)

	retrievalCache := knowledgeretrieval.NewCache(rdb.Client, time.Duration(cfg.Retrieval.CacheTTL)*time.Second, log)
	retriever := knowledgeretrieval.NewRetriever(
		knowledgeretrieval.NewClient(cfg.Retrieval.BaseURL, cfg.Retrieval.APIKey, config.GetDuration(cfg.Retrieval.Timeout), log),
		retrievalCache,
		log,
	)

	primary, err := modelinvoke.NewProvider("primary", cfg.Models.Primary, log)
	if err != nil {
		zapLog.Fatal("primary model provider init failed", zap.Error(err))
	}
	var fallback modelinvoke.Provider
	if cfg.Models.Fallback.Model != "" {
		fallback, err = modelinvoke.NewProvider("fallback", cfg.Models.Fallback, log)
		if err != nil {
			zapLog.Fatal("fallback model provider init failed", zap.Error(err))
		}
	}
	invoker := modelinvoke.NewInvoker(primary, fallback, cfg.Models.Primary, cfg.Models.Fallback, log)

	formatter := responseformat.NewFormatter(log)

	sink := analytics.NewSink(
		analytics.NewPostgresStore(pg.DB),
		analytics.NewIndexer(esClient, cfg.Pipeline.Analytics.Index),
		cfg.Pipeline.Analytics.QueueSize,
		log,
	)

	reg, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		zapLog.Fatal("intent registry load failed", zap.Error(err))
	}

	pipeline := orchestrator.New(
		guard, tracker, retriever, invoker, formatter, sink, reg,
		orchestrator.Settings{
			SilentDrop: cfg.Pipeline.SilentDrop,
			TopK:       cfg.Retrieval.TopK,
			MinScore:   cfg.Retrieval.MinScore,
		},
		log,
	)
	pipeline.SetTracing(tracing)

	runStore := goldenset.NewPostgresStore(pg.DB)
	evaluator := goldenset.NewEvaluator(pipeline, runStore, cfg.Evaluation, log)
	evaluator.SetAlerter(operatorAlerts)

	zapLog.Info("Pipeline assembled",
		zap.String("primaryModel", cfg.Models.Primary.Model),
		zap.String("fallbackModel", cfg.Models.Fallback.Model),
		zap.Int("retrievalTopK", cfg.Retrieval.TopK),
	)

	// --- HTTP surfaces ---
	ingestServer := ingest.NewServer(cfg.Ingest.Address, pipeline, log)
	go func() {
		if err := ingestServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("ingest server failed", zap.Error(err))
		}
	}()

	keycloak := auth.NewKeycloakClient(
		cfg.Auth.Keycloak.URL,
		cfg.Auth.Keycloak.Realm,
		cfg.Auth.Keycloak.ClientID,
		cfg.Auth.Keycloak.ClientSecret,
	)

	adminServer := admin.NewServer(admin.Options{
		ServiceName: serviceName,
		Addr:        cfg.Admin.Address,
		AuthEnabled: cfg.Admin.AuthEnabled,
		Validator:   keycloak,
		Guard:       guard,
		Cache:       retrievalCache,
		Tracker:     tracker,
		Pipeline:    pipeline,
		Evaluator:   evaluator,
		Runs:        runStore,
		Notifier:    operatorAlerts,
		Logger:      log,
	})
	go func() {
		if err := adminServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("admin server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := ingestServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down ingest server", zap.Error(err))
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down admin server", zap.Error(err))
	}
	if err := sink.Close(shutdownCtx); err != nil {
		zapLog.Error("Error draining analytics sink", zap.Error(err))
	}

	zapLog.Info("Message orchestrator stopped gracefully")
}

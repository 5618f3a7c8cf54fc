// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"grant-workers/internal/authority"
	"grant-workers/internal/common/auth"
	awsclient "grant-workers/internal/common/aws"
	"grant-workers/internal/common/camunda"
	"grant-workers/internal/common/config"
	"grant-workers/internal/common/database"
	"grant-workers/internal/common/logger"
	"grant-workers/internal/common/observability"
	"grant-workers/internal/common/validation"
	"grant-workers/internal/events"
	"grant-workers/internal/grants"
	"grant-workers/internal/grants/pgstore"
	"grant-workers/internal/transfer"
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
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// deps holds every connection the workers may be built from. Optional
// backends are nil when not configured.
type deps struct {
	zeebe    *camunda.Client
	pg       *database.PostgresClient
	es       *database.ElasticsearchClient
	redis    *database.RedisClient
	keycloak *auth.KeycloakClient
	ses      *awsclient.SESClient
	sns      *awsclient.SNSClient

	store     *grants.ApplicationStore
	eventSink *events.ElasticsearchSink
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting worker manager...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("authority", cfg.Authority.Provider),
	)

	obs, err := observability.New(cfg.App.Name, cfg.Observability)
	if err != nil {
		zapLog.Fatal("observability setup failed", zap.Error(err))
	}
	defer func() {
		if err := obs.Shutdown(context.Background()); err != nil {
			zapLog.Warn("observability shutdown failed", zap.Error(err))
		}
	}()

	ctx := context.Background()
	d := &deps{}

	// --- Zeebe ---
	err = retryWithBackoff(func() error {
		var err error
		d.zeebe, err = camunda.NewClient(camunda.ConfigFrom(cfg.Camunda))
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	// --- PostgreSQL ---
	if cfg.Storage.Driver == "postgres" {
		err = retryWithBackoff(func() error {
			var err error
			d.pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return d.pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer d.pg.Close()
		zapLog.Info("PostgreSQL connected successfully")
	}

	// --- Elasticsearch ---
	if len(cfg.Database.Elasticsearch.GetAddresses()) > 0 {
		err = retryWithBackoff(func() error {
			var err error
			d.es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return d.es.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- Redis ---
	if cfg.Database.Redis.Address != "" {
		d.redis = database.NewRedis(cfg.Database.Redis)
		err = retryWithBackoff(func() error {
			return d.redis.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer d.redis.Close()
		zapLog.Info("Redis connected successfully")
	}

	// --- Keycloak & AWS ---
	if cfg.Auth.Keycloak.URL != "" {
		d.keycloak = auth.NewKeycloakClient(
			cfg.Auth.Keycloak.URL,
			cfg.Auth.Keycloak.Realm,
			cfg.Auth.Keycloak.ClientID,
			cfg.Auth.Keycloak.ClientSecret,
		)
	}

	integ := cfg.Integrations.AWS
	if integ.SES.Enabled || integ.SNS.Enabled || cfg.Events.SNSTopicARN != "" {
		awsCfg, err := awsclient.LoadConfig(ctx, integ.Region)
		if err != nil {
			zapLog.Fatal("aws config failed", zap.Error(err))
		}
		if integ.SES.Enabled {
			d.ses = awsclient.NewSESClient(awsCfg, integ.SES.FromEmail)
		}
		if integ.SNS.Enabled || cfg.Events.SNSTopicARN != "" {
			d.sns = awsclient.NewSNSClient(awsCfg)
		}
	}

	// --- Application store ---
	d.store, err = buildStore(ctx, cfg, d, log)
	if err != nil {
		zapLog.Fatal("application store setup failed", zap.Error(err))
	}

	validator, err := validation.LoadSchemaValidator(cfg.RegistryPath)
	if err != nil {
		zapLog.Fatal("activity registry load failed", zap.Error(err), zap.String("path", cfg.RegistryPath))
	}

	workers := registerWorkers(cfg, d, validator, obs, log, zapLog)
	zapLog.Info("workers registered", zap.Int("count", len(workers)))

	// --- Health & Metrics Server ---
	server := &http.Server{
		Addr:              cfg.App.HTTPAddress,
		Handler:           healthMux(d),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.App.HTTPAddress))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, w := range workers {
		w.Stop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}
	if err := d.zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

// buildStore wires the repository, authority provider, ledger and event
// sinks into the application store.
func buildStore(ctx context.Context, cfg *config.Config, d *deps, log logger.Logger) (*grants.ApplicationStore, error) {
	var repo grants.Repository
	switch cfg.Storage.Driver {
	case "postgres":
		pg := pgstore.New(d.pg)
		if cfg.Storage.AutoMigrate {
			if err := pg.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("ensure schema: %w", err)
			}
		}
		repo = pg
	default:
		log.Warn("using in-memory storage; state is lost on restart", nil)
		repo = grants.NewMemoryRepository()
	}

	authDeps := authority.Dependencies{Postgres: d.pg, Keycloak: d.keycloak}
	if d.redis != nil {
		authDeps.Redis = d.redis.Client
	}
	provider, err := authority.New(cfg.Authority, authDeps, log)
	if err != nil {
		return nil, err
	}

	var sinks []events.Sink
	if d.es != nil {
		d.eventSink = events.NewElasticsearchSink(d.es, cfg.Events.ElasticsearchIndex)
		if err := d.eventSink.EnsureIndex(ctx); err != nil {
			return nil, fmt.Errorf("ensure event index: %w", err)
		}
		sinks = append(sinks, d.eventSink)
	}
	if d.sns != nil && cfg.Events.SNSTopicARN != "" {
		sinks = append(sinks, events.NewSNSSink(d.sns, cfg.Events.SNSTopicARN))
	}

	var opts []grants.Option
	if len(sinks) > 0 {
		opts = append(opts, grants.WithPublisher(events.NewMultiPublisher(log, sinks...)))
	}

	ledger := transfer.NewLedgerClient(cfg.Ledger, log)
	return grants.NewApplicationStore(repo, provider, ledger, log, opts...), nil
}

func healthMux(d *deps) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "healthy", nil)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks := map[string]string{}
		ready := true
		check := func(name string, err error) {
			if err != nil {
				checks[name] = err.Error()
				ready = false
				return
			}
			checks[name] = "ok"
		}

		check("zeebe", d.zeebe.HealthCheck(ctx))
		if d.pg != nil {
			check("postgres", d.pg.Ping(ctx))
		}
		if d.es != nil {
			check("elasticsearch", d.es.Ping(ctx))
		}
		if d.redis != nil {
			check("redis", d.redis.Ping(ctx))
		}

		if !ready {
			writeStatus(w, http.StatusServiceUnavailable, "not ready", checks)
			return
		}
		writeStatus(w, http.StatusOK, "ready", checks)
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func writeStatus(w http.ResponseWriter, code int, status string, checks map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
		"time":   time.Now().Format(time.RFC3339),
	})
}

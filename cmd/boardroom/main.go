// Command boardroom runs the governance portal API: tenants, members,
// invitations and the audit trail behind the request gate.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/trusteekit/boardroom/pkg/api"
	"github.com/trusteekit/boardroom/pkg/audit"
	"github.com/trusteekit/boardroom/pkg/authz"
	"github.com/trusteekit/boardroom/pkg/config"
	"github.com/trusteekit/boardroom/pkg/gate"
	"github.com/trusteekit/boardroom/pkg/invites"
	"github.com/trusteekit/boardroom/pkg/members"
	"github.com/trusteekit/boardroom/pkg/observability"
	"github.com/trusteekit/boardroom/pkg/storage"
	"github.com/trusteekit/boardroom/pkg/storage/postgres"
	"github.com/trusteekit/boardroom/pkg/tenants"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting boardroom")

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	cm, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Database.URL,
		ReplicaURLs: postgres.ParseReplicaURLs(cfg.Database.ReplicaURLs),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}
	defer cm.Close()

	var redisClient *redis.Client
	var roleCache *members.RoleCache
	if cfg.Redis.Enabled {
		redisClient, err = storage.NewRedisClient(storage.RedisConfig{
			Addr:     cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			logger.WithError(err).Error("failed to connect to redis")
			os.Exit(1)
		}
		defer redisClient.Close()
		roleCache = members.NewRoleCache(redisClient, cfg.Redis.CacheTTL, logger)
	}

	matrix, err := loadMatrix(cfg.Authz.PolicyFile, logger)
	if err != nil {
		logger.WithError(err).Error("failed to load permission policy")
		os.Exit(1)
	}
	engine := authz.NewEngine(matrix)

	recorder, err := audit.NewDBRecorder(cm.Primary())
	if err != nil {
		logger.WithError(err).Error("failed to initialize audit recorder")
		os.Exit(1)
	}
	recorder.WithMetrics(metrics)

	memberSvc, err := members.NewPostgresService(cm.Primary(), engine, recorder, roleCache, metrics, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize membership service")
		os.Exit(1)
	}

	tenantSvc, err := tenants.NewPostgresService(cm.Primary(), recorder, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize tenant service")
		os.Exit(1)
	}

	inviteSvc, err := invites.NewPostgresService(
		cm.Primary(), engine, recorder,
		invites.NewLogNotifier(logger), tenantSvc, logger,
		invites.Options{
			TTL:           cfg.Invitations.TTL,
			AcceptBaseURL: cfg.Invitations.AcceptBaseURL,
			Metrics:       metrics,
		},
	)
	if err != nil {
		logger.WithError(err).Error("failed to initialize invitation service")
		os.Exit(1)
	}

	g := gate.New(gate.NewHeaderResolver(), memberSvc, engine, recorder, metrics, logger)

	server := api.NewServer(g, api.Services{
		Tenants: tenantSvc,
		Members: memberSvc,
		Invites: inviteSvc,
		Audit:   recorder,
		Engine:  engine,
		Metrics: metrics,
	}, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthServer := newHealthServer(cfg, cm, redisClient, registry)

	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	go func() {
		logger.WithField("addr", httpServer.Addr).Info("api server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("api server failed")
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("api server shutdown incomplete")
	}
	if err := healthServer.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("health server shutdown incomplete")
	}

	logger.Info("stopped")
}

// loadMatrix builds the permission matrix, applying the optional YAML
// overlay when configured.
func loadMatrix(policyFile string, logger *observability.Logger) (*authz.Matrix, error) {
	if policyFile == "" {
		return authz.NewMatrix(), nil
	}

	policy, err := authz.LoadPolicyFile(policyFile)
	if err != nil {
		return nil, err
	}
	logger.WithField("policy_file", policyFile).Info("applying permission policy overlay")
	return authz.NewMatrixWithPolicy(policy)
}

func newHealthServer(cfg *config.Config, cm *postgres.ConnectionManager, redisClient *redis.Client, registry *prometheus.Registry) *http.Server {
	checker := observability.NewHealthChecker(cm.Primary(), redisClient)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", checker.Liveness)
	mux.HandleFunc("/readyz", checker.Readiness)
	if cfg.Observability.MetricsEnabled {
		mux.Handle("/metrics", observability.Handler(registry))
	}

	return &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: mux,
	}
}

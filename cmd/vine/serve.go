package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/vine/config"
	"github.com/Ramsey-B/vine/internal/handlers"
	"github.com/Ramsey-B/vine/pkg/conditions"
	"github.com/Ramsey-B/vine/pkg/database"
	"github.com/Ramsey-B/vine/pkg/execution"
	"github.com/Ramsey-B/vine/pkg/executionlog"
	"github.com/Ramsey-B/vine/pkg/expressions"
	"github.com/Ramsey-B/vine/pkg/health"
	"github.com/Ramsey-B/vine/pkg/httpclient"
	"github.com/Ramsey-B/vine/pkg/kafka"
	"github.com/Ramsey-B/vine/pkg/middleware"
	"github.com/Ramsey-B/vine/pkg/redis"
	"github.com/Ramsey-B/vine/pkg/repositories"
	"github.com/Ramsey-B/vine/pkg/startup"
	"github.com/Ramsey-B/vine/pkg/store"
	"github.com/Ramsey-B/vine/pkg/tracing"
	"github.com/Ramsey-B/vine/pkg/tracing/exporters"
)

const shutdownTimeout = 15 * time.Second

var serveEnvFiles []string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringSliceVar(&serveEnvFiles, "env-file", nil, "env files to load before reading the environment (default .env)")
	rootCmd.AddCommand(serveCmd)
}

// server holds everything serve wires together
type server struct {
	cfg     *config.Config
	logger  ectologger.Logger
	startup *startup.Startup
	checker *health.Checker

	postgres *database.Postgres
	redis    *redis.Client
	producer *kafka.Producer
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(serveEnvFiles...)
	if err != nil {
		return err
	}

	logger, sync, err := newLogger(cfg.LogLevel, cfg.PrettyLogs)
	if err != nil {
		return err
	}
	defer sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := newServer(cfg, logger)
	if err := s.startup.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := s.startup.Stop(stopCtx); err != nil {
			logger.WithError(err).Error("Failed to stop dependencies")
		}
	}()

	e, err := s.routes()
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Port),
		Handler:        e,
		ReadTimeout:    time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:   time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:    time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("%s %s listening on %s", cfg.AppName, cfg.Version, httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.checker.SetReady(true)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	s.checker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// newServer registers the startup dependencies the configuration asks for
func newServer(cfg *config.Config, logger ectologger.Logger) *server {
	s := &server{
		cfg:     cfg,
		logger:  logger,
		startup: startup.NewStartup(logger, cfg.StartupMaxAttempts),
		checker: health.NewChecker(cfg.Version),
	}

	s.startup.AddDependency(tracing.NewProvider(tracing.ProviderConfig{
		ServiceName: cfg.AppName,
		Enabled:     cfg.OTLPEnabled,
		OTLP: exporters.OTLPConfig{
			Endpoint: cfg.OTLPEndpoint,
			Protocol: cfg.OTLPProtocol,
			Insecure: cfg.OTLPInsecure,
		},
	}))

	if cfg.DatabaseEnabled() {
		s.postgres = database.NewPostgres(databaseConfig(cfg), &database.MigrationConfig{
			MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
			AutoRollback:        cfg.DatabaseMigrationAutoRollback,
		}, logger)
		s.startup.AddDependency(s.postgres)
	}

	if cfg.RedisEnabled {
		s.redis = redis.NewClient(redisConfig(cfg), logger)
		s.startup.AddDependency(s.redis)
	}

	if cfg.KafkaEnabled() {
		s.producer = kafka.NewProducer(kafka.ParseConfig(cfg.KafkaBrokers, cfg.KafkaExecutionTopic), logger)
		s.startup.AddDependency(s.producer)
	}

	return s
}

func databaseConfig(cfg *config.Config) database.Config {
	return database.Config{
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		User:            cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}
}

func redisConfig(cfg *config.Config) redis.Config {
	return redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// routes builds the engine over the started dependencies and mounts the API
func (s *server) routes() (*echo.Echo, error) {
	cfg, logger := s.cfg, s.logger

	registries := httpclient.Registries{httpclient.NewStaticRegistry(httpclient.ParseModuleList(cfg.Modules))}

	var (
		chains handlers.ChainReader
		logs   handlers.ExecutionLogReader
		sinks  []executionlog.Named
	)

	if s.postgres != nil {
		db := s.postgres.Instance()
		chains = repositories.NewChainRepository(db, logger)
		registries = append(registries, repositories.NewModuleRepository(db, logger))

		logRepo := repositories.NewExecutionLogRepository(db, logger)
		logs = logRepo
		sinks = append(sinks, executionlog.Named{Name: "postgres", Sink: logRepo})

		s.checker.AddCheck("database", db.PingContext)
	} else {
		memory := store.NewMemory()
		if cfg.ChainsFile != "" {
			loaded, err := store.LoadFile(cfg.ChainsFile)
			if err != nil {
				return nil, err
			}
			memory = loaded
		}
		chains = memory

		memoryLogs := executionlog.NewMemory(executionlog.DefaultMemoryCapacity)
		logs = memoryLogs
		sinks = append(sinks, executionlog.Named{Name: "memory", Sink: memoryLogs})
	}

	var engineStore execution.ChainStore = chains
	if s.redis != nil {
		engineStore = store.NewCached(chains, s.redis, cfg.ChainCacheTTL, logger)
		s.checker.AddOptionalCheck("redis", s.redis.Ping)
	}

	if s.producer != nil {
		sinks = append(sinks, executionlog.Named{Name: "kafka", Sink: s.producer})
	}

	caller := httpclient.NewModuleCaller(registries, httpclient.NewClient(httpclient.DefaultConfig(), logger), logger)
	evaluator := conditions.NewEvaluator(expressions.NewEvaluator(), logger)
	engine := execution.NewEngine(engineStore, caller, executionlog.NewMulti(logger, sinks...), evaluator, execution.Config{
		MaxSteps:           cfg.MaxSteps,
		MaxRecursionDepth:  cfg.MaxRecursionDepth,
		DefaultStepTimeout: cfg.DefaultStepTimeout,
	}, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{AllowOrigins: cfg.AllowOrigins}))
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	s.checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	chainGroup := api.Group("/chains")
	handlers.NewChainHandler(chains, logger).Register(chainGroup)

	executions := handlers.NewExecutionHandler(engine, logs, logger)
	executions.RegisterChainRoutes(chainGroup)
	executions.Register(api.Group("/executions"))

	return e, nil
}

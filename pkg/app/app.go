package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/gatehouse/pkg/api"
	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/authflow"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/credentials"
	"github.com/platinummonkey/gatehouse/pkg/lockout"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/password"
	"github.com/platinummonkey/gatehouse/pkg/provisioning"
	"github.com/platinummonkey/gatehouse/pkg/secrets"
	"github.com/platinummonkey/gatehouse/pkg/sso"
	"github.com/platinummonkey/gatehouse/pkg/storage/rediscache"
	"github.com/platinummonkey/gatehouse/pkg/storage/sqlstore"
)

// App is a fully wired gatehouse server
type App struct {
	cfg      *config.Config
	logger   *observability.Logger
	version  string
	registry *prometheus.Registry
	metrics  *observability.Metrics

	*backend
	redis *redis.Client

	hasher       *password.Hasher
	recorder     *audit.Recorder
	limiter      middleware.Limiter
	refresher    *sso.MetadataRefresher
	tokens       *auth.TokenIssuer
	orchestrator *authflow.Orchestrator

	handler http.Handler
	health  http.Handler

	closers []observability.ShutdownFunc
}

// New wires every component from cfg. On error, anything already opened
// is closed before returning.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger, version string) (*App, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	a := &App{cfg: cfg, logger: logger, version: version}

	if err := a.init(ctx); err != nil {
		if closeErr := a.Close(context.Background()); closeErr != nil {
			logger.WithError(closeErr).Warn("Failed to release resources after startup error")
		}
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"tracing", a.initTracing},
		{"metrics", a.initMetrics},
		{"storage", a.initStorage},
		{"redis", a.initRedis},
		{"audit", a.initAudit},
		{"auth", a.initAuth},
		{"http", a.initHTTP},
		{"seed", a.initSeed},
	}

	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}
	return nil
}

func (a *App) addCloser(fn observability.ShutdownFunc) {
	a.closers = append(a.closers, fn)
}

func (a *App) initTracing(ctx context.Context) error {
	shutdown, err := observability.InitTracing(ctx, a.cfg.Observability.OTel(), a.logger)
	if err != nil {
		return err
	}
	a.addCloser(shutdown)
	return nil
}

func (a *App) initMetrics(context.Context) error {
	if !a.cfg.Observability.MetricsEnabled {
		a.metrics = observability.NewMetrics(nil)
		return nil
	}
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = observability.NewMetrics(a.registry)
	return nil
}

func (a *App) initStorage(ctx context.Context) error {
	if a.cfg.Database.Driver == config.DriverMemory {
		a.logger.Warn("Using in-memory stores; data is lost on restart")
		a.backend = newMemoryBackend()
		return nil
	}

	db, err := sqlstore.Open(ctx, a.cfg.Database.SQLStore())
	if err != nil {
		return err
	}
	a.addCloser(func(context.Context) error { return db.Close() })

	applied, err := sqlstore.Migrate(ctx, db)
	if err != nil {
		return err
	}
	a.logger.WithFields(map[string]interface{}{
		"driver":  a.cfg.Database.Driver,
		"applied": applied,
	}).Info("Database ready")

	a.backend = newSQLBackend(db)
	return nil
}

func (a *App) initRedis(ctx context.Context) error {
	if !a.cfg.Redis.Enabled() {
		return nil
	}

	client, err := rediscache.NewClient(ctx, a.cfg.Redis.Client())
	if err != nil {
		return err
	}
	a.redis = client
	a.addCloser(func(context.Context) error { return client.Close() })

	if a.cfg.SSO.ConfigCacheTTL > 0 {
		a.configs = rediscache.NewConfigStore(a.configs, client, a.cfg.SSO.ConfigCacheTTL, a.logger)
	}
	return nil
}

func (a *App) initAudit(context.Context) error {
	sinks := []audit.Sink{audit.NewLogSink(a.logger)}

	if a.cfg.Audit.Database {
		dbSink, err := audit.NewDBSink(a.db)
		if err != nil {
			return err
		}
		sinks = append(sinks, dbSink)
	}
	if a.cfg.Audit.FileDir != "" {
		fileSink, err := audit.NewFileSink(a.cfg.Audit.FileSink())
		if err != nil {
			return err
		}
		sinks = append(sinks, fileSink)
	}

	multi := audit.NewMultiSink(sinks...)
	multi.SetAsync(a.cfg.Audit.Async)
	a.recorder = audit.NewRecorder(multi, a.logger)
	a.addCloser(func(context.Context) error { return a.recorder.Close() })
	return nil
}

func (a *App) initAuth(context.Context) error {
	authCfg := a.cfg.Auth

	var store lockout.CounterStore
	if a.redis != nil {
		store = lockout.NewRedisStore(a.redis)
	} else {
		memStore, err := lockout.NewMemoryStore(authCfg.LockoutCacheSize)
		if err != nil {
			return err
		}
		store = memStore
	}
	tracker := lockout.NewTracker(store, authCfg.Lockout(), a.logger,
		lockout.WithMetrics(a.metrics),
		lockout.WithEventLogger(a.recorder),
	)

	a.hasher = password.NewHasher(password.DefaultParams)
	validator, err := credentials.NewValidator(a.users, a.hasher, tracker, a.recorder,
		credentials.WithAutoProvision(authCfg.AutoProvision),
		credentials.WithMetrics(a.metrics),
		credentials.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}

	reconciler, err := provisioning.NewReconciler(a.users, a.memberships, a.seats, a.recorder,
		provisioning.WithMetrics(a.metrics),
		provisioning.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}

	tokenCfg := auth.TokenIssuerConfig{
		TTL:        authCfg.TokenTTL,
		Issuer:     authCfg.TokenIssuer,
		HMACSecret: []byte(authCfg.TokenSecret),
	}
	if authCfg.TokenKeyFile != "" {
		pemData, err := os.ReadFile(authCfg.TokenKeyFile)
		if err != nil {
			return fmt.Errorf("failed to read token key file: %w", err)
		}
		key, err := auth.ParsePrivateKeyPEM(pemData)
		if err != nil {
			return err
		}
		tokenCfg.PrivateKey = key
	}
	a.tokens, err = auth.NewTokenIssuer(tokenCfg, a.users, a.memberships)
	if err != nil {
		return err
	}

	resolver, err := a.secretResolver()
	if err != nil {
		return err
	}

	ssoCfg := a.cfg.SSO
	client := observability.NewHTTPClient(ssoCfg.HTTPTimeout)
	metadata := sso.NewMetadataResolver(client, ssoCfg.MetadataCacheTTL, a.metrics, a.logger)
	if ssoCfg.MetadataRefreshSchedule != "" {
		a.refresher = sso.NewMetadataRefresher(a.configs, metadata, a.logger)
	}

	a.orchestrator, err = authflow.New(authflow.Dependencies{
		Credentials: validator,
		Configs:     a.configs,
		LoginURLs:   sso.NewLoginURLBuilder(metadata),
		SAML:        sso.NewSAMLVerifier(ssoCfg.AllowUnsignedSAML, a.logger, sso.WithSAMLMetadata(metadata)),
		OIDC:        sso.NewOIDCVerifier(client, ssoCfg.AllowUnverifiedOIDC, a.logger),
		Exchanger:   sso.NewCodeExchanger(client, resolver),
		Userinfo:    sso.NewHTTPUserinfoFetcher(client, a.logger),
		Reconciler:  reconciler,
		Tokens:      a.tokens,
		Events:      a.recorder,
		Metrics:     a.metrics,
		Logger:      a.logger,
	})
	return err
}

// secretResolver chains the environment with the optional secrets file,
// which is watched for rotation when configured
func (a *App) secretResolver() (auth.SecretResolver, error) {
	resolvers := []auth.SecretResolver{secrets.NewEnvResolver()}

	if path := a.cfg.SSO.SecretsFile; path != "" {
		fileResolver, err := secrets.NewFileResolver(path, a.logger)
		if err != nil {
			return nil, err
		}
		a.addCloser(func(context.Context) error { return fileResolver.Close() })

		if a.cfg.SSO.WatchSecrets {
			if err := fileResolver.Watch(); err != nil {
				return nil, err
			}
		}
		resolvers = append(resolvers, fileResolver)
	}

	return secrets.NewChainResolver(resolvers...), nil
}

func (a *App) initHTTP(context.Context) error {
	if limit := a.cfg.Server.LoginRateLimit; limit > 0 {
		rlCfg := &middleware.RateLimitConfig{
			RequestsPerWindow: limit,
			WindowDuration:    a.cfg.Server.LoginRateWindow,
		}
		if a.redis != nil {
			a.limiter = middleware.NewDistributedRateLimiter(a.redis, rlCfg, "")
		} else {
			a.limiter = middleware.NewRateLimiter(rlCfg)
		}
	}

	handlers := api.NewAuthHandlers(api.Options{
		Authenticator: a.orchestrator,
		Users:         a.users,
		Sessions:      middleware.NewSessionAuth(a.tokens, a.logger),
		Limiter:       a.limiter,
		ReturnHosts:   a.cfg.Server.ReturnHosts,
		Logger:        a.logger,
	})
	a.handler = api.NewRouter(a.logger, a.metrics, handlers)

	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, observability.NewHealthChecker(a.db, a.redis, a.version))
	if a.registry != nil {
		healthRouter.Handle("/metrics", observability.MetricsHandler(a.registry)).Methods(http.MethodGet)
	}
	a.health = healthRouter
	return nil
}

func (a *App) initSeed(ctx context.Context) error {
	if a.cfg.Database.SeedFile == "" {
		return nil
	}
	seed, err := LoadSeed(a.cfg.Database.SeedFile)
	if err != nil {
		return err
	}
	_, err = a.ApplySeed(ctx, seed)
	return err
}

// Handler returns the public API handler
func (a *App) Handler() http.Handler {
	return a.handler
}

// HealthHandler returns the probe and metrics handler
func (a *App) HealthHandler() http.Handler {
	return a.health
}

// Orchestrator returns the login orchestrator
func (a *App) Orchestrator() *authflow.Orchestrator {
	return a.orchestrator
}

// Run serves the API and health endpoints until ctx is done, then shuts
// down gracefully and releases every resource
func (a *App) Run(ctx context.Context) error {
	srv := a.cfg.Server
	server := &http.Server{
		Addr:         net.JoinHostPort(srv.Host, srv.Port),
		Handler:      a.handler,
		ReadTimeout:  srv.ReadTimeout,
		WriteTimeout: srv.WriteTimeout,
		IdleTimeout:  srv.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:        net.JoinHostPort(srv.Host, srv.HealthPort),
		Handler:     a.health,
		ReadTimeout: srv.ReadTimeout,
	}

	if a.refresher != nil {
		if err := a.refresher.Start(a.cfg.SSO.MetadataRefreshSchedule); err != nil {
			return err
		}
		a.addCloser(a.refresher.Stop)
	}

	g, gctx := errgroup.WithContext(ctx)

	if limiter, ok := a.limiter.(*middleware.RateLimiter); ok {
		limiter.StartCleanup(gctx)
	}

	shutdown := observability.NewShutdownManager(a.logger, server, srv.ShutdownTimeout)
	shutdown.Register(a.Close)
	shutdown.Register(healthServer.Shutdown)

	serve := func(s *http.Server, name string) func() error {
		return func() error {
			a.logger.WithField("addr", s.Addr).Infof("Starting %s server", name)
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s server: %w", name, err)
			}
			return nil
		}
	}
	g.Go(serve(server, "API"))
	g.Go(serve(healthServer, "health"))
	g.Go(func() error { return shutdown.Shutdown(gctx) })

	return g.Wait()
}

// Close releases resources in reverse order of acquisition
func (a *App) Close(ctx context.Context) error {
	closers := a.closers
	a.closers = nil

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"resource-service/common/telemetry"
	"resource-service/internal/admin"
	"resource-service/internal/auth"
	"resource-service/internal/authz"
	"resource-service/internal/batch"
	"resource-service/internal/blob"
	"resource-service/internal/config"
	"resource-service/internal/credential"
	"resource-service/internal/db"
	"resource-service/internal/device"
	"resource-service/internal/event"
	"resource-service/internal/health"
	"resource-service/internal/kafka"
	"resource-service/internal/membership"
	"resource-service/internal/messaging"
	"resource-service/internal/metrics"
	"resource-service/internal/middleware"
	"resource-service/internal/ratelimit"
	"resource-service/internal/resource"
	"resource-service/internal/student"
	"resource-service/internal/token"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"golang.org/x/crypto/bcrypt"
)

const healthRefreshInterval = 15 * time.Second

type App struct {
	config     *config.Config
	router     chi.Router
	server     *http.Server
	grpc       *health.GRPCServer
	db         *bun.DB
	telemetry  *telemetry.Telemetry
	publisher  event.Publisher
	redis      *redis.Client
	seeder     *admin.Seeder
	stopHealth context.CancelFunc
	logger     *slog.Logger
}

// New builds the whole service from cfg. Nothing is listening until Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		config: cfg,
		router: chi.NewRouter(),
		logger: logger,
	}

	tel, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		Exporter:       cfg.Metrics.Exporter,
		OTLPEndpoint:   cfg.Metrics.OTLPEndpoint,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	app.telemetry = tel
	commonMetrics := tel.Metrics
	meter := otel.Meter(ServiceName)

	domainMetrics, err := metrics.New(meter)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize domain metrics: %w", err)
	}

	database, err := db.New(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	app.db = database
	if err := commonMetrics.Database.RegisterDB(database.DB, meter); err != nil {
		logger.Warn("failed to register database pool metrics", "error", err)
	}

	blobs, err := blob.NewS3Store(ctx, blob.S3Config{
		Bucket:          cfg.Storage.Bucket,
		Region:          cfg.Storage.Region,
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		UsePathStyle:    cfg.Storage.UsePathStyle,
	})
	if err != nil {
		return nil, err
	}

	checks := []health.Check{
		{Name: "postgres", Probe: database.PingContext},
		{Name: "s3", Probe: blobs.Ping},
	}

	app.publisher = app.newPublisher()
	if p, ok := app.publisher.(*messaging.Producer); ok {
		checks = append(checks, health.Check{Name: "nats", Probe: p.Ping})
	}
	events := event.NewDispatcher(app.publisher, commonMetrics.Events, logger)

	var guard *ratelimit.Guard
	if cfg.Redis.Addr != "" {
		app.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		limiter := ratelimit.NewRedisLimiter(app.redis, cfg.RateLimit.LoginLimit, cfg.RateLimit.LoginWindow)
		guard = ratelimit.NewGuard(limiter, logger)
		checks = append(checks, health.Check{Name: "redis", Probe: func(ctx context.Context) error {
			return app.redis.Ping(ctx).Err()
		}})
		logger.Info("login rate limiting enabled", "limit", cfg.RateLimit.LoginLimit, "window", cfg.RateLimit.LoginWindow)
	}

	checker := health.NewChecker(commonMetrics.Health, checks...)
	if err := commonMetrics.Health.RegisterDependencies(ctx, meter, checker.Names()); err != nil {
		logger.Warn("failed to register dependency metrics", "error", err)
	}
	app.grpc = health.NewGRPCServer(checker, logger)

	// Repositories
	hasher := credential.NewBcryptHasher(bcrypt.DefaultCost)
	adminRepo := admin.NewRepository(database, commonMetrics)
	studentRepo := student.NewRepository(database, commonMetrics)
	batchRepo := batch.NewRepository(database, commonMetrics)
	graph := membership.NewGraph(database, batchRepo, commonMetrics)
	resourceRepo := resource.NewRepository(database, graph, batchRepo, commonMetrics)

	adminCreds, err := credential.NewStore(adminRepo, hasher)
	if err != nil {
		return nil, err
	}
	studentCreds, err := credential.NewStore(studentRepo, hasher)
	if err != nil {
		return nil, err
	}
	app.seeder = admin.NewSeeder(adminRepo, adminCreds, logger)

	// Services
	issuer := token.NewIssuer(cfg.Auth.JWTSecret, ServiceName)
	devices := device.NewService(studentRepo, logger)
	authService := auth.NewService(adminCreds, studentCreds, issuer, devices, events, auth.TTLs{
		Admin:   cfg.Auth.AdminTokenTTL,
		Student: cfg.Auth.StudentTokenTTL,
	}, domainMetrics, logger)
	studentService := student.NewService(studentRepo, studentCreds, graph, batchRepo, student.Limits{
		DefaultDevices:  cfg.Devices.DefaultLimit,
		MinDevices:      cfg.Devices.MinLimit,
		MaxDevices:      cfg.Devices.MaxLimit,
		TempPasswordLen: cfg.Auth.TempPasswordLen,
	}, domainMetrics, logger)
	resourceService := resource.NewService(resource.Deps{
		Store:      resourceRepo,
		Blobs:      blobs,
		Gate:       membership.NewGate(graph),
		Visibility: graph,
		Batches:    batchRepo,
		Events:     events,
		URLTTL:     cfg.Storage.SignedURLTTL,
		Metrics:    domainMetrics,
		Logger:     logger,
	})

	enforcer, err := authz.NewEnforcer(authz.DefaultPolicies, logger)
	if err != nil {
		return nil, err
	}

	// Handlers
	authHandler := auth.NewHandler(authService, guard, logger)
	studentHandler := student.NewHandler(studentService, logger)
	batchHandler := batch.NewHandler(batchRepo, logger)
	membershipHandler := membership.NewHandler(graph, logger)
	resourceHandler := resource.NewHandler(resourceService, cfg.Server.MaxUploadBytes, logger)

	app.router.Use(chimiddleware.RealIP)
	app.router.Use(chimiddleware.Recoverer)
	app.router.Use(commonMetrics.HTTP.Middleware)
	app.router.Use(middleware.CORS(cfg.Server.CORSOrigins))

	health.NewHandler(checker).RegisterRoutes(app.router)
	if h := tel.Handler(); h != nil {
		app.router.Handle("/metrics", h)
	}

	verify := auth.VerifySignature(issuer, logger)

	app.router.Route("/admin", func(r chi.Router) {
		authHandler.RegisterAdminPublicRoutes(r)
		r.Group(func(r chi.Router) {
			r.Use(verify)
			r.Use(enforcer.Middleware)
			authHandler.RegisterAdminRoutes(r)
			studentHandler.RegisterAdminRoutes(r)
			batchHandler.RegisterRoutes(r)
			membershipHandler.RegisterRoutes(r)
			resourceHandler.RegisterAdminRoutes(r)
		})
	})

	app.router.Route("/student", func(r chi.Router) {
		authHandler.RegisterStudentPublicRoutes(r)
		r.Group(func(r chi.Router) {
			r.Use(verify)
			r.Use(enforcer.Middleware)
			r.Use(auth.RequireLiveDevice(devices, logger))
			authHandler.RegisterStudentRoutes(r)
			studentHandler.RegisterStudentRoutes(r)
			resourceHandler.RegisterStudentRoutes(r)
		})
	})

	logger.Info("application initialized successfully", "broker", app.publisher.Name())

	return app, nil
}

// newPublisher connects the configured broker. A broker that cannot be
// reached is logged and replaced by a no-op publisher.
func (a *App) newPublisher() event.Publisher {
	switch a.config.Events.Broker {
	case "nats":
		p, err := messaging.NewProducer(a.config.NATS.URL, a.config.NATS.Subject, a.logger)
		if err != nil {
			a.logger.Warn("failed to initialize NATS producer, events disabled", "error", err)
			return event.Nop{}
		}
		return p
	case "kafka":
		p, err := kafka.NewProducer(a.config.Kafka.Brokers, a.config.Kafka.Topic, a.logger)
		if err != nil {
			a.logger.Warn("failed to initialize Kafka producer, events disabled", "error", err)
			return event.Nop{}
		}
		return p
	default:
		return event.Nop{}
	}
}

// SeedDefaultAdmin creates the configured admin when the admins table is empty.
func (a *App) SeedDefaultAdmin(ctx context.Context) error {
	created, err := a.seeder.EnsureDefault(ctx, a.config.Admin.SeedEmail, a.config.Admin.SeedPassword)
	if err != nil {
		return fmt.Errorf("failed to seed admin: %w", err)
	}
	if created {
		a.logger.Info("default admin seeded", "email", a.config.Admin.SeedEmail)
	}
	return nil
}

// Handler exposes the router, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.router
}

// Run serves HTTP and gRPC until one of them fails or Shutdown is called.
func (a *App) Run() error {
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%s", a.config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  time.Duration(a.config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(a.config.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(a.config.Server.IdleTimeout) * time.Second,
	}

	healthCtx, cancel := context.WithCancel(context.Background())
	a.stopHealth = cancel
	go a.grpc.Watch(healthCtx, healthRefreshInterval)

	errCh := make(chan error, 2)
	go func() {
		errCh <- a.grpc.Serve(a.config.GRPC.Port)
	}()
	go func() {
		a.logger.Info("server starting", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	return <-errCh
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	var errs []error
	if a.stopHealth != nil {
		a.stopHealth()
	}
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if a.grpc != nil {
		a.grpc.Shutdown()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Error("event publisher close error", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", "error", err)
		}
	}
	if a.db != nil {
		db.Close(a.db)
	}
	if err := a.telemetry.Shutdown(ctx, a.logger); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Package main - точка входа HTTP API бэк-офиса Alem.
//
// Сервис переводит студентов между уровнями учебных программ: проверяет
// посещаемость и баланс дней доступа, списывает стоимость уровня и ведёт
// историю переходов. Групповой перевод выполняется сагой с токеном
// идемпотентности.
//
// Без DATABASE_URL сервис работает на хранилище в памяти.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alem-hub/alem-backoffice/config"

	// Application layer
	"github.com/alem-hub/alem-backoffice/internal/application/command"
	"github.com/alem-hub/alem-backoffice/internal/application/query"
	"github.com/alem-hub/alem-backoffice/internal/application/saga"

	// Domain layer
	"github.com/alem-hub/alem-backoffice/internal/domain/attendance"
	"github.com/alem-hub/alem-backoffice/internal/domain/curriculum"
	"github.com/alem-hub/alem-backoffice/internal/domain/group"
	"github.com/alem-hub/alem-backoffice/internal/domain/progress"
	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
	"github.com/alem-hub/alem-backoffice/internal/domain/subscription"

	// Infrastructure layer
	"github.com/alem-hub/alem-backoffice/internal/infrastructure/messaging"
	"github.com/alem-hub/alem-backoffice/internal/infrastructure/metrics"
	"github.com/alem-hub/alem-backoffice/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/alem-backoffice/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/alem-backoffice/internal/infrastructure/persistence/redis"

	// Interface layer
	httpserver "github.com/alem-hub/alem-backoffice/internal/interface/http"
	"github.com/alem-hub/alem-backoffice/internal/interface/http/handlers"

	// Packages
	"github.com/alem-hub/alem-backoffice/pkg/logger"
	"github.com/alem-hub/alem-backoffice/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// store - набор репозиториев, выбранный по конфигурации.
type store struct {
	curricula     curriculum.Repository
	subscriptions subscription.Repository
	groups        group.Repository
	attendance    attendanceStore
	runs          saga.RunRepository
	locker        subscription.Locker
}

// attendanceStore - журнал посещаемости с записью (нужна для демо-данных).
type attendanceStore interface {
	attendance.Ledger
	Append(ctx context.Context, s attendance.Session) error
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting Alem backoffice API",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.Bool("memory_store", cfg.UseMemoryStore()),
	)

	m := metrics.New(cfg.Observability.RuntimeMetrics)
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ХРАНИЛИЩЕ (PostgreSQL или память)
	// ─────────────────────────────────────────────────────────────────────────
	var st store
	if cfg.UseMemoryStore() {
		log.Warn("DATABASE_URL is not set, using the in-memory store")
		repos := memory.NewRepositories(memory.NewDB())
		st = store{
			curricula:     repos.Curricula,
			subscriptions: repos.Subscriptions,
			groups:        repos.Groups,
			attendance:    repos.Attendance,
			runs:          repos.Runs,
			locker:        memory.NewKeyedLocker(),
		}
	} else {
		conn, err := connectPostgres(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database connection...")
			conn.Close()
		}()
		health.AddCheck("postgres", handlers.NewPingCheck(conn))

		// ─────────────────────────────────────────────────────────────────────
		// 4. ЗАПУСК МИГРАЦИЙ
		// ─────────────────────────────────────────────────────────────────────
		if cfg.Database.AutoMigrate {
			applied, err := postgres.NewMigrator(conn).Migrate(ctx)
			if err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info("migrations completed", logger.Int("applied", applied))
		}

		st = store{
			curricula:     postgres.NewCurriculumRepository(conn),
			subscriptions: postgres.NewSubscriptionRepository(conn),
			groups:        postgres.NewGroupRepository(conn),
			attendance:    postgres.NewAttendanceLedger(conn),
			runs:          postgres.NewRunRepository(conn),
			locker:        memory.NewKeyedLocker(),
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ИНИЦИАЛИЗАЦИЯ REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	var forward []shared.EventPublisher
	if !cfg.Redis.Disabled {
		cache, err := connectRedis(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing Redis connection...")
			if err := cache.Close(); err != nil {
				log.Warn("failed to close Redis", logger.Err(err))
			}
		}()
		health.AddCheck("redis", handlers.NewPingCheck(cache))

		st.locker = redis.NewSubscriptionLocker(cache, cfg.Redis.LockTTL, log)
		st.curricula = redis.NewCurriculumCache(st.curricula, cache, cfg.Redis.CurriculumTTL, log)
		forward = append(forward, redis.NewEventPublisher(cache))
		log.Info("Redis enabled: distributed locks, curriculum cache, event fan-out")
	} else if !cfg.UseMemoryStore() {
		log.Warn("Redis is disabled, subscription locks are local to this process")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	bus := messaging.NewInMemoryEventBus(messaging.Config{
		AsyncMode:      cfg.Promotion.AsyncEvents,
		WorkerPoolSize: cfg.Promotion.EventWorkers,
		Forward:        forward,
		Logger:         log,
		Observer:       m,
	})
	defer func() {
		log.Info("closing event bus...")
		if err := bus.Close(); err != nil {
			log.Warn("failed to close event bus", logger.Err(err))
		}
	}()
	if err := bus.SubscribeAll(messaging.AuditLogHandler(log)); err != nil {
		return fmt.Errorf("failed to subscribe audit log: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ДЕМО-ДАННЫЕ (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.App.SeedDemoData {
		if err := seedDemoData(ctx, st, time.Now().UTC()); err != nil {
			return fmt.Errorf("failed to seed demo data: %w", err)
		}
		log.Info("demo data seeded", logger.CurriculumID(demoCurriculumID), logger.GroupID(demoGroupID))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	calc := progress.NewCalculator(st.curricula, st.attendance)
	clock := shared.SystemClock{}

	cmdDeps := command.Dependencies{
		Subscriptions: st.subscriptions,
		Curricula:     st.curricula,
		Progress:      calc,
		Locker:        st.locker,
		Events:        bus,
		Clock:         clock,
		Metrics:       m,
		Logger:        log,
	}
	promote := command.NewPromoteStudentHandler(cmdDeps)

	deps := httpserver.Dependencies{
		PromoteStudent: promote,
		DemoteStudent:  command.NewDemoteStudentHandler(cmdDeps),
		ResetProgress:  command.NewResetStudentProgressHandler(cmdDeps),
		UpdateRoster:   command.NewUpdateGroupRosterHandler(st.groups, bus, clock, log),
		GroupPromotion: saga.NewGroupPromotionSaga(saga.Dependencies{
			Groups:        st.groups,
			Curricula:     st.curricula,
			Subscriptions: st.subscriptions,
			Progress:      calc,
			Promoter:      promote,
			Runs:          st.runs,
			Events:        bus,
			Clock:         clock,
			Metrics:       m,
			Logger:        log,
		}),
		LevelCompletion: query.NewGetLevelCompletionHandler(st.curricula, st.subscriptions, calc),
		GetSubscription: query.NewGetSubscriptionHandler(st.curricula, st.subscriptions, clock),
		GetGroup:        query.NewGetGroupHandler(st.groups),
		Metrics:         m,
		HealthChecker:   health,
		Logger:          log,
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	srv := httpserver.NewServer(httpserver.Config{
		Host:           cfg.HTTP.Host,
		Port:           cfg.HTTP.Port,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		EnableMetrics:  cfg.Observability.MetricsEnabled,
	}, deps)
	errCh := srv.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 10. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("Alem backoffice API is running", logger.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	case err, ok := <-errCh:
		if ok && err != nil {
			log.Error("HTTP server failed", logger.Err(err))
			return err
		}
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown...", logger.Duration("timeout", cfg.App.ShutdownTimeout))
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", logger.Err(err))
		return err
	}

	// Event bus, Redis и база данных закроются через defer.
	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger настраивает структурированное логирование.
func setupLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		opts.Level = logger.LevelDebug
	}
	opts.Format = logger.Format(cfg.Observability.LogFormat)
	return logger.New(opts).With(logger.String("service", cfg.App.Name))
}

// connectPostgres подключается к базе, повторяя попытки, пока она поднимается.
func connectPostgres(ctx context.Context, cfg *config.Config, log *logger.Logger) (*postgres.Connection, error) {
	log.Info("connecting to database...")
	opts := postgres.PoolOptions{
		MaxConns:          cfg.Database.MaxConns,
		MinConns:          cfg.Database.MinConns,
		MaxConnLifetime:   cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime:   cfg.Database.ConnMaxIdleTime,
		HealthCheckPeriod: time.Minute,
	}

	var conn *postgres.Connection
	err := startupRetrier(cfg, "postgres", log).Do(ctx, func(ctx context.Context) error {
		c, err := postgres.Connect(ctx, cfg.Database.URL, opts)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("database connection established")
	return conn, nil
}

// connectRedis подключается к Redis с теми же повторами.
func connectRedis(ctx context.Context, cfg *config.Config, log *logger.Logger) (*redis.Cache, error) {
	log.Info("connecting to Redis...", logger.String("addr", cfg.Redis.Addr))
	rc := redis.DefaultConfig()
	rc.Addr = cfg.Redis.Addr
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.PoolSize = cfg.Redis.PoolSize
	rc.MinIdleConns = cfg.Redis.MinIdleConns
	rc.DialTimeout = cfg.Redis.DialTimeout
	rc.ReadTimeout = cfg.Redis.ReadTimeout
	rc.WriteTimeout = cfg.Redis.WriteTimeout

	var cache *redis.Cache
	err := startupRetrier(cfg, "redis", log).Do(ctx, func(ctx context.Context) error {
		c, err := redis.NewCache(ctx, rc)
		if err != nil {
			return err
		}
		cache = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return cache, nil
}

func startupRetrier(cfg *config.Config, target string, log *logger.Logger) *retry.Retrier {
	return retry.StartupRetrier(cfg.Database.ConnectAttempts, func(attempt int, err error, delay time.Duration) {
		log.Warn("backing service not reachable, retrying",
			logger.String("target", target),
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Err(err),
		)
	})
}

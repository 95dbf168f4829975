package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"orthoplus/internal/accessgate"
	"orthoplus/internal/audit"
	auditkafka "orthoplus/internal/audit/kafka"
	auditmemory "orthoplus/internal/audit/store/memory"
	auditpg "orthoplus/internal/audit/store/postgres"
	"orthoplus/internal/modules/handler"
	modulemetrics "orthoplus/internal/modules/metrics"
	"orthoplus/internal/modules/service"
	"orthoplus/internal/modules/store/state"
	"orthoplus/internal/platform/config"
	"orthoplus/internal/platform/httpserver"
	"orthoplus/internal/platform/logger"
	"orthoplus/internal/platform/postgres"
	"orthoplus/internal/platform/redis"
	"orthoplus/internal/registry"
	"orthoplus/internal/server"
	"orthoplus/internal/sessiontoken"
	id "orthoplus/pkg/domain"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Environment)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.MustLoadCatalog()

	// Storage. Without DATABASE_URL everything runs in memory, which is the
	// local development mode.
	var (
		stateStore service.StateStore
		auditStore audit.Store
		gateReader accessgate.StateReader
		relaySrc   *auditpg.Store
	)
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := postgres.ApplySchema(ctx, db); err != nil {
			return err
		}

		readPool, err := postgres.OpenReadPool(ctx, cfg.Database.ReadURL, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer readPool.Close()

		pgAudit := auditpg.New(db)
		stateStore = state.NewPostgres(db)
		auditStore = pgAudit
		relaySrc = pgAudit
		gateReader = accessgate.NewPostgresReader(readPool)
	} else {
		log.Warn("DATABASE_URL not set, running with in-memory storage")
		memState := state.NewInMemory()
		stateStore = memState
		auditStore = auditmemory.NewInMemoryStore()
		gateReader = &memoryReader{store: memState}
	}

	// Access gate, with Redis in front when configured.
	gateOpts := []accessgate.Option{accessgate.WithLogger(log)}
	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		gateOpts = append(gateOpts, accessgate.WithCache(accessgate.NewRedisCache(redisClient.Client), cfg.GateCacheTTL))
	} else {
		log.Warn("REDIS_URL not set, access gate runs uncached")
	}
	gate := accessgate.New(reg, gateReader, gateOpts...)

	publisher := audit.NewPublisher(auditStore)
	defer publisher.Close()

	svc := service.New(reg, stateStore,
		service.WithLogger(log),
		service.WithAuditPublisher(publisher),
		service.WithMetrics(modulemetrics.New()),
		service.WithGateInvalidator(gate),
		service.WithRetries(cfg.ToggleRetries),
	)

	tokens := sessiontoken.NewService(cfg.JWTSigningKey, "orthoplus", "orthoplus")

	router := server.NewRouter(server.Deps{
		Logger:         log,
		Session:        sessiontoken.NewAdapter(tokens),
		AdminTokenHash: cfg.AdminTokenHash,
		Modules:        handler.New(svc, gate, log),
		Admin:          handler.NewAdmin(svc, log),
	})

	srv := httpserver.New(cfg.Addr, router)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("server listening", "addr", cfg.Addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Audit relay, when both Postgres and Kafka are configured.
	if relaySrc != nil && len(cfg.Kafka.Brokers) > 0 {
		relay, err := auditkafka.NewRelay(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, relaySrc, log)
		if err != nil {
			return err
		}
		defer relay.Close()

		group.Go(func() error {
			log.Info("audit relay started", "topic", cfg.Kafka.AuditTopic)
			if err := relay.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// memoryReader serves the access gate from the in-memory state store when no
// database is configured.
type memoryReader struct {
	store *state.InMemory
}

func (r *memoryReader) ActiveModules(ctx context.Context, tenantID id.TenantID) ([]id.ModuleKey, error) {
	tm, err := r.store.Load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return tm.ActiveKeys(), nil
}

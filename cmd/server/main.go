package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"custodia/internal/audit"
	auditHandler "custodia/internal/audit/handler"
	auditpg "custodia/internal/audit/store/postgres"
	"custodia/internal/consent"
	consentHandler "custodia/internal/consent/handler"
	consentpg "custodia/internal/consent/store/postgres"
	"custodia/internal/dsr"
	dsrHandler "custodia/internal/dsr/handler"
	dsrpg "custodia/internal/dsr/store/postgres"
	"custodia/internal/erasure"
	erasurepg "custodia/internal/erasure/store/postgres"
	"custodia/internal/export"
	"custodia/internal/fieldcrypt"
	"custodia/internal/platform/config"
	"custodia/internal/platform/httpserver"
	"custodia/internal/platform/jwtauth"
	"custodia/internal/platform/kafka"
	"custodia/internal/platform/kafka/consumer"
	"custodia/internal/platform/kafka/producer"
	"custodia/internal/platform/logger"
	"custodia/internal/platform/metrics"
	"custodia/internal/platform/postgres"
	platformredis "custodia/internal/platform/redis"
	"custodia/internal/purge"
	"custodia/internal/retention"
	httptransport "custodia/internal/transport/http"
	"custodia/migrations"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)
	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	policy := retention.Default()

	codec, err := fieldcrypt.New(cfg.FieldEncryptionKey)
	if err != nil {
		return fmt.Errorf("init field codec: %w", err)
	}
	validator, err := jwtauth.NewValidator(cfg.JWTSigningKey)
	if err != nil {
		return fmt.Errorf("init jwt validator: %w", err)
	}

	backend, err := newBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backend.close()

	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	auditOpts := []audit.Option{audit.WithMetrics(m)}
	if redisClient != nil {
		auditOpts = append(auditOpts, audit.WithNotifier(audit.NewRedisNotifier(redisClient, "")))
	}
	auditor := audit.NewService(backend.auditStore, codec, policy, log, auditOpts...)
	defer auditor.Flush()

	consents := consent.NewService(backend.consentStore, backend.consentTx, auditor, consent.WithMetrics(m))

	sources := append(backend.sources,
		export.NewConsentHistorySource(consents),
		export.NewSecurityEventsSource(auditor),
	)
	collector, err := export.NewCollector(sources...)
	if err != nil {
		return fmt.Errorf("init export collector: %w", err)
	}

	eraser := erasure.NewEngine(backend.subjects, backend.holds, backend.auditStore, backend.purgers...)

	dsrService := dsr.NewService(backend.dsrStore, backend.dsrTx, collector, eraser, consents, auditor, log, dsr.WithMetrics(m))

	var kafkaConsumer *consumer.Consumer
	if cfg.KafkaBrokers != "" {
		if err := kafka.EnsureTopics(ctx, cfg.KafkaBrokers, cfg.DSRTopic); err != nil {
			return fmt.Errorf("ensure kafka topics: %w", err)
		}
		kafkaProducer, err := producer.New(producer.Config{Brokers: cfg.KafkaBrokers, Retries: 5}, log)
		if err != nil {
			return fmt.Errorf("create kafka producer: %w", err)
		}
		defer kafkaProducer.Close()
		dsrService.SetDispatcher(dsr.NewKafkaDispatcher(kafkaProducer, cfg.DSRTopic))

		kafkaConsumer, err = consumer.New(consumer.Config{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.DSRGroupID,
			Topics:  []string{cfg.DSRTopic},
		}, dsr.NewWorker(dsrService, log), log)
		if err != nil {
			return fmt.Errorf("create kafka consumer: %w", err)
		}
		kafkaConsumer.Start()
	} else {
		inProcess := dsr.NewInProcessDispatcher(dsrService, log)
		dsrService.SetDispatcher(inProcess)
		defer inProcess.Wait()
	}

	scheduler := purge.NewScheduler(backend.auditStore, auditor, log, cfg.PurgeInterval, purge.WithMetrics(m))
	scheduler.Start(ctx)
	defer scheduler.Stop()

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:       log,
		JWTValidator: validator,
		DSR:          dsrHandler.New(dsrService, log),
		Consent:      consentHandler.New(consents, log),
		Audit:        auditHandler.New(auditor, log),
		Health:       healthHandler(backend, redisClient),
	})
	srv := httpserver.New(cfg.Addr, router, cfg.HTTPWriteTimeout)

	errCh := make(chan error, 1)
	go func() {
		log.Info("custodia listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(shutdownCtx); err != nil {
			log.Warn("kafka consumer shutdown incomplete", "error", err)
		}
	}
	return nil
}

// backend bundles the persistence wiring. Without a Postgres URL everything
// runs on the in-memory stores, which is enough for local development.
type backend struct {
	db           *postgres.DB
	auditStore   audit.Store
	consentStore consent.Store
	consentTx    consent.TxRunner
	dsrStore     dsr.Store
	dsrTx        dsr.TxRunner
	subjects     erasure.SubjectStore
	holds        erasure.HoldStore
	purgers      []erasure.DomainPurger
	sources      []export.DomainSource
}

func (b *backend) close() {
	if b.db != nil {
		b.db.Close()
	}
}

// platformDomains maps each dependent data domain to its table. The same
// tables feed the export fan-out and the erasure purge.
var platformDomains = []struct {
	name  string
	table string
}{
	{"work_items", "work_items"},
	{"generated_content", "generated_content"},
	{"analytics_records", "analytics_records"},
	{"notifications", "notifications"},
	{"discussion_posts", "discussion_posts"},
	{"uploaded_files", "uploaded_files"},
}

func newBackend(ctx context.Context, cfg config.Config, log *slog.Logger) (*backend, error) {
	if cfg.PostgresURL == "" {
		log.Warn("no postgres configured, using in-memory stores")
		auditStore := audit.NewMemoryStore()
		consentStore := consent.NewMemoryStore()
		dsrStore := dsr.NewMemoryStore()
		return &backend{
			auditStore:   auditStore,
			consentStore: consentStore,
			consentTx:    consent.NewMemoryTx(consentStore),
			dsrStore:     dsrStore,
			dsrTx:        dsr.NewMemoryTx(dsrStore),
			subjects:     erasure.NewMemorySubjectStore(),
			holds:        erasure.NewMemoryHoldStore(),
		}, nil
	}

	db, err := postgres.Connect(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS, log); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	b := &backend{
		db:           db,
		auditStore:   auditpg.New(db.Pool),
		consentStore: consentpg.New(db.SQL),
		consentTx:    newConsentPostgresTx(db.SQL),
		dsrStore:     dsrpg.New(db.SQL),
		dsrTx:        newDSRPostgresTx(db.SQL),
		subjects:     erasurepg.NewSubjectStore(db.Pool),
		holds:        erasurepg.NewHoldStore(db.Pool),
	}
	b.sources = append(b.sources, export.NewSQLSource("profile", db.Pool,
		`SELECT id, email, display_name AS name, active, created_at FROM users WHERE id = $1 AND tenant = $2`))
	for _, domain := range platformDomains {
		b.sources = append(b.sources, export.NewSQLSource(domain.name, db.Pool,
			fmt.Sprintf(`SELECT * FROM %s WHERE user_id = $1 AND tenant = $2`, domain.table)))
		b.purgers = append(b.purgers, erasurepg.NewTablePurger(domain.name, db.Pool, domain.table, "user_id"))
	}
	return b, nil
}

func healthHandler(b *backend, redisClient *platformredis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if b.db != nil {
			if err := b.db.Pool.Ping(ctx); err != nil {
				http.Error(w, `{"status":"degraded","postgres":"down"}`, http.StatusServiceUnavailable)
				return
			}
		}
		if redisClient != nil {
			if err := redisClient.Health(ctx); err != nil {
				http.Error(w, `{"status":"degraded","redis":"down"}`, http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

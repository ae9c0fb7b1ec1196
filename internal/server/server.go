// Package server assembles the practicum HTTP service from configuration:
// stores, services, the audit pipeline and the router.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	attendancehandler "practicum/internal/attendance/handler"
	attendancemetrics "practicum/internal/attendance/metrics"
	"practicum/internal/attendance/presence"
	attendanceservice "practicum/internal/attendance/service"
	"practicum/internal/attendance/store/scan"
	"practicum/internal/attendance/token"
	jwttoken "practicum/internal/jwt_token"
	meetinghandler "practicum/internal/meeting/handler"
	meetingmetrics "practicum/internal/meeting/metrics"
	meetingservice "practicum/internal/meeting/service"
	meetingstore "practicum/internal/meeting/store"
	"practicum/internal/platform/config"
	"practicum/internal/platform/db"
	"practicum/internal/platform/kafka"
	"practicum/internal/platform/metrics"
	"practicum/internal/platform/redis"
	rlmetrics "practicum/internal/ratelimit/metrics"
	rlmiddleware "practicum/internal/ratelimit/middleware"
	rlmodels "practicum/internal/ratelimit/models"
	"practicum/internal/ratelimit/store/bucket"
	audit "practicum/pkg/platform/audit"
	"practicum/pkg/platform/audit/consumer"
	"practicum/pkg/platform/audit/publisher"
	auditmemory "practicum/pkg/platform/audit/store/memory"
	auditpg "practicum/pkg/platform/audit/store/postgres"
	"practicum/pkg/platform/audit/worker"
	"practicum/pkg/platform/httputil"
	authmw "practicum/pkg/platform/middleware/auth"
	"practicum/pkg/platform/middleware/device"
	"practicum/pkg/platform/middleware/metadata"
	"practicum/pkg/platform/middleware/request"
	"practicum/pkg/platform/middleware/requesttime"
	"practicum/pkg/platform/tx"
)

const auditTopicPartitions = 3

// App is the wired process: the router plus the loops that run beside it.
type App struct {
	Router     http.Handler
	Background []func(ctx context.Context) error
	closers    []func()
}

type Option func(*options)

type options struct {
	clock func() time.Time
}

// WithClock replaces the wall clock used to stamp each request.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

type scanStore interface {
	attendanceservice.ScanStore
	presence.Store
}

// Build connects the configured backends and wires every module. The caller
// runs Router and each Background loop, then calls Close.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{}
	fail := func(err error) (*App, error) {
		a.Close()
		return nil, err
	}

	var pg *sql.DB
	if cfg.Database.URL != "" {
		conn, err := db.Open(ctx, cfg.Database.URL)
		if err != nil {
			return fail(fmt.Errorf("open postgres: %w", err))
		}
		pg = conn
		a.closers = append(a.closers, func() { _ = conn.Close() })
		log.Info("postgres connected")
	}

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return fail(fmt.Errorf("connect redis: %w", err))
	}
	if redisClient != nil {
		a.closers = append(a.closers, func() { _ = redisClient.Close() })
		log.Info("redis connected")
	}

	// Audit: outbox-backed when Postgres is available, otherwise in memory.
	var auditStore audit.Store = auditmemory.NewInMemoryStore()
	if pg != nil {
		auditStore = auditpg.New(pg)
	}
	auditPublisher := publisher.NewPublisher(auditStore, publisher.WithLogger(log))
	a.closers = append(a.closers, auditPublisher.Close)

	if pg != nil && len(cfg.Kafka.Brokers) > 0 {
		if err := wireAuditRelay(ctx, a, cfg, log, pg); err != nil {
			return fail(err)
		}
	}

	attendanceOpts := []attendanceservice.Option{
		attendanceservice.WithLogger(log),
		attendanceservice.WithAuditPublisher(auditPublisher),
		attendanceservice.WithMetrics(attendancemetrics.New()),
	}
	var scans scanStore
	switch cfg.Attendance.ScanStore {
	case config.ScanStorePostgres:
		scans = scan.NewPostgres(pg)
		// Scan rows and the audit outbox share one Postgres transaction.
		attendanceOpts = append(attendanceOpts, attendanceservice.WithTxRunner(tx.NewRunner(pg)))
	case config.ScanStoreRedis:
		scans = scan.NewRedis(redisClient.Client, scan.WithNonceTTL(cfg.Attendance.Window*2))
	default:
		scans = scan.NewInMemory()
	}

	codec, err := token.NewCodec(cfg.Attendance.Secret, cfg.Attendance.Window)
	if err != nil {
		return fail(fmt.Errorf("attendance codec: %w", err))
	}
	issuer, err := token.NewIssuer(codec, cfg.Attendance.Rotation)
	if err != nil {
		return fail(fmt.Errorf("attendance issuer: %w", err))
	}
	aggregator := presence.NewAggregator(scans, presence.Policy{
		Location:  cfg.Presence.Location,
		Freshness: cfg.Presence.Freshness,
		DayCutoff: cfg.Presence.DayCutoff,
	})

	attendanceSvc := attendanceservice.New(issuer, codec, scans, aggregator, attendanceOpts...)

	var meetings meetingservice.Store = meetingstore.NewInMemory()
	if pg != nil {
		meetings = meetingstore.NewPostgres(pg)
	}
	meetingSvc := meetingservice.New(meetings,
		meetingservice.WithLogger(log),
		meetingservice.WithAuditPublisher(auditPublisher),
		meetingservice.WithMetrics(meetingmetrics.New()),
	)

	var limitStore rlmiddleware.Store = bucket.New()
	if redisClient != nil {
		limitStore = bucket.NewRedis(redisClient.Client)
	}
	limiter := rlmiddleware.New(limitStore, log,
		rlmiddleware.WithDisabled(cfg.RateLimit.Disabled),
		rlmiddleware.WithLimit(rlmodels.ClassTokenIssue, rlmodels.Limit{RequestsPerWindow: cfg.RateLimit.TokensPerWindow, Window: cfg.RateLimit.Window}),
		rlmiddleware.WithLimit(rlmodels.ClassScan, rlmodels.Limit{RequestsPerWindow: cfg.RateLimit.ScansPerWindow, Window: cfg.RateLimit.Window}),
		rlmiddleware.WithMetrics(rlmetrics.New()),
	)

	jwtService := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience)
	a.Router = newRouter(cfg, log, o.clock, routerDeps{
		validator:  jwtService.Middleware(),
		attendance: attendancehandler.New(attendanceSvc, log, attendancehandler.WithRateLimiter(limiter)),
		meetings:   meetinghandler.New(meetingSvc, log),
		health:     healthCheck(pg, redisClient),
	})
	return a, nil
}

// wireAuditRelay bootstraps the audit topic, then schedules the outbox relay
// and the materializing consumer.
func wireAuditRelay(ctx context.Context, a *App, cfg *config.Config, log *slog.Logger, pg *sql.DB) error {
	producer, err := kafka.NewProducer(cfg.Kafka.Brokers)
	if err != nil {
		return fmt.Errorf("kafka producer: %w", err)
	}
	a.closers = append(a.closers, producer.Close)
	if err := kafka.EnsureTopic(ctx, producer, cfg.Kafka.AuditTopic, auditTopicPartitions); err != nil {
		return fmt.Errorf("ensure audit topic: %w", err)
	}

	relay := worker.NewWorker(worker.NewPostgresOutbox(pg), producer, cfg.Kafka.AuditTopic,
		worker.WithLogger(log),
		worker.WithMetrics(worker.NewMetrics()),
	)

	client, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, cfg.Kafka.AuditTopic)
	if err != nil {
		return fmt.Errorf("kafka consumer: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	materializer := consumer.New(client, consumer.NewHandler(auditpg.New(pg), log), log)

	a.Background = append(a.Background, relay.Run, materializer.Run)
	log.Info("audit relay enabled", "topic", cfg.Kafka.AuditTopic, "brokers", cfg.Kafka.Brokers)
	return nil
}

type routerDeps struct {
	validator  authmw.JWTValidator
	attendance *attendancehandler.Handler
	meetings   *meetinghandler.Handler
	health     func(ctx context.Context) error
}

func newRouter(cfg *config.Config, log *slog.Logger, clock func() time.Time, deps routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(log))
	r.Use(request.Logger(log))
	r.Use(request.Timeout(cfg.Server.RequestTimeout))
	r.Use(requesttime.New(clock))
	r.Use(metadata.ClientMetadata)
	r.Use(device.Middleware)
	r.Use(metrics.New().Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := deps.health(r.Context()); err != nil {
			log.WarnContext(r.Context(), "health check failed", "error", err)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(deps.validator, log))
		deps.attendance.Register(r)
		deps.meetings.Register(r)
	})
	return r
}

func healthCheck(pg *sql.DB, rc *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if pg != nil {
			if err := pg.PingContext(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
		}
		if rc != nil {
			if err := rc.Health(ctx); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/technosupport/firewatch/internal/alarms"
	"github.com/technosupport/firewatch/internal/api"
	"github.com/technosupport/firewatch/internal/audit"
	"github.com/technosupport/firewatch/internal/auth"
	"github.com/technosupport/firewatch/internal/config"
	"github.com/technosupport/firewatch/internal/data"
	"github.com/technosupport/firewatch/internal/detection"
	"github.com/technosupport/firewatch/internal/events"
	"github.com/technosupport/firewatch/internal/evidence"
	"github.com/technosupport/firewatch/internal/ingest"
	"github.com/technosupport/firewatch/internal/live"
	"github.com/technosupport/firewatch/internal/logging"
	"github.com/technosupport/firewatch/internal/markers"
	"github.com/technosupport/firewatch/internal/metrics"
	"github.com/technosupport/firewatch/internal/middleware"
	"github.com/technosupport/firewatch/internal/pipeline"
	"github.com/technosupport/firewatch/internal/platform/paths"
	"github.com/technosupport/firewatch/internal/ratelimit"
	"github.com/technosupport/firewatch/internal/session"
	"github.com/technosupport/firewatch/internal/stream"
	"github.com/technosupport/firewatch/internal/tokens"
	"github.com/technosupport/firewatch/internal/users"
)

const serviceName = "firewatch"

func main() {
	configPath := flag.String("config", "", "path to config file (default $FIREWATCH_CONFIG or config/default.yaml)")
	flag.Parse()

	if err := run(paths.ResolveConfigPath(*configPath)); err != nil {
		fmt.Fprintf(os.Stderr, "firewatch: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ResolveDirs(); err != nil {
		return fmt.Errorf("platform init: %w", err)
	}

	logger, level, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Service)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go config.Watch(ctx, configPath, logger, func(next *config.Config) {
		level.SetLevel(logging.ParseLevel(next.Logging.Level))
	})

	if cfg.Auth.Argon2 != nil {
		auth.SetDefaultParams(cfg.Auth.Argon2)
	}

	probes := map[string]metrics.Probe{}

	// Storage
	var (
		db       *sql.DB
		store    alarms.Store
		userRepo users.Repository
	)
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		db, err = data.Open(ctx, cfg.Database.DSN(), cfg.Database.PoolConfig)
		if err != nil {
			return err
		}
		defer db.Close()
		probes["database"] = db.PingContext
		store = data.AlarmModel{DB: db}
		userRepo = data.UserModel{DB: db}
		logger.Info("database connected", zap.String("host", cfg.Database.Host), zap.String("name", cfg.Database.Name))
	default:
		store = alarms.NewMemoryStore()
		mem := users.NewMemoryRepo()
		if err := bootstrapAdmin(ctx, mem, logger); err != nil {
			return err
		}
		userRepo = mem
		logger.Warn("using in-memory storage, alarms are lost on restart")
	}

	// Sessions, revocation and login throttling
	var (
		sessions  users.SessionStore
		blacklist auth.TokenBlacklist
		limiter   *ratelimit.Limiter
	)
	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		probes["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		sessions = session.NewManager(rdb).WithLockout(cfg.Auth.LockoutThreshold, cfg.Auth.LockoutTTL)
		blacklist = auth.NewRedisBlacklist(rdb)
		limiter = ratelimit.NewLimiter(rdb, cfg.Auth.IPSalt)
	} else {
		blacklist = auth.NewMemoryBlacklist(10000, cfg.Auth.TokenTTL)
		logger.Warn("redis disabled: no lockout, no login rate limit, revocations are process-local")
	}
	tokenMgr := tokens.NewManager(cfg.Auth.SigningKey, cfg.Auth.TokenTTL)

	// Event fan-out
	hub := events.NewHub()
	defer hub.Close()
	buffer := cfg.Events.SubscriberBuffer

	if n := cfg.Events.NATS; n.Enabled {
		nc, err := events.ConnectNATS(n.URL, serviceName, logger)
		if err != nil {
			logger.Warn("nats unavailable, alarm relay disabled", zap.Error(err))
		} else {
			defer nc.Close()
			probes["nats"] = func(context.Context) error {
				if nc.Status() != nats.CONNECTED {
					return fmt.Errorf("nats %s", nc.Status())
				}
				return nil
			}
			sink := events.NewNATSSink(nc, n.Subject, n.MaxRetries, logger)
			go sink.Run(ctx, hub.Subscribe("nats", buffer, events.AlarmKinds...))
		}
	}
	if m := cfg.Events.MQTT; m.Enabled {
		client, err := events.ConnectMQTT(m.MQTTConfig, logger)
		if err != nil {
			logger.Warn("mqtt unavailable, alarm relay disabled", zap.Error(err))
		} else {
			defer client.Disconnect(250)
			sink := events.NewMQTTSink(client, m.Topic, m.QoS, logger)
			go sink.Run(ctx, hub.Subscribe("mqtt", buffer, events.AlarmKinds...))
		}
	}

	ev, err := evidence.NewFileStore(cfg.Evidence.Dir, cfg.Evidence.CacheSize)
	if err != nil {
		return err
	}

	// Audit trail. Interfaces stay nil when disabled so callers skip recording.
	var (
		alarmAuditor alarms.Auditor
		userAuditor  users.Auditor
		auditLister  api.AuditLister
	)
	if cfg.Audit.Enabled {
		spool, err := audit.NewSpool(cfg.Audit.SpoolDir, cfg.Audit.MaxSpoolMB<<20)
		if err != nil {
			return err
		}
		writer := audit.NewWriter(db, spool, logger)
		writer.Start(ctx, cfg.Audit.ReplayInterval)
		if cfg.Audit.Retention > 0 {
			if err := audit.CheckRetention(cfg.Audit.Retention); err != nil {
				return err
			}
			go purgeLoop(ctx, writer, cfg.Audit.Retention, logger)
		}
		alarmAuditor, userAuditor, auditLister = writer, writer, writer
	}

	lifecycle := alarms.NewLifecycle(store, hub, alarmAuditor, logger)
	userSvc := &users.Service{
		Repo:      userRepo,
		Tokens:    tokenMgr,
		Sessions:  sessions,
		Blacklist: blacklist,
		Audit:     userAuditor,
		Logger:    logger,
	}

	ingestor := ingest.New(cfg.Ingest, store, ev, hub, logger)
	ingestor.Start()
	defer ingestor.Stop()

	index := markers.NewIndex(store, logger.Named("markers"))
	if err := index.Rebuild(ctx); err != nil {
		return fmt.Errorf("marker rebuild: %w", err)
	}
	go index.Follow(ctx, hub.Subscribe("markers", buffer, events.AlarmRaised, events.AlarmDisposed), markers.DefaultResync)

	var liveHandler http.Handler
	if cfg.Live.Enabled {
		opts := live.Options{MaxFPS: cfg.Live.MaxFPS, Quality: cfg.Live.Quality}
		if cfg.Live.Overlay {
			opts.Overlay = func() []alarms.BoundingBox {
				octx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
				defer cancel()
				boxes, err := markers.OpenBoxes(octx, store)
				if err != nil {
					logger.Debug("overlay lookup failed", zap.Error(err))
				}
				return boxes
			}
		}
		feed := live.NewFeed(opts, logger)
		go feed.Follow(ctx, hub.Subscribe("live", 2, events.FrameDecoded))
		liveHandler = feed
	}

	worker := &pipeline.Worker{
		Open: func(ctx context.Context) (stream.Source, error) {
			return stream.Open(ctx, cfg.Stream.URL, stream.Options{
				BearerToken:    cfg.Stream.BearerToken,
				MaxFrameBytes:  cfg.Stream.MaxFrameBytes,
				ConnectTimeout: cfg.Stream.ConnectTimeout,
			})
		},
		Sampler:   detection.Sampler{Stride: cfg.Detection.Stride},
		Detector:  detection.New(cfg.Detection),
		Ingestor:  ingestor,
		Hub:       hub,
		Backoff:   cfg.Stream.Backoff,
		StopGrace: cfg.Stream.StopGrace,
		Logger:    logger.Named("pipeline"),
	}
	if err := worker.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := worker.Stop(); err != nil {
			logger.Warn("worker stop", zap.Error(err))
		}
	}()

	probes["stream"] = func(context.Context) error {
		if st := worker.Status(); st.State != pipeline.StateRunning {
			return fmt.Errorf("worker %s: %s", st.State, st.LastError)
		}
		return nil
	}
	unprocessed := alarms.Unprocessed
	metrics.NewCollector(metrics.CollectorConfig{
		Probes: probes,
		Backlog: func(ctx context.Context) (int, error) {
			list, err := store.ListByFilter(ctx, alarms.StoreFilter{Disposition: &unprocessed})
			return len(list), err
		},
		Logger: logger,
	}, nil).Start(ctx)

	var loginLimit *middleware.RateLimitMiddleware
	if limiter != nil {
		loginLimit = middleware.NewRateLimitMiddleware(limiter, "login", cfg.Auth.LoginRate, logger)
	}

	srv := api.NewServer(api.Deps{
		Lifecycle:  lifecycle,
		Store:      store,
		Evidence:   ev,
		Markers:    index,
		Users:      userSvc,
		Audit:      auditLister,
		Worker:     worker,
		Hub:        hub,
		Live:       liveHandler,
		Auth:       middleware.NewJWTAuth(tokenMgr, blacklist, logger),
		LoginLimit: loginLimit,
		Origins:    cfg.Server.CORSOrigins,
		WSBuffer:   buffer,
		Logger:     logger,
	})

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", server.Addr), zap.String("stream", cfg.Stream.URL))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	return nil
}

// bootstrapAdmin seeds the in-memory user table from FIREWATCH_ADMIN_PASSWORD.
func bootstrapAdmin(ctx context.Context, repo *users.MemoryRepo, logger *zap.Logger) error {
	password := os.Getenv("FIREWATCH_ADMIN_PASSWORD")
	if password == "" {
		logger.Warn("FIREWATCH_ADMIN_PASSWORD not set, no account can log in")
		return nil
	}
	username := os.Getenv("FIREWATCH_ADMIN_USER")
	if username == "" {
		username = "admin"
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	return repo.Create(ctx, &data.User{Username: username, PasswordHash: hash, Role: alarms.RoleAdmin})
}

func purgeLoop(ctx context.Context, w *audit.Writer, retention time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		n, err := w.Purge(ctx, retention)
		if err != nil {
			logger.Warn("audit purge failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("audit entries purged", zap.Int64("count", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

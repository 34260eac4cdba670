// Package app wires the Haven runtime: config, logging, storage, the
// notification dispatcher, realtime gateways and the chat HTTP API.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"haven/cmd/internal/auth"
	"haven/cmd/internal/chatapi"
	"haven/cmd/internal/conversation"
	"haven/cmd/internal/directory"
	"haven/cmd/internal/notify"
	"haven/cmd/internal/ratelimit"
	"haven/cmd/internal/realtime"
	"haven/cmd/internal/telemetry"
	"haven/cmd/security/msgcrypt"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// App is the Haven server runtime. It owns the DB pool and Redis client
// lifecycles; stores built on them never close them.
type App struct {
	cfg Config
	log Logger

	pool  *pgxpool.Pool
	redis *redis.Client

	registry   *prometheus.Registry
	dispatcher *notify.Dispatcher
	handler    http.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (_ *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := telemetry.New(a.registry)
	if err != nil {
		return nil, err
	}

	codec, err := msgcrypt.NewFromEnv()
	if err != nil {
		return nil, err
	}

	store, dir, err := a.newStores(ctx)
	if err != nil {
		return nil, err
	}
	svc, err := conversation.NewService(store, codec, conversation.WithLogger(log))
	if err != nil {
		return nil, err
	}

	rlStore, err := a.newLimitStore(ctx)
	if err != nil {
		return nil, err
	}

	a.dispatcher, err = notify.NewDispatcher(log, dir, cfg.Notify, a.newTransports(), notify.WithMetrics(metrics))
	if err != nil {
		return nil, err
	}

	authn, err := auth.New(cfg.Auth)
	if err != nil {
		return nil, err
	}
	if cfg.Auth.DevHeader {
		log.Warn("auth.dev_header.enabled", "header", auth.HeaderUserID)
	}

	hub := realtime.NewHub(log, realtime.WithHubMetrics(metrics))
	relay := realtime.NewRelay(log, hub, a.dispatcher)

	chat, err := realtime.NewChatGateway(log, cfg.WS, hub, relay, svc, authn,
		realtime.WithLiveLimiter(ratelimit.NewLimiter(rlStore, cfg.LivePolicy, ratelimit.WithLogger(log))),
		realtime.WithChatMetrics(metrics),
	)
	if err != nil {
		return nil, err
	}
	personal, err := realtime.NewNotificationGateway(log, cfg.WS, hub, authn, metrics)
	if err != nil {
		return nil, err
	}

	api, err := chatapi.NewHandler(log, svc, relay, authn,
		chatapi.WithSendLimiter(ratelimit.NewLimiter(rlStore, cfg.HTTPPolicy, ratelimit.WithLogger(log))),
		chatapi.WithCreateLimiter(ratelimit.NewLimiter(rlStore, cfg.CreatePolicy, ratelimit.WithLogger(log))),
		chatapi.WithMetrics(metrics),
	)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	registerHTTP(mux, routes{
		log:      log,
		cfg:      cfg,
		pool:     a.pool,
		redis:    a.redis,
		registry: a.registry,
		chat:     chat,
		personal: personal,
		api:      api,
	})
	a.handler = WithRequestLogging(WithSecurityHeaders(WithCORS(mux, cfg, log)), log)

	return a, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the HTTP server and the notification workers and blocks until
// ctx is done or either fails. Queued notifications are drained before Run
// returns.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"db_enabled", a.pool != nil,
		"redis_enabled", a.redis != nil,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.dispatcher.Run(gctx)
	})

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()
	a.log.Info("server.stopped")
	return err
}

func (a *App) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
		a.redis = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStores decides between Postgres-backed persistence and the in-memory
// dev stores.
func (a *App) newStores(ctx context.Context) (conversation.Store, directory.Directory, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		return conversation.NewMemoryStore(), directory.NewStaticDirectory(), nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return nil, nil, err
	}
	a.pool = pool

	store, err := conversation.NewPostgresStore(pool, conversation.WithSchema(a.cfg.DBSchema))
	if err != nil {
		return nil, nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, nil, err
	}

	dir, err := directory.NewPostgresDirectory(pool, directory.WithSchema(a.cfg.DBSchema))
	if err != nil {
		return nil, nil, err
	}
	if err := dir.EnsureSchema(ctx); err != nil {
		return nil, nil, err
	}

	a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DBSchema)
	return store, dir, nil
}

// newLimitStore shares rate-limit windows through Redis when configured.
func (a *App) newLimitStore(ctx context.Context) (ratelimit.Store, error) {
	if a.cfg.RedisURL == "" {
		a.log.Info("ratelimit.store.memory")
		return ratelimit.NewMemoryStore(), nil
	}

	client, err := NewRedisClient(ctx, a.cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	a.redis = client

	a.log.Info("ratelimit.store.redis")
	return ratelimit.NewRedisStore(client)
}

// newTransports picks the real transport per channel when it is configured
// and a logging stand-in otherwise, so every channel is always served.
func (a *App) newTransports() []notify.Transport {
	var out []notify.Transport

	if a.cfg.PushEnabled {
		out = append(out, notify.NewPushTransport(a.cfg.Push))
	} else {
		out = append(out, notify.NewLogTransport(a.log, notify.ChannelPush))
	}

	if a.cfg.SMTP.Addr != "" {
		t, err := notify.NewSMTPTransport(a.cfg.SMTP)
		if err != nil {
			a.log.Warn("notify.transport.smtp.disabled", "err", err)
			out = append(out, notify.NewLogTransport(a.log, notify.ChannelEmail))
		} else {
			out = append(out, t)
		}
	} else {
		out = append(out, notify.NewLogTransport(a.log, notify.ChannelEmail))
	}

	if a.cfg.SMS.URL != "" {
		t, err := notify.NewSMSTransport(a.cfg.SMS)
		if err != nil {
			a.log.Warn("notify.transport.sms.disabled", "err", err)
			out = append(out, notify.NewLogTransport(a.log, notify.ChannelSMS))
		} else {
			out = append(out, t)
		}
	} else {
		out = append(out, notify.NewLogTransport(a.log, notify.ChannelSMS))
	}

	for _, t := range out {
		a.log.Info("notify.transport", "channel", t.Channel())
	}
	return out
}

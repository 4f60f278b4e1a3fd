package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apfiles/apfiles/internal/auth"
	"github.com/apfiles/apfiles/internal/config"
	"github.com/apfiles/apfiles/internal/datastore"
	"github.com/apfiles/apfiles/internal/domain/user"
	httpx "github.com/apfiles/apfiles/internal/http"
	"github.com/apfiles/apfiles/internal/http/middlewares"
	"github.com/apfiles/apfiles/internal/observability"
	"github.com/apfiles/apfiles/internal/redisclient"
	"github.com/apfiles/apfiles/internal/store"
	"github.com/apfiles/apfiles/internal/store/local"
	"github.com/apfiles/apfiles/internal/store/pg"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env)

	startCtx, startCancel := config.WithTimeout(15 * time.Second)
	defer startCancel()

	// tracing is optional; without an endpoint spans stay local no-ops
	if cfg.OTLPEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(startCtx, "apfiles-api", cfg.OTLPEndpoint)
		if err != nil {
			log.Error("tracer init failed", "err", err)
		} else {
			defer func() {
				ctx, cancel := config.WithTimeout(5 * time.Second)
				defer cancel()
				_ = shutdownTracer(ctx)
			}()
		}
	}

	prom := observability.NewProm(prometheus.DefaultRegisterer)

	// Mode is fixed here, once, for the process lifetime. The facade
	// below never learns which backend it got.
	var (
		st   store.Store
		ping func() error
	)

	if cfg.RemoteEnabled {
		pgStore, err := pg.New(startCtx, cfg.DBURL, log)
		if err != nil {
			log.Error("remote store init failed", "err", err)
			os.Exit(1)
		}
		st = pgStore
		ping = func() error {
			ctx, cancel := config.WithTimeout(1 * time.Second)
			defer cancel()
			return pgStore.Ping(ctx)
		}
		log.Info("remote sync active")
	} else {
		localStore, err := local.New(cfg.DataDir, log)
		if err != nil {
			log.Error("local store init failed", "err", err)
			os.Exit(1)
		}
		st = localStore
		log.Info("remote credentials missing: running in local mode (no sync)", "dir", cfg.DataDir)
	}
	defer st.Close()

	ds := datastore.New(st, log, prom)

	// The subscription outlives startCtx; give it the process context.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	if err := ds.Open(appCtx); err != nil {
		log.Error("datastore open failed", "err", err)
		os.Exit(1)
	}
	defer ds.Close()

	// the single builder account is provisioned, not registered
	builder := user.User{
		ID:          "builder-1",
		FullName:    "System Builder",
		PhoneNumber: cfg.BuilderPhone,
		Role:        user.RoleBuilder,
	}
	if err := ds.SaveUser(startCtx, builder); err != nil {
		log.Error("builder bootstrap failed", "err", err)
		os.Exit(1)
	}

	jwtManager := auth.NewManager(cfg.JWTSecret, cfg.AccessTTL)

	var loginLimiter middlewares.Allower
	if cfg.RedisAddr != "" {
		rc := redisclient.New(redisclient.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer rc.Close()

		if err := rc.Ping(startCtx); err != nil {
			log.Error("redis unreachable", "err", err)
			os.Exit(1)
		}
		loginLimiter = rc.NewLimiter("login", 10, time.Minute)
	} else {
		loginLimiter = middlewares.NewMemoryLimiter(10, time.Minute)
	}

	router := httpx.NewRouter(log, cfg, ds, jwtManager, prom, loginLimiter, ping)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env, "remote", cfg.RemoteEnabled)
		err := srv.ListenAndServe()

		if err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("server shutting down")

	shutdownCh := make(chan struct{})

	go func() {
		defer close(shutdownCh)

		ctx, cancel := config.WithTimeout(10 * time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("graceful shutdown failed", "err", err)
			return
		}

		// close the change feed before the store goes away
		ds.Close()
	}()

	select {
	case <-shutdownCh:
		log.Info("shutdown complete")

	case <-time.After(12 * time.Second):
		log.Error("shutdown timed out")
	}
}

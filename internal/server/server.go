/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/shopfloor/internal/api"
	"github.com/friendsincode/shopfloor/internal/assets"
	"github.com/friendsincode/shopfloor/internal/audit"
	"github.com/friendsincode/shopfloor/internal/cache"
	"github.com/friendsincode/shopfloor/internal/capacity"
	"github.com/friendsincode/shopfloor/internal/config"
	"github.com/friendsincode/shopfloor/internal/db"
	"github.com/friendsincode/shopfloor/internal/eventbus"
	"github.com/friendsincode/shopfloor/internal/events"
	"github.com/friendsincode/shopfloor/internal/executor"
	"github.com/friendsincode/shopfloor/internal/leadership"
	"github.com/friendsincode/shopfloor/internal/ordernumber"
	"github.com/friendsincode/shopfloor/internal/scheduler"
	"github.com/friendsincode/shopfloor/internal/telemetry"
	"github.com/friendsincode/shopfloor/internal/watchdog"
	"github.com/friendsincode/shopfloor/internal/workcenter"
	"github.com/friendsincode/shopfloor/internal/workflow"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db        *gorm.DB
	cache     *cache.Cache
	bus       *events.Bus
	publisher events.Publisher
	bridge    eventbus.Bridge
	api       *api.API
	auditSvc  *audit.Service

	watchdog            *watchdog.Watchdog
	leaderAwareWatchdog *watchdog.LeaderAware
	election            *leadership.Election

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("shopfloor-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Skip timeout for WebSocket connections
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(30 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	bus := events.NewBus()
	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		bus:       bus,
		publisher: bus,
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		// WriteTimeout stays 0 for the event stream; the middleware bounds the rest.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return err
	}

	if err := s.initEventBridge(); err != nil {
		return err
	}

	// Work-center reads go through Redis when it is reachable
	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisAddr = s.cfg.RedisAddr
	cacheCfg.RedisPassword = s.cfg.RedisPassword
	cacheCfg.RedisDB = s.cfg.RedisDB
	s.cache = cache.Open(s.cfg.CacheEnabled, cacheCfg, s.logger)
	s.DeferClose(func() error { return s.cache.Close() })

	numbers := ordernumber.NewGenerator(ordernumber.NewYearSequence(), s.cfg.Location)
	workflowSvc := workflow.NewService(database, s.publisher, numbers, s.logger)
	if s.cfg.AssetVerifyEnabled {
		verifier, err := assets.NewS3Verifier(context.Background(), assets.S3Config{
			Bucket:          s.cfg.S3Bucket,
			Region:          s.cfg.S3Region,
			Endpoint:        s.cfg.S3Endpoint,
			AccessKeyID:     s.cfg.S3AccessKeyID,
			SecretAccessKey: s.cfg.S3SecretAccessKey,
			UsePathStyle:    s.cfg.S3UsePathStyle,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("create asset verifier: %w", err)
		}
		workflowSvc.SetVerifier(verifier)
		s.logger.Info().Str("bucket", s.cfg.S3Bucket).Msg("print asset verification enabled")
	}

	schedulerSvc := scheduler.New(database, capacity.NewValidator(s.logger), s.publisher, s.logger)
	exec := executor.New(database, s.publisher, s.logger)
	workCenters := workcenter.NewService(database, s.cache, s.publisher, s.cfg.Location, s.logger)
	s.auditSvc = audit.NewService(database, s.bus, s.logger)

	s.watchdog = watchdog.New(database, s.publisher, watchdog.Config{
		Interval: s.cfg.WatchdogInterval,
		Grace:    s.cfg.WatchdogGrace,
		Location: s.cfg.Location,
	}, s.logger)

	if s.cfg.LeaderElectionEnabled {
		electionConfig := leadership.DefaultConfig()
		electionConfig.RedisAddr = s.cfg.RedisAddr
		electionConfig.RedisPassword = s.cfg.RedisPassword
		electionConfig.RedisDB = s.cfg.RedisDB
		if s.cfg.InstanceID != "" {
			electionConfig.InstanceID = s.cfg.InstanceID
		}

		election, err := leadership.NewElection(electionConfig, s.logger)
		if err != nil {
			return fmt.Errorf("create leader election: %w", err)
		}

		s.election = election
		s.leaderAwareWatchdog = watchdog.NewLeaderAware(s.watchdog, election, s.logger)
		s.DeferClose(func() error { return s.leaderAwareWatchdog.Stop() })

		s.logger.Info().
			Str("redis_addr", s.cfg.RedisAddr).
			Str("instance_id", electionConfig.InstanceID).
			Msg("leader election enabled for watchdog")
	}

	s.api = api.New(database, []byte(s.cfg.JWTSigningKey), schedulerSvc, exec, workflowSvc, workCenters, s.auditSvc, s.bus, s.logger)
	return nil
}

// initEventBridge connects the configured cross-instance transport. Services
// publish through the bridge, which also delivers locally.
func (s *Server) initEventBridge() error {
	nodeID := s.cfg.InstanceID
	if nodeID == "" {
		nodeID = eventbus.NewNodeID()
	}

	switch s.cfg.EventBus {
	case config.EventBusRedis:
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = s.cfg.RedisAddr
		redisCfg.Password = s.cfg.RedisPassword
		redisCfg.DB = s.cfg.RedisDB
		s.bridge = eventbus.NewRedisBridge(redisCfg, s.bus, nodeID, s.logger)
	case config.EventBusNATS:
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		natsCfg.SubjectPrefix = s.cfg.NATSSubjectPrefix
		bridge, err := eventbus.NewNATSBridge(natsCfg, s.bus, nodeID, s.logger)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		s.bridge = bridge
	default:
		return nil
	}

	s.publisher = s.bridge
	s.DeferClose(s.bridge.Close)
	s.logger.Info().Str("event_bus", string(s.cfg.EventBus)).Str("node_id", nodeID).Msg("event bridge enabled")
	return nil
}

// HTTPServer returns the configured HTTP server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close stops background work and releases resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers fn to run on Close.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.auditSvc != nil {
		// Subscribed before any request is served.
		done := s.auditSvc.Start(ctx)
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			<-done
		}()
	}

	if s.bridge != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("event bridge exited")
			}
		}()
	}

	if s.leaderAwareWatchdog != nil {
		if err := s.leaderAwareWatchdog.Start(ctx); err != nil {
			s.logger.Error().Err(err).Msg("leader-aware watchdog failed to start")
		}
	} else if s.watchdog != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.watchdog.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("watchdog loop exited")
			}
		}()
	}

	if s.db != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					db.UpdateConnectionMetrics(s.db)
				}
			}
		}()
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", s.handleHealthz)

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}

// handleHealthz reports liveness and, with leader election, which instance
// runs the watchdog.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.leaderAwareWatchdog != nil {
		body["leader"] = s.leaderAwareWatchdog.Running()
		if leaderID, err := s.election.GetLeader(r.Context()); err == nil {
			body["leader_id"] = leaderID
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

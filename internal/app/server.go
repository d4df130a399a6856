package app

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ticksync/internal/config"
	"ticksync/internal/entity"
	"ticksync/internal/host"
	"ticksync/internal/kinematic"
	"ticksync/internal/net/ws"
	"ticksync/internal/peer"
	"ticksync/internal/state"
	"ticksync/internal/telemetry"
	"ticksync/logging"
)

// EventControlGranted tells a peer which entity it now steers. The payload
// is the big-endian entity id.
const EventControlGranted uint8 = 1

const pendingConnections = 16

var palette = []uint32{0xe6194b, 0x3cb44b, 0xffe119, 0x4363d8, 0xf58231, 0x911eb4, 0x46f0f0, 0xf032e6}

// Server is the authoritative process: one host.Server stepped by a fixed
// tick loop and fed new links by the websocket handler.
type Server struct {
	cfg       *config.Config
	deps      Deps
	host      *host.Server
	publisher logging.Publisher
	registry  *prometheus.Registry
	metrics   *telemetry.PrometheusMetrics
	counters  *telemetry.Counters
	pending   chan *ws.Conn
	handler   http.Handler

	diagnostics atomic.Pointer[Diagnostics]
}

// NewServer builds the host, spawns the demo orbits and mounts the HTTP
// routes. publisher receives structured engine events.
func NewServer(ctx context.Context, cfg *config.Config, publisher logging.Publisher, deps Deps) (*Server, error) {
	deps = deps.normalized()
	if publisher == nil {
		publisher = logging.NopPublisher()
	}

	reg := state.NewRegistry()
	if err := kinematic.Register(reg); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewPrometheusMetrics(registry, "ticksync")
	counters := &telemetry.Counters{}

	h, err := host.NewServer(reg, cfg.Host(), host.Deps{
		Publisher:    publisher,
		Metrics:      telemetry.Multi(metrics, counters),
		Logger:       deps.Logger,
		CheckedPools: cfg.Debug.CheckedPool,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		deps:      deps,
		host:      h,
		publisher: publisher,
		registry:  registry,
		metrics:   metrics,
		counters:  counters,
		pending:   make(chan *ws.Conn, pendingConnections),
	}
	if err := s.spawnOrbits(ctx, cfg.Server.Entities); err != nil {
		return nil, err
	}
	s.handler = s.routes()
	return s, nil
}

func (s *Server) spawnOrbits(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		orbit := &kinematic.Orbit{
			Radius: float32(40 + 20*i),
			Speed:  0.02 + 0.004*float64(i),
			Phase:  2 * math.Pi * float64(i) / float64(n),
			Color:  palette[i%len(palette)],
		}
		if _, err := s.host.Spawn(ctx, kinematic.Type, orbit, nil); err != nil {
			return fmt.Errorf("spawn orbit %d: %w", i, err)
		}
	}
	return nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/diagnostics", s.serveDiagnostics)
	r.Handle(s.cfg.Server.MetricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Handle(s.cfg.Server.WebsocketPath, ws.NewHandler(ws.Config{
		Logger:  s.deps.Logger,
		Metrics: s.metrics,
	}, s.enqueue))
	if s.cfg.Debug.EnablePprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

// enqueue runs on HTTP goroutines; the tick loop picks the link up.
func (s *Server) enqueue(c *ws.Conn) {
	select {
	case s.pending <- c:
	default:
		s.deps.Logger.Printf("refusing %s: too many pending connections", c.ID())
		c.Close()
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler { return s.handler }

// Host exposes the underlying host for inspection.
func (s *Server) Host() *host.Server { return s.host }

// Step runs one server tick. It must be called from a single goroutine.
func (s *Server) Step(ctx context.Context) (uint64, error) {
	s.accept(ctx)
	if err := s.host.Tick(ctx); err != nil {
		// Failed sends are per peer; the peer is dropped once its link reports done.
		s.deps.Logger.Printf("tick %s: %v", s.host.CurrentTick(), err)
	}
	s.diagnostics.Store(s.snapshot())
	return rawOf(s.host.CurrentTick()), nil
}

func (s *Server) accept(ctx context.Context) {
	for {
		select {
		case c := <-s.pending:
			s.grantControl(s.host.Connect(ctx, c))
		default:
			return
		}
	}
}

// grantControl hands p the first entity nobody steers, if any.
func (s *Server) grantControl(p peer.ID) {
	var target *entity.Entity
	s.host.World().Each(func(e *entity.Entity) bool {
		if e.Controller() == 0 {
			target = e
			return false
		}
		return true
	})
	if target == nil {
		return
	}
	if err := s.host.AssignController(target.ID(), p); err != nil {
		s.deps.Logger.Printf("assign %d to peer %d: %v", target.ID(), p, err)
		return
	}
	payload := binary.BigEndian.AppendUint32(nil, uint32(target.ID()))
	if _, err := s.host.QueueEvent(p, EventControlGranted, payload, true); err != nil {
		s.deps.Logger.Printf("notify peer %d: %v", p, err)
	}
}

// Close disconnects every peer and releases the world.
func (s *Server) Close(ctx context.Context) {
	for {
		select {
		case c := <-s.pending:
			c.Close()
		default:
			s.host.Close(ctx)
			return
		}
	}
}

func (s *Server) loop() *loop {
	return &loop{
		name:      "server.tick",
		interval:  s.cfg.Sync.TickDuration,
		tracer:    newTracer(s.cfg.Debug.EnableTracing),
		publisher: s.publisher,
		observe:   s.metrics.ObserveTick,
	}
}

// RunServer serves cfg until ctx is done.
func RunServer(ctx context.Context, cfg *config.Config, deps Deps) error {
	deps = deps.normalized()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	router, err := newRouter(cfg.Logging, deps.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := router.Close(context.Background()); cerr != nil {
			deps.Logger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	srv, err := NewServer(ctx, cfg, router, deps)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		deps.Logger.Printf("server listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
		}
	}()

	loopErr := srv.loop().run(runCtx, srv.Step)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		deps.Logger.Printf("http shutdown: %v", err)
	}
	srv.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	default:
	}
	return loopErr
}

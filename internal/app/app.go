// Package app wires the engine into runnable processes: an authoritative
// server exposed over HTTP and websockets, and an observer that follows it.
package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"ticksync/internal/telemetry"
	"ticksync/internal/tick"
	"ticksync/logging"
	"ticksync/logging/simulation"
	"ticksync/logging/sinks"
)

const tracerName = "ticksync"

// Deps carries process-level collaborators. Zero values select stdout and
// the standard logger.
type Deps struct {
	Logger telemetry.Logger
	Stdout io.Writer
}

func (d Deps) normalized() Deps {
	if d.Logger == nil {
		d.Logger = telemetry.WrapLogger(log.Default())
	}
	if d.Stdout == nil {
		d.Stdout = os.Stdout
	}
	return d
}

// newRouter builds the structured event router for cfg. The JSON sink owns
// its log file and closes it with the router; stdout is never closed.
func newRouter(cfg logging.Config, stdout io.Writer) (*logging.Router, error) {
	var named []logging.NamedSink
	if cfg.HasSink(logging.SinkConsole) {
		named = append(named, logging.NamedSink{Name: logging.SinkConsole, Sink: sinks.NewConsoleSink(stdout, cfg.Console)})
	}
	if cfg.HasSink(logging.SinkJSON) {
		var w io.Writer = struct{ io.Writer }{stdout}
		if cfg.JSON.FilePath != "" {
			f, err := os.OpenFile(cfg.JSON.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open json log: %w", err)
			}
			w = f
		}
		named = append(named, logging.NamedSink{Name: logging.SinkJSON, Sink: sinks.NewJSON(w, cfg.JSON.FlushInterval)})
	}
	router, err := logging.NewRouter(logging.SystemClock, cfg, named)
	if err != nil {
		return nil, fmt.Errorf("construct logging router: %w", err)
	}
	return router, nil
}

func newTracer(enabled bool) trace.Tracer {
	if !enabled {
		return noop.NewTracerProvider().Tracer(tracerName)
	}
	return otel.Tracer(tracerName)
}

// stepFunc runs one host tick and reports the tick it ran.
type stepFunc func(ctx context.Context) (uint64, error)

// loop drives a host at a fixed tick duration.
type loop struct {
	name      string
	interval  time.Duration
	tracer    trace.Tracer
	publisher logging.Publisher
	observe   func(time.Duration)
	streak    uint64
}

// run calls step once per interval until ctx is done or step fails.
func (l *loop) run(ctx context.Context, step stepFunc) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := l.once(ctx, step); err != nil {
			return err
		}
	}
}

func (l *loop) once(ctx context.Context, step stepFunc) error {
	start := time.Now()
	spanCtx, span := l.tracer.Start(ctx, l.name)
	t, err := step(spanCtx)
	elapsed := time.Since(start)
	span.SetAttributes(attribute.Int64("ticksync.tick", int64(t)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	if l.observe != nil {
		l.observe(elapsed)
	}
	l.budget(ctx, t, elapsed)
	return err
}

func (l *loop) budget(ctx context.Context, t uint64, elapsed time.Duration) {
	if elapsed <= l.interval {
		l.streak = 0
		return
	}
	l.streak++
	simulation.TickBudgetOverrun(ctx, l.publisher, t, simulation.TickBudgetOverrunPayload{
		DurationMillis: elapsed.Milliseconds(),
		BudgetMillis:   l.interval.Milliseconds(),
		Ratio:          float64(elapsed) / float64(l.interval),
		Streak:         l.streak,
	}, map[string]any{"loop": l.name})
}

func rawOf(t tick.Tick) uint64 {
	if !t.IsValid() {
		return 0
	}
	return uint64(t.Raw())
}

package logging_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"ticksync/logging"
	"ticksync/logging/network"
	"ticksync/logging/sinks"
)

func fixedClock() logging.Clock {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return logging.ClockFunc(func() time.Time { return at })
}

func TestRouterFiltersAndStampsEvents(t *testing.T) {
	cfg := logging.DefaultConfig()
	cfg.MinimumSeverity = logging.SeverityWarn
	cfg.Fields = map[string]any{"host": "server"}
	memory := sinks.NewMemorySink()
	router, err := logging.NewRouter(fixedClock(), cfg, []logging.NamedSink{{Name: "memory", Sink: memory}})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	ctx := context.Background()
	network.AckAdvanced(ctx, router, 4, logging.PeerRef(1), network.AckPayload{Previous: 2, Ack: 4}, nil)
	network.AckRegression(ctx, router, 5, logging.PeerRef(1), network.AckPayload{Previous: 4, Ack: 3}, nil)
	if err := router.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	events := memory.Events()
	if len(events) != 1 {
		t.Fatalf("expected only the warning to pass, got %d events", len(events))
	}
	ev := events[0]
	if ev.Type != network.EventAckRegression {
		t.Fatalf("unexpected event type %s", ev.Type)
	}
	if ev.Time.IsZero() || ev.Time.Year() != 2024 {
		t.Fatalf("expected router clock stamp, got %v", ev.Time)
	}
	if ev.Extra["host"] != "server" {
		t.Fatalf("expected configured fields merged, got %v", ev.Extra)
	}
	if stats := router.Stats(); stats.EventsTotal != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	network.AckRegression(ctx, router, 6, logging.PeerRef(1), network.AckPayload{}, nil)
	if got := len(memory.Events()); got != 1 {
		t.Fatalf("closed router accepted an event: %d", got)
	}
}

func TestWithFieldsKeepsEventExtras(t *testing.T) {
	memory := sinks.NewMemorySink()
	pub := logging.WithFields(memory, map[string]any{"link": "a", "peer": 1})
	pub.Publish(context.Background(), logging.Event{
		Type:  network.EventCommandDropped,
		Extra: map[string]any{"peer": 7},
	})
	events := memory.OfType(network.EventCommandDropped)
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	if events[0].Extra["peer"] != 7 || events[0].Extra["link"] != "a" {
		t.Fatalf("unexpected extras %v", events[0].Extra)
	}
}

func TestConsoleAndJSONSinks(t *testing.T) {
	var console, jsonOut bytes.Buffer
	cfg := logging.DefaultConfig()
	router, err := logging.NewRouter(fixedClock(), cfg, []logging.NamedSink{
		{Name: logging.SinkConsole, Sink: sinks.NewConsoleSink(&console, logging.ConsoleConfig{Compact: true})},
		{Name: logging.SinkJSON, Sink: sinks.NewJSON(&jsonOut, 0)},
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	network.PacketRejected(context.Background(), router, 9, logging.HostRef("server"), network.PacketRejectedPayload{Bytes: 3, Error: "truncated"}, nil)
	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	if !strings.Contains(console.String(), string(network.EventPacketRejected)) {
		t.Fatalf("console output missing event: %q", console.String())
	}
	if strings.Contains(console.String(), "truncated") {
		t.Fatalf("compact console printed the payload: %q", console.String())
	}
	if !strings.Contains(jsonOut.String(), `"error":"truncated"`) || !strings.Contains(jsonOut.String(), `"tick":9`) {
		t.Fatalf("unexpected json output: %q", jsonOut.String())
	}
}

func TestSeverityText(t *testing.T) {
	var s logging.Severity
	if err := s.UnmarshalText([]byte("error")); err != nil || s != logging.SeverityError {
		t.Fatalf("unmarshal error: %v %v", s, err)
	}
	if err := s.UnmarshalText([]byte("loud")); err == nil {
		t.Fatalf("expected unknown severity to fail")
	}
	if text, _ := logging.SeverityDebug.MarshalText(); string(text) != "debug" {
		t.Fatalf("unexpected text %q", text)
	}
}

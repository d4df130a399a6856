package telemetry

import (
	"bytes"
	"log"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestWrapLogger(t *testing.T) {
	t.Run("nil logger", func(t *testing.T) {
		logger := WrapLogger(nil)
		logger.Printf("ignored %d", 42)
	})

	t.Run("forwards to logger", func(t *testing.T) {
		var buf bytes.Buffer
		base := log.New(&buf, "", 0)
		logger := WrapLogger(base)
		logger.Printf("hello %s", "world")
		if got := buf.String(); got != "hello world\n" {
			t.Fatalf("unexpected log output: %q", got)
		}
	})
}

func TestCounters(t *testing.T) {
	var counters Counters
	counters.Add("test_counter", 2)
	counters.Store("test_counter", 5)
	counters.Add("test_counter", 3)

	if got := counters.Snapshot()["test_counter"]; got != 8 {
		t.Fatalf("unexpected metric value: %d", got)
	}

	var nilCounters *Counters
	nilCounters.Add("ignored", 1)
	nilCounters.Store("ignored", 1)
	if nilCounters.Get("ignored") != 0 {
		t.Fatalf("expected nil counters to read zero")
	}
}

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(reg, "test")

	metrics.Add("peer_command_queue_overflow_total", 2)
	metrics.Add("peer_command_queue_overflow_total", 1)
	metrics.Store("peer.command-queue occupancy", 4)
	metrics.ObserveTick(3 * time.Millisecond)
	metrics.ObservePacket("out", 120)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	values := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[mf.GetName()] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[mf.GetName()] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				values[mf.GetName()] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}

	if got := values["test_peer_command_queue_overflow_total"]; got != 3 {
		t.Fatalf("unexpected counter value: %v", got)
	}
	if got := values["test_peer_command_queue_occupancy"]; got != 4 {
		t.Fatalf("unexpected gauge value: %v (have %v)", got, values)
	}
	if got := values["test_tick_duration_seconds"]; got != 1 {
		t.Fatalf("expected one tick observation, got %v", got)
	}
	if got := values["test_packet_bytes"]; got != 1 {
		t.Fatalf("expected one packet observation, got %v", got)
	}
}

func TestMulti(t *testing.T) {
	var a, b Counters
	m := Multi(&a, nil, &b)
	m.Add("x", 2)
	m.Store("y", 7)
	if a.Get("x") != 2 || b.Get("x") != 2 || a.Get("y") != 7 || b.Get("y") != 7 {
		t.Fatalf("expected both backends to receive measurements: %v %v", a.Snapshot(), b.Snapshot())
	}
	if Multi() != Nop {
		t.Fatalf("expected empty Multi to be Nop")
	}
}

func TestObservePacketThroughMulti(t *testing.T) {
	reg := prometheus.NewRegistry()
	prom := NewPrometheusMetrics(reg, "fan")
	var counters Counters
	ObservePacket(Multi(prom, &counters), "in", 64)
	ObservePacket(&counters, "in", 64)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "fan_packet_bytes" {
			continue
		}
		if got := mf.GetMetric()[0].GetHistogram().GetSampleCount(); got != 1 {
			t.Fatalf("expected one packet observation, got %d", got)
		}
		return
	}
	t.Fatalf("packet histogram not registered")
}

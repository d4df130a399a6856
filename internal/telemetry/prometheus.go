package telemetry

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics backs Metrics with lazily created Prometheus collectors.
// Keys passed to Add become counters and keys passed to Store become gauges.
type PrometheusMetrics struct {
	mu        sync.Mutex
	factory   promauto.Factory
	namespace string
	counters  map[string]prometheus.Counter
	gauges    map[string]prometheus.Gauge

	tickDuration prometheus.Histogram
	packetBytes  *prometheus.HistogramVec
}

// NewPrometheusMetrics registers collectors with reg under namespace. A nil
// registerer uses the default registry.
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "ticksync"
	}
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		factory:   factory,
		namespace: namespace,
		counters:  make(map[string]prometheus.Counter),
		gauges:    make(map[string]prometheus.Gauge),
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent in one host tick",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .02, .04, .08},
		}),
		packetBytes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "packet_bytes",
			Help:      "Encoded packet size by direction",
			Buckets:   prometheus.ExponentialBuckets(16, 2, 10),
		}, []string{"direction"}),
	}
}

// Add implements Metrics.
func (p *PrometheusMetrics) Add(key string, delta uint64) {
	if p == nil {
		return
	}
	p.counter(key).Add(float64(delta))
}

// Store implements Metrics.
func (p *PrometheusMetrics) Store(key string, value uint64) {
	if p == nil {
		return
	}
	p.gauge(key).Set(float64(value))
}

// ObserveTick records the duration of one host tick.
func (p *PrometheusMetrics) ObserveTick(d time.Duration) {
	if p == nil {
		return
	}
	p.tickDuration.Observe(d.Seconds())
}

// ObservePacket records an encoded packet size. Direction is "in" or "out".
func (p *PrometheusMetrics) ObservePacket(direction string, size int) {
	if p == nil {
		return
	}
	p.packetBytes.WithLabelValues(direction).Observe(float64(size))
}

func (p *PrometheusMetrics) counter(key string) prometheus.Counter {
	name := metricName(key)
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.counters[name]; ok {
		return c
	}
	c := p.factory.NewCounter(prometheus.CounterOpts{
		Namespace: p.namespace,
		Name:      name,
		Help:      "Engine counter " + key,
	})
	p.counters[name] = c
	return c
}

func (p *PrometheusMetrics) gauge(key string) prometheus.Gauge {
	name := metricName(key)
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.gauges[name]; ok {
		return g
	}
	g := p.factory.NewGauge(prometheus.GaugeOpts{
		Namespace: p.namespace,
		Name:      name,
		Help:      "Engine gauge " + key,
	})
	p.gauges[name] = g
	return g
}

// metricName maps a key onto the Prometheus name alphabet.
func metricName(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for i, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "unnamed"
	}
	return b.String()
}

// Multi fans measurements out to every non-nil backend.
func Multi(backends ...Metrics) Metrics {
	filtered := make([]Metrics, 0, len(backends))
	for _, m := range backends {
		if m != nil {
			filtered = append(filtered, m)
		}
	}
	switch len(filtered) {
	case 0:
		return Nop
	case 1:
		return filtered[0]
	}
	return multiMetrics(filtered)
}

// PacketObserver is implemented by backends that record packet sizes.
type PacketObserver interface {
	ObservePacket(direction string, size int)
}

// ObservePacket records a packet size on m when the backend supports it.
func ObservePacket(m Metrics, direction string, size int) {
	if po, ok := m.(PacketObserver); ok {
		po.ObservePacket(direction, size)
	}
}

type multiMetrics []Metrics

func (m multiMetrics) ObservePacket(direction string, size int) {
	for _, b := range m {
		ObservePacket(b, direction, size)
	}
}

func (m multiMetrics) Add(key string, delta uint64) {
	for _, b := range m {
		b.Add(key, delta)
	}
}

func (m multiMetrics) Store(key string, value uint64) {
	for _, b := range m {
		b.Store(key, value)
	}
}

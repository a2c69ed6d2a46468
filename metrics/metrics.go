// Package metrics exposes Prometheus collectors for the transport and the
// channel workers. All recorder methods are safe to call on a nil receiver so
// components can run without metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures collector registration.
type Config struct {
	// Namespace is the metrics namespace (default: "screenary").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures collector registration.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func buildConfig(opts []Option) Config {
	cfg := Config{
		Namespace: "screenary",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg
}

// Transport counts fragment and PDU traffic on a connection.
type Transport struct {
	fragmentsSent     prometheus.Counter
	fragmentsReceived prometheus.Counter
	bytesSent         prometheus.Counter
	bytesReceived     prometheus.Counter
	pdusDispatched    *prometheus.CounterVec
	framingErrors     prometheus.Counter
}

// NewTransport registers the transport collectors.
func NewTransport(opts ...Option) *Transport {
	cfg := buildConfig(opts)
	factory := promauto.With(cfg.Registry)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		})
	}

	return &Transport{
		fragmentsSent:     counter("transport_fragments_sent_total", "Fragments written to the connection."),
		fragmentsReceived: counter("transport_fragments_received_total", "Fragments read from the connection."),
		bytesSent:         counter("transport_bytes_sent_total", "Bytes written including fragment headers."),
		bytesReceived:     counter("transport_bytes_received_total", "Bytes read including fragment headers."),
		framingErrors:     counter("transport_framing_errors_total", "Fragments rejected by the framing rules."),
		pdusDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "transport_pdus_dispatched_total",
			Help:      "Reassembled PDUs handed to the dispatcher.",
		}, []string{"channel"}),
	}
}

// FragmentSent records one written fragment of size bytes.
func (t *Transport) FragmentSent(size int) {
	if t == nil {
		return
	}

	t.fragmentsSent.Inc()
	t.bytesSent.Add(float64(size))
}

// FragmentReceived records one read fragment of size bytes.
func (t *Transport) FragmentReceived(size int) {
	if t == nil {
		return
	}

	t.fragmentsReceived.Inc()
	t.bytesReceived.Add(float64(size))
}

// PDUDispatched records a reassembled PDU for channelID.
func (t *Transport) PDUDispatched(channelID uint16) {
	if t == nil {
		return
	}

	t.pdusDispatched.WithLabelValues(channelLabel(channelID)).Inc()
}

// FramingError records a rejected fragment.
func (t *Transport) FramingError() {
	if t == nil {
		return
	}

	t.framingErrors.Inc()
}

// Worker tracks channel worker queues.
type Worker struct {
	queueDepth *prometheus.GaugeVec
	processed  *prometheus.CounterVec
	dropped    *prometheus.CounterVec
}

// NewWorker registers the worker collectors.
func NewWorker(opts ...Option) *Worker {
	cfg := buildConfig(opts)
	factory := promauto.With(cfg.Registry)

	return &Worker{
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "channel_queue_depth",
			Help:      "PDUs waiting in a channel queue.",
		}, []string{"channel"}),
		processed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "channel_pdus_processed_total",
			Help:      "PDUs processed by a channel worker.",
		}, []string{"channel"}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "channel_pdus_dropped_total",
			Help:      "PDUs rejected or abandoned because the worker stopped.",
		}, []string{"channel"}),
	}
}

// QueueDepth sets the current queue length for channelID.
func (w *Worker) QueueDepth(channelID uint16, depth int) {
	if w == nil {
		return
	}

	w.queueDepth.WithLabelValues(channelLabel(channelID)).Set(float64(depth))
}

// Processed records one processed PDU for channelID.
func (w *Worker) Processed(channelID uint16) {
	if w == nil {
		return
	}

	w.processed.WithLabelValues(channelLabel(channelID)).Inc()
}

// Dropped records n PDUs that will never be processed for channelID.
func (w *Worker) Dropped(channelID uint16, n int) {
	if w == nil || n <= 0 {
		return
	}

	w.dropped.WithLabelValues(channelLabel(channelID)).Add(float64(n))
}

func channelLabel(channelID uint16) string {
	return strconv.Itoa(int(channelID))
}

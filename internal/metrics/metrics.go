package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kernwatch"

var (
	// Registry is a dedicated Prometheus registry for all kernwatch metrics.
	Registry = prometheus.NewRegistry()

	// EventsTotal counts probe invocations by operation and outcome.
	EventsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Probe invocations by operation and outcome",
		},
		[]string{"op", "outcome"}, // emitted | gate_miss | dropped_ring
	)

	// ScratchMissesTotal counts acquisitions that found no scratch slot.
	ScratchMissesTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scratch_misses_total",
			Help:      "Scratch acquisitions outside the configured slot range",
		},
	)

	// RingUsedBytes gauges outstanding bytes between producers and the reader.
	RingUsedBytes = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ring_used_bytes",
			Help:      "Bytes currently buffered in the event ring",
		},
	)

	// EmitDuration measures the producer-side emission path.
	EmitDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "emit_duration_us",
			Help:      "Duration of the gate, scratch and publish path in microseconds",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// JournalTotal counts consumer-side journal writes by outcome.
	JournalTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_total",
			Help:      "Journal writes by outcome",
		},
		[]string{"outcome"}, // stored | decode_error | store_error
	)

	// PayloadBytesTotal accumulates auxiliary payload bytes by disposition.
	PayloadBytesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_bytes_total",
			Help:      "Auxiliary payload bytes by disposition",
		},
		[]string{"disposition"}, // stored | deduplicated
	)

	// CheckpointTotal counts integrity checkpoints by outcome.
	CheckpointTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_total",
			Help:      "Integrity checkpoints by outcome",
		},
		[]string{"outcome"},
	)

	// AgentInfo exposes static information about the running agent.
	AgentInfo = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_info",
			Help:      "Static information about the agent",
		},
		[]string{"os", "arch", "version", "capture_backend"},
	)

	// Up is a liveness gauge for the agent.
	Up = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "up",
			Help:      "1 if the agent is running and healthy",
		},
	)
)

func init() {
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	Registry.MustRegister(prometheus.NewGoCollector())
	Up.Set(1)
}

// SetAgentInfo publishes a single info metric for the running agent.
func SetAgentInfo(osName, arch, version, captureBackend string) {
	if osName == "" {
		osName = runtime.GOOS
	}
	if arch == "" {
		arch = runtime.GOARCH
	}
	if captureBackend == "" {
		captureBackend = "unknown"
	}
	if version == "" {
		version = "dev"
	}
	AgentInfo.WithLabelValues(osName, arch, version, captureBackend).Set(1)
}

// ObserveEmit records one producer-side outcome and its latency.
func ObserveEmit(start time.Time, op, outcome string) {
	elapsed := float64(time.Since(start)) / float64(time.Microsecond)
	EmitDuration.Observe(elapsed)
	EventsTotal.WithLabelValues(op, outcome).Inc()
}

// ObserveJournal records one consumer-side journal outcome.
func ObserveJournal(outcome string) {
	JournalTotal.WithLabelValues(outcome).Inc()
}

// ObservePayload accumulates payload bytes for a disposition.
func ObservePayload(disposition string, n int) {
	if n <= 0 {
		return
	}
	PayloadBytesTotal.WithLabelValues(disposition).Add(float64(n))
}

// ObserveCheckpoint records one integrity checkpoint outcome.
func ObserveCheckpoint(outcome string) {
	CheckpointTotal.WithLabelValues(outcome).Inc()
}

// SetRingUsed reports the ring's outstanding byte count.
func SetRingUsed(used int) {
	if used < 0 {
		used = 0
	}
	RingUsedBytes.Set(float64(used))
}

// SetUp toggles the liveness gauge.
func SetUp(healthy bool) {
	if healthy {
		Up.Set(1)
		return
	}
	Up.Set(0)
}

// Serve starts the /metrics HTTP endpoint on the provided address.
func Serve(ctx context.Context, addr string, logger *log.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = log.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))

	srv := &http.Server{Addr: addr, Handler: mux}

	served := make(chan struct{})
	idleClosed := make(chan struct{})
	go func() {
		defer close(idleClosed)
		select {
		case <-ctx.Done():
			_ = srv.Shutdown(context.Background())
		case <-served:
			// ListenAndServe already returned on its own (e.g. the
			// address was in use); nothing to shut down.
		}
	}()

	logger.Printf("[Metrics] Prometheus endpoint listening on %s", addr)
	err := srv.ListenAndServe()
	close(served)
	<-idleClosed
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

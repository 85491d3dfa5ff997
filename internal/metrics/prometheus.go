package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/gftdcojp/flowfile-queue/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue size metrics
	QueueActiveCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ffq_queue_active_count",
		Help: "FlowFiles in the in-memory active queue",
	}, []string{"queue"})

	QueueActiveBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ffq_queue_active_bytes",
		Help: "Content bytes in the in-memory active queue",
	}, []string{"queue"})

	QueueSwappedCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ffq_queue_swapped_count",
		Help: "FlowFiles staged in the swap buffer or persisted to swap files",
	}, []string{"queue"})

	QueueSwappedBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ffq_queue_swapped_bytes",
		Help: "Content bytes staged in the swap buffer or persisted to swap files",
	}, []string{"queue"})

	QueueUnackedCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ffq_queue_unacknowledged_count",
		Help: "FlowFiles handed to a consumer and not yet acknowledged",
	}, []string{"queue"})

	QueueUnackedBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ffq_queue_unacknowledged_bytes",
		Help: "Content bytes handed to a consumer and not yet acknowledged",
	}, []string{"queue"})

	QueueFull = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ffq_queue_full",
		Help: "1 while the queue is applying backpressure",
	}, []string{"queue"})

	// Swap metrics
	SwapOutOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ffq_swap_out_total",
		Help: "Swap-out batches written",
	}, []string{"queue"})

	SwapInOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ffq_swap_in_total",
		Help: "Swap-in batches restored",
	}, []string{"queue"})

	SwapErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ffq_swap_errors_total",
		Help: "Swap manager I/O failures",
	}, []string{"queue", "op"})

	SwapOutDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ffq_swap_out_duration_seconds",
		Help:    "Time to persist one swap batch",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"queue"})

	// Lifecycle metrics
	ExpiredFlowFiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ffq_expired_flowfiles_total",
		Help: "FlowFiles removed because their age exceeded the queue expiration",
	}, []string{"queue"})

	DroppedFlowFiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ffq_dropped_flowfiles_total",
		Help: "FlowFiles removed by drop requests",
	}, []string{"queue"})

	DropRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ffq_drop_request_duration_seconds",
		Help:    "Wall time of drop request workers",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 120},
	}, []string{"queue", "state"})

	// Lock contention
	LockWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ffq_lock_wait_seconds",
		Help:    "Time spent waiting to acquire the queue lock",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1},
	}, []string{"queue", "mode"})

	// Ingest metrics
	FlowFilesIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ffq_flowfiles_in_total",
		Help: "FlowFiles accepted from the inbound subject",
	}, []string{"queue"})

	FlowFilesOut = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ffq_flowfiles_out_total",
		Help: "FlowFiles delivered to the outbound subject",
	}, []string{"queue"})
)

// RunServer starts the Prometheus metrics HTTP server.
func RunServer(ctx context.Context, cfg config.MetricsConfig) error {
	mux := http.NewServeMux()
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, promhttp.Handler())

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

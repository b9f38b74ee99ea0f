// The consumer drains courier location reports from Kafka and applies them to
// the live location store. Running it separately from the API keeps ingest
// spikes away from the request path.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/courier-dispatch/internal/config"
	"github.com/example/courier-dispatch/internal/location"
	"github.com/example/courier-dispatch/internal/logging"
	"github.com/example/courier-dispatch/internal/models"
)

const consumerGroup = "courier-dispatch-consumer"

var (
	messagesConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "courier_dispatch", Subsystem: "consumer",
		Name: "messages_consumed_total", Help: "Location messages read from Kafka",
	})
	messagesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "courier_dispatch", Subsystem: "consumer",
		Name: "messages_failed_total", Help: "Messages dropped after exhausting retries",
	})
	applyRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "courier_dispatch", Subsystem: "consumer",
		Name: "apply_retries_total", Help: "Store writes retried after a transient failure",
	})
	applyLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "courier_dispatch", Subsystem: "consumer",
		Name: "apply_duration_seconds", Help: "Store write latency",
		Buckets: prometheus.DefBuckets,
	})
)

// ReportWriter is the slice of the location store the consumer needs.
type ReportWriter interface {
	RecordReport(ctx context.Context, r models.LocationReport) error
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("configuration invalid", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if len(cfg.KafkaBrokers) == 0 {
		logger.Error("KAFKA_BROKERS is required for the consumer")
		os.Exit(1)
	}

	var store ReportWriter
	if cfg.RedisAddr != "" {
		rc := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		store = location.NewRedisStore(rc, cfg.RedisGeoKey, cfg.StaleAfter)
	} else {
		logger.Warn("no REDIS_ADDR set, reports stay in process memory")
		store = location.NewMemoryStore(cfg.StaleAfter)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go serveMetrics(logger)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  consumerGroup,
		Topic:    cfg.KafkaTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	logger.Info("consumer started", "topic", cfg.KafkaTopic, "group", consumerGroup)
	if err := consume(ctx, reader, store, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("consumer drained, bye")
}

func consume(ctx context.Context, reader *kafka.Reader, store ReportWriter, logger *slog.Logger) error {
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			return err
		}
		messagesConsumed.Inc()

		var report models.LocationReport
		if err := json.Unmarshal(msg.Value, &report); err != nil {
			messagesFailed.Inc()
			logger.Warn("undecodable message skipped", "offset", msg.Offset, "error", err)
			continue
		}
		if report.CourierID == "" || !report.Point.Valid() {
			messagesFailed.Inc()
			logger.Warn("malformed report skipped", "offset", msg.Offset, "courier_id", report.CourierID)
			continue
		}

		start := time.Now()
		if err := applyWithRetry(ctx, store, report, 3, 200*time.Millisecond); err != nil {
			messagesFailed.Inc()
			logger.Error("report dropped after retries", "courier_id", report.CourierID, "error", err)
			continue
		}
		applyLatency.Observe(time.Since(start).Seconds())
	}
}

// applyWithRetry writes the report with exponential backoff. Reports for one
// courier arrive on one partition, so retrying in place preserves order.
func applyWithRetry(ctx context.Context, w ReportWriter, r models.LocationReport, attempts int, delay time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			applyRetries.Inc()
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if lastErr = w.RecordReport(ctx, r); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func serveMetrics(logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	addr := os.Getenv("CONSUMER_METRICS_ADDR")
	if addr == "" {
		addr = ":9090"
	}
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics endpoint failed", "error", err)
	}
}

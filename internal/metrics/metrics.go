package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/narizgnaw/sshwatch/pkg/agent/sshmonitor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "sshwatch"

// Collector 实现 sshmonitor.Metrics，并提供通知队列相关指标
type Collector struct {
	registry *prometheus.Registry

	linesRead        prometheus.Counter
	events           *prometheus.CounterVec
	parseFailures    *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	notifyFailures   *prometheus.CounterVec
	rotations        prometheus.Counter
	readFailures     prometheus.Counter
	activeSessions   prometheus.Gauge
	trackedAddresses prometheus.Gauge
	queueDropped     prometheus.Counter
	deliveries       *prometheus.CounterVec
}

// New 创建指标集合，使用独立的 Registry
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		linesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "lines_read_total",
			Help: "Complete log lines read from the auth log.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_total",
			Help: "Classified events by rule.",
		}, []string{"rule"}),
		parseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "parse_failures_total",
			Help: "Lines that matched a rule but had malformed fields.",
		}, []string{"rule"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total",
			Help: "Notifications raised by the dispatcher.",
		}, []string{"kind", "severity"}),
		notifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notification_failures_total",
			Help: "Notifications the notifier refused or panicked on.",
		}, []string{"kind"}),
		rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "log_rotations_total",
			Help: "Detected truncations or replacements of the auth log.",
		}),
		readFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "read_failures_total",
			Help: "Read cycles that failed with an I/O error.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_sessions",
			Help: "Sessions currently considered open.",
		}),
		trackedAddresses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "tracked_addresses",
			Help: "Source addresses with a non-empty failure window.",
		}),
		queueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "notify_queue_dropped_total",
			Help: "Notifications dropped because the delivery queue was full.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "deliveries_total",
			Help: "Notification deliveries by channel and result.",
		}, []string{"channel", "result"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.linesRead, c.events, c.parseFailures, c.notifications, c.notifyFailures,
		c.rotations, c.readFailures, c.activeSessions, c.trackedAddresses,
		c.queueDropped, c.deliveries,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) LinesRead(n int)                { c.linesRead.Add(float64(n)) }
func (c *Collector) EventClassified(rule string)    { c.events.WithLabelValues(rule).Inc() }
func (c *Collector) ParseFailed(rule string)        { c.parseFailures.WithLabelValues(rule).Inc() }
func (c *Collector) NotificationFailed(kind string) { c.notifyFailures.WithLabelValues(kind).Inc() }
func (c *Collector) LogRotated()                    { c.rotations.Inc() }
func (c *Collector) ReadFailed()                    { c.readFailures.Inc() }
func (c *Collector) ActiveSessions(n int)           { c.activeSessions.Set(float64(n)) }
func (c *Collector) TrackedAddresses(n int)         { c.trackedAddresses.Set(float64(n)) }

func (c *Collector) NotificationEmitted(kind string, severity sshmonitor.Severity) {
	c.notifications.WithLabelValues(kind, severity.String()).Inc()
}

// QueueDropped 通知队列已满被丢弃
func (c *Collector) QueueDropped() { c.queueDropped.Inc() }

// Delivered 记录一次投递结果
func (c *Collector) Delivered(channel string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.deliveries.WithLabelValues(channel, result).Inc()
}

// Serve 在 addr 上暴露 /metrics，ctx 结束时关闭
func (c *Collector) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("指标服务已启动", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "care_sync_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "care_sync_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "care_sync_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "care_sync_ws_events_total",
			Help: "Total number of websocket lifecycle events.",
		},
		[]string{"kind", "event"},
	)
	inboundEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "care_sync_inbound_events_total",
			Help: "Client events handled, by event name and outcome.",
		},
		[]string{"event", "outcome"},
	)
	relayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "care_sync_chat_relay_duration_seconds",
			Help:    "Time to persist and fan out a chat message.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	readReceiptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "care_sync_chat_messages_read_total",
			Help: "Messages transitioned to read.",
		},
	)
	typingExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "care_sync_typing_expired_total",
			Help: "Typing indicators stopped by the inactivity timer.",
		},
	)
	updatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "care_sync_update_events_total",
			Help: "Entity update events, by entity and outcome.",
		},
		[]string{"entity", "outcome"},
	)
	updateDeliveriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "care_sync_update_deliveries_total",
			Help: "Entity update frames delivered to local connections.",
		},
	)
	clusterForwardTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "care_sync_cluster_forward_total",
			Help: "Frames forwarded to or received from other processes.",
		},
		[]string{"direction", "kind", "outcome"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "care_sync_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	amqpConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "care_sync_amqp_consumed_total",
			Help: "Change notices consumed from AMQP, by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		inboundEventsTotal,
		relayDuration,
		readReceiptsTotal,
		typingExpiredTotal,
		updatesTotal,
		updateDeliveriesTotal,
		clusterForwardTotal,
		amqpPublishErrorsTotal,
		amqpConsumedTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// RegisterConnectionGauge exposes a live connection count computed on scrape.
func RegisterConnectionGauge(count func() float64) error {
	return prometheus.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "care_sync_registry_connections",
			Help: "Authenticated connections in the registry.",
		},
		count,
	))
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncInboundEvent(event, outcome string) {
	inboundEventsTotal.WithLabelValues(event, outcome).Inc()
}

func ObserveRelay(outcome string, started time.Time) {
	relayDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
}

func AddMessagesRead(n int) {
	readReceiptsTotal.Add(float64(n))
}

func IncTypingExpired() {
	typingExpiredTotal.Inc()
}

func IncUpdate(entity, outcome string) {
	updatesTotal.WithLabelValues(entity, outcome).Inc()
}

func AddUpdateDeliveries(n int) {
	updateDeliveriesTotal.Add(float64(n))
}

func IncClusterForward(direction, kind, outcome string) {
	clusterForwardTotal.WithLabelValues(direction, kind, outcome).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

func IncAMQPConsumed(outcome string) {
	amqpConsumedTotal.WithLabelValues(outcome).Inc()
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors are partitioned by the external service or the contract being
// indexed. Contract labels are bounded by the operator's contract list.

var (
	// Rate limiting
	RateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "ratelimit",
		Name:      "waits_total",
		Help:      "Total acquisitions that had to wait for a slot",
	}, []string{"service"})

	RateLimitWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "indexer",
		Subsystem: "ratelimit",
		Name:      "wait_seconds",
		Help:      "Time spent waiting for a rate limiter slot",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"service"})

	// Chain RPC
	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total chain RPC calls by method and status",
	}, []string{"method", "status"})

	RPCRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "rpc",
		Name:      "retries_total",
		Help:      "Total chain RPC retries after a transient failure",
	}, []string{"method"})

	// Metadata
	MetadataFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "metadata",
		Name:      "fetches_total",
		Help:      "Total metadata fetches by uri scheme and outcome",
	}, []string{"scheme", "status"})

	MetadataGatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "metadata",
		Name:      "gateway_requests_total",
		Help:      "Total IPFS gateway requests by gateway and outcome",
	}, []string{"gateway", "status"})

	MetadataGatewayBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "metadata",
		Name:      "gateway_breaker_state",
		Help:      "Circuit breaker state per gateway (0=closed, 1=open, 2=half-open)",
	}, []string{"gateway"})

	// Contract indexing
	AssetsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "assets",
		Name:      "written_total",
		Help:      "Total assets created",
	}, []string{"contract"})

	AssetTokenFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "assets",
		Name:      "token_failures_total",
		Help:      "Total per-token failures by error kind (token left for a later run)",
	}, []string{"contract", "kind"})

	// Order indexing
	OrdersProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "orders",
		Name:      "processed_total",
		Help:      "Total orders processed by outcome (created, updated, skipped, failed)",
	}, []string{"contract", "outcome"})

	OrderChunkFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "orders",
		Name:      "chunk_failures_total",
		Help:      "Total order-search chunks that failed locally",
	}, []string{"contract"})

	// Runs
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "run",
		Name:      "total",
		Help:      "Total indexing runs by kind and result",
	}, []string{"kind", "result"})

	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "indexer",
		Subsystem: "run",
		Name:      "duration_seconds",
		Help:      "Indexing run duration",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"kind"})

	// API response cache
	ResponseCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "api",
		Name:      "response_cache_lookups_total",
		Help:      "Response cache lookups by result (hit, miss, error)",
	}, []string{"backend", "result"})

	ResponseCacheBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "api",
		Name:      "response_cache_bytes",
		Help:      "Response body bytes held by in-process caches",
	}, []string{"backend"})

	ProxyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "api",
		Name:      "marketplace_proxy_requests_total",
		Help:      "Marketplace pass-through requests by upstream status class",
	}, []string{"status"})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts delivered by channel and type",
	}, []string{"channel", "type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts suppressed by cooldown",
	}, []string{"channel", "type"})

	// Database pool
	DBPoolOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "postgres",
		Name:      "db_pool_open",
		Help:      "Current number of open PostgreSQL connections in the pool",
	})

	DBPoolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "postgres",
		Name:      "db_pool_in_use",
		Help:      "Current number of in-use PostgreSQL connections in the pool",
	})

	DBPoolWaitCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "postgres",
		Name:      "db_pool_wait_count",
		Help:      "Cumulative count of waits for PostgreSQL connections from pool",
	})
)

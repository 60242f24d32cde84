package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace defines the global prefix for all metrics (e.g., leadflow_...).
const namespace = "leadflow"

// lowLatencyBuckets resolve the in-process rule evaluation path, which runs
// well under the 5ms floor of the default buckets. Range: 100µs to 250ms.
var lowLatencyBuckets = []float64{.0001, .00025, .0005, .001, .0025, .005, .010, .025, .050, .100, .250}

var (
	// -------------------------------------------------------------------------
	// HTTP API
	// -------------------------------------------------------------------------

	// HTTPReqDuration measures the latency of HTTP requests.
	// Metric: leadflow_api_http_handling_seconds
	HTTPReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	// HTTPReqTotal counts the total number of HTTP requests.
	// Metric: leadflow_api_http_requests_total
	HTTPReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests",
	}, []string{"method", "path", "code"})

	// -------------------------------------------------------------------------
	// RULE ENGINE
	// -------------------------------------------------------------------------

	// RuleExecutionsTotal counts rule outcomes: success when a rule matched,
	// failure when its evaluation errored.
	// Metric: leadflow_rules_executions_total
	RuleExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rules",
		Name:      "executions_total",
		Help:      "Total rule executions by result",
	}, []string{"result"})

	// RuleExecutionDuration measures a single rule's evaluation.
	RuleExecutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "rules",
		Name:      "execution_seconds",
		Help:      "Time taken to evaluate one rule",
		Buckets:   lowLatencyBuckets,
	})

	// RuleMetricWritesDropped counts rule metric rows not persisted because
	// too many writes were already in flight.
	// Metric: leadflow_rules_metric_writes_dropped_total
	RuleMetricWritesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rules",
		Name:      "metric_writes_dropped_total",
		Help:      "Rule metric writes dropped while the write limit was reached",
	})

	// RuleSetEvaluationDuration measures a whole ExecuteLogicRules call,
	// including rule set loading.
	RuleSetEvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "rules",
		Name:      "evaluation_seconds",
		Help:      "Time taken to execute all rules of a flow",
		Buckets:   lowLatencyBuckets,
	})

	// RuleEvaluationErrors counts per-rule evaluation errors returned to callers.
	RuleEvaluationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rules",
		Name:      "evaluation_errors_total",
		Help:      "Total rule evaluation errors isolated by the engine",
	})

	// --- Rule set cache (L1, Otter) ---

	RuleCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rules",
		Name:      "l1_cache_hits_total",
		Help:      "Total compiled rule set cache hits (in-memory)",
	})

	RuleCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rules",
		Name:      "l1_cache_misses_total",
		Help:      "Total compiled rule set cache misses",
	})

	// RuleCacheItems tracks item count, which S3-FIFO (Otter) reports cheaply.
	RuleCacheItems = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "rules",
		Name:      "l1_cache_items_count",
		Help:      "Current number of compiled rule sets in the L1 cache",
	})

	// RuleCacheDropped tracks sets rejected by the cache.
	RuleCacheDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rules",
		Name:      "l1_cache_dropped_total",
		Help:      "Total sets rejected by the L1 cache",
	})

	RuleCacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rules",
		Name:      "l1_invalidations_total",
		Help:      "Total rule set invalidation events received via PubSub",
	})

	// -------------------------------------------------------------------------
	// EXPERIMENTS
	// -------------------------------------------------------------------------

	AssignmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "experiments",
		Name:      "assignments_total",
		Help:      "Total visitor assignments to running tests",
	}, []string{"is_variant"})

	InteractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "experiments",
		Name:      "interactions_total",
		Help:      "Total recorded test interactions",
	}, []string{"event"})

	PromotionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "experiments",
		Name:      "promotions_total",
		Help:      "Total winner promotions by outcome",
	}, []string{"status"})

	ResultsCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "experiments",
		Name:      "results_cache_hits_total",
		Help:      "Total results served from Redis",
	})

	ResultsCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "experiments",
		Name:      "results_cache_misses_total",
		Help:      "Total results cache misses",
	})

	// -------------------------------------------------------------------------
	// WORKERS AND INTEGRATIONS
	// -------------------------------------------------------------------------

	// RecalcDuration measures one full recalculation sweep over running tests.
	// Metric: leadflow_recalc_run_duration_seconds
	RecalcDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "recalc",
		Name:      "run_duration_seconds",
		Help:      "Time taken to recalculate results of all running tests",
		Buckets:   prometheus.DefBuckets,
	})

	RecalcTestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "recalc",
		Name:      "tests_total",
		Help:      "Total test recalculations",
	}, []string{"status"}) // success, fail, empty

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Total domain events written to Kafka",
	}, []string{"topic", "status"})

	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Total webhook deliveries by final outcome",
	}, []string{"status"})

	WebhookDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "delivery_seconds",
		Help:      "Time taken to deliver a webhook, retries included",
		Buckets:   prometheus.DefBuckets,
	})

	// -------------------------------------------------------------------------
	// DATABASE POOL (sampled by database.RunPoolMonitor)
	// -------------------------------------------------------------------------

	// DBPoolConnections reports pool size by state: total, idle, in_use, max.
	// Metric: leadflow_database_pool_connections
	DBPoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_connections",
		Help:      "Connections in the PostgreSQL pool by state",
	}, []string{"state"})

	DBPoolAcquireCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_acquire_count_total",
		Help:      "Total successful connection acquisitions",
	})

	DBPoolAcquireDuration = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_acquire_duration_seconds_total",
		Help:      "Total time spent acquiring connections",
	})

	// DBPoolWaitCount counts acquisitions that had to wait for a free connection.
	DBPoolWaitCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_wait_count_total",
		Help:      "Total acquisitions that waited for a connection",
	})
)

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FeedsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threatpipe_feeds_fetched_total",
		Help: "The total number of feed fetch attempts by outcome",
	}, []string{"status"})

	EntriesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threatpipe_entries_ingested_total",
		Help: "The total number of entries parsed from feeds",
	}, []string{"source"})

	FilterMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threatpipe_filter_matches_total",
		Help: "Content filter outcomes by match type (base, cooccurrence, miss)",
	}, []string{"type"})

	DropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threatpipe_drops_total",
		Help: "Total number of dropped entries by reason",
	}, []string{"reason"})

	LocationResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threatpipe_location_resolved_total",
		Help: "Location resolutions by method",
	}, []string{"method"})

	BatchQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "threatpipe_batch_queue_depth",
		Help: "Current number of entries waiting for an LLM location batch",
	})

	BatchFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threatpipe_batch_flushes_total",
		Help: "Batch queue flushes by trigger (size, time, final) and status",
	}, []string{"trigger", "status"})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "threatpipe_llm_request_duration_seconds",
		Help:    "Duration of LLM requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "task"})

	LLMProviderAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "threatpipe_llm_provider_available",
		Help: "Whether an LLM provider is configured and available (1) or not (0)",
	}, []string{"provider"})

	CircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "threatpipe_circuit_state",
		Help: "Circuit breaker state per service (0=closed, 1=half-open, 2=open)",
	}, []string{"service"})

	RateLimitTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threatpipe_rate_limit_timeouts_total",
		Help: "Calls abandoned because the token bucket wait cap elapsed",
	}, []string{"service"})

	RawItemsSaved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threatpipe_raw_items_saved_total",
		Help: "Raw item writes by outcome (inserted, conflict)",
	}, []string{"status"})

	AlertsSaved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threatpipe_alerts_saved_total",
		Help: "Enriched alert upserts by outcome (inserted, updated)",
	}, []string{"status"})

	AlertsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threatpipe_alerts_rejected_total",
		Help: "Enriched alerts rejected before storage by cause",
	}, []string{"reason"})

	EnrichmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threatpipe_enrichments_total",
		Help: "Enrichment attempts by outcome",
	}, []string{"status"})

	GeocodeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threatpipe_geocode_requests_total",
		Help: "Reverse geocoding requests by outcome (hit, miss, error)",
	}, []string{"status"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "threatpipe_cycle_duration_seconds",
		Help:    "Duration in seconds of a full fetch-enrich cycle",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	})

	RetentionDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threatpipe_retention_deleted_total",
		Help: "Rows removed by the retention sweep per table",
	}, []string{"table"})
)

// Drop reasons shared across the pipeline.
const (
	DropReasonStale             = "stale"
	DropReasonParse             = "parse"
	DropReasonFilterMiss        = "filter_miss"
	DropReasonDuplicate         = "duplicate"
	DropReasonSemanticDuplicate = "semantic_duplicate"
	DropReasonMissingLocation   = "missing_location"
	DropReasonBatchRetry        = "batch_retry_exhausted"
)

// Alert rejection reasons.
const (
	RejectMissingLocation = "missing_location"
	RejectNonNumericScore = "non_numeric_score"
	RejectParseFailure    = "parse_failure"
	RejectSemanticDup     = "semantic_duplicate"
)

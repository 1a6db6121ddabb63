package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Subscriptions
	EventsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "appview_firehose_events_ingested_total",
		Help: "The total number of firehose events received",
	}, []string{"subscription", "type"})

	ApplyLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "appview_firehose_apply_latency_seconds",
		Help: "The latency of applying one firehose event to the index",
	}, []string{"subscription"})

	ApplyErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "appview_firehose_apply_errors_total",
		Help: "The total number of firehose events that failed to apply",
	}, []string{"subscription"})

	Reconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "appview_firehose_reconnects_total",
		Help: "The total number of upstream reconnect attempts",
	}, []string{"subscription"})

	SubscriptionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "appview_subscription_state",
		Help: "The current lifecycle state of a subscription (0 idle .. 4 stopped)",
	}, []string{"subscription"})

	// Cursors
	CursorsSaved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "appview_cursor_saves_total",
		Help: "The total number of subscription cursors persisted",
	}, []string{"subscription"})

	CursorErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "appview_cursor_errors_total",
		Help: "The total number of failed cursor writes",
	}, []string{"subscription"})

	// Indexing
	CommitsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "appview_commits_total",
		Help: "The total number of commits offered to the index, by source and outcome",
	}, []string{"source", "result"})

	CacheFills = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "appview_search_cache_fills_total",
		Help: "The total number of search cache-fill attempts",
	}, []string{"mode", "result"})

	LabelsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "appview_labels_applied_total",
		Help: "The total number of labels written by a labeler",
	}, []string{"labeler"})

	// HTTP
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "appview_http_requests_total",
		Help: "The total number of HTTP requests served, by route and status",
	}, []string{"route", "status"})

	HTTPLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "appview_http_request_duration_seconds",
		Help: "The latency of HTTP requests by route",
	}, []string{"route"})

	// Publishing
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "appview_events_published_total",
		Help: "The total number of notifications published",
	}, []string{"subject"})

	PublishErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "appview_publish_errors_total",
		Help: "The total number of publish errors",
	}, []string{"subject"})
)

func init() {
	prometheus.MustRegister(EventsIngested)
	prometheus.MustRegister(ApplyLatency)
	prometheus.MustRegister(ApplyErrors)
	prometheus.MustRegister(Reconnects)
	prometheus.MustRegister(SubscriptionState)
	prometheus.MustRegister(CursorsSaved)
	prometheus.MustRegister(CursorErrors)
	prometheus.MustRegister(CommitsApplied)
	prometheus.MustRegister(CacheFills)
	prometheus.MustRegister(LabelsApplied)
	prometheus.MustRegister(HTTPRequests)
	prometheus.MustRegister(HTTPLatency)
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(PublishErrors)
}

// ObservePublish records the outcome of one publish attempt.
func ObservePublish(subject string, err error) {
	if err != nil {
		PublishErrors.WithLabelValues(subject).Inc()
		return
	}
	EventsPublished.WithLabelValues(subject).Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// ObserveCacheFill records the outcome of a search cache fill.
func ObserveCacheFill(mode string, ok bool) {
	CacheFills.WithLabelValues(mode, resultLabel(ok)).Inc()
}

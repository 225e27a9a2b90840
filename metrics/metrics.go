package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "changealert"

// Skip reasons for WatchesSkipped.
const (
	SkipWatchError   = "watch_error"
	SkipNotRecent    = "not_recent"
	SkipNoSnapshot   = "no_snapshot"
	SkipFetchFailed  = "fetch_failed"
	SkipNoMatch      = "no_match"
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeNoKeyword = "no_keywords"
)

var (
	ScansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scans_total",
		Help:      "Keyword scans by outcome",
	}, []string{"outcome"})

	ScanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scan_duration_seconds",
		Help:      "Wall time of a keyword scan",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	WatchesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "watches_skipped_total",
		Help:      "Watches left out of a scan by reason",
	}, []string{"reason"})

	ReportsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "match_reports_total",
		Help:      "Watches reported with at least one keyword match",
	})

	EmailsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "emails_total",
		Help:      "Alert emails by send outcome",
	}, []string{"outcome"})

	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_requests_total",
		Help:      "HTTP requests rejected by the rate limiter",
	})
)

var registerOnce sync.Once

// Register adds all collectors to reg. Safe to call more than once.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(ScansTotal, ScanDuration, WatchesSkipped, ReportsTotal, EmailsTotal, RateLimited)
	})
}

// CounterValue reads the current value of a counter.
func CounterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

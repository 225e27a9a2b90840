// Package scanner finds configured keywords in the latest snapshots of recently
// changed watches.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/kova98/changealert.api/data"
	"github.com/kova98/changealert.api/matchers"
	"github.com/kova98/changealert.api/metrics"
	"github.com/kova98/changealert.api/sources"
)

const (
	MinLookbackHours   = 1
	MaxLookbackHours   = 720
	DefaultConcurrency = 8

	NoKeywordsMessage = "No keywords found in database"
	NoMatchesMessage  = "No keyword matches found"
)

var (
	ErrInvalidParameter        = errors.New("invalid parameter")
	ErrKeywordStoreUnavailable = errors.New("keyword store unavailable")
)

type KeywordStore interface {
	GetKeywords(ctx context.Context) ([]data.Keyword, error)
}

type WatchRegistry interface {
	ListWatches(ctx context.Context, apiKey string) (map[string]sources.WatchSummary, error)
	FetchLatestSnapshot(ctx context.Context, watchID, apiKey string) (string, bool, error)
}

type LanguageDetector interface {
	Detect(html string) string
}

// WatchMatchReport lists the keywords found on one watch. Matches is never empty.
type WatchMatchReport struct {
	WatchID       string
	URL           string
	Title         string
	LastChangedAt *time.Time
	Language      string
	Matches       []matchers.KeywordMatch
}

type ScanResult struct {
	Message string
	Reports []WatchMatchReport
}

type Scanner struct {
	logger      *slog.Logger
	keywords    KeywordStore
	registry    WatchRegistry
	languages   LanguageDetector
	concurrency int
	now         func() time.Time
}

func NewScanner(logger *slog.Logger, keywords KeywordStore, registry WatchRegistry, concurrency int) *Scanner {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	return &Scanner{
		logger:      logger,
		keywords:    keywords,
		registry:    registry,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// SetLanguageDetector enables tagging reports with the snapshot language.
func (s *Scanner) SetLanguageDetector(d LanguageDetector) {
	s.languages = d
}

// Scan loads keywords and watches, then matches the latest snapshot of every
// eligible watch concurrently. Once both lists are loaded, per-watch failures only
// remove that watch from the result.
func (s *Scanner) Scan(ctx context.Context, apiKey string, onlyRecent bool, lookbackHours int) (ScanResult, error) {
	if lookbackHours < MinLookbackHours || lookbackHours > MaxLookbackHours {
		return ScanResult{}, fmt.Errorf("%w: hours must be between %d and %d, got %d",
			ErrInvalidParameter, MinLookbackHours, MaxLookbackHours, lookbackHours)
	}

	start := time.Now()
	log := s.logger.With("scan_id", uuid.NewString())

	keywords, err := s.keywords.GetKeywords(ctx)
	if err != nil {
		metrics.ScansTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		return ScanResult{}, fmt.Errorf("%w: %w", ErrKeywordStoreUnavailable, err)
	}
	if len(keywords) == 0 {
		metrics.ScansTotal.WithLabelValues(metrics.OutcomeNoKeyword).Inc()
		log.Info("scan skipped, no keywords configured")
		return ScanResult{Message: NoKeywordsMessage, Reports: []WatchMatchReport{}}, nil
	}

	watches, err := s.registry.ListWatches(ctx, apiKey)
	if err != nil {
		metrics.ScansTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		return ScanResult{}, errors.Wrap(err, "scan: list watches")
	}

	cutoff := s.now().Add(-time.Duration(lookbackHours) * time.Hour)
	candidates := s.eligible(watches, onlyRecent, cutoff)

	found := make([]*WatchMatchReport, len(candidates))
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for i, watch := range candidates {
		g.Go(func() error {
			found[i] = s.scanWatch(ctx, log, apiKey, watch, keywords)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		metrics.ScansTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		return ScanResult{}, errors.Wrap(err, "scan: cancelled")
	}

	reports := make([]WatchMatchReport, 0, len(found))
	for _, r := range found {
		if r != nil {
			reports = append(reports, *r)
		}
	}

	metrics.ScansTotal.WithLabelValues(metrics.OutcomeOK).Inc()
	metrics.ScanDuration.Observe(time.Since(start).Seconds())
	metrics.ReportsTotal.Add(float64(len(reports)))

	log.Info("scan finished",
		"keywords", len(keywords),
		"watches", len(watches),
		"scanned", len(candidates),
		"reports", len(reports),
		"elapsed_ms", time.Since(start).Milliseconds())

	return ScanResult{Message: summary(len(reports)), Reports: reports}, nil
}

// eligible returns the watches worth fetching, ordered by id.
func (s *Scanner) eligible(watches map[string]sources.WatchSummary, onlyRecent bool, cutoff time.Time) []sources.WatchSummary {
	ids := make([]string, 0, len(watches))
	for id := range watches {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]sources.WatchSummary, 0, len(ids))
	for _, id := range ids {
		w := watches[id]
		if w.HasError {
			metrics.WatchesSkipped.WithLabelValues(metrics.SkipWatchError).Inc()
			continue
		}
		if onlyRecent && (w.LastChangedAt == nil || w.LastChangedAt.Before(cutoff)) {
			metrics.WatchesSkipped.WithLabelValues(metrics.SkipNotRecent).Inc()
			continue
		}
		out = append(out, w)
	}

	return out
}

func (s *Scanner) scanWatch(ctx context.Context, log *slog.Logger, apiKey string, watch sources.WatchSummary, keywords []data.Keyword) *WatchMatchReport {
	snapshot, ok, err := s.registry.FetchLatestSnapshot(ctx, watch.ID, apiKey)
	if err != nil {
		metrics.WatchesSkipped.WithLabelValues(metrics.SkipFetchFailed).Inc()
		log.Warn("skipping watch", "watch_id", watch.ID, "error", err)
		return nil
	}
	if !ok {
		metrics.WatchesSkipped.WithLabelValues(metrics.SkipNoSnapshot).Inc()
		log.Debug("skipping watch", "watch_id", watch.ID, "error", sources.ErrSnapshotUnavailable)
		return nil
	}

	matched := matchers.FindMatches(snapshot, keywords)
	if len(matched) == 0 {
		metrics.WatchesSkipped.WithLabelValues(metrics.SkipNoMatch).Inc()
		return nil
	}

	report := &WatchMatchReport{
		WatchID:       watch.ID,
		URL:           watch.URL,
		Title:         watch.URL,
		LastChangedAt: watch.LastChangedAt,
		Matches:       matchers.ExtractContext(snapshot, matched),
	}
	if watch.Title != nil {
		report.Title = *watch.Title
	}
	if s.languages != nil {
		report.Language = s.languages.Detect(snapshot)
	}

	return report
}

func summary(reports int) string {
	switch reports {
	case 0:
		return NoMatchesMessage
	case 1:
		return "Found 1 watch with keyword matches"
	default:
		return fmt.Sprintf("Found %d watches with keyword matches", reports)
	}
}

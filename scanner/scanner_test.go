package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kova98/changealert.api/data"
	"github.com/kova98/changealert.api/sources"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeKeywords struct {
	keywords []data.Keyword
	err      error
}

func (f fakeKeywords) GetKeywords(ctx context.Context) ([]data.Keyword, error) {
	return f.keywords, f.err
}

type fakeRegistry struct {
	watches   map[string]sources.WatchSummary
	listErr   error
	snapshots map[string]string
	fetchErrs map[string]error

	listCalls  atomic.Int32
	mu         sync.Mutex
	fetched    []string
	inFlight   atomic.Int32
	maxInFlght atomic.Int32
	delay      time.Duration
}

func (f *fakeRegistry) ListWatches(ctx context.Context, apiKey string) (map[string]sources.WatchSummary, error) {
	f.listCalls.Add(1)
	return f.watches, f.listErr
}

func (f *fakeRegistry) FetchLatestSnapshot(ctx context.Context, watchID, apiKey string) (string, bool, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlght.Load()
		if n <= m || f.maxInFlght.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.fetched = append(f.fetched, watchID)
	f.mu.Unlock()

	if err, ok := f.fetchErrs[watchID]; ok {
		return "", false, err
	}
	snapshot, ok := f.snapshots[watchID]
	return snapshot, ok, nil
}

type fixedLanguage string

func (l fixedLanguage) Detect(string) string { return string(l) }

func newTestScanner(keywords KeywordStore, registry WatchRegistry) *Scanner {
	s := NewScanner(slog.New(slog.NewTextHandler(io.Discard, nil)), keywords, registry, 4)
	s.now = func() time.Time { return testNow }
	return s
}

func ago(d time.Duration) *time.Time {
	t := testNow.Add(-d)
	return &t
}

func kw(words ...string) []data.Keyword {
	out := make([]data.Keyword, 0, len(words))
	for i, w := range words {
		out = append(out, data.Keyword{ID: i + 1, Keyword: w})
	}
	return out
}

func strPtr(s string) *string { return &s }

func TestScan_SingleMatch(t *testing.T) {
	registry := &fakeRegistry{
		watches: map[string]sources.WatchSummary{
			"w1": {ID: "w1", URL: "https://example.com/news", LastChangedAt: ago(0)},
		},
		snapshots: map[string]string{"w1": "<p>We suffered a BREACH yesterday</p>"},
	}
	s := newTestScanner(fakeKeywords{keywords: kw("breach")}, registry)

	result, err := s.Scan(context.Background(), "key", true, 24)

	require.NoError(t, err)
	require.Len(t, result.Reports, 1)
	report := result.Reports[0]
	assert.Equal(t, "w1", report.WatchID)
	assert.Equal(t, "https://example.com/news", report.Title, "title falls back to url")
	require.Len(t, report.Matches, 1)
	assert.Contains(t, report.Matches[0].ContextPlain, "suffered a BREACH yesterday")
	assert.Contains(t, report.Matches[0].ContextHighlighted, "<mark>BREACH</mark>")
	assert.Equal(t, "Found 1 watch with keyword matches", result.Message)
}

func TestScan_RecentFilterExcludesOldChanges(t *testing.T) {
	registry := &fakeRegistry{
		watches: map[string]sources.WatchSummary{
			"old":   {ID: "old", URL: "https://old.example", LastChangedAt: ago(25 * time.Hour)},
			"fresh": {ID: "fresh", URL: "https://fresh.example", LastChangedAt: ago(time.Hour)},
			"never": {ID: "never", URL: "https://never.example"},
		},
		snapshots: map[string]string{
			"old":   "breach",
			"fresh": "breach",
			"never": "breach",
		},
	}
	s := newTestScanner(fakeKeywords{keywords: kw("breach")}, registry)

	result, err := s.Scan(context.Background(), "key", true, 24)

	require.NoError(t, err)
	require.Len(t, result.Reports, 1)
	assert.Equal(t, "fresh", result.Reports[0].WatchID)
	assert.ElementsMatch(t, []string{"fresh"}, registry.fetched)
}

func TestScan_LookbackOfOneHour(t *testing.T) {
	registry := &fakeRegistry{
		watches: map[string]sources.WatchSummary{
			"w1": {ID: "w1", URL: "https://example.com", LastChangedAt: ago(2 * time.Hour)},
		},
		snapshots: map[string]string{"w1": "breach"},
	}
	s := newTestScanner(fakeKeywords{keywords: kw("breach")}, registry)

	result, err := s.Scan(context.Background(), "key", true, 1)

	require.NoError(t, err)
	assert.Empty(t, result.Reports)
	assert.Equal(t, NoMatchesMessage, result.Message)
}

func TestScan_AllWatchesWhenNotRecent(t *testing.T) {
	registry := &fakeRegistry{
		watches: map[string]sources.WatchSummary{
			"old":   {ID: "old", URL: "https://old.example", LastChangedAt: ago(500 * time.Hour)},
			"never": {ID: "never", URL: "https://never.example", Title: strPtr("Never changed")},
		},
		snapshots: map[string]string{"old": "breach", "never": "breach"},
	}
	s := newTestScanner(fakeKeywords{keywords: kw("breach")}, registry)

	result, err := s.Scan(context.Background(), "key", false, 24)

	require.NoError(t, err)
	require.Len(t, result.Reports, 2)
	assert.Equal(t, "never", result.Reports[0].WatchID)
	assert.Equal(t, "Never changed", result.Reports[0].Title)
	assert.Nil(t, result.Reports[0].LastChangedAt)
	assert.Equal(t, "old", result.Reports[1].WatchID)
}

func TestScan_SkipsWatchesWithErrors(t *testing.T) {
	registry := &fakeRegistry{
		watches: map[string]sources.WatchSummary{
			"broken": {ID: "broken", URL: "https://broken.example", LastChangedAt: ago(0), HasError: true},
		},
		snapshots: map[string]string{"broken": "breach"},
	}
	s := newTestScanner(fakeKeywords{keywords: kw("breach")}, registry)

	for _, onlyRecent := range []bool{true, false} {
		result, err := s.Scan(context.Background(), "key", onlyRecent, 720)
		require.NoError(t, err)
		assert.Empty(t, result.Reports)
	}
	assert.Empty(t, registry.fetched)
}

func TestScan_SnapshotFailureIsIsolated(t *testing.T) {
	registry := &fakeRegistry{
		watches: map[string]sources.WatchSummary{
			"a": {ID: "a", URL: "https://a.example", LastChangedAt: ago(0)},
			"b": {ID: "b", URL: "https://b.example", LastChangedAt: ago(0)},
			"c": {ID: "c", URL: "https://c.example", LastChangedAt: ago(0)},
		},
		snapshots: map[string]string{"a": "breach", "b": "breach", "c": "breach"},
		fetchErrs: map[string]error{"b": fmt.Errorf("%w: boom", sources.ErrUpstreamUnavailable)},
	}
	s := newTestScanner(fakeKeywords{keywords: kw("breach")}, registry)

	result, err := s.Scan(context.Background(), "key", true, 24)

	require.NoError(t, err)
	require.Len(t, result.Reports, 2)
	assert.Equal(t, "a", result.Reports[0].WatchID)
	assert.Equal(t, "c", result.Reports[1].WatchID)
}

func TestScan_MissingSnapshotIsSkipped(t *testing.T) {
	registry := &fakeRegistry{
		watches: map[string]sources.WatchSummary{
			"new": {ID: "new", URL: "https://new.example", LastChangedAt: ago(0)},
		},
		snapshots: map[string]string{},
	}
	s := newTestScanner(fakeKeywords{keywords: kw("breach")}, registry)

	result, err := s.Scan(context.Background(), "key", true, 24)

	require.NoError(t, err)
	assert.Empty(t, result.Reports)
}

func TestScan_NoKeywordsShortCircuits(t *testing.T) {
	registry := &fakeRegistry{listErr: errors.New("must not be called")}
	s := newTestScanner(fakeKeywords{keywords: []data.Keyword{}}, registry)

	result, err := s.Scan(context.Background(), "key", true, 24)

	require.NoError(t, err)
	assert.Equal(t, NoKeywordsMessage, result.Message)
	assert.NotNil(t, result.Reports)
	assert.Empty(t, result.Reports)
	assert.Equal(t, int32(0), registry.listCalls.Load())
}

func TestScan_InvalidHours(t *testing.T) {
	registry := &fakeRegistry{}
	s := newTestScanner(fakeKeywords{keywords: kw("breach")}, registry)

	for _, hours := range []int{0, -1, 721} {
		_, err := s.Scan(context.Background(), "key", true, hours)
		assert.ErrorIs(t, err, ErrInvalidParameter, "hours=%d", hours)
	}
	assert.Equal(t, int32(0), registry.listCalls.Load())
}

func TestScan_BoundaryHoursAccepted(t *testing.T) {
	registry := &fakeRegistry{watches: map[string]sources.WatchSummary{}}
	s := newTestScanner(fakeKeywords{keywords: kw("breach")}, registry)

	for _, hours := range []int{MinLookbackHours, MaxLookbackHours} {
		_, err := s.Scan(context.Background(), "key", true, hours)
		assert.NoError(t, err)
	}
}

func TestScan_KeywordStoreFailure(t *testing.T) {
	s := newTestScanner(fakeKeywords{err: errors.New("connection refused")}, &fakeRegistry{})

	_, err := s.Scan(context.Background(), "key", true, 24)

	assert.ErrorIs(t, err, ErrKeywordStoreUnavailable)
}

func TestScan_UpstreamFailurePropagates(t *testing.T) {
	registry := &fakeRegistry{listErr: fmt.Errorf("%w: status 503", sources.ErrUpstreamUnavailable)}
	s := newTestScanner(fakeKeywords{keywords: kw("breach")}, registry)

	result, err := s.Scan(context.Background(), "key", true, 24)

	assert.ErrorIs(t, err, sources.ErrUpstreamUnavailable)
	assert.Empty(t, result.Reports)

	registry.listErr = fmt.Errorf("%w: bad json", sources.ErrUpstreamProtocol)
	_, err = s.Scan(context.Background(), "key", true, 24)
	assert.ErrorIs(t, err, sources.ErrUpstreamProtocol)
}

// cancellingRegistry cancels the scan while the first snapshot is fetched.
type cancellingRegistry struct {
	*fakeRegistry
	cancel context.CancelFunc
}

func (c cancellingRegistry) FetchLatestSnapshot(ctx context.Context, watchID, apiKey string) (string, bool, error) {
	c.cancel()
	return c.fakeRegistry.FetchLatestSnapshot(ctx, watchID, apiKey)
}

func TestScan_CancelledMidScanFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	registry := cancellingRegistry{
		fakeRegistry: &fakeRegistry{
			watches: map[string]sources.WatchSummary{
				"w1": {ID: "w1", URL: "https://a.example", LastChangedAt: ago(time.Hour)},
				"w2": {ID: "w2", URL: "https://b.example", LastChangedAt: ago(time.Hour)},
			},
			snapshots: map[string]string{"w1": "breach", "w2": "breach"},
		},
		cancel: cancel,
	}
	s := newTestScanner(fakeKeywords{keywords: kw("breach")}, registry)

	result, err := s.Scan(ctx, "key", true, 24)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, result.Reports)
	assert.Empty(t, result.Message)
}

func TestScan_MatchesFollowKeywordOrder(t *testing.T) {
	registry := &fakeRegistry{
		watches: map[string]sources.WatchSummary{
			"w": {ID: "w", URL: "https://example.com", LastChangedAt: ago(0)},
		},
		snapshots: map[string]string{"w": "<p>outage then breach then leak</p>"},
	}
	s := newTestScanner(fakeKeywords{keywords: kw("leak", "breach", "missing", "outage")}, registry)

	result, err := s.Scan(context.Background(), "key", true, 24)

	require.NoError(t, err)
	require.Len(t, result.Reports, 1)
	matches := result.Reports[0].Matches
	require.Len(t, matches, 3)
	assert.Equal(t, "leak", matches[0].Keyword.Keyword)
	assert.Equal(t, "breach", matches[1].Keyword.Keyword)
	assert.Equal(t, "outage", matches[2].Keyword.Keyword)
}

func TestScan_ConcurrencyIsBounded(t *testing.T) {
	watches := make(map[string]sources.WatchSummary)
	snapshots := make(map[string]string)
	for i := range 20 {
		id := fmt.Sprintf("w%02d", i)
		watches[id] = sources.WatchSummary{ID: id, URL: "https://example.com/" + id, LastChangedAt: ago(0)}
		snapshots[id] = "breach"
	}
	registry := &fakeRegistry{watches: watches, snapshots: snapshots, delay: 5 * time.Millisecond}
	s := newTestScanner(fakeKeywords{keywords: kw("breach")}, registry)

	result, err := s.Scan(context.Background(), "key", true, 24)

	require.NoError(t, err)
	assert.Len(t, result.Reports, 20)
	assert.LessOrEqual(t, registry.maxInFlght.Load(), int32(4))
}

func TestScan_LanguageDetection(t *testing.T) {
	registry := &fakeRegistry{
		watches: map[string]sources.WatchSummary{
			"w": {ID: "w", URL: "https://example.com", LastChangedAt: ago(0)},
		},
		snapshots: map[string]string{"w": "breach"},
	}
	s := newTestScanner(fakeKeywords{keywords: kw("breach")}, registry)
	s.SetLanguageDetector(fixedLanguage("English"))

	result, err := s.Scan(context.Background(), "key", true, 24)

	require.NoError(t, err)
	require.Len(t, result.Reports, 1)
	assert.Equal(t, "English", result.Reports[0].Language)
}

package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	apiKeyHeader     = "x-api-key"
	maxSnapshotBytes = 10 << 20
	maxErrorBody     = 300
)

var (
	// ErrUpstreamUnavailable means the registry could not be reached, timed out or answered with a non-success status.
	ErrUpstreamUnavailable = errors.New("change detection registry unavailable")
	// ErrUpstreamProtocol means the registry answered but the body had an unexpected shape.
	ErrUpstreamProtocol = errors.New("change detection registry returned an unexpected response")
	// ErrSnapshotUnavailable means a watch has no snapshot yet.
	ErrSnapshotUnavailable = errors.New("snapshot unavailable")
)

// WatchSummary is one monitored page as reported by the registry.
type WatchSummary struct {
	ID            string
	URL           string
	Title         *string
	LastChangedAt *time.Time
	LastCheckedAt *time.Time
	HasError      bool
}

type ChangeDetectionClient struct {
	logger          *slog.Logger
	httpClient      *http.Client
	baseURL         string
	listTimeout     time.Duration
	snapshotTimeout time.Duration
}

func NewChangeDetectionClient(logger *slog.Logger, httpClient *http.Client, baseURL string, listTimeout, snapshotTimeout time.Duration) *ChangeDetectionClient {
	return &ChangeDetectionClient{
		logger:          logger,
		httpClient:      httpClient,
		baseURL:         strings.TrimRight(baseURL, "/"),
		listTimeout:     listTimeout,
		snapshotTimeout: snapshotTimeout,
	}
}

// ListWatches returns every watch keyed by its registry id. Entries that fail
// validation are logged and left out.
func (c *ChangeDetectionClient) ListWatches(ctx context.Context, apiKey string) (map[string]WatchSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, c.listTimeout)
	defer cancel()

	resp, err := c.get(ctx, c.baseURL+"/api/v1/watch", apiKey)
	if err != nil {
		return nil, fmt.Errorf("%w: list watches: %w", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, fmt.Errorf("%w: list watches: status %d: %s", ErrUpstreamUnavailable, resp.StatusCode, readErrorBody(resp.Body))
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: list watches: %w", ErrUpstreamUnavailable, ctx.Err())
		}
		return nil, fmt.Errorf("%w: decode watch list: %w", ErrUpstreamProtocol, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: decode watch list: body is not an object", ErrUpstreamProtocol)
	}

	watches := make(map[string]WatchSummary, len(raw))
	for id, entry := range raw {
		watch, err := parseWatch(id, entry)
		if err != nil {
			c.logger.Warn("skipping malformed watch", "watch_id", id, "error", err)
			continue
		}
		watches[id] = watch
	}

	return watches, nil
}

// FetchLatestSnapshot returns the rendered HTML of the watch's latest check.
// ok is false when the registry has no snapshot for the watch yet.
func (c *ChangeDetectionClient) FetchLatestSnapshot(ctx context.Context, watchID, apiKey string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.snapshotTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/api/v1/watch/%s/history/latest?html=1", c.baseURL, url.PathEscape(watchID))
	resp, err := c.get(ctx, endpoint, apiKey)
	if err != nil {
		return "", false, fmt.Errorf("%w: fetch snapshot %s: %w", ErrUpstreamUnavailable, watchID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if !isSuccess(resp.StatusCode) {
		return "", false, fmt.Errorf("%w: fetch snapshot %s: status %d: %s", ErrUpstreamUnavailable, watchID, resp.StatusCode, readErrorBody(resp.Body))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return "", false, fmt.Errorf("%w: read snapshot %s: %w", ErrUpstreamUnavailable, watchID, err)
	}

	snapshot := string(body)
	if strings.TrimSpace(snapshot) == "" {
		return "", false, nil
	}

	return snapshot, true, nil
}

func (c *ChangeDetectionClient) get(ctx context.Context, endpoint, apiKey string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(apiKeyHeader, apiKey)
	req.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")

	return c.httpClient.Do(req)
}

type rawWatch struct {
	URL         string          `json:"url"`
	Title       *string         `json:"title"`
	LastChecked json.RawMessage `json:"last_checked"`
	LastChanged json.RawMessage `json:"last_changed"`
	LastError   json.RawMessage `json:"last_error"`
}

func parseWatch(id string, entry json.RawMessage) (WatchSummary, error) {
	var w rawWatch
	if err := json.Unmarshal(entry, &w); err != nil {
		return WatchSummary{}, fmt.Errorf("decode watch: %w", err)
	}
	if strings.TrimSpace(w.URL) == "" {
		return WatchSummary{}, errors.New("watch has no url")
	}

	summary := WatchSummary{
		ID:            id,
		URL:           w.URL,
		LastCheckedAt: parseUnixSeconds(w.LastChecked),
		LastChangedAt: parseUnixSeconds(w.LastChanged),
		HasError:      parseErrorFlag(w.LastError),
	}
	if w.Title != nil && strings.TrimSpace(*w.Title) != "" {
		title := strings.TrimSpace(*w.Title)
		summary.Title = &title
	}

	return summary, nil
}

// parseUnixSeconds accepts integer or fractional epoch seconds. Zero, null and
// anything unparseable count as absent.
func parseUnixSeconds(raw json.RawMessage) *time.Time {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var secs float64
	if err := json.Unmarshal(raw, &secs); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		if _, err := fmt.Sscanf(s, "%g", &secs); err != nil {
			return nil
		}
	}
	if secs <= 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return nil
	}

	whole, frac := math.Modf(secs)
	t := time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC()
	return &t
}

// parseErrorFlag treats false, null, 0 and blank strings as "no error".
func parseErrorFlag(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}

	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return strings.TrimSpace(val) != ""
	case float64:
		return val != 0
	default:
		return true
	}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func readErrorBody(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(body))
}

package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/kova98/changealert.api/alerts"
	"github.com/kova98/changealert.api/models"
	"github.com/kova98/changealert.api/scanner"
	"github.com/kova98/changealert.api/sources"
)

type AlertService interface {
	Matches(ctx context.Context, p alerts.Params) (scanner.ScanResult, error)
	Notify(ctx context.Context, p alerts.Params) (alerts.NotifyResult, error)
}

type AlertHandler struct {
	svc        AlertService
	onlyRecent bool
	hours      int
}

// NewAlertHandler uses onlyRecent and hours when a request leaves them out.
func NewAlertHandler(svc AlertService, onlyRecent bool, hours int) *AlertHandler {
	return &AlertHandler{svc: svc, onlyRecent: onlyRecent, hours: hours}
}

func (h *AlertHandler) GetMatches(w http.ResponseWriter, r *http.Request) Result {
	params, msg := h.parseParams(r)
	if msg != "" {
		return BadRequest(msg)
	}

	res, err := h.svc.Matches(r.Context(), params)
	if err != nil {
		return alertError(err)
	}

	return Ok(models.MatchesResponse{Message: res.Message, Matches: toMatchReports(res.Reports)})
}

func (h *AlertHandler) Notify(w http.ResponseWriter, r *http.Request) Result {
	params, msg := h.parseParams(r)
	if msg != "" {
		return BadRequest(msg)
	}

	q := r.URL.Query()
	test := q.Get("test")
	if test != "" && test != "0" && test != "1" {
		return BadRequest("test must be 0 or 1.")
	}
	if email := q.Get("email"); email != "" || test == "1" {
		address, ok := parseAddress(email)
		if !ok {
			return BadRequest("A valid email address is required for a test send.")
		}
		params.TestEmail = address
	}
	params.Subject = q.Get("subject")

	res, err := h.svc.Notify(r.Context(), params)
	if err != nil {
		return alertError(err)
	}

	if len(res.Reports) == 0 {
		return Ok(models.MatchesResponse{Message: res.Message, Matches: []models.MatchReport{}})
	}

	return Ok(models.NotifyResponse{
		Message:      res.Message,
		EmailsSent:   res.Dispatch.Sent,
		EmailsFailed: res.Dispatch.Failed,
		TotalEmails:  res.Dispatch.Total,
	})
}

func (h *AlertHandler) parseParams(r *http.Request) (alerts.Params, string) {
	q := r.URL.Query()
	params := alerts.Params{OnlyRecent: h.onlyRecent, Hours: h.hours}

	switch q.Get("recent") {
	case "":
	case "0":
		params.OnlyRecent = false
	case "1":
		params.OnlyRecent = true
	default:
		return alerts.Params{}, "recent must be 0 or 1."
	}

	if raw := q.Get("hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours < scanner.MinLookbackHours || hours > scanner.MaxLookbackHours {
			return alerts.Params{}, fmt.Sprintf("hours must be a number between %d and %d.",
				scanner.MinLookbackHours, scanner.MaxLookbackHours)
		}
		params.Hours = hours
	}

	return params, ""
}

func alertError(err error) Result {
	switch {
	case errors.Is(err, scanner.ErrInvalidParameter):
		return BadRequest(err.Error())
	case errors.Is(err, sources.ErrUpstreamUnavailable), errors.Is(err, sources.ErrUpstreamProtocol):
		return BadGateway(err, "Change detection service is unavailable.")
	default:
		return InternalError(err, "alert run: ")
	}
}

func toMatchReports(reports []scanner.WatchMatchReport) []models.MatchReport {
	out := make([]models.MatchReport, 0, len(reports))
	for _, r := range reports {
		report := models.MatchReport{
			WatchID:     r.WatchID,
			URL:         r.URL,
			Title:       r.Title,
			LastChanged: r.LastChangedAt,
			Language:    r.Language,
			Matches:     make([]models.KeywordMatch, 0, len(r.Matches)),
		}
		for _, m := range r.Matches {
			report.Matches = append(report.Matches, models.KeywordMatch{
				KeywordID:          m.Keyword.ID,
				Keyword:            m.Keyword.Keyword,
				Category:           m.Keyword.Category,
				Context:            m.ContextPlain,
				ContextHighlighted: m.ContextHighlighted,
			})
		}
		out = append(out, report)
	}
	return out
}

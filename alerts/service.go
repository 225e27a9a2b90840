// Package alerts ties a keyword scan to the email dispatch of its results.
package alerts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/kova98/changealert.api/data"
	"github.com/kova98/changealert.api/notifiers"
	"github.com/kova98/changealert.api/scanner"
)

type Scanner interface {
	Scan(ctx context.Context, apiKey string, onlyRecent bool, lookbackHours int) (scanner.ScanResult, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, reports []scanner.WatchMatchReport, recipients notifiers.RecipientSource, subject string) (notifiers.DispatchResult, error)
}

type SubscriberLister interface {
	GetSubscribers(ctx context.Context) ([]data.Subscriber, error)
}

// Params controls a single alert run. TestEmail, when set, replaces the
// subscriber list with that one address.
type Params struct {
	OnlyRecent bool
	Hours      int
	TestEmail  string
	Subject    string
}

type NotifyResult struct {
	Message  string
	Reports  []scanner.WatchMatchReport
	Dispatch notifiers.DispatchResult
}

type Service struct {
	logger      *slog.Logger
	scanner     Scanner
	dispatcher  Dispatcher
	subscribers notifiers.RecipientSource
	apiKey      string
}

func NewService(logger *slog.Logger, sc Scanner, d Dispatcher, subscribers SubscriberLister, apiKey string) *Service {
	return &Service{
		logger:      logger,
		scanner:     sc,
		dispatcher:  d,
		subscribers: SubscriberRecipients{Subscribers: subscribers},
		apiKey:      apiKey,
	}
}

// Matches runs a scan without notifying anyone.
func (s *Service) Matches(ctx context.Context, p Params) (scanner.ScanResult, error) {
	res, err := s.scanner.Scan(ctx, s.apiKey, p.OnlyRecent, p.Hours)
	if err != nil {
		return scanner.ScanResult{}, errors.Wrap(err, "matches")
	}
	return res, nil
}

// Notify scans and emails the reports. A scan without reports sends nothing.
func (s *Service) Notify(ctx context.Context, p Params) (NotifyResult, error) {
	res, err := s.scanner.Scan(ctx, s.apiKey, p.OnlyRecent, p.Hours)
	if err != nil {
		return NotifyResult{}, errors.Wrap(err, "notify: scan")
	}
	if len(res.Reports) == 0 {
		return NotifyResult{Message: res.Message, Reports: res.Reports}, nil
	}

	recipients := s.subscribers
	subject := p.Subject
	if p.TestEmail != "" {
		recipients = notifiers.StaticRecipients{p.TestEmail}
		if subject == "" {
			subject = "[TEST] " + notifiers.DefaultSubject(len(res.Reports))
		}
	}

	sent, err := s.dispatcher.Dispatch(ctx, res.Reports, recipients, subject)
	if err != nil {
		return NotifyResult{}, errors.Wrap(err, "notify: dispatch")
	}

	s.logger.Info("alert run finished",
		"reports", len(res.Reports),
		"sent", sent.Sent,
		"failed", sent.Failed,
		"test", p.TestEmail != "")

	return NotifyResult{
		Message:  notifyMessage(len(res.Reports), sent),
		Reports:  res.Reports,
		Dispatch: sent,
	}, nil
}

func notifyMessage(reports int, sent notifiers.DispatchResult) string {
	if sent.Total == 0 {
		return fmt.Sprintf("%s, but there are no subscribers to notify", summary(reports))
	}
	return fmt.Sprintf("%s, sent %d of %d emails", summary(reports), sent.Sent, sent.Total)
}

func summary(reports int) string {
	if reports == 1 {
		return "Found 1 watch with keyword matches"
	}
	return fmt.Sprintf("Found %d watches with keyword matches", reports)
}

// SubscriberRecipients lists stored subscribers as alert recipients.
type SubscriberRecipients struct {
	Subscribers SubscriberLister
}

func (r SubscriberRecipients) ListRecipients(ctx context.Context) ([]notifiers.Recipient, error) {
	subscribers, err := r.Subscribers.GetSubscribers(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]notifiers.Recipient, 0, len(subscribers))
	for _, sub := range subscribers {
		out = append(out, notifiers.Recipient{
			ID:               sub.ID,
			Address:          sub.EmailAddress,
			UnsubscribeToken: sub.UnsubscribeToken,
		})
	}

	return out, nil
}

package notifiers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kova98/changealert.api/metrics"
	"github.com/kova98/changealert.api/models"
	"github.com/kova98/changealert.api/scanner"
)

const DefaultSendConcurrency = 4

const sendTimeout = 30 * time.Second

var (
	ErrRecipientStoreUnavailable = errors.New("recipient store unavailable")
	ErrRecipientSendFailed       = errors.New("recipient send failed")
)

type MailSender interface {
	Send(ctx context.Context, mail models.Email) (string, error)
}

type RecipientSource interface {
	ListRecipients(ctx context.Context) ([]Recipient, error)
}

// Recipient is one alert address. A zero UnsubscribeToken means the message is
// not personalized and gets no unsubscribe footer.
type Recipient struct {
	ID               int
	Address          string
	UnsubscribeToken uuid.UUID
}

// StaticRecipients is a fixed address list, used for test sends.
type StaticRecipients []string

func (s StaticRecipients) ListRecipients(_ context.Context) ([]Recipient, error) {
	out := make([]Recipient, 0, len(s))
	for _, addr := range s {
		out = append(out, Recipient{Address: addr})
	}
	return out, nil
}

type DispatchResult struct {
	Sent   int
	Failed int
	Total  int
}

type Dispatcher struct {
	logger      *slog.Logger
	sender      MailSender
	appBaseURL  string
	concurrency int
}

func NewDispatcher(logger *slog.Logger, sender MailSender, appBaseURL string, concurrency int) *Dispatcher {
	if concurrency <= 0 {
		concurrency = DefaultSendConcurrency
	}

	return &Dispatcher{
		logger:      logger,
		sender:      sender,
		appBaseURL:  appBaseURL,
		concurrency: concurrency,
	}
}

// Dispatch emails reports to every recipient. An empty report list sends nothing.
// Only a failure to list recipients is returned; failed sends are counted.
func (d *Dispatcher) Dispatch(ctx context.Context, reports []scanner.WatchMatchReport, recipients RecipientSource, subject string) (DispatchResult, error) {
	if len(reports) == 0 {
		return DispatchResult{}, nil
	}

	list, err := recipients.ListRecipients(ctx)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("%w: %w", ErrRecipientStoreUnavailable, err)
	}
	if len(list) == 0 {
		d.logger.Warn("no recipients for alert", "reports", len(reports))
		return DispatchResult{}, nil
	}

	if subject == "" {
		subject = DefaultSubject(len(reports))
	}

	body, err := RenderAlert(reports, d.appBaseURL)
	if err != nil {
		return DispatchResult{}, err
	}

	delivered := make([]bool, len(list))
	g := new(errgroup.Group)
	g.SetLimit(d.concurrency)
	for i, r := range list {
		g.Go(func() error {
			if err := d.send(ctx, body, r, subject); err != nil {
				metrics.EmailsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
				d.logger.Error("alert email failed", "recipient", r.Address, "error", fmt.Errorf("%w: %w", ErrRecipientSendFailed, err))
				return nil
			}
			metrics.EmailsTotal.WithLabelValues(metrics.OutcomeOK).Inc()
			delivered[i] = true
			return nil
		})
	}
	_ = g.Wait()

	res := DispatchResult{Total: len(list)}
	for _, ok := range delivered {
		if ok {
			res.Sent++
		} else {
			res.Failed++
		}
	}

	d.logger.Info("alert dispatched", "reports", len(reports), "sent", res.Sent, "failed", res.Failed)
	return res, nil
}

func (d *Dispatcher) send(ctx context.Context, body Body, r Recipient, subject string) error {
	htmlBody, textBody, err := body.For(r)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	_, err = d.sender.Send(ctx, models.Email{
		To:      r.Address,
		Subject: subject,
		HTML:    htmlBody,
		Text:    textBody,
	})
	return err
}

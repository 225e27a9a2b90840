package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const scheduledRunTimeout = 15 * time.Minute

type Notifier interface {
	Notify(ctx context.Context, p Params) (NotifyResult, error)
}

// Schedule runs Notify on a five-field cron expression. A run that is still in
// progress when the next one is due causes that next run to be skipped.
type Schedule struct {
	logger   *slog.Logger
	notifier Notifier
	params   Params
	spec     string
	cron     *cron.Cron

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewSchedule(logger *slog.Logger, notifier Notifier, spec string, params Params) (*Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Schedule{
		logger:   logger,
		notifier: notifier,
		params:   params,
		spec:     spec,
		cron:     c,
		ctx:      ctx,
		cancel:   cancel,
	}

	if _, err := c.AddFunc(spec, s.run); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid alert schedule %q: %w", spec, err)
	}

	return s, nil
}

func (s *Schedule) Start() {
	s.cron.Start()
	s.logger.Info("alert schedule started", "schedule", s.spec, "next_run", s.cron.Entries()[0].Next)
}

// Stop cancels a run in progress and waits for it to return.
func (s *Schedule) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("alert schedule stopped")
}

func (s *Schedule) run() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("skipping scheduled alert run, previous run still in progress")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(s.ctx, scheduledRunTimeout)
	defer cancel()

	res, err := s.notifier.Notify(ctx, s.params)
	if err != nil {
		s.logger.Error("scheduled alert run failed", "error", err)
		return
	}

	s.logger.Info("scheduled alert run", "message", res.Message, "sent", res.Dispatch.Sent, "failed", res.Dispatch.Failed)
}

/*
Package poller drives the mailbox-to-ntfy pipeline: it retrieves labelled
messages, turns each into a trade notification and delivers it at least once.
*/
package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/shanehull/oantfy/internal/extract"
	"github.com/shanehull/oantfy/internal/types"
)

type Mailbox interface {
	ListLabels(ctx context.Context) ([]types.Label, error)
	GetMessages(ctx context.Context, labelIDs []string) ([]types.Message, error)
}

type Classifier interface {
	Classify(text string) (types.Trade, error)
}

type Renderer interface {
	Render(trade types.Trade, format types.Format) (types.Notification, error)
}

type Tracker interface {
	AlreadyDelivered(ctx context.Context, id string) (bool, error)
	RecordDelivered(ctx context.Context, id string) error
}

type Sender interface {
	Send(ctx context.Context, n types.Notification) error
}

// Sleeper waits between polls. It returns ctx.Err() if ctx is cancelled first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Options struct {
	LabelID  string
	Format   types.Format
	Interval time.Duration
}

// Deps are the collaborators a Poller drives. Sleeper may be nil.
type Deps struct {
	Mailbox    Mailbox
	Classifier Classifier
	Renderer   Renderer
	Tracker    Tracker
	Sender     Sender
	Sleeper    Sleeper
}

// BatchStats summarises one poll cycle.
type BatchStats struct {
	Fetched int
	Sent    int
	Skipped int
	Failed  int
}

type Poller struct {
	opts   Options
	deps   Deps
	logger zerolog.Logger
}

func New(opts Options, deps Deps, logger zerolog.Logger) *Poller {
	if deps.Sleeper == nil {
		deps.Sleeper = timerSleeper{}
	}
	return &Poller{
		opts:   opts,
		deps:   deps,
		logger: logger.With().Str("component", "poller").Str("label_id", opts.LabelID).Logger(),
	}
}

// Run polls until ctx is cancelled. Cancellation is only observed between
// batches; it returns ctx.Err().
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info().Dur("interval", p.opts.Interval).Str("format", string(p.opts.Format)).Msg("poller started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		stats, err := p.RunOnce(ctx)
		if err != nil {
			p.logger.Error().Err(err).Msg("poll cycle failed")
		} else {
			p.logger.Info().
				Int("fetched", stats.Fetched).
				Int("sent", stats.Sent).
				Int("skipped", stats.Skipped).
				Int("failed", stats.Failed).
				Msg("poll cycle complete")
		}

		if err := p.deps.Sleeper.Sleep(ctx, p.opts.Interval); err != nil {
			return err
		}
	}
}

// RunOnce retrieves one batch and handles every message in it. Per-message
// failures are logged and counted; only a failed retrieval is returned.
func (p *Poller) RunOnce(ctx context.Context) (BatchStats, error) {
	// A started cycle runs to completion.
	ctx = context.WithoutCancel(ctx)

	p.logger.Info().Msg("scanning for new messages")

	messages, err := p.deps.Mailbox.GetMessages(ctx, []string{p.opts.LabelID})
	if err != nil {
		return BatchStats{}, fmt.Errorf("failed to retrieve messages: %w", err)
	}

	stats := BatchStats{Fetched: len(messages)}
	for _, msg := range messages {
		switch p.processMessage(ctx, msg) {
		case outcomeSent:
			stats.Sent++
		case outcomeSkipped:
			stats.Skipped++
		case outcomeFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (p *Poller) processMessage(ctx context.Context, msg types.Message) outcome {
	logger := p.logger.With().Str("message_id", msg.ID).Logger()

	text, err := extract.OrderText(msg.HTML)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to locate order details")
		return outcomeFailed
	}

	trade, err := p.deps.Classifier.Classify(text)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to classify trade")
		return outcomeFailed
	}

	delivered, err := p.deps.Tracker.AlreadyDelivered(ctx, msg.ID)
	if err != nil {
		logger.Error().Err(err).Msg("delivery lookup failed")
		return outcomeFailed
	}
	if delivered {
		logger.Debug().Msg("already delivered")
		return outcomeSkipped
	}

	notification, err := p.deps.Renderer.Render(trade, p.opts.Format)
	if err != nil {
		logger.Error().Err(err).Msg("failed to render notification")
		return outcomeFailed
	}

	if err := p.deps.Sender.Send(ctx, notification); err != nil {
		logger.Error().Err(err).Str("kind", string(trade.Kind)).Str("symbol", trade.Symbol).Msg("delivery failed, will retry next poll")
		return outcomeFailed
	}

	if err := p.deps.Tracker.RecordDelivered(ctx, msg.ID); err != nil {
		logger.Error().Err(err).Msg("notification sent but not recorded, it may be sent again")
	}

	logger.Info().Str("kind", string(trade.Kind)).Str("symbol", trade.Symbol).Msg(notification.Title)
	return outcomeSent
}

// ListLabels returns every mailbox label for configuration discovery.
func (p *Poller) ListLabels(ctx context.Context) ([]types.Label, error) {
	labels, err := p.deps.Mailbox.ListLabels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}
	return labels, nil
}

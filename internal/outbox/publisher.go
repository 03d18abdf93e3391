// Package outbox relays work order change events recorded in the outbox
// table to a message broker.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wsu/workorderpro/internal/metrics"
	"github.com/wsu/workorderpro/internal/model"
	"github.com/wsu/workorderpro/ports"
)

// Sink delivers a batch of outbox messages. A batch is acknowledged only
// when Publish returns nil.
type Sink interface {
	Publish(ctx context.Context, msgs []model.OutboxMessage) error
	Close() error
}

// Publisher periodically drains unpublished outbox rows into a Sink.
type Publisher struct {
	store     ports.Transactor
	sink      Sink
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Options tunes a Publisher.
type Options struct {
	Interval  time.Duration
	BatchSize int
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// NewPublisher returns a Publisher reading from store and writing to sink.
func NewPublisher(store ports.Transactor, sink Sink, opts Options) *Publisher {
	p := &Publisher{
		store:     store,
		sink:      sink,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
	if p.interval <= 0 {
		p.interval = time.Second
	}
	if p.batchSize <= 0 {
		p.batchSize = 10
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Run flushes on every tick until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Flush(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("outbox flush failed", "error", err)
			}
		}
	}
}

// Flush publishes one batch and marks it delivered in the same transaction.
// A sink failure rolls the transaction back so the batch is retried on the
// next tick.
func (p *Publisher) Flush(ctx context.Context) (int, error) {
	var published int
	err := p.store.InTx(ctx, func(tx ports.Tx) error {
		msgs, err := tx.ListUnpublishedOutbox(ctx, p.batchSize)
		if err != nil {
			return fmt.Errorf("list outbox: %w", err)
		}
		if len(msgs) == 0 {
			return nil
		}
		if err := p.sink.Publish(ctx, msgs); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
		ids := make([]int64, 0, len(msgs))
		for _, m := range msgs {
			ids = append(ids, m.ID)
		}
		if err := tx.MarkOutboxPublished(ctx, ids); err != nil {
			return fmt.Errorf("mark published: %w", err)
		}
		published = len(msgs)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if published > 0 {
		p.metrics.OutboxPublished(published)
		p.logger.Debug("outbox flushed", "count", published)
	}
	return published, nil
}

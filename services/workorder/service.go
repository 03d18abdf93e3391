// Package workorder implements the fetch, create and update workflows for
// work orders over a ports.Store.
package workorder

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wsu/workorderpro/internal/apperr"
	"github.com/wsu/workorderpro/internal/metrics"
	"github.com/wsu/workorderpro/internal/model"
	"github.com/wsu/workorderpro/ports"
)

const (
	TopicCreated = "evt.workorder.created.v1"
	TopicUpdated = "evt.workorder.updated.v1"

	msgInvalidNumber = "Invalid WorkOrder number"
)

// Service is the work order workflow.
type Service interface {
	Get(ctx context.Context, number int64) (model.WorkOrder, error)
	Add(ctx context.Context, wo model.WorkOrder) (model.WorkOrder, error)
	Update(ctx context.Context, number int64, wo model.WorkOrder) (model.WorkOrder, error)
}

// Options carries the optional collaborators of the service.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
	// EmitEvents appends an outbox message for every create and update.
	EmitEvents bool
}

type service struct {
	store      ports.Store
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	emitEvents bool
	tracer     trace.Tracer
}

// New returns a Service backed by store.
func New(store ports.Store, opts Options) Service {
	s := &service{
		store:      store,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		now:        opts.Now,
		emitEvents: opts.EmitEvents,
		tracer:     otel.Tracer("github.com/wsu/workorderpro/services/workorder"),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Get returns the work order identified by number.
func (s *service) Get(ctx context.Context, number int64) (wo model.WorkOrder, err error) {
	ctx, end := s.start(ctx, "get", number)
	defer func() { end(err) }()

	wo, found, err := s.store.FindByID(ctx, number)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to retrieve work order", "operation", "get", "workOrderNumber", number, "error", err)
		return model.WorkOrder{}, apperr.DatabaseError("Failed to retrieve WorkOrder details.", err)
	}
	if !found {
		return model.WorkOrder{}, apperr.InvalidRequest(msgInvalidNumber)
	}
	return wo, nil
}

// Add persists a new work order and its line items. The parent is saved
// first so that the generated number can be stamped on every line item
// before the second save cascades them.
func (s *service) Add(ctx context.Context, wo model.WorkOrder) (saved model.WorkOrder, err error) {
	ctx, end := s.start(ctx, "create", 0)
	defer func() { end(err) }()

	// The number is store generated; a caller supplied one is ignored.
	wo.WorkOrderNumber = 0
	now := s.now().UTC().Truncate(time.Microsecond)
	wo.DateTimeCreated = now
	wo.DateTimeLastUpdated = now
	items := slices.Clone(wo.DetachLineItems())

	err = s.store.InTx(ctx, func(tx ports.Tx) error {
		parent, err := tx.Save(ctx, wo)
		if err != nil {
			return err
		}

		// Line item ids are store generated on create as well.
		for i := range items {
			items[i].LineItemID = 0
		}
		parent.LineItems = items
		parent.LinkLineItems()
		saved, err = tx.Save(ctx, parent)
		if err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, TopicCreated, saved)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to add work order", "operation", "create", "error", err)
		return model.WorkOrder{}, apperr.DatabaseError("Failed to add new WorkOrder.", err)
	}
	return saved, nil
}

// Update replaces the stored state of an existing work order with wo. The
// number and creation time of the stored record are kept, the last updated
// time is refreshed, and every other field is taken from wo as is: fields
// left unset in wo become unset in the store.
func (s *service) Update(ctx context.Context, number int64, wo model.WorkOrder) (saved model.WorkOrder, err error) {
	ctx, end := s.start(ctx, "update", number)
	defer func() { end(err) }()

	var notFound bool
	err = s.store.InTx(ctx, func(tx ports.Tx) error {
		existing, found, err := tx.FindByID(ctx, number)
		if err != nil {
			return err
		}
		if !found {
			notFound = true
			return nil
		}

		wo.WorkOrderNumber = existing.WorkOrderNumber
		wo.DateTimeCreated = existing.DateTimeCreated
		wo.DateTimeLastUpdated = s.refreshed(existing.DateTimeLastUpdated)
		if len(wo.LineItems) > 0 {
			wo.LineItems = slices.Clone(wo.LineItems)
			adoptLineItems(wo.LineItems, existing.LineItems)
			wo.LinkLineItems()
		}

		saved, err = tx.Save(ctx, wo)
		if err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, TopicUpdated, saved)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to update work order", "operation", "update", "workOrderNumber", number, "error", err)
		return model.WorkOrder{}, apperr.DatabaseError("Failed to update WorkOrder.", err)
	}
	if notFound {
		return model.WorkOrder{}, apperr.InvalidRequest(msgInvalidNumber)
	}
	return saved, nil
}

// adoptLineItems keeps the ids of items that already belong to the work
// order and clears every other id, so those items are inserted as new rows.
func adoptLineItems(items, owned []model.WorkOrderLineItem) {
	ids := make(map[int64]bool, len(owned))
	for _, li := range owned {
		ids[li.LineItemID] = true
	}
	for i := range items {
		if !ids[items[i].LineItemID] {
			items[i].LineItemID = 0
		}
	}
}

// refreshed returns the current time, truncated to the precision the stores
// keep, and strictly after prev.
func (s *service) refreshed(prev time.Time) time.Time {
	now := s.now().UTC().Truncate(time.Microsecond)
	if !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}
	return now
}

func (s *service) appendEvent(ctx context.Context, tx ports.Tx, topic string, wo model.WorkOrder) error {
	if !s.emitEvents {
		return nil
	}
	payload, err := json.Marshal(wo)
	if err != nil {
		return err
	}
	return tx.AppendOutbox(ctx, model.OutboxMessage{
		MessageID:   uuid.NewString(),
		Aggregate:   "work_order",
		AggregateID: strconv.FormatInt(wo.WorkOrderNumber, 10),
		Topic:       topic,
		Payload:     payload,
		CreatedAt:   s.now().UTC(),
	})
}

func (s *service) start(ctx context.Context, op string, number int64) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, "workorder."+op)
	if number != 0 {
		span.SetAttributes(attribute.Int64("workorder.number", number))
	}
	return ctx, func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = outcomeOf(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, apperr.Message(err))
		}
		s.metrics.Operation(op, outcome)
		span.End()
	}
}

func outcomeOf(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) {
		return e.Kind.String()
	}
	return "error"
}

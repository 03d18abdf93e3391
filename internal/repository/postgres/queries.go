package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/wsu/workorderpro/internal/model"
	"github.com/wsu/workorderpro/ports"
)

const (
	selectWorkOrder = `
SELECT work_order_number, customer_name, description, status, scheduled_at, attributes,
       date_time_created, date_time_last_updated
FROM work_orders WHERE work_order_number = $1`

	selectLineItems = `
SELECT line_item_id, work_order_number, description, quantity, unit_price
FROM work_order_line_items WHERE work_order_number = $1 ORDER BY line_item_id`

	insertWorkOrder = `
INSERT INTO work_orders (customer_name, description, status, scheduled_at, attributes,
                         date_time_created, date_time_last_updated)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING work_order_number`

	upsertWorkOrder = `
INSERT INTO work_orders (work_order_number, customer_name, description, status, scheduled_at, attributes,
                         date_time_created, date_time_last_updated)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (work_order_number) DO UPDATE SET
    customer_name = EXCLUDED.customer_name,
    description = EXCLUDED.description,
    status = EXCLUDED.status,
    scheduled_at = EXCLUDED.scheduled_at,
    attributes = EXCLUDED.attributes,
    date_time_last_updated = EXCLUDED.date_time_last_updated`

	insertLineItem = `
INSERT INTO work_order_line_items (work_order_number, description, quantity, unit_price)
VALUES ($1, $2, $3, $4)
RETURNING line_item_id`

	upsertLineItem = `
INSERT INTO work_order_line_items (line_item_id, work_order_number, description, quantity, unit_price)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (line_item_id) DO UPDATE SET
    description = EXCLUDED.description,
    quantity = EXCLUDED.quantity,
    unit_price = EXCLUDED.unit_price
WHERE work_order_line_items.work_order_number = EXCLUDED.work_order_number`

	deleteOrphanLineItems = `
DELETE FROM work_order_line_items
WHERE work_order_number = $1 AND NOT (line_item_id = ANY($2))`

	insertOutbox = `
INSERT INTO outbox (message_id, aggregate, aggregate_id, topic, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	listUnpublishedOutbox = `
SELECT id, message_id, aggregate, aggregate_id, topic, payload, created_at
FROM outbox WHERE published_at IS NULL ORDER BY id LIMIT $1
FOR UPDATE SKIP LOCKED`

	markOutboxPublished = `
UPDATE outbox SET published_at = now() WHERE id = ANY($1)`
)

type queries struct {
	db querier
}

// FindByID implements ports.WorkOrderStore.
func (s *Store) FindByID(ctx context.Context, number int64) (model.WorkOrder, bool, error) {
	return (&queries{db: s.pool}).FindByID(ctx, number)
}

// Save implements ports.WorkOrderStore in its own transaction.
func (s *Store) Save(ctx context.Context, wo model.WorkOrder) (model.WorkOrder, error) {
	var saved model.WorkOrder
	err := s.InTx(ctx, func(tx ports.Tx) error {
		var err error
		saved, err = tx.Save(ctx, wo)
		return err
	})
	return saved, err
}

func (q *queries) FindByID(ctx context.Context, number int64) (model.WorkOrder, bool, error) {
	var (
		wo         model.WorkOrder
		customer   pgtype.Text
		desc       pgtype.Text
		status     pgtype.Text
		scheduled  pgtype.Timestamptz
		attributes []byte
	)
	err := q.db.QueryRow(ctx, selectWorkOrder, number).Scan(
		&wo.WorkOrderNumber, &customer, &desc, &status, &scheduled, &attributes,
		&wo.DateTimeCreated, &wo.DateTimeLastUpdated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.WorkOrder{}, false, nil
		}
		return model.WorkOrder{}, false, fmt.Errorf("select work order %d: %w", number, err)
	}
	wo.CustomerName = customer.String
	wo.Description = desc.String
	wo.Status = status.String
	if scheduled.Valid {
		t := scheduled.Time.UTC()
		wo.ScheduledAt = &t
	}
	if len(attributes) > 0 {
		wo.Attributes = attributes
	}
	wo.DateTimeCreated = wo.DateTimeCreated.UTC()
	wo.DateTimeLastUpdated = wo.DateTimeLastUpdated.UTC()

	rows, err := q.db.Query(ctx, selectLineItems, number)
	if err != nil {
		return model.WorkOrder{}, false, fmt.Errorf("select line items of %d: %w", number, err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.WorkOrderLineItem, error) {
		var (
			li   model.WorkOrderLineItem
			desc pgtype.Text
		)
		err := row.Scan(&li.LineItemID, &li.WorkOrderNumber, &desc, &li.Quantity, &li.UnitPrice)
		li.Description = desc.String
		return li, err
	})
	if err != nil {
		return model.WorkOrder{}, false, fmt.Errorf("scan line items of %d: %w", number, err)
	}
	wo.LineItems = items
	if wo.LineItems == nil {
		wo.LineItems = []model.WorkOrderLineItem{}
	}
	return wo, true, nil
}

func (q *queries) Save(ctx context.Context, wo model.WorkOrder) (model.WorkOrder, error) {
	now := time.Now().UTC()
	if wo.DateTimeCreated.IsZero() {
		wo.DateTimeCreated = now
	}
	if wo.DateTimeLastUpdated.IsZero() {
		wo.DateTimeLastUpdated = now
	}

	args := []any{
		text(wo.CustomerName),
		text(wo.Description),
		text(wo.Status),
		timestamptz(wo.ScheduledAt),
		jsonb(wo.Attributes),
		wo.DateTimeCreated,
		wo.DateTimeLastUpdated,
	}
	if wo.WorkOrderNumber == 0 {
		if err := q.db.QueryRow(ctx, insertWorkOrder, args...).Scan(&wo.WorkOrderNumber); err != nil {
			return model.WorkOrder{}, fmt.Errorf("insert work order: %w", err)
		}
	} else {
		if _, err := q.db.Exec(ctx, upsertWorkOrder, append([]any{wo.WorkOrderNumber}, args...)...); err != nil {
			return model.WorkOrder{}, fmt.Errorf("upsert work order %d: %w", wo.WorkOrderNumber, err)
		}
	}

	if wo.LineItems != nil {
		if err := q.saveLineItems(ctx, wo.WorkOrderNumber, wo.LineItems); err != nil {
			return model.WorkOrder{}, err
		}
	}

	saved, found, err := q.FindByID(ctx, wo.WorkOrderNumber)
	if err != nil {
		return model.WorkOrder{}, err
	}
	if !found {
		return model.WorkOrder{}, fmt.Errorf("work order %d vanished after save", wo.WorkOrderNumber)
	}
	return saved, nil
}

// saveLineItems writes items and removes the parent's items not among them.
func (q *queries) saveLineItems(ctx context.Context, number int64, items []model.WorkOrderLineItem) error {
	keep := make([]int64, 0, len(items))
	for _, li := range items {
		if li.LineItemID == 0 {
			if err := q.db.QueryRow(ctx, insertLineItem,
				li.WorkOrderNumber, text(li.Description), li.Quantity, li.UnitPrice,
			).Scan(&li.LineItemID); err != nil {
				return fmt.Errorf("insert line item: %w", err)
			}
		} else if _, err := q.db.Exec(ctx, upsertLineItem,
			li.LineItemID, li.WorkOrderNumber, text(li.Description), li.Quantity, li.UnitPrice,
		); err != nil {
			return fmt.Errorf("upsert line item %d: %w", li.LineItemID, err)
		}
		keep = append(keep, li.LineItemID)
	}

	if _, err := q.db.Exec(ctx, deleteOrphanLineItems, number, keep); err != nil {
		return fmt.Errorf("delete stale line items of %d: %w", number, err)
	}
	return nil
}

func (q *queries) AppendOutbox(ctx context.Context, msg model.OutboxMessage) error {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := q.db.Exec(ctx, insertOutbox,
		msg.MessageID, msg.Aggregate, msg.AggregateID, msg.Topic, msg.Payload, createdAt,
	); err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}

func (q *queries) ListUnpublishedOutbox(ctx context.Context, limit int) ([]model.OutboxMessage, error) {
	rows, err := q.db.Query(ctx, listUnpublishedOutbox, limit)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.OutboxMessage, error) {
		var m model.OutboxMessage
		err := row.Scan(&m.ID, &m.MessageID, &m.Aggregate, &m.AggregateID, &m.Topic, &m.Payload, &m.CreatedAt)
		return m, err
	})
}

func (q *queries) MarkOutboxPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := q.db.Exec(ctx, markOutboxPublished, ids); err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

func text(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func timestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func jsonb(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sqlc-dev/pqtype"

	"github.com/wsu/workorderpro/internal/model"
	"github.com/wsu/workorderpro/ports"
)

type queries struct {
	db querier
}

// FindByID implements ports.WorkOrderStore.
func (s *Store) FindByID(ctx context.Context, number int64) (model.WorkOrder, bool, error) {
	return (&queries{db: s.db}).FindByID(ctx, number)
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
		customer   sql.NullString
		desc       sql.NullString
		status     sql.NullString
		scheduled  sql.NullTime
		attributes pqtype.NullRawMessage
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT work_order_number, customer_name, description, status, scheduled_at, attributes,
		       date_time_created, date_time_last_updated
		FROM work_orders WHERE work_order_number = ?
	`, number).Scan(&wo.WorkOrderNumber, &customer, &desc, &status, &scheduled, &attributes,
		&wo.DateTimeCreated, &wo.DateTimeLastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.WorkOrder{}, false, nil
	}
	if err != nil {
		return model.WorkOrder{}, false, fmt.Errorf("select work order %d: %w", number, err)
	}
	wo.CustomerName = customer.String
	wo.Description = desc.String
	wo.Status = status.String
	if scheduled.Valid {
		t := scheduled.Time.UTC()
		wo.ScheduledAt = &t
	}
	if attributes.Valid && len(attributes.RawMessage) > 0 {
		wo.Attributes = append([]byte(nil), attributes.RawMessage...)
	}
	wo.DateTimeCreated = wo.DateTimeCreated.UTC()
	wo.DateTimeLastUpdated = wo.DateTimeLastUpdated.UTC()

	items, err := q.loadLineItems(ctx, number)
	if err != nil {
		return model.WorkOrder{}, false, err
	}
	wo.LineItems = items
	return wo, true, nil
}

func (q *queries) loadLineItems(ctx context.Context, number int64) ([]model.WorkOrderLineItem, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT line_item_id, work_order_number, description, quantity, unit_price
		FROM work_order_line_items WHERE work_order_number = ? ORDER BY line_item_id
	`, number)
	if err != nil {
		return nil, fmt.Errorf("select line items of %d: %w", number, err)
	}
	defer rows.Close()

	items := []model.WorkOrderLineItem{}
	for rows.Next() {
		var (
			li   model.WorkOrderLineItem
			desc sql.NullString
		)
		if err := rows.Scan(&li.LineItemID, &li.WorkOrderNumber, &desc, &li.Quantity, &li.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		li.Description = desc.String
		items = append(items, li)
	}
	return items, rows.Err()
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
		nullString(wo.CustomerName),
		nullString(wo.Description),
		nullString(wo.Status),
		nullTime(wo.ScheduledAt),
		pqtype.NullRawMessage{RawMessage: wo.Attributes, Valid: len(wo.Attributes) > 0},
		wo.DateTimeCreated.UTC(),
		wo.DateTimeLastUpdated.UTC(),
	}
	if wo.WorkOrderNumber == 0 {
		res, err := q.db.ExecContext(ctx, `
			INSERT INTO work_orders (customer_name, description, status, scheduled_at, attributes,
			                         date_time_created, date_time_last_updated)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, args...)
		if err != nil {
			return model.WorkOrder{}, fmt.Errorf("insert work order: %w", err)
		}
		if wo.WorkOrderNumber, err = res.LastInsertId(); err != nil {
			return model.WorkOrder{}, fmt.Errorf("insert work order: %w", err)
		}
	} else {
		_, err := q.db.ExecContext(ctx, `
			INSERT INTO work_orders (work_order_number, customer_name, description, status, scheduled_at,
			                         attributes, date_time_created, date_time_last_updated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (work_order_number) DO UPDATE SET
				customer_name = excluded.customer_name,
				description = excluded.description,
				status = excluded.status,
				scheduled_at = excluded.scheduled_at,
				attributes = excluded.attributes,
				date_time_last_updated = excluded.date_time_last_updated
		`, append([]any{wo.WorkOrderNumber}, args...)...)
		if err != nil {
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

func (q *queries) saveLineItems(ctx context.Context, number int64, items []model.WorkOrderLineItem) error {
	keep := make([]any, 0, len(items)+1)
	keep = append(keep, number)
	for _, li := range items {
		if li.LineItemID == 0 {
			res, err := q.db.ExecContext(ctx, `
				INSERT INTO work_order_line_items (work_order_number, description, quantity, unit_price)
				VALUES (?, ?, ?, ?)
			`, li.WorkOrderNumber, nullString(li.Description), li.Quantity, li.UnitPrice)
			if err != nil {
				return fmt.Errorf("insert line item: %w", err)
			}
			if li.LineItemID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("insert line item: %w", err)
			}
		} else {
			_, err := q.db.ExecContext(ctx, `
				INSERT INTO work_order_line_items (line_item_id, work_order_number, description, quantity, unit_price)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (line_item_id) DO UPDATE SET
					description = excluded.description,
					quantity = excluded.quantity,
					unit_price = excluded.unit_price
				WHERE work_order_line_items.work_order_number = excluded.work_order_number
			`, li.LineItemID, li.WorkOrderNumber, nullString(li.Description), li.Quantity, li.UnitPrice)
			if err != nil {
				return fmt.Errorf("upsert line item %d: %w", li.LineItemID, err)
			}
		}
		keep = append(keep, li.LineItemID)
	}

	query := `DELETE FROM work_order_line_items WHERE work_order_number = ?`
	if len(keep) > 1 {
		query += ` AND line_item_id NOT IN (` + strings.TrimSuffix(strings.Repeat("?,", len(keep)-1), ",") + `)`
	}
	if _, err := q.db.ExecContext(ctx, query, keep...); err != nil {
		return fmt.Errorf("delete stale line items of %d: %w", number, err)
	}
	return nil
}

func (q *queries) AppendOutbox(ctx context.Context, msg model.OutboxMessage) error {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO outbox (message_id, aggregate, aggregate_id, topic, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.MessageID, msg.Aggregate, msg.AggregateID, msg.Topic, msg.Payload, createdAt.UTC())
	if err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}

func (q *queries) ListUnpublishedOutbox(ctx context.Context, limit int) ([]model.OutboxMessage, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, message_id, aggregate, aggregate_id, topic, payload, created_at
		FROM outbox WHERE published_at IS NULL ORDER BY id LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	defer rows.Close()

	var out []model.OutboxMessage
	for rows.Next() {
		var (
			m       model.OutboxMessage
			payload pqtype.NullRawMessage
		)
		if err := rows.Scan(&m.ID, &m.MessageID, &m.Aggregate, &m.AggregateID, &m.Topic, &payload, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		m.Payload = append([]byte(nil), payload.RawMessage...)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (q *queries) MarkOutboxPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, time.Now().UTC())
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE outbox SET published_at = ? WHERE id IN (` +
		strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + `)`
	if _, err := q.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

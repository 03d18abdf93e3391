package ports

import (
	"context"

	"github.com/wsu/workorderpro/internal/model"
)

// WorkOrderStore is the persistence contract the workflow depends on.
type WorkOrderStore interface {
	// FindByID returns the aggregate for number; found is false when no
	// record exists.
	FindByID(ctx context.Context, number int64) (wo model.WorkOrder, found bool, err error)
	// Save inserts wo when WorkOrderNumber is zero and otherwise replaces the
	// stored row. A non-nil LineItems collection is saved too and replaces the
	// stored set. The returned value is the persisted aggregate.
	Save(ctx context.Context, wo model.WorkOrder) (model.WorkOrder, error)
}

// Tx is the transactional view handed to InTx callbacks.
type Tx interface {
	WorkOrderStore
	AppendOutbox(ctx context.Context, msg model.OutboxMessage) error
	ListUnpublishedOutbox(ctx context.Context, limit int) ([]model.OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, ids []int64) error
}

// Transactor runs fn inside one transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
type Transactor interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Store is a complete persistence backend.
type Store interface {
	WorkOrderStore
	Transactor
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}

// Package memory provides an in-process work order store. It enforces the
// same parent key constraint and transaction rollback as the SQL stores and
// backs local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wsu/workorderpro/internal/model"
	"github.com/wsu/workorderpro/ports"
)

// firstNumber is the first generated work order number.
const firstNumber = 1001

type state struct {
	orders    map[int64]model.WorkOrder
	items     map[int64]model.WorkOrderLineItem
	outbox    []model.OutboxMessage
	published map[int64]time.Time

	nextOrder  int64
	nextItem   int64
	nextOutbox int64
}

func newState() state {
	return state{
		orders:     map[int64]model.WorkOrder{},
		items:      map[int64]model.WorkOrderLineItem{},
		published:  map[int64]time.Time{},
		nextOrder:  firstNumber,
		nextItem:   1,
		nextOutbox: 1,
	}
}

func (s state) clone() state {
	c := s
	c.orders = make(map[int64]model.WorkOrder, len(s.orders))
	for k, v := range s.orders {
		c.orders[k] = v
	}
	c.items = make(map[int64]model.WorkOrderLineItem, len(s.items))
	for k, v := range s.items {
		c.items[k] = v
	}
	c.outbox = append([]model.OutboxMessage(nil), s.outbox...)
	c.published = make(map[int64]time.Time, len(s.published))
	for k, v := range s.published {
		c.published[k] = v
	}
	return c
}

// Store is a mutex guarded in-memory ports.Store.
type Store struct {
	mu    sync.Mutex
	state state
}

var _ ports.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{state: newState()}
}

// FindByID implements ports.WorkOrderStore.
func (s *Store) FindByID(ctx context.Context, number int64) (model.WorkOrder, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{st: &s.state}).FindByID(ctx, number)
}

// Save implements ports.WorkOrderStore. The write is atomic.
func (s *Store) Save(ctx context.Context, wo model.WorkOrder) (model.WorkOrder, error) {
	var saved model.WorkOrder
	err := s.InTx(ctx, func(t ports.Tx) error {
		var err error
		saved, err = t.Save(ctx, wo)
		return err
	})
	return saved, err
}

// InTx runs fn with exclusive access to the store and restores the previous
// state when fn fails.
func (s *Store) InTx(ctx context.Context, fn func(ports.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&tx{st: &work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

// Migrate is a no-op.
func (s *Store) Migrate(context.Context) error { return nil }

// Ping is a no-op.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

type tx struct {
	st *state
}

func (t *tx) FindByID(_ context.Context, number int64) (model.WorkOrder, bool, error) {
	wo, ok := t.st.orders[number]
	if !ok {
		return model.WorkOrder{}, false, nil
	}
	wo.LineItems = []model.WorkOrderLineItem{}
	for _, li := range t.st.items {
		if li.WorkOrderNumber == number {
			wo.LineItems = append(wo.LineItems, li)
		}
	}
	sort.Slice(wo.LineItems, func(i, j int) bool {
		return wo.LineItems[i].LineItemID < wo.LineItems[j].LineItemID
	})
	return wo, true, nil
}

func (t *tx) Save(ctx context.Context, wo model.WorkOrder) (model.WorkOrder, error) {
	now := time.Now().UTC()
	if wo.DateTimeCreated.IsZero() {
		wo.DateTimeCreated = now
	}
	if wo.DateTimeLastUpdated.IsZero() {
		wo.DateTimeLastUpdated = now
	}

	items := wo.LineItems
	wo.LineItems = nil

	if wo.WorkOrderNumber == 0 {
		wo.WorkOrderNumber = t.st.nextOrder
		t.st.nextOrder++
	} else {
		if existing, ok := t.st.orders[wo.WorkOrderNumber]; ok {
			wo.DateTimeCreated = existing.DateTimeCreated
		}
		if wo.WorkOrderNumber >= t.st.nextOrder {
			t.st.nextOrder = wo.WorkOrderNumber + 1
		}
	}
	t.st.orders[wo.WorkOrderNumber] = wo

	if items != nil {
		if err := t.saveLineItems(wo.WorkOrderNumber, items); err != nil {
			return model.WorkOrder{}, err
		}
	}

	saved, _, err := t.FindByID(ctx, wo.WorkOrderNumber)
	return saved, err
}

func (t *tx) saveLineItems(number int64, items []model.WorkOrderLineItem) error {
	keep := make(map[int64]bool, len(items))
	for _, li := range items {
		if _, ok := t.st.orders[li.WorkOrderNumber]; !ok {
			return fmt.Errorf("insert line item: work order %d does not exist", li.WorkOrderNumber)
		}
		if li.LineItemID == 0 {
			li.LineItemID = t.st.nextItem
			t.st.nextItem++
		} else if li.LineItemID >= t.st.nextItem {
			t.st.nextItem = li.LineItemID + 1
		}
		keep[li.LineItemID] = true

		if cur, ok := t.st.items[li.LineItemID]; ok && cur.WorkOrderNumber != li.WorkOrderNumber {
			// owned by another work order; left untouched
			continue
		}
		t.st.items[li.LineItemID] = li
	}

	for id, li := range t.st.items {
		if li.WorkOrderNumber == number && !keep[id] {
			delete(t.st.items, id)
		}
	}
	return nil
}

func (t *tx) AppendOutbox(_ context.Context, msg model.OutboxMessage) error {
	msg.ID = t.st.nextOutbox
	t.st.nextOutbox++
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	t.st.outbox = append(t.st.outbox, msg)
	return nil
}

func (t *tx) ListUnpublishedOutbox(_ context.Context, limit int) ([]model.OutboxMessage, error) {
	var out []model.OutboxMessage
	for _, msg := range t.st.outbox {
		if _, done := t.st.published[msg.ID]; done {
			continue
		}
		out = append(out, msg)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (t *tx) MarkOutboxPublished(_ context.Context, ids []int64) error {
	now := time.Now().UTC()
	for _, id := range ids {
		t.st.published[id] = now
	}
	return nil
}

package workorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wsu/workorderpro/internal/apperr"
	"github.com/wsu/workorderpro/internal/model"
	"github.com/wsu/workorderpro/internal/repository/memory"
	"github.com/wsu/workorderpro/ports"
)

var errStore = errors.New("connection refused")

// recordingStore counts saves and injects failures on top of a memory store.
type recordingStore struct {
	*memory.Store
	saves      int
	failFind   error
	failSaveAt int
}

func newRecordingStore() *recordingStore {
	return &recordingStore{Store: memory.New()}
}

func (r *recordingStore) FindByID(ctx context.Context, number int64) (model.WorkOrder, bool, error) {
	if r.failFind != nil {
		return model.WorkOrder{}, false, r.failFind
	}
	return r.Store.FindByID(ctx, number)
}

func (r *recordingStore) InTx(ctx context.Context, fn func(ports.Tx) error) error {
	return r.Store.InTx(ctx, func(tx ports.Tx) error {
		return fn(&recordingTx{Tx: tx, rec: r})
	})
}

type recordingTx struct {
	ports.Tx
	rec *recordingStore
}

func (t *recordingTx) FindByID(ctx context.Context, number int64) (model.WorkOrder, bool, error) {
	if t.rec.failFind != nil {
		return model.WorkOrder{}, false, t.rec.failFind
	}
	return t.Tx.FindByID(ctx, number)
}

func (t *recordingTx) Save(ctx context.Context, wo model.WorkOrder) (model.WorkOrder, error) {
	t.rec.saves++
	if t.rec.failSaveAt == t.rec.saves {
		return model.WorkOrder{}, errStore
	}
	return t.Tx.Save(ctx, wo)
}

func lineItems(descs ...string) []model.WorkOrderLineItem {
	items := make([]model.WorkOrderLineItem, 0, len(descs))
	for _, d := range descs {
		items = append(items, model.WorkOrderLineItem{Description: d, Quantity: 1})
	}
	return items
}

func TestGetReturnsAggregate(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	svc := New(store, Options{})

	created, err := svc.Add(ctx, model.WorkOrder{Status: "OPEN", LineItems: lineItems("A", "B")})
	require.NoError(t, err)
	store.saves = 0

	got, err := svc.Get(ctx, created.WorkOrderNumber)
	require.NoError(t, err)
	assert.Equal(t, created, got)
	assert.Len(t, got.LineItems, 2)
	assert.Zero(t, store.saves)
}

func TestGetUnknownNumber(t *testing.T) {
	store := newRecordingStore()
	svc := New(store, Options{})

	_, err := svc.Get(context.Background(), 9999)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidRequest))
	assert.Equal(t, "Invalid WorkOrder number", apperr.Message(err))
	assert.Zero(t, store.saves)
}

func TestGetStoreFailure(t *testing.T) {
	store := newRecordingStore()
	store.failFind = errStore
	svc := New(store, Options{})

	_, err := svc.Get(context.Background(), 1001)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindDatabase))
	assert.ErrorIs(t, err, errStore)
	assert.Equal(t, "Failed to retrieve WorkOrder details.", apperr.Message(err))
}

func TestAddLinksLineItems(t *testing.T) {
	for n := 0; n <= 3; n++ {
		store := newRecordingStore()
		svc := New(store, Options{})

		descs := []string{"A", "B", "C"}[:n]
		saved, err := svc.Add(context.Background(), model.WorkOrder{Description: "pump", LineItems: lineItems(descs...)})
		require.NoError(t, err)

		assert.NotZero(t, saved.WorkOrderNumber)
		require.Len(t, saved.LineItems, n)
		for _, li := range saved.LineItems {
			assert.Equal(t, saved.WorkOrderNumber, li.WorkOrderNumber)
			assert.NotZero(t, li.LineItemID)
		}
		assert.Equal(t, 2, store.saves, "create saves parent then children")
	}
}

func TestAddScenario(t *testing.T) {
	svc := New(newRecordingStore(), Options{})

	saved, err := svc.Add(context.Background(), model.WorkOrder{LineItems: lineItems("A", "B")})
	require.NoError(t, err)

	assert.Equal(t, int64(1001), saved.WorkOrderNumber)
	require.Len(t, saved.LineItems, 2)
	assert.Equal(t, "A", saved.LineItems[0].Description)
	assert.Equal(t, "B", saved.LineItems[1].Description)
	for _, li := range saved.LineItems {
		assert.Equal(t, int64(1001), li.WorkOrderNumber)
	}
}

func TestAddNilLineItems(t *testing.T) {
	svc := New(newRecordingStore(), Options{})

	saved, err := svc.Add(context.Background(), model.WorkOrder{Description: "no items"})
	require.NoError(t, err)
	assert.NotNil(t, saved.LineItems)
	assert.Empty(t, saved.LineItems)
}

func TestAddIsNotIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := New(newRecordingStore(), Options{})
	payload := model.WorkOrder{Description: "same", LineItems: lineItems("A")}

	a, err := svc.Add(ctx, payload)
	require.NoError(t, err)
	b, err := svc.Add(ctx, payload)
	require.NoError(t, err)

	assert.NotEqual(t, a.WorkOrderNumber, b.WorkOrderNumber)
}

func TestAddIgnoresCallerNumber(t *testing.T) {
	ctx := context.Background()
	svc := New(newRecordingStore(), Options{})

	first, err := svc.Add(ctx, model.WorkOrder{Description: "first"})
	require.NoError(t, err)

	second, err := svc.Add(ctx, model.WorkOrder{WorkOrderNumber: first.WorkOrderNumber, Description: "second"})
	require.NoError(t, err)
	assert.NotEqual(t, first.WorkOrderNumber, second.WorkOrderNumber)

	got, err := svc.Get(ctx, first.WorkOrderNumber)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Description)
}

func TestAddFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	store.failSaveAt = 2
	svc := New(store, Options{})

	_, err := svc.Add(ctx, model.WorkOrder{LineItems: lineItems("A")})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindDatabase))
	assert.Equal(t, "Failed to add new WorkOrder.", apperr.Message(err))

	_, found, err := store.Store.FindByID(ctx, 1001)
	require.NoError(t, err)
	assert.False(t, found, "parent of a failed create must be rolled back")
}

func TestUpdateScenario(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := New(store, Options{Now: func() time.Time { return clock }})

	created, err := svc.Add(ctx, model.WorkOrder{Status: "OPEN", LineItems: lineItems("A")})
	require.NoError(t, err)
	require.Equal(t, int64(1001), created.WorkOrderNumber)

	clock = clock.Add(time.Hour)
	stale := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	store.saves = 0
	updated, err := svc.Update(ctx, 1001, model.WorkOrder{
		WorkOrderNumber:     5555,
		Status:              "DONE",
		DateTimeLastUpdated: stale,
		DateTimeCreated:     stale,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, store.saves)

	stored, err := svc.Get(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, updated, stored)
	assert.Equal(t, int64(1001), stored.WorkOrderNumber)
	assert.Equal(t, "DONE", stored.Status)
	assert.True(t, stored.DateTimeLastUpdated.After(created.DateTimeLastUpdated))
	assert.True(t, stored.DateTimeCreated.Equal(created.DateTimeCreated))

	_, found, err := store.FindByID(ctx, 5555)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUpdateTimestampStrictlyIncreases(t *testing.T) {
	ctx := context.Background()
	frozen := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := New(newRecordingStore(), Options{Now: func() time.Time { return frozen }})

	created, err := svc.Add(ctx, model.WorkOrder{})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, created.WorkOrderNumber, model.WorkOrder{})
	require.NoError(t, err)
	assert.True(t, updated.DateTimeLastUpdated.After(created.DateTimeLastUpdated))
}

func TestUpdateUnknownNumber(t *testing.T) {
	store := newRecordingStore()
	svc := New(store, Options{})

	_, err := svc.Update(context.Background(), 9999, model.WorkOrder{Status: "DONE"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidRequest))
	assert.Zero(t, store.saves)
}

func TestUpdateReplacesFields(t *testing.T) {
	ctx := context.Background()
	svc := New(newRecordingStore(), Options{})

	created, err := svc.Add(ctx, model.WorkOrder{Description: "replace me", Status: "OPEN"})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, created.WorkOrderNumber, model.WorkOrder{Status: "DONE"})
	require.NoError(t, err)
	assert.Empty(t, updated.Description)
	assert.Equal(t, "DONE", updated.Status)
}

func TestUpdateRelinksLineItems(t *testing.T) {
	ctx := context.Background()
	svc := New(newRecordingStore(), Options{})

	created, err := svc.Add(ctx, model.WorkOrder{LineItems: lineItems("A")})
	require.NoError(t, err)

	items := append([]model.WorkOrderLineItem{}, created.LineItems...)
	items[0].WorkOrderNumber = 42
	items = append(items, model.WorkOrderLineItem{Description: "B"})

	updated, err := svc.Update(ctx, created.WorkOrderNumber, model.WorkOrder{LineItems: items})
	require.NoError(t, err)
	require.Len(t, updated.LineItems, 2)
	for _, li := range updated.LineItems {
		assert.Equal(t, created.WorkOrderNumber, li.WorkOrderNumber)
	}
	assert.Equal(t, created.LineItems[0].LineItemID, updated.LineItems[0].LineItemID)
}

func TestAddAssignsFreshLineItemIDs(t *testing.T) {
	ctx := context.Background()
	svc := New(newRecordingStore(), Options{})

	a, err := svc.Add(ctx, model.WorkOrder{LineItems: lineItems("A")})
	require.NoError(t, err)
	require.Len(t, a.LineItems, 1)
	taken := a.LineItems[0].LineItemID

	items := lineItems("X", "Y", "Z")
	items[0].LineItemID = taken
	items[2].LineItemID = 9999
	b, err := svc.Add(ctx, model.WorkOrder{LineItems: items})
	require.NoError(t, err)
	require.Len(t, b.LineItems, 3)
	for i, li := range b.LineItems {
		assert.Equal(t, b.WorkOrderNumber, li.WorkOrderNumber)
		assert.NotEqual(t, taken, li.LineItemID)
		assert.Equal(t, items[i].Description, li.Description)
	}

	stillA, err := svc.Get(ctx, a.WorkOrderNumber)
	require.NoError(t, err)
	assert.Equal(t, a.LineItems, stillA.LineItems)

	c, err := svc.Add(ctx, model.WorkOrder{LineItems: lineItems("W")})
	require.NoError(t, err)
	require.Len(t, c.LineItems, 1)
}

func TestUpdateForeignLineItemIDsBecomeNewItems(t *testing.T) {
	ctx := context.Background()
	svc := New(newRecordingStore(), Options{})

	a, err := svc.Add(ctx, model.WorkOrder{LineItems: lineItems("A")})
	require.NoError(t, err)
	b, err := svc.Add(ctx, model.WorkOrder{LineItems: lineItems("B")})
	require.NoError(t, err)

	own := b.LineItems[0]
	own.Description = "B2"
	foreign := model.WorkOrderLineItem{LineItemID: a.LineItems[0].LineItemID, Description: "from A"}
	unknown := model.WorkOrderLineItem{LineItemID: 777, Description: "unknown id"}

	updated, err := svc.Update(ctx, b.WorkOrderNumber, model.WorkOrder{
		LineItems: []model.WorkOrderLineItem{own, foreign, unknown},
	})
	require.NoError(t, err)
	require.Len(t, updated.LineItems, 3)
	assert.Equal(t, own.LineItemID, updated.LineItems[0].LineItemID)
	assert.Equal(t, "B2", updated.LineItems[0].Description)
	assert.Equal(t, "from A", updated.LineItems[1].Description)
	assert.NotEqual(t, a.LineItems[0].LineItemID, updated.LineItems[1].LineItemID)
	assert.Equal(t, "unknown id", updated.LineItems[2].Description)
	assert.NotEqual(t, int64(777), updated.LineItems[2].LineItemID)
	for _, li := range updated.LineItems {
		assert.Equal(t, b.WorkOrderNumber, li.WorkOrderNumber)
	}

	stillA, err := svc.Get(ctx, a.WorkOrderNumber)
	require.NoError(t, err)
	assert.Equal(t, a.LineItems, stillA.LineItems)
}

func TestUpdateStoreFailure(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	svc := New(store, Options{})

	created, err := svc.Add(ctx, model.WorkOrder{Status: "OPEN"})
	require.NoError(t, err)

	store.saves = 0
	store.failSaveAt = 1
	_, err = svc.Update(ctx, created.WorkOrderNumber, model.WorkOrder{Status: "DONE"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindDatabase))
	assert.Equal(t, "Failed to update WorkOrder.", apperr.Message(err))

	got, err := svc.Get(ctx, created.WorkOrderNumber)
	require.NoError(t, err)
	assert.Equal(t, "OPEN", got.Status)
}

func TestEventsAppended(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	svc := New(store, Options{EmitEvents: true})

	created, err := svc.Add(ctx, model.WorkOrder{LineItems: lineItems("A")})
	require.NoError(t, err)
	_, err = svc.Update(ctx, created.WorkOrderNumber, model.WorkOrder{Status: "DONE"})
	require.NoError(t, err)

	require.NoError(t, store.Store.InTx(ctx, func(tx ports.Tx) error {
		msgs, err := tx.ListUnpublishedOutbox(ctx, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, TopicCreated, msgs[0].Topic)
		assert.Equal(t, TopicUpdated, msgs[1].Topic)
		assert.Equal(t, "1001", msgs[0].AggregateID)
		assert.NotEmpty(t, msgs[0].MessageID)

		var payload model.WorkOrder
		require.NoError(t, json.Unmarshal(msgs[0].Payload, &payload))
		assert.Equal(t, created.WorkOrderNumber, payload.WorkOrderNumber)
		require.Len(t, payload.LineItems, 1)
		return nil
	}))
}

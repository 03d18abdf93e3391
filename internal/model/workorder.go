package model

import (
	"encoding/json"
	"time"
)

// WorkOrder is one serviceable unit of work together with its line items.
type WorkOrder struct {
	WorkOrderNumber     int64               `json:"workOrderNumber"`
	CustomerName        string              `json:"customerName,omitempty"`
	Description         string              `json:"description,omitempty"`
	Status              string              `json:"status,omitempty"`
	ScheduledAt         *time.Time          `json:"scheduledAt,omitempty"`
	Attributes          json.RawMessage     `json:"attributes,omitempty"`
	DateTimeCreated     time.Time           `json:"dateTimeCreated"`
	DateTimeLastUpdated time.Time           `json:"dateTimeLastUpdated"`
	LineItems           []WorkOrderLineItem `json:"lineItems"`
}

// WorkOrderLineItem belongs to exactly one WorkOrder through WorkOrderNumber.
type WorkOrderLineItem struct {
	LineItemID      int64   `json:"lineItemId"`
	WorkOrderNumber int64   `json:"workOrderNumber"`
	Description     string  `json:"description,omitempty"`
	Quantity        int32   `json:"quantity"`
	UnitPrice       float64 `json:"unitPrice"`
}

// LinkLineItems stamps every line item with the work order's own number.
func (w *WorkOrder) LinkLineItems() {
	for i := range w.LineItems {
		w.LineItems[i].WorkOrderNumber = w.WorkOrderNumber
	}
}

// DetachLineItems removes the line items from w and returns them.
// A nil collection is returned as an empty, non-nil slice.
func (w *WorkOrder) DetachLineItems() []WorkOrderLineItem {
	items := w.LineItems
	w.LineItems = nil
	if items == nil {
		items = []WorkOrderLineItem{}
	}
	return items
}

// OutboxMessage is a pending change event recorded alongside a write.
type OutboxMessage struct {
	ID          int64
	MessageID   string
	Aggregate   string
	AggregateID string
	Topic       string
	Payload     []byte
	CreatedAt   time.Time
}

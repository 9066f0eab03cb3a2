package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"budget/internal/core"
)

// EventKind names the ledger change carried by a TransactionEvent.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

// TransactionEvent announces a committed ledger change. Created and updated
// events carry the full transaction; deleted events carry only its identity.
type TransactionEvent struct {
	Kind        EventKind         `json:"kind"`
	ID          string            `json:"id"`
	Owner       string            `json:"owner"`
	Transaction *core.Transaction `json:"transaction,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// NewTransactionEvent builds an event for tx. The transaction body is dropped
// for deletions.
func NewTransactionEvent(kind EventKind, tx core.Transaction) *TransactionEvent {
	ev := &TransactionEvent{
		Kind:      kind,
		ID:        tx.ID,
		Owner:     tx.Owner,
		Timestamp: time.Now(),
	}
	if kind != EventDeleted {
		ev.Transaction = &tx
	}
	return ev
}

// Validate checks that the event can be applied by a consumer.
func (m *TransactionEvent) Validate() error {
	switch m.Kind {
	case EventCreated, EventUpdated:
		if m.Transaction == nil {
			return fmt.Errorf("%s event without transaction", m.Kind)
		}
	case EventDeleted:
	default:
		return fmt.Errorf("unknown event kind %q", m.Kind)
	}
	if m.ID == "" || m.Owner == "" {
		return errors.New("event without id or owner")
	}
	return nil
}

// ToJSON converts the message to JSON bytes
func (m *TransactionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// TransactionEventFromJSON decodes and validates an event.
func TransactionEventFromJSON(data []byte) (*TransactionEvent, error) {
	var msg TransactionEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

package worker

import (
	"context"
	"errors"
	"fmt"

	"budget/internal/amqp"
	"budget/internal/core"
	"budget/internal/ledger"
	"budget/internal/log"
	"budget/internal/sheets"
)

// MirrorWorker applies ledger events to the spreadsheet mirror.
type MirrorWorker struct {
	ledger ledger.Finder
	mirror sheets.Mirror
	logger *log.Logger
}

func NewMirrorWorker(store ledger.Finder, mirror sheets.Mirror, logger *log.Logger) *MirrorWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &MirrorWorker{
		ledger: store,
		mirror: mirror,
		logger: logger.WithComponent(log.ComponentWorker),
	}
}

// HandleEvent mirrors a single event. Returning an error requeues it.
//
// Created and updated events re-read the ledger so a stale event never
// overwrites a newer row; a transaction that has since been deleted is
// removed instead.
func (w *MirrorWorker) HandleEvent(ctx context.Context, ev *amqp.TransactionEvent) error {
	w.logger.InfoContext(ctx, "Processing transaction event",
		log.FieldEvent, ev.Kind,
		log.FieldTransactionID, ev.ID)

	switch ev.Kind {
	case amqp.EventDeleted:
		if err := w.mirror.Remove(ctx, ev.Owner, ev.ID); err != nil {
			return fmt.Errorf("remove from mirror: %w", err)
		}
		return nil

	case amqp.EventCreated, amqp.EventUpdated:
		tx, err := w.current(ctx, ev)
		if errors.Is(err, ledger.ErrNotFound) {
			w.logger.InfoContext(ctx, "Transaction gone before mirroring, removing row",
				log.FieldTransactionID, ev.ID)
			return w.mirror.Remove(ctx, ev.Owner, ev.ID)
		}
		if err != nil {
			return fmt.Errorf("get transaction from ledger: %w", err)
		}
		if err := w.mirror.Upsert(ctx, tx); err != nil {
			return fmt.Errorf("upsert to mirror: %w", err)
		}
		w.logger.InfoContext(ctx, "Successfully mirrored transaction",
			log.NewFields().
				WithOperation(log.OpMirror).
				WithTransaction(tx.ID, string(tx.Type), tx.Category, tx.Amount).
				ToSlice()...)
		return nil
	}
	return fmt.Errorf("unknown event kind %q", ev.Kind)
}

// current prefers the ledger copy and falls back to the event body when the
// worker runs without ledger access.
func (w *MirrorWorker) current(ctx context.Context, ev *amqp.TransactionEvent) (core.Transaction, error) {
	if w.ledger == nil {
		return *ev.Transaction, nil
	}
	return w.ledger.Get(ctx, ev.Owner, ev.ID)
}

// Run consumes events from c until ctx is done.
func (w *MirrorWorker) Run(ctx context.Context, c *amqp.Client) error {
	return c.ConsumeTransactionEvents(ctx, w.HandleEvent)
}

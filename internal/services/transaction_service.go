package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"budget/internal/amqp"
	"budget/internal/core"
	"budget/internal/importer"
	"budget/internal/ledger"
	"budget/internal/log"

	"cloud.google.com/go/civil"
)

// MaxImportRows bounds a single confirmation batch.
const MaxImportRows = 5000

// EventPublisher announces committed ledger changes.
type EventPublisher interface {
	PublishTransactionEvent(ctx context.Context, ev *amqp.TransactionEvent) error
}

// Invalidator drops cached results derived from an owner's ledger.
type Invalidator interface {
	Invalidate(owner string)
}

// TransactionService orchestrates ledger writes, cache invalidation and
// change events.
type TransactionService struct {
	store     ledger.Store
	publisher EventPublisher
	analytics Invalidator
	logger    *log.Logger
}

// NewTransactionService wires the service. publisher and analytics may be nil.
func NewTransactionService(store ledger.Store, publisher EventPublisher, analytics Invalidator, logger *log.Logger) *TransactionService {
	if logger == nil {
		logger = log.Discard()
	}
	return &TransactionService{
		store:     store,
		publisher: publisher,
		analytics: analytics,
		logger:    logger.WithComponent(log.ComponentLedger),
	}
}

// RowFailure reports an import row that could not be created.
type RowFailure struct {
	Row     int       `json:"row"`
	Kind    core.Kind `json:"kind"`
	Message string    `json:"message"`
}

// ImportReport is the outcome of ConfirmImport. Rows are independent: a
// failure does not undo the rows created before it.
type ImportReport struct {
	Created []core.Transaction `json:"created"`
	Failed  []RowFailure       `json:"failed"`
}

// Create validates d and persists it for owner.
func (s *TransactionService) Create(ctx context.Context, owner string, d core.Draft) (core.Transaction, error) {
	tx, err := s.create(ctx, owner, d)
	if err != nil {
		return core.Transaction{}, err
	}
	s.invalidate(owner)
	return tx, nil
}

func (s *TransactionService) create(ctx context.Context, owner string, d core.Draft) (core.Transaction, error) {
	tx, err := d.Transaction(owner)
	if err != nil {
		return core.Transaction{}, err
	}

	// Save first; the event is best effort.
	created, err := s.store.Create(ctx, tx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to create transaction",
			log.NewFields().WithOwner(owner).WithError(err, log.ErrorTypeDatabase).ToSlice()...)
		return core.Transaction{}, core.NewUpstream("failed to create transaction", err)
	}

	s.publish(ctx, amqp.EventCreated, created)
	s.logger.InfoContext(ctx, "Transaction created",
		log.NewFields().
			WithOperation(log.OpCreate).
			WithOwner(owner).
			WithTransaction(created.ID, string(created.Type), created.Category, created.Amount).
			ToSlice()...)
	return created, nil
}

// ListFilter narrows List. Zero fields match everything; dates are inclusive
// and the category comparison ignores case.
type ListFilter struct {
	Type     core.Type
	Category string
	From     civil.Date
	To       civil.Date
}

// List returns owner's transactions matching f, newest first.
func (s *TransactionService) List(ctx context.Context, owner string, f ListFilter) ([]core.Transaction, error) {
	if f.From.IsValid() && f.To.IsValid() && f.To.Before(f.From) {
		return nil, core.NewValidation("end must not be before start", core.ErrInvalidDate)
	}
	txs, err := s.store.Find(ctx, ledger.Query{Owner: owner, Type: f.Type, From: f.From, To: f.To})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list transactions",
			log.NewFields().WithOwner(owner).WithError(err, log.ErrorTypeDatabase).ToSlice()...)
		return nil, core.NewUpstream("failed to fetch transactions", err)
	}

	out := make([]core.Transaction, 0, len(txs))
	category := strings.TrimSpace(f.Category)
	for _, tx := range txs {
		if category != "" && !strings.EqualFold(tx.Category, category) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

// Edit applies p to owner's transaction id.
func (s *TransactionService) Edit(ctx context.Context, owner, id string, p core.Patch) (core.Transaction, error) {
	tx, err := s.store.Get(ctx, owner, id)
	if err != nil {
		return core.Transaction{}, s.lookupError(ctx, owner, id, err)
	}
	if err := p.Apply(&tx); err != nil {
		return core.Transaction{}, err
	}

	updated, err := s.store.Update(ctx, tx)
	if err != nil {
		return core.Transaction{}, s.lookupError(ctx, owner, id, err)
	}

	s.invalidate(owner)
	s.publish(ctx, amqp.EventUpdated, updated)
	s.logger.InfoContext(ctx, "Transaction updated",
		log.NewFields().
			WithOperation(log.OpUpdate).
			WithOwner(owner).
			WithTransaction(updated.ID, string(updated.Type), updated.Category, updated.Amount).
			ToSlice()...)
	return updated, nil
}

// Delete removes owner's transaction id.
func (s *TransactionService) Delete(ctx context.Context, owner, id string) error {
	if err := s.store.Delete(ctx, owner, id); err != nil {
		return s.lookupError(ctx, owner, id, err)
	}

	s.invalidate(owner)
	s.publish(ctx, amqp.EventDeleted, core.Transaction{ID: id, Owner: owner})
	s.logger.InfoContext(ctx, "Transaction deleted",
		log.FieldOperation, log.OpDelete,
		log.FieldOwner, owner,
		log.FieldTransactionID, id)
	return nil
}

// ConfirmImport creates every staged row it can and reports the rest.
func (s *TransactionService) ConfirmImport(ctx context.Context, owner string, rows []importer.Row) (ImportReport, error) {
	if len(rows) == 0 {
		return ImportReport{}, core.NewValidation("No transactions to import", nil)
	}
	if len(rows) > MaxImportRows {
		return ImportReport{}, core.NewValidation(fmt.Sprintf("Too many rows: at most %d per import", MaxImportRows), nil)
	}

	report := ImportReport{Created: []core.Transaction{}, Failed: []RowFailure{}}
	for _, row := range rows {
		tx, err := s.create(ctx, owner, row.Draft)
		if err != nil {
			report.Failed = append(report.Failed, RowFailure{
				Row:     row.Row,
				Kind:    core.KindOf(err),
				Message: core.MessageOf(err),
			})
			continue
		}
		report.Created = append(report.Created, tx)
	}

	if len(report.Created) > 0 {
		s.invalidate(owner)
	}
	s.logger.InfoContext(ctx, "Import confirmed",
		log.FieldOperation, log.OpConfirm,
		log.FieldOwner, owner,
		log.FieldRows, len(rows),
		"created", len(report.Created),
		"failed", len(report.Failed))
	return report, nil
}

func (s *TransactionService) lookupError(ctx context.Context, owner, id string, err error) error {
	if errors.Is(err, ledger.ErrNotFound) {
		return core.NewNotFound("Transaction not found", err)
	}
	s.logger.ErrorContext(ctx, "Ledger operation failed",
		log.NewFields().WithOwner(owner).WithError(err, log.ErrorTypeDatabase).ToSlice()...)
	return core.NewUpstream(fmt.Sprintf("failed to access transaction %s", id), err)
}

func (s *TransactionService) invalidate(owner string) {
	if s.analytics != nil {
		s.analytics.Invalidate(owner)
	}
}

func (s *TransactionService) publish(ctx context.Context, kind amqp.EventKind, tx core.Transaction) {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "AMQP client not available, skipping event", log.FieldEvent, kind)
		return
	}
	if err := s.publisher.PublishTransactionEvent(ctx, amqp.NewTransactionEvent(kind, tx)); err != nil {
		// The ledger write already committed.
		s.logger.WarnContext(ctx, "Failed to publish transaction event",
			log.FieldEvent, kind,
			log.FieldTransactionID, tx.ID,
			log.FieldError, err)
	}
}

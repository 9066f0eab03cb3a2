package sheets

import (
	"context"

	"budget/internal/core"
)

// Ports for outbound adapters.
type (
	// Mirror keeps a spreadsheet copy of the ledger, one row per transaction.
	Mirror interface {
		// Upsert writes tx, replacing the row with the same ID if present.
		Upsert(ctx context.Context, tx core.Transaction) error
		// Remove deletes the row for id. A missing row is not an error.
		Remove(ctx context.Context, owner, id string) error
	}
)

// Header is the column layout of the mirror sheet.
var Header = []string{"ID", "Owner", "Date", "Type", "Category", "Amount", "Note", "Updated"}

package stock

import (
	"context"

	"github.com/shopspring/decimal"
)

type Repository interface {
	// GetEntryForUpdate locks and returns the (drug, lot) row, or nil when
	// the lot has never been stocked.
	GetEntryForUpdate(ctx context.Context, drugCode, lot string) (*DrugStockEntry, error)
	// CreateEntry inserts a zero-quantity row if absent and returns it locked.
	CreateEntry(ctx context.Context, e *DrugStockEntry) (*DrugStockEntry, error)
	// UpdateQuantity sets quantity to next only if it is still prev.
	UpdateQuantity(ctx context.Context, drugCode, lot string, prev, next decimal.Decimal) (bool, error)
	AppendTransaction(ctx context.Context, tx *StockTransaction) error

	ListEntries(ctx context.Context, drugCode string) ([]*DrugStockEntry, error)
	LowStock(ctx context.Context) ([]*DrugStockEntry, error)
	SetThreshold(ctx context.Context, drugCode, lot string, threshold decimal.Decimal) (*DrugStockEntry, error)
	History(ctx context.Context, drugCode string, limit, offset int) ([]*StockTransaction, int, error)
	Transactions(ctx context.Context, drugCode, lot string) ([]*StockTransaction, error)
}

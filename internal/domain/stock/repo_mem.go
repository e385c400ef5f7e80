package stock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ehr/wardmed/internal/platform/apperr"
)

type lotKey struct{ drug, lot string }

// MemRepository keeps the ledger in process memory. It pairs with
// db.SerialTxRunner; row locks are no-ops.
type MemRepository struct {
	mu      sync.Mutex
	entries map[lotKey]DrugStockEntry
	txs     []StockTransaction
	seq     int64
}

func NewMemRepository() *MemRepository {
	return &MemRepository{entries: make(map[lotKey]DrugStockEntry)}
}

func (m *MemRepository) GetEntryForUpdate(_ context.Context, drugCode, lot string) (*DrugStockEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[lotKey{drugCode, lot}]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *MemRepository) CreateEntry(_ context.Context, e *DrugStockEntry) (*DrugStockEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := lotKey{e.DrugCode, e.Lot}
	if _, ok := m.entries[k]; !ok {
		cp := *e
		cp.Quantity = decimal.Zero
		cp.UpdatedAt = time.Now()
		m.entries[k] = cp
	}
	out := m.entries[k]
	return &out, nil
}

func (m *MemRepository) UpdateQuantity(_ context.Context, drugCode, lot string, prev, next decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := lotKey{drugCode, lot}
	e, ok := m.entries[k]
	if !ok || !e.Quantity.Equal(prev) {
		return false, nil
	}
	e.Quantity = next
	e.UpdatedAt = time.Now()
	m.entries[k] = e
	return true, nil
}

func (m *MemRepository) AppendTransaction(_ context.Context, t *StockTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t.Seq = m.seq
	t.CreatedAt = time.Now()
	m.txs = append(m.txs, *t)
	return nil
}

func (m *MemRepository) ListEntries(_ context.Context, drugCode string) ([]*DrugStockEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*DrugStockEntry
	for _, e := range m.entries {
		if drugCode == "" || e.DrugCode == drugCode {
			cp := e
			out = append(out, &cp)
		}
	}
	sortFEFO(out)
	return out, nil
}

func sortFEFO(entries []*DrugStockEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.DrugCode != b.DrugCode {
			return a.DrugCode < b.DrugCode
		}
		switch {
		case a.Expiry != nil && b.Expiry == nil:
			return true
		case a.Expiry == nil && b.Expiry != nil:
			return false
		case a.Expiry != nil && b.Expiry != nil && !a.Expiry.Equal(*b.Expiry):
			return a.Expiry.Before(*b.Expiry)
		}
		return a.Lot < b.Lot
	})
}

func (m *MemRepository) LowStock(ctx context.Context) ([]*DrugStockEntry, error) {
	all, _ := m.ListEntries(ctx, "")
	var out []*DrugStockEntry
	for _, e := range all {
		if e.MinThreshold.IsPositive() && e.Quantity.LessThanOrEqual(e.MinThreshold) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemRepository) SetThreshold(_ context.Context, drugCode, lot string, threshold decimal.Decimal) (*DrugStockEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := lotKey{drugCode, lot}
	e, ok := m.entries[k]
	if !ok {
		return nil, apperr.NotFoundf("stock entry %s/%s not found", drugCode, lot)
	}
	e.MinThreshold = threshold
	m.entries[k] = e
	return &e, nil
}

func (m *MemRepository) History(_ context.Context, drugCode string, limit, offset int) ([]*StockTransaction, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*StockTransaction
	for i := len(m.txs) - 1; i >= 0; i-- {
		if m.txs[i].DrugCode == drugCode {
			cp := m.txs[i]
			matched = append(matched, &cp)
		}
	}
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (m *MemRepository) Transactions(_ context.Context, drugCode, lot string) ([]*StockTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*StockTransaction
	for _, t := range m.txs {
		if t.DrugCode == drugCode && t.Lot == lot {
			cp := t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Corrupt overwrites a projection without a ledger line. Test helper for
// integrity checks.
func (m *MemRepository) Corrupt(drugCode, lot string, qty decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := lotKey{drugCode, lot}
	e := m.entries[k]
	e.Quantity = qty
	m.entries[k] = e
}

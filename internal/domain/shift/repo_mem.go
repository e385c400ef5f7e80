package shift

import (
	"context"
	"sync"
	"time"

	"github.com/ehr/wardmed/internal/domain/mar"
)

type shiftKey struct {
	shift mar.ShiftType
	date  string
}

// MemRepository keeps shift locks in process memory. It pairs with
// db.SerialTxRunner.
type MemRepository struct {
	mu    sync.Mutex
	locks map[shiftKey]ShiftLock
	audit []AuditEntry
}

func NewMemRepository() *MemRepository {
	return &MemRepository{locks: make(map[shiftKey]ShiftLock)}
}

func (m *MemRepository) Get(_ context.Context, shift mar.ShiftType, date string) (*ShiftLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[shiftKey{shift, date}]; ok {
		return &l, nil
	}
	return &ShiftLock{Shift: shift, Date: date, Status: Open}, nil
}

func (m *MemRepository) GetForUpdate(ctx context.Context, shift mar.ShiftType, date string) (*ShiftLock, error) {
	return m.Get(ctx, shift, date)
}

func (m *MemRepository) GetForShare(ctx context.Context, shift mar.ShiftType, date string) (*ShiftLock, error) {
	return m.Get(ctx, shift, date)
}

func (m *MemRepository) Save(_ context.Context, l *ShiftLock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks[shiftKey{l.Shift, l.Date}] = *l
	return nil
}

func (m *MemRepository) AppendAudit(_ context.Context, a *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.CreatedAt = time.Now()
	m.audit = append(m.audit, *a)
	return nil
}

func (m *MemRepository) ListAudit(_ context.Context, shift mar.ShiftType, date string) ([]*AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*AuditEntry
	for _, a := range m.audit {
		if a.Shift == shift && a.Date == date {
			a := a
			out = append(out, &a)
		}
	}
	return out, nil
}

package mar

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/wardmed/internal/platform/apperr"
)

// MemRepository keeps visits and MAR items in process memory. It pairs
// with db.SerialTxRunner.
type MemRepository struct {
	mu     sync.Mutex
	visits map[uuid.UUID]MedVisit
	items  map[uuid.UUID]MARItem
}

func NewMemRepository() *MemRepository {
	return &MemRepository{
		visits: make(map[uuid.UUID]MedVisit),
		items:  make(map[uuid.UUID]MARItem),
	}
}

func (m *MemRepository) CreateVisit(_ context.Context, v *MedVisit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.visits {
		if existing.PatientID == v.PatientID && existing.DischargedAt == nil {
			return apperr.Validationf("patient %s already has an active visit", v.PatientID)
		}
	}
	m.visits[v.ID] = *v
	return nil
}

func (m *MemRepository) GetVisit(_ context.Context, id uuid.UUID) (*MedVisit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[id]
	if !ok {
		return nil, apperr.NotFoundf("visit %s not found", id)
	}
	return &v, nil
}

func (m *MemRepository) GetVisitForUpdate(ctx context.Context, id uuid.UUID) (*MedVisit, error) {
	return m.GetVisit(ctx, id)
}

func (m *MemRepository) ActiveVisit(_ context.Context, patientID string) (*MedVisit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.visits {
		if v.PatientID == patientID && v.DischargedAt == nil {
			return &v, nil
		}
	}
	return nil, apperr.NotFoundf("no active visit for patient %s", patientID)
}

func (m *MemRepository) SetVisitStatus(_ context.Context, id uuid.UUID, status VisitStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[id]
	if !ok {
		return apperr.NotFoundf("visit %s not found", id)
	}
	v.Status = status
	m.visits[id] = v
	return nil
}

func (m *MemRepository) Discharge(_ context.Context, id uuid.UUID) (*MedVisit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[id]
	if !ok {
		return nil, apperr.NotFoundf("visit %s not found", id)
	}
	if v.DischargedAt == nil {
		now := time.Now()
		v.DischargedAt = &now
		m.visits[id] = v
	}
	return &v, nil
}

func (m *MemRepository) ListVisits(_ context.Context, wardCode string, limit, offset int) ([]*MedVisit, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*MedVisit
	for _, v := range m.visits {
		if wardCode != "" && v.WardCode != wardCode {
			continue
		}
		v := v
		out = append(out, &v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AdmittedAt.After(out[j].AdmittedAt) })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *MemRepository) GetItem(_ context.Context, id uuid.UUID) (*MARItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFoundf("MAR item %s not found", id)
	}
	return &it, nil
}

func (m *MemRepository) GetItemForUpdate(ctx context.Context, id uuid.UUID) (*MARItem, error) {
	return m.GetItem(ctx, id)
}

func (m *MemRepository) InsertItems(_ context.Context, items []*MARItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, it := range items {
		it.CreatedAt = now
		it.UpdatedAt = now
		m.items[it.ID] = *it
	}
	return nil
}

func (m *MemRepository) UpdateItem(_ context.Context, it *MARItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[it.ID]
	if !ok {
		return apperr.NotFoundf("MAR item %s not found", it.ID)
	}
	if stored.Version != it.Version {
		return &ConcurrentUpdateError{ItemID: it.ID, Version: it.Version}
	}
	it.Version++
	it.UpdatedAt = time.Now()
	m.items[it.ID] = *it
	return nil
}

func (m *MemRepository) list(match func(MARItem) bool) []*MARItem {
	var out []*MARItem
	for _, it := range m.items {
		if match(it) {
			it := it
			out = append(out, &it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].DrugCode < out[j].DrugCode
	})
	return out
}

func (m *MemRepository) ListByVisit(_ context.Context, visitID uuid.UUID) ([]*MARItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(func(it MARItem) bool { return it.VisitID == visitID }), nil
}

func (m *MemRepository) ListByShift(_ context.Context, shift ShiftType, date string) ([]*MARItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(func(it MARItem) bool { return it.Shift == shift && it.ShiftDate == date }), nil
}

func (m *MemRepository) ListByOrder(_ context.Context, patientID, orderID string) ([]*MARItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(func(it MARItem) bool { return it.PatientID == patientID && it.OrderID == orderID }), nil
}

func (m *MemRepository) CountByShift(_ context.Context, shift ShiftType, date string) ([]StatusCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type key struct {
		status    Status
		dispensed bool
	}
	tally := make(map[key]int)
	for _, it := range m.items {
		if it.Shift == shift && it.ShiftDate == date {
			tally[key{it.Status, it.IsDispensed}]++
		}
	}
	counts := make([]StatusCount, 0, len(tally))
	for k, n := range tally {
		counts = append(counts, StatusCount{Status: k.status, Dispensed: k.dispensed, Count: n})
	}
	return counts, nil
}

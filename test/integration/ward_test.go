package integration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/wardmed/internal/domain/mar"
	"github.com/ehr/wardmed/internal/domain/shift"
	"github.com/ehr/wardmed/internal/domain/stock"
	"github.com/ehr/wardmed/internal/platform/db"
)

func TestMigrations_AllApplied(t *testing.T) {
	status, err := db.NewMigrator(globalPool, migrationsDir()).Status(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, status)
	for _, s := range status {
		assert.True(t, s.Applied, "migration %03d_%s", s.Version, s.Name)
	}
}

// A close and a mutation that would reopen work on the shift race; exactly
// one of them wins.
func TestShiftClose_RacesReschedule(t *testing.T) {
	ctx := context.Background()
	w := newWard()
	for i := 0; i < 10; i++ {
		date := freshDate()
		v := w.admit(t)
		drug := w.stockUp(t, 10)
		given := w.schedule(t, v, drug, mar.ShiftMorning, date)
		held := w.schedule(t, v, drug, mar.ShiftMorning, date)
		_, err := w.mar.Administer(ctx, given.ID, verified, "nurse-1")
		require.NoError(t, err)
		_, err = w.mar.MarkException(ctx, held.ID, mar.StatusHeld, "PATIENT_NPO", "", "nurse-1")
		require.NoError(t, err)

		var wg sync.WaitGroup
		var closeErr, rescheduleErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, closeErr = w.shifts.Close(ctx, mar.ShiftMorning, date, "nurse-2")
		}()
		go func() {
			defer wg.Done()
			_, rescheduleErr = w.mar.Reschedule(ctx, held.ID, "nurse-1")
		}()
		wg.Wait()

		got, err := w.mar.Get(ctx, held.ID)
		require.NoError(t, err)
		if closeErr == nil {
			var locked *mar.ShiftLockedError
			require.True(t, errors.As(rescheduleErr, &locked), "reschedule after close: %v", rescheduleErr)
			assert.Equal(t, mar.StatusHeld, got.Status)
		} else {
			require.NoError(t, rescheduleErr)
			var notReady *shift.ShiftNotReadyError
			require.True(t, errors.As(closeErr, &notReady), "close after reschedule: %v", closeErr)
			assert.Equal(t, 1, notReady.Pending)
			assert.Equal(t, mar.StatusScheduled, got.Status)
		}
	}
}

func TestShiftClose_DispensedMissedDoseBlocksClose(t *testing.T) {
	ctx := context.Background()
	w := newWard()
	date := freshDate()
	v := w.admit(t)
	drug := w.stockUp(t, 5)
	it := w.schedule(t, v, drug, mar.ShiftNight, date)

	_, err := w.mar.Prepare(ctx, it.ID, "nurse-1")
	require.NoError(t, err)
	_, err = w.mar.MarkException(ctx, it.ID, mar.StatusMissed, "PATIENT_ABSENT", "", "nurse-1")
	require.NoError(t, err)

	_, err = w.shifts.Close(ctx, mar.ShiftNight, date, "nurse-1")
	var notReady *shift.ShiftNotReadyError
	require.True(t, errors.As(err, &notReady))
	assert.Equal(t, 1, notReady.ReturnPending)

	_, err = w.mar.ReturnToStock(ctx, it.ID, dec(1), "DOSE_NOT_GIVEN", "", "nurse-1")
	require.NoError(t, err)
	_, err = w.shifts.Close(ctx, mar.ShiftNight, date, "nurse-1")
	require.NoError(t, err)

	available, err := w.ledger.Available(ctx, drug)
	require.NoError(t, err)
	assert.True(t, available.Equal(dec(5)))
}

// Two doses of different drugs share no stock row, so only the visit row
// lock orders their status recomputation.
func TestVisitStatus_ConcurrentAdministrations(t *testing.T) {
	ctx := context.Background()
	w := newWard()
	for i := 0; i < 10; i++ {
		date := freshDate()
		v := w.admit(t)
		a := w.schedule(t, v, w.stockUp(t, 5), mar.ShiftMorning, date)
		b := w.schedule(t, v, w.stockUp(t, 5), mar.ShiftMorning, date)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for j, it := range []*mar.MARItem{a, b} {
			wg.Add(1)
			go func(j int, it *mar.MARItem) {
				defer wg.Done()
				_, errs[j] = w.mar.Administer(ctx, it.ID, verified, "nurse-1")
			}(j, it)
		}
		wg.Wait()
		require.NoError(t, errs[0])
		require.NoError(t, errs[1])

		got, err := w.mar.GetVisit(ctx, v.ID)
		require.NoError(t, err)
		assert.Equal(t, mar.VisitFullyDispensed, got.Status)
	}
}

func TestUpdateItem_StaleVersionRejected(t *testing.T) {
	ctx := context.Background()
	w := newWard()
	v := w.admit(t)
	it := w.schedule(t, v, w.stockUp(t, 5), mar.ShiftAfternoon, freshDate())

	stale, err := w.marRepo.GetItem(ctx, it.ID)
	require.NoError(t, err)
	_, err = w.mar.Administer(ctx, it.ID, verified, "nurse-1")
	require.NoError(t, err)

	stale.Status = mar.StatusHeld
	err = w.marRepo.UpdateItem(ctx, stale)
	var conflict *mar.ConcurrentUpdateError
	require.True(t, errors.As(err, &conflict))

	got, err := w.mar.Get(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, mar.StatusAdministered, got.Status)
}

func TestStockConsume_ConcurrentNeverOverdraws(t *testing.T) {
	ctx := context.Background()
	w := newWard()
	drug := w.stockUp(t, 10)

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = w.ledger.Consume(ctx, drug, dec(1), "mar:IT", "nurse-1")
		}(i)
	}
	wg.Wait()

	ok, short := 0, 0
	for _, err := range errs {
		var insufficient *stock.InsufficientStockError
		switch {
		case err == nil:
			ok++
		case errors.As(err, &insufficient):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 10, ok)
	assert.Equal(t, 10, short)

	available, err := w.ledger.Available(ctx, drug)
	require.NoError(t, err)
	assert.True(t, available.IsZero())

	checked, violations, err := w.ledger.VerifyAll(ctx, drug)
	require.NoError(t, err)
	assert.Equal(t, 1, checked)
	assert.Empty(t, violations)
}

package mar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	legal := map[Action][]Status{
		ActionPrepare:    {StatusScheduled},
		ActionAdminister: {StatusScheduled, StatusPrepared},
		ActionHold:       {StatusScheduled, StatusPrepared},
		ActionRefuse:     {StatusScheduled, StatusPrepared},
		ActionMiss:       {StatusScheduled, StatusPrepared},
		ActionReschedule: {StatusHeld, StatusRefused, StatusMissed},
		ActionReturn:     {StatusReturnPending, StatusMissed},
		ActionUndo:       {StatusAdministered},
		ActionCancel:     {StatusScheduled, StatusPrepared, StatusHeld, StatusRefused, StatusMissed},
	}
	for action, from := range legal {
		allowed := make(map[Status]bool)
		for _, s := range from {
			allowed[s] = true
		}
		for _, s := range Statuses {
			assert.Equal(t, allowed[s], CanTransition(action, s), "%s from %s", action, s)
		}
	}
}

func TestCanTransition_TerminalStates(t *testing.T) {
	for _, action := range []Action{ActionPrepare, ActionAdminister, ActionHold, ActionCancel, ActionUndo, ActionReturn} {
		assert.False(t, CanTransition(action, StatusCancelled), action)
		assert.False(t, CanTransition(action, StatusReturned), action)
	}
	assert.False(t, CanTransition("teleport", StatusScheduled))
}

func TestAllowedAfterStop(t *testing.T) {
	for _, action := range []Action{ActionReturn, ActionUndo, ActionCancel} {
		assert.True(t, AllowedAfterStop(action), action)
	}
	for _, action := range []Action{ActionPrepare, ActionAdminister, ActionHold, ActionRefuse, ActionMiss, ActionReschedule} {
		assert.False(t, AllowedAfterStop(action), action)
	}
}

func TestExceptionOutcome(t *testing.T) {
	assert.Equal(t, StatusReturnPending, exceptionOutcome(StatusHeld, true))
	assert.Equal(t, StatusReturnPending, exceptionOutcome(StatusRefused, true))
	assert.Equal(t, StatusMissed, exceptionOutcome(StatusMissed, true))
	assert.Equal(t, StatusHeld, exceptionOutcome(StatusHeld, false))
	assert.Equal(t, StatusRefused, exceptionOutcome(StatusRefused, false))
}

func TestDeriveVisitStatus(t *testing.T) {
	items := func(ss ...Status) []*MARItem {
		out := make([]*MARItem, len(ss))
		for i, s := range ss {
			out[i] = &MARItem{Status: s}
		}
		return out
	}
	tests := []struct {
		name string
		in   []*MARItem
		want VisitStatus
	}{
		{"no items", nil, VisitNew},
		{"only cancelled", items(StatusCancelled), VisitNew},
		{"all pending", items(StatusScheduled, StatusPrepared), VisitNew},
		{"some given", items(StatusAdministered, StatusScheduled), VisitPartiallyDispensed},
		{"all given", items(StatusAdministered, StatusReturned), VisitFullyDispensed},
		{"cancelled ignored", items(StatusAdministered, StatusCancelled), VisitFullyDispensed},
		{"held blocks full", items(StatusAdministered, StatusHeld), VisitPartiallyDispensed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveVisitStatus(tt.in))
		})
	}
}

func TestBucket(t *testing.T) {
	loc := time.FixedZone("ICT", 7*3600)

	at := func(day, h, m int) time.Time { return time.Date(2026, 3, day, h, m, 0, 0, loc) }
	tests := []struct {
		at    time.Time
		shift ShiftType
		date  string
	}{
		{at(10, 6, 0), ShiftMorning, "2026-03-10"},
		{at(10, 11, 59), ShiftMorning, "2026-03-10"},
		{at(10, 12, 0), ShiftNoon, "2026-03-10"},
		{at(10, 14, 0), ShiftAfternoon, "2026-03-10"},
		{at(10, 18, 0), ShiftNight, "2026-03-10"},
		{at(10, 23, 30), ShiftNight, "2026-03-10"},
		{at(11, 2, 0), ShiftNight, "2026-03-10"},
		{at(11, 5, 59), ShiftNight, "2026-03-10"},
	}
	for _, tt := range tests {
		shift, date := Bucket(tt.at.UTC(), loc)
		assert.Equal(t, tt.shift, shift, tt.at.String())
		assert.Equal(t, tt.date, date, tt.at.String())
	}
}

func TestSlotTime_RoundTrips(t *testing.T) {
	loc := time.UTC
	for _, s := range ShiftTypes {
		at, err := SlotTime(s, "2026-03-10", loc)
		require.NoError(t, err)
		shift, date := Bucket(at, loc)
		assert.Equal(t, s, shift)
		assert.Equal(t, "2026-03-10", date)
	}
	_, err := SlotTime("DAWN", "2026-03-10", loc)
	assert.Error(t, err)
}

func TestDefaultShifts(t *testing.T) {
	for f := 1; f <= 4; f++ {
		shifts, err := DefaultShifts(f)
		require.NoError(t, err)
		assert.Len(t, shifts, f)
	}
	_, err := DefaultShifts(0)
	assert.Error(t, err)
	_, err = DefaultShifts(6)
	assert.Error(t, err)
}

func TestParseShiftType(t *testing.T) {
	s, err := ParseShiftType(" night ")
	require.NoError(t, err)
	assert.Equal(t, ShiftNight, s)
	_, err = ParseShiftType("EVENING")
	assert.Error(t, err)
}

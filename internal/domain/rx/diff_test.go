package rx

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/wardmed/internal/domain/mar"
)

func line(order, drug string, dose int64, freq int) RxLine {
	return RxLine{
		OrderID: order, DrugCode: drug, DrugName: drug,
		Dose: decimal.NewFromInt(dose), DoseUnit: "tab", Route: "PO", Frequency: freq,
	}
}

func kinds(details []ChangeDetail) map[string]ChangeKind {
	out := make(map[string]ChangeKind, len(details))
	for _, d := range details {
		out[d.OrderID] = d.Change
	}
	return out
}

func TestDiffLines(t *testing.T) {
	a := line("A", "PARA500", 1, 3)
	b := line("B", "AMOX", 1, 2)
	c := line("C", "OMEP20", 1, 1)

	t.Run("first version adds everything", func(t *testing.T) {
		got := DiffLines(nil, []RxLine{a, b})
		assert.Equal(t, map[string]ChangeKind{"A": ChangeAdd, "B": ChangeAdd}, kinds(got))
	})

	t.Run("add update stop", func(t *testing.T) {
		b2 := b
		b2.Dose = decimal.NewFromInt(2)
		got := DiffLines([]RxLine{a, b}, []RxLine{b2, c})
		assert.Equal(t, map[string]ChangeKind{"A": ChangeStop, "B": ChangeUpdate, "C": ChangeAdd}, kinds(got))
		require.Len(t, got, 3)
		assert.Equal(t, "A", got[0].OrderID, "sorted by order id")
		assert.Equal(t, []string{"dose"}, got[1].ChangedFields)
		assert.NotNil(t, got[1].Old)
		assert.NotNil(t, got[1].New)
		assert.Nil(t, got[0].New)
	})

	t.Run("dropping a line stops only that line", func(t *testing.T) {
		got := DiffLines([]RxLine{a, b}, []RxLine{a})
		assert.Equal(t, map[string]ChangeKind{"A": ChangeNoChange, "B": ChangeStop}, kinds(got))
	})

	t.Run("route frequency and shifts are compared", func(t *testing.T) {
		a2 := a
		a2.Route = "IV"
		a2.Frequency = 2
		a2.Shifts = []mar.ShiftType{mar.ShiftMorning, mar.ShiftNight}
		got := DiffLines([]RxLine{a}, []RxLine{a2})
		require.Len(t, got, 1)
		assert.Equal(t, []string{"route", "frequency", "shifts"}, got[0].ChangedFields)
	})

	t.Run("shift order does not matter", func(t *testing.T) {
		x := a
		x.Frequency = 2
		x.Shifts = []mar.ShiftType{mar.ShiftMorning, mar.ShiftNight}
		y := x
		y.Shifts = []mar.ShiftType{mar.ShiftNight, mar.ShiftMorning}
		got := DiffLines([]RxLine{x}, []RxLine{y})
		assert.Equal(t, ChangeNoChange, got[0].Change)
	})

	t.Run("equal doses with different scale", func(t *testing.T) {
		x := a
		x.Dose = decimal.RequireFromString("1.0")
		got := DiffLines([]RxLine{a}, []RxLine{x})
		assert.Equal(t, ChangeNoChange, got[0].Change)
	})
}

func TestValidateLine(t *testing.T) {
	assert.Empty(t, ValidateLine(line("A", "PARA500", 1, 3)))

	noRoute := line("A", "PARA500", 1, 3)
	noRoute.Route = ""
	assert.Contains(t, ValidateLine(noRoute), "route is required")

	assert.Contains(t, ValidateLine(line("A", "PARA500", 0, 3)), "dose must be positive")
	assert.Contains(t, ValidateLine(line("A", "PARA500", 1, 7)), "frequency 7 is not supported")

	badShift := line("A", "PARA500", 1, 1)
	badShift.Shifts = []mar.ShiftType{"DUSK"}
	assert.Contains(t, ValidateLine(badShift), `unknown shift "DUSK"`)

	mismatch := line("A", "PARA500", 1, 3)
	mismatch.Shifts = []mar.ShiftType{mar.ShiftMorning}
	assert.Contains(t, ValidateLine(mismatch), "frequency 3 does not match 1 shifts")

	explicit := line("A", "PARA500", 1, 0)
	explicit.Shifts = []mar.ShiftType{mar.ShiftNoon}
	assert.Empty(t, ValidateLine(explicit))

	repeated := line("A", "PARA500", 1, 2)
	repeated.Shifts = []mar.ShiftType{mar.ShiftMorning, mar.ShiftMorning}
	assert.Equal(t, []string{"shift MORNING is given more than once"}, ValidateLine(repeated))
}

func TestConflicts(t *testing.T) {
	items := []*mar.MARItem{
		{Status: mar.StatusScheduled},
		{Status: mar.StatusScheduled},
		{Status: mar.StatusPrepared},
		{Status: mar.StatusAdministered},
		{Status: mar.StatusCancelled},
	}
	assert.Equal(t, []string{"2 doses pending", "1 doses prepared needing return"}, conflicts(items))
	assert.Empty(t, conflicts(items[3:]))
}

package rx

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ehr/wardmed/internal/domain/mar"
)

// DiffLines compares two versions' lines by order id. The result is
// sorted by order id and includes NO_CHANGE lines.
func DiffLines(prev, next []RxLine) []ChangeDetail {
	oldByID := make(map[string]RxLine, len(prev))
	for _, l := range prev {
		oldByID[l.OrderID] = l
	}
	newByID := make(map[string]RxLine, len(next))
	for _, l := range next {
		newByID[l.OrderID] = l
	}

	var out []ChangeDetail
	for id, n := range newByID {
		n := n
		o, ok := oldByID[id]
		if !ok {
			out = append(out, ChangeDetail{OrderID: id, DrugCode: n.DrugCode, DrugName: n.DrugName, Change: ChangeAdd, New: &n})
			continue
		}
		d := ChangeDetail{OrderID: id, DrugCode: n.DrugCode, DrugName: n.DrugName, Old: &o, New: &n}
		d.ChangedFields = changedFields(o, n)
		if len(d.ChangedFields) == 0 {
			d.Change = ChangeNoChange
		} else {
			d.Change = ChangeUpdate
		}
		out = append(out, d)
	}
	for id, o := range oldByID {
		if _, ok := newByID[id]; ok {
			continue
		}
		o := o
		out = append(out, ChangeDetail{OrderID: id, DrugCode: o.DrugCode, DrugName: o.DrugName, Change: ChangeStop, Old: &o})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

func changedFields(o, n RxLine) []string {
	var fields []string
	if o.DrugCode != n.DrugCode {
		fields = append(fields, "drug_code")
	}
	if !o.Dose.Equal(n.Dose) {
		fields = append(fields, "dose")
	}
	if o.DoseUnit != n.DoseUnit {
		fields = append(fields, "dose_unit")
	}
	if !strings.EqualFold(o.Route, n.Route) {
		fields = append(fields, "route")
	}
	if o.Frequency != n.Frequency {
		fields = append(fields, "frequency")
	}
	if !sameShifts(o.Shifts, n.Shifts) {
		fields = append(fields, "shifts")
	}
	return fields
}

func sameShifts(a, b []mar.ShiftType) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[mar.ShiftType]int, len(a))
	for _, s := range a {
		seen[s]++
	}
	for _, s := range b {
		if seen[s] == 0 {
			return false
		}
		seen[s]--
	}
	return true
}

// ValidateLine returns the problems that would stop the line from being
// scheduled.
func ValidateLine(l RxLine) []string {
	var errs []string
	if strings.TrimSpace(l.DrugCode) == "" {
		errs = append(errs, "drug_code is required")
	}
	if strings.TrimSpace(l.Route) == "" {
		errs = append(errs, "route is required")
	}
	if !l.Dose.IsPositive() {
		errs = append(errs, "dose must be positive")
	}
	if len(l.Shifts) == 0 {
		if _, err := mar.DefaultShifts(l.Frequency); err != nil {
			errs = append(errs, fmt.Sprintf("frequency %d is not supported", l.Frequency))
		}
		return errs
	}
	seen := make(map[mar.ShiftType]bool, len(l.Shifts))
	for _, s := range l.Shifts {
		t, err := mar.ParseShiftType(string(s))
		if err != nil {
			errs = append(errs, fmt.Sprintf("unknown shift %q", s))
			continue
		}
		if seen[t] {
			errs = append(errs, fmt.Sprintf("shift %s is given more than once", t))
		}
		seen[t] = true
	}
	if l.Frequency != 0 && l.Frequency != len(l.Shifts) {
		errs = append(errs, fmt.Sprintf("frequency %d does not match %d shifts", l.Frequency, len(l.Shifts)))
	}
	return errs
}

// lineShifts resolves the shifts a line is given in.
func lineShifts(l RxLine) ([]mar.ShiftType, error) {
	if len(l.Shifts) == 0 {
		return mar.DefaultShifts(l.Frequency)
	}
	out := make([]mar.ShiftType, 0, len(l.Shifts))
	for _, s := range l.Shifts {
		t, err := mar.ParseShiftType(string(s))
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// conflicts describes the outstanding doses of an order being changed or
// stopped.
func conflicts(items []*mar.MARItem) []string {
	pending, prepared := 0, 0
	for _, it := range items {
		switch it.Status {
		case mar.StatusScheduled:
			pending++
		case mar.StatusPrepared:
			prepared++
		}
	}
	var out []string
	if pending > 0 {
		out = append(out, fmt.Sprintf("%d doses pending", pending))
	}
	if prepared > 0 {
		out = append(out, fmt.Sprintf("%d doses prepared needing return", prepared))
	}
	return out
}

package mar

import (
	"fmt"
	"strings"
	"time"
)

type ShiftType string

const (
	ShiftMorning   ShiftType = "MORNING"
	ShiftNoon      ShiftType = "NOON"
	ShiftAfternoon ShiftType = "AFTERNOON"
	ShiftNight     ShiftType = "NIGHT"
)

// DateLayout is the layout of shift dates.
const DateLayout = "2006-01-02"

// ShiftTypes lists the shifts in the order they occur within a ward day.
var ShiftTypes = []ShiftType{ShiftMorning, ShiftNoon, ShiftAfternoon, ShiftNight}

// slotHour is the canonical administration hour of each shift.
var slotHour = map[ShiftType]int{
	ShiftMorning:   8,
	ShiftNoon:      12,
	ShiftAfternoon: 16,
	ShiftNight:     20,
}

func ParseShiftType(s string) (ShiftType, error) {
	t := ShiftType(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := slotHour[t]; !ok {
		return "", fmt.Errorf("unknown shift %q", s)
	}
	return t, nil
}

// ParseShiftDate validates a YYYY-MM-DD shift date.
func ParseShiftDate(s string) (string, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid shift date %q: %w", s, err)
	}
	return d.Format(DateLayout), nil
}

// Bucket returns the shift and shift date a moment falls in, in loc.
// NIGHT runs from 18:00 to 06:00, so the small hours belong to the
// previous day's NIGHT.
func Bucket(t time.Time, loc *time.Location) (ShiftType, string) {
	local := t.In(loc)
	h := local.Hour()
	switch {
	case h < 6:
		return ShiftNight, local.AddDate(0, 0, -1).Format(DateLayout)
	case h < 12:
		return ShiftMorning, local.Format(DateLayout)
	case h < 14:
		return ShiftNoon, local.Format(DateLayout)
	case h < 18:
		return ShiftAfternoon, local.Format(DateLayout)
	default:
		return ShiftNight, local.Format(DateLayout)
	}
}

// SlotTime is the canonical administration time of shift on date, in loc.
func SlotTime(shift ShiftType, date string, loc *time.Location) (time.Time, error) {
	h, ok := slotHour[shift]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown shift %q", shift)
	}
	d, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid shift date %q: %w", date, err)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), h, 0, 0, 0, loc), nil
}

// DefaultShifts spreads a daily frequency over the ward day.
func DefaultShifts(frequency int) ([]ShiftType, error) {
	switch frequency {
	case 1:
		return []ShiftType{ShiftMorning}, nil
	case 2:
		return []ShiftType{ShiftMorning, ShiftNight}, nil
	case 3:
		return []ShiftType{ShiftMorning, ShiftAfternoon, ShiftNight}, nil
	case 4:
		return []ShiftType{ShiftMorning, ShiftNoon, ShiftAfternoon, ShiftNight}, nil
	}
	return nil, fmt.Errorf("frequency %d not supported, want 1-4 doses per day", frequency)
}

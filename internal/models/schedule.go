package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Weekday is the short Portuguese day code used in section schedules.
type Weekday string

const (
	WeekdayMonday    Weekday = "seg"
	WeekdayTuesday   Weekday = "ter"
	WeekdayWednesday Weekday = "qua"
	WeekdayThursday  Weekday = "qui"
	WeekdayFriday    Weekday = "sex"
	WeekdaySaturday  Weekday = "sab"
	WeekdaySunday    Weekday = "dom"
)

var weekdayOrder = map[Weekday]int{
	WeekdayMonday:    0,
	WeekdayTuesday:   1,
	WeekdayWednesday: 2,
	WeekdayThursday:  3,
	WeekdayFriday:    4,
	WeekdaySaturday:  5,
	WeekdaySunday:    6,
}

const (
	earliestSlotHour = 6
	latestSlotHour   = 22
)

var (
	ErrInvalidWeekday   = errors.New("invalid day, expected one of seg, ter, qua, qui, sex, sab, dom")
	ErrInvalidTimeRange = errors.New("invalid time range, expected HH:MM-HH:MM")
	ErrSlotOutOfHours   = errors.New("time range must be between 06:00 and 22:00")
	ErrDuplicateDay     = errors.New("only one slot per day is allowed")
	ErrEmptySchedule    = errors.New("schedule must have at least one slot")
	ErrSlotNotFound     = errors.New("no slot scheduled for that day")
	ErrLastSlot         = errors.New("cannot remove the only slot of a schedule")
)

// ParseWeekday lower-cases and validates a day code.
func ParseWeekday(raw string) (Weekday, error) {
	day := Weekday(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := weekdayOrder[day]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidWeekday, raw)
	}
	return day, nil
}

// TimeRange is a half-open interval of minutes since midnight.
type TimeRange struct {
	Start int
	End   int
}

// ParseTimeRange parses "HH:MM-HH:MM" enforcing start < end inside class hours.
func ParseTimeRange(raw string) (TimeRange, error) {
	parts := strings.Split(strings.TrimSpace(raw), "-")
	if len(parts) != 2 {
		return TimeRange{}, fmt.Errorf("%w: %q", ErrInvalidTimeRange, raw)
	}
	start, err := time.Parse("15:04", strings.TrimSpace(parts[0]))
	if err != nil {
		return TimeRange{}, fmt.Errorf("%w: %q", ErrInvalidTimeRange, raw)
	}
	end, err := time.Parse("15:04", strings.TrimSpace(parts[1]))
	if err != nil {
		return TimeRange{}, fmt.Errorf("%w: %q", ErrInvalidTimeRange, raw)
	}
	if !start.Before(end) {
		return TimeRange{}, fmt.Errorf("%w: start must be before end", ErrInvalidTimeRange)
	}
	if start.Hour() < earliestSlotHour || end.Hour() > latestSlotHour {
		return TimeRange{}, ErrSlotOutOfHours
	}
	return TimeRange{
		Start: start.Hour()*60 + start.Minute(),
		End:   end.Hour()*60 + end.Minute(),
	}, nil
}

// Overlaps reports whether two ranges share any minute.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return !(r.End <= other.Start || other.End <= r.Start)
}

func (r TimeRange) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", r.Start/60, r.Start%60, r.End/60, r.End%60)
}

// ScheduleSlot is one weekly meeting of an offering.
type ScheduleSlot struct {
	Day       Weekday `db:"day" json:"day"`
	TimeRange string  `db:"time_range" json:"time_range"`
}

// Range parses the slot interval.
func (s ScheduleSlot) Range() (TimeRange, error) {
	return ParseTimeRange(s.TimeRange)
}

// ScheduleClash describes two overlapping slots.
type ScheduleClash struct {
	Day   Weekday `json:"day"`
	Left  string  `json:"left"`
	Right string  `json:"right"`
}

// Schedule is the weekly timetable of an offering, at most one slot per day.
type Schedule []ScheduleSlot

// NewSlot validates and canonicalises a day and interval.
func NewSlot(day, timeRange string) (ScheduleSlot, error) {
	d, err := ParseWeekday(day)
	if err != nil {
		return ScheduleSlot{}, err
	}
	r, err := ParseTimeRange(timeRange)
	if err != nil {
		return ScheduleSlot{}, err
	}
	return ScheduleSlot{Day: d, TimeRange: r.String()}, nil
}

// ScheduleFromMap builds a sorted schedule from a day -> interval map.
func ScheduleFromMap(raw map[string]string) (Schedule, error) {
	schedule := make(Schedule, 0, len(raw))
	for day, rng := range raw {
		slot, err := NewSlot(day, rng)
		if err != nil {
			return nil, err
		}
		if _, exists := schedule.Find(slot.Day); exists {
			return nil, ErrDuplicateDay
		}
		schedule = append(schedule, slot)
	}
	schedule.sort()
	return schedule, nil
}

// Map renders the schedule as day -> interval.
func (s Schedule) Map() map[string]string {
	out := make(map[string]string, len(s))
	for _, slot := range s {
		out[string(slot.Day)] = slot.TimeRange
	}
	return out
}

// Validate requires a non-empty schedule of well formed, distinct days.
func (s Schedule) Validate() error {
	if len(s) == 0 {
		return ErrEmptySchedule
	}
	seen := make(map[Weekday]struct{}, len(s))
	for _, slot := range s {
		if _, err := ParseWeekday(string(slot.Day)); err != nil {
			return err
		}
		if _, err := slot.Range(); err != nil {
			return err
		}
		if _, dup := seen[slot.Day]; dup {
			return ErrDuplicateDay
		}
		seen[slot.Day] = struct{}{}
	}
	return nil
}

// Find returns the slot for day.
func (s Schedule) Find(day Weekday) (ScheduleSlot, bool) {
	for _, slot := range s {
		if slot.Day == day {
			return slot, true
		}
	}
	return ScheduleSlot{}, false
}

// Set adds or replaces the slot for its day.
func (s Schedule) Set(slot ScheduleSlot) Schedule {
	out := make(Schedule, 0, len(s)+1)
	for _, existing := range s {
		if existing.Day != slot.Day {
			out = append(out, existing)
		}
	}
	out = append(out, slot)
	out.sort()
	return out
}

// Remove drops the slot for day. The last remaining slot cannot be removed.
func (s Schedule) Remove(day Weekday) (Schedule, error) {
	if _, ok := s.Find(day); !ok {
		return nil, ErrSlotNotFound
	}
	if len(s) == 1 {
		return nil, ErrLastSlot
	}
	out := make(Schedule, 0, len(s)-1)
	for _, existing := range s {
		if existing.Day != day {
			out = append(out, existing)
		}
	}
	return out, nil
}

// Clashes lists every same-day overlap between two schedules.
func (s Schedule) Clashes(other Schedule) []ScheduleClash {
	clashes := make([]ScheduleClash, 0)
	for _, left := range s {
		right, ok := other.Find(left.Day)
		if !ok {
			continue
		}
		lr, errL := left.Range()
		rr, errR := right.Range()
		if errL != nil || errR != nil {
			continue
		}
		if lr.Overlaps(rr) {
			clashes = append(clashes, ScheduleClash{Day: left.Day, Left: left.TimeRange, Right: right.TimeRange})
		}
	}
	return clashes
}

// ClashesWith reports whether any slot of s overlaps a slot of other.
func (s Schedule) ClashesWith(other Schedule) bool {
	return len(s.Clashes(other)) > 0
}

func (s Schedule) sort() {
	sort.Slice(s, func(i, j int) bool { return weekdayOrder[s[i].Day] < weekdayOrder[s[j].Day] })
}

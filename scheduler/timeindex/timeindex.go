// Package timeindex discretizes a scheduling horizon into fixed-length slots
// and answers the civil-time questions the engine needs: which slots sit in
// the workday, which intersect busy events, and where the free gaps are.
//
// Slots are half-open instants of fixed length; civil interpretation (hour of
// day, workday bounds, weekly windows) is evaluated in the preference
// timezone per slot, so a "09:00-17:00" workday means local clock time on
// every day, including across DST transitions.
package timeindex

import (
	"fmt"
	"time"

	"github.com/pulseplan/pulse/store"
)

// Index is the slot grid over [Start, End). Construct with New.
type Index struct {
	loc         *time.Location
	start       time.Time
	granularity time.Duration
	slots       int
}

// SlotContext describes one slot's civil-time position.
type SlotContext struct {
	Hour      int
	Weekday   time.Weekday
	Weekend   bool
	Morning   bool // 06:00-12:00
	Afternoon bool // 12:00-18:00
	Evening   bool // 18:00-24:00
	InWorkday bool
}

// Gap is a maximal run of free slot indices, half-open [StartIdx, EndIdx).
type Gap struct {
	StartIdx int
	EndIdx   int
}

// Slots returns the number of slots the gap spans.
func (g Gap) Slots() int { return g.EndIdx - g.StartIdx }

// New builds an index over [start, end) in the preference timezone. The grid
// is anchored at the local midnight preceding start so day boundaries line up
// with slot boundaries. Granularity must be 15 or 30 minutes.
func New(prefs *store.Preferences, start, end time.Time) (*Index, error) {
	if prefs.SessionGranularityMinutes != 15 && prefs.SessionGranularityMinutes != 30 {
		return nil, fmt.Errorf("granularity must be 15 or 30 minutes, got %d", prefs.SessionGranularityMinutes)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("horizon end %v must be after start %v", end, start)
	}
	loc, err := time.LoadLocation(prefs.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", prefs.Timezone, err)
	}

	granularity := time.Duration(prefs.SessionGranularityMinutes) * time.Minute
	local := start.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	// Round the anchor forward to the first grid point at or before start.
	anchor := midnight
	for anchor.Add(granularity).Before(start) || anchor.Add(granularity).Equal(start) {
		anchor = anchor.Add(granularity)
	}

	slots := int(end.Sub(anchor) / granularity)
	if end.Sub(anchor)%granularity != 0 {
		slots++
	}
	if slots <= 0 {
		return nil, fmt.Errorf("horizon too short for one %v slot", granularity)
	}

	return &Index{loc: loc, start: anchor, granularity: granularity, slots: slots}, nil
}

// Len returns the number of slots.
func (x *Index) Len() int { return x.slots }

// GranularityMinutes returns the slot length in minutes.
func (x *Index) GranularityMinutes() int { return int(x.granularity / time.Minute) }

// Location returns the civil timezone of the index.
func (x *Index) Location() *time.Location { return x.loc }

// Start returns the instant of slot 0.
func (x *Index) Start() time.Time { return x.start }

// End returns the instant just past the last slot.
func (x *Index) End() time.Time { return x.start.Add(time.Duration(x.slots) * x.granularity) }

// TimeOf returns the start instant of slot i, in the index timezone.
func (x *Index) TimeOf(i int) time.Time {
	return x.start.Add(time.Duration(i) * x.granularity).In(x.loc)
}

// IndexOf maps an instant to the slot containing it. The second return is
// false when t falls outside the horizon.
func (x *Index) IndexOf(t time.Time) (int, bool) {
	d := t.Sub(x.start)
	if d < 0 {
		return 0, false
	}
	i := int(d / x.granularity)
	if i >= x.slots {
		return 0, false
	}
	return i, true
}

// CeilIndexOf maps an instant to the first slot starting at or after it.
// Instants before the horizon map to slot 0; the second return is false past
// the horizon end.
func (x *Index) CeilIndexOf(t time.Time) (int, bool) {
	d := t.Sub(x.start)
	if d <= 0 {
		return 0, true
	}
	i := int(d / x.granularity)
	if d%x.granularity != 0 {
		i++
	}
	if i >= x.slots {
		return 0, false
	}
	return i, true
}

// OnGrid reports whether t falls exactly on a slot boundary (including the
// horizon end).
func (x *Index) OnGrid(t time.Time) bool {
	d := t.Sub(x.start)
	return d >= 0 && d%x.granularity == 0 && d <= time.Duration(x.slots)*x.granularity
}

// DayKey returns the local calendar date of slot i, used for per-day caps.
func (x *Index) DayKey(i int) string {
	return x.TimeOf(i).Format("2006-01-02")
}

// Context returns the civil-time description of slot i given the workday
// bounds in prefs.
func (x *Index) Context(i int, prefs *store.Preferences) SlotContext {
	t := x.TimeOf(i)
	hour := t.Hour()
	minuteOfDay := hour*60 + t.Minute()
	wd := t.Weekday()
	return SlotContext{
		Hour:      hour,
		Weekday:   wd,
		Weekend:   wd == time.Saturday || wd == time.Sunday,
		Morning:   hour >= 6 && hour < 12,
		Afternoon: hour >= 12 && hour < 18,
		Evening:   hour >= 18,
		InWorkday: minuteOfDay >= prefs.WorkdayStartMinutes && minuteOfDay < prefs.WorkdayEndMinutes,
	}
}

// InWorkday reports whether slot i starts inside the workday window.
func (x *Index) InWorkday(i int, prefs *store.Preferences) bool {
	t := x.TimeOf(i)
	minuteOfDay := t.Hour()*60 + t.Minute()
	return minuteOfDay >= prefs.WorkdayStartMinutes && minuteOfDay < prefs.WorkdayEndMinutes
}

// InWindows reports whether slot i intersects any of the weekly windows.
func (x *Index) InWindows(i int, windows []store.WeeklyWindow) bool {
	if len(windows) == 0 {
		return false
	}
	t := x.TimeOf(i)
	slotStart := t.Hour()*60 + t.Minute()
	slotEnd := slotStart + x.GranularityMinutes()
	day := int(t.Weekday())
	for _, w := range windows {
		if w.Day != day {
			continue
		}
		ws, err1 := parseClock(w.Start)
		we, err2 := parseClock(w.End)
		if err1 != nil || err2 != nil {
			continue
		}
		if slotStart < we && slotEnd > ws {
			return true
		}
	}
	return false
}

// BlockedSlots returns the set of slot indices whose interval intersects any
// of the given events.
func (x *Index) BlockedSlots(events []*store.BusyEvent) map[int]struct{} {
	blocked := make(map[int]struct{})
	horizonEnd := x.End()
	for _, ev := range events {
		evStart := time.Unix(ev.StartTs, 0)
		evEnd := time.Unix(ev.EndTs, 0)
		if !evStart.Before(horizonEnd) || !evEnd.After(x.start) {
			continue
		}
		first, ok := x.IndexOf(evStart)
		if !ok {
			first = 0
		}
		for i := first; i < x.slots; i++ {
			slotStart := x.start.Add(time.Duration(i) * x.granularity)
			if !slotStart.Before(evEnd) {
				break
			}
			// Half-open overlap: slot [s, s+g) vs event [evStart, evEnd).
			if slotStart.Add(x.granularity).After(evStart) {
				blocked[i] = struct{}{}
			}
		}
	}
	return blocked
}

// FreeSlots returns the maximal runs of slots that are inside the workday
// window, outside every no-study window, and not blocked by any event.
// Gaps never cross a local-day boundary, so a block placed inside one always
// stays within a single workday.
func (x *Index) FreeSlots(events []*store.BusyEvent, prefs *store.Preferences) []Gap {
	blocked := x.BlockedSlots(events)

	free := func(i int) bool {
		if _, ok := blocked[i]; ok {
			return false
		}
		if !x.InWorkday(i, prefs) {
			return false
		}
		return !x.InWindows(i, prefs.NoStudyWindows)
	}

	var gaps []Gap
	start := -1
	lastDay := ""
	for i := 0; i < x.slots; i++ {
		day := x.DayKey(i)
		if free(i) && (start == -1 || day == lastDay) {
			if start == -1 {
				start = i
			}
			lastDay = day
			continue
		}
		if start != -1 {
			gaps = append(gaps, Gap{StartIdx: start, EndIdx: i})
			start = -1
		}
		if free(i) {
			// Day boundary split: this slot opens the next day's gap.
			start = i
			lastDay = day
		}
	}
	if start != -1 {
		gaps = append(gaps, Gap{StartIdx: start, EndIdx: x.slots})
	}
	return gaps
}

func parseClock(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", hhmm, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

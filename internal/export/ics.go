// Package export renders a cached schedule week as an iCalendar feed.
//
// Each lesson becomes one VEVENT on its weekday of the cached week, repeated
// every second week so it follows the odd/even rotation it belongs to.
package export

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "timetable/internal/log"
	"timetable/internal/model"
	"timetable/internal/week"
)

const (
	productID      = "-//timetable//schedule export//EN"
	localTimestamp = "20060102T150405"
	// A lesson recurs on the same slot of every other week.
	rotationWeeks = 2
)

// Options controls the generated calendar.
type Options struct {
	// Location lesson times are interpreted in. Nil means UTC.
	Location *time.Location
	// Occurrences is how many times each lesson is repeated, counting the
	// cached week. Values below 2 export the cached week only.
	Occurrences int
	// Name is shown by clients as the calendar title.
	Name string
	// Now stamps DTSTAMP. Nil means time.Now.
	Now func() time.Time
}

// Calendar builds the calendar for wk and its lessons.
func Calendar(wk model.ScheduleWeek, sched model.Schedule, opts Options) (*ical.Calendar, error) {
	if wk.Monday.IsZero() {
		return nil, errors.New("export: week has no Monday date")
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}
	cal.SetXWRTimezone(loc.String())

	var rule string
	if opts.Occurrences > 1 {
		r, err := rotationRule(opts.Occurrences)
		if err != nil {
			return nil, err
		}
		rule = r
	}

	parity := "even week"
	if wk.IsOdd {
		parity = "odd week"
	}
	stamp := now().UTC()

	skipped := 0
	for _, wd := range sched.Days() {
		day := week.DayOf(wk.Monday, wd)
		for _, l := range sched[wd] {
			start, end, err := lessonSpan(day, l, loc)
			if err != nil {
				skipped++
				appLog.Warn("lesson not exported", "owner", wk.Owner, "lesson_id", l.ID, "err", err)
				continue
			}

			ev := cal.AddEvent(fmt.Sprintf("lesson-%d-%s@timetable", l.ID, day))
			ev.SetDtStampTime(stamp)
			setTime(ev, ical.ComponentPropertyDtStart, start)
			setTime(ev, ical.ComponentPropertyDtEnd, end)
			ev.SetSummary(summary(l))
			if l.Place != "" {
				ev.SetLocation(l.Place)
			}
			if desc := description(l); desc != "" {
				ev.SetDescription(desc)
			}
			if l.LMSURL != "" {
				ev.SetURL(l.LMSURL)
			}
			ev.SetProperty(ical.ComponentPropertyCategories, parity)
			if rule != "" {
				ev.SetProperty(ical.ComponentPropertyRrule, rule)
			}
		}
	}

	appLog.Debug("calendar exported",
		"owner", wk.Owner,
		"monday", wk.Monday,
		"events", len(cal.Events()),
		"skipped", skipped,
	)
	return cal, nil
}

// Write serializes the calendar for wk to w.
func Write(w io.Writer, wk model.ScheduleWeek, sched model.Schedule, opts Options) error {
	cal, err := Calendar(wk, sched, opts)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, cal.Serialize())
	return err
}

func rotationRule(count int) (string, error) {
	opt := rrule.ROption{Freq: rrule.WEEKLY, Interval: rotationWeeks, Count: count}
	if _, err := rrule.NewRRule(opt); err != nil {
		return "", fmt.Errorf("export: recurrence: %w", err)
	}
	return opt.RRuleString(), nil
}

// setTime writes a DATE-TIME property: UTC with a Z suffix, any other zone
// as local time with its TZID.
func setTime(ev *ical.VEvent, prop ical.ComponentProperty, t time.Time) {
	if t.Location() == time.UTC {
		ev.SetProperty(prop, t.Format(localTimestamp)+"Z")
		return
	}
	ev.SetProperty(prop, t.Format(localTimestamp))
	p := ev.GetProperty(prop)
	if p.ICalParameters == nil {
		p.ICalParameters = map[string][]string{}
	}
	p.ICalParameters["TZID"] = []string{t.Location().String()}
}

func lessonSpan(day model.Date, l model.Lesson, loc *time.Location) (time.Time, time.Time, error) {
	sh, sm, err := clock(l.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start %q: %w", l.Start, err)
	}
	eh, em, err := clock(l.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end %q: %w", l.End, err)
	}
	start := time.Date(day.Year, day.Month, day.Day, sh, sm, 0, 0, loc)
	end := time.Date(day.Year, day.Month, day.Day, eh, em, 0, 0, loc)
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("ends at %s before it starts at %s", l.End, l.Start)
	}
	return start, end, nil
}

// clock parses "HH:MM".
func clock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}

func summary(l model.Lesson) string {
	if l.Type == "" {
		return l.Name
	}
	return l.Name + " (" + l.Type + ")"
}

func description(l model.Lesson) string {
	var lines []string
	if l.TeacherName != "" {
		lines = append(lines, "Teacher: "+l.TeacherName)
	}
	if len(l.GroupNames) > 0 {
		lines = append(lines, "Groups: "+strings.Join(l.GroupNames, ", "))
	}
	if l.LMSURL != "" {
		lines = append(lines, "LMS: "+l.LMSURL)
	}
	return strings.Join(lines, "\n")
}

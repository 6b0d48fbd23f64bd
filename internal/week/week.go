// Package week maps calendar dates onto the six-day academic week.
//
// The institution runs Monday through Saturday. Calendar Sunday has no slot:
// WeekdayOf folds it onto Saturday, Normalize moves a Sunday selection back
// to that Saturday, and day navigation steps over it.
package week

import (
	"time"

	"timetable/internal/model"
)

// WeekdayOf returns the academic weekday of d. Sunday yields Saturday.
func WeekdayOf(d model.Date) model.WeekDay {
	wd := d.Weekday()
	if wd == time.Sunday {
		return model.Saturday
	}
	return model.WeekDay(wd - time.Monday)
}

// MondayOf returns the canonical Monday of the academic week containing d.
// A Sunday belongs to the week that started six days earlier.
func MondayOf(d model.Date) model.Date {
	offset := (int(d.Weekday()) - int(time.Monday) + 7) % 7
	return d.AddDays(-offset)
}

// Normalize folds a calendar Sunday onto the preceding Saturday. Any other
// date is returned unchanged.
func Normalize(d model.Date) model.Date {
	if d.Weekday() == time.Sunday {
		return d.AddDays(-1)
	}
	return d
}

// NextWeekday steps one academic day forward; Saturday goes to Monday.
func NextWeekday(d model.Date) model.Date {
	next := d.AddDays(1)
	if next.Weekday() == time.Sunday {
		next = next.AddDays(1)
	}
	return next
}

// PreviousWeekday steps one academic day back; Monday goes to Saturday,
// two calendar days earlier.
func PreviousWeekday(d model.Date) model.Date {
	prev := d.AddDays(-1)
	if prev.Weekday() == time.Sunday {
		prev = prev.AddDays(-1)
	}
	return prev
}

func NextWeek(d model.Date) model.Date {
	return Normalize(d.AddDays(7))
}

func PreviousWeek(d model.Date) model.Date {
	return Normalize(d.AddDays(-7))
}

// DayOf returns the calendar date of weekday wd in the week starting at monday.
func DayOf(monday model.Date, wd model.WeekDay) model.Date {
	return monday.AddDays(int(wd))
}

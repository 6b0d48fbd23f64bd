package week

import (
	"testing"
	"time"

	"timetable/internal/model"
)

func date(s string) model.Date {
	d, err := model.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestWeekdayOf(t *testing.T) {
	cases := []struct {
		date string
		want model.WeekDay
	}{
		{"2023-03-20", model.Monday},
		{"2023-03-21", model.Tuesday},
		{"2023-03-22", model.Wednesday},
		{"2023-03-23", model.Thursday},
		{"2023-03-24", model.Friday},
		{"2023-03-25", model.Saturday},
		{"2023-03-26", model.Saturday}, // Sunday folds onto Saturday
	}
	for _, tc := range cases {
		if got := WeekdayOf(date(tc.date)); got != tc.want {
			t.Errorf("WeekdayOf(%s) = %s, want %s", tc.date, got, tc.want)
		}
	}
}

func TestWeekdayOfIsTotal(t *testing.T) {
	d := date("2020-01-01")
	for i := 0; i < 3*366; i++ {
		wd := WeekdayOf(d)
		if !wd.Valid() {
			t.Fatalf("WeekdayOf(%s) = %d, not a valid weekday", d, int(wd))
		}
		d = d.AddDays(1)
	}
}

func TestMondayOf(t *testing.T) {
	want := date("2023-03-20")
	for _, s := range []string{"2023-03-20", "2023-03-22", "2023-03-25", "2023-03-26"} {
		if got := MondayOf(date(s)); got != want {
			t.Errorf("MondayOf(%s) = %s, want %s", s, got, want)
		}
	}
	if got := MondayOf(date("2023-03-27")); got != date("2023-03-27") {
		t.Errorf("MondayOf(Monday) = %s", got)
	}
}

func TestMondayOfIsIdempotent(t *testing.T) {
	d := date("2022-12-25")
	for i := 0; i < 400; i++ {
		m := MondayOf(d)
		if MondayOf(m) != m {
			t.Fatalf("MondayOf not idempotent at %s", d)
		}
		if WeekdayOf(m) != model.Monday {
			t.Fatalf("MondayOf(%s) = %s is not a Monday", d, m)
		}
		if d.Before(m) || m.AddDays(6).Before(d) {
			t.Fatalf("MondayOf(%s) = %s is not within the week", d, m)
		}
		d = d.AddDays(1)
	}
}

func TestSundaySelection(t *testing.T) {
	sunday := date("2023-03-26")
	selected := Normalize(sunday)
	if selected.Day != 25 || WeekdayOf(selected) != model.Saturday {
		t.Fatalf("Normalize(%s) = %s", sunday, selected)
	}
	monday := MondayOf(selected)
	if monday.Weekday() != time.Monday || monday != date("2023-03-20") {
		t.Errorf("MondayOf(%s) = %s", selected, monday)
	}

	prev := PreviousWeekday(selected)
	if prev != date("2023-03-24") {
		t.Errorf("PreviousWeekday(%s) = %s, want 2023-03-24", selected, prev)
	}
	if selected.Day-prev.Day != 1 || sunday.Day-prev.Day != 2 {
		t.Errorf("unexpected offsets: selected %d prev %d sunday %d", selected.Day, prev.Day, sunday.Day)
	}
}

func TestNextWeekdaySkipsSunday(t *testing.T) {
	saturday := date("2023-03-25")
	next := NextWeekday(saturday)
	if next != date("2023-03-27") || WeekdayOf(next) != model.Monday {
		t.Errorf("NextWeekday(Saturday) = %s", next)
	}
	if got := NextWeekday(date("2023-03-22")); got != date("2023-03-23") {
		t.Errorf("NextWeekday(Wednesday) = %s", got)
	}
}

func TestPreviousWeekdayFromMonday(t *testing.T) {
	monday := date("2023-03-27")
	prev := PreviousWeekday(monday)
	if monday.Day-prev.Day != 2 {
		t.Fatalf("PreviousWeekday(%s) = %s, want two days back", monday, prev)
	}
	if WeekdayOf(prev) != model.Saturday {
		t.Errorf("PreviousWeekday(Monday) weekday = %s", WeekdayOf(prev))
	}
}

func TestDayNavigationNeverLandsOnSunday(t *testing.T) {
	d := date("2023-01-02")
	for i := 0; i < 100; i++ {
		d = NextWeekday(d)
		if d.Weekday() == time.Sunday {
			t.Fatalf("NextWeekday landed on Sunday %s", d)
		}
	}
	for i := 0; i < 100; i++ {
		d = PreviousWeekday(d)
		if d.Weekday() == time.Sunday {
			t.Fatalf("PreviousWeekday landed on Sunday %s", d)
		}
	}
}

func TestWeekNavigation(t *testing.T) {
	wed := date("2023-03-22")
	if got := NextWeek(wed); got != date("2023-03-29") {
		t.Errorf("NextWeek = %s", got)
	}
	if got := PreviousWeek(wed); got != date("2023-03-15") {
		t.Errorf("PreviousWeek = %s", got)
	}
	// Year boundary.
	if got := NextWeek(date("2023-12-28")); got != date("2024-01-04") {
		t.Errorf("NextWeek across year = %s", got)
	}
	for _, wd := range model.WeekDays {
		d := DayOf(date("2023-03-20"), wd)
		if WeekdayOf(NextWeek(d)) != wd || WeekdayOf(PreviousWeek(d)) != wd {
			t.Errorf("week navigation changed weekday slot for %s", wd)
		}
	}
}

func TestDayOf(t *testing.T) {
	monday := date("2023-03-20")
	if got := DayOf(monday, model.Saturday); got != date("2023-03-25") {
		t.Errorf("DayOf(Saturday) = %s", got)
	}
}

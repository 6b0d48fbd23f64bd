package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"timetable/internal/model"
)

var testWeek = model.ScheduleWeek{
	Owner:  model.OwnerKey{Kind: model.OwnerGroup, ID: 12},
	IsOdd:  true,
	Monday: model.NewDate(2023, time.March, 20),
}

func testSchedule() model.Schedule {
	return model.Schedule{
		model.Monday: {
			{ID: 1, Start: "08:00", End: "09:35", Name: "Math", Type: "Lecture", Place: "301",
				TeacherName: "Ivanova A.", LMSURL: "https://lms.example/1", GroupNames: []string{"A-1", "A-2"}},
		},
		model.Wednesday: {
			{ID: 2, Start: "11:30", End: "13:05", Name: "Physics"},
			{ID: 3, Start: "", End: "", Name: "Consultation"},
		},
	}
}

func parse(t *testing.T, opts Options) *ical.Calendar {
	t.Helper()
	var buf bytes.Buffer
	if err := Write(&buf, testWeek, testSchedule(), opts); err != nil {
		t.Fatal(err)
	}
	cal, err := ical.ParseCalendar(strings.NewReader(buf.String()))
	if err != nil {
		t.Fatalf("parse back: %v\n%s", err, buf.String())
	}
	return cal
}

func prop(ev *ical.VEvent, p ical.ComponentProperty) string {
	if v := ev.GetProperty(p); v != nil {
		return v.Value
	}
	return ""
}

func TestCalendarEvents(t *testing.T) {
	stamp := time.Date(2023, time.March, 1, 12, 0, 0, 0, time.UTC)
	cal := parse(t, Options{Name: "A-1", Now: func() time.Time { return stamp }})

	events := cal.Events()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (lesson without times is skipped)", len(events))
	}

	math := events[0]
	start, err := math.GetStartAt()
	if err != nil {
		t.Fatal(err)
	}
	end, err := math.GetEndAt()
	if err != nil {
		t.Fatal(err)
	}
	if !start.Equal(time.Date(2023, time.March, 20, 8, 0, 0, 0, time.UTC)) ||
		!end.Equal(time.Date(2023, time.March, 20, 9, 35, 0, 0, time.UTC)) {
		t.Errorf("math runs %s - %s", start, end)
	}
	if got := prop(math, ical.ComponentPropertySummary); got != "Math (Lecture)" {
		t.Errorf("summary = %q", got)
	}
	if got := prop(math, ical.ComponentPropertyLocation); got != "301" {
		t.Errorf("location = %q", got)
	}
	if got := prop(math, ical.ComponentPropertyDescription); !strings.Contains(got, "Ivanova A.") || !strings.Contains(got, "A-2") {
		t.Errorf("description = %q", got)
	}
	if got := prop(math, ical.ComponentPropertyCategories); got != "odd week" {
		t.Errorf("categories = %q", got)
	}
	if got := prop(math, ical.ComponentPropertyRrule); got != "" {
		t.Errorf("unexpected rrule %q", got)
	}

	physicsStart, _ := events[1].GetStartAt()
	if physicsStart.Weekday() != time.Wednesday || physicsStart.Day() != 22 {
		t.Errorf("physics starts %s", physicsStart)
	}
}

func TestCalendarRotation(t *testing.T) {
	cal := parse(t, Options{Occurrences: 4})
	ev := cal.Events()[0]

	raw := prop(ev, ical.ComponentPropertyRrule)
	r, err := rrule.StrToRRule(raw)
	if err != nil {
		t.Fatalf("rrule %q: %v", raw, err)
	}
	start, _ := ev.GetStartAt()
	r.DTStart(start)

	got := r.All()
	if len(got) != 4 {
		t.Fatalf("got %d occurrences of %q", len(got), raw)
	}
	for i := 1; i < len(got); i++ {
		if d := got[i].Sub(got[i-1]); d != 14*24*time.Hour {
			t.Errorf("occurrence %d is %s after the previous one", i, d)
		}
	}
}

func TestCalendarInZone(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("no tzdata:", err)
	}
	cal := parse(t, Options{Location: loc})
	ev := cal.Events()[0]

	p := ev.GetProperty(ical.ComponentPropertyDtStart)
	if p == nil || p.Value != "20230320T080000" || len(p.ICalParameters["TZID"]) != 1 || p.ICalParameters["TZID"][0] != "Europe/Berlin" {
		t.Fatalf("DTSTART = %+v", p)
	}
	start, err := ev.GetStartAt()
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2023, time.March, 20, 8, 0, 0, 0, loc); !start.Equal(want) {
		t.Errorf("start = %s, want %s", start, want)
	}
}

func TestCalendarNeedsMonday(t *testing.T) {
	if _, err := Calendar(model.ScheduleWeek{}, model.Schedule{}, Options{}); err == nil {
		t.Error("expected error")
	}
}

func TestLessonSpanRejectsBackwardTimes(t *testing.T) {
	_, _, err := lessonSpan(testWeek.Monday, model.Lesson{Start: "10:00", End: "09:00"}, time.UTC)
	if err == nil {
		t.Error("expected error")
	}
}

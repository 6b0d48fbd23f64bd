package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDateArithmetic(t *testing.T) {
	d := NewDate(2023, time.March, 31)
	if got := d.AddDays(1); got != (Date{2023, time.April, 1}) {
		t.Errorf("AddDays(1) = %s", got)
	}
	if got := NewDate(2024, time.February, 30); got != (Date{2024, time.March, 1}) {
		t.Errorf("NewDate overflow = %s", got)
	}
	if got := d.Weekday(); got != time.Friday {
		t.Errorf("Weekday = %s, want Friday", got)
	}
	if !d.Before(d.AddDays(1)) || d.Before(d) {
		t.Error("Before is not a strict order")
	}
}

func TestDateAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 2023-03-26 02:00 is skipped in Berlin.
	late := time.Date(2023, time.March, 25, 23, 30, 0, 0, loc)
	if got := DateOf(late).AddDays(1); got.String() != "2023-03-26" {
		t.Errorf("AddDays across DST = %s", got)
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2023-03-26")
	if err != nil {
		t.Fatal(err)
	}
	if d.String() != "2023-03-26" {
		t.Errorf("String = %s", d)
	}
	if _, err := ParseDate("26.03.2023"); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("want ErrInvalidDate, got %v", err)
	}
}

func TestParseOwnerKind(t *testing.T) {
	if k, err := ParseOwnerKind(" Teacher "); err != nil || k != OwnerTeacher {
		t.Errorf("ParseOwnerKind = %q, %v", k, err)
	}
	if _, err := ParseOwnerKind("room"); !errors.Is(err, ErrUnknownOwnerKind) {
		t.Errorf("want ErrUnknownOwnerKind, got %v", err)
	}
}

func TestScheduleJSONKeys(t *testing.T) {
	s := Schedule{
		Saturday: {{ID: 2, Name: "PE"}},
		Monday:   {{ID: 1, Name: "Math", GroupNames: []string{"A-1"}}},
	}
	b, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	var back Schedule
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if len(back[Monday]) != 1 || back[Monday][0].Name != "Math" || back[Saturday][0].ID != 2 {
		t.Errorf("decoded %+v from %s", back, b)
	}
	days := s.Days()
	if len(days) != 2 || days[0] != Monday || days[1] != Saturday {
		t.Errorf("Days = %v", days)
	}
	if s.LessonCount() != 2 {
		t.Errorf("LessonCount = %d", s.LessonCount())
	}
}

func TestWithIDCopiesGroups(t *testing.T) {
	raw := RawLesson{Name: "Math", GroupNames: []string{"A-1"}}
	l := raw.WithID(7)
	raw.GroupNames[0] = "changed"
	if l.ID != 7 || l.GroupNames[0] != "A-1" {
		t.Errorf("WithID = %+v", l)
	}
}

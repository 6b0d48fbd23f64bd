// Package navigation holds the selected date of a schedule view and moves it
// by days and weeks.
package navigation

import (
	"fmt"
	"sync"

	"timetable/internal/model"
	"timetable/internal/week"
)

// State is the whole navigation state. Selected never falls on a Sunday.
type State struct {
	Selected model.Date
}

// NewState selects date, folding a Sunday onto the Saturday before it.
func NewState(date model.Date) State {
	return State{Selected: week.Normalize(date)}
}

// Op names a navigation command.
type Op int

const (
	OpSelectDate Op = iota
	OpNextDay
	OpPreviousDay
	OpNextWeek
	OpPreviousWeek
)

var opNames = map[Op]string{
	OpSelectDate:   "select-date",
	OpNextDay:      "next-day",
	OpPreviousDay:  "previous-day",
	OpNextWeek:     "next-week",
	OpPreviousWeek: "previous-week",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// ParseOp maps a command name as used in URLs ("next-day", ...) to its Op.
func ParseOp(s string) (Op, bool) {
	for op, name := range opNames {
		if name == s {
			return op, true
		}
	}
	return 0, false
}

// Command is one navigation step. Date is only read by OpSelectDate.
type Command struct {
	Op   Op
	Date model.Date
}

func SelectDate(d model.Date) Command { return Command{Op: OpSelectDate, Date: d} }

// Update applies cmd to s. Unknown commands leave s unchanged.
func Update(s State, cmd Command) State {
	switch cmd.Op {
	case OpSelectDate:
		return NewState(cmd.Date)
	case OpNextDay:
		return State{Selected: week.NextWeekday(s.Selected)}
	case OpPreviousDay:
		return State{Selected: week.PreviousWeekday(s.Selected)}
	case OpNextWeek:
		return State{Selected: week.NextWeek(s.Selected)}
	case OpPreviousWeek:
		return State{Selected: week.PreviousWeek(s.Selected)}
	}
	return s
}

// View is the projection handed to callers.
type View struct {
	MondayDate      model.Date    `json:"monday_date"`
	SelectedDate    model.Date    `json:"selected_date"`
	SelectedWeekday model.WeekDay `json:"selected_weekday"`
}

func (s State) View() View {
	return View{
		MondayDate:      week.MondayOf(s.Selected),
		SelectedDate:    s.Selected,
		SelectedWeekday: week.WeekdayOf(s.Selected),
	}
}

// Navigator is a State shared between goroutines.
type Navigator struct {
	mu    sync.Mutex
	state State
}

func NewNavigator(start model.Date) *Navigator {
	return &Navigator{state: NewState(start)}
}

// Apply runs cmd against the current state and returns the resulting view.
func (n *Navigator) Apply(cmd Command) View {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state = Update(n.state, cmd)
	return n.state.View()
}

func (n *Navigator) SelectDate(d model.Date) View { return n.Apply(SelectDate(d)) }
func (n *Navigator) SelectNextDay() View          { return n.Apply(Command{Op: OpNextDay}) }
func (n *Navigator) SelectPreviousDay() View      { return n.Apply(Command{Op: OpPreviousDay}) }
func (n *Navigator) SelectNextWeek() View         { return n.Apply(Command{Op: OpNextWeek}) }
func (n *Navigator) SelectPreviousWeek() View     { return n.Apply(Command{Op: OpPreviousWeek}) }

func (n *Navigator) View() View {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.View()
}

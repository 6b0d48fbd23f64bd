package web

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"

	"timetable/internal/export"
	"timetable/internal/identity"
	appLog "timetable/internal/log"
	"timetable/internal/model"
	"timetable/internal/navigation"
	"timetable/internal/schedule"
	"timetable/internal/store"
	"timetable/internal/week"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func (s *Server) handleNavigation(c *gin.Context) {
	writeData(c, http.StatusOK, s.nav.View())
}

type selectDateRequest struct {
	Date string `json:"date"`
}

func (s *Server) handleSelectDate(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	var req selectDateRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		writeError(c, http.StatusBadRequest, "body must be {\"date\": \"YYYY-MM-DD\"}")
		return
	}
	d, err := model.ParseDate(req.Date)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	writeData(c, http.StatusOK, s.nav.SelectDate(d))
}

func (s *Server) handleStep(op navigation.Op) gin.HandlerFunc {
	return func(c *gin.Context) {
		writeData(c, http.StatusOK, s.nav.Apply(navigation.Command{Op: op}))
	}
}

type dayResponse struct {
	WeekDay model.WeekDay  `json:"weekday"`
	Date    model.Date     `json:"date"`
	Lessons []model.Lesson `json:"lessons"`
}

type scheduleResponse struct {
	Owner      model.OwnerKey  `json:"owner"`
	Found      bool            `json:"found"`
	IsOdd      *bool           `json:"is_odd"`
	MondayDate *model.Date     `json:"monday_date"`
	Stale      bool            `json:"stale"`
	Source     schedule.Source `json:"source"`
	Days       []dayResponse   `json:"days"`
}

func newScheduleResponse(res schedule.Result) scheduleResponse {
	out := scheduleResponse{
		Owner:  res.Owner,
		Found:  res.Found,
		Stale:  res.Stale,
		Source: res.Source,
		Days:   make([]dayResponse, 0, len(res.Schedule)),
	}
	if !res.Found {
		return out
	}
	isOdd, monday := res.IsOdd, res.Monday
	out.IsOdd = &isOdd
	out.MondayDate = &monday
	for _, wd := range res.Schedule.Days() {
		lessons := res.Schedule[wd]
		if lessons == nil {
			lessons = []model.Lesson{}
		}
		out.Days = append(out.Days, dayResponse{
			WeekDay: wd,
			Date:    week.DayOf(monday, wd),
			Lessons: lessons,
		})
	}
	return out
}

// handleSchedule answers GET /api/schedule/:kind/:id for the navigated
// date, or for ?date=YYYY-MM-DD. ?refresh=true skips the cache.
func (s *Server) handleSchedule(c *gin.Context) {
	res, ok := s.loadSchedule(c)
	if !ok {
		return
	}
	writeData(c, http.StatusOK, newScheduleResponse(res))
}

// handleCalendar serves the owner's week as text/calendar.
func (s *Server) handleCalendar(c *gin.Context) {
	res, ok := s.loadSchedule(c)
	if !ok {
		return
	}
	if !res.Found {
		writeError(c, http.StatusNotFound, "no schedule cached for "+res.Owner.String())
		return
	}

	wk := model.ScheduleWeek{Owner: res.Owner, IsOdd: res.IsOdd, Monday: res.Monday}
	var buf bytes.Buffer
	err := export.Write(&buf, wk, res.Schedule, export.Options{
		Location:    s.opts.Location,
		Occurrences: s.opts.ExportWeeks,
		Name:        "Timetable " + res.Owner.String(),
	})
	if err != nil {
		appLog.Error("calendar export failed", err, "owner", res.Owner)
		writeError(c, http.StatusInternalServerError, "calendar export failed")
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+string(res.Owner.Kind)+"-"+strconv.FormatInt(res.Owner.ID, 10)+`.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", buf.Bytes())
}

func (s *Server) loadSchedule(c *gin.Context) (schedule.Result, bool) {
	owner, ok := ownerParam(c)
	if !ok {
		return schedule.Result{}, false
	}

	date := s.nav.View().SelectedDate
	if raw := c.Query("date"); raw != "" {
		d, err := model.ParseDate(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, err.Error())
			return schedule.Result{}, false
		}
		date = d
	}
	force, _ := strconv.ParseBool(c.DefaultQuery("refresh", "false"))

	res, err := s.schedules.Refresh(c.Request.Context(), owner, date, force)
	if err != nil {
		appLog.Error("schedule request failed", err, "owner", owner, "date", date)
		writeError(c, statusOf(err), err.Error())
		return schedule.Result{}, false
	}
	return res, true
}

func (s *Server) handleListOwners(c *gin.Context) {
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	list, err := s.owners.List(c.Request.Context(), kind)
	if err != nil {
		appLog.Error("list owners failed", err, "kind", kind)
		writeError(c, statusOf(err), err.Error())
		return
	}
	writeData(c, http.StatusOK, list)
}

func (s *Server) handleSyncOwners(c *gin.Context) {
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	n, err := s.owners.Sync(c.Request.Context(), kind)
	if err != nil {
		appLog.Error("owner sync failed", err, "kind", kind)
		status := statusOf(err)
		if status == http.StatusInternalServerError {
			// The directory page is the only other thing that can fail.
			status = http.StatusBadGateway
		}
		writeError(c, status, err.Error())
		return
	}
	writeData(c, http.StatusOK, gin.H{"kind": kind, "count": n})
}

func (s *Server) handlePicked(c *gin.Context) {
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	o, found, err := s.owners.Picked(c.Request.Context(), kind)
	if err != nil {
		appLog.Error("picked owner lookup failed", err, "kind", kind)
		writeError(c, statusOf(err), err.Error())
		return
	}
	if !found {
		writeError(c, http.StatusNotFound, "no "+string(kind)+" picked")
		return
	}
	writeData(c, http.StatusOK, o)
}

type pickRequest struct {
	ID int64 `json:"id"`
}

func (s *Server) handlePick(c *gin.Context) {
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	var req pickRequest
	if err := sonic.Unmarshal(body, &req); err != nil || req.ID <= 0 {
		writeError(c, http.StatusBadRequest, "body must be {\"id\": <owner id>}")
		return
	}
	o, err := s.owners.Pick(c.Request.Context(), model.OwnerKey{Kind: kind, ID: req.ID})
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			appLog.Error("pick owner failed", err, "kind", kind, "id", req.ID)
		}
		writeError(c, statusOf(err), err.Error())
		return
	}
	writeData(c, http.StatusOK, o)
}

func kindParam(c *gin.Context) (model.OwnerKind, bool) {
	kind, err := model.ParseOwnerKind(c.Param("kind"))
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return "", false
	}
	return kind, true
}

func ownerParam(c *gin.Context) (model.OwnerKey, bool) {
	kind, ok := kindParam(c)
	if !ok {
		return model.OwnerKey{}, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, http.StatusBadRequest, "owner id must be a positive integer")
		return model.OwnerKey{}, false
	}
	return model.OwnerKey{Kind: kind, ID: id}, true
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrUnknownOwnerKind), errors.Is(err, model.ErrInvalidDate),
		errors.Is(err, identity.ErrOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, schedule.ErrCacheUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, schedule.ErrRemoteUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Package web exposes navigation, schedules, owners and the calendar export
// over HTTP.
package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"timetable/internal/config"
	appLog "timetable/internal/log"
	"timetable/internal/model"
	"timetable/internal/navigation"
	"timetable/internal/schedule"
)

// Schedules answers schedule requests, refreshing when needed.
type Schedules interface {
	Refresh(ctx context.Context, owner model.OwnerKey, date model.Date, force bool) (schedule.Result, error)
}

// Owners is the owner directory use-case.
type Owners interface {
	Sync(ctx context.Context, kind model.OwnerKind) (int, error)
	List(ctx context.Context, kind model.OwnerKind) ([]model.Owner, error)
	Pick(ctx context.Context, owner model.OwnerKey) (model.Owner, error)
	Picked(ctx context.Context, kind model.OwnerKind) (model.Owner, bool, error)
}

// Options configures a Server.
type Options struct {
	// BasicAuth, when set with both fields non-empty, protects every route
	// but /health.
	BasicAuth *config.BasicAuthConfig
	// Location lesson times are exported in. Nil means UTC.
	Location *time.Location
	// ExportWeeks is how many times each lesson repeats in calendar.ics.
	ExportWeeks int
}

// Server provides the HTTP API.
type Server struct {
	nav       *navigation.Navigator
	schedules Schedules
	owners    Owners
	opts      Options
	router    *gin.Engine
}

// NewServer constructs a new Server.
func NewServer(nav *navigation.Navigator, schedules Schedules, owners Owners, opts Options) *Server {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	s := &Server{
		nav:       nav,
		schedules: schedules,
		owners:    owners,
		opts:      opts,
		router:    gin.New(),
	}
	s.router.Use(gin.Recovery(), requestIDMiddleware(), logMiddleware())
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled")
		s.router.Use(s.basicAuthMiddleware())
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")

	nav := api.Group("/navigation")
	{
		nav.GET("", s.handleNavigation)
		nav.POST("/date", s.handleSelectDate)
		for _, op := range []navigation.Op{
			navigation.OpNextDay,
			navigation.OpPreviousDay,
			navigation.OpNextWeek,
			navigation.OpPreviousWeek,
		} {
			nav.POST("/"+op.String(), s.handleStep(op))
		}
	}

	sched := api.Group("/schedule/:kind/:id")
	{
		sched.GET("", s.handleSchedule)
		sched.GET("/calendar.ics", s.handleCalendar)
	}

	owners := api.Group("/owners/:kind")
	{
		owners.GET("", s.handleListOwners)
		owners.POST("/sync", s.handleSyncOwners)
		owners.GET("/picked", s.handlePicked)
		owners.PUT("/picked", s.handlePick)
	}
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	a := s.opts.BasicAuth
	return a != nil && a.Username != "" && a.Password != ""
}

// basicAuthMiddleware guards all routes except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware() gin.HandlerFunc {
	username := s.opts.BasicAuth.Username
	password := s.opts.BasicAuth.Password

	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}
		u, p, ok := c.Request.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			c.Header("WWW-Authenticate", `Basic realm="Timetable", charset="UTF-8"`)
			abortWithError(c, http.StatusUnauthorized, "unauthorized")
			return
		}
		c.Next()
	}
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"icalbot/internal/bot"
	"icalbot/internal/config"
	appLog "icalbot/internal/log"
	"icalbot/internal/membership"
	"icalbot/internal/model"
	"icalbot/internal/scheduler"
)

// UpcomingSource answers event queries; *bot.Responder implements it.
type UpcomingSource interface {
	Upcoming(ctx context.Context, limit int, maxTime string) ([]model.CalendarEvent, error)
}

// JobLister reports reminder jobs; *scheduler.Scheduler implements it.
type JobLister interface {
	Jobs() []scheduler.JobStatus
}

// JoinLister reports outstanding room joins; *membership.Manager
// implements it.
type JoinLister interface {
	Pending() []membership.PendingJoin
}

// Server is the read-only status API:
//
//	GET /health          liveness, never authenticated
//	GET /api/upcoming    upcoming events (?limit=N&until=TS)
//	GET /api/reminders   scheduler jobs
//	GET /api/joins       pending room joins
type Server struct {
	cfg      config.WebConfig
	e        *echo.Echo
	upcoming UpcomingSource
	jobs     JobLister
	joins    JoinLister
}

// NewServer constructs a new Server.
func NewServer(cfg config.WebConfig, upcoming UpcomingSource, jobs JobLister, joins JoinLister) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{cfg: cfg, e: e, upcoming: upcoming, jobs: jobs, joins: joins}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			appLog.Debug("http request",
				"request_id", v.RequestID,
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency.String(),
			)
			return nil
		},
	}))
	if s.basicAuthEnabled() {
		e.Use(middleware.BasicAuthWithConfig(middleware.BasicAuthConfig{
			Skipper: func(c echo.Context) bool { return c.Path() == "/health" },
			Realm:   "icalbot",
			Validator: func(u, p string, _ echo.Context) (bool, error) {
				return secureCompare(u, cfg.BasicAuth.Username) && secureCompare(p, cfg.BasicAuth.Password), nil
			},
		}))
	}

	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.e
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	a := s.cfg.BasicAuth
	return a != nil && a.Username != "" && a.Password != ""
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen, "basic_auth", s.basicAuthEnabled())
		errCh <- s.e.Start(s.cfg.Listen)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.e.Shutdown(shutdownCtx); err != nil {
			return err
		}
		appLog.Info("HTTP server stopped")
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.e.GET("/health", s.handleHealth)
	s.e.GET("/api/upcoming", s.handleUpcoming)
	s.e.GET("/api/reminders", s.handleReminders)
	s.e.GET("/api/joins", s.handleJoins)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

type upcomingResponse struct {
	Events []model.CalendarEvent `json:"events"`
	Count  int                   `json:"count"`
}

// GET /api/upcoming?limit=5&until=20251231T235959Z
//   - limit: maximum number of events (default: no limit)
//   - until: inclusive upper bound, canonical or RFC 3339
func (s *Server) handleUpcoming(c echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return writeError(c, http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}

	until, err := model.ParseBound(c.QueryParam("until"))
	if err != nil {
		return writeError(c, http.StatusBadRequest, "until: "+err.Error())
	}

	evts, err := s.upcoming.Upcoming(c.Request().Context(), limit, until)
	switch {
	case errors.Is(err, bot.ErrNoFeed):
		return writeError(c, http.StatusServiceUnavailable, bot.NoFeedMessage)
	case err != nil:
		appLog.Error("api upcoming: calendar unavailable", err)
		return writeError(c, http.StatusBadGateway, bot.FeedErrorMessage)
	}
	return c.JSON(http.StatusOK, upcomingResponse{Events: evts, Count: len(evts)})
}

func (s *Server) handleReminders(c echo.Context) error {
	if s.jobs == nil {
		return c.JSON(http.StatusOK, []scheduler.JobStatus{})
	}
	return c.JSON(http.StatusOK, s.jobs.Jobs())
}

type joinDTO struct {
	Room     string    `json:"room"`
	State    string    `json:"state"`
	Attempts int       `json:"attempts"`
	NextAt   time.Time `json:"next_at,omitzero"`
}

func (s *Server) handleJoins(c echo.Context) error {
	out := []joinDTO{}
	if s.joins != nil {
		for _, p := range s.joins.Pending() {
			out = append(out, joinDTO{Room: p.Room, State: p.State.String(), Attempts: p.Attempts, NextAt: p.NextAt})
		}
	}
	return c.JSON(http.StatusOK, out)
}

func writeError(c echo.Context, status int, msg string) error {
	type errResp struct {
		Error string `json:"error"`
	}
	return c.JSON(status, errResp{Error: msg})
}

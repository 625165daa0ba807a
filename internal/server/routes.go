package server

import (
	"net/http"
	"time"

	"github.com/berfenger/hems2mqtt/internal/core/domain"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const requestTimeout = 10 * time.Second

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)

	api := e.Group("/api")
	api.GET("/plan", s.PlanHandler)
	api.GET("/surplus", s.SurplusHandler)
	api.POST("/replan", s.ReplanHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, requestTimeout).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

type planView struct {
	Applied float64                `json:"applied_setpoint"`
	Result  *domain.SetpointResult `json:"result"`
}

func (s *Server) PlanHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetPlanRequest{}, requestTimeout).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	response, ok := res.(domain.GetPlanResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "unexpected response")
	}
	if response.Result == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no plan computed yet")
	}
	return c.JSON(http.StatusOK, planView{Applied: response.Applied, Result: response.Result})
}

func (s *Server) SurplusHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetSurplusRequest{}, requestTimeout).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	response, ok := res.(domain.GetSurplusResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "unexpected response")
	}
	if response.Forecast == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no surplus forecast computed yet")
	}
	return c.JSON(http.StatusOK, response.Forecast)
}

// ReplanHandler queues a planner run. The result is published like a scheduled one.
func (s *Server) ReplanHandler(c echo.Context) error {
	s.rootContext.Send(s.masterActor, domain.ReplanRequest{Reason: "http"})
	return c.NoContent(http.StatusAccepted)
}

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/samcharles93/drift/internal/runstore"
	"github.com/samcharles93/drift/internal/schedule"
)

// Server exposes the sampling service over HTTP.
type Server struct {
	service *SampleService
	limiter *rate.Limiter
}

func NewServer(service *SampleService) *Server {
	return &Server{service: service}
}

// SetRateLimit bounds how many sampling runs may start per second. Zero or
// negative disables the limit.
func (s *Server) SetRateLimit(perSecond float64, burst int) {
	if perSecond <= 0 {
		s.limiter = nil
		return
	}
	if burst < 1 {
		burst = 1
	}
	s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/samples", s.handleCreateSample)
	e.GET("/v1/samples", s.handleListSamples)
	e.GET("/v1/samples/:id", s.handleGetSample)
	e.GET("/v1/schedule", s.handleSchedule)
	e.GET("/v1/adapters", s.handleListAdapters)
}

func (s *Server) handleCreateSample(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "sampling service not configured", "", "")
	}
	if s.limiter != nil && !s.limiter.Allow() {
		return writeError(c, http.StatusTooManyRequests, "rate_limit_error", "sampling rate limit exceeded", "", "")
	}
	req, err := decodeJSON[SampleRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Adapter == "" {
		return writeBadRequest(c, "adapter is required")
	}

	var writer *SSEStepWriter
	var stream StepWriter
	if req.Stream != nil && *req.Stream {
		w, err := NewSSEStepWriter(c)
		if err != nil {
			return writeBadRequest(c, err.Error())
		}
		writer = w
		stream = w
	}

	resp, err := s.service.CreateSample(c.Request().Context(), &req, stream)
	if err != nil {
		if writer != nil && writer.Started() {
			return nil
		}
		if errors.Is(err, ErrInvalidRequest) {
			return writeBadRequest(c, err.Error())
		}
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}
	if writer != nil {
		return nil
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetSample(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return writeNotFound(c, "sample not found")
	}
	resp, err := s.service.GetSample(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, runstore.ErrNotFound) {
			return writeNotFound(c, "sample not found")
		}
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListSamples(c *echo.Context) error {
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return writeBadRequest(c, "limit must be a positive integer")
		}
		if n > 100 {
			n = 100
		}
		limit = n
	}
	resps, err := s.service.ListSamples(c.Request().Context(), limit)
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}
	return c.JSON(http.StatusOK, SampleList{
		Object:  "list",
		Data:    resps,
		HasMore: len(resps) == limit,
	})
}

// handleSchedule previews the noise levels a run would visit without running
// anything, mirroring the sampler's schedule construction. kind=power
// previews the log-linear generator instead.
func (s *Server) handleSchedule(c *echo.Context) error {
	steps, err := queryInt(c, "steps", 18)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	sigmaMax, err := queryFloat(c, "sigma_max", 80)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	sigmaMin, err := queryFloat(c, "sigma_min", 0.002)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	rho, err := queryFloat(c, "rho", schedule.DefaultRho)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	resp := ScheduleResponse{
		Kind:     "karras",
		Steps:    steps,
		SigmaMax: sigmaMax,
		SigmaMin: sigmaMin,
		Rho:      rho,
	}
	switch kind := c.QueryParam("kind"); kind {
	case "", "karras":
		if steps == 1 {
			if sigmaMax <= 0 {
				return writeBadRequest(c, "sigma_max must be positive")
			}
			resp.Sigmas = []float64{sigmaMax}
		} else {
			resp.Sigmas, err = schedule.Karras(rho, steps, sigmaMax, sigmaMin)
			if err != nil {
				return writeBadRequest(c, err.Error())
			}
		}
		resp.Sigmas = append(resp.Sigmas, 0)
	case "power":
		resp.Kind = "power"
		resp.Rho = 0
		resp.Sigmas, err = schedule.Power(sigmaMax, sigmaMin, steps)
		if err != nil {
			return writeBadRequest(c, err.Error())
		}
	default:
		return writeBadRequest(c, fmt.Sprintf("unknown schedule kind %q", kind))
	}

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListAdapters(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"object": "list",
		"data":   s.service.Adapters(),
	})
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": SampleError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

func queryInt(c *echo.Context, name string, def int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func queryFloat(c *echo.Context, name string, def float64) (float64, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	return f, nil
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/samcharles93/zeroshot/internal/logger"
	"github.com/samcharles93/zeroshot/internal/metrics"
)

type Server struct {
	service *ClassifyService
	metrics http.Handler
	clock   func() time.Time
}

// NewServer wires the classification service. A nil gatherer leaves
// /metrics unregistered.
func NewServer(service *ClassifyService, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		service: service,
		clock:   time.Now,
	}
	if gatherer != nil {
		s.metrics = metrics.Handler(gatherer)
	}
	return s
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/classify", s.handleClassify)
	e.GET("/v1/models", s.handleListModels)
	e.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		e.GET("/metrics", s.handleMetrics)
	}
}

func (s *Server) handleClassify(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "classification service not configured", "", "")
	}
	req, err := decodeJSON[ClassifyRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	served, results, err := s.service.Classify(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			return writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error(), errorParam(err), "")
		}
		logger.FromContext(c.Request().Context()).Error("classification failed", "model", served, "error", err)
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}

	return c.JSON(http.StatusOK, ClassifyResponse{
		ID:      "cls-" + uuid.NewString(),
		Object:  "classification",
		Created: s.clock().Unix(),
		Model:   served,
		Results: results,
	})
}

func (s *Server) handleListModels(c *echo.Context) error {
	data := []ModelInfo{}
	if s.service != nil && s.service.provider != nil {
		if provider, ok := s.service.provider.(interface {
			ListModels() ([]ModelInfo, error)
		}); ok {
			discovered, err := provider.ListModels()
			if err != nil {
				return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
			}
			data = append(data, discovered...)
		}
	}
	return c.JSON(http.StatusOK, ModelList{Object: "list", Data: data})
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(c *echo.Context) error {
	s.metrics.ServeHTTP(c.Response(), c.Request())
	return nil
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

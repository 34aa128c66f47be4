package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/warden/internal/healthcheck"
)

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status string                    `json:"status"`
	Checks []healthcheck.CheckResult `json:"checks"`
}

// HealthHandler runs the registered runtime checks.
type HealthHandler struct {
	logger   *slog.Logger
	checkers []healthcheck.Checker
}

func NewHealthHandler(log *slog.Logger, checkers ...healthcheck.Checker) *HealthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HealthHandler{
		logger:   log.With(slog.String("handler", "health")),
		checkers: checkers,
	}
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/api/health", h.GetHealth)
}

// GetHealth answers 503 when any check reports an error.
func (h *HealthHandler) GetHealth(c echo.Context) error {
	checks, overall := healthcheck.Run(c.Request().Context(), h.checkers...)
	code := http.StatusOK
	if overall == healthcheck.StatusError {
		code = http.StatusServiceUnavailable
		h.logger.Warn("health check failed", slog.Int("checks", len(checks)))
	}
	return c.JSON(code, HealthResponse{Status: overall, Checks: checks})
}

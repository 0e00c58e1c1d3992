package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	apierrors "github.com/boxpress/boxpress/pkg/api/errors"
	"github.com/boxpress/boxpress/pkg/campaign"
)

// RunnerHandler exposes the campaign runner controls.
type RunnerHandler struct {
	service *campaign.Service
}

// NewRunnerHandler creates a new runner handler.
func NewRunnerHandler(service *campaign.Service) *RunnerHandler {
	return &RunnerHandler{service: service}
}

// TriggerRun godoc
// @Summary Trigger a runner pass
// @Description Run one pass over due campaigns immediately instead of waiting for the next scheduled tick
// @Tags Runner
// @Produce json
// @Success 200 {object} models.RunReport
// @Failure 500 {object} models.ErrorResponse
// @Router /api/v1/runner/run [post]
func (h *RunnerHandler) TriggerRun(c echo.Context) error {
	// Manual passes can drain a large campaign, give them room
	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Minute)
	defer cancel()

	report, err := h.service.RunOnce(ctx)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}

	return c.JSON(http.StatusOK, report)
}

// GetStatus godoc
// @Summary Get runner status
// @Description Report whether a pass is in flight and the outcome of the last one
// @Tags Runner
// @Produce json
// @Success 200 {object} models.RunnerStatus
// @Router /api/v1/runner/status [get]
func (h *RunnerHandler) GetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.GetRunnerStatus())
}

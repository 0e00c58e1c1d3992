package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	apierrors "github.com/boxpress/boxpress/pkg/api/errors"
	"github.com/boxpress/boxpress/pkg/campaign"
	"github.com/boxpress/boxpress/pkg/models"
)

// CampaignHandler handles campaign-related HTTP requests.
type CampaignHandler struct {
	service *campaign.Service
}

// NewCampaignHandler creates a new campaign handler.
func NewCampaignHandler(service *campaign.Service) *CampaignHandler {
	return &CampaignHandler{service: service}
}

// CreateCampaign godoc
// @Summary Create a new campaign
// @Description Create a draft campaign with a template, subject and recipient filter
// @Tags Campaigns
// @Accept json
// @Produce json
// @Param request body models.CreateCampaignRequest true "Campaign details"
// @Success 201 {object} models.Campaign
// @Failure 400 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /api/v1/campaigns [post]
func (h *CampaignHandler) CreateCampaign(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	var req models.CreateCampaignRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, "Invalid request body")
	}

	created, err := h.service.CreateCampaign(ctx, req)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}

	return c.JSON(http.StatusCreated, created)
}

// GetCampaign godoc
// @Summary Get a campaign
// @Description Get a campaign by ID
// @Tags Campaigns
// @Produce json
// @Param id path int true "Campaign ID"
// @Success 200 {object} models.Campaign
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /api/v1/campaigns/{id} [get]
func (h *CampaignHandler) GetCampaign(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	id, err := campaignID(c)
	if err != nil {
		return apierrors.ValidationError(c, "Invalid campaign ID")
	}

	found, err := h.service.GetCampaign(ctx, id)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}

	return c.JSON(http.StatusOK, found)
}

// GetCampaignStats godoc
// @Summary Get campaign send statistics
// @Description Get the per-status send aggregate for a campaign
// @Tags Campaigns
// @Produce json
// @Param id path int true "Campaign ID"
// @Success 200 {object} models.CampaignStats
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /api/v1/campaigns/{id}/stats [get]
func (h *CampaignHandler) GetCampaignStats(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	id, err := campaignID(c)
	if err != nil {
		return apierrors.ValidationError(c, "Invalid campaign ID")
	}

	stats, err := h.service.GetCampaignStats(ctx, id)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}

	return c.JSON(http.StatusOK, stats)
}

// StartCampaign godoc
// @Summary Start a campaign
// @Description Commit a draft campaign for sending; a filter matching no recipients completes it immediately
// @Tags Campaigns
// @Produce json
// @Param id path int true "Campaign ID"
// @Success 200 {object} models.Campaign
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /api/v1/campaigns/{id}/start [post]
func (h *CampaignHandler) StartCampaign(c echo.Context) error {
	return h.command(c, h.service.StartCampaign)
}

// PauseCampaign godoc
// @Summary Pause a sending campaign
// @Tags Campaigns
// @Produce json
// @Param id path int true "Campaign ID"
// @Success 200 {object} models.Campaign
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /api/v1/campaigns/{id}/pause [post]
func (h *CampaignHandler) PauseCampaign(c echo.Context) error {
	return h.command(c, h.service.PauseCampaign)
}

// ResumeCampaign godoc
// @Summary Resume a paused campaign
// @Tags Campaigns
// @Produce json
// @Param id path int true "Campaign ID"
// @Success 200 {object} models.Campaign
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /api/v1/campaigns/{id}/resume [post]
func (h *CampaignHandler) ResumeCampaign(c echo.Context) error {
	return h.command(c, h.service.ResumeCampaign)
}

// CancelCampaign godoc
// @Summary Cancel a campaign
// @Tags Campaigns
// @Produce json
// @Param id path int true "Campaign ID"
// @Success 200 {object} models.Campaign
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /api/v1/campaigns/{id}/cancel [post]
func (h *CampaignHandler) CancelCampaign(c echo.Context) error {
	return h.command(c, h.service.CancelCampaign)
}

// CreateFollowUp godoc
// @Summary Create a follow-up campaign
// @Description Create a follow-up campaign targeting recipients of the parent who were sent to but did not convert
// @Tags Campaigns
// @Accept json
// @Produce json
// @Param id path int true "Parent campaign ID"
// @Param request body models.FollowUpOptions true "Follow-up details"
// @Success 201 {object} models.Campaign
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /api/v1/campaigns/{id}/follow-up [post]
func (h *CampaignHandler) CreateFollowUp(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	id, err := campaignID(c)
	if err != nil {
		return apierrors.ValidationError(c, "Invalid campaign ID")
	}

	var opts models.FollowUpOptions
	if err := c.Bind(&opts); err != nil {
		return apierrors.ValidationError(c, "Invalid request body")
	}

	followUp, err := h.service.CreateFollowUp(ctx, id, opts)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}

	return c.JSON(http.StatusCreated, followUp)
}

func (h *CampaignHandler) command(c echo.Context, fn func(context.Context, int) (*models.Campaign, error)) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	id, err := campaignID(c)
	if err != nil {
		return apierrors.ValidationError(c, "Invalid campaign ID")
	}

	updated, err := fn(ctx, id)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}

	return c.JSON(http.StatusOK, updated)
}

func campaignID(c echo.Context) (int, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return 0, echo.ErrBadRequest
	}
	return id, nil
}

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"mailwarm/internal/model"
	"mailwarm/internal/repository"
)

type CampaignHandler struct {
	campaigns *repository.CampaignRepository
	logs      *repository.EngagementLogRepository
	logger    *zap.Logger
}

func NewCampaignHandler(campaigns *repository.CampaignRepository, logs *repository.EngagementLogRepository, logger *zap.Logger) *CampaignHandler {
	return &CampaignHandler{
		campaigns: campaigns,
		logs:      logs,
		logger:    logger,
	}
}

type campaignRequest struct {
	SenderEmail     string  `json:"sender_email" binding:"required,email"`
	PoolSize        int     `json:"pool_size" binding:"required,min=1"`
	OpenRate        float64 `json:"open_rate" binding:"min=0,max=1"`
	ClickRate       float64 `json:"click_rate" binding:"min=0,max=1"`
	ReplyRate       float64 `json:"reply_rate" binding:"min=0,max=1"`
	MoveToInboxRate float64 `json:"move_to_inbox_rate" binding:"min=0,max=1"`
}

// Create handles POST /campaigns
func (h *CampaignHandler) Create(c *gin.Context) {
	var req campaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	campaign := &model.Campaign{
		ClientID:        clientID(c),
		SenderEmail:     req.SenderEmail,
		PoolSize:        req.PoolSize,
		OpenRate:        req.OpenRate,
		ClickRate:       req.ClickRate,
		ReplyRate:       req.ReplyRate,
		MoveToInboxRate: req.MoveToInboxRate,
		Status:          model.CampaignStatusActive,
	}
	if err := h.campaigns.Create(c.Request.Context(), campaign); err != nil {
		h.logger.Error("Failed to create campaign", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create campaign"})
		return
	}

	c.JSON(http.StatusCreated, campaign)
}

// List handles GET /campaigns
func (h *CampaignHandler) List(c *gin.Context) {
	campaigns, err := h.campaigns.ListByClient(c.Request.Context(), clientID(c))
	if err != nil {
		h.logger.Error("Failed to list campaigns", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list campaigns"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": campaigns})
}

// loadOwned fetches a campaign and checks the caller owns it.
func (h *CampaignHandler) loadOwned(c *gin.Context) *model.Campaign {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid campaign id"})
		return nil
	}

	campaign, err := h.campaigns.FindByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		}
		return nil
	}
	if campaign.ClientID != clientID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return nil
	}
	return campaign
}

// Get handles GET /campaigns/:id with aggregate engagement counts.
func (h *CampaignHandler) Get(c *gin.Context) {
	campaign := h.loadOwned(c)
	if campaign == nil {
		return
	}

	counts, err := h.logs.CountByStatus(c.Request.Context(), campaign.ID)
	if err != nil {
		h.logger.Error("Failed to count engagement logs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"campaign": campaign,
		"stats":    counts,
	})
}

// UpdateStatus handles PATCH /campaigns/:id/status
func (h *CampaignHandler) UpdateStatus(c *gin.Context) {
	campaign := h.loadOwned(c)
	if campaign == nil {
		return
	}

	var req struct {
		Status string `json:"status" binding:"required,oneof=active paused completed"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	if err := h.campaigns.UpdateStatus(c.Request.Context(), campaign.ID, req.Status); err != nil {
		h.logger.Error("Failed to update campaign status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": campaign.ID, "status": req.Status})
}

// UpdateSettings handles PUT /campaigns/:id/settings
func (h *CampaignHandler) UpdateSettings(c *gin.Context) {
	campaign := h.loadOwned(c)
	if campaign == nil {
		return
	}

	var req campaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	campaign.PoolSize = req.PoolSize
	campaign.OpenRate = req.OpenRate
	campaign.ClickRate = req.ClickRate
	campaign.ReplyRate = req.ReplyRate
	campaign.MoveToInboxRate = req.MoveToInboxRate

	if err := h.campaigns.UpdateSettings(c.Request.Context(), campaign); err != nil {
		h.logger.Error("Failed to update campaign settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update settings"})
		return
	}

	c.JSON(http.StatusOK, campaign)
}

// Report handles GET /campaigns/:id/report with per-action aggregates.
func (h *CampaignHandler) Report(c *gin.Context) {
	campaign := h.loadOwned(c)
	if campaign == nil {
		return
	}

	byAction, err := h.logs.CountByAction(c.Request.Context(), campaign.ID)
	if err != nil {
		h.logger.Error("Failed to build report", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build report"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"campaign_id": campaign.ID,
		"actions":     byAction,
	})
}

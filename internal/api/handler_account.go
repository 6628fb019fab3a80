package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailwarm/internal/model"
	"mailwarm/internal/provider"
	"mailwarm/internal/repository"
	"mailwarm/internal/secrets"
)

type AccountHandler struct {
	accounts *repository.PoolAccountRepository
	box      *secrets.Box
	logger   *zap.Logger
}

func NewAccountHandler(accounts *repository.PoolAccountRepository, box *secrets.Box, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		box:      box,
		logger:   logger,
	}
}

// Create handles POST /accounts. The OAuth tokens are sealed before they
// touch the store; the blob stays opaque to everything downstream except the
// executor.
func (h *AccountHandler) Create(c *gin.Context) {
	var req struct {
		Email        string `json:"email" binding:"required,email"`
		AccessToken  string `json:"access_token" binding:"required"`
		RefreshToken string `json:"refresh_token" binding:"required"`
		ExpiresIn    int    `json:"expires_in" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	cred := provider.Credential{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		Expiry:       time.Now().Add(time.Duration(req.ExpiresIn) * time.Second),
	}
	plaintext, err := json.Marshal(cred)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode credential"})
		return
	}
	sealed, err := h.box.Seal(plaintext)
	if err != nil {
		h.logger.Error("Failed to seal credential", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to seal credential"})
		return
	}

	account := &model.PoolAccount{
		Email:      req.Email,
		Credential: sealed,
		Status:     model.AccountStatusActive,
	}
	if err := h.accounts.Create(c.Request.Context(), account); err != nil {
		h.logger.Error("Failed to create pool account", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": account.ID, "email": account.Email, "status": account.Status})
}

// UpdateStatus handles PATCH /accounts/:id/status for operator intervention
// (disable, re-enable after reauth).
func (h *AccountHandler) UpdateStatus(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}

	var req struct {
		Status string `json:"status" binding:"required,oneof=active needs_reauth disabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	if err := h.accounts.UpdateStatus(c.Request.Context(), id, req.Status); err != nil {
		h.logger.Error("Failed to update account status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "status": req.Status})
}

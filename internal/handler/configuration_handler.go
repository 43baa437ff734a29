package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academic-records-api/internal/dto"
	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
	"github.com/noah-isme/academic-records-api/pkg/response"
)

type academicSettingsService interface {
	List(ctx context.Context) ([]dto.ConfigurationItem, error)
	Get(ctx context.Context, key string) (*dto.ConfigurationItem, error)
	View(ctx context.Context) (*models.SystemConfigurationView, error)
	Update(ctx context.Context, key, value string, actor *models.JWTClaims) (*dto.ConfigurationItem, error)
	BulkUpdate(ctx context.Context, req dto.BulkUpdateConfigurationRequest, actor *models.JWTClaims) ([]dto.ConfigurationItem, error)
}

// ConfigurationHandler serves the academic rules: passing grade, minimum
// attendance, withdrawal window, section load and ranking size.
type ConfigurationHandler struct {
	settings academicSettingsService
}

// NewConfigurationHandler wires the academic settings endpoints.
func NewConfigurationHandler(settings academicSettingsService) *ConfigurationHandler {
	return &ConfigurationHandler{settings: settings}
}

// View godoc
// @Summary Effective academic rules
// @Description Stored values merged over the environment defaults, plus can_withdraw for today.
// @Tags Configuration
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /configuration [get]
func (h *ConfigurationHandler) View(c *gin.Context) {
	view, err := h.settings.View(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// List godoc
// @Summary Raw academic rule entries
// @Tags Configuration
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /configuration/items [get]
func (h *ConfigurationHandler) List(c *gin.Context) {
	items, err := h.settings.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Get godoc
// @Summary One academic rule
// @Tags Configuration
// @Produce json
// @Param key path string true "Rule key, e.g. minimum_grade"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /configuration/{key} [get]
func (h *ConfigurationHandler) Get(c *gin.Context) {
	item, err := h.settings.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Update godoc
// @Summary Change one academic rule
// @Description The new value is checked together with the other stored rules before it is saved.
// @Tags Configuration
// @Accept json
// @Produce json
// @Param key path string true "Rule key, e.g. minimum_grade"
// @Param payload body dto.UpdateConfigurationValueRequest true "New value"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /configuration/{key} [put]
func (h *ConfigurationHandler) Update(c *gin.Context) {
	key := c.Param("key")
	var req dto.UpdateConfigurationValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid academic rule payload"))
		return
	}
	if bodyKey := strings.TrimSpace(req.Key); bodyKey != "" && bodyKey != key {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "rule key in body does not match the path"))
		return
	}
	item, err := h.settings.Update(c.Request.Context(), key, req.Value, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// BulkUpdate godoc
// @Summary Change several academic rules at once
// @Description Either every rule is saved or none is.
// @Tags Configuration
// @Accept json
// @Produce json
// @Param payload body dto.BulkUpdateConfigurationRequest true "Rules to change"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /configuration [put]
func (h *ConfigurationHandler) BulkUpdate(c *gin.Context) {
	var req dto.BulkUpdateConfigurationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid academic rules payload"))
		return
	}
	items, err := h.settings.BulkUpdate(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

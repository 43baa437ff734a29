package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/academic-records-api/internal/dto"
	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
	"github.com/noah-isme/academic-records-api/pkg/validation"
)

type configurationRepository interface {
	List(ctx context.Context) ([]models.Configuration, error)
	Get(ctx context.Context, key string) (*models.Configuration, error)
	Upsert(ctx context.Context, cfg *models.Configuration) error
	BulkUpsert(ctx context.Context, cfgs []models.Configuration) error
}

type auditRecorder interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

type cacheInvalidator interface {
	Invalidate(ctx context.Context, pattern string) error
}

var configurationKeys = []string{
	models.ConfigKeyMinimumGrade,
	models.ConfigKeyMinimumAttendance,
	models.ConfigKeyWithdrawalLimit,
	models.ConfigKeyWithdrawalDeadline,
	models.ConfigKeyMaxSectionsPerStudent,
	models.ConfigKeyRankingTopN,
}

var configurationDescriptions = map[string]string{
	models.ConfigKeyMinimumGrade:          "Minimum final grade (0-10) required for approval",
	models.ConfigKeyMinimumAttendance:     "Minimum attendance percentage (0-100) required for approval",
	models.ConfigKeyWithdrawalLimit:       "Maximum withdrawals per student in a period",
	models.ConfigKeyWithdrawalDeadline:    "Last day (YYYY-MM-DD) on which withdrawals are accepted",
	models.ConfigKeyMaxSectionsPerStudent: "Maximum active sections per student in a period (0 disables the limit)",
	models.ConfigKeyRankingTopN:           "Default size of the CR ranking",
}

// ConfigurationServiceConfig tunes runtime behaviour.
type ConfigurationServiceConfig struct {
	// Defaults holds raw values used for keys without a stored row.
	Defaults map[string]string
}

// ConfigurationService manages the typed system settings.
type ConfigurationService struct {
	repo      configurationRepository
	audit     auditRecorder
	cache     cacheInvalidator
	validator *validator.Validate
	logger    *zap.Logger
	defaults  map[string]string
	now       func() time.Time
}

// NewConfigurationService constructs a ConfigurationService.
func NewConfigurationService(repo configurationRepository, audit auditRecorder, cache cacheInvalidator, validate *validator.Validate, logger *zap.Logger, cfg ConfigurationServiceConfig) *ConfigurationService {
	if validate == nil {
		validate = validation.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := make(map[string]string, len(cfg.Defaults))
	for key, value := range cfg.Defaults {
		if value == "" {
			continue
		}
		defaults[key] = value
	}
	return &ConfigurationService{
		repo:      repo,
		audit:     audit,
		cache:     cache,
		validator: validate,
		logger:    logger,
		defaults:  defaults,
		now:       time.Now,
	}
}

// List returns every known setting with its effective value.
func (s *ConfigurationService) List(ctx context.Context) ([]dto.ConfigurationItem, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list configurations")
	}
	existing := make(map[string]models.Configuration, len(rows))
	for _, row := range rows {
		existing[row.Key] = row
	}
	items := make([]dto.ConfigurationItem, 0, len(configurationKeys))
	for _, key := range configurationKeys {
		if row, ok := existing[key]; ok {
			items = append(items, toConfigurationItem(row))
			continue
		}
		items = append(items, s.defaultItem(key))
	}
	return items, nil
}

// Get retrieves a single setting, falling back to its default.
func (s *ConfigurationService) Get(ctx context.Context, key string) (*dto.ConfigurationItem, error) {
	if err := requireConfigurationKey(key); err != nil {
		return nil, err
	}
	row, err := s.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			item := s.defaultItem(key)
			return &item, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to get configuration")
	}
	item := toConfigurationItem(*row)
	return &item, nil
}

// Current resolves the typed settings: defaults first, stored rows on top.
func (s *ConfigurationService) Current(ctx context.Context) (models.SystemConfiguration, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return models.SystemConfiguration{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load configuration")
	}
	cfg := s.baseline()
	for _, row := range rows {
		if err := cfg.Apply(row.Key, row.Value); err != nil {
			s.logger.Warn("ignoring invalid stored configuration", zap.String("key", row.Key), zap.Error(err))
		}
	}
	return cfg, nil
}

// View renders the settings together with the withdrawal window state for today.
func (s *ConfigurationService) View(ctx context.Context) (*models.SystemConfigurationView, error) {
	cfg, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	view := cfg.View(s.now())
	return &view, nil
}

// Update validates and stores a single setting.
func (s *ConfigurationService) Update(ctx context.Context, key, value string, actor *models.JWTClaims) (*dto.ConfigurationItem, error) {
	items, err := s.BulkUpdate(ctx, dto.BulkUpdateConfigurationRequest{
		Items: []dto.UpdateConfigurationRequest{{Key: key, Value: value}},
	}, actor)
	if err != nil {
		return nil, err
	}
	return &items[0], nil
}

// BulkUpdate applies several settings in one transaction. The combined result must stay valid.
func (s *ConfigurationService) BulkUpdate(ctx context.Context, req dto.BulkUpdateConfigurationRequest, actor *models.JWTClaims) ([]dto.ConfigurationItem, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validation.Error(err, "invalid configuration payload")
	}
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	for _, item := range req.Items {
		if err := requireConfigurationKey(item.Key); err != nil {
			return nil, err
		}
	}

	current, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	previous := current
	for _, item := range req.Items {
		if err := current.Apply(item.Key, item.Value); err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
		}
	}
	if err := current.Validate(); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	rows := make([]models.Configuration, 0, len(req.Items))
	seen := make(map[string]struct{}, len(req.Items))
	for _, item := range req.Items {
		if _, dup := seen[item.Key]; dup {
			continue
		}
		seen[item.Key] = struct{}{}
		kind, _ := models.ConfigurationTypeOf(item.Key)
		rows = append(rows, models.Configuration{
			Key:         item.Key,
			Value:       canonicalValue(current, item.Key),
			Type:        kind,
			Description: strPtr(configurationDescriptions[item.Key]),
			UpdatedBy:   userIDPtr(actor),
		})
	}
	if err := s.repo.BulkUpsert(ctx, rows); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update configurations")
	}

	result := make([]dto.ConfigurationItem, 0, len(rows))
	for _, row := range rows {
		result = append(result, toConfigurationItem(row))
		s.emitAudit(ctx, actor, row.Key, canonicalValue(previous, row.Key), row.Value)
	}
	s.invalidateReports(ctx)
	return result, nil
}

func (s *ConfigurationService) baseline() models.SystemConfiguration {
	cfg := models.SystemConfiguration{
		MinimumGrade:          6.0,
		MinimumAttendance:     75,
		WithdrawalLimit:       1,
		WithdrawalDeadline:    time.Date(2025, time.December, 15, 0, 0, 0, 0, time.UTC),
		MaxSectionsPerStudent: 6,
		RankingTopN:           10,
	}
	for _, key := range configurationKeys {
		raw, ok := s.defaults[key]
		if !ok {
			continue
		}
		if err := cfg.Apply(key, raw); err != nil {
			s.logger.Warn("ignoring invalid configuration default", zap.String("key", key), zap.Error(err))
		}
	}
	return cfg
}

func (s *ConfigurationService) defaultItem(key string) dto.ConfigurationItem {
	kind, _ := models.ConfigurationTypeOf(key)
	return dto.ConfigurationItem{
		Key:         key,
		Value:       canonicalValue(s.baseline(), key),
		Type:        string(kind),
		Description: configurationDescriptions[key],
		Default:     true,
	}
}

func (s *ConfigurationService) emitAudit(ctx context.Context, actor *models.JWTClaims, key, oldValue, newValue string) {
	if s.audit == nil {
		return
	}
	oldBytes, _ := json.Marshal(map[string]string{"key": key, "value": oldValue})
	newBytes, _ := json.Marshal(map[string]string{"key": key, "value": newValue})
	entry := &models.AuditLog{
		UserID:     userIDPtr(actor),
		Action:     models.AuditActionConfigurationUpdate,
		Resource:   "configuration",
		ResourceID: &key,
		OldValues:  oldBytes,
		NewValues:  newBytes,
		IPAddress:  "system",
		UserAgent:  "configuration-service",
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		s.logger.Warn("failed to record configuration audit", zap.Error(err))
	}
}

func (s *ConfigurationService) invalidateReports(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, reportCachePattern); err != nil {
		s.logger.Warn("failed to invalidate report cache", zap.Error(err))
	}
}

func requireConfigurationKey(key string) error {
	if _, ok := models.ConfigurationTypeOf(key); !ok {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported configuration key %q", key))
	}
	return nil
}

func canonicalValue(cfg models.SystemConfiguration, key string) string {
	switch key {
	case models.ConfigKeyMinimumGrade:
		return strconv.FormatFloat(cfg.MinimumGrade, 'f', -1, 64)
	case models.ConfigKeyMinimumAttendance:
		return strconv.FormatFloat(cfg.MinimumAttendance, 'f', -1, 64)
	case models.ConfigKeyWithdrawalLimit:
		return strconv.Itoa(cfg.WithdrawalLimit)
	case models.ConfigKeyWithdrawalDeadline:
		return cfg.WithdrawalDeadline.Format(models.DateLayout)
	case models.ConfigKeyMaxSectionsPerStudent:
		return strconv.Itoa(cfg.MaxSectionsPerStudent)
	case models.ConfigKeyRankingTopN:
		return strconv.Itoa(cfg.RankingTopN)
	}
	return ""
}

func toConfigurationItem(row models.Configuration) dto.ConfigurationItem {
	description := configurationDescriptions[row.Key]
	if row.Description != nil && *row.Description != "" {
		description = *row.Description
	}
	return dto.ConfigurationItem{
		Key:         row.Key,
		Value:       row.Value,
		Type:        string(row.Type),
		Description: description,
		UpdatedBy:   row.UpdatedBy,
	}
}

func strPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func userIDPtr(actor *models.JWTClaims) *string {
	if actor == nil || actor.UserID == "" {
		return nil
	}
	id := actor.UserID
	return &id
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academic-records-api/internal/dto"
	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
)

type configurationRepoStub struct {
	items map[string]models.Configuration
	err   error
}

func (s *configurationRepoStub) List(ctx context.Context) ([]models.Configuration, error) {
	if s.err != nil {
		return nil, s.err
	}
	result := make([]models.Configuration, 0, len(s.items))
	for _, cfg := range s.items {
		result = append(result, cfg)
	}
	return result, nil
}

func (s *configurationRepoStub) Get(ctx context.Context, key string) (*models.Configuration, error) {
	if s.err != nil {
		return nil, s.err
	}
	if cfg, ok := s.items[key]; ok {
		return &cfg, nil
	}
	return nil, sql.ErrNoRows
}

func (s *configurationRepoStub) Upsert(ctx context.Context, cfg *models.Configuration) error {
	return s.BulkUpsert(ctx, []models.Configuration{*cfg})
}

func (s *configurationRepoStub) BulkUpsert(ctx context.Context, cfgs []models.Configuration) error {
	if s.err != nil {
		return s.err
	}
	if s.items == nil {
		s.items = make(map[string]models.Configuration)
	}
	for _, cfg := range cfgs {
		s.items[cfg.Key] = cfg
	}
	return nil
}

type auditLoggerStub struct {
	logs []*models.AuditLog
}

func (a *auditLoggerStub) Create(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type cacheInvalidatorStub struct {
	patterns []string
}

func (c *cacheInvalidatorStub) Invalidate(ctx context.Context, pattern string) error {
	c.patterns = append(c.patterns, pattern)
	return nil
}

var adminClaims = &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin}

func TestConfigurationServiceUpdateNumber(t *testing.T) {
	repo := &configurationRepoStub{}
	audit := &auditLoggerStub{}
	cache := &cacheInvalidatorStub{}
	service := NewConfigurationService(repo, audit, cache, nil, nil, ConfigurationServiceConfig{})

	item, err := service.Update(context.Background(), models.ConfigKeyMinimumGrade, " 7.50 ", adminClaims)
	require.NoError(t, err)
	assert.Equal(t, "7.5", item.Value)
	assert.Equal(t, "NUMBER", item.Type)
	assert.Equal(t, "7.5", repo.items[models.ConfigKeyMinimumGrade].Value)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionConfigurationUpdate, audit.logs[0].Action)
	assert.JSONEq(t, `{"key":"minimum_grade","value":"6"}`, string(audit.logs[0].OldValues))
	assert.Equal(t, []string{reportCachePattern}, cache.patterns)
}

func TestConfigurationServiceUpdateRejectsOutOfRange(t *testing.T) {
	repo := &configurationRepoStub{}
	service := NewConfigurationService(repo, nil, nil, nil, nil, ConfigurationServiceConfig{})

	_, err := service.Update(context.Background(), models.ConfigKeyMinimumAttendance, "120", adminClaims)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = service.Update(context.Background(), models.ConfigKeyWithdrawalDeadline, "15/12/2025", adminClaims)
	require.Error(t, err)
	assert.Empty(t, repo.items)
}

func TestConfigurationServiceUpdateInvalidKey(t *testing.T) {
	service := NewConfigurationService(&configurationRepoStub{}, nil, nil, nil, nil, ConfigurationServiceConfig{})
	_, err := service.Update(context.Background(), "unknown_key", "abc", adminClaims)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestConfigurationServiceBulkUpdateIsAllOrNothing(t *testing.T) {
	repo := &configurationRepoStub{}
	service := NewConfigurationService(repo, nil, nil, nil, nil, ConfigurationServiceConfig{})
	req := dto.BulkUpdateConfigurationRequest{
		Items: []dto.UpdateConfigurationRequest{
			{Key: models.ConfigKeyMinimumGrade, Value: "5"},
			{Key: models.ConfigKeyRankingTopN, Value: "0"},
		},
	}
	_, err := service.BulkUpdate(context.Background(), req, adminClaims)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.items)
}

func TestConfigurationServiceBulkUpdateRequiresActor(t *testing.T) {
	service := NewConfigurationService(&configurationRepoStub{}, nil, nil, nil, nil, ConfigurationServiceConfig{})
	req := dto.BulkUpdateConfigurationRequest{Items: []dto.UpdateConfigurationRequest{{Key: models.ConfigKeyMinimumGrade, Value: "5"}}}
	_, err := service.BulkUpdate(context.Background(), req, nil)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestConfigurationServiceListFallsBackToDefaults(t *testing.T) {
	repo := &configurationRepoStub{
		items: map[string]models.Configuration{
			models.ConfigKeyMinimumGrade: {Key: models.ConfigKeyMinimumGrade, Value: "7", Type: models.ConfigurationTypeNumber},
		},
	}
	service := NewConfigurationService(repo, nil, nil, nil, nil, ConfigurationServiceConfig{
		Defaults: map[string]string{models.ConfigKeyRankingTopN: "5"},
	})
	items, err := service.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, len(configurationKeys))

	values := make(map[string]dto.ConfigurationItem, len(items))
	for _, item := range items {
		values[item.Key] = item
	}
	assert.Equal(t, "7", values[models.ConfigKeyMinimumGrade].Value)
	assert.False(t, values[models.ConfigKeyMinimumGrade].Default)
	assert.Equal(t, "5", values[models.ConfigKeyRankingTopN].Value)
	assert.True(t, values[models.ConfigKeyRankingTopN].Default)
	assert.Equal(t, "2025-12-15", values[models.ConfigKeyWithdrawalDeadline].Value)
}

func TestConfigurationServiceGetUsesDefaults(t *testing.T) {
	service := NewConfigurationService(&configurationRepoStub{}, nil, nil, nil, nil, ConfigurationServiceConfig{
		Defaults: map[string]string{models.ConfigKeyMinimumAttendance: "80"},
	})
	item, err := service.Get(context.Background(), models.ConfigKeyMinimumAttendance)
	require.NoError(t, err)
	assert.Equal(t, "80", item.Value)
	assert.Equal(t, "NUMBER", item.Type)
}

func TestConfigurationServiceCurrentIgnoresBrokenRows(t *testing.T) {
	repo := &configurationRepoStub{
		items: map[string]models.Configuration{
			models.ConfigKeyMaxSectionsPerStudent: {Key: models.ConfigKeyMaxSectionsPerStudent, Value: "abc"},
			models.ConfigKeyWithdrawalLimit:       {Key: models.ConfigKeyWithdrawalLimit, Value: "3"},
		},
	}
	service := NewConfigurationService(repo, nil, nil, nil, nil, ConfigurationServiceConfig{})
	cfg, err := service.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.MaxSectionsPerStudent)
	assert.Equal(t, 3, cfg.WithdrawalLimit)
}

func TestConfigurationServiceViewComputesWithdrawalWindow(t *testing.T) {
	service := NewConfigurationService(&configurationRepoStub{}, nil, nil, nil, nil, ConfigurationServiceConfig{
		Defaults: map[string]string{models.ConfigKeyWithdrawalDeadline: "2026-03-01"},
	})
	service.now = func() time.Time { return time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC) }
	view, err := service.View(context.Background())
	require.NoError(t, err)
	assert.True(t, view.CanWithdraw)

	service.now = func() time.Time { return time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) }
	view, err = service.View(context.Background())
	require.NoError(t, err)
	assert.False(t, view.CanWithdraw)
}

func TestConfigurationServiceUpdateHandlesRepoError(t *testing.T) {
	repo := &configurationRepoStub{err: errors.New("db down")}
	service := NewConfigurationService(repo, nil, nil, nil, nil, ConfigurationServiceConfig{})
	_, err := service.Update(context.Background(), models.ConfigKeyMinimumGrade, "5", adminClaims)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}

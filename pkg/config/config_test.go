package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)
	require.NotNil(t, cfg)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, 6.0, cfg.Academic.MinimumGrade)
	assert.Equal(t, 75.0, cfg.Academic.MinimumAttendance)
	assert.Equal(t, 1, cfg.Academic.WithdrawalLimit)
	assert.Equal(t, "2025-12-15", cfg.Academic.WithdrawalDeadline)
	assert.Equal(t, 6, cfg.Academic.MaxSectionsPerStudent)
	assert.Equal(t, 10, cfg.Academic.RankingTopN)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 24*time.Hour, cfg.JWT.Expiration)
}

func TestFromViperOverrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("ACADEMIC_MINIMUM_GRADE", 7.5)
	v.Set("ALLOWED_ORIGINS", "http://a.test, http://b.test ,")
	v.Set("CACHE_TTL", "not-a-duration")

	cfg := fromViper(v)
	assert.Equal(t, 7.5, cfg.Academic.MinimumGrade)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, time.Second, parseDuration("", time.Second))
	assert.Equal(t, 2*time.Minute, parseDuration("2m", time.Second))
	assert.Equal(t, time.Second, parseDuration("bogus", time.Second))
}

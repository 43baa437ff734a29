package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ConfigurationType defines supported types for configuration values.
type ConfigurationType string

const (
	ConfigurationTypeNumber  ConfigurationType = "NUMBER"
	ConfigurationTypeInteger ConfigurationType = "INTEGER"
	ConfigurationTypeDate    ConfigurationType = "DATE"
)

// Configuration keys.
const (
	ConfigKeyMinimumGrade          = "minimum_grade"
	ConfigKeyMinimumAttendance     = "minimum_attendance"
	ConfigKeyWithdrawalLimit       = "withdrawal_limit"
	ConfigKeyWithdrawalDeadline    = "withdrawal_deadline"
	ConfigKeyMaxSectionsPerStudent = "max_sections_per_student"
	ConfigKeyRankingTopN           = "ranking_top_n"
)

// DateLayout is the format of date valued settings.
const DateLayout = "2006-01-02"

// Configuration represents a persisted configuration entry.
type Configuration struct {
	Key         string            `db:"key" json:"key"`
	Value       string            `db:"value" json:"value"`
	Type        ConfigurationType `db:"type" json:"type"`
	Description *string           `db:"description" json:"description,omitempty"`
	UpdatedBy   *string           `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

// SystemConfiguration is the typed view over the configuration rows.
type SystemConfiguration struct {
	MinimumGrade          float64   `json:"minimum_grade"`
	MinimumAttendance     float64   `json:"minimum_attendance"`
	WithdrawalLimit       int       `json:"withdrawal_limit"`
	WithdrawalDeadline    time.Time `json:"-"`
	MaxSectionsPerStudent int       `json:"max_sections_per_student"`
	RankingTopN           int       `json:"ranking_top_n"`
}

// SystemConfigurationView is the API representation of the settings.
type SystemConfigurationView struct {
	MinimumGrade          float64 `json:"minimum_grade"`
	MinimumAttendance     float64 `json:"minimum_attendance"`
	WithdrawalLimit       int     `json:"withdrawal_limit"`
	WithdrawalDeadline    string  `json:"withdrawal_deadline"`
	MaxSectionsPerStudent int     `json:"max_sections_per_student"`
	RankingTopN           int     `json:"ranking_top_n"`
	CanWithdraw           bool    `json:"can_withdraw"`
}

// View renders the settings evaluated at now.
func (c SystemConfiguration) View(now time.Time) SystemConfigurationView {
	return SystemConfigurationView{
		MinimumGrade:          c.MinimumGrade,
		MinimumAttendance:     c.MinimumAttendance,
		WithdrawalLimit:       c.WithdrawalLimit,
		WithdrawalDeadline:    c.WithdrawalDeadline.Format(DateLayout),
		MaxSectionsPerStudent: c.MaxSectionsPerStudent,
		RankingTopN:           c.RankingTopN,
		CanWithdraw:           c.CanWithdraw(now),
	}
}

// CanWithdraw reports whether now falls on or before the withdrawal deadline.
func (c SystemConfiguration) CanWithdraw(now time.Time) bool {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	deadline := time.Date(c.WithdrawalDeadline.Year(), c.WithdrawalDeadline.Month(), c.WithdrawalDeadline.Day(), 0, 0, 0, 0, time.UTC)
	return !today.After(deadline)
}

// Validate checks every setting against its range.
func (c SystemConfiguration) Validate() error {
	if c.MinimumGrade < 0 || c.MinimumGrade > 10 {
		return fmt.Errorf("%s must be between 0 and 10", ConfigKeyMinimumGrade)
	}
	if c.MinimumAttendance < 0 || c.MinimumAttendance > 100 {
		return fmt.Errorf("%s must be between 0 and 100", ConfigKeyMinimumAttendance)
	}
	if c.WithdrawalLimit < 0 {
		return fmt.Errorf("%s must not be negative", ConfigKeyWithdrawalLimit)
	}
	if c.WithdrawalDeadline.IsZero() {
		return fmt.Errorf("%s is required", ConfigKeyWithdrawalDeadline)
	}
	if c.MaxSectionsPerStudent < 0 {
		return fmt.Errorf("%s must not be negative", ConfigKeyMaxSectionsPerStudent)
	}
	if c.RankingTopN <= 0 {
		return fmt.Errorf("%s must be greater than zero", ConfigKeyRankingTopN)
	}
	return nil
}

var errUnknownConfigurationKey = errors.New("unknown configuration key")

// Apply parses raw into the field named by key.
func (c *SystemConfiguration) Apply(key, raw string) error {
	raw = strings.TrimSpace(raw)
	switch key {
	case ConfigKeyMinimumGrade:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("%s must be a number", key)
		}
		c.MinimumGrade = v
	case ConfigKeyMinimumAttendance:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("%s must be a number", key)
		}
		c.MinimumAttendance = v
	case ConfigKeyWithdrawalLimit:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s must be an integer", key)
		}
		c.WithdrawalLimit = v
	case ConfigKeyWithdrawalDeadline:
		v, err := time.Parse(DateLayout, raw)
		if err != nil {
			return fmt.Errorf("%s must be a date in YYYY-MM-DD format", key)
		}
		c.WithdrawalDeadline = v
	case ConfigKeyMaxSectionsPerStudent:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s must be an integer", key)
		}
		c.MaxSectionsPerStudent = v
	case ConfigKeyRankingTopN:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s must be an integer", key)
		}
		c.RankingTopN = v
	default:
		return fmt.Errorf("%w: %s", errUnknownConfigurationKey, key)
	}
	return nil
}

// ConfigurationTypeOf returns the stored type for a known key.
func ConfigurationTypeOf(key string) (ConfigurationType, bool) {
	switch key {
	case ConfigKeyMinimumGrade, ConfigKeyMinimumAttendance:
		return ConfigurationTypeNumber, true
	case ConfigKeyWithdrawalLimit, ConfigKeyMaxSectionsPerStudent, ConfigKeyRankingTopN:
		return ConfigurationTypeInteger, true
	case ConfigKeyWithdrawalDeadline:
		return ConfigurationTypeDate, true
	}
	return "", false
}

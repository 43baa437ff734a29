package dto

// ConfigurationItem represents a configuration entry exposed via API.
type ConfigurationItem struct {
	Key         string  `json:"key"`
	Value       string  `json:"value"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Default     bool    `json:"default,omitempty"`
	UpdatedBy   *string `json:"updated_by,omitempty"`
}

// UpdateConfigurationRequest describes payload for updating a single configuration.
type UpdateConfigurationRequest struct {
	Key   string `json:"key" validate:"required"`
	Value string `json:"value" validate:"required"`
}

// UpdateConfigurationValueRequest is the body of PUT /configuration/{key}.
// Key is optional and must repeat the path key when present.
type UpdateConfigurationValueRequest struct {
	Key   string `json:"key,omitempty"`
	Value string `json:"value" validate:"required"`
}

// BulkUpdateConfigurationRequest holds multiple update requests.
type BulkUpdateConfigurationRequest struct {
	Items []UpdateConfigurationRequest `json:"items" validate:"required,min=1,dive"`
}

package repository

import (
	"strings"

	"github.com/pandeptwidyaop/n8n-monitor/internal/settings"
	"github.com/pandeptwidyaop/n8n-monitor/internal/validation"
)

// Connection is a validated server URL and API key pair.
type Connection struct {
	BaseURL string
	APIKey  string
}

// ValidateConnection checks stored connection settings without touching
// the network. A value that is set but blank counts as missing.
func ValidateConnection(baseURL, apiKey settings.Value) (Connection, error) {
	const op = "validate connection"

	hasURL := baseURL.Set && strings.TrimSpace(baseURL.Value) != ""
	hasKey := apiKey.Set && strings.TrimSpace(apiKey.Value) != ""

	switch {
	case !hasURL && !hasKey:
		return Connection{}, configError(op, ConfigMissingBoth, nil)
	case !hasURL:
		return Connection{}, configError(op, ConfigMissingURL, nil)
	case !hasKey:
		return Connection{}, configError(op, ConfigMissingKey, nil)
	}

	normalized, err := validation.NormalizeBaseURL(baseURL.Value)
	if err != nil {
		return Connection{}, configError(op, ConfigInvalidURL, err)
	}
	return Connection{BaseURL: normalized, APIKey: apiKey.Value}, nil
}

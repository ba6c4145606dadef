// Package validation provides input validation for settings and API input.
package validation

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

var (
	// ErrAPIKeyBlank indicates the API key is empty or whitespace.
	ErrAPIKeyBlank = errors.New("API key cannot be blank")
	// ErrAPIKeyTooShort indicates the API key is under the minimum length.
	ErrAPIKeyTooShort = errors.New("API key must be at least 8 characters long")
	// ErrBaseURLBlank indicates the server URL is empty.
	ErrBaseURLBlank = errors.New("base URL cannot be blank")
	// ErrBaseURLScheme indicates the server URL is not http or https.
	ErrBaseURLScheme = errors.New("base URL must start with http:// or https://")
	// ErrBaseURLInvalid indicates the server URL cannot be parsed.
	ErrBaseURLInvalid = errors.New("base URL is not a valid absolute URL")
	// ErrInputTooLong indicates input exceeds maximum length.
	ErrInputTooLong = errors.New("input exceeds maximum length")
	// ErrInputInvalid indicates input contains invalid characters.
	ErrInputInvalid = errors.New("input contains invalid characters")
)

// MinAPIKeyLength is the shortest API key accepted.
const MinAPIKeyLength = 8

// MaxIDLength bounds workflow and execution ids accepted from clients.
const MaxIDLength = 128

var validID = regexp.MustCompile(`^[a-zA-Z0-9_\-]+$`)

// ValidateAPIKey checks an n8n API key before it is stored.
func ValidateAPIKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrAPIKeyBlank
	}
	if len(key) < MinAPIKeyLength {
		return ErrAPIKeyTooShort
	}
	for _, r := range key {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return ErrInputInvalid
		}
	}
	return nil
}

// NormalizeBaseURL validates a server URL and strips trailing slashes.
func NormalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrBaseURLBlank
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return "", ErrBaseURLScheme
	}
	if err := ValidateBaseURL(raw); err != nil {
		return "", err
	}
	return strings.TrimRight(raw, "/"), nil
}

// ValidateBaseURL checks that raw is a well-formed absolute http(s) URL.
func ValidateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return ErrBaseURLInvalid
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrBaseURLScheme
	}
	if u.Host == "" || u.Hostname() == "" {
		return ErrBaseURLInvalid
	}
	if strings.ContainsAny(raw, " \t\r\n\x00") {
		return ErrBaseURLInvalid
	}
	return nil
}

// ValidateID validates a workflow or execution id.
func ValidateID(id string) error {
	if id == "" {
		return ErrInputInvalid
	}
	if len(id) > MaxIDLength {
		return ErrInputTooLong
	}
	if !validID.MatchString(id) {
		return ErrInputInvalid
	}
	return nil
}

// ValidateSearchQuery validates a free-text workflow name search.
func ValidateSearchQuery(q string, maxLength int) error {
	if len(q) > maxLength {
		return ErrInputTooLong
	}
	if strings.ContainsAny(q, "\x00\n\r") {
		return ErrInputInvalid
	}
	return nil
}

// MaskSecret keeps the last four characters of a secret for display.
func MaskSecret(secret string) string {
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}

package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pandeptwidyaop/n8n-monitor/internal/settings"
	"github.com/pandeptwidyaop/n8n-monitor/internal/validation"
)

// SettingsStore is the part of the settings file the API edits.
type SettingsStore interface {
	Snapshot() settings.Snapshot
	SetBaseURL(raw string) error
	SetAPIKey(key string) error
	SetPollInterval(minutes int) error
	SetNotificationsEnabled(enabled bool) error
	Clear() error
}

// SettingsHandler shows and edits the connection settings. The API key is
// write-only; responses carry a masked form.
type SettingsHandler struct {
	settings SettingsStore
}

func NewSettingsHandler(st SettingsStore) *SettingsHandler {
	return &SettingsHandler{settings: st}
}

// SettingsResponse is the public view of the settings.
type SettingsResponse struct {
	BaseURL              *string    `json:"base_url"`
	APIKey               *string    `json:"api_key"`
	Configured           bool       `json:"configured"`
	PollIntervalMinutes  int        `json:"poll_interval_minutes"`
	NotificationsEnabled bool       `json:"notifications_enabled"`
	LastSyncTime         *time.Time `json:"last_sync_time"`
}

func toSettingsResponse(snap settings.Snapshot) SettingsResponse {
	resp := SettingsResponse{
		Configured:           snap.BaseURL.Set && snap.APIKey.Set,
		PollIntervalMinutes:  snap.PollIntervalMinutes,
		NotificationsEnabled: snap.NotificationsEnabled,
		LastSyncTime:         snap.LastSyncTime,
	}
	if snap.BaseURL.Set {
		u := snap.BaseURL.Value
		resp.BaseURL = &u
	}
	if snap.APIKey.Set {
		masked := validation.MaskSecret(snap.APIKey.Value)
		resp.APIKey = &masked
	}
	return resp
}

// Show returns the current settings.
// GET /api/settings
func (h *SettingsHandler) Show(c *gin.Context) {
	c.JSON(http.StatusOK, toSettingsResponse(h.settings.Snapshot()))
}

type updateSettingsRequest struct {
	BaseURL              *string `json:"base_url"`
	APIKey               *string `json:"api_key"`
	PollIntervalMinutes  *int    `json:"poll_interval_minutes"`
	NotificationsEnabled *bool   `json:"notifications_enabled"`
}

// Update changes the fields present in the body. Fields are validated
// before any is written.
// PUT /api/settings
func (h *SettingsHandler) Update(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	if req.BaseURL != nil {
		if _, err := validation.NormalizeBaseURL(*req.BaseURL); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	if req.APIKey != nil {
		if err := validation.ValidateAPIKey(*req.APIKey); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	steps := []struct {
		set   bool
		apply func() error
	}{
		{req.BaseURL != nil, func() error { return h.settings.SetBaseURL(*req.BaseURL) }},
		{req.APIKey != nil, func() error { return h.settings.SetAPIKey(*req.APIKey) }},
		{req.PollIntervalMinutes != nil, func() error { return h.settings.SetPollInterval(*req.PollIntervalMinutes) }},
		{req.NotificationsEnabled != nil, func() error { return h.settings.SetNotificationsEnabled(*req.NotificationsEnabled) }},
	}
	for _, s := range steps {
		if !s.set {
			continue
		}
		if err := s.apply(); err != nil {
			h.writeError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, toSettingsResponse(h.settings.Snapshot()))
}

// Clear removes the credentials and resets preferences.
// DELETE /api/settings
func (h *SettingsHandler) Clear(c *gin.Context) {
	if err := h.settings.Clear(); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSettingsResponse(h.settings.Snapshot()))
}

func (h *SettingsHandler) writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	for _, target := range []error{
		validation.ErrAPIKeyBlank,
		validation.ErrAPIKeyTooShort,
		validation.ErrBaseURLBlank,
		validation.ErrBaseURLScheme,
		validation.ErrBaseURLInvalid,
		validation.ErrInputInvalid,
	} {
		if errors.Is(err, target) {
			badRequest(c, err.Error())
			return
		}
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save settings", "kind": "storage"})
}

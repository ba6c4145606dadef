// Package handlers provides the HTTP handlers of the local monitor API.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pandeptwidyaop/n8n-monitor/internal/repository"
	"github.com/pandeptwidyaop/n8n-monitor/internal/validation"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
	maxSearchLength  = 100
	defaultSince     = 24 * time.Hour
)

// statusForKind maps an error kind to the response status of this API.
// Upstream server failures surface as 502 since the daemon itself is fine.
func statusForKind(kind repository.Kind) int {
	switch kind {
	case repository.KindConfiguration:
		return http.StatusPreconditionFailed
	case repository.KindConnectivity:
		return http.StatusServiceUnavailable
	case repository.KindUnauthorized:
		return http.StatusUnauthorized
	case repository.KindForbidden:
		return http.StatusForbidden
	case repository.KindNotFound:
		return http.StatusNotFound
	case repository.KindConflict:
		return http.StatusConflict
	case repository.KindServerError:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError writes a classified error with its kind and guidance.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	var e *repository.Error
	if !errors.As(err, &e) {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
			"kind":  repository.KindUnknown.String(),
		})
		return
	}

	body := gin.H{
		"error":    e.Error(),
		"kind":     e.Kind.String(),
		"guidance": e.Guidance(),
	}
	if e.Status != 0 {
		body["upstream_status"] = e.Status
	}
	if e.Kind == repository.KindConfiguration {
		body["problem"] = e.Config.String()
	}
	c.JSON(statusForKind(e.Kind), body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "kind": "validation"})
}

// idParam validates a path id. It writes the error response itself.
func idParam(c *gin.Context, name string) (string, bool) {
	id := c.Param(name)
	if err := validation.ValidateID(id); err != nil {
		badRequest(c, "invalid "+name+": "+err.Error())
		return "", false
	}
	return id, true
}

func queryLimit(c *gin.Context, fallback int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > maxListLimit {
		badRequest(c, "limit must be between 0 and "+strconv.Itoa(maxListLimit))
		return 0, false
	}
	return n, true
}

// queryBool parses an optional boolean. A missing value returns nil.
func queryBool(c *gin.Context, name string) (*bool, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		badRequest(c, name+" must be a boolean")
		return nil, false
	}
	return &b, true
}

// querySince accepts a duration back from now ("6h") or an RFC 3339 time.
func querySince(c *gin.Context, now time.Time) (time.Time, bool) {
	raw := strings.TrimSpace(c.Query("since"))
	if raw == "" {
		return now.Add(-defaultSince), true
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return now.Add(-d), true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	badRequest(c, "since must be a positive duration or an RFC 3339 time")
	return time.Time{}, false
}

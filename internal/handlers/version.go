package handlers

import (
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"

	"github.com/pandeptwidyaop/n8n-monitor/internal/version"
)

type VersionHandler struct{}

func NewVersionHandler() *VersionHandler {
	return &VersionHandler{}
}

// Get returns build information.
// GET /api/version
func (h *VersionHandler) Get(c *gin.Context) {
	info := version.Info()
	info["go_version"] = runtime.Version()
	info["platform"] = runtime.GOOS + "/" + runtime.GOARCH
	c.JSON(http.StatusOK, info)
}

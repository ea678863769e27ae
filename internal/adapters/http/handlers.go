package http

import (
	"net/http"

	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/gin-gonic/gin"
)

type snapshotHandlers struct {
	orch *orch.Orchestrator
}

func handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (h *snapshotHandlers) users(c *gin.Context) {
	c.JSON(http.StatusOK, h.orch.UserList())
}

func (h *snapshotHandlers) rooms(c *gin.Context) {
	c.JSON(http.StatusOK, h.orch.RoomList())
}

func (h *snapshotHandlers) stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.orch.Stats())
}

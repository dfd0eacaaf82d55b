package handlers

import (
	"net/http"

	"musicboxServer/backend/internal/broadcast"

	"github.com/gin-gonic/gin"
)

type StatsSource interface {
	Stats() broadcast.EngineStats
}

func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func SyncStats(src StatsSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, src.Stats())
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"musicboxServer/backend/internal/broadcast"

	"github.com/gin-gonic/gin"
)

type Broadcaster interface {
	Broadcast(ctx context.Context, eventType string, data any, room string) (broadcast.StateEvent, error)
	BroadcastPosition(ctx context.Context, position any) bool
	BroadcastPlayerState(state any)
}

// EventsHandler 本机其他组件（播放器、NFC 读卡器）发布状态变更的入口
type EventsHandler struct {
	engine Broadcaster
}

func NewEventsHandler(engine Broadcaster) *EventsHandler {
	return &EventsHandler{engine: engine}
}

type publishReq struct {
	EventType string          `json:"event_type" binding:"required"`
	Room      string          `json:"room"`
	Data      json.RawMessage `json:"data"`
}

func (h *EventsHandler) Routes(rg gin.IRoutes) {
	rg.POST("/events", h.Publish)
}

func (h *EventsHandler) Publish(c *gin.Context) {
	var req publishReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var data any
	if len(req.Data) > 0 {
		data = req.Data
	}

	switch req.EventType {
	case broadcast.EventPositionUpdate:
		// 被限流的进度更新直接丢弃，不算错误
		c.JSON(http.StatusOK, gin.H{"accepted": h.engine.BroadcastPosition(c.Request.Context(), data)})
		return
	case broadcast.EventPlayerState:
		h.engine.BroadcastPlayerState(data)
		c.JSON(http.StatusAccepted, gin.H{"accepted": true})
		return
	}

	ev, err := h.engine.Broadcast(c.Request.Context(), req.EventType, data, req.Room)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"event_id":     ev.EventID,
		"server_seq":   ev.ServerSeq,
		"playlist_seq": ev.PlaylistSeq,
	})
}

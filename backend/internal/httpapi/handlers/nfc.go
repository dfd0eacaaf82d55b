package handlers

import (
	"context"
	"net/http"

	"musicboxServer/backend/internal/broadcast"
	"musicboxServer/backend/internal/store"

	"github.com/gin-gonic/gin"
)

type NFCWriter interface {
	SaveSession(ctx context.Context, a *store.NFCAssociation) error
}

type NFCHandler struct {
	engine Broadcaster
	store  NFCWriter
}

func NewNFCHandler(engine Broadcaster, store NFCWriter) *NFCHandler {
	return &NFCHandler{engine: engine, store: store}
}

type nfcSessionReq struct {
	PlaylistID string `json:"playlist_id" binding:"required"`
	TagID      string `json:"tag_id"`
	State      string `json:"state" binding:"required"`
}

func (h *NFCHandler) Routes(rg gin.IRoutes) {
	rg.PUT("/nfc/sessions/:assoc_id", h.SaveSession)
}

// SaveSession 读卡器上报绑定会话的状态变化，推送给正在等待该会话的客户端
func (h *NFCHandler) SaveSession(c *gin.Context) {
	var req nfcSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a := &store.NFCAssociation{AssocID: c.Param("assoc_id"), PlaylistID: req.PlaylistID, TagID: req.TagID, State: req.State}
	if err := h.store.SaveSession(c.Request.Context(), a); err != nil {
		abortWithError(c, err)
		return
	}
	ev, err := h.engine.Broadcast(c.Request.Context(), EventNFCSessionUpdate, a, broadcast.NFCRoom(a.AssocID))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"server_seq": ev.ServerSeq})
}

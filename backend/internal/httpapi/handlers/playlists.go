package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"musicboxServer/backend/internal/broadcast"
	"musicboxServer/backend/internal/store"

	"github.com/gin-gonic/gin"
)

type Operations interface {
	Execute(ctx context.Context, opID string, fn func(context.Context) (any, error)) (any, bool, error)
	Broadcast(ctx context.Context, eventType string, data any, room string) (broadcast.StateEvent, error)
	Acknowledge(ctx context.Context, clientID, clientOpID string, success bool, data any) error
}

type PlaylistWriter interface {
	CreatePlaylist(ctx context.Context, title, description string) (*store.Playlist, error)
	AddTrack(ctx context.Context, playlistID string, t store.Track) (*store.Track, error)
	ReorderTracks(ctx context.Context, playlistID string, trackIDs []uint64) (*store.Playlist, error)
}

// 歌单相关的广播事件名
const (
	EventPlaylistCreated  = "playlist_created"
	EventTrackAdded       = "track_added"
	EventTracksReordered  = "tracks_reordered"
	EventNFCSessionUpdate = "nfc_session_updated"
)

// PlaylistHandler 客户端发起的歌单修改。
// 流程：按 client_op_id 去重 -> 写库 -> 广播 -> 给发起者回 ack:op
type PlaylistHandler struct {
	ops    Operations
	store  PlaylistWriter
	logger *slog.Logger
}

func NewPlaylistHandler(ops Operations, store PlaylistWriter, logger *slog.Logger) *PlaylistHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaylistHandler{ops: ops, store: store, logger: logger}
}

// opMeta 每个修改请求都带的去重与回执字段
type opMeta struct {
	ClientOpID string `json:"client_op_id"`
	ClientID   string `json:"client_id"`
}

type createPlaylistReq struct {
	opMeta
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

type addTrackReq struct {
	opMeta
	Title      string `json:"title" binding:"required"`
	Filename   string `json:"filename"`
	DurationMs int64  `json:"duration_ms"`
}

type reorderReq struct {
	opMeta
	TrackIDs []uint64 `json:"track_ids" binding:"required"`
}

func (h *PlaylistHandler) Routes(rg gin.IRoutes) {
	rg.POST("/playlists", h.Create)
	rg.POST("/playlists/:id/tracks", h.AddTrack)
	rg.POST("/playlists/:id/reorder", h.Reorder)
}

func (h *PlaylistHandler) Create(c *gin.Context) {
	var req createPlaylistReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.run(c, req.opMeta, func(ctx context.Context) (any, error) {
		p, err := h.store.CreatePlaylist(ctx, req.Title, req.Description)
		if err != nil {
			return nil, err
		}
		if _, err := h.ops.Broadcast(ctx, EventPlaylistCreated, p, broadcast.RoomPlaylists); err != nil {
			return nil, err
		}
		return p, nil
	})
}

func (h *PlaylistHandler) AddTrack(c *gin.Context) {
	var req addTrackReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	playlistID := c.Param("id")
	h.run(c, req.opMeta, func(ctx context.Context) (any, error) {
		t, err := h.store.AddTrack(ctx, playlistID, store.Track{Title: req.Title, Filename: req.Filename, DurationMs: req.DurationMs})
		if err != nil {
			return nil, err
		}
		if _, err := h.ops.Broadcast(ctx, EventTrackAdded, t, broadcast.PlaylistRoom(playlistID)); err != nil {
			return nil, err
		}
		return t, nil
	})
}

func (h *PlaylistHandler) Reorder(c *gin.Context) {
	var req reorderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	playlistID := c.Param("id")
	h.run(c, req.opMeta, func(ctx context.Context) (any, error) {
		p, err := h.store.ReorderTracks(ctx, playlistID, req.TrackIDs)
		if err != nil {
			return nil, err
		}
		if _, err := h.ops.Broadcast(ctx, EventTracksReordered, p, broadcast.PlaylistRoom(playlistID)); err != nil {
			return nil, err
		}
		return p, nil
	})
}

// run 重复请求直接返回第一次的结果，不再写库也不再广播；
// 只有真正执行过的请求才给发起者回 ack:op
func (h *PlaylistHandler) run(c *gin.Context, meta opMeta, fn func(context.Context) (any, error)) {
	ctx := c.Request.Context()
	result, duplicate, err := h.ops.Execute(ctx, meta.ClientOpID, fn)
	if !duplicate && meta.ClientID != "" && meta.ClientOpID != "" && !isInFlight(err) {
		var data any = result
		if err != nil {
			data = gin.H{"error": err.Error()}
		}
		if ackErr := h.ops.Acknowledge(ctx, meta.ClientID, meta.ClientOpID, err == nil, data); ackErr != nil {
			h.logger.Warn("operation ack not delivered", "client_id", meta.ClientID, "op_id", meta.ClientOpID, "err", ackErr)
		}
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result, "duplicate": duplicate})
}

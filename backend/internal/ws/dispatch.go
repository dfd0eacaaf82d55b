package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"musicboxServer/backend/internal/broadcast"
)

var errMalformedFrame = errors.New("MALFORMED_FRAME")

type handlerFunc func(ctx context.Context, clientID string, data json.RawMessage) error

// Dispatcher 把入站帧按事件名分发给引擎。
// 所有处理函数都经过同一个 guard：错误与 panic 都转成 error 帧回给客户端，连接不会因此断开。
type Dispatcher struct {
	engine   *broadcast.Engine
	handlers map[string]handlerFunc
	logger   *slog.Logger
}

func NewDispatcher(engine *broadcast.Engine, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{engine: engine, logger: logger}
	d.handlers = map[string]handlerFunc{
		broadcast.EventClientPing:     handle(engine.Ping),
		broadcast.EventJoinPlaylists:  handle(engine.JoinPlaylists),
		broadcast.EventJoinPlaylist:   handle(engine.JoinPlaylist),
		broadcast.EventJoinNFC:        handle(engine.JoinNFC),
		broadcast.EventLeavePlaylists: handle(engine.LeavePlaylists),
		broadcast.EventLeavePlaylist:  handle(engine.LeavePlaylist),
		broadcast.EventLeaveNFC:       handle(engine.LeaveNFC),
		broadcast.EventSyncRequest:    handle(engine.Sync),
		broadcast.EventRequestCurrentState: func(ctx context.Context, clientID string, _ json.RawMessage) error {
			return engine.RequestCurrentState(ctx, clientID)
		},
		broadcast.EventRequestInitialState: func(ctx context.Context, clientID string, _ json.RawMessage) error {
			return engine.RequestInitialState(ctx, clientID)
		},
	}
	return d
}

func (d *Dispatcher) Dispatch(ctx context.Context, clientID string, raw []byte) {
	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil || f.Event == "" {
		d.engine.Reject(ctx, clientID, "", &broadcast.ValidationError{Field: "frame", Err: errMalformedFrame})
		return
	}
	d.guard(ctx, clientID, f.Event, func() error {
		h, ok := d.handlers[f.Event]
		if !ok {
			return fmt.Errorf("%w: %s", broadcast.ErrUnknownEvent, f.Event)
		}
		return h(ctx, clientID, f.Data)
	})
}

func (d *Dispatcher) guard(ctx context.Context, clientID, event string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic while handling client event", "client_id", clientID, "event", event, "panic", r)
			d.engine.Reject(ctx, clientID, event, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := fn(); err != nil {
		d.engine.Reject(ctx, clientID, event, err)
	}
}

// handle 解码请求体后调用引擎方法；缺省的 data 视为空对象
func handle[T any](fn func(ctx context.Context, clientID string, req T) error) handlerFunc {
	return func(ctx context.Context, clientID string, data json.RawMessage) error {
		var req T
		if len(data) > 0 && string(data) != "null" {
			if err := json.Unmarshal(data, &req); err != nil {
				return &broadcast.ValidationError{Field: "data", Err: err}
			}
		}
		return fn(ctx, clientID, req)
	}
}

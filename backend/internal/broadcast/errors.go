package broadcast

import (
	"errors"
	"fmt"
)

var (
	ErrMissingPlaylistID  = errors.New("MISSING_PLAYLIST_ID")
	ErrMissingAssocID     = errors.New("MISSING_ASSOC_ID")
	ErrMissingRoom        = errors.New("MISSING_ROOM")
	ErrMissingEventType   = errors.New("MISSING_EVENT_TYPE")
	ErrUnknownEvent       = errors.New("UNKNOWN_EVENT")
	ErrNoSnapshotProvider = errors.New("SNAPSHOT_PROVIDER_NOT_REGISTERED")
	ErrOperationInFlight  = errors.New("OPERATION_IN_FLIGHT")
)

// ValidationError 入参不合法；返回前不会修改任何状态，也不会消耗序号
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// TransportError 底层连接层（加入房间/离开房间/发送）失败
type TransportError struct {
	Op       string
	Room     string
	ClientID string
	Err      error
}

func (e *TransportError) Error() string {
	if e.Room != "" {
		return fmt.Sprintf("transport %s (client=%s room=%s): %v", e.Op, e.ClientID, e.Room, e.Err)
	}
	return fmt.Sprintf("transport %s (client=%s): %v", e.Op, e.ClientID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SnapshotError 某个房间的快照拉取失败，会中止整个 sync:request
type SnapshotError struct {
	Room string
	Err  error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot for room %s: %v", e.Room, e.Err)
}

func (e *SnapshotError) Unwrap() error { return e.Err }

// errorReply 把内部错误映射成发给客户端的 error 帧
func errorReply(event string, err error) ErrorReply {
	reply := ErrorReply{Source: event, Message: err.Error()}

	var verr *ValidationError
	var terr *TransportError
	switch {
	case errors.As(err, &verr):
		reply.Code = "validation_error"
		reply.Field = verr.Field
		reply.Message = verr.Err.Error()
	case errors.Is(err, ErrUnknownEvent):
		reply.Code = "unknown_event"
	case errors.Is(err, ErrNoSnapshotProvider):
		reply.Code = "unavailable"
	case errors.Is(err, ErrOperationInFlight):
		reply.Code = "operation_in_flight"
	case errors.As(err, &terr):
		reply.Code = "transport_error"
	default:
		reply.Code = "internal_error"
		reply.Message = "internal error"
	}
	return reply
}

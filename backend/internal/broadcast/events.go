package broadcast

// 客户端 -> 服务端的事件名
const (
	EventClientPing          = "client_ping"
	EventJoinPlaylists       = "join:playlists"
	EventJoinPlaylist        = "join:playlist"
	EventJoinNFC             = "join:nfc"
	EventLeavePlaylists      = "leave:playlists"
	EventLeavePlaylist       = "leave:playlist"
	EventLeaveNFC            = "leave:nfc"
	EventSyncRequest         = "sync:request"
	EventRequestCurrentState = "client:request_current_state"
	EventRequestInitialState = "client:request_initial_state"
)

// 服务端 -> 客户端的事件名
const (
	EventConnectionStatus = "connection_status"
	EventClientPong       = "client_pong"
	EventAckJoin          = "ack:join"
	EventAckLeave         = "ack:leave"
	EventAckOp            = "ack:op"
	EventSyncComplete     = "sync:complete"
	EventSyncError        = "sync:error"
	EventError            = "error"

	EventStatePlaylists  = "state:playlists"
	EventStatePlaylist   = "state:playlist"
	EventStateNFCSession = "state:nfc_session"
	EventStatePlayer     = "state:player"
	EventPositionUpdate  = "position_update"
	EventPlayerState     = "player_state"
)

// Payload 出站消息。集合是封闭的：只有本包内的类型能实现它。
type Payload interface {
	Event() string
	payload()
}

type ConnectionStatus struct {
	Status    string `json:"status"`
	SessionID string `json:"sid"`
	ServerSeq uint64 `json:"server_seq"`
}

type ClientPong struct {
	Timestamp  int64  `json:"timestamp"`
	ServerTime int64  `json:"server_time"`
	ServerSeq  uint64 `json:"server_seq"`
}

type JoinAck struct {
	Room        string  `json:"room"`
	Success     bool    `json:"success"`
	PlaylistID  string  `json:"playlist_id,omitempty"`
	ServerSeq   *uint64 `json:"server_seq,omitempty"`
	PlaylistSeq *uint64 `json:"playlist_seq,omitempty"`
}

type LeaveAck struct {
	Room       string `json:"room"`
	Success    bool   `json:"success"`
	PlaylistID string `json:"playlist_id,omitempty"`
}

type OperationAck struct {
	ClientOpID string `json:"client_op_id"`
	Success    bool   `json:"success"`
	Data       any    `json:"data,omitempty"`
	ServerSeq  uint64 `json:"server_seq"`
}

type SyncComplete struct {
	CurrentGlobalSeq uint64   `json:"current_global_seq"`
	SyncedRooms      []string `json:"synced_rooms"`
}

type SyncError struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type ErrorReply struct {
	Source  string `json:"event,omitempty"`
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// StateEvent 带序号的状态事件：既用于房间广播，也用于直接下发快照
type StateEvent struct {
	EventType   string `json:"event_type"`
	EventID     string `json:"event_id"`
	ServerSeq   uint64 `json:"server_seq"`
	PlaylistID  string `json:"playlist_id,omitempty"`
	PlaylistSeq uint64 `json:"playlist_seq,omitempty"`
	Room        string `json:"room,omitempty"`
	Timestamp   int64  `json:"timestamp"`
	Data        any    `json:"data"`
}

func (ConnectionStatus) Event() string { return EventConnectionStatus }
func (ClientPong) Event() string       { return EventClientPong }
func (JoinAck) Event() string          { return EventAckJoin }
func (LeaveAck) Event() string         { return EventAckLeave }
func (OperationAck) Event() string     { return EventAckOp }
func (SyncComplete) Event() string     { return EventSyncComplete }
func (SyncError) Event() string        { return EventSyncError }
func (ErrorReply) Event() string       { return EventError }
func (e StateEvent) Event() string     { return e.EventType }

func (ConnectionStatus) payload() {}
func (ClientPong) payload()       {}
func (JoinAck) payload()          {}
func (LeaveAck) payload()         {}
func (OperationAck) payload()     {}
func (SyncComplete) payload()     {}
func (SyncError) payload()        {}
func (ErrorReply) payload()       {}
func (StateEvent) payload()       {}

// 入站请求体

type JoinPlaylistRequest struct {
	PlaylistID string `json:"playlist_id"`
	ClientOpID string `json:"client_op_id,omitempty"`
}

type JoinNFCRequest struct {
	AssocID    string `json:"assoc_id"`
	ClientOpID string `json:"client_op_id,omitempty"`
}

type RoomRequest struct {
	ClientOpID string `json:"client_op_id,omitempty"`
}

type PingRequest struct {
	Timestamp int64 `json:"timestamp"`
}

// SyncRequest 客户端重连后汇报自己见过的最大序号；缺失的字段视为“什么都没见过”
type SyncRequest struct {
	LastGlobalSeq    *uint64           `json:"last_global_seq,omitempty"`
	LastPlaylistSeqs map[string]uint64 `json:"last_playlist_seqs,omitempty"`
}

func u64(v uint64) *uint64 { return &v }

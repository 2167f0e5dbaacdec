package av

import (
	"net"
	"time"
)

// SessionState represents the lifecycle state of a session with one sender.
type SessionState uint32

const (
	// SessionUnprepared indicates Connect packets are being sent and no
	// Confirm has arrived yet.
	SessionUnprepared SessionState = iota
	// SessionPreparing indicates the sender confirmed and rendering
	// resources are being set up.
	SessionPreparing
	// SessionPrepared indicates decoded frames may be rendered.
	SessionPrepared
)

// String returns a string representation of the session state.
func (s SessionState) String() string {
	switch s {
	case SessionUnprepared:
		return "unprepared"
	case SessionPreparing:
		return "preparing"
	case SessionPrepared:
		return "prepared"
	default:
		return "unknown"
	}
}

// EndReason tells why a session left the registry.
type EndReason uint32

const (
	// EndConnectFailed indicates the handshake retry budget ran out.
	EndConnectFailed EndReason = iota
	// EndTimedOut indicates nothing arrived from the sender within the timeout.
	EndTimedOut
	// EndTransportError indicates a socket failure attributed to the sender.
	EndTransportError
	// EndClosed indicates the receiver closed the session.
	EndClosed
)

// String returns a string representation of the end reason.
func (r EndReason) String() string {
	switch r {
	case EndConnectFailed:
		return "connect_failed"
	case EndTimedOut:
		return "timed_out"
	case EndTransportError:
		return "transport_error"
	case EndClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionInfo is a point-in-time copy of a session's registry state.
type SessionInfo struct {
	ReceiverSessionID uint32
	SenderSessionID   uint32 // zero until confirmed
	Endpoint          net.Addr
	State             SessionState
	ConnectAttempts   int
	CreatedAt         time.Time
	ConfirmedAt       time.Time
	LastReceivedAt    time.Time
}

// SessionEvent reports a session that ended during a registry tick.
type SessionEvent struct {
	Session SessionInfo
	Reason  EndReason
	Err     error // set for EndTransportError
}

// ReceiverStats counts the traffic and frame outcomes of one session.
type ReceiverStats struct {
	PacketsReceived   uint64
	FramesCompleted   uint64
	FramesRecovered   uint64
	FramesAbandoned   uint64
	FragmentsRejected uint64
	InvalidMessages   uint64
	FramesDecoded     uint64
	DecodeErrors      uint64
	FramesRendered    uint64
	ReportsSent       uint64
	AudioFrames       uint64
	LastFrameID       int32
	LastDecodeTime    time.Duration
}

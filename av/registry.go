package av

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/volstream/transport"
)

// RegistryConfig holds the handshake and liveness policy.
type RegistryConfig struct {
	// ConnectAttempts is how many Connect packets are sent before giving up.
	ConnectAttempts int
	// ConnectInterval separates two Connect packets.
	ConnectInterval time.Duration
	// HeartbeatInterval separates two Heartbeat packets to a confirmed sender.
	HeartbeatInterval time.Duration
	// Timeout ends a confirmed session after this long without any packet.
	Timeout time.Duration

	WantsVideo bool
	WantsAudio bool
	WantsFloor bool
}

// DefaultRegistryConfig returns the policy used by senders in the field.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		ConnectAttempts:   5,
		ConnectInterval:   300 * time.Millisecond,
		HeartbeatInterval: time.Second,
		Timeout:           5 * time.Second,
		WantsVideo:        true,
		WantsAudio:        true,
		WantsFloor:        true,
	}
}

// Validate checks the policy for values the registry cannot run with.
func (c RegistryConfig) Validate() error {
	if c.ConnectAttempts <= 0 {
		return fmt.Errorf("connect attempts must be positive, got %d", c.ConnectAttempts)
	}
	if c.ConnectInterval <= 0 || c.HeartbeatInterval <= 0 || c.Timeout <= 0 {
		return errors.New("connect interval, heartbeat interval and timeout must be positive")
	}
	if c.Timeout <= c.HeartbeatInterval {
		return fmt.Errorf("timeout %v must exceed heartbeat interval %v", c.Timeout, c.HeartbeatInterval)
	}
	return nil
}

// session is the registry's mutable record of one sender.
type session struct {
	receiverSessionID uint32
	senderSessionID   uint32
	endpoint          net.Addr
	state             SessionState

	connectAttempts     int
	createdAt           time.Time
	confirmedAt         time.Time
	lastConnectSentAt   time.Time
	lastHeartbeatSentAt time.Time
	lastReceivedAt      time.Time
}

func (s *session) info() SessionInfo {
	return SessionInfo{
		ReceiverSessionID: s.receiverSessionID,
		SenderSessionID:   s.senderSessionID,
		Endpoint:          s.endpoint,
		State:             s.state,
		ConnectAttempts:   s.connectAttempts,
		CreatedAt:         s.createdAt,
		ConfirmedAt:       s.confirmedAt,
		LastReceivedAt:    s.lastReceivedAt,
	}
}

// Registry tracks every session of this receiver keyed by the
// receiver-chosen session ID. It owns the handshake retries, the outgoing
// heartbeats and the liveness timeout.
//
// The registry is driven by the caller's tick; it starts no goroutines.
type Registry struct {
	mu           sync.RWMutex
	transport    transport.Transport
	config       RegistryConfig
	sessions     map[uint32]*session
	timeProvider TimeProvider
	newID        func() (uint32, error)
}

// NewRegistry creates a session registry that sends through tr.
func NewRegistry(tr transport.Transport, config RegistryConfig) (*Registry, error) {
	if tr == nil {
		return nil, errors.New("transport cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid registry config: %w", err)
	}

	return &Registry{
		transport:    tr,
		config:       config,
		sessions:     make(map[uint32]*session),
		timeProvider: DefaultTimeProvider{},
		newID:        randomSessionID,
	}, nil
}

// SetTimeProvider sets the time provider for deterministic testing.
func (r *Registry) SetTimeProvider(tp TimeProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	r.timeProvider = tp
}

// randomSessionID draws a non-zero session ID from crypto/rand.
func randomSessionID() (uint32, error) {
	var b [4]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return 0, err
		}
		if id := binary.LittleEndian.Uint32(b[:]); id != 0 {
			return id, nil
		}
	}
}

// BeginConnection registers an Unprepared session with a fresh session ID
// and sends the first Connect packet to endpoint. Further Connect packets are
// sent by Tick until a Confirm arrives or the retry budget is spent.
func (r *Registry) BeginConnection(endpoint net.Addr) (uint32, error) {
	if endpoint == nil {
		return 0, ErrInvalidEndpoint
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.allocateID()
	if err != nil {
		return 0, err
	}

	now := r.timeProvider.Now()
	s := &session{
		receiverSessionID: id,
		endpoint:          endpoint,
		state:             SessionUnprepared,
		createdAt:         now,
	}

	if err := r.sendConnect(s, now); err != nil {
		return 0, fmt.Errorf("send connect: %w", err)
	}
	r.sessions[id] = s

	logrus.WithFields(logrus.Fields{
		"function":   "BeginConnection",
		"session_id": id,
		"endpoint":   endpoint.String(),
	}).Info("Connecting to sender")

	return id, nil
}

// allocateID picks an ID not used by any active session.
func (r *Registry) allocateID() (uint32, error) {
	const maxTries = 16
	for i := 0; i < maxTries; i++ {
		id, err := r.newID()
		if err != nil {
			return 0, fmt.Errorf("generate session id: %w", err)
		}
		if _, taken := r.sessions[id]; !taken && id != 0 {
			return id, nil
		}
	}
	return 0, ErrSessionIDExhausted
}

func (r *Registry) sendConnect(s *session, now time.Time) error {
	err := r.transport.Send(&transport.ConnectPacket{
		ReceiverSessionID: s.receiverSessionID,
		WantsVideo:        r.config.WantsVideo,
		WantsAudio:        r.config.WantsAudio,
		WantsFloor:        r.config.WantsFloor,
	}, s.endpoint)

	s.connectAttempts++
	s.lastConnectSentAt = now
	return err
}

// HandleConfirm matches Confirm packets from not yet known senders against
// Unprepared sessions. A matched session moves to Preparing and adopts the
// sender's session ID and endpoint; the confirmed sessions are returned so
// the caller can set up rendering resources. Confirms for unknown receiver
// session IDs, and repeated Confirms, are ignored.
func (r *Registry) HandleConfirm(infos []transport.ConfirmInfo) []SessionInfo {
	if len(infos) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.timeProvider.Now()
	var confirmed []SessionInfo

	for _, ci := range infos {
		s, ok := r.sessions[ci.Confirm.ReceiverSessionID]
		if !ok || s.state != SessionUnprepared {
			logrus.WithFields(logrus.Fields{
				"function":         "HandleConfirm",
				"receiver_session": ci.Confirm.ReceiverSessionID,
				"sender_session":   ci.Confirm.SenderSessionID,
				"known_session":    ok,
			}).Debug("Ignoring confirm")
			continue
		}
		if r.senderInUse(ci.Confirm.SenderSessionID) {
			logrus.WithFields(logrus.Fields{
				"function":       "HandleConfirm",
				"sender_session": ci.Confirm.SenderSessionID,
			}).Warn("Ignoring confirm reusing an active sender session id")
			continue
		}

		s.senderSessionID = ci.Confirm.SenderSessionID
		if ci.SenderEndpoint != nil {
			s.endpoint = ci.SenderEndpoint
		}
		s.state = SessionPreparing
		s.confirmedAt = now
		s.lastReceivedAt = now
		s.lastHeartbeatSentAt = now

		logrus.WithFields(logrus.Fields{
			"function":         "HandleConfirm",
			"receiver_session": s.receiverSessionID,
			"sender_session":   s.senderSessionID,
			"endpoint":         s.endpoint.String(),
			"connect_attempts": s.connectAttempts,
		}).Info("Session confirmed")

		confirmed = append(confirmed, s.info())
	}

	return confirmed
}

func (r *Registry) senderInUse(senderSessionID uint32) bool {
	for _, s := range r.sessions {
		if s.state != SessionUnprepared && s.senderSessionID == senderSessionID {
			return true
		}
	}
	return false
}

// OnPacketReceived resets the liveness timer of the session confirmed by
// senderSessionID. It reports whether such a session exists.
func (r *Registry) OnPacketReceived(senderSessionID uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.state != SessionUnprepared && s.senderSessionID == senderSessionID {
			s.lastReceivedAt = r.timeProvider.Now()
			return true
		}
	}
	return false
}

// MarkPrepared moves a Preparing session to Prepared once the rendering
// collaborator is ready.
func (r *Registry) MarkPrepared(receiverSessionID uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[receiverSessionID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrSessionNotFound, receiverSessionID)
	}
	if s.state != SessionPreparing {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, s.state, SessionPrepared)
	}
	s.state = SessionPrepared

	logrus.WithFields(logrus.Fields{
		"function":         "MarkPrepared",
		"receiver_session": receiverSessionID,
	}).Info("Session prepared")
	return nil
}

// Tick advances every session to now: it retries pending handshakes, sends
// due heartbeats and removes sessions whose handshake failed or whose sender
// went silent. Each removed session is reported exactly once.
func (r *Registry) Tick(now time.Time) []SessionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var events []SessionEvent
	for id, s := range r.sessions {
		event, ended := r.tickSession(s, now)
		if !ended {
			continue
		}
		delete(r.sessions, id)
		logEnded(event)
		events = append(events, event)
	}
	return events
}

// tickSession runs the timers of one session.
func (r *Registry) tickSession(s *session, now time.Time) (SessionEvent, bool) {
	if s.state == SessionUnprepared {
		if now.Sub(s.lastConnectSentAt) < r.config.ConnectInterval {
			return SessionEvent{}, false
		}
		if s.connectAttempts >= r.config.ConnectAttempts {
			return SessionEvent{Session: s.info(), Reason: EndConnectFailed}, true
		}
		if err := r.sendConnect(s, now); err != nil {
			return SessionEvent{Session: s.info(), Reason: EndTransportError, Err: err}, true
		}
		return SessionEvent{}, false
	}

	if now.Sub(s.lastReceivedAt) > r.config.Timeout {
		return SessionEvent{Session: s.info(), Reason: EndTimedOut}, true
	}

	if now.Sub(s.lastHeartbeatSentAt) >= r.config.HeartbeatInterval {
		err := r.transport.Send(&transport.HeartbeatPacket{SessionID: s.receiverSessionID}, s.endpoint)
		s.lastHeartbeatSentAt = now
		if err != nil {
			return SessionEvent{Session: s.info(), Reason: EndTransportError, Err: err}, true
		}
	}
	return SessionEvent{}, false
}

func logEnded(event SessionEvent) {
	fields := logrus.Fields{
		"function":         "Registry.Tick",
		"receiver_session": event.Session.ReceiverSessionID,
		"sender_session":   event.Session.SenderSessionID,
		"reason":           event.Reason.String(),
	}
	if event.Session.Endpoint != nil {
		fields["endpoint"] = event.Session.Endpoint.String()
	}
	if event.Err != nil {
		fields["error"] = event.Err.Error()
	}
	logrus.WithFields(fields).Warn("Session ended")
}

// Remove ends a session on behalf of the caller, for example after a
// transport error or a user disconnect.
func (r *Registry) Remove(receiverSessionID uint32) (SessionInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[receiverSessionID]
	if !ok {
		return SessionInfo{}, false
	}
	delete(r.sessions, receiverSessionID)
	return s.info(), true
}

// RemoveEndpoint ends every session whose sender lives at addr and returns
// them as events with reason EndTransportError.
func (r *Registry) RemoveEndpoint(addr net.Addr, cause error) []SessionEvent {
	if addr == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var events []SessionEvent
	for id, s := range r.sessions {
		if s.endpoint == nil || s.endpoint.String() != addr.String() {
			continue
		}
		delete(r.sessions, id)
		event := SessionEvent{Session: s.info(), Reason: EndTransportError, Err: cause}
		logEnded(event)
		events = append(events, event)
	}
	return events
}

// Session returns a copy of one session's state.
func (r *Registry) Session(receiverSessionID uint32) (SessionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[receiverSessionID]
	if !ok {
		return SessionInfo{}, false
	}
	return s.info(), true
}

// Sessions returns a copy of every session's state.
func (r *Registry) Sessions() []SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.info())
	}
	return infos
}

// RemoteSenders lists the confirmed senders for packet classification.
func (r *Registry) RemoteSenders() []transport.RemoteSender {
	r.mu.RLock()
	defer r.mu.RUnlock()

	senders := make([]transport.RemoteSender, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.state == SessionUnprepared {
			continue
		}
		senders = append(senders, transport.RemoteSender{
			SenderSessionID:   s.senderSessionID,
			ReceiverSessionID: s.receiverSessionID,
			Endpoint:          s.endpoint,
		})
	}
	return senders
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

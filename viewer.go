package volstream

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/volstream/av"
	"github.com/opd-ai/volstream/transport"
)

// ErrViewerStopped is returned by operations on a killed Viewer.
var ErrViewerStopped = errors.New("viewer stopped")

// KillDrainTimeout bounds how long Kill waits for renderers to finish the
// frames already handed to them.
const KillDrainTimeout = time.Second

// SessionConfirmedCallback is called when a sender confirms a session.
type SessionConfirmedCallback func(info av.SessionInfo)

// SessionEndedCallback is called when a confirmed session ends.
type SessionEndedCallback func(event av.SessionEvent)

// ConnectionFailedCallback is called when a sender never confirmed a session.
type ConnectionFailedCallback func(event av.SessionEvent)

// SessionStatus is the state and counters of one session.
type SessionStatus struct {
	Info  av.SessionInfo
	Stats av.ReceiverStats
}

type sessionReceiver struct {
	receiver       *av.Receiver
	handoffDropped uint64
}

// Viewer receives volumetric streams from any number of senders. All work
// happens in Iterate, which the caller runs every IterationInterval.
type Viewer struct {
	options       *Options
	transport     transport.Transport
	ownsTransport bool
	classifier    *transport.Classifier
	registry      *av.Registry
	metrics       *Metrics
	timeProvider  av.TimeProvider

	// tickMu serializes Iterate, Disconnect and Kill.
	tickMu  sync.Mutex
	running bool

	mu        sync.RWMutex
	receivers map[uint32]*sessionReceiver

	callbackMu               sync.RWMutex
	sessionConfirmedCallback SessionConfirmedCallback
	sessionEndedCallback     SessionEndedCallback
	connectionFailedCallback ConnectionFailedCallback
}

// New creates a new Viewer with the given options. A nil options uses
// NewOptions.
func New(options *Options) (*Viewer, error) {
	if options == nil {
		options = NewOptions()
	}
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	v := &Viewer{
		options:      options,
		transport:    options.Transport,
		classifier:   transport.NewClassifier(),
		timeProvider: av.DefaultTimeProvider{},
		receivers:    make(map[uint32]*sessionReceiver),
		running:      true,
	}

	if v.transport == nil {
		udp, err := transport.NewUDPTransport(options.ListenAddress)
		if err != nil {
			return nil, fmt.Errorf("listen on %s: %w", options.ListenAddress, err)
		}
		v.transport = udp
		v.ownsTransport = true
	}

	registry, err := av.NewRegistry(v.transport, options.registryConfig())
	if err != nil {
		v.closeTransport()
		return nil, err
	}
	v.registry = registry

	if options.Registerer != nil {
		metrics, err := NewMetrics(options.Registerer)
		if err != nil {
			v.closeTransport()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		v.metrics = metrics
	}

	logrus.WithFields(logrus.Fields{
		"function":   "New",
		"local_addr": v.transport.LocalAddr().String(),
		"metrics":    v.metrics != nil,
	}).Info("Viewer created")

	return v, nil
}

// SetTimeProvider sets the time provider for deterministic testing. It
// applies to sessions created afterwards.
func (v *Viewer) SetTimeProvider(tp av.TimeProvider) {
	v.timeProvider = tp
	v.registry.SetTimeProvider(tp)
}

// Connect starts a session with the sender at address ("host:port").
func (v *Viewer) Connect(address string) (uint32, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", address, err)
	}
	return v.ConnectAddr(addr)
}

// ConnectAddr starts a session with the sender at addr and returns the
// receiver session ID.
func (v *Viewer) ConnectAddr(addr net.Addr) (uint32, error) {
	if !v.IsRunning() {
		return 0, ErrViewerStopped
	}

	id, err := v.registry.BeginConnection(addr)
	if err != nil {
		return 0, err
	}
	if v.metrics != nil {
		v.metrics.SessionsStarted.Inc()
	}
	return id, nil
}

// MarkPrepared tells the viewer that rendering resources for a session are
// ready. Frames of the session reach the renderer from the next Iterate on.
func (v *Viewer) MarkPrepared(receiverSessionID uint32) error {
	return v.registry.MarkPrepared(receiverSessionID)
}

// Iterate performs a single tick: it drains the socket, completes
// handshakes, runs session timers and moves every session's frames through
// assembly, decode and render handoff. A receive error is returned after the
// rest of the tick has run.
func (v *Viewer) Iterate() error {
	v.tickMu.Lock()
	if !v.running {
		v.tickMu.Unlock()
		return ErrViewerStopped
	}

	var pending []func()
	receiveErr := v.iterate(&pending)
	v.tickMu.Unlock()

	for _, notify := range pending {
		notify()
	}
	return receiveErr
}

func (v *Viewer) iterate(pending *[]func()) error {
	datagrams, receiveErr := v.transport.ReceiveBatch()
	if receiveErr != nil {
		receiveErr = v.handleReceiveError(receiveErr, pending)
	}

	senders := v.registry.RemoteSenders()
	collection := v.classifier.Classify(datagrams, senders)
	v.metrics.observeCollection(collection)

	for _, info := range v.registry.HandleConfirm(collection.ConfirmInfos) {
		v.startReceiver(info, pending)
	}

	for senderID, set := range collection.SenderPacketSets {
		if set.ReceivedAny {
			v.registry.OnPacketReceived(senderID)
		}
	}

	v.endSessions(v.registry.Tick(v.timeProvider.Now()), pending)

	for _, sender := range senders {
		set := collection.SenderPacketSets[sender.SenderSessionID]
		v.updateReceiver(sender.ReceiverSessionID, set, pending)
	}

	v.metrics.setSessions(v.registry.Sessions())
	return receiveErr
}

// handleReceiveError ends the sessions of the endpoint a transport error is
// attributed to. Errors without an endpoint are returned to the caller.
func (v *Viewer) handleReceiveError(err error, pending *[]func()) error {
	if v.endEndpoint(err, pending) {
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "Iterate",
		"error":    err.Error(),
	}).Warn("Receive failed")
	return fmt.Errorf("receive: %w", err)
}

// endEndpoint ends the sessions of the endpoint err is attributed to. It
// reports false when err names no endpoint.
func (v *Viewer) endEndpoint(err error, pending *[]func()) bool {
	var transportErr *transport.TransportError
	if !errors.As(err, &transportErr) || transportErr.Addr == nil {
		return false
	}
	v.endSessions(v.registry.RemoveEndpoint(transportErr.Addr, err), pending)
	return true
}

func (v *Viewer) startReceiver(info av.SessionInfo, pending *[]func()) {
	config := av.ReceiverConfig{
		ColorDecoder:      v.options.NewColorDecoder(),
		DepthDecoder:      v.options.NewDepthDecoder(),
		Renderer:          v.options.Renderer,
		AudioSink:         v.options.AudioSink,
		FloorSink:         v.options.FloorSink,
		MaxInFlightFrames: v.options.MaxInFlightFrames,
		HandoffQueueSize:  v.options.HandoffQueueSize,
	}
	if v.options.WantsAudio && v.options.NewAudioDecoder != nil {
		decoder, err := v.options.NewAudioDecoder()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":         "startReceiver",
				"receiver_session": info.ReceiverSessionID,
				"error":            err.Error(),
			}).Warn("Audio decoder unavailable, receiving without audio")
		} else {
			config.AudioDecoder = decoder
		}
	}

	receiver, err := av.NewReceiver(info, v.transport, config)
	if err != nil {
		v.registry.Remove(info.ReceiverSessionID)
		logrus.WithFields(logrus.Fields{
			"function":         "startReceiver",
			"receiver_session": info.ReceiverSessionID,
			"error":            err.Error(),
		}).Error("Failed to create session receiver")
		return
	}
	receiver.SetTimeProvider(v.timeProvider)

	v.mu.Lock()
	v.receivers[info.ReceiverSessionID] = &sessionReceiver{receiver: receiver}
	v.mu.Unlock()

	v.callbackMu.RLock()
	callback := v.sessionConfirmedCallback
	v.callbackMu.RUnlock()
	if callback != nil {
		*pending = append(*pending, func() { callback(info) })
	}
}

func (v *Viewer) updateReceiver(receiverSessionID uint32, set *transport.SenderPacketSet, pending *[]func()) {
	v.mu.RLock()
	sr, ok := v.receivers[receiverSessionID]
	v.mu.RUnlock()
	if !ok || set == nil {
		return
	}

	info, ok := v.registry.Session(receiverSessionID)
	if !ok {
		return
	}

	result := sr.receiver.Update(set, info.State == av.SessionPrepared)
	v.metrics.observeUpdate(result)

	if dropped := sr.receiver.HandoffDropped(); dropped > sr.handoffDropped {
		if v.metrics != nil {
			v.metrics.HandoffDropped.Add(float64(dropped - sr.handoffDropped))
		}
		sr.handoffDropped = dropped
	}

	if result.TransportErr != nil {
		v.endEndpoint(result.TransportErr, pending)
	}
}

// endSessions releases the receivers of ended sessions and queues their
// notifications.
func (v *Viewer) endSessions(events []av.SessionEvent, pending *[]func()) {
	if len(events) == 0 {
		return
	}

	v.callbackMu.RLock()
	ended := v.sessionEndedCallback
	failed := v.connectionFailedCallback
	v.callbackMu.RUnlock()

	for _, event := range events {
		v.closeReceiver(event.Session.ReceiverSessionID)
		v.metrics.observeEnded(event)

		switch {
		case event.Reason == av.EndConnectFailed && failed != nil:
			*pending = append(*pending, func() { failed(event) })
		case event.Reason != av.EndConnectFailed && ended != nil:
			*pending = append(*pending, func() { ended(event) })
		}
	}
}

// closeReceiver stops a session's receiver without waiting for its renderer
// and returns it, or nil when the session had none.
func (v *Viewer) closeReceiver(receiverSessionID uint32) *av.Receiver {
	v.mu.Lock()
	sr, ok := v.receivers[receiverSessionID]
	delete(v.receivers, receiverSessionID)
	v.mu.Unlock()

	if !ok {
		return nil
	}
	sr.receiver.Close()
	return sr.receiver
}

// Disconnect ends a session on request of the application.
func (v *Viewer) Disconnect(receiverSessionID uint32) error {
	v.tickMu.Lock()
	info, ok := v.registry.Remove(receiverSessionID)
	if !ok {
		v.tickMu.Unlock()
		return fmt.Errorf("%w: %d", av.ErrSessionNotFound, receiverSessionID)
	}

	var pending []func()
	v.endSessions([]av.SessionEvent{{Session: info, Reason: av.EndClosed}}, &pending)
	v.tickMu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":         "Disconnect",
		"receiver_session": receiverSessionID,
	}).Info("Session closed")

	for _, notify := range pending {
		notify()
	}
	return nil
}

// Sessions returns the state and counters of every session, ordered by
// receiver session ID.
func (v *Viewer) Sessions() []SessionStatus {
	infos := v.registry.Sessions()
	sort.Slice(infos, func(i, j int) bool { return infos[i].ReceiverSessionID < infos[j].ReceiverSessionID })

	v.mu.RLock()
	defer v.mu.RUnlock()

	statuses := make([]SessionStatus, 0, len(infos))
	for _, info := range infos {
		status := SessionStatus{Info: info}
		if sr, ok := v.receivers[info.ReceiverSessionID]; ok {
			status.Stats = sr.receiver.Stats()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// OnSessionConfirmed sets the callback for confirmed sessions.
func (v *Viewer) OnSessionConfirmed(callback SessionConfirmedCallback) {
	v.callbackMu.Lock()
	defer v.callbackMu.Unlock()
	v.sessionConfirmedCallback = callback
}

// OnSessionEnded sets the callback for sessions that ended after being
// confirmed.
func (v *Viewer) OnSessionEnded(callback SessionEndedCallback) {
	v.callbackMu.Lock()
	defer v.callbackMu.Unlock()
	v.sessionEndedCallback = callback
}

// OnConnectionFailed sets the callback for handshakes that ran out of
// retries.
func (v *Viewer) OnConnectionFailed(callback ConnectionFailedCallback) {
	v.callbackMu.Lock()
	defer v.callbackMu.Unlock()
	v.connectionFailedCallback = callback
}

// LocalAddr returns the address the viewer receives on.
func (v *Viewer) LocalAddr() net.Addr {
	return v.transport.LocalAddr()
}

// IterationInterval returns the recommended interval between iterations.
func (v *Viewer) IterationInterval() time.Duration {
	return v.options.IterationInterval
}

// IsRunning checks if the Viewer is still running.
func (v *Viewer) IsRunning() bool {
	v.tickMu.Lock()
	defer v.tickMu.Unlock()
	return v.running
}

// Kill stops the Viewer and releases the socket if the viewer opened it.
// It gives the renderer up to KillDrainTimeout to finish the frames already
// handed to it. Kill is idempotent.
func (v *Viewer) Kill() {
	v.tickMu.Lock()
	if !v.running {
		v.tickMu.Unlock()
		return
	}
	v.running = false

	var closed []*av.Receiver
	for _, info := range v.registry.Sessions() {
		v.registry.Remove(info.ReceiverSessionID)
		if r := v.closeReceiver(info.ReceiverSessionID); r != nil {
			closed = append(closed, r)
		}
	}
	v.closeTransport()
	v.tickMu.Unlock()

	deadline := time.Now().Add(KillDrainTimeout)
	for _, r := range closed {
		if !r.Wait(time.Until(deadline)) {
			logrus.WithFields(logrus.Fields{
				"function": "Kill",
				"timeout":  KillDrainTimeout,
			}).Warn("Renderer did not finish queued frames")
			break
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Kill",
	}).Info("Viewer stopped")
}

func (v *Viewer) closeTransport() {
	if !v.ownsTransport {
		return
	}
	if err := v.transport.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "closeTransport",
			"error":    err.Error(),
		}).Warn("Failed to close transport")
	}
}

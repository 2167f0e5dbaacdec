package testing

import (
	"errors"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/volstream/transport"
)

// ErrSimulatedSendFailure is the cause carried by injected send failures.
var ErrSimulatedSendFailure = errors.New("simulated send failure")

// Addr is a named in-memory endpoint.
type Addr string

// Network implements net.Addr.
func (a Addr) Network() string { return "sim" }

// String implements net.Addr.
func (a Addr) String() string { return string(a) }

// SentRecord is one message sent through the simulated transport.
type SentRecord struct {
	Message transport.Message
	Data    []byte
	Addr    net.Addr
}

// SimulatedTransport is an in-memory transport.Transport for tests.
type SimulatedTransport struct {
	mu        sync.Mutex
	localAddr net.Addr
	inbox     []transport.Datagram
	errs      []error
	sent      []SentRecord
	failSends map[string]bool
	closed    bool
}

// NewSimulatedTransport creates a simulated transport bound to localAddr.
func NewSimulatedTransport(localAddr net.Addr) *SimulatedTransport {
	logrus.WithFields(logrus.Fields{
		"function":   "NewSimulatedTransport",
		"local_addr": localAddr.String(),
	}).Debug("Creating simulated transport")

	return &SimulatedTransport{
		localAddr: localAddr,
		failSends: make(map[string]bool),
	}
}

// Send records msg. The wire encoding is exercised so oversized or invalid
// messages fail as they would on a socket.
func (s *SimulatedTransport) Send(msg transport.Message, addr net.Addr) error {
	data, err := transport.Encode(msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &transport.TransportError{Addr: addr, Err: net.ErrClosed}
	}
	if addr != nil && s.failSends[addr.String()] {
		return &transport.TransportError{Addr: addr, Err: ErrSimulatedSendFailure}
	}

	s.sent = append(s.sent, SentRecord{Message: msg, Data: data, Addr: addr})
	return nil
}

// ReceiveBatch returns the injected datagrams and the first injected error.
func (s *SimulatedTransport) ReceiveBatch() ([]transport.Datagram, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.inbox
	s.inbox = nil

	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return batch, err
	}
	return batch, nil
}

// LocalAddr returns the simulated local address.
func (s *SimulatedTransport) LocalAddr() net.Addr {
	return s.localAddr
}

// Close marks the transport closed; later sends fail.
func (s *SimulatedTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Inject encodes msg and queues it as if it arrived from addr.
func (s *SimulatedTransport) Inject(from net.Addr, msg transport.Message) error {
	data, err := transport.Encode(msg)
	if err != nil {
		return err
	}
	s.InjectRaw(from, data)
	return nil
}

// InjectRaw queues raw bytes as a datagram from addr.
func (s *SimulatedTransport) InjectRaw(from net.Addr, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox = append(s.inbox, transport.Datagram{Data: data, Addr: from})
}

// InjectError queues an error for a later ReceiveBatch call.
func (s *SimulatedTransport) InjectError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

// FailSendsTo makes every later Send to addr fail.
func (s *SimulatedTransport) FailSendsTo(addr net.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSends[addr.String()] = true
}

// Sent returns a copy of every recorded send.
func (s *SimulatedTransport) Sent() []SentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentRecord, len(s.sent))
	copy(out, s.sent)
	return out
}

// SentOfType returns the recorded messages of one packet type.
func (s *SimulatedTransport) SentOfType(t transport.PacketType) []transport.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []transport.Message
	for _, r := range s.sent {
		if r.Message.Type() == t {
			out = append(out, r.Message)
		}
	}
	return out
}

// ResetSent forgets the recorded sends.
func (s *SimulatedTransport) ResetSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
}

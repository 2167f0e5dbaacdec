package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/volstream/limits"
)

const (
	// defaultInboxSize bounds datagrams buffered between two ReceiveBatch calls.
	defaultInboxSize = 8192

	readPollInterval = 100 * time.Millisecond
)

// UDPTransport implements Transport over a net.PacketConn. A reader goroutine
// drains the socket into a bounded inbox which ReceiveBatch empties without
// blocking.
type UDPTransport struct {
	conn    net.PacketConn
	inbox   chan Datagram
	errs    chan error
	dropped atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewUDPTransport creates a new UDP transport listener.
func NewUDPTransport(listenAddr string) (*UDPTransport, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, err
	}
	return NewPacketConnTransport(conn), nil
}

// NewPacketConnTransport wraps an existing PacketConn. The transport owns conn
// and closes it on Close.
func NewPacketConnTransport(conn net.PacketConn) *UDPTransport {
	ctx, cancel := context.WithCancel(context.Background())

	t := &UDPTransport{
		conn:   conn,
		inbox:  make(chan Datagram, defaultInboxSize),
		errs:   make(chan error, 16),
		ctx:    ctx,
		cancel: cancel,
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewPacketConnTransport",
		"local_addr": conn.LocalAddr().String(),
	}).Info("UDP transport listening")

	t.wg.Add(1)
	go t.processPackets()

	return t
}

// Send sends a message to the specified address.
func (t *UDPTransport) Send(msg Message, addr net.Addr) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	if _, err := t.conn.WriteTo(data, addr); err != nil {
		return &TransportError{Addr: addr, Err: err}
	}
	return nil
}

// ReceiveBatch returns every datagram buffered since the last call, plus the
// first pending socket error, if any.
func (t *UDPTransport) ReceiveBatch() ([]Datagram, error) {
	var batch []Datagram
drain:
	for {
		select {
		case d := <-t.inbox:
			batch = append(batch, d)
		default:
			break drain
		}
	}

	select {
	case err := <-t.errs:
		return batch, err
	default:
		return batch, nil
	}
}

// Dropped returns how many datagrams were discarded because the inbox was full.
func (t *UDPTransport) Dropped() uint64 {
	return t.dropped.Load()
}

// LocalAddr returns the local address the transport is listening on.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Close shuts down the transport and waits for the reader goroutine.
func (t *UDPTransport) Close() error {
	var err error
	t.once.Do(func() {
		t.cancel()
		err = t.conn.Close()
		t.wg.Wait()
	})
	return err
}

// processPackets handles incoming packets until the transport is closed.
func (t *UDPTransport) processPackets() {
	defer t.wg.Done()

	// One extra byte so oversized datagrams are detectable.
	buffer := make([]byte, limits.MaxDatagramSize+1)

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		d, err := t.readPacketData(buffer)
		if err != nil {
			if t.handleReadError(err) {
				return
			}
			continue
		}

		select {
		case t.inbox <- d:
		default:
			t.dropped.Add(1)
		}
	}
}

// readPacketData reads one datagram with a short deadline so shutdown is observed.
func (t *UDPTransport) readPacketData(buffer []byte) (Datagram, error) {
	_ = t.conn.SetReadDeadline(time.Now().Add(readPollInterval))

	n, addr, err := t.conn.ReadFrom(buffer)
	if err != nil {
		return Datagram{}, &TransportError{Addr: addr, Err: err}
	}

	data := make([]byte, n)
	copy(data, buffer[:n])
	return Datagram{Data: data, Addr: addr}, nil
}

// handleReadError classifies a read error. It returns true when the reader
// goroutine must stop.
func (t *UDPTransport) handleReadError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}
	if errors.Is(err, net.ErrClosed) || t.ctx.Err() != nil {
		return true
	}

	logrus.WithFields(logrus.Fields{
		"function": "handleReadError",
		"error":    err.Error(),
	}).Warn("UDP read failed")

	select {
	case t.errs <- err:
	default:
	}

	// Back off so a persistently failing socket does not spin.
	select {
	case <-t.ctx.Done():
		return true
	case <-time.After(readPollInterval):
		return false
	}
}

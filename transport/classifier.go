package transport

import (
	"errors"
	"net"

	"github.com/sirupsen/logrus"
)

// RemoteSender is a sender that has confirmed a session with this receiver.
type RemoteSender struct {
	SenderSessionID   uint32
	ReceiverSessionID uint32
	Endpoint          net.Addr
}

// ConfirmInfo is a Confirm packet that did not match any known sender yet,
// together with the endpoint it arrived from.
type ConfirmInfo struct {
	Confirm        *ConfirmPacket
	SenderEndpoint net.Addr
}

// SenderPacketSet groups every packet received from one sender during one
// tick, partitioned by kind and kept in arrival order.
type SenderPacketSet struct {
	ReceivedAny bool
	Confirms    []*ConfirmPacket
	Heartbeats  []*HeartbeatPacket
	Video       []*VideoPacket
	FEC         []*FECPacket
	Audio       []*AudioPacket
	Floor       []*FloorPacket
}

// DropReason labels why a datagram was discarded.
type DropReason string

const (
	DropMalformed     DropReason = "malformed"
	DropUnknownType   DropReason = "unknown_type"
	DropUnknownSender DropReason = "unknown_sender"
	DropUnexpected    DropReason = "unexpected_type"
)

// PacketCollection is the result of classifying one batch of datagrams.
type PacketCollection struct {
	// ConfirmInfos holds Confirm packets from senders not yet known.
	ConfirmInfos []ConfirmInfo
	// SenderPacketSets has one entry for every known sender, keyed by
	// sender session ID, even when nothing arrived from it.
	SenderPacketSets map[uint32]*SenderPacketSet
	// Received counts decoded packets by type.
	Received map[PacketType]int
	// Dropped counts discarded datagrams by reason.
	Dropped map[DropReason]int
}

// Classifier parses raw datagrams and demultiplexes them by sender session.
// It holds no state between calls.
type Classifier struct{}

// NewClassifier creates a new datagram classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify turns a batch of datagrams into per-sender packet sets.
// Malformed datagrams and datagrams from unknown senders are dropped and
// counted, except Confirm packets which are surfaced in ConfirmInfos so a
// pending handshake can complete.
func (c *Classifier) Classify(datagrams []Datagram, senders []RemoteSender) *PacketCollection {
	collection := &PacketCollection{
		SenderPacketSets: make(map[uint32]*SenderPacketSet, len(senders)),
		Received:         make(map[PacketType]int),
		Dropped:          make(map[DropReason]int),
	}
	for _, s := range senders {
		collection.SenderPacketSets[s.SenderSessionID] = &SenderPacketSet{}
	}

	for _, d := range datagrams {
		msg, err := Decode(d.Data)
		if err != nil {
			reason := DropMalformed
			if errors.Is(err, ErrUnknownPacketType) {
				reason = DropUnknownType
			}
			collection.drop(reason, d.Addr, err)
			continue
		}
		c.route(collection, msg, d.Addr)
	}

	return collection
}

// route dispatches one decoded message to its sender's packet set.
func (c *Classifier) route(collection *PacketCollection, msg Message, addr net.Addr) {
	var senderSessionID uint32
	switch m := msg.(type) {
	case *ConfirmPacket:
		senderSessionID = m.SenderSessionID
	case *HeartbeatPacket:
		senderSessionID = m.SessionID
	case *VideoPacket:
		senderSessionID = m.SenderSessionID
	case *FECPacket:
		senderSessionID = m.SenderSessionID
	case *AudioPacket:
		senderSessionID = m.SenderSessionID
	case *FloorPacket:
		senderSessionID = m.SenderSessionID
	default:
		// Connect and Report only travel from receivers to senders.
		collection.drop(DropUnexpected, addr, nil)
		return
	}

	set, known := collection.SenderPacketSets[senderSessionID]
	if !known {
		if confirm, ok := msg.(*ConfirmPacket); ok {
			collection.Received[PacketConfirm]++
			collection.ConfirmInfos = append(collection.ConfirmInfos, ConfirmInfo{
				Confirm:        confirm,
				SenderEndpoint: addr,
			})
			return
		}
		collection.drop(DropUnknownSender, addr, nil)
		return
	}

	collection.Received[msg.Type()]++
	set.ReceivedAny = true
	switch m := msg.(type) {
	case *ConfirmPacket:
		set.Confirms = append(set.Confirms, m)
	case *HeartbeatPacket:
		set.Heartbeats = append(set.Heartbeats, m)
	case *VideoPacket:
		set.Video = append(set.Video, m)
	case *FECPacket:
		set.FEC = append(set.FEC, m)
	case *AudioPacket:
		set.Audio = append(set.Audio, m)
	case *FloorPacket:
		set.Floor = append(set.Floor, m)
	}
}

func (pc *PacketCollection) drop(reason DropReason, addr net.Addr, err error) {
	pc.Dropped[reason]++

	fields := logrus.Fields{
		"function": "Classify",
		"reason":   string(reason),
	}
	if addr != nil {
		fields["remote_addr"] = addr.String()
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	logrus.WithFields(fields).Debug("Dropped datagram")
}

// TotalDropped returns the number of datagrams dropped in this collection.
func (pc *PacketCollection) TotalDropped() int {
	total := 0
	for _, n := range pc.Dropped {
		total += n
	}
	return total
}

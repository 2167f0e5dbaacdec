package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	senderA = &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 7000}
	senderB = &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 7000}
)

func datagram(t *testing.T, from net.Addr, msg Message) Datagram {
	t.Helper()
	data, err := Encode(msg)
	require.NoError(t, err)
	return Datagram{Data: data, Addr: from}
}

func TestClassify_PartitionsBySender(t *testing.T) {
	senders := []RemoteSender{
		{SenderSessionID: 1, ReceiverSessionID: 100, Endpoint: senderA},
		{SenderSessionID: 2, ReceiverSessionID: 200, Endpoint: senderB},
	}
	batch := []Datagram{
		datagram(t, senderA, &VideoPacket{SenderSessionID: 1, FrameID: 5, FragmentCount: 1, Chunk: []byte{1}}),
		datagram(t, senderA, &HeartbeatPacket{SessionID: 1}),
		datagram(t, senderB, &AudioPacket{SenderSessionID: 2, FrameID: 1, Opus: []byte{1}}),
		datagram(t, senderA, &VideoPacket{SenderSessionID: 1, FrameID: 4, FragmentCount: 1, Chunk: []byte{2}}),
		datagram(t, senderA, &FECPacket{SenderSessionID: 1, FrameID: 5, FragmentCount: 1, GroupSize: 1, Parity: []byte{1}}),
		datagram(t, senderB, &FloorPacket{SenderSessionID: 2, D: 1}),
	}

	collection := NewClassifier().Classify(batch, senders)

	require.Len(t, collection.SenderPacketSets, 2)
	a := collection.SenderPacketSets[1]
	assert.True(t, a.ReceivedAny)
	require.Len(t, a.Video, 2)
	// Arrival order is preserved.
	assert.Equal(t, int32(5), a.Video[0].FrameID)
	assert.Equal(t, int32(4), a.Video[1].FrameID)
	assert.Len(t, a.Heartbeats, 1)
	assert.Len(t, a.FEC, 1)
	assert.Empty(t, a.Audio)

	b := collection.SenderPacketSets[2]
	assert.True(t, b.ReceivedAny)
	assert.Len(t, b.Audio, 1)
	assert.Len(t, b.Floor, 1)

	assert.Equal(t, 2, collection.Received[PacketVideo])
	assert.Zero(t, collection.TotalDropped())
}

func TestClassify_EveryKnownSenderGetsASet(t *testing.T) {
	senders := []RemoteSender{{SenderSessionID: 3, Endpoint: senderA}}

	collection := NewClassifier().Classify(nil, senders)

	set, ok := collection.SenderPacketSets[3]
	require.True(t, ok)
	assert.False(t, set.ReceivedAny)
	assert.Empty(t, collection.ConfirmInfos)
}

func TestClassify_ConfirmFromUnknownSender(t *testing.T) {
	batch := []Datagram{
		datagram(t, senderA, &ConfirmPacket{SenderSessionID: 9, ReceiverSessionID: 100}),
		datagram(t, senderA, &HeartbeatPacket{SessionID: 9}),
	}

	collection := NewClassifier().Classify(batch, nil)

	require.Len(t, collection.ConfirmInfos, 1)
	info := collection.ConfirmInfos[0]
	assert.Equal(t, uint32(9), info.Confirm.SenderSessionID)
	assert.Equal(t, uint32(100), info.Confirm.ReceiverSessionID)
	assert.Equal(t, senderA, info.SenderEndpoint)

	assert.Empty(t, collection.SenderPacketSets)
	assert.Equal(t, 1, collection.Dropped[DropUnknownSender])
}

func TestClassify_ConfirmFromKnownSender(t *testing.T) {
	senders := []RemoteSender{{SenderSessionID: 9, ReceiverSessionID: 100, Endpoint: senderA}}
	batch := []Datagram{datagram(t, senderA, &ConfirmPacket{SenderSessionID: 9, ReceiverSessionID: 100})}

	collection := NewClassifier().Classify(batch, senders)

	assert.Empty(t, collection.ConfirmInfos)
	assert.Len(t, collection.SenderPacketSets[9].Confirms, 1)
}

func TestClassify_Drops(t *testing.T) {
	senders := []RemoteSender{{SenderSessionID: 1, Endpoint: senderA}}

	tests := []struct {
		name   string
		data   Datagram
		reason DropReason
	}{
		{"malformed", Datagram{Data: []byte{byte(PacketHeartbeat), 1}, Addr: senderA}, DropMalformed},
		{"empty", Datagram{Data: nil, Addr: senderA}, DropMalformed},
		{"unknown type", Datagram{Data: []byte{0x50, 1, 2, 3}, Addr: senderA}, DropUnknownType},
		{"connect", datagram(t, senderA, &ConnectPacket{ReceiverSessionID: 1}), DropUnexpected},
		{"report", datagram(t, senderA, &ReportPacket{ReceiverSessionID: 1}), DropUnexpected},
		{"unknown sender", datagram(t, senderB, &VideoPacket{SenderSessionID: 2, FragmentCount: 1, Chunk: []byte{1}}), DropUnknownSender},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collection := NewClassifier().Classify([]Datagram{tt.data}, senders)

			assert.Equal(t, 1, collection.Dropped[tt.reason])
			assert.Equal(t, 1, collection.TotalDropped())
			assert.False(t, collection.SenderPacketSets[1].ReceivedAny)
		})
	}
}

// Package transport implements the network side of the volstream receiver:
// the wire format, the UDP socket and the per-tick classification of
// received datagrams into per-sender packet sets.
//
// # Wire Format
//
// Every datagram starts with a one-byte packet type followed by a fixed
// little-endian body:
//
//	Connect   [receiver u32][video u8][audio u8][floor u8]
//	Confirm   [sender u32][receiver u32]
//	Heartbeat [session u32]
//	Video     [sender u32][frame i32][key u8][index u16][count u16][chunk...]
//	FEC       [sender u32][frame i32][key u8][parity u16][count u16][group u16][lenParity u16][parity...]
//	Audio     [sender u32][frame i32][opus...]
//	Floor     [sender u32][a f32][b f32][c f32][d f32]
//	Report    [receiver u32][frame i32][decodeMs f32][interFrameMs f32]
//
// Encode and Decode convert between datagrams and the Message types.
// Decode rejects datagrams over limits.MaxDatagramSize, bodies of the wrong
// length and fragment headers that cannot describe a valid frame.
//
// # Transport
//
// The Transport interface is what the receiver needs from a socket. Sends
// are fire-and-forget and ReceiveBatch never blocks:
//
//	udp, err := transport.NewUDPTransport(":0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer udp.Close()
//
//	err = udp.Send(&transport.HeartbeatPacket{SessionID: id}, senderAddr)
//
// UDPTransport drains the socket from a background goroutine into a bounded
// inbox. Failures attributable to one remote endpoint are reported as
// *TransportError carrying that endpoint.
//
// # Classification
//
// Classifier.Classify decodes one batch and groups the packets by sender
// session ID. Every known sender gets a SenderPacketSet, even an empty one,
// so per-session timeouts observe silence. Confirm packets from senders that
// are not known yet are surfaced separately for the session registry.
package transport

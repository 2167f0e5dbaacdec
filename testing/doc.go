// Package testing provides an in-memory datagram transport for deterministic
// tests of the receiver.
//
// # Overview
//
// SimulatedTransport implements transport.Transport without sockets. Tests
// inject datagrams as if a sender had sent them and inspect every message the
// receiver sent back, so handshake retries, heartbeats and reports can be
// asserted exactly.
//
// # Usage
//
//	sim := vstesting.NewSimulatedTransport(vstesting.Addr("receiver"))
//	sim.Inject(senderAddr, &transport.ConfirmPacket{SenderSessionID: 9, ReceiverSessionID: id})
//
//	batch, err := sim.ReceiveBatch()
//	...
//	connects := sim.SentOfType(transport.PacketConnect)
//
// Import the package under an alias, since its name shadows the standard
// library testing package.
//
// # Failure injection
//
// FailSendsTo makes Send to one endpoint return a transport.TransportError,
// and InjectError queues an error for the next ReceiveBatch call.
package testing

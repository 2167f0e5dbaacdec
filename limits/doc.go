// Package limits provides centralized size constants and validation functions
// for the volstream wire protocol. Every component that accepts bytes from the
// network checks them against these limits before allocating.
//
// # Size Hierarchy
//
//   - MaxDatagramSize (1500 bytes): the largest UDP datagram the receiver
//     reads. Senders fragment frames so each fragment fits an Ethernet MTU.
//
//   - MaxFragmentCount (4096): the largest number of fragments a single
//     video frame may be split into.
//
//   - MaxMessageSize (16 MiB): the absolute maximum for an assembled video
//     message. This prevents memory exhaustion from forged fragment counts.
//
// # Validation Functions
//
//	if err := limits.ValidateDatagram(data); err != nil {
//	    // ErrMessageEmpty or ErrMessageTooLarge
//	}
//
// For custom limits use ValidateMessageSize.
package limits

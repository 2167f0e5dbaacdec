package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxDatagramSize is the largest datagram read from or written to the socket.
	MaxDatagramSize = 1500

	// MaxFragmentCount bounds the number of fragments of one video frame.
	MaxFragmentCount = 4096

	// MaxMessageSize is the absolute maximum for an assembled video message (16 MiB).
	MaxMessageSize = 16 * 1024 * 1024

	// MaxFECGroupSize bounds how many fragments one parity packet may cover.
	MaxFECGroupSize = 255
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateDatagram validates a raw datagram against MaxDatagramSize.
func ValidateDatagram(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if len(data) > MaxDatagramSize {
		return fmt.Errorf("%w: datagram size %d exceeds limit %d", ErrMessageTooLarge, len(data), MaxDatagramSize)
	}
	return nil
}

// ValidateFragmentCount checks a fragment count announced by a sender.
func ValidateFragmentCount(count int) error {
	if count <= 0 {
		return fmt.Errorf("invalid fragment count %d", count)
	}
	if count > MaxFragmentCount {
		return fmt.Errorf("%w: fragment count %d exceeds limit %d", ErrMessageTooLarge, count, MaxFragmentCount)
	}
	return nil
}

// ValidateAssembledMessage validates an assembled video message against MaxMessageSize.
func ValidateAssembledMessage(message []byte) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > MaxMessageSize {
		return fmt.Errorf("%w: message size %d exceeds limit %d", ErrMessageTooLarge, len(message), MaxMessageSize)
	}
	return nil
}

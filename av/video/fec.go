package video

import (
	"errors"
	"fmt"
)

// ErrUnrecoverable indicates a parity group that is missing more fragments
// than its parity can restore.
var ErrUnrecoverable = errors.New("fragment not recoverable")

// ParityGroup is the XOR parity over one group of fragments.
type ParityGroup struct {
	Index        int
	Parity       []byte
	LengthParity uint16
}

// groupBounds returns the fragment range [start, end) covered by parity group index.
func groupBounds(index, groupSize, fragmentCount int) (int, int) {
	start := index * groupSize
	end := start + groupSize
	if end > fragmentCount {
		end = fragmentCount
	}
	return start, end
}

// BuildParity computes the parity groups for a frame's fragments.
// Each group covers groupSize consecutive fragments; the last group may be shorter.
func BuildParity(fragments [][]byte, groupSize int) ([]ParityGroup, error) {
	if groupSize <= 0 {
		return nil, fmt.Errorf("group size must be positive, got %d", groupSize)
	}

	numGroups := (len(fragments) + groupSize - 1) / groupSize
	groups := make([]ParityGroup, 0, numGroups)

	for g := 0; g < numGroups; g++ {
		start, end := groupBounds(g, groupSize, len(fragments))
		block := fragments[start:end]

		maxSize := 0
		for _, f := range block {
			if len(f) > maxSize {
				maxSize = len(f)
			}
		}
		if maxSize > 0xFFFF {
			return nil, fmt.Errorf("fragment of %d bytes too large for parity", maxSize)
		}

		parity := make([]byte, maxSize)
		var lengthParity uint16
		for _, f := range block {
			xorInto(parity, f)
			lengthParity ^= uint16(len(f))
		}
		groups = append(groups, ParityGroup{Index: g, Parity: parity, LengthParity: lengthParity})
	}

	return groups, nil
}

// RecoverFragment rebuilds the single missing fragment of a parity group.
// group holds the group's fragments in order with nil for the missing one.
func RecoverFragment(group [][]byte, parity []byte, lengthParity uint16) (int, []byte, error) {
	missing := -1
	length := lengthParity
	for i, f := range group {
		if f == nil {
			if missing >= 0 {
				return -1, nil, fmt.Errorf("%w: more than one fragment missing", ErrUnrecoverable)
			}
			missing = i
			continue
		}
		length ^= uint16(len(f))
	}
	if missing < 0 {
		return -1, nil, fmt.Errorf("%w: nothing missing", ErrUnrecoverable)
	}
	if int(length) > len(parity) {
		return -1, nil, fmt.Errorf("%w: recovered length %d exceeds parity of %d bytes", ErrUnrecoverable, length, len(parity))
	}

	recovered := make([]byte, len(parity))
	copy(recovered, parity)
	for _, f := range group {
		if f != nil {
			xorInto(recovered, f)
		}
	}

	return missing, recovered[:length], nil
}

// xorInto XORs src into dst. src must not be longer than dst.
func xorInto(dst, src []byte) {
	for i := 0; i < len(src) && i < len(dst); i++ {
		dst[i] ^= src[i]
	}
}

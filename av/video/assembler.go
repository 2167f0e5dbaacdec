package video

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/volstream/transport"
)

// DefaultMaxInFlightFrames bounds the frames an Assembler tracks at once.
const DefaultMaxInFlightFrames = 64

// NoFrameRendered is the watermark of a session that has not rendered anything.
const NoFrameRendered int32 = -1

// frameAssembly is a frame being reassembled from fragments.
type frameAssembly struct {
	frameID       int32
	keyframe      bool
	fragmentCount int
	fragments     [][]byte // nil until received or recovered
	received      int
	parity        map[int]*transport.FECPacket
}

func newFrameAssembly(frameID int32, keyframe bool, fragmentCount int) *frameAssembly {
	return &frameAssembly{
		frameID:       frameID,
		keyframe:      keyframe,
		fragmentCount: fragmentCount,
		fragments:     make([][]byte, fragmentCount),
		parity:        make(map[int]*transport.FECPacket),
	}
}

func (fa *frameAssembly) complete() bool {
	return fa.received == fa.fragmentCount
}

// payload concatenates the fragments of a complete frame.
func (fa *frameAssembly) payload() []byte {
	size := 0
	for _, f := range fa.fragments {
		size += len(f)
	}
	out := make([]byte, 0, size)
	for _, f := range fa.fragments {
		out = append(out, f...)
	}
	return out
}

// AssembleResult is the outcome of one Assemble call.
type AssembleResult struct {
	// Frames are the frames to decode this tick, in increasing frame ID
	// order without gaps. Empty when the assembler is waiting for data.
	Frames []*Message

	FramesCompleted   int
	FramesRecovered   int // completed with the help of FEC parity
	FramesAbandoned   int // incomplete frames purged below the watermark or evicted
	FragmentsRejected int // stale, duplicate or inconsistent fragments
	InvalidMessages   int // complete frames whose payload failed to parse
}

// Assembler reconstructs video messages of one sender from Video and FEC
// packets and selects the frames to decode under a keyframe-first policy.
// It is not safe for concurrent use; each session owns one.
type Assembler struct {
	inFlight  map[int32]*frameAssembly
	completed map[int32]*Message
	maxFrames int
}

// NewAssembler creates a new frame assembler.
func NewAssembler(maxFrames int) *Assembler {
	if maxFrames <= 0 {
		maxFrames = DefaultMaxInFlightFrames
	}
	return &Assembler{
		inFlight:  make(map[int32]*frameAssembly),
		completed: make(map[int32]*Message),
		maxFrames: maxFrames,
	}
}

// Assemble merges newly arrived packets, repairs incomplete frames with
// parity, selects the frames to decode and purges everything at or below the
// advanced watermark.
func (a *Assembler) Assemble(videoPackets []*transport.VideoPacket, fecPackets []*transport.FECPacket, lastRendered int32) AssembleResult {
	var result AssembleResult

	for _, p := range videoPackets {
		if !a.addFragment(p, lastRendered) {
			result.FragmentsRejected++
		}
	}
	for _, p := range fecPackets {
		if !a.addParity(p, lastRendered) {
			result.FragmentsRejected++
		}
	}

	a.finishFrames(&result)
	a.enforceLimit(&result)

	ids := SelectFrames(a.completed, lastRendered)
	for _, id := range ids {
		result.Frames = append(result.Frames, a.completed[id])
	}

	watermark := lastRendered
	if len(ids) > 0 {
		watermark = ids[len(ids)-1]
	}
	result.FramesAbandoned += a.purge(watermark)

	return result
}

// Buffered returns the number of completed and incomplete frames held.
func (a *Assembler) Buffered() (completed, incomplete int) {
	return len(a.completed), len(a.inFlight)
}

// Reset drops all in-flight state.
func (a *Assembler) Reset() {
	a.inFlight = make(map[int32]*frameAssembly)
	a.completed = make(map[int32]*Message)
}

// getOrCreateFrameAssembly returns the assembly for frameID, creating it when
// absent. It returns nil when the packet disagrees with an existing assembly.
func (a *Assembler) getOrCreateFrameAssembly(frameID int32, keyframe bool, fragmentCount int) *frameAssembly {
	fa, exists := a.inFlight[frameID]
	if !exists {
		fa = newFrameAssembly(frameID, keyframe, fragmentCount)
		a.inFlight[frameID] = fa
		return fa
	}
	if fa.fragmentCount != fragmentCount {
		return nil
	}
	return fa
}

// addFragment stores a video fragment. Stale and duplicate fragments are no-ops.
func (a *Assembler) addFragment(p *transport.VideoPacket, lastRendered int32) bool {
	if p.FrameID <= lastRendered {
		return false
	}
	if _, done := a.completed[p.FrameID]; done {
		return false
	}

	fa := a.getOrCreateFrameAssembly(p.FrameID, p.Keyframe, int(p.FragmentCount))
	if fa == nil {
		logrus.WithFields(logrus.Fields{
			"function":       "Assembler.addFragment",
			"frame_id":       p.FrameID,
			"fragment_count": p.FragmentCount,
		}).Debug("Fragment count disagrees with frame assembly")
		return false
	}

	idx := int(p.FragmentIndex)
	if idx >= fa.fragmentCount || fa.fragments[idx] != nil {
		return false
	}

	chunk := p.Chunk
	if chunk == nil {
		chunk = []byte{}
	}
	fa.fragments[idx] = chunk
	fa.received++
	fa.keyframe = fa.keyframe || p.Keyframe
	return true
}

// addParity stores a parity packet for later recovery.
func (a *Assembler) addParity(p *transport.FECPacket, lastRendered int32) bool {
	if p.FrameID <= lastRendered {
		return false
	}
	if _, done := a.completed[p.FrameID]; done {
		return false
	}

	fa := a.getOrCreateFrameAssembly(p.FrameID, p.Keyframe, int(p.FragmentCount))
	if fa == nil {
		return false
	}
	if _, dup := fa.parity[int(p.ParityIndex)]; dup {
		return false
	}
	fa.parity[int(p.ParityIndex)] = p
	fa.keyframe = fa.keyframe || p.Keyframe
	return true
}

// finishFrames runs FEC recovery on incomplete frames and moves complete
// frames into the completed buffer.
func (a *Assembler) finishFrames(result *AssembleResult) {
	for id, fa := range a.inFlight {
		recovered := false
		if !fa.complete() {
			recovered = a.recover(fa)
		}
		if !fa.complete() {
			continue
		}

		delete(a.inFlight, id)

		msg, err := ParseMessage(fa.frameID, fa.keyframe, fa.payload())
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Assembler.finishFrames",
				"frame_id": fa.frameID,
				"error":    err.Error(),
			}).Warn("Dropping frame with invalid payload")
			result.InvalidMessages++
			continue
		}

		a.completed[id] = msg
		result.FramesCompleted++
		if recovered {
			result.FramesRecovered++
		}
	}
}

// recover restores missing fragments from parity groups that lack exactly one
// fragment. It reports whether any fragment was restored.
func (a *Assembler) recover(fa *frameAssembly) bool {
	restored := false
	for index, p := range fa.parity {
		start, end := groupBounds(index, int(p.GroupSize), fa.fragmentCount)
		if start >= end {
			continue
		}

		missing, chunk, err := RecoverFragment(fa.fragments[start:end], p.Parity, p.LengthParity)
		if err != nil {
			continue
		}

		fa.fragments[start+missing] = chunk
		fa.received++
		restored = true
	}

	if restored {
		logrus.WithFields(logrus.Fields{
			"function": "Assembler.recover",
			"frame_id": fa.frameID,
			"complete": fa.complete(),
		}).Debug("Recovered fragments with FEC")
	}
	return restored
}

// enforceLimit evicts the oldest frames when more than maxFrames are held.
func (a *Assembler) enforceLimit(result *AssembleResult) {
	for len(a.inFlight) > a.maxFrames {
		delete(a.inFlight, lowestKey(a.inFlight))
		result.FramesAbandoned++
	}
	for len(a.completed) > a.maxFrames {
		delete(a.completed, lowestKey(a.completed))
		result.FramesAbandoned++
	}
}

// purge drops every frame at or below watermark and returns how many
// incomplete frames were abandoned.
func (a *Assembler) purge(watermark int32) int {
	abandoned := 0
	for id := range a.inFlight {
		if id <= watermark {
			delete(a.inFlight, id)
			abandoned++
		}
	}
	for id := range a.completed {
		if id <= watermark {
			delete(a.completed, id)
		}
	}
	return abandoned
}

// SelectFrames picks the frames to decode from completed frames.
//
// The most recent keyframe above lastRendered is the preferred starting
// point. Without one, decoding may only continue at lastRendered+1. From the
// starting point the run extends through consecutive frame IDs and stops at
// the first gap.
func SelectFrames(completed map[int32]*Message, lastRendered int32) []int32 {
	if len(completed) == 0 {
		return nil
	}

	begin := lastRendered
	found := false
	for id, m := range completed {
		if id <= lastRendered || !m.Keyframe {
			continue
		}
		if !found || id > begin {
			begin = id
			found = true
		}
	}

	if !found {
		next := lastRendered + 1
		if _, ok := completed[next]; !ok {
			return nil
		}
		begin = next
	}

	var ids []int32
	for id := begin; ; id++ {
		if _, ok := completed[id]; !ok {
			break
		}
		ids = append(ids, id)
		if id == maxFrameID {
			break
		}
	}
	return ids
}

const maxFrameID = int32(^uint32(0) >> 1)

// lowestKey returns the smallest key of a non-empty map.
func lowestKey[V any](m map[int32]V) int32 {
	keys := make([]int32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys[0]
}

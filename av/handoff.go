package av

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultHandoffQueueSize is the number of decoded frames that may wait for
// the renderer.
const DefaultHandoffQueueSize = 2

// Renderer consumes decoded frames on its own goroutine. A delivered frame is
// owned by the renderer; the pipeline never touches it again.
//
// Delivery is not one-to-one. Every assembly cycle that decodes a frame hands
// exactly one frame to the handoff, but a frame still waiting when a newer one
// arrives on a full queue is superseded and never reaches Render. A renderer
// sees the latest frames, not every frame.
type Renderer interface {
	Render(frame *DecodedFrame)
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(frame *DecodedFrame)

// Render calls f.
func (f RendererFunc) Render(frame *DecodedFrame) { f(frame) }

// Handoff passes decoded frames to a Renderer without blocking the caller.
// Frames wait in a bounded queue; when the renderer falls behind, the oldest
// waiting frame is dropped in favor of the newest.
type Handoff struct {
	renderer Renderer
	queue    chan *DecodedFrame

	mu     sync.Mutex
	closed bool
	done   chan struct{}

	delivered atomic.Uint64
	dropped   atomic.Uint64
	rendered  atomic.Uint64
}

// NewHandoff starts a handoff goroutine feeding renderer.
func NewHandoff(renderer Renderer, queueSize int) *Handoff {
	if queueSize <= 0 {
		queueSize = DefaultHandoffQueueSize
	}

	h := &Handoff{
		renderer: renderer,
		queue:    make(chan *DecodedFrame, queueSize),
		done:     make(chan struct{}),
	}

	go h.run()

	return h
}

// Deliver queues frame for rendering and returns immediately.
func (h *Handoff) Deliver(frame *DecodedFrame) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHandoffClosed
	}

	for {
		select {
		case h.queue <- frame:
			h.delivered.Add(1)
			return nil
		default:
		}

		select {
		case old := <-h.queue:
			h.dropped.Add(1)
			logrus.WithFields(logrus.Fields{
				"function": "Handoff.Deliver",
				"dropped":  old.FrameID,
				"frame_id": frame.FrameID,
			}).Debug("Renderer behind, dropping queued frame")
		default:
		}
	}
}

func (h *Handoff) run() {
	defer close(h.done)

	for frame := range h.queue {
		if h.renderer != nil {
			h.renderer.Render(frame)
		}
		h.rendered.Add(1)
	}
}

// Delivered returns how many frames were queued.
func (h *Handoff) Delivered() uint64 { return h.delivered.Load() }

// Dropped returns how many queued frames were replaced before rendering.
func (h *Handoff) Dropped() uint64 { return h.dropped.Load() }

// Rendered returns how many frames the renderer has consumed.
func (h *Handoff) Rendered() uint64 { return h.rendered.Load() }

// Close stops accepting frames and returns at once. The renderer goroutine
// consumes what is already queued and then exits; Close never waits for it.
// Close is idempotent.
func (h *Handoff) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	close(h.queue)
}

// Wait blocks until the renderer goroutine has exited after Close, or until
// timeout elapses. It reports whether the goroutine exited.
func (h *Handoff) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case <-h.done:
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
		return true
	case <-timer.C:
		return false
	}
}

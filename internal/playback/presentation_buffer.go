package playback

import (
	"sync"

	"github.com/jmylchreest/tvplay/internal/media"
)

// PresentationBuffer is a fixed-capacity ring of decoded frames waiting to be presented.
// Push blocks while the ring is full; TryPop never blocks.
type PresentationBuffer struct {
	mu      sync.Mutex
	notFull *sync.Cond

	slots    []*media.Frame
	read     int
	write    int
	occupied int
	draining bool
}

// NewPresentationBuffer creates a ring with room for capacity frames (minimum 1).
func NewPresentationBuffer(capacity int) *PresentationBuffer {
	if capacity < 1 {
		capacity = 1
	}
	b := &PresentationBuffer{slots: make([]*media.Frame, capacity)}
	b.notFull = sync.NewCond(&b.mu)
	return b
}

// Push stores frame, waiting for a free slot. It returns ErrDraining if the
// buffer starts draining before a slot frees.
func (b *PresentationBuffer) Push(frame *media.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.occupied == len(b.slots) && !b.draining {
		b.notFull.Wait()
	}
	if b.draining {
		return ErrDraining
	}

	b.slots[b.write] = frame
	b.write = (b.write + 1) % len(b.slots)
	b.occupied++
	return nil
}

// TryPop removes the oldest frame without blocking. It returns ErrEmpty when
// nothing is ready and ErrDraining once draining.
func (b *PresentationBuffer) TryPop() (*media.Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.draining {
		return nil, ErrDraining
	}
	if b.occupied == 0 {
		return nil, ErrEmpty
	}

	frame := b.slots[b.read]
	b.slots[b.read] = nil
	b.read = (b.read + 1) % len(b.slots)
	b.occupied--
	b.notFull.Signal()
	return frame, nil
}

// StartDraining sets the one-way draining flag and wakes every blocked pusher.
func (b *PresentationBuffer) StartDraining() {
	b.mu.Lock()
	b.draining = true
	b.mu.Unlock()
	b.notFull.Broadcast()
}

// Clear drops all buffered frames and returns how many were dropped.
func (b *PresentationBuffer) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.occupied
	for i := range b.slots {
		b.slots[i] = nil
	}
	b.read, b.write, b.occupied = 0, 0, 0
	return n
}

// Len returns the number of buffered frames.
func (b *PresentationBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.occupied
}

// Cap returns the fixed capacity.
func (b *PresentationBuffer) Cap() int {
	return len(b.slots)
}

// Draining reports whether StartDraining has been called.
func (b *PresentationBuffer) Draining() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.draining
}

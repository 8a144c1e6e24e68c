package playback

import (
	"sync"
	"time"

	"github.com/jmylchreest/tvplay/internal/media"
)

const minQueueSlots = 16

// PacketQueue is a FIFO of encoded packets for one elementary stream.
//
// Push never blocks. Pop blocks until a packet arrives, input is closed or
// the queue starts draining. Once draining, Pop reports ErrDraining
// immediately even if packets remain; those are released by Clear during
// teardown. After CloseInput, Pop returns the remaining packets and then
// ErrEndOfInput.
type PacketQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	slots     []*media.Packet
	head      int
	count     int
	capacity  int
	draining  bool
	inputDone bool
}

// NewPacketQueue creates a queue holding at most capacity packets.
// A capacity of 0 means unbounded.
func NewPacketQueue(capacity int) *PacketQueue {
	if capacity < 0 {
		capacity = 0
	}
	q := &PacketQueue{capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends pkt. On any error the caller keeps ownership of pkt.
func (q *PacketQueue) Push(pkt *media.Packet) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.draining {
		return ErrDraining
	}
	if q.inputDone {
		return ErrEndOfInput
	}
	if q.capacity > 0 && q.count >= q.capacity {
		return ErrQueueFull
	}
	if q.count == len(q.slots) {
		q.grow()
	}

	q.slots[(q.head+q.count)%len(q.slots)] = pkt
	q.count++
	q.cond.Signal()
	return nil
}

// grow doubles the ring, keeping FIFO order. Caller holds mu.
func (q *PacketQueue) grow() {
	size := max(len(q.slots)*2, minQueueSlots)
	if q.capacity > 0 && size > q.capacity {
		size = q.capacity
	}
	slots := make([]*media.Packet, size)
	for i := 0; i < q.count; i++ {
		slots[i] = q.slots[(q.head+i)%len(q.slots)]
	}
	q.slots = slots
	q.head = 0
}

// Pop removes the oldest packet, blocking while the queue is empty.
// The caller owns the returned packet and must release it.
func (q *PacketQueue) Pop() (*media.Packet, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.idle() {
		q.cond.Wait()
	}
	return q.take()
}

// PopWait is Pop bounded by timeout. It returns ErrNoPacket if the queue is
// still empty when the timeout passes; a zero timeout never blocks.
func (q *PacketQueue) PopWait(timeout time.Duration) (*media.Packet, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if timeout > 0 && q.idle() {
		expired := false
		t := time.AfterFunc(timeout, func() {
			q.mu.Lock()
			expired = true
			q.mu.Unlock()
			q.cond.Broadcast()
		})
		defer t.Stop()
		for q.idle() && !expired {
			q.cond.Wait()
		}
	}
	return q.take()
}

// idle reports whether a popper has to wait. Caller holds mu.
func (q *PacketQueue) idle() bool {
	return q.count == 0 && !q.draining && !q.inputDone
}

// take removes the head packet. Caller holds mu.
func (q *PacketQueue) take() (*media.Packet, error) {
	switch {
	case q.draining:
		return nil, ErrDraining
	case q.count == 0 && q.inputDone:
		return nil, ErrEndOfInput
	case q.count == 0:
		return nil, ErrNoPacket
	}

	pkt := q.slots[q.head]
	q.slots[q.head] = nil
	q.head = (q.head + 1) % len(q.slots)
	q.count--
	return pkt, nil
}

// CloseInput marks the input complete. Further pushes fail and Pop reports
// ErrEndOfInput once the queue is empty.
func (q *PacketQueue) CloseInput() {
	q.mu.Lock()
	q.inputDone = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// InputClosed reports whether CloseInput has been called.
func (q *PacketQueue) InputClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inputDone
}

// StartDraining sets the one-way draining flag and wakes every waiter.
func (q *PacketQueue) StartDraining() {
	q.mu.Lock()
	q.draining = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Clear releases every queued packet and returns how many were released.
// It must not race with Push or Pop.
func (q *PacketQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.count
	for i := 0; i < q.count; i++ {
		idx := (q.head + i) % len(q.slots)
		q.slots[idx].Release()
		q.slots[idx] = nil
	}
	q.head = 0
	q.count = 0
	return n
}

// Reset clears the queue and leaves the draining state. Only valid between sessions.
func (q *PacketQueue) Reset() {
	q.Clear()
	q.mu.Lock()
	q.draining = false
	q.inputDone = false
	q.mu.Unlock()
}

// Len returns the number of queued packets.
func (q *PacketQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the configured capacity (0 = unbounded).
func (q *PacketQueue) Cap() int {
	return q.capacity
}

// Full reports whether a bounded queue is at capacity.
func (q *PacketQueue) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity > 0 && q.count >= q.capacity
}

// Draining reports whether StartDraining has been called.
func (q *PacketQueue) Draining() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.draining
}

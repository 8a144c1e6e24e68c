// Package playback runs the decode and presentation pipeline: a source reader
// feeding per-stream packet queues, one decoder worker per stream, and a
// fixed-interval presentation scheduler, all stopped by a shared coordinator.
package playback

import "errors"

var (
	// ErrDraining is returned by queue and buffer operations once shutdown has started.
	ErrDraining = errors.New("draining")

	// ErrQueueFull is returned by PacketQueue.Push when a bounded queue is at capacity.
	ErrQueueFull = errors.New("packet queue full")

	// ErrEndOfInput is returned by PacketQueue.Pop once input is complete and
	// every queued packet has been taken.
	ErrEndOfInput = errors.New("end of input")

	// ErrNoPacket is returned by PacketQueue.PopWait when nothing arrived in time.
	ErrNoPacket = errors.New("no packet queued")

	// ErrEmpty is returned by PresentationBuffer.TryPop when no frame is ready.
	ErrEmpty = errors.New("presentation buffer empty")
)

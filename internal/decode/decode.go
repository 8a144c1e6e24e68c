// Package decode turns encoded packets into raw frames.
//
// A Decoder follows a send/receive contract: SendPacket hands one packet in,
// then ReceiveFrame is called until it reports ErrNeedMoreInput or
// ErrEndOfStream. Output may become ready some time after the packet that
// produced it, so ErrNeedMoreInput only means "nothing yet". Flush ends the
// input; frames still inside the decoder stay receivable and ReceiveFrame
// reports ErrEndOfStream after the last one. A Decoder is owned by a single
// goroutine.
package decode

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jmylchreest/tvplay/internal/codec"
	"github.com/jmylchreest/tvplay/internal/media"
)

var (
	// ErrNeedMoreInput means no frame is ready until more packets are sent.
	ErrNeedMoreInput = errors.New("decoder needs more input")

	// ErrOutputPending means the packet was not accepted because decoded
	// frames must be received first. Resend the same packet afterwards.
	ErrOutputPending = errors.New("decoder output pending")

	// ErrEndOfStream means the decoder will produce no further frames.
	ErrEndOfStream = errors.New("decoder end of stream")

	// ErrUnsupportedCodec is returned when no decoder is registered for a stream's codec.
	ErrUnsupportedCodec = errors.New("unsupported codec")

	// ErrClosed is returned by operations on a closed decoder.
	ErrClosed = errors.New("decoder closed")
)

// Decoder decodes one elementary stream.
type Decoder interface {
	SendPacket(ctx context.Context, pkt *media.Packet) error
	ReceiveFrame() (*media.Frame, error)
	// Flush signals that no further packets will be sent.
	Flush() error
	Close() error
}

// Factory constructs decoders for streams.
type Factory interface {
	New(info media.StreamInfo) (Decoder, error)
}

// Builder constructs a decoder for a single stream.
type Builder func(info media.StreamInfo) (Decoder, error)

// Registry maps codecs to decoder builders.
type Registry struct {
	mu       sync.RWMutex
	builders map[codec.Codec]Builder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[codec.Codec]Builder)}
}

// Register installs b for c, replacing any previous builder.
func (r *Registry) Register(c codec.Codec, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[c] = b
}

// Supports reports whether a builder is registered for c.
func (r *Registry) Supports(c codec.Codec) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[c]
	return ok
}

// Codecs lists the registered codecs in name order.
func (r *Registry) Codecs() []codec.Codec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]codec.Codec, 0, len(r.builders))
	for c := range r.builders {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// New builds a decoder for info.
func (r *Registry) New(info media.StreamInfo) (Decoder, error) {
	r.mu.RLock()
	b, ok := r.builders[info.Codec]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("stream %d (%s): %w", info.Index, info.Codec, ErrUnsupportedCodec)
	}
	dec, err := b(info)
	if err != nil {
		return nil, fmt.Errorf("creating %s decoder for stream %d: %w", info.Codec, info.Index, err)
	}
	return dec, nil
}

package demux

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/jmylchreest/tvplay/internal/media"
)

const (
	defaultPacketBuffer = 64
	closeWait           = time.Second
)

// packetStream runs a container parser on its own goroutine and hands the
// packets it emits to ReadPacket through a bounded channel.
type packetStream struct {
	packets chan *media.Packet
	done    chan struct{}
	err     error // valid once done is closed

	ctx    context.Context
	cancel context.CancelFunc

	src       io.Closer
	closeOnce sync.Once
	closeErr  error
}

func newPacketStream(src io.Closer, size int) *packetStream {
	if size <= 0 {
		size = defaultPacketBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &packetStream{
		packets: make(chan *media.Packet, size),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		src:     src,
	}
}

// run starts parse on a goroutine. It must be called exactly once.
func (s *packetStream) run(parse func() error) {
	go func() {
		defer close(s.done)
		s.err = parse()
	}()
}

// emit blocks until the packet is buffered or the stream is closed.
func (s *packetStream) emit(pkt *media.Packet) error {
	select {
	case s.packets <- pkt:
		return nil
	case <-s.ctx.Done():
		return ErrClosed
	}
}

// ReadPacket returns the next buffered packet without waiting.
func (s *packetStream) ReadPacket() (*media.Packet, error) {
	if s.ctx.Err() != nil {
		return nil, ErrClosed
	}

	select {
	case pkt := <-s.packets:
		return pkt, nil
	default:
	}

	select {
	case <-s.done:
		// The parser may have emitted its last packets after the first check.
		select {
		case pkt := <-s.packets:
			return pkt, nil
		default:
		}
		if s.err == nil || errors.Is(s.err, io.EOF) || errors.Is(s.err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, s.err
	default:
		return nil, ErrNoData
	}
}

// Close stops the parser and closes the source. It unblocks a parser stuck
// in a read by closing the source underneath it.
func (s *packetStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.src != nil {
			s.closeErr = s.src.Close()
		}
		select {
		case <-s.done:
		case <-time.After(closeWait):
		}
	})
	return s.closeErr
}

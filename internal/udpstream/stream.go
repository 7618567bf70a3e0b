package udpstream

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/1ureka/webudp/internal/engine"
)

// BufferSize bounds one buffered frame.
const BufferSize = 1 << 20

// Sender delivers one binary data-channel message. *host.Host implements it.
type Sender interface {
	SendBinary(id engine.ClientID, data []byte) error
}

// Stream buffers one frame at a time for a single client and sends it as
// pieces on Flush. It is safe for concurrent use, though interleaving Writes
// from several goroutines mixes their bytes into one frame.
type Stream struct {
	sender    Sender
	client    engine.ClientID
	pieceSize int

	mu     sync.Mutex
	buf    []byte
	piece  []byte
	ids    SeqGen
	frame  atomic.Uint32
	total  atomic.Uint64
	failed atomic.Bool
}

// NewStream creates a stream for client. pieceSize is the payload carried
// per message, excluding the header.
func NewStream(sender Sender, client engine.ClientID, pieceSize int) (*Stream, error) {
	if pieceSize <= 0 || pieceSize > BufferSize {
		return nil, fmt.Errorf("%w: %d", ErrPieceLength, pieceSize)
	}
	return &Stream{
		sender:    sender,
		client:    client,
		pieceSize: pieceSize,
		buf:       make([]byte, 0, BufferSize),
		piece:     make([]byte, 0, HeaderSize+pieceSize),
	}, nil
}

// Client returns the client this stream sends to.
func (s *Stream) Client() engine.ClientID { return s.client }

// Write appends to the current frame.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf)+len(p) > BufferSize {
		return 0, fmt.Errorf("%w: %d + %d bytes", ErrOverrun, len(s.buf), len(p))
	}
	s.buf = append(s.buf, p...)
	return len(p), nil
}

// SetFrameNumber sets the frame number stamped on subsequent pieces.
func (s *Stream) SetFrameNumber(n uint32) { s.frame.Store(n) }

// Flush sends the buffered frame and starts a new one. A send failure marks
// the stream failed; the frame is discarded either way.
func (s *Stream) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.buf
	s.buf = s.buf[:0]
	s.total.Add(uint64(len(data)))

	if s.client.IsZero() {
		s.failed.Store(true)
		return ErrNoClient
	}

	pieces := (len(data) + s.pieceSize - 1) / s.pieceSize
	h := Header{ID: s.ids.Next(), Pieces: uint32(pieces), Frame: s.frame.Load()}

	for i := 0; i < pieces; i++ {
		n := min(s.pieceSize, len(data))
		h.Index = uint32(i)
		h.Hash = Hash(data[:n])

		s.piece = AppendPiece(s.piece[:0], h, data[:n])
		if err := s.sender.SendBinary(s.client, s.piece); err != nil {
			s.failed.Store(true)
			return fmt.Errorf("failed to send piece %d/%d of frame %d: %w", i+1, pieces, h.ID, err)
		}
		data = data[n:]
	}
	return nil
}

// Len returns the total bytes flushed so far.
func (s *Stream) Len() uint64 { return s.total.Load() }

// Failed reports whether a send has failed since the last ClearFailed.
func (s *Stream) Failed() bool { return s.failed.Load() }

// ClearFailed resets the failure flag.
func (s *Stream) ClearFailed() { s.failed.Store(false) }

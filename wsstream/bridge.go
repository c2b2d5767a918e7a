package wsstream

import (
	"context"
	"net"
	"sync"

	"golang.org/x/time/rate"

	"wsstream.dev/bridge"
)

// ByteBridge presents a WebSocket session as a plain byte stream: callers
// write and read arbitrary-length byte slices without regard to the
// underlying message boundaries, the way they would against a net.Conn.
// Each Write call below WriteBudget becomes exactly one binary message;
// reads reassemble and split incoming messages transparently, buffering a
// message's leftover tail between calls.
//
// A ByteBridge is safe for concurrent use by one reader and one writer
// goroutine, the same contract as MessageAdapter.
type ByteBridge struct {
	adapter *MessageAdapter

	readMu sync.Mutex
	chunk  []byte // leftover bytes of the most recently read message
	cursor int

	writeMu sync.Mutex

	// WriteLimiter, if set, is waited on before every outbound message,
	// bounding how fast this bridge emits frames to the peer. Nil means
	// unlimited, the default for NewByteBridge.
	WriteLimiter *rate.Limiter
}

// NewByteBridge wraps sess, publishing out-of-band notifications to bus.
func NewByteBridge(sess Session, bus *EventBus) *ByteBridge {
	return &ByteBridge{adapter: NewMessageAdapter(sess, bus)}
}

// SetWriteLimiter installs a rate limit on outbound messages, e.g.
// rate.NewLimiter(rate.Every(100*time.Millisecond), 10) to cap writes at
// 10 messages/second with a burst of 10. Pass nil to remove the limit.
func (b *ByteBridge) SetWriteLimiter(l *rate.Limiter) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.WriteLimiter = l
}

// WriteBudget is the largest message Write sends: Write splits a longer
// slice into as many WriteBudget sized messages as needed. WriteChunk does
// not consult it.
func (b *ByteBridge) WriteBudget() int {
	return b.adapter.WriteBudget()
}

// fill pulls the next message into b.chunk if the previous one is
// exhausted. Callers must hold readMu.
func (b *ByteBridge) fill(ctx context.Context) error {
	if b.cursor < len(b.chunk) {
		return nil
	}
	msg, err := b.adapter.ReadMessage(ctx)
	if err != nil {
		return err
	}
	b.chunk = msg
	b.cursor = 0
	return nil
}

// Read implements io.Reader: it copies min(len(p), bytes left in the
// current message) and advances the cursor, pulling a new message only
// once the previous one is fully consumed. A zero-length incoming message
// yields a zero-length, nil-error read, same as io.Reader allows.
func (b *ByteBridge) Read(ctx context.Context, p []byte) (int, error) {
	b.readMu.Lock()
	defer b.readMu.Unlock()

	if err := b.fill(ctx); err != nil {
		return 0, err
	}

	n := copy(p, b.chunk[b.cursor:])
	b.cursor += n
	return n, nil
}

// Peek returns the unread portion of the message currently buffered,
// pulling a new one if necessary, without consuming it. The returned slice
// is only valid until the next Read, Discard or Peek call.
func (b *ByteBridge) Peek(ctx context.Context) ([]byte, error) {
	b.readMu.Lock()
	defer b.readMu.Unlock()

	if err := b.fill(ctx); err != nil {
		return nil, err
	}
	return b.chunk[b.cursor:], nil
}

// Discard advances the read cursor by n bytes of whatever is currently
// buffered, as returned by a prior Peek. It does not pull a new message; n
// must not exceed the length of the last Peek's result.
func (b *ByteBridge) Discard(n int) {
	b.readMu.Lock()
	defer b.readMu.Unlock()
	b.cursor += n
	if b.cursor > len(b.chunk) {
		b.cursor = len(b.chunk)
	}
}

// WriteChunk sends p as a single binary message without splitting it, even
// if p exceeds WriteBudget. This is the non-looping primitive Write is
// built on: a caller that passes more than the budget gets all of p sent as
// one message.
//
// n is always either 0 (on error) or len(p): the underlying session either
// sends the whole message or it doesn't, there is no partial in-message
// send to report. Writing a slice larger than WriteBudget is the caller's
// mistake to avoid; WriteChunk still performs the send, but Write (below)
// never produces one on its own.
func (b *ByteBridge) WriteChunk(ctx context.Context, p []byte) (int, error) {
	b.writeMu.Lock()
	limiter := b.WriteLimiter
	b.writeMu.Unlock()

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if err := b.adapter.WriteMessage(ctx, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Write implements io.Writer over the bridge: it splits p into WriteBudget
// sized messages and sends each in turn, stopping at the first error. The
// returned count is the number of bytes from p that were actually sent.
func (b *ByteBridge) Write(ctx context.Context, p []byte) (int, error) {
	budget := b.WriteBudget()
	if budget <= 0 {
		budget = len(p)
	}

	var sent int
	for len(p) > 0 {
		n := len(p)
		if n > budget {
			n = budget
		}
		if _, err := b.WriteChunk(ctx, p[:n]); err != nil {
			return sent, err
		}
		sent += n
		p = p[n:]
	}
	return sent, nil
}

// WriteVectored passes each of bufs to Write, in order, stopping at the
// first error. A buffer of up to WriteBudget bytes becomes its own message;
// a longer one is split the way Write splits it. Buffers are never combined
// into one message. It is the bridge's analogue of net.Buffers.WriteTo.
func (b *ByteBridge) WriteVectored(ctx context.Context, bufs net.Buffers) (int64, error) {
	var sent int64
	for _, buf := range bufs {
		n, err := b.Write(ctx, buf)
		sent += int64(n)
		if err != nil {
			return sent, err
		}
	}
	return sent, nil
}

// Close sends a normal closure frame and marks the bridge's write half
// closed. It does not stop inbound reads; the remote's own close frame (or
// connection teardown) is what eventually unblocks a pending Read with
// io.EOF.
func (b *ByteBridge) Close(ctx context.Context) error {
	return b.adapter.Close(ctx)
}

// CloseWithStatus sends code/reason as the close frame instead of the
// default normal closure, e.g. to report a protocol error detected above
// the byte-stream layer.
func (b *ByteBridge) CloseWithStatus(ctx context.Context, code websocket.StatusCode, reason string) error {
	b.adapter.setSinkClosed()
	b.adapter.cs.Queue(code, reason)
	return b.adapter.cs.Drive(ctx, b.adapter.sess, b.adapter.bus)
}

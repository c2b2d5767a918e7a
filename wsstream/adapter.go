package wsstream

import (
	"context"
	"io"
	"sync"

	"golang.org/x/xerrors"

	"wsstream.dev/bridge"
)

// MessageAdapter is the core pump: it reads WebSocket messages, classifies
// them per the table below, drives CloseSender and EventBus, and exposes a
// message-granular read/write surface over byte vectors. ByteBridge builds
// the byte-stream interface on top of it.
//
// Inbound classification:
//
//	Binary                    -> returned to the caller
//	Text                      -> ProtocolError event, close(Unsupported), retry
//	Close                     -> CloseFrameReceived event, retry (engine drives the handshake)
//	Ping / Pong               -> Ping/PongReceived event, retry
//	end-of-stream             -> ConnectionClosed event, io.EOF
//	connection closed already -> ConnectionClosed event, io.EOF
//	protocol violation        -> ProtocolError event, close(Protocol), retry
//
// A MessageAdapter is safe for concurrent use by one reader goroutine and
// one writer goroutine, matching the usual pattern of driving a connection
// with a dedicated reader and writer each on their own goroutine.
type MessageAdapter struct {
	sess Session
	bus  *EventBus
	cs   *CloseSender

	writeBudget int

	stateMu        sync.Mutex
	streamClosed   bool
	sinkClosed     bool
	closeFrameSeen bool
	lastErr        error
}

// NewMessageAdapter wraps sess. bus receives out-of-band events; pass
// NewEventBus() if you don't need a shared bus across adapters.
func NewMessageAdapter(sess Session, bus *EventBus) *MessageAdapter {
	cfg := sess.Config()
	budget := cfg.MaxWriteBufferSize
	if cfg.MaxMessageSize > 0 && (budget == 0 || int64(budget) > cfg.MaxMessageSize) {
		budget = int(cfg.MaxMessageSize)
	}
	if budget <= 0 {
		budget = 32768
	}

	a := &MessageAdapter{
		sess:        sess,
		bus:         bus,
		cs:          NewCloseSender(),
		writeBudget: budget,
	}
	sess.OnControl(a.observeControl)
	return a
}

// WriteBudget is min(max_write_buffer_size, max_message_size) as reported
// by the session at construction; it never changes afterward.
func (a *MessageAdapter) WriteBudget() int {
	return a.writeBudget
}

func (a *MessageAdapter) observeControl(typ websocket.MessageType, payload []byte) {
	switch typ {
	case websocket.MessagePing:
		cp := append([]byte(nil), payload...)
		a.bus.Publish(context.Background(), Event{Kind: EventPingReceived, Payload: cp})
	case websocket.MessagePong:
		cp := append([]byte(nil), payload...)
		a.bus.Publish(context.Background(), Event{Kind: EventPongReceived, Payload: cp})
	}
}

func (a *MessageAdapter) setStreamClosed() {
	a.stateMu.Lock()
	a.streamClosed = true
	a.stateMu.Unlock()
}

func (a *MessageAdapter) setSinkClosed() {
	a.stateMu.Lock()
	a.sinkClosed = true
	a.stateMu.Unlock()
}

func (a *MessageAdapter) isStreamClosed() bool {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.streamClosed
}

func (a *MessageAdapter) isSinkClosed() bool {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.sinkClosed
}

// ReadMessage returns the payload of the next binary message, driving the
// close handshake and event delivery as a side effect. It returns io.EOF
// once the stream is exhausted; after that every call returns io.EOF.
func (a *MessageAdapter) ReadMessage(ctx context.Context) ([]byte, error) {
	for {
		if err := a.cs.Drive(ctx, a.sess, a.bus); err != nil && !xerrors.Is(err, ErrClosed) {
			// A failed close attempt does not prevent further reads;
			// the event bus already has the error.
		}

		if a.isStreamClosed() {
			return nil, io.EOF
		}

		typ, r, err := a.sess.Reader(ctx)
		switch {
		case err == nil && typ == websocket.MessageBinary:
			b, rerr := io.ReadAll(r)
			if rerr != nil {
				if isCapacityError(rerr) {
					a.bus.Publish(ctx, Event{Kind: EventProtocolError, Reason: "message exceeds read limit"})
					continue
				}
				a.setStreamClosed()
				return nil, &EngineError{Source: rerr}
			}
			return b, nil

		case err == nil && typ == websocket.MessageText:
			io.Copy(io.Discard, r)
			a.bus.Publish(ctx, Event{Kind: EventProtocolError, Reason: ErrReceivedText.Error()})
			a.cs.Queue(websocket.StatusUnsupportedData, "Text messages are not supported.")
			continue

		case err == nil:
			// Any other message type the session might yield is
			// treated the same as a protocol violation: the core
			// only ever expects binary or text data frames.
			a.bus.Publish(ctx, Event{Kind: EventProtocolError, Reason: "unexpected message type"})
			a.cs.Queue(websocket.StatusProtocolError, "Unexpected message type.")
			continue

		case xerrors.Is(err, io.EOF):
			// A genuine end-of-stream marker, as opposed to a cached
			// close/capacity/protocol error repeating itself (the
			// cases below). EventConnectionClosed is the terminal
			// event regardless of how the stream ended, so a bare
			// EOF still publishes it exactly once, same as the
			// isConnectionClosed case.
			a.bus.Publish(ctx, Event{Kind: EventConnectionClosed})
			a.setStreamClosed()
			return nil, io.EOF

		case isConnectionClosed(err):
			a.bus.Publish(ctx, Event{Kind: EventConnectionClosed})
			a.setStreamClosed()
			return nil, io.EOF

		case websocket.CloseStatus(err) != -1:
			// The underlying connection caches this same error once
			// the close handshake finishes, so only the first
			// observation is a genuine "frame received" event;
			// seeing it again means the handshake is done and the
			// stream has nothing left to offer.
			a.stateMu.Lock()
			seen := a.closeFrameSeen
			a.closeFrameSeen = true
			a.stateMu.Unlock()

			if seen {
				a.bus.Publish(ctx, Event{Kind: EventConnectionClosed})
				a.setStreamClosed()
				return nil, io.EOF
			}

			ce := closeErrorOf(err)
			a.bus.Publish(ctx, Event{Kind: EventCloseFrameReceived, Code: ce.Code, Reason: ce.Reason})
			continue

		case isCapacityError(err):
			// The engine tears the whole connection down as soon as
			// it raises this, so every later Reader call returns the
			// exact same cached error; only the first occurrence is
			// a fresh event; after that treat it as end-of-stream.
			if a.seenBefore(err) {
				a.setStreamClosed()
				return nil, io.EOF
			}
			a.bus.Publish(ctx, Event{Kind: EventProtocolError, Reason: "message exceeds read limit"})
			continue

		default:
			if a.seenBefore(err) {
				a.setStreamClosed()
				return nil, io.EOF
			}
			a.bus.Publish(ctx, Event{Kind: EventProtocolError, Reason: err.Error()})
			a.cs.Queue(websocket.StatusProtocolError, "Protocol violation.")
			continue
		}
	}
}

// seenBefore reports whether the innermost error wrapped by err is the
// identical error value recorded by the previous call, and records it as the
// new baseline. The engine closes the connection as soon as it raises most
// read errors and keeps returning that one cached error on every later call,
// each time wrapped in a fresh value; comparing the innermost error by
// identity is how we notice the handshake is over and nothing new will ever
// arrive.
func (a *MessageAdapter) seenBefore(err error) bool {
	root := err
	for next := xerrors.Unwrap(root); next != nil; next = xerrors.Unwrap(root) {
		root = next
	}

	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if a.lastErr != nil && a.lastErr == root {
		return true
	}
	a.lastErr = root
	return false
}

// isConnectionClosed reports whether err comes from a cancelled or expired
// context. The engine closes the connection once the context bounding a
// read is done, so the adapter treats this as the connection being gone.
func isConnectionClosed(err error) bool {
	if err == nil {
		return false
	}
	return xerrors.Is(err, context.Canceled) || xerrors.Is(err, context.DeadlineExceeded)
}

func closeErrorOf(err error) websocket.CloseError {
	var ce websocket.CloseError
	if xerrors.As(err, &ce) {
		return ce
	}
	return websocket.CloseError{Code: websocket.CloseStatus(err)}
}

// WriteMessage sends p as a single binary message. It implements the
// ready/start-send/flush sequence as one blocking call: it drives the
// close handshake first (so a close queued from the read path gets a
// chance to go out even on an otherwise idle writer), then fails fast if
// the sink is already closed, otherwise writes and implicitly flushes.
//
// On any send error, both halves of the duplex are marked closed: the
// reader path depends on the writer to ever emit a close frame, so a
// broken sink means the whole adapter is done.
func (a *MessageAdapter) WriteMessage(ctx context.Context, p []byte) error {
	a.cs.Drive(ctx, a.sess, a.bus)

	if a.isSinkClosed() {
		return ErrClosed
	}

	err := a.sess.Write(ctx, websocket.MessageBinary, p)
	if err != nil {
		a.setSinkClosed()
		a.setStreamClosed()
		return mapWriteError(err)
	}
	return nil
}

func mapWriteError(err error) error {
	if websocket.CloseStatus(err) != -1 {
		return ErrClosed
	}
	return &EngineError{Source: err}
}

// Close marks the sink half closed and sends a normal closure frame,
// treating an already-closed connection as success.
func (a *MessageAdapter) Close(ctx context.Context) error {
	a.setSinkClosed()
	err := a.cs.Queue(websocket.StatusNormalClosure, "")
	if err != nil {
		// Already queued (e.g. by a protocol violation) or already
		// sent; either way Drive below will finish the job.
	}
	derr := a.cs.Drive(ctx, a.sess, a.bus)
	if derr != nil && !xerrors.Is(derr, ErrClosed) {
		return derr
	}
	return nil
}

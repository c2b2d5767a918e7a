package wsstream

import (
	"golang.org/x/xerrors"

	"wsstream.dev/bridge"
)

// ErrClosed is returned by ByteBridge and MessageAdapter operations once the
// adapter's sink half has been shut down, either by the caller or because a
// prior write failed.
var ErrClosed = xerrors.New("wsstream: adapter is closed")

// ErrReceivedText is surfaced on the EventBus when the remote sends a text
// message. Byte-stream mode only carries binary frames, so the adapter
// initiates a close handshake and continues polling for end-of-stream.
var ErrReceivedText = xerrors.New("wsstream: remote sent a text message, only binary messages are accepted")

// ProtocolError describes a WebSocket protocol violation observed while
// reading. MessageAdapter reports violations as EventProtocolError events
// whose Reason holds the description; it neither returns nor publishes
// values of this type.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "wsstream: WebSocket protocol violation: " + e.Reason
}

// EngineError wraps an error returned by the underlying WebSocket session
// that the adapter does not map to ErrClosed or to an event: a failed
// message payload read or a failed write. Transport I/O errors surfacing
// through the session are wrapped the same way.
type EngineError struct {
	Source error
}

func (e *EngineError) Error() string {
	return "wsstream: websocket engine error: " + e.Source.Error()
}

func (e *EngineError) Unwrap() error {
	return e.Source
}

// isCapacityError reports whether err represents a message exceeding the
// connection's configured read limit: either observed directly while
// reading a message's payload (websocket.ErrReadLimitExceeded) or, for a
// connection that already tore down over it, via its cached close status.
func isCapacityError(err error) bool {
	return xerrors.Is(err, websocket.ErrReadLimitExceeded) || websocket.CloseStatus(err) == websocket.StatusMessageTooBig
}

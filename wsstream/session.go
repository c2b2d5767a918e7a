package wsstream

import (
	"context"
	"io"

	"wsstream.dev/bridge"
)

// Session is the WebSocket connection MessageAdapter consumes. ConnSession
// implements it over *websocket.Conn; alternate implementations (see
// GorillaSession) let the adapter run over other WebSocket libraries.
type Session interface {
	// Reader waits for the next WebSocket message and returns its type
	// along with a reader for its payload. Implementations must handle
	// ping/pong/close frames internally and only return data frames,
	// mirroring (*websocket.Conn).Reader.
	Reader(ctx context.Context) (websocket.MessageType, io.Reader, error)

	// Write writes p as a single message in one frame.
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error

	// Close performs the WebSocket close handshake. Additional calls
	// after the first are no-ops that return nil.
	Close(code websocket.StatusCode, reason string) error

	// Config reports the limits MessageAdapter and ByteBridge must
	// respect: the largest single write the session will buffer before
	// requiring a flush, and the largest message it will accept on
	// read (0 means no explicit cap beyond the session's default).
	Config() SessionConfig

	// OnControl registers fn to observe every ping, pong and close frame
	// the session handles internally. It must be called before the
	// first Reader/Read call on the session.
	OnControl(fn func(websocket.MessageType, []byte))
}

// SessionConfig mirrors the subset of the underlying WebSocket
// configuration the adapter needs: the write-side buffering limit and the
// read-side message size cap. WriteBudget (see MessageAdapter) is derived
// from these once at construction and never changes.
type SessionConfig struct {
	MaxWriteBufferSize int
	MaxMessageSize     int64
}

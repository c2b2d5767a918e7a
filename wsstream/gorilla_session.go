package wsstream

import (
	"context"
	"io"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"

	"wsstream.dev/bridge"
)

// GorillaSession adapts a *gorilla/websocket.Conn to the Session interface,
// so MessageAdapter and ByteBridge run identically over either the engine's
// own Conn or a connection established with gorilla/websocket, e.g. because
// a caller already dialed with gorilla or is migrating off it gradually.
//
// gorilla's blocking calls are cancelled through deadlines rather than a
// context argument, so every Reader/Write call here spawns a
// short-lived goroutine that converts ctx cancellation into an immediate
// deadline, the same trick a context-naive net.Conn is usually wrapped
// with.
type GorillaSession struct {
	Conn *gorilla.Conn

	// MaxMessageSize bounds a single message the way websocket.Conn's
	// SetReadLimit does; gorilla enforces this itself once set via
	// Conn.SetReadLimit, so this field only feeds Config().
	MaxMessageSize int

	// MaxWriteBufferSize reports the write chunk size a caller above
	// this session should budget for; gorilla has no direct equivalent,
	// so callers size it to their dialer's WriteBufferSize.
	MaxWriteBufferSize int

	mu             sync.Mutex
	onCtrl         func(websocket.MessageType, []byte)
	wired          bool
	mappedCloseErr error
}

var _ Session = (*GorillaSession)(nil)

// watchCancel arranges for an in-flight gorilla call to unblock as soon as
// ctx is done, by forcing an already-elapsed deadline. It returns a stop
// function that must be called once the blocking call returns, successful
// or not, to avoid leaking the goroutine and to restore an unblocked
// deadline for the next call.
func watchCancel(ctx context.Context, setDeadline func(time.Time) error) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			setDeadline(time.Unix(0, 0))
		case <-done:
		}
	}()
	return func() {
		close(done)
		setDeadline(time.Time{})
	}
}

func (s *GorillaSession) Reader(ctx context.Context) (websocket.MessageType, io.Reader, error) {
	stop := watchCancel(ctx, s.Conn.SetReadDeadline)
	defer stop()

	typ, r, err := s.Conn.NextReader()
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		if ce, ok := err.(*gorilla.CloseError); ok {
			return 0, nil, s.mappedClose(ce.Code, ce.Text)
		}
		return 0, nil, err
	}
	return gorillaMessageType(typ), r, nil
}

// mappedClose wraps a gorilla close error as our own websocket.CloseError so
// MessageAdapter's classification (which matches on websocket.CloseStatus)
// works the same over a GorillaSession as over the native engine. It caches
// the first translation and returns that same value on every later call.
func (s *GorillaSession) mappedClose(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mappedCloseErr == nil {
		s.mappedCloseErr = websocket.CloseError{Code: websocket.StatusCode(code), Reason: reason}
	}
	return s.mappedCloseErr
}

func (s *GorillaSession) Write(ctx context.Context, typ websocket.MessageType, p []byte) error {
	stop := watchCancel(ctx, s.Conn.SetWriteDeadline)
	defer stop()

	err := s.Conn.WriteMessage(int(typ), p)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *GorillaSession) Close(code websocket.StatusCode, reason string) error {
	msg := gorilla.FormatCloseMessage(int(code), reason)
	deadline := time.Now().Add(5 * time.Second)
	werr := s.Conn.WriteControl(gorilla.CloseMessage, msg, deadline)
	cerr := s.Conn.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

func (s *GorillaSession) Config() SessionConfig {
	return SessionConfig{
		MaxWriteBufferSize: s.MaxWriteBufferSize,
		MaxMessageSize:     int64(s.MaxMessageSize),
	}
}

// OnControl installs ping/pong/close handlers on Conn that report each frame
// to fn and then call the handler that was installed on Conn before; the
// handlers are installed once, later calls only replace fn. Register it
// before the session starts reading.
func (s *GorillaSession) OnControl(fn func(websocket.MessageType, []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCtrl = fn

	if s.wired {
		return
	}
	s.wired = true

	prevPing := s.Conn.PingHandler()
	s.Conn.SetPingHandler(func(data string) error {
		s.fire(websocket.MessagePing, data)
		if prevPing != nil {
			return prevPing(data)
		}
		return s.Conn.WriteControl(gorilla.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	prevPong := s.Conn.PongHandler()
	s.Conn.SetPongHandler(func(data string) error {
		s.fire(websocket.MessagePong, data)
		if prevPong != nil {
			return prevPong(data)
		}
		return nil
	})

	prevClose := s.Conn.CloseHandler()
	s.Conn.SetCloseHandler(func(code int, text string) error {
		s.fire(websocket.MessageClose, text)
		if prevClose != nil {
			return prevClose(code, text)
		}
		msg := gorilla.FormatCloseMessage(code, "")
		s.Conn.WriteControl(gorilla.CloseMessage, msg, time.Now().Add(time.Second))
		return nil
	})
}

func (s *GorillaSession) fire(typ websocket.MessageType, data string) {
	s.mu.Lock()
	fn := s.onCtrl
	s.mu.Unlock()
	if fn != nil {
		fn(typ, []byte(data))
	}
}

func gorillaMessageType(typ int) websocket.MessageType {
	if typ == gorilla.TextMessage {
		return websocket.MessageText
	}
	return websocket.MessageBinary
}

package wsstream

import (
	"context"
	"io"

	"wsstream.dev/bridge"
)

// ConnSession adapts a *websocket.Conn to the Session interface.
type ConnSession struct {
	Conn *websocket.Conn
}

var _ Session = ConnSession{}

func (s ConnSession) Reader(ctx context.Context) (websocket.MessageType, io.Reader, error) {
	return s.Conn.Reader(ctx)
}

func (s ConnSession) Write(ctx context.Context, typ websocket.MessageType, p []byte) error {
	return s.Conn.Write(ctx, typ, p)
}

func (s ConnSession) Close(code websocket.StatusCode, reason string) error {
	return s.Conn.Close(code, reason)
}

func (s ConnSession) Config() SessionConfig {
	return SessionConfig{
		MaxWriteBufferSize: s.Conn.WriteBufferLen(),
		MaxMessageSize:     s.Conn.ReadBufferLimit(),
	}
}

func (s ConnSession) OnControl(fn func(websocket.MessageType, []byte)) {
	s.Conn.OnControl(fn)
}

package wsstream

import (
	"bytes"
	"context"
	"io"
	"sync"

	"golang.org/x/xerrors"

	"wsstream.dev/bridge"
)

// errBoom is a plain (non-CloseError, non-capacity) sentinel used across
// this package's tests to simulate an otherwise-unclassified sink or
// engine failure.
var errBoom = xerrors.New("boom")

// fakeMessage is one entry in a fakeSession's scripted read sequence.
type fakeMessage struct {
	typ websocket.MessageType
	p   []byte
	err error
}

// fakeSession is a scriptable Session used to drive MessageAdapter and
// ByteBridge through the message classification table without a real
// WebSocket connection underneath. Reads are served in order from msgs.
// Once exhausted, a further Reader call repeats the last scripted error
// (the same error value, by identity), matching the way the real engine
// keeps returning errors that wrap its one cached error after tearing a
// connection down; if
// the last scripted entry carried no error, it returns io.EOF instead, a
// session with nothing left to offer.
type fakeSession struct {
	mu      sync.Mutex
	msgs    []fakeMessage
	pos     int
	lastErr error

	writes    [][]byte
	writeErr  error
	closes    []closeCall
	closeErr  error
	onControl func(websocket.MessageType, []byte)

	cfg SessionConfig
}

type closeCall struct {
	code   websocket.StatusCode
	reason string
}

func newFakeSession(msgs ...fakeMessage) *fakeSession {
	return &fakeSession{msgs: msgs, cfg: SessionConfig{MaxWriteBufferSize: 4096}}
}

func (s *fakeSession) Reader(ctx context.Context) (websocket.MessageType, io.Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos >= len(s.msgs) {
		if s.lastErr != nil {
			return 0, nil, s.lastErr
		}
		return 0, nil, io.EOF
	}
	m := s.msgs[s.pos]
	s.pos++
	s.lastErr = m.err
	if m.err != nil {
		return 0, nil, m.err
	}
	return m.typ, bytes.NewReader(m.p), nil
}

func (s *fakeSession) Write(ctx context.Context, typ websocket.MessageType, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErr != nil {
		return s.writeErr
	}
	cp := append([]byte(nil), p...)
	s.writes = append(s.writes, cp)
	return nil
}

func (s *fakeSession) Close(code websocket.StatusCode, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closes = append(s.closes, closeCall{code, reason})
	return s.closeErr
}

func (s *fakeSession) Config() SessionConfig {
	return s.cfg
}

func (s *fakeSession) OnControl(fn func(websocket.MessageType, []byte)) {
	s.onControl = fn
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.closes)
}

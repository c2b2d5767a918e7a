package wsstream

import (
	"context"
	"io"
	"testing"

	"golang.org/x/xerrors"

	"wsstream.dev/bridge"
	"wsstream.dev/bridge/internal/test/assert"
)

func TestMessageAdapterYieldsBinaryPayloads(t *testing.T) {
	t.Parallel()

	sess := newFakeSession(
		fakeMessage{typ: websocket.MessageBinary, p: []byte("hello")},
		fakeMessage{typ: websocket.MessageBinary, p: []byte("world")},
	)
	a := NewMessageAdapter(sess, NewEventBus())

	b, err := a.ReadMessage(context.Background())
	assert.Success(t, err)
	assert.Equal(t, "payload", "hello", string(b))

	b, err = a.ReadMessage(context.Background())
	assert.Success(t, err)
	assert.Equal(t, "payload", "world", string(b))
}

func TestMessageAdapterEndOfStream(t *testing.T) {
	t.Parallel()

	sess := newFakeSession() // empty: Reader always returns io.EOF
	a := NewMessageAdapter(sess, NewEventBus())

	_, err := a.ReadMessage(context.Background())
	assert.ErrorIs(t, io.EOF, err)

	// Subsequent calls keep returning io.EOF.
	_, err = a.ReadMessage(context.Background())
	assert.ErrorIs(t, io.EOF, err)
}

// TestMessageAdapterBareEOFPublishesConnectionClosed verifies that a
// session ending without ever yielding a CloseError (e.g. a bare TCP
// half-close) still publishes EventConnectionClosed, matching
// WsEvent::Closed's terminal guarantee in the original source this core
// was distilled from ("you should not see any events after this one").
func TestMessageAdapterBareEOFPublishesConnectionClosed(t *testing.T) {
	t.Parallel()

	sess := newFakeSession() // empty: Reader always returns io.EOF directly
	bus := NewEventBus()
	sub := bus.Subscribe(SubscribeConfig{Buffer: 4})

	a := NewMessageAdapter(sess, bus)
	_, err := a.ReadMessage(context.Background())
	assert.ErrorIs(t, io.EOF, err)

	evt := <-sub.Events()
	assert.Equal(t, "event kind", EventConnectionClosed, evt.Kind)

	select {
	case evt := <-sub.Events():
		t.Fatalf("unexpected extra event: %+v", evt)
	default:
	}

	// A second call after the stream is already marked closed must not
	// publish a second EventConnectionClosed.
	_, err = a.ReadMessage(context.Background())
	assert.ErrorIs(t, io.EOF, err)

	select {
	case evt := <-sub.Events():
		t.Fatalf("unexpected event on repeat EOF: %+v", evt)
	default:
	}
}

func TestMessageAdapterTextRejectedAndClosed(t *testing.T) {
	t.Parallel()

	sess := newFakeSession(
		fakeMessage{typ: websocket.MessageText, p: []byte("hi")},
	)
	bus := NewEventBus()
	sub := bus.Subscribe(SubscribeConfig{Buffer: 4})

	a := NewMessageAdapter(sess, bus)
	_, err := a.ReadMessage(context.Background())
	assert.ErrorIs(t, io.EOF, err)

	evt := <-sub.Events()
	assert.Equal(t, "event kind", EventProtocolError, evt.Kind)
	assert.Contains(t, evt.Reason, "text message")

	assert.Equal(t, "close count", 1, sess.closeCount())
	assert.Equal(t, "close code", websocket.StatusUnsupportedData, sess.closes[0].code)
}

func TestMessageAdapterProtocolViolationInitiatesClose(t *testing.T) {
	t.Parallel()

	violation := xerrors.New("received control frame payload with invalid length: 126")
	sess := newFakeSession(
		fakeMessage{err: violation},
	)
	bus := NewEventBus()
	sub := bus.Subscribe(SubscribeConfig{Buffer: 4})

	a := NewMessageAdapter(sess, bus)
	_, err := a.ReadMessage(context.Background())
	assert.ErrorIs(t, io.EOF, err)

	evt := <-sub.Events()
	assert.Equal(t, "event kind", EventProtocolError, evt.Kind)

	assert.Equal(t, "close count", 1, sess.closeCount())
	assert.Equal(t, "close code", websocket.StatusProtocolError, sess.closes[0].code)
}

func TestMessageAdapterCapacityErrorIsNonFatal(t *testing.T) {
	t.Parallel()

	capErr := xerrors.Errorf("%w: at 100 bytes", websocket.ErrReadLimitExceeded)
	sess := newFakeSession(
		fakeMessage{err: capErr},
	)
	bus := NewEventBus()
	sub := bus.Subscribe(SubscribeConfig{Buffer: 4})

	a := NewMessageAdapter(sess, bus)
	_, err := a.ReadMessage(context.Background())
	assert.ErrorIs(t, io.EOF, err)

	evt := <-sub.Events()
	assert.Equal(t, "event kind", EventProtocolError, evt.Kind)
	// Capacity errors on read do not queue a close frame (core policy:
	// non-fatal, the engine itself already tore the connection down).
	assert.Equal(t, "close count", 0, sess.closeCount())
}

func TestMessageAdapterCloseFrameReceivedThenEOF(t *testing.T) {
	t.Parallel()

	ce := websocket.CloseError{Code: websocket.StatusNormalClosure, Reason: "bye"}
	wrapped := xerrors.Errorf("received close frame: %w", ce)
	sess := newFakeSession(
		fakeMessage{err: wrapped},
	)
	bus := NewEventBus()
	sub := bus.Subscribe(SubscribeConfig{Buffer: 4})

	a := NewMessageAdapter(sess, bus)
	_, err := a.ReadMessage(context.Background())
	assert.ErrorIs(t, io.EOF, err)

	evt := <-sub.Events()
	assert.Equal(t, "event kind", EventCloseFrameReceived, evt.Kind)
	assert.Equal(t, "code", websocket.StatusNormalClosure, evt.Code)
	assert.Equal(t, "reason", "bye", evt.Reason)

	evt = <-sub.Events()
	assert.Equal(t, "event kind", EventConnectionClosed, evt.Kind)
}

func TestMessageAdapterWriteMessage(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	a := NewMessageAdapter(sess, NewEventBus())

	assert.Success(t, a.WriteMessage(context.Background(), []byte("payload")))
	assert.Equal(t, "write count", 1, len(sess.writes))
	assert.Equal(t, "payload", "payload", string(sess.writes[0]))
}

func TestMessageAdapterWriteErrorClosesBothHalves(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	sess.writeErr = errBoom
	a := NewMessageAdapter(sess, NewEventBus())

	err := a.WriteMessage(context.Background(), []byte("x"))
	assert.Error(t, err)

	assert.Equal(t, "sink closed", true, a.isSinkClosed())
	assert.Equal(t, "stream closed", true, a.isStreamClosed())

	err = a.WriteMessage(context.Background(), []byte("y"))
	assert.ErrorIs(t, ErrClosed, err)
}

func TestMessageAdapterWriteBudgetFromConfig(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	sess.cfg = SessionConfig{MaxWriteBufferSize: 4096, MaxMessageSize: 1024}
	a := NewMessageAdapter(sess, NewEventBus())
	assert.Equal(t, "budget", 1024, a.WriteBudget())

	sess2 := newFakeSession()
	sess2.cfg = SessionConfig{MaxWriteBufferSize: 512, MaxMessageSize: 1024}
	a2 := NewMessageAdapter(sess2, NewEventBus())
	assert.Equal(t, "budget", 512, a2.WriteBudget())
}

func TestMessageAdapterCloseSendsNormalClosure(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	a := NewMessageAdapter(sess, NewEventBus())

	assert.Success(t, a.Close(context.Background()))
	assert.Equal(t, "close count", 1, sess.closeCount())
	assert.Equal(t, "close code", websocket.StatusNormalClosure, sess.closes[0].code)
	assert.Equal(t, "sink closed", true, a.isSinkClosed())
}

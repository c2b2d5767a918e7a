package wsstream

import (
	"context"
	"net"
	"testing"

	"wsstream.dev/bridge"
	"wsstream.dev/bridge/internal/test/assert"
)

func TestByteBridgeReadReassemblesAcrossCalls(t *testing.T) {
	t.Parallel()

	sess := newFakeSession(
		fakeMessage{typ: websocket.MessageBinary, p: []byte("hello")},
	)
	b := NewByteBridge(sess, NewEventBus())

	buf := make([]byte, 2)
	n, err := b.Read(context.Background(), buf)
	assert.Success(t, err)
	assert.Equal(t, "n", 2, n)
	assert.Equal(t, "chunk", "he", string(buf[:n]))

	n, err = b.Read(context.Background(), buf)
	assert.Success(t, err)
	assert.Equal(t, "chunk", "ll", string(buf[:n]))

	buf = make([]byte, 8)
	n, err = b.Read(context.Background(), buf)
	assert.Success(t, err)
	assert.Equal(t, "chunk", "o", string(buf[:n]))
}

func TestByteBridgeReadZeroLengthMessage(t *testing.T) {
	t.Parallel()

	sess := newFakeSession(
		fakeMessage{typ: websocket.MessageBinary, p: nil},
		fakeMessage{typ: websocket.MessageBinary, p: []byte("x")},
	)
	b := NewByteBridge(sess, NewEventBus())

	buf := make([]byte, 4)
	n, err := b.Read(context.Background(), buf)
	assert.Success(t, err)
	assert.Equal(t, "n", 0, n)

	n, err = b.Read(context.Background(), buf)
	assert.Success(t, err)
	assert.Equal(t, "chunk", "x", string(buf[:n]))
}

func TestByteBridgeWriteSplitsAtBudget(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	sess.cfg = SessionConfig{MaxWriteBufferSize: 5}
	b := NewByteBridge(sess, NewEventBus())

	n, err := b.Write(context.Background(), []byte("abcdefgh"))
	assert.Success(t, err)
	assert.Equal(t, "n", 8, n)

	assert.Equal(t, "messages sent", 2, len(sess.writes))
	assert.Equal(t, "first", "abcde", string(sess.writes[0]))
	assert.Equal(t, "second", "fgh", string(sess.writes[1]))
}

func TestByteBridgeWriteChunkNeverSplits(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	sess.cfg = SessionConfig{MaxWriteBufferSize: 5}
	b := NewByteBridge(sess, NewEventBus())

	n, err := b.WriteChunk(context.Background(), []byte("abcdefgh"))
	assert.Success(t, err)
	assert.Equal(t, "n", 8, n)
	assert.Equal(t, "messages sent", 1, len(sess.writes))
	assert.Equal(t, "payload", "abcdefgh", string(sess.writes[0]))
}

func TestByteBridgeWriteVectoredSendsEachBufferInOrder(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	sess.cfg = SessionConfig{MaxWriteBufferSize: 10}
	b := NewByteBridge(sess, NewEventBus())

	bufs := net.Buffers{[]byte("abc"), []byte("defghijkl"), []byte("mnop")}
	n, err := b.WriteVectored(context.Background(), bufs)
	assert.Success(t, err)
	assert.Equal(t, "n", int64(16), n)
	assert.Equal(t, "messages sent", 3, len(sess.writes))
	assert.Equal(t, "first", "abc", string(sess.writes[0]))
	assert.Equal(t, "second", "defghijkl", string(sess.writes[1]))
	assert.Equal(t, "third", "mnop", string(sess.writes[2]))
}

func TestByteBridgePeekAndDiscard(t *testing.T) {
	t.Parallel()

	sess := newFakeSession(
		fakeMessage{typ: websocket.MessageBinary, p: []byte("abcdef")},
	)
	b := NewByteBridge(sess, NewEventBus())

	peeked, err := b.Peek(context.Background())
	assert.Success(t, err)
	assert.Equal(t, "peek", "abcdef", string(peeked))

	b.Discard(3)

	peeked, err = b.Peek(context.Background())
	assert.Success(t, err)
	assert.Equal(t, "peek after discard", "def", string(peeked))
}

func TestByteBridgeWriteBudgetReportsMinimum(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	sess.cfg = SessionConfig{MaxWriteBufferSize: 4096, MaxMessageSize: 64}
	b := NewByteBridge(sess, NewEventBus())

	assert.Equal(t, "budget", 64, b.WriteBudget())
}

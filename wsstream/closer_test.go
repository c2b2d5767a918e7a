package wsstream

import (
	"context"
	"testing"

	"wsstream.dev/bridge"
	"wsstream.dev/bridge/internal/test/assert"
)

func TestCloseSenderQueueOnce(t *testing.T) {
	t.Parallel()

	cs := NewCloseSender()
	assert.Success(t, cs.Queue(websocket.StatusNormalClosure, "bye"))
	assert.ErrorIs(t, errAlreadyQueued, cs.Queue(websocket.StatusProtocolError, "too late"))
}

func TestCloseSenderDriveSendsExactlyOnce(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	bus := NewEventBus()
	cs := NewCloseSender()

	assert.Success(t, cs.Queue(websocket.StatusNormalClosure, "done"))
	assert.Success(t, cs.Drive(context.Background(), sess, bus))
	assert.Equal(t, "close count", 1, sess.closeCount())

	// Driving again after completion is a no-op; still exactly one close
	// frame was ever sent.
	assert.Success(t, cs.Drive(context.Background(), sess, bus))
	assert.Equal(t, "close count", 1, sess.closeCount())
}

func TestCloseSenderDriveNoopWhenNothingQueued(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	bus := NewEventBus()
	cs := NewCloseSender()

	assert.Success(t, cs.Drive(context.Background(), sess, bus))
	assert.Equal(t, "close count", 0, sess.closeCount())
	assert.Equal(t, "pending", false, cs.Pending())
}

func TestCloseSenderSinkErrorSurfacesAsEvent(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	sess.closeErr = errBoom

	bus := NewEventBus()
	sub := bus.Subscribe(SubscribeConfig{Buffer: 1})

	cs := NewCloseSender()
	assert.Success(t, cs.Queue(websocket.StatusProtocolError, "broken"))

	err := cs.Drive(context.Background(), sess, bus)
	assert.Error(t, err)

	evt := <-sub.Events()
	assert.Equal(t, "event kind", EventProtocolError, evt.Kind)

	// A subsequent Drive call returns the terminal SinkError state without
	// touching the sink again.
	assert.Equal(t, "close count", 1, sess.closeCount())
	err = cs.Drive(context.Background(), sess, bus)
	assert.ErrorIs(t, ErrClosed, err)
	assert.Equal(t, "close count", 1, sess.closeCount())
}

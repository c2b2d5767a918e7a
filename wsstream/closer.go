package wsstream

import (
	"context"
	"sync"

	"golang.org/x/xerrors"

	"wsstream.dev/bridge"
)

type closeSenderState int

const (
	closeReady closeSenderState = iota
	closeQueued
	closeDone
	closeSinkError
)

// errAlreadyQueued is returned by CloseSender.Queue when a close frame has
// already been queued or sent; at most one is ever sent per connection.
var errAlreadyQueued = xerrors.New("wsstream: a close frame was already queued")

// CloseSender tracks the single close frame an adapter is allowed to send
// during its lifetime. Queue may be called from the reader path (on a
// protocol violation or a received text message) while the writer path
// concurrently calls Drive to make progress on it, so both are safe to call
// from either goroutine.
//
// Unlike a polled state machine, Drive performs the underlying send and
// flush in one blocking call: the Go websocket connection's Close already
// flushes synchronously, so the separate queued/flushing states collapse
// into one send attempt guarded by a mutex that also enforces "send it
// exactly once".
type CloseSender struct {
	mu     sync.Mutex
	state  closeSenderState
	code   websocket.StatusCode
	reason string
}

// NewCloseSender returns a CloseSender in its initial Ready state.
func NewCloseSender() *CloseSender {
	return &CloseSender{}
}

// Queue records the close frame to send. It returns errAlreadyQueued if a
// close frame was already queued or sent; the caller should treat that as a
// no-op, not a failure.
func (cs *CloseSender) Queue(code websocket.StatusCode, reason string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.state != closeReady {
		return errAlreadyQueued
	}
	cs.code, cs.reason = code, reason
	cs.state = closeQueued
	return nil
}

// Pending reports whether a close frame is queued or in flight, i.e.
// whether the adapter's closer_pending flag would be set.
func (cs *CloseSender) Pending() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.state == closeQueued
}

// Drive makes progress on a queued close frame by sending it over sess. It
// is a no-op if nothing is queued or the close already completed. An error
// from the underlying send is published as a ProtocolError event on bus and
// also returned by that call; every later call returns ErrClosed without
// touching sess again.
func (cs *CloseSender) Drive(ctx context.Context, sess Session, bus *EventBus) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	switch cs.state {
	case closeReady, closeDone:
		return nil
	case closeSinkError:
		return ErrClosed
	}

	code, reason := cs.code, cs.reason
	err := sess.Close(code, reason)
	if err != nil && websocket.CloseStatus(err) == -1 {
		bus.Publish(ctx, Event{
			Kind:   EventProtocolError,
			Reason: "failed to send close frame: " + err.Error(),
		})
		cs.state = closeSinkError
		return err
	}

	cs.state = closeDone
	return nil
}

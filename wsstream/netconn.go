package wsstream

import (
	"context"
	"net"
	"sync"
	"time"
)

// NetConn adapts a ByteBridge into a net.Conn, for handing a WebSocket
// session to code that only knows how to speak against a plain stream
// connection (e.g. a protocol implementation built on net.Conn).
//
// Every Write corresponds to one or more binary message sends, split at
// WriteBudget boundaries; Read reassembles and splits incoming messages
// transparently. Close sends a normal closure frame.
//
// When a deadline is hit, the pending read or write is interrupted by
// cancelling its context, and that half of the bridge is finished for good:
// a read cut short this way ends the stream (later Reads return io.EOF),
// and a write cut short this way closes the write half (later Writes return
// ErrClosed). Over ConnSession the engine also closes the whole connection
// when the context bounding a read or write is done.
func NetConn(bridge *ByteBridge) net.Conn {
	nc := &netConn{bridge: bridge}
	nc.readCtx, nc.readCancel = context.WithCancel(context.Background())
	nc.writeCtx, nc.writeCancel = context.WithCancel(context.Background())
	return nc
}

type netConn struct {
	bridge *ByteBridge

	writeMu     sync.Mutex
	writeCtx    context.Context
	writeCancel context.CancelFunc

	readMu     sync.Mutex
	readCtx    context.Context
	readCancel context.CancelFunc
}

var _ net.Conn = &netConn{}

func (c *netConn) Close() error {
	return c.bridge.Close(context.Background())
}

func (c *netConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	ctx := c.writeCtx
	c.writeMu.Unlock()
	return c.bridge.Write(ctx, p)
}

func (c *netConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	ctx := c.readCtx
	c.readMu.Unlock()
	return c.bridge.Read(ctx, p)
}

type unknownAddr struct{}

func (unknownAddr) Network() string { return "unknown" }
func (unknownAddr) String() string  { return "unknown" }

func (c *netConn) RemoteAddr() net.Addr {
	return unknownAddr{}
}

func (c *netConn) LocalAddr() net.Addr {
	return unknownAddr{}
}

func (c *netConn) SetDeadline(t time.Time) error {
	c.SetWriteDeadline(t)
	c.SetReadDeadline(t)
	return nil
}

// SetWriteDeadline replaces the context guarding Write. A zero t, per the
// net.Conn contract, means writes never time out; any other t is used as a
// context deadline for Writes started after the call. Once a Write has
// failed on its deadline, later Writes fail with ErrClosed whatever t is.
func (c *netConn) SetWriteDeadline(t time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.writeCancel()
	if t.IsZero() {
		c.writeCtx, c.writeCancel = context.WithCancel(context.Background())
	} else {
		c.writeCtx, c.writeCancel = context.WithDeadline(context.Background(), t)
	}
	return nil
}

// SetReadDeadline is SetWriteDeadline's counterpart for Read.
func (c *netConn) SetReadDeadline(t time.Time) error {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	c.readCancel()
	if t.IsZero() {
		c.readCtx, c.readCancel = context.WithCancel(context.Background())
	} else {
		c.readCtx, c.readCancel = context.WithDeadline(context.Background(), t)
	}
	return nil
}

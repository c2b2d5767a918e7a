// +build !js

package websocket

import (
	"bufio"
	"context"
	"io"
	"runtime"
	"strconv"
	"sync"

	"golang.org/x/xerrors"
)

// Conn represents a WebSocket connection.
// All methods may be called concurrently except for Reader and Read.
//
// You must always read from the connection. Otherwise control
// frames will not be handled. See the docs on Reader and CloseRead.
//
// Be sure to call Close on the connection when you
// are finished with it to release the associated resources.
//
// Every error from Read or Reader will cause the connection
// to be closed so you do not need to write your own error message.
type Conn struct {
	subprotocol string
	br          *bufio.Reader
	bw          *bufio.Writer
	closer      io.Closer
	client      bool

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}

	closeMu           sync.Mutex
	wroteClose        bool
	readCloseFrameErr error

	readMu       *mu
	readTimeout  chan context.Context
	readHeaderBuf     []byte
	readControlBuf    []byte

	writeFrameMu   *mu
	writeTimeout   chan context.Context
	writeHeaderBuf []byte
	writeHeader    *header
	writeBuf       []byte

	msgReader *msgReader
	msgWriter *msgWriter

	pingCounter   int32
	activePingsMu sync.Mutex
	activePings   map[string]chan<- struct{}

	// onControl, when set, is invoked with the payload of every ping, pong
	// and close frame handled by the read loop, before the built in
	// bookkeeping for that frame runs. Used to surface control frames to an
	// observer without altering the frame handling itself.
	onControl func(MessageType, []byte)
}

type connConfig struct {
	subprotocol string
	rwc         io.ReadWriteCloser
	client      bool

	br *bufio.Reader
	bw *bufio.Writer
}

func newConn(cfg connConfig) *Conn {
	c := &Conn{
		subprotocol: cfg.subprotocol,
		br:          cfg.br,
		bw:          cfg.bw,
		closer:      cfg.rwc,
		client:      cfg.client,
	}

	c.init()

	if c.client {
		c.writeBuf = extractBufioWriterBuf(c.bw, cfg.rwc)
	}

	return c
}

func (c *Conn) init() {
	c.closed = make(chan struct{})
	c.activePings = make(map[string]chan<- struct{})

	c.readTimeout = make(chan context.Context)
	c.writeTimeout = make(chan context.Context)

	c.readMu = newMu(c)
	c.writeFrameMu = newMu(c)

	c.readHeaderBuf = makeReadHeaderBuf()
	c.readControlBuf = make([]byte, maxControlPayload)
	c.writeHeaderBuf = makeWriteHeaderBuf()
	c.writeHeader = &header{}

	c.msgReader = newMsgReader(c)
	c.msgWriter = newMsgWriter(c)

	runtime.SetFinalizer(c, func(c *Conn) {
		c.closer.Close()
	})

	go c.timeoutLoop()
}

// Subprotocol returns the negotiated subprotocol.
// An empty string means the default protocol.
func (c *Conn) Subprotocol() string {
	return c.subprotocol
}

// OnControl registers fn to be called with the payload of every ping, pong
// and close frame the connection handles, in addition to the connection's
// built in handling of those frames (auto replying to pings, waking Ping
// callers on pong, beginning the close handshake). fn must not block or
// call back into the connection.
//
// OnControl is not safe to call concurrently with reads from the
// connection; register it before the first call to Reader or Read.
func (c *Conn) OnControl(fn func(MessageType, []byte)) {
	c.onControl = fn
}

// ReadBufferLimit returns the maximum number of bytes SetReadLimit will
// currently accept for a single message, i.e. the last value passed to
// SetReadLimit, or the default of 32768 if it was never called.
func (c *Conn) ReadBufferLimit() int64 {
	return c.msgReader.limitReader.limit.Load()
}

// WriteBufferLen returns the size of the buffer used to batch writes to the
// underlying connection before a frame's payload is flushed. It is the
// practical upper bound on how much of a message Write will buffer before
// a partial flush occurs.
func (c *Conn) WriteBufferLen() int {
	return c.bw.Size()
}

func (c *Conn) close(err error) {
	c.closeOnce.Do(func() {
		runtime.SetFinalizer(c, nil)

		if err == nil {
			err = xerrors.New("connection closed")
		}
		c.setCloseErr(err)

		close(c.closed)
		c.closer.Close()

		c.msgReader.close()
	})
}

func (c *Conn) timeoutLoop() {
	readCtx := context.Background()
	writeCtx := context.Background()

	for {
		select {
		case <-c.closed:
			return
		case readCtx = <-c.readTimeout:
		case writeCtx = <-c.writeTimeout:
		case <-readCtx.Done():
			c.close(xerrors.Errorf("read timed out: %w", readCtx.Err()))
		case <-writeCtx.Done():
			c.close(xerrors.Errorf("write timed out: %w", writeCtx.Err()))
		}
	}
}

// Ping sends a ping to the peer and waits for a pong.
// Use this to measure latency or ensure the peer is responsive.
// Ping must be called concurrently with Reader/Read as it does
// not read from the connection itself.
func (c *Conn) Ping(ctx context.Context) error {
	p := strconv.Itoa(int(c.pingCounter))
	c.pingCounter++

	pong := make(chan struct{})

	c.activePingsMu.Lock()
	c.activePings[p] = pong
	c.activePingsMu.Unlock()

	defer func() {
		c.activePingsMu.Lock()
		delete(c.activePings, p)
		c.activePingsMu.Unlock()
	}()

	err := c.writeControl(ctx, opPing, []byte(p))
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return c.closeErr
	case <-pong:
	}

	return nil
}

// mu is a cooperative, context aware mutex. Unlike sync.Mutex, Lock
// respects ctx cancellation and the connection's closed state so a
// blocked caller is never stuck past either.
type mu struct {
	c  *Conn
	ch chan struct{}
}

func newMu(c *Conn) *mu {
	return &mu{
		c:  c,
		ch: make(chan struct{}, 1),
	}
}

func (m *mu) Lock(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.c.closed:
		return m.c.closeErr
	case m.ch <- struct{}{}:
		return nil
	}
}

func (m *mu) Unlock() {
	select {
	case <-m.ch:
	default:
	}
}

package wsstream

import (
	"context"
	"io"
	"testing"
	"time"

	"wsstream.dev/bridge"
	"wsstream.dev/bridge/internal/test/assert"
	"wsstream.dev/bridge/internal/test/wstest"
)

func TestByteBridgeEndToEndFramedEcho(t *testing.T) {
	t.Parallel()

	c1, c2, err := wstest.Pipe(nil, nil)
	assert.Success(t, err)
	defer c1.Close(websocket.StatusInternalError, "")
	defer c2.Close(websocket.StatusInternalError, "")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	server := NewByteBridge(ConnSession{Conn: c1}, NewEventBus())
	go func() {
		for {
			msg, err := server.adapter.ReadMessage(ctx)
			if err != nil {
				return
			}
			if err := server.adapter.WriteMessage(ctx, msg); err != nil {
				return
			}
		}
	}()

	client := NewByteBridge(ConnSession{Conn: c2}, NewEventBus())

	n, err := client.WriteChunk(ctx, []byte("line one"))
	assert.Success(t, err)
	assert.Equal(t, "n", len("line one"), n)

	got, err := client.Peek(ctx)
	assert.Success(t, err)
	assert.Equal(t, "echoed payload", "line one", string(got))
	client.Discard(len(got))

	_, err = client.WriteChunk(ctx, []byte("line two"))
	assert.Success(t, err)

	buf := make([]byte, 64)
	n, err = client.Read(ctx, buf)
	assert.Success(t, err)
	assert.Equal(t, "echoed payload", "line two", string(buf[:n]))
}

func TestByteBridgeEndToEndPingPassthrough(t *testing.T) {
	t.Parallel()

	c1, c2, err := wstest.Pipe(nil, nil)
	assert.Success(t, err)
	defer c1.Close(websocket.StatusInternalError, "")
	defer c2.Close(websocket.StatusInternalError, "")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bus := NewEventBus()
	sub := bus.Subscribe(SubscribeConfig{Buffer: 4})
	receiver := NewByteBridge(ConnSession{Conn: c1}, bus)
	go receiver.adapter.ReadMessage(ctx) // pumps reads so control frames get observed

	pinger := NewByteBridge(ConnSession{Conn: c2}, NewEventBus())
	go pinger.adapter.ReadMessage(ctx)

	pingErr := make(chan error, 1)
	go func() {
		pingErr <- c2.Ping(ctx)
	}()

	select {
	case evt := <-sub.Events():
		assert.Equal(t, "event kind", EventPingReceived, evt.Kind)
	case <-ctx.Done():
		t.Fatal("timed out waiting for ping event")
	}

	assert.Success(t, <-pingErr)
}

func TestByteBridgeEndToEndTextMessageInitiatesClose(t *testing.T) {
	t.Parallel()

	c1, c2, err := wstest.Pipe(nil, nil)
	assert.Success(t, err)
	defer c1.Close(websocket.StatusInternalError, "")
	defer c2.Close(websocket.StatusInternalError, "")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bus := NewEventBus()
	sub := bus.Subscribe(SubscribeConfig{Buffer: 4})
	server := NewByteBridge(ConnSession{Conn: c1}, bus)

	readDone := make(chan error, 1)
	go func() {
		_, err := server.adapter.ReadMessage(ctx)
		readDone <- err
	}()

	assert.Success(t, c2.Write(ctx, websocket.MessageText, []byte("hi")))

	select {
	case evt := <-sub.Events():
		assert.Equal(t, "event kind", EventProtocolError, evt.Kind)
	case <-ctx.Done():
		t.Fatal("timed out waiting for protocol error event")
	}

	// The server half queued and sent a close frame; driving the client's
	// own read loop to completion should observe it as a close frame
	// followed by end-of-stream, never another data message.
	_, _, err = c2.Read(ctx)
	if err == nil {
		t.Fatal("expected the client read to observe the server's close frame")
	}
	assert.Equal(t, "close status", websocket.StatusUnsupportedData, websocket.CloseStatus(err))

	select {
	case err := <-readDone:
		assert.ErrorIs(t, io.EOF, err)
	case <-ctx.Done():
		t.Fatal("timed out waiting for server read loop to finish")
	}
}

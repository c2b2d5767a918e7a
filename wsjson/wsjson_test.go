package wsjson_test

import (
	"context"
	"testing"
	"time"

	"wsstream.dev/bridge"
	"wsstream.dev/bridge/internal/test/assert"
	"wsstream.dev/bridge/internal/test/wstest"
	"wsstream.dev/bridge/wsjson"
)

func TestJSONRoundTrip(t *testing.T) {
	t.Parallel()

	c1, c2, err := wstest.Pipe(nil, nil)
	assert.Success(t, err)
	defer c1.Close(websocket.StatusInternalError, "")
	defer c2.Close(websocket.StatusInternalError, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	sent := payload{Name: "widget", Count: 3}

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- wsjson.Write(ctx, c1, sent)
	}()

	var got payload
	assert.Success(t, wsjson.Read(ctx, c2, &got))
	assert.Success(t, <-writeErr)
	assert.Equal(t, "payload", sent, got)
}

func TestJSONReadRejectsBinaryFrame(t *testing.T) {
	t.Parallel()

	c1, c2, err := wstest.Pipe(nil, nil)
	assert.Success(t, err)
	defer c1.Close(websocket.StatusInternalError, "")
	defer c2.Close(websocket.StatusInternalError, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go c1.Write(ctx, websocket.MessageBinary, []byte("not json"))

	var got map[string]interface{}
	err = wsjson.Read(ctx, c2, &got)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected frame type")
}

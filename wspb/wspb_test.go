package wspb_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang/protobuf/ptypes"
	durationpb "github.com/golang/protobuf/ptypes/duration"

	"wsstream.dev/bridge"
	"wsstream.dev/bridge/internal/test/assert"
	"wsstream.dev/bridge/internal/test/wstest"
	"wsstream.dev/bridge/wspb"
)

func TestProtobufRoundTrip(t *testing.T) {
	t.Parallel()

	c1, c2, err := wstest.Pipe(nil, nil)
	assert.Success(t, err)
	defer c1.Close(websocket.StatusInternalError, "")
	defer c2.Close(websocket.StatusInternalError, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sent := ptypes.DurationProto(100 * time.Millisecond)

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- wspb.Write(ctx, c1, sent)
	}()

	got := &durationpb.Duration{}
	assert.Success(t, wspb.Read(ctx, c2, got))
	assert.Success(t, <-writeErr)
	assert.Equal(t, "seconds", sent.Seconds, got.Seconds)
	assert.Equal(t, "nanos", sent.Nanos, got.Nanos)
}

func TestProtobufReadRejectsTextFrame(t *testing.T) {
	t.Parallel()

	c1, c2, err := wstest.Pipe(nil, nil)
	assert.Success(t, err)
	defer c1.Close(websocket.StatusInternalError, "")
	defer c2.Close(websocket.StatusInternalError, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go c1.Write(ctx, websocket.MessageText, []byte("not protobuf"))

	got := &durationpb.Duration{}
	err = wspb.Read(ctx, c2, got)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected frame type")
}

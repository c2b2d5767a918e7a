package main

import (
	"bufio"
	"context"
	"fmt"
	"log"

	"wsstream.dev/bridge"
	"wsstream.dev/bridge/wsstream"
)

// client dials addr, sends each of lines as its own line-framed message and
// prints every line the server echoes back. It is not wired into main by
// default; it exists to show how a caller drives the bridge from the other
// side of a framed echo exchange.
func client(ctx context.Context, addr string, lines []string) error {
	conn, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	bridge := wsstream.NewByteBridge(wsstream.ConnSession{Conn: conn}, wsstream.NewEventBus())
	defer bridge.Close(ctx)

	nc := wsstream.NetConn(bridge)
	scanner := bufio.NewScanner(nc)

	for _, line := range lines {
		if _, err := nc.Write([]byte(line + "\n")); err != nil {
			return fmt.Errorf("write: %w", err)
		}
		if !scanner.Scan() {
			return fmt.Errorf("read: %w", scanner.Err())
		}
		log.Printf("received: %s", scanner.Text())
	}
	return nil
}

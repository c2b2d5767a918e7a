package main

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"wsstream.dev/bridge/wsstream"
)

// This example starts a line-framed echo server on top of wsstream: every
// line a client writes is echoed back exactly once, demonstrating that the
// byte-stream bridge hides message boundaries from a consumer that only
// knows how to speak against a net.Conn.
func main() {
	log.SetFlags(0)

	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if len(os.Args) < 2 {
		return errors.New("please provide an address to listen on as the first argument")
	}

	l, err := net.Listen("tcp", os.Args[1])
	if err != nil {
		return err
	}
	log.Printf("listening on http://%v", l.Addr())

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/echo", echoHandler)

	s := &http.Server{
		Handler:      r,
		ReadTimeout:  time.Second * 15,
		WriteTimeout: time.Second * 15,
	}
	return s.Serve(l)
}

// echoHandler upgrades the request to a WebSocket connection, bridges it to
// a byte stream, and echoes every line written to it. Out-of-band events
// (pings, protocol errors, the remote's close frame) are logged as they
// arrive rather than surfaced through the byte stream itself.
func echoHandler(c *gin.Context) {
	bus := wsstream.NewEventBus()
	sub := bus.Subscribe(wsstream.SubscribeConfig{Buffer: 16})
	go logEvents(c.Request.Context(), c.Request.RemoteAddr, sub)

	bridge, err := wsstream.UpgradeGin(c, nil, bus)
	if err != nil {
		log.Printf("echo: upgrade failed: %v", err)
		return
	}
	defer bridge.Close(c.Request.Context())
	defer sub.Unsubscribe()

	// Bound outbound frames to 50/s with a burst of 10, expressed as a
	// ByteBridge-level write limiter instead of a per-message Wait call.
	bridge.SetWriteLimiter(rate.NewLimiter(rate.Every(20*time.Millisecond), 10))

	conn := wsstream.NetConn(bridge)

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := append(append([]byte(nil), scanner.Bytes()...), '\n')
		if _, err := conn.Write(line); err != nil {
			log.Printf("echo: write failed: %v", err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("echo: read failed: %v", err)
	}
}

// logEvents prints out-of-band events until ctx is done, i.e. for the life
// of the request. Unsubscribe does not close the subscription's channel (a
// shared bus may still have other live subscribers), so this loop's own exit
// condition is ctx, not channel closure.
func logEvents(ctx context.Context, remote string, sub *wsstream.Subscription) {
	for {
		select {
		case evt := <-sub.Events():
			log.Printf("echo: %v event from %v: code=%v reason=%q", evt.Kind, remote, evt.Code, evt.Reason)
		case <-ctx.Done():
			return
		}
	}
}

// Package wsstream adapts an already-established WebSocket session into a
// plain byte-stream duplex. Callers hold a WebSocket connection carrying
// framed messages and want to layer arbitrary byte-oriented protocols (line
// codecs, length-prefixed frames, custom wire formats) on top as if the
// underlying transport were a raw socket.
//
// The package hides message boundaries, control-frame handling, and the
// close handshake behind a small set of cooperating components:
//
//   - EventBus delivers out-of-band events (pings, pongs, close frames,
//     protocol violations) to subscribers with backpressure.
//   - CloseSender tracks the single close frame an adapter is allowed to
//     emit during its lifetime, driven from both the read and write paths.
//   - MessageAdapter is the core pump: it classifies inbound WebSocket
//     messages, drives CloseSender and EventBus, and exposes a
//     message-granular read/write surface.
//   - ByteBridge sits on top of MessageAdapter and exposes a byte-oriented
//     surface, chunking reads and capping writes to the underlying
//     connection's configured limits.
//
// None of these types perform their own handshake, TLS, or reconnection;
// they consume an already-connected Session (see the Session interface)
// supplied by the caller.
package wsstream

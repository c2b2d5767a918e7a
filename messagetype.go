package websocket

// MessageType represents the Opcode of a WebSocket data frame.
type MessageType int

//go:generate go run golang.org/x/tools/cmd/stringer -type=MessageType

// MessageType constants.
const (
	MessageText   MessageType = MessageType(opText)
	MessageBinary MessageType = MessageType(opBinary)

	// The following are never returned by Reader/Read, which only ever
	// yields data messages. They are passed to a control frame observer
	// registered via OnControl so callers can see ping/pong/close frames
	// that the connection otherwise handles internally.
	MessageClose MessageType = MessageType(opClose)
	MessagePing  MessageType = MessageType(opPing)
	MessagePong  MessageType = MessageType(opPong)
)

package wsstream

import (
	"github.com/gin-gonic/gin"

	"wsstream.dev/bridge"
)

// UpgradeGin performs the WebSocket handshake against a gin request and
// wraps the resulting connection as a ByteBridge. It is the gin analogue of
// calling websocket.Accept directly against c.Writer/c.Request; use it when
// the surrounding server is already routed with gin rather than bare
// net/http.
//
// bus receives out-of-band events (see EventBus); pass NewEventBus() if the
// caller has no subscribers yet but wants one for the connection's
// lifetime.
func UpgradeGin(c *gin.Context, opts *websocket.AcceptOptions, bus *EventBus) (*ByteBridge, error) {
	conn, err := websocket.Accept(c.Writer, c.Request, opts)
	if err != nil {
		return nil, err
	}
	return NewByteBridge(ConnSession{Conn: conn}, bus), nil
}

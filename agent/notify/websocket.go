package notify

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// Upgrader is the shared websocket upgrader for /agent/ws. Origin checking is
// delegated to the HTTP layer's CORS policy.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebsocketConn adapts a gorilla connection to Conn. Gorilla allows only one
// concurrent writer, so writes serialize on a mutex.
type WebsocketConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebsocketConn wraps an upgraded connection.
func NewWebsocketConn(conn *websocket.Conn) *WebsocketConn {
	return &WebsocketConn{conn: conn}
}

func (c *WebsocketConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *WebsocketConn) Close() error {
	return c.conn.Close()
}

// ReadLoop drains client frames until the connection dies, so pings and close
// frames are processed. The server never acts on inbound frames here.
func (c *WebsocketConn) ReadLoop() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

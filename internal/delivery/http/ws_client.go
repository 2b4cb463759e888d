package http

import (
	"sync"

	"github.com/gorilla/websocket"
)

// wsClient adapts a gorilla/websocket connection to broadcast.Client,
// serializing writes since gorilla/websocket connections are not
// safe for concurrent writers.
type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{conn: conn}
}

// Send writes data as a single text frame.
func (c *wsClient) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

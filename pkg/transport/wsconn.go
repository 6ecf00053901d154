package transport

import (
	"io"

	"github.com/gorilla/websocket"
)

// wsConn adapts a *websocket.Conn to io.ReadWriteCloser by presenting its
// binary message stream as a plain byte stream, buffering partial reads
// across message boundaries. Grounded on the teacher's desktop/ws_stream.go
// websocket-to-stream adapter.
type wsConn struct {
	ws  *websocket.Conn
	buf []byte
}

// NewWSConn wraps ws for use with transport.New.
func NewWSConn(ws *websocket.Conn) io.ReadWriteCloser {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for len(c.buf) == 0 {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return 0, err
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		c.buf = data
	}
	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

package push

import (
	"io"
	"sync"

	"github.com/gorilla/websocket"
)

// wsConn представляет соединение WebSocket потоком байтов для кодека
// кадров STOMP. Кадр может быть разбит на несколько сообщений, и одно
// сообщение может нести несколько кадров. Каждая запись уходит отдельным
// текстовым сообщением.
type wsConn struct {
	conn   *websocket.Conn
	reader io.Reader

	wmu sync.Mutex
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			_, r, err := c.conn.NextReader()
			if err != nil {
				return 0, err
			}
			c.reader = r
		}
		n, err := c.reader.Read(p)
		if err == io.EOF {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

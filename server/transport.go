package server

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	closeTimeout = time.Second
)

// wsTransport adapts a websocket connection to session.Transport.
type wsTransport struct {
	conn *websocket.Conn

	// gorilla/websocket allows one concurrent writer
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

// WriteMessage sends data as a binary or text frame. Cancelling ctx aborts a
// write blocked on a slow client by closing the connection.
func (t *wsTransport) WriteMessage(ctx context.Context, binary bool, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = t.conn.NetConn().Close() })
	defer stop()

	_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	kind := websocket.TextMessage
	if binary {
		kind = websocket.BinaryMessage
	}
	if err := t.conn.WriteMessage(kind, data); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// ReadMessage returns the next client message payload.
func (t *wsTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { _ = t.conn.NetConn().SetReadDeadline(time.Now()) })
	defer stop()

	_, data, err := t.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return data, nil
}

// Close sends a normal close frame and closes the connection.
func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout))
		err = t.conn.Close()
	})
	return err
}

// reject closes an upgraded connection with a policy violation and reason.
func reject(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout))
	_ = conn.Close()
}

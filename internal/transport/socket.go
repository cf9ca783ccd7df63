package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is one message-oriented connection to the relay.
type Socket interface {
	ReadMessage() ([]byte, error)
	WriteMessage(b []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens sockets to the relay.
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// WebsocketDialer dials the relay over gorilla/websocket.
type WebsocketDialer struct {
	Origin           string
	HandshakeTimeout time.Duration
}

// Dial opens a websocket to url.
func (d WebsocketDialer) Dial(ctx context.Context, url string) (Socket, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	var header http.Header
	if d.Origin != "" {
		header = http.Header{"Origin": []string{d.Origin}}
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return wsSocket{conn}, nil
}

type wsSocket struct {
	*websocket.Conn
}

// ReadMessage returns the next binary message. Text messages are skipped.
func (s wsSocket) ReadMessage() ([]byte, error) {
	for {
		mt, b, err := s.Conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.BinaryMessage {
			return b, nil
		}
	}
}

func (s wsSocket) WriteMessage(b []byte) error {
	return s.Conn.WriteMessage(websocket.BinaryMessage, b)
}

package realtime

import (
	"context"
	"fmt"
	"net/url"

	"github.com/coder/websocket"
)

// Wire is a single established transport connection. The Manager is the
// only writer of its lifecycle; everything else goes through Manager.Emit.
type Wire interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer establishes a Wire. The credential is attached at dial time and
// never appears in a frame afterwards. Injected so the chat store tests
// run against a fake connection.
type Dialer interface {
	Dial(ctx context.Context, rawURL, credential string) (Wire, error)
}

// WebsocketDialer dials the realtime server over a websocket.
type WebsocketDialer struct{}

// Dial connects and returns the wire. The credential travels as a query
// parameter the way the server's upgrade handler expects.
func (WebsocketDialer) Dial(ctx context.Context, rawURL, credential string) (Wire, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse realtime url: %w", err)
	}
	q := u.Query()
	q.Set("token", credential)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &wsWire{conn: conn}, nil
}

type wsWire struct {
	conn *websocket.Conn
}

func (w *wsWire) Read(ctx context.Context) ([]byte, error) {
	typ, data, err := w.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	// Binary frames are not part of the protocol; skip to the next frame.
	if typ != websocket.MessageText {
		return w.Read(ctx)
	}
	return data, nil
}

func (w *wsWire) Write(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsWire) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "client disconnect")
}

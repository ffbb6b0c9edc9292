package stream

import (
	"context"
	"time"

	"github.com/coder/websocket"
)

// Conn is the subset of a websocket connection the manager drives.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens websocket connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) {
	return f(ctx, url)
}

type websocketDialer struct {
	handshakeTimeout time.Duration
	readLimit        int64
}

func (d websocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialCtx := ctx
	if d.handshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, d.handshakeTimeout)
		defer cancel()
	}
	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return nil, err
	}
	if d.readLimit > 0 {
		conn.SetReadLimit(d.readLimit)
	}
	return conn, nil
}

package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/fqlsync/internal/wire"
)

// DefaultHandshakeTimeout bounds the websocket opening handshake.
const DefaultHandshakeTimeout = 45 * time.Second

// WebSocketDialer reaches an out-of-process worker over a websocket.
type WebSocketDialer struct {
	// Dialer overrides the gorilla dialer. Nil uses a dialer with
	// DefaultHandshakeTimeout.
	Dialer *websocket.Dialer

	// Header is sent with the opening handshake.
	Header http.Header
}

// Dial opens the websocket and starts its reader goroutine.
func (d WebSocketDialer) Dial(ctx context.Context, url string, h Handlers) (Transport, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: DefaultHandshakeTimeout}
	}

	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	t := &wsTransport{conn: conn, done: make(chan struct{})}
	go t.readLoop(h)
	return t, nil
}

type wsTransport struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	closed  bool
	done    chan struct{}
}

func (t *wsTransport) Send(req wire.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// readLoop decodes one event per frame until the connection ends.
func (t *wsTransport) readLoop(h Handlers) {
	defer close(t.done)

	for {
		_, message, err := t.conn.ReadMessage()
		if err != nil {
			if t.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			h.error(fmt.Errorf("websocket read: %w", err))
			return
		}

		ev, err := wire.DecodeEvent(message)
		if err != nil {
			h.error(err)
			continue
		}
		h.event(ev)
	}
}

func (t *wsTransport) isClosed() bool {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.closed
}

// Close sends a close frame, closes the socket and waits for the reader.
func (t *wsTransport) Close() error {
	t.writeMu.Lock()
	if t.closed {
		t.writeMu.Unlock()
		return nil
	}
	t.closed = true
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	werr := t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	t.writeMu.Unlock()

	err := t.conn.Close()
	<-t.done

	if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
		return errors.Join(fmt.Errorf("websocket close frame: %w", werr), err)
	}
	return err
}

// Package ws implements the Transport interface over
// github.com/gorilla/websocket: a duplex binary message stream with one
// buffered write pump and one read pump per connection (buffered send
// channel, slow-client disconnection, ping/pong keepalive).
package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024 * 1024
	sendBufferSize = 256
)

// Upgrader is shared across connections, one websocket.Upgrader per server.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Transport wraps one upgraded *websocket.Conn as the document package's
// Sender, plus the read/write pump goroutines that drive it.
type Transport struct {
	conn *websocket.Conn
	log  *zap.Logger

	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// Accept upgrades an HTTP request to a WebSocket connection.
func Accept(w http.ResponseWriter, r *http.Request, log *zap.Logger) (*Transport, error) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return New(conn, log), nil
}

// New wraps an already-established connection.
func New(conn *websocket.Conn, log *zap.Logger) *Transport {
	conn.SetReadLimit(maxMessageSize)
	return &Transport{
		conn:   conn,
		log:    log,
		send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
	}
}

// Send enqueues frame for the write pump. If the connection's buffer is
// full — a slow or stuck client — the connection is closed rather than
// letting the buffer grow unbounded.
func (t *Transport) Send(frame []byte) error {
	select {
	case <-t.closed:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case t.send <- frame:
		return nil
	default:
		t.Close()
		return websocket.ErrCloseSent
	}
}

// Listen starts the read and write pumps. onMessage is invoked for every
// inbound binary frame; onClose is invoked exactly once when the
// connection terminates for any reason (peer close, write failure, Close
// called). Listen blocks until the read pump exits — callers typically run
// it in its own goroutine per accepted connection.
func (t *Transport) Listen(onMessage func(data []byte), onClose func()) {
	go t.writePump()
	t.readPump(onMessage)
	if onClose != nil {
		onClose()
	}
}

func (t *Transport) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		t.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-t.send:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				t.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := t.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-t.closed:
			t.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (t *Transport) readPump(onMessage func(data []byte)) {
	t.conn.SetReadDeadline(time.Now().Add(pongWait))
	t.conn.SetPongHandler(func(string) error {
		t.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			break
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		t.conn.SetReadDeadline(time.Now().Add(pongWait))
		if onMessage != nil {
			onMessage(data)
		}
	}
	t.Close()
}

// Close terminates the connection. Safe to call more than once and from
// any goroutine.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
	})
	return nil
}

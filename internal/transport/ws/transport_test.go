package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func startEchoServer(t *testing.T) (addr string, serverTransport chan *Transport) {
	t.Helper()
	ch := make(chan *Transport, 1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tr, err := Accept(w, r, nil)
		require.NoError(t, err)
		ch <- tr
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://"), ch
}

func TestTransportSendAndReceive(t *testing.T) {
	addr, serverTransports := startEchoServer(t)

	dialer := websocket.Dialer{}
	clientConn, _, err := dialer.Dial("ws://"+addr+"/", nil)
	require.NoError(t, err)
	defer clientConn.Close()

	serverTr := <-serverTransports

	var received [][]byte
	var mu sync.Mutex
	done := make(chan struct{})
	go serverTr.Listen(func(data []byte) {
		mu.Lock()
		received = append(received, data)
		mu.Unlock()
	}, func() { close(done) })

	require.NoError(t, clientConn.WriteMessage(websocket.BinaryMessage, []byte("hello")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, serverTr.Send([]byte("world")))
	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	kind, data, err := clientConn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)
	require.Equal(t, "world", string(data))

	serverTr.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("onClose was never invoked")
	}
}

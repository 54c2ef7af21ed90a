package document

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/polqt/yhub/internal/extension"
)

// Sender is the minimal outbound transport surface a Connection needs,
// narrowed to the one method Document/Connection actually call — the
// concrete gorilla/websocket implementation lives in internal/transport/ws.
type Sender interface {
	Send(frame []byte) error
}

// ConnState is the ClientConnection lifecycle state.
type ConnState int32

const (
	ConnOpen ConnState = iota
	ConnClosed
)

// ErrConnectionClosed is returned by Send once the connection has closed.
var ErrConnectionClosed = errors.New("document: connection closed")

// Connection is the ClientConnection entity: one per transport session,
// independent of how many documents it has attached to.
type Connection struct {
	ID     string
	sender Sender
	Ctx    *extension.Context

	state int32 // ConnState, atomic

	mu   sync.Mutex
	subs map[string]*connEntry // document name -> shared handshake entry
}

// NewConnection wraps sender with the identity and per-document state a
// Connection tracks. id should be globally unique (e.g. ycrdt.NewGUID);
// callers must prefix externally-supplied ids so they can never collide
// with the reserved OriginStorage/OriginCluster origin tags, since the id is
// used as the origin tag of this connection's updates.
func NewConnection(id string, sender Sender) *Connection {
	return &Connection{
		ID:     id,
		sender: sender,
		Ctx:    extension.NewContext(),
		subs:   make(map[string]*connEntry),
	}
}

// Send writes a fully-encoded frame to the underlying transport.
func (c *Connection) Send(frame []byte) error {
	if ConnState(atomic.LoadInt32(&c.state)) == ConnClosed {
		return ErrConnectionClosed
	}
	return c.sender.Send(frame)
}

func (c *Connection) addSubscription(name string, e *connEntry) {
	c.mu.Lock()
	c.subs[name] = e
	c.mu.Unlock()
}

func (c *Connection) removeSubscription(name string) {
	c.mu.Lock()
	delete(c.subs, name)
	c.mu.Unlock()
}

// machineFor returns the handshake machine this connection holds for name,
// if attached.
func (c *Connection) machineFor(name string) (*connEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.subs[name]
	return e, ok
}

// AttachedDocuments returns a snapshot of document names this connection is
// currently attached to, for close-time cleanup.
func (c *Connection) AttachedDocuments() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.subs))
	for name := range c.subs {
		names = append(names, name)
	}
	return names
}

// Close marks the connection closed. It does not itself detach from
// documents — the caller (internal/server) owns the registry lookups
// needed to call Document.Detach for each attached name.
func (c *Connection) Close() {
	atomic.StoreInt32(&c.state, int32(ConnClosed))
}

// DetachAll clears local subscription bookkeeping for every attached
// document, returning the names so the caller can call Document.Detach on
// each. Separated from Close so tests can exercise detach bookkeeping
// without a real transport.
func (c *Connection) DetachAll() []string {
	names := c.AttachedDocuments()
	c.mu.Lock()
	c.subs = make(map[string]*connEntry)
	c.mu.Unlock()
	return names
}

// forgetSubscription is called by Document.Detach to drop this connection's
// local bookkeeping for name without requiring the caller to know about
// connEntry.
func (c *Connection) forgetSubscription(name string) {
	c.removeSubscription(name)
}

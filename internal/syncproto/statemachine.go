// Package syncproto drives the Y-CRDT sync-v1 handshake state machine: one
// instance per (connection, document) pair. It owns only the state
// transitions and handshake payload construction; applying updates to a
// replica remains the caller's (internal/document's) responsibility, so
// this package never needs to know how a replica is owned or serialized —
// the Document owns the replica by value, and cross-component access
// passes a reference scoped to a transaction, not a handle.
package syncproto

import (
	"sync"

	"github.com/polqt/yhub/internal/wire"
)

// State is one of the four sync handshake states. Each state name
// reflects the last handshake message this side has sent.
type State int

const (
	Unsynced State = iota
	SyncStep1Sent
	SyncStep2Sent
	Synced
)

func (s State) String() string {
	switch s {
	case Unsynced:
		return "UNSYNCED"
	case SyncStep1Sent:
		return "SYNC_STEP1_SENT"
	case SyncStep2Sent:
		return "SYNC_STEP2_SENT"
	case Synced:
		return "SYNCED"
	default:
		return "UNKNOWN"
	}
}

// Machine is one (connection, document) pair's handshake state.
type Machine struct {
	mu    sync.Mutex
	state State
}

// NewMachine creates a Machine in the UNSYNCED state.
func NewMachine() *Machine {
	return &Machine{}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// AcceptsUpdates reports whether a connection in this state should receive
// steady-state UPDATE fan-out: SYNCED connections obviously do, and
// SYNC_STEP2_SENT connections do too, because they will accept the update
// after their own handshake completes — CRDT updates are commutative and
// idempotent.
func (m *Machine) AcceptsUpdates() bool {
	s := m.State()
	return s == SyncStep2Sent || s == Synced
}

// ReplicaView is the minimal replica surface the handshake needs — state
// vector and diff encoding — kept as a narrow interface so this package
// doesn't depend on internal/ycrdt's full Replica contract.
type ReplicaView interface {
	EncodeStateVector() []byte
	EncodeDiff(remoteSV []byte) []byte
}

// BuildAttachStep1 produces the SYNC_STEP_1 payload a newly-attached
// connection sends immediately, carrying its (the document's) current
// state vector, and transitions the machine to SYNC_STEP1_SENT.
func BuildAttachStep1(m *Machine, r ReplicaView) []byte {
	m.setState(SyncStep1Sent)
	return wire.EncodeSyncStep1(r.EncodeStateVector())
}

// HandleStep1 responds to a peer's SYNC_STEP_1 (their state vector) with
// our SYNC_STEP_2 (the diff they're missing), transitioning to
// SYNC_STEP2_SENT.
func HandleStep1(m *Machine, r ReplicaView, peerStateVector []byte) []byte {
	diff := r.EncodeDiff(peerStateVector)
	m.setState(SyncStep2Sent)
	return wire.EncodeSyncStep2(diff)
}

// CompleteStep2 records that the peer's SYNC_STEP_2 diff has been applied,
// finishing the handshake.
func CompleteStep2(m *Machine) {
	m.setState(Synced)
}

// Reset returns the machine to UNSYNCED. Document.Attach builds a fresh
// Machine on every attach and does not call it.
func (m *Machine) Reset() {
	m.setState(Unsynced)
}

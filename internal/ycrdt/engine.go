// Package ycrdt is the CRDT engine consumed behind the Replica interface.
// The document lifecycle and synchronization core (internal/document,
// internal/syncproto, internal/registry) never reaches into this package's
// internals — it only calls through the Replica interface, the same way a
// production deployment would swap this out for a real Yjs/Y-CRDT binding.
//
// The replica implemented here is a Replicated Growable Array (RGA) over a
// flat character sequence: updates are self-contained op batches, state
// vectors are per-client sequence counters, and re-applying an update is a
// no-op.
package ycrdt

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/google/uuid"
)

// Replica is the behavioral contract the document lifecycle core requires
// from a CRDT engine. All mutation and query methods are expected to
// execute under whatever external serialization the caller provides (the
// Document's per-document transaction); the implementation here
// additionally guards itself with an internal mutex so it remains safe to
// use outside that discipline (e.g. directly in tests).
type Replica interface {
	// ClientID returns the 53-bit client id assigned to this replica.
	ClientID() uint64

	// Apply merges update into the replica's state, tagging the resulting
	// observer notification with origin. Applying the same update bytes
	// twice is a no-op the second time.
	Apply(update []byte, origin string) error

	// EncodeStateAsUpdate returns a self-contained update that would bring
	// an empty replica up to the current state.
	EncodeStateAsUpdate() []byte

	// EncodeStateVector returns the compact vector clock describing what
	// this replica has observed.
	EncodeStateVector() []byte

	// EncodeDiff returns an update containing only the ops this replica
	// has that remoteSV does not reflect.
	EncodeDiff(remoteSV []byte) []byte

	// Subscribe registers cb to be invoked after every Apply that changed
	// the replica's state; a no-op re-application does not notify.
	// The returned func removes the subscription; it is safe to call at
	// most once and is a no-op thereafter.
	Subscribe(cb func(update []byte, origin string)) (unsubscribe func())

	// Text returns the current flattened document content. This is a
	// convenience read used by tests and the reference text binding; it is
	// not part of the abstract contract but every concrete engine in
	// this module happens to expose it.
	Text() string
}

// NewClientID generates a fresh 53-bit unsigned client id, matching the
// precision JavaScript's Number type (and therefore the real Y-CRDT
// engine) can represent exactly.
func NewClientID() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("ycrdt: failed to read random client id: " + err.Error())
	}
	const mask53 = (uint64(1) << 53) - 1
	return binary.BigEndian.Uint64(b[:]) & mask53
}

// NewGUID returns a fresh opaque document/instance identifier.
func NewGUID() string {
	return uuid.NewString()
}

// NewReplica constructs an empty replica with a fresh client id.
func NewReplica() Replica {
	return newRGAReplica(NewClientID())
}

// NewReplicaWithClientID constructs an empty replica with an explicit
// client id; used by tests that need deterministic ids.
func NewReplicaWithClientID(clientID uint64) Replica {
	return newRGAReplica(clientID)
}

// Merge combines independently-produced update blobs into a single update.
// It is a pure function: it does not require or mutate any replica.
func Merge(updates ...[]byte) []byte {
	var all []op
	seen := make(map[opID]struct{})
	for _, u := range updates {
		ops, err := decodeOps(u)
		if err != nil {
			continue // malformed update fragments are dropped, not fatal to the merge
		}
		for _, o := range ops {
			if _, dup := seen[o.ID]; dup {
				continue
			}
			seen[o.ID] = struct{}{}
			all = append(all, o)
		}
	}
	return encodeOps(all)
}

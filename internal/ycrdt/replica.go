package ycrdt

import "sync"

// rgaReplica is the concrete Replica implementation backing this module's
// reference CRDT engine.
type rgaReplica struct {
	mu       sync.Mutex
	clientID uint64
	seq      uint64
	doc      *rga
	seen     map[opID]struct{}

	subMu     sync.Mutex
	subs      map[int]func(update []byte, origin string)
	nextSubID int
}

func newRGAReplica(clientID uint64) *rgaReplica {
	return &rgaReplica{
		clientID: clientID,
		doc:      newRGA(),
		seen:     make(map[opID]struct{}),
		subs:     make(map[int]func(update []byte, origin string)),
	}
}

func (r *rgaReplica) ClientID() uint64 { return r.clientID }

// Apply decodes update into ops, applies each not-yet-seen op, and — if
// anything new was applied — notifies observers with exactly the bytes
// that were passed in, so idempotent re-application produces no second
// notification.
func (r *rgaReplica) Apply(update []byte, origin string) error {
	ops, err := decodeOps(update)
	if err != nil {
		return err
	}

	r.mu.Lock()
	applied := false
	for _, o := range ops {
		switch o.Kind {
		case opInsert:
			if _, dup := r.seen[o.ID]; dup {
				continue
			}
			r.doc.applyInsert(o)
			r.seen[o.ID] = struct{}{}
			applied = true
		case opDelete:
			// A delete reuses its target's id, so it is deduplicated by the
			// tombstone itself rather than by seen.
			if r.doc.delete(o.ID) {
				applied = true
			}
		}
	}
	r.mu.Unlock()

	if applied {
		r.notify(update, origin)
	}
	return nil
}

func (r *rgaReplica) notify(update []byte, origin string) {
	r.subMu.Lock()
	cbs := make([]func([]byte, string), 0, len(r.subs))
	for _, cb := range r.subs {
		cbs = append(cbs, cb)
	}
	r.subMu.Unlock()
	for _, cb := range cbs {
		cb(update, origin)
	}
}

func (r *rgaReplica) EncodeStateAsUpdate() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return encodeOps(r.doc.allOps())
}

func (r *rgaReplica) EncodeStateVector() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return encodeStateVector(r.doc.maxSeq())
}

func (r *rgaReplica) EncodeDiff(remoteSV []byte) []byte {
	sv, err := decodeStateVector(remoteSV)
	if err != nil {
		sv = map[uint64]uint64{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return encodeOps(r.doc.opsOver(sv))
}

func (r *rgaReplica) Subscribe(cb func(update []byte, origin string)) func() {
	r.subMu.Lock()
	id := r.nextSubID
	r.nextSubID++
	r.subs[id] = cb
	r.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
		})
	}
}

func (r *rgaReplica) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.text()
}

// ─────────────────────────────────────────────────────────────
// Local editing API — produces update bytes ready for Apply/fan-out.
// A real binding (e.g. a rich-text editor mapping) would call through a
// richer Y.Text/Y.Map surface; this module only needs enough of one to
// exercise and test the sync engine end to end.
// ─────────────────────────────────────────────────────────────

// LocalInsert applies a single-character insert authored by this replica
// and returns the update bytes to feed into the sync state machine. afterID
// is the zero value to insert at the document head.
func LocalInsert(r Replica, afterID LocalOpID, char rune) ([]byte, LocalOpID) {
	impl := r.(*rgaReplica)
	impl.mu.Lock()
	impl.seq++
	id := opID{Seq: impl.seq, ClientID: impl.clientID}
	o := impl.doc.insert(opID(afterID), char, id)
	impl.seen[o.ID] = struct{}{}
	impl.mu.Unlock()
	return encodeOps([]op{o}), LocalOpID(id)
}

// LocalDelete tombstones a previously inserted character and returns the
// update bytes to feed into the sync state machine.
func LocalDelete(r Replica, target LocalOpID) []byte {
	impl := r.(*rgaReplica)
	impl.mu.Lock()
	impl.doc.delete(opID(target))
	o := op{ID: opID(target), Kind: opDelete}
	impl.mu.Unlock()
	return encodeOps([]op{o})
}

// LocalOpID is the exported form of opID, handed back to callers of
// LocalInsert so they can target subsequent inserts/deletes.
type LocalOpID opID

// HeadOpID is the sentinel meaning "insert at the document head".
var HeadOpID LocalOpID

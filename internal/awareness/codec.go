package awareness

import (
	"fmt"

	"github.com/polqt/yhub/internal/wire"
)

// EncodeUpdate serializes entries into the awareness update blob that the
// AWARENESS wire payload carries: a varuint count followed by
// (client-id, clock, length-prefixed payload) tuples. A zero-length payload
// slot marks a tombstone.
func EncodeUpdate(entries []Entry) []byte {
	buf := wire.PutUvarint(nil, uint64(len(entries)))
	for _, e := range entries {
		buf = wire.PutUvarint(buf, e.ClientID)
		buf = wire.PutUvarint(buf, e.Clock)
		buf = wire.PutBytes(buf, e.Payload)
	}
	return buf
}

// DecodeUpdate parses bytes produced by EncodeUpdate. A zero-length payload
// decodes to a nil Payload (tombstone), matching Entry.removed's check.
func DecodeUpdate(b []byte) ([]Entry, error) {
	n, rest, err := wire.GetUvarint(b)
	if err != nil {
		return nil, fmt.Errorf("awareness: count: %w", err)
	}
	entries := make([]Entry, 0, n)
	for i := uint64(0); i < n; i++ {
		clientID, r, err := wire.GetUvarint(rest)
		if err != nil {
			return nil, fmt.Errorf("awareness: client id: %w", err)
		}
		rest = r
		clock, r, err := wire.GetUvarint(rest)
		if err != nil {
			return nil, fmt.Errorf("awareness: clock: %w", err)
		}
		rest = r
		payload, r, err := wire.GetBytes(rest)
		if err != nil {
			return nil, fmt.Errorf("awareness: payload: %w", err)
		}
		rest = r
		if len(payload) == 0 {
			payload = nil
		}
		entries = append(entries, Entry{ClientID: clientID, Clock: clock, Payload: payload})
	}
	return entries, nil
}

package ycrdt

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// encodeOps serializes an op batch into self-contained update bytes.
// Empty or nil input still produces a valid (empty) update so callers can
// always apply/merge the result without a nil check.
func encodeOps(ops []op) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ops); err != nil {
		panic("ycrdt: encoding an op batch should never fail: " + err.Error())
	}
	return buf.Bytes()
}

// decodeOps parses update bytes produced by encodeOps.
func decodeOps(update []byte) ([]op, error) {
	if len(update) == 0 {
		return nil, nil
	}
	var ops []op
	if err := gob.NewDecoder(bytes.NewReader(update)).Decode(&ops); err != nil {
		return nil, fmt.Errorf("ycrdt: decode update: %w", err)
	}
	return ops, nil
}

// encodeStateVector serializes a client-id → sequence map.
func encodeStateVector(sv map[uint64]uint64) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(sv); err != nil {
		panic("ycrdt: encoding a state vector should never fail: " + err.Error())
	}
	return buf.Bytes()
}

// decodeStateVector parses bytes produced by encodeStateVector. A nil/empty
// input decodes to an empty (all-zero) state vector, matching the
// diff-against-an-empty-replica case.
func decodeStateVector(b []byte) (map[uint64]uint64, error) {
	if len(b) == 0 {
		return map[uint64]uint64{}, nil
	}
	var sv map[uint64]uint64
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&sv); err != nil {
		return nil, fmt.Errorf("ycrdt: decode state vector: %w", err)
	}
	return sv, nil
}

package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		kind    Kind
		payload []byte
	}{
		{"doc-a", KindSync, EncodeSyncStep1([]byte{1, 2, 3})},
		{"doc-a", KindSync, EncodeSyncStep2([]byte{})},
		{"文档", KindSync, EncodeUpdate(bytes.Repeat([]byte{0xAB}, 1000))},
		{"doc-b", KindAwareness, EncodeAwarenessPayload([]byte("clock-update"))},
		{"doc-b", KindAuth, EncodeAuthPayload("secret-token")},
		{"doc-c", KindQueryAwareness, nil},
		{"doc-c", KindStateless, EncodeStatelessPayload("ping")},
		{"doc-c", KindBroadcastStateless, EncodeStatelessPayload("pong")},
		{"", KindSync, EncodeUpdate(nil)},
	}

	for _, tc := range cases {
		encoded := Encode(tc.name, tc.kind, tc.payload)
		name, kind, payload, err := Decode(encoded, DefaultMaxFrameSize)
		require.NoError(t, err)
		assert.Equal(t, tc.name, name)
		assert.Equal(t, tc.kind, kind)
		assert.Equal(t, tc.payload, payload)
	}
}

func TestDecodeMalformed(t *testing.T) {
	_, _, _, err := Decode([]byte{0x05, 'a'}, DefaultMaxFrameSize) // name length 5, only 1 byte follows
	require.ErrorIs(t, err, ErrMalformedFrame)

	_, _, _, err = Decode([]byte{0x00}, DefaultMaxFrameSize) // empty name, no kind byte
	require.ErrorIs(t, err, ErrMalformedFrame)

	_, _, _, err = Decode([]byte{0x00, 0x09}, DefaultMaxFrameSize) // kind 9 unrecognized
	require.ErrorIs(t, err, ErrUnknownMessageKind)
}

func TestDecodeFrameTooLarge(t *testing.T) {
	big := Encode("d", KindSync, EncodeUpdate(make([]byte, 100)))
	_, _, _, err := Decode(big, 10)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestSyncPayloadRoundTrip(t *testing.T) {
	p := EncodeSyncStep1([]byte{9, 9, 9})
	step, data, err := DecodeSyncPayload(p)
	require.NoError(t, err)
	assert.Equal(t, SyncStep1, step)
	assert.Equal(t, []byte{9, 9, 9}, data)
}

func TestVaruintLargeValues(t *testing.T) {
	buf := putUvarint(nil, 1<<40)
	x, rest, err := getUvarint(buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<40), x)
	assert.Empty(t, rest)
}

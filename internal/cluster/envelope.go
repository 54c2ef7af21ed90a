package cluster

import (
	"fmt"

	"github.com/polqt/yhub/internal/wire"
)

// envelope wraps a cluster-published update with the originating instance
// id, so a bridge can recognize and drop its own publishes echoed back by
// the broker: [length-prefixed instance-id][raw update bytes].
func encodeEnvelope(instanceID string, update []byte) []byte {
	buf := wire.PutBytes(nil, []byte(instanceID))
	buf = append(buf, update...)
	return buf
}

func decodeEnvelope(data []byte) (instanceID string, update []byte, err error) {
	idBytes, rest, err := wire.GetBytes(data)
	if err != nil {
		return "", nil, fmt.Errorf("cluster: malformed envelope: %w", err)
	}
	return string(idBytes), rest, nil
}

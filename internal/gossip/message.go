// Package gossip implements the peer-to-peer duplex message protocol:
// connection lifecycle, handshake, heartbeat, and the message kinds that
// keep independent nodes converged on the same longest chain.
package gossip

import (
	"encoding/json"
	"time"
)

// Type is one of the fixed message kinds exchanged over a peer connection.
type Type string

const (
	Handshake      Type = "HANDSHAKE"
	RequestChain   Type = "REQUEST_CHAIN"
	ReceiveChain   Type = "RECEIVE_CHAIN"
	RequestLatest  Type = "REQUEST_LATEST"
	ReceiveLatest  Type = "RECEIVE_LATEST"
	NewTransaction Type = "NEW_TRANSACTION"
	NewBlock       Type = "NEW_BLOCK"
	Ping           Type = "PING"
	Pong           Type = "PONG"
)

// Message is the wire frame exchanged over every peer connection.
type Message struct {
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

func newMessage(t Type, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}

	return Message{Type: t, Data: data, Timestamp: nowMs()}, nil
}

// NodeInfo is the HANDSHAKE payload's description of the sending node.
type NodeInfo struct {
	Version    string `json:"version"`
	ListenAddr string `json:"listen_addr"`
}

// HandshakePayload is the first message sent after a connection opens.
type HandshakePayload struct {
	ChainHeight uint64   `json:"chain_height"`
	NodeInfo    NodeInfo `json:"node_info"`
}

// HeartbeatPayload is the PING/PONG payload.
type HeartbeatPayload struct {
	Timestamp int64 `json:"timestamp"`
}

func decodeInto(msg Message, v any) error {
	return json.Unmarshal(msg.Data, v)
}

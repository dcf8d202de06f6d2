package peer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
)

// MessageType tags what a message carries.
type MessageType string

// Set of messages exchanged between nodes.
const (
	MsgHello          MessageType = "HELLO"
	MsgNewBlock       MessageType = "NEW_BLOCK"
	MsgGetBlocks      MessageType = "GET_BLOCKS"
	MsgBlocks         MessageType = "BLOCKS"
	MsgNewTransaction MessageType = "NEW_TRANSACTION"
	MsgPing           MessageType = "PING"
	MsgPong           MessageType = "PONG"
	MsgGetPeers       MessageType = "GET_PEERS"
	MsgPeers          MessageType = "PEERS"
)

// Message is the envelope of everything written to a peer socket.
type Message struct {
	Type      MessageType     `json:"type"`
	From      string          `json:"from"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Hello is sent by both sides as the first message on a connection.
type Hello struct {
	NodeID  string `json:"node_id"`
	Host    string `json:"host"`
	ChainID uint64 `json:"chain_id"`
	Role    Role   `json:"role"`
	Height  uint64 `json:"height"`
}

// GetBlocks asks for the blocks in the inclusive range.
type GetBlocks struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// Status is the payload of the heartbeat messages.
type Status struct {
	Height uint64 `json:"height"`
}

// Blocks is the answer to GetBlocks.
type Blocks struct {
	Blocks []database.Block `json:"blocks"`
}

// Peers is the answer to a peer list request.
type Peers struct {
	Peers []Peer `json:"peers"`
}

// newMessage builds a message with the encoded payload.
func newMessage(typ MessageType, from string, payload any) (Message, error) {
	msg := Message{
		Type:      typ,
		From:      from,
		Timestamp: time.Now().UnixMilli(),
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("encode %s: %w", typ, err)
		}
		msg.Payload = data
	}

	return msg, nil
}

// decode unmarshals the payload into v.
func (m Message) decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", m.Type, err)
	}
	return nil
}

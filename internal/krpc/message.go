package krpc

import (
	"fmt"
	"net"

	akrpc "github.com/anacrolix/dht/v2/krpc"
	"github.com/anacrolix/torrent/bencode"

	"github.com/surge-downloader/kadtable/internal/kad"
)

const (
	krpcQuery    = "q"
	krpcResponse = "r"
	krpcError    = "e"
)

const (
	methodPing     = "ping"
	methodFindNode = "find_node"
	methodGetPeers = "get_peers"
)

// KRPC error codes.
const (
	ErrCodeGeneric       = 201
	ErrCodeServer        = 202
	ErrCodeProtocol      = 203
	ErrCodeMethodUnknown = 204
)

type Message struct {
	T string  `bencode:"t"`
	Y string  `bencode:"y"`
	Q string  `bencode:"q,omitempty"`
	A *Args   `bencode:"a,omitempty"`
	R *Return `bencode:"r,omitempty"`
	E *Error  `bencode:"e,omitempty"`
}

type Args struct {
	ID       string `bencode:"id"`
	Target   string `bencode:"target,omitempty"`
	InfoHash string `bencode:"info_hash,omitempty"`
}

type Return struct {
	ID    string                    `bencode:"id"`
	Nodes akrpc.CompactIPv4NodeInfo `bencode:"nodes,omitempty"`
}

// Error is the [code, message] list carried in "e".
type Error struct {
	Code int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("krpc error %d: %s", e.Code, e.Msg)
}

func (e Error) MarshalBencode() ([]byte, error) {
	return bencode.Marshal([]any{e.Code, e.Msg})
}

func (e *Error) UnmarshalBencode(b []byte) error {
	var list []bencode.Bytes
	if err := bencode.Unmarshal(b, &list); err != nil {
		return err
	}
	if len(list) < 2 {
		return fmt.Errorf("invalid krpc error list")
	}
	if err := bencode.Unmarshal(list[0], &e.Code); err != nil {
		return fmt.Errorf("invalid krpc error code: %w", err)
	}
	if err := bencode.Unmarshal(list[1], &e.Msg); err != nil {
		return fmt.Errorf("invalid krpc error message: %w", err)
	}
	return nil
}

func DecodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := bencode.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Y {
	case krpcQuery, krpcResponse, krpcError:
	default:
		return nil, fmt.Errorf("invalid krpc message type %q", msg.Y)
	}
	return &msg, nil
}

func EncodeMessage(msg *Message) ([]byte, error) {
	return bencode.Marshal(msg)
}

// senderID extracts the node id of whoever sent msg.
func senderID(msg *Message) (kad.NodeID, error) {
	switch {
	case msg.Y == krpcQuery && msg.A != nil:
		return kad.New([]byte(msg.A.ID))
	case msg.Y == krpcResponse && msg.R != nil:
		return kad.New([]byte(msg.R.ID))
	}
	return kad.NodeID{}, fmt.Errorf("message carries no node id")
}

// Contact is a node learned from a find_node reply.
type Contact struct {
	ID   kad.NodeID
	Addr *net.UDPAddr
}

func compactNodes(entries []kad.Entry) akrpc.CompactIPv4NodeInfo {
	out := make(akrpc.CompactIPv4NodeInfo, 0, len(entries))
	for _, e := range entries {
		ip := net.ParseIP(e.Addr.Host).To4()
		if ip == nil || e.Addr.Port <= 0 || e.Addr.Port > 65535 {
			continue
		}
		out = append(out, akrpc.NodeInfo{
			ID:   [20]byte(e.ID),
			Addr: akrpc.NodeAddr{IP: ip, Port: e.Addr.Port},
		})
	}
	return out
}

func contactsFromNodes(nodes akrpc.CompactIPv4NodeInfo) []Contact {
	out := make([]Contact, 0, len(nodes))
	for _, ni := range nodes {
		out = append(out, Contact{
			ID:   kad.NodeID(ni.ID),
			Addr: &net.UDPAddr{IP: ni.Addr.IP, Port: ni.Addr.Port},
		})
	}
	return out
}

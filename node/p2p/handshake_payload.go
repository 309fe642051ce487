package p2p

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

const (
	ProtocolVersionV1 = 1
	MaxUserAgentBytes = 256
	MaxNetworkBytes   = 64
	InstanceIDBytes   = 16
)

// HandshakeData is the payload of a Handshake message (spec.md §6):
// network/magic identification, an instance id for self-connect and
// duplicate-instance detection, and enough peer metadata for the caller
// to decide whether to accept, refuse, or request peers from this node.
type HandshakeData struct {
	ProtocolVersion uint32
	Network         string
	InstanceID      [InstanceIDBytes]byte
	ListenPort      uint16
	UserAgent       string
	TipHeight       uint64
}

func EncodeHandshakeData(h HandshakeData) ([]byte, error) {
	if h.ProtocolVersion != ProtocolVersionV1 {
		return nil, fmt.Errorf("p2p: handshake: unsupported protocol_version")
	}
	if len(h.Network) > MaxNetworkBytes {
		return nil, fmt.Errorf("p2p: handshake: network too long")
	}
	if !utf8.ValidString(h.Network) {
		return nil, fmt.Errorf("p2p: handshake: network must be UTF-8")
	}
	if len(h.UserAgent) > MaxUserAgentBytes {
		return nil, fmt.Errorf("p2p: handshake: user_agent too long")
	}
	if !utf8.ValidString(h.UserAgent) {
		return nil, fmt.Errorf("p2p: handshake: user_agent must be UTF-8")
	}

	out := make([]byte, 0, 4+8+InstanceIDBytes+2+8+len(h.Network)+len(h.UserAgent)+18)
	var tmp8 [8]byte
	var tmp4 [4]byte
	var tmp2 [2]byte

	binary.LittleEndian.PutUint32(tmp4[:], h.ProtocolVersion)
	out = append(out, tmp4[:]...)

	out = append(out, encodeCompactSize(uint64(len(h.Network)))...)
	out = append(out, []byte(h.Network)...)

	out = append(out, h.InstanceID[:]...)

	binary.LittleEndian.PutUint16(tmp2[:], h.ListenPort)
	out = append(out, tmp2[:]...)

	out = append(out, encodeCompactSize(uint64(len(h.UserAgent)))...)
	out = append(out, []byte(h.UserAgent)...)

	binary.LittleEndian.PutUint64(tmp8[:], h.TipHeight)
	out = append(out, tmp8[:]...)

	return out, nil
}

func DecodeHandshakeData(b []byte) (*HandshakeData, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("p2p: handshake: truncated")
	}
	off := 0
	proto := binary.LittleEndian.Uint32(b[off : off+4])
	off += 4

	netLenU64, used, err := readCompactSize(b[off:])
	if err != nil {
		return nil, err
	}
	off += used
	if netLenU64 > MaxNetworkBytes {
		return nil, fmt.Errorf("p2p: handshake: network_len exceeds MAX_NETWORK_BYTES")
	}
	netLen := int(netLenU64)
	if len(b) < off+netLen+InstanceIDBytes+2 {
		return nil, fmt.Errorf("p2p: handshake: truncated network/instance_id")
	}
	network := string(b[off : off+netLen])
	if !utf8.ValidString(network) {
		return nil, fmt.Errorf("p2p: handshake: network must be UTF-8")
	}
	off += netLen

	var instanceID [InstanceIDBytes]byte
	copy(instanceID[:], b[off:off+InstanceIDBytes])
	off += InstanceIDBytes

	listenPort := binary.LittleEndian.Uint16(b[off : off+2])
	off += 2

	uaLenU64, used, err := readCompactSize(b[off:])
	if err != nil {
		return nil, err
	}
	off += used
	if uaLenU64 > MaxUserAgentBytes {
		return nil, fmt.Errorf("p2p: handshake: user_agent_len exceeds MAX_USER_AGENT_BYTES")
	}
	uaLen := int(uaLenU64)
	if len(b) < off+uaLen+8 {
		return nil, fmt.Errorf("p2p: handshake: truncated user_agent/tip_height")
	}
	uaBytes := b[off : off+uaLen]
	off += uaLen
	if !utf8.Valid(uaBytes) {
		return nil, fmt.Errorf("p2p: handshake: user_agent must be UTF-8")
	}

	tipHeight := binary.LittleEndian.Uint64(b[off : off+8])
	off += 8

	if off != len(b) {
		return nil, fmt.Errorf("p2p: handshake: trailing bytes")
	}

	return &HandshakeData{
		ProtocolVersion: proto,
		Network:         network,
		InstanceID:      instanceID,
		ListenPort:      listenPort,
		UserAgent:       string(uaBytes),
		TipHeight:       tipHeight,
	}, nil
}

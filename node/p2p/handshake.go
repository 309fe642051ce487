package p2p

import (
	"fmt"
	"net"
	"time"

	"mutanet.dev/node/crypto"
)

const (
	HandshakeTimeout = 10 * time.Second
)

type HandshakeResult struct {
	PeerHandshake HandshakeData
	Status        ConnectionStatusCode
	Reason        RefuseReason
}

// Handshake performs the handshake of spec.md §6:
//   - send handshake_data
//   - receive + validate the peer's handshake_data (network must match,
//     instance id must differ from ours, peer must not already be connected)
//   - the caller (Peer.Run) supplies shouldRefuse to enforce max-peers and
//     duplicate-instance checks that require state Handshake itself doesn't
//     carry.
//
// Mismatched magic is caught one layer down, in ReadMessage, which
// disconnects before a payload is ever decoded.
func Handshake(
	conn net.Conn,
	p crypto.Provider,
	magic uint32,
	ours HandshakeData,
	shouldRefuse func(peer HandshakeData) (RefuseReason, bool),
) (*HandshakeResult, error) {
	if conn == nil {
		return nil, fmt.Errorf("p2p: handshake: nil conn")
	}

	ours.ProtocolVersion = ProtocolVersionV1
	payload, err := EncodeHandshakeData(ours)
	if err != nil {
		return nil, err
	}
	if err := WriteMessage(conn, p, magic, CmdHandshake, payload); err != nil {
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(HandshakeTimeout))
	msg, rerr := ReadMessage(conn, p, magic)
	if rerr != nil {
		return nil, rerr
	}
	if msg.Command != CmdHandshake {
		return nil, fmt.Errorf("p2p: handshake: expected handshake, got %q", msg.Command)
	}
	peer, err := DecodeHandshakeData(msg.Payload)
	if err != nil {
		return nil, err
	}

	if peer.Network != ours.Network {
		_ = sendConnectionStatus(conn, p, magic, ConnectionRefused, RefuseReasonNetworkMismatch)
		return nil, fmt.Errorf("p2p: handshake: network mismatch")
	}
	if peer.InstanceID == ours.InstanceID {
		_ = sendConnectionStatus(conn, p, magic, ConnectionRefused, RefuseReasonSelfConnect)
		return nil, fmt.Errorf("p2p: handshake: self-connect")
	}
	if shouldRefuse != nil {
		if reason, refuse := shouldRefuse(*peer); refuse {
			_ = sendConnectionStatus(conn, p, magic, ConnectionRefused, reason)
			return &HandshakeResult{PeerHandshake: *peer, Status: ConnectionRefused, Reason: reason}, fmt.Errorf("p2p: handshake: refused")
		}
	}

	if err := sendConnectionStatus(conn, p, magic, ConnectionAccepted, RefuseReasonNone); err != nil {
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(HandshakeTimeout))
	statusMsg, rerr := ReadMessage(conn, p, magic)
	if rerr != nil {
		return nil, rerr
	}
	if statusMsg.Command != CmdConnectionStatus {
		return nil, fmt.Errorf("p2p: handshake: expected connection_status, got %q", statusMsg.Command)
	}
	status, reason, err := DecodeConnectionStatus(statusMsg.Payload)
	if err != nil {
		return nil, err
	}
	if status != ConnectionAccepted {
		return nil, fmt.Errorf("p2p: handshake: peer refused connection (reason=%d)", reason)
	}

	_ = conn.SetReadDeadline(time.Time{})
	return &HandshakeResult{PeerHandshake: *peer, Status: ConnectionAccepted}, nil
}

func sendConnectionStatus(conn net.Conn, p crypto.Provider, magic uint32, status ConnectionStatusCode, reason RefuseReason) error {
	return WriteMessage(conn, p, magic, CmdConnectionStatus, EncodeConnectionStatus(status, reason))
}

// EncodeConnectionStatus encodes a ConnectionStatus(accepted | refused(reason)) payload.
func EncodeConnectionStatus(status ConnectionStatusCode, reason RefuseReason) []byte {
	return []byte{byte(status), byte(reason)}
}

func DecodeConnectionStatus(b []byte) (ConnectionStatusCode, RefuseReason, error) {
	if len(b) != 2 {
		return 0, 0, fmt.Errorf("p2p: connection_status: want 2 bytes, got %d", len(b))
	}
	return ConnectionStatusCode(b[0]), RefuseReason(b[1]), nil
}

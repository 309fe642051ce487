package p2p

import (
	"context"
	"fmt"
	"net"
	"time"

	"mutanet.dev/node/crypto"
)

type PeerRole int

const (
	PeerRoleUnknown PeerRole = iota
	PeerRoleInbound
	PeerRoleOutbound
)

// PeerHandler reacts to the message variants spec.md §6 names. Handler
// errors on Block are treated as protocol violations (heavy ban-score);
// errors on BlockResponseByHash add a light ban-score; errors from the
// other handlers are treated as local failures and do not penalize the
// peer, matching the asymmetric trust the spec places in block payloads.
type PeerHandler interface {
	// OnBye is called when the peer sends a graceful Bye.
	OnBye(peer *Peer)
	// OnPeerListRequest returns the peer addresses to send back.
	OnPeerListRequest(peer *Peer) ([]string, error)
	// OnPeerListResponse is called with a peer-supplied address list.
	OnPeerListResponse(peer *Peer, addrs []string) error
	// OnBlock is called for unsolicited Block relays (raw canonical block bytes).
	OnBlock(peer *Peer, blockBytes []byte) error
	// OnBlockRequestByHash returns the raw block bytes for hash, or nil if unknown.
	OnBlockRequestByHash(peer *Peer, hash [32]byte) ([]byte, error)
	// OnBlockResponseByHash is called with the (possibly absent) response to
	// an earlier BlockRequestByHash.
	OnBlockResponseByHash(peer *Peer, hash [32]byte, blockBytes []byte, present bool) error
}

type PeerConfig struct {
	Magic   uint32
	Network string

	Crypto crypto.Provider

	Ours HandshakeData

	// ShouldRefuse enforces max-peers/duplicate-instance checks the
	// handshake payload alone can't encode.
	ShouldRefuse func(peer HandshakeData) (RefuseReason, bool)

	// IdleTimeout, if non-zero, sets a read deadline per message to avoid stuck connections.
	IdleTimeout time.Duration
}

type Peer struct {
	Conn   net.Conn
	Role   PeerRole
	Config PeerConfig

	PeerHandshake HandshakeData

	Ban BanScore
}

func NewPeer(conn net.Conn, role PeerRole, cfg PeerConfig) (*Peer, error) {
	if conn == nil {
		return nil, fmt.Errorf("p2p: peer: nil conn")
	}
	if cfg.Crypto == nil {
		return nil, fmt.Errorf("p2p: peer: nil crypto provider")
	}
	return &Peer{Conn: conn, Role: role, Config: cfg}, nil
}

func (p *Peer) Handshake() error {
	res, err := Handshake(p.Conn, p.Config.Crypto, p.Config.Magic, p.Config.Ours, p.Config.ShouldRefuse)
	if err != nil {
		return err
	}
	p.PeerHandshake = res.PeerHandshake
	return nil
}

func (p *Peer) Send(command string, payload []byte) error {
	return WriteMessage(p.Conn, p.Config.Crypto, p.Config.Magic, command, payload)
}

func (p *Peer) Run(ctx context.Context, h PeerHandler) error {
	if h == nil {
		return fmt.Errorf("p2p: peer: nil handler")
	}
	if err := p.Handshake(); err != nil {
		return err
	}

	// Ensure ctx cancellation unblocks ReadMessage (a blocking read on Conn).
	// Closing the conn is the simplest deterministic way to stop the loop.
	if ctx != nil {
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = p.Conn.Close()
			case <-done:
			}
		}()
		defer close(done)
	}

	for {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		if p.Config.IdleTimeout > 0 {
			_ = p.Conn.SetReadDeadline(time.Now().Add(p.Config.IdleTimeout))
		}
		msg, rerr := ReadMessage(p.Conn, p.Config.Crypto, p.Config.Magic)
		if rerr != nil {
			now := time.Now()
			p.Ban.Add(now, rerr.BanScoreDelta)
			if p.Ban.ShouldBan(now) {
				return fmt.Errorf("p2p: peer: banned (score=%d): %w", p.Ban.Score(now), rerr.Err)
			}
			if rerr.Disconnect {
				return rerr
			}
			// Drop malformed message, keep connection.
			continue
		}

		now := time.Now()
		if p.Ban.ShouldThrottle(now) {
			time.Sleep(ThrottleDelay)
		}

		switch msg.Command {
		case CmdBye:
			h.OnBye(p)
			return nil
		case CmdPeerListRequest:
			addrs, err := h.OnPeerListRequest(p)
			if err != nil {
				continue
			}
			_ = p.Send(CmdPeerListResponse, encodeAddrList(addrs))
		case CmdPeerListResponse:
			addrs, err := decodeAddrList(msg.Payload)
			if err != nil {
				p.Ban.Add(now, 10)
				continue
			}
			if err := h.OnPeerListResponse(p, addrs); err != nil {
				continue
			}
		case CmdBlock:
			if err := h.OnBlock(p, msg.Payload); err != nil {
				p.Ban.Add(now, 100)
				if p.Ban.ShouldBan(now) {
					return fmt.Errorf("p2p: peer: invalid block (banned): %w", err)
				}
			}
		case CmdBlockRequestByHash:
			hash, err := decodeHash(msg.Payload)
			if err != nil {
				p.Ban.Add(now, 10)
				continue
			}
			blockBytes, err := h.OnBlockRequestByHash(p, hash)
			if err != nil {
				continue
			}
			_ = p.Send(CmdBlockResponseByHash, encodeOptionalBlock(hash, blockBytes))
		case CmdBlockResponseByHash:
			hash, blockBytes, present, err := decodeOptionalBlock(msg.Payload)
			if err != nil {
				p.Ban.Add(now, 10)
				continue
			}
			if err := h.OnBlockResponseByHash(p, hash, blockBytes, present); err != nil {
				p.Ban.Add(now, 10)
			}
		default:
			// Unknown command: ignore, no ban-score.
			continue
		}
	}
}

func encodeAddrList(addrs []string) []byte {
	out := encodeCompactSize(uint64(len(addrs)))
	for _, a := range addrs {
		out = append(out, encodeCompactSize(uint64(len(a)))...)
		out = append(out, []byte(a)...)
	}
	return out
}

func decodeAddrList(b []byte) ([]string, error) {
	n, used, err := readCompactSize(b)
	if err != nil {
		return nil, err
	}
	b = b[used:]
	out := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		l, used, err := readCompactSize(b)
		if err != nil {
			return nil, err
		}
		b = b[used:]
		if uint64(len(b)) < l {
			return nil, fmt.Errorf("p2p: peer_list: truncated entry")
		}
		out = append(out, string(b[:l]))
		b = b[l:]
	}
	if len(b) != 0 {
		return nil, fmt.Errorf("p2p: peer_list: trailing bytes")
	}
	return out, nil
}

func decodeHash(b []byte) ([32]byte, error) {
	var h [32]byte
	if len(b) != 32 {
		return h, fmt.Errorf("p2p: want 32-byte digest, got %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

func encodeOptionalBlock(hash [32]byte, blockBytes []byte) []byte {
	out := append([]byte(nil), hash[:]...)
	if blockBytes == nil {
		return append(out, 0)
	}
	out = append(out, 1)
	out = append(out, encodeCompactSize(uint64(len(blockBytes)))...)
	return append(out, blockBytes...)
}

func decodeOptionalBlock(b []byte) (hash [32]byte, blockBytes []byte, present bool, err error) {
	if len(b) < 33 {
		return hash, nil, false, fmt.Errorf("p2p: block_response_by_hash: truncated")
	}
	copy(hash[:], b[:32])
	present = b[32] != 0
	if !present {
		if len(b) != 33 {
			return hash, nil, false, fmt.Errorf("p2p: block_response_by_hash: trailing bytes on absent response")
		}
		return hash, nil, false, nil
	}
	l, used, err := readCompactSize(b[33:])
	if err != nil {
		return hash, nil, false, err
	}
	rest := b[33+used:]
	if uint64(len(rest)) != l {
		return hash, nil, false, fmt.Errorf("p2p: block_response_by_hash: length mismatch")
	}
	return hash, rest, true, nil
}

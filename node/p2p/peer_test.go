package p2p

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"mutanet.dev/node/crypto"
)

type testHandler struct {
	byeCalled atomic.Int32
	peerList  []string
}

func (h *testHandler) OnBye(_ *Peer) { h.byeCalled.Add(1) }
func (h *testHandler) OnPeerListRequest(_ *Peer) ([]string, error) {
	return []string{"127.0.0.1:19111", "127.0.0.1:19112"}, nil
}
func (h *testHandler) OnPeerListResponse(_ *Peer, addrs []string) error {
	h.peerList = addrs
	return nil
}
func (h *testHandler) OnBlock(_ *Peer, _ []byte) error { return nil }
func (h *testHandler) OnBlockRequestByHash(_ *Peer, _ [32]byte) ([]byte, error) {
	return nil, nil
}
func (h *testHandler) OnBlockResponseByHash(_ *Peer, _ [32]byte, _ []byte, _ bool) error {
	return nil
}

func newTestPeerPair(t *testing.T) (server *Peer, client *Peer, ctx context.Context, cancel context.CancelFunc) {
	t.Helper()
	var cp crypto.DevStdProvider
	magic := uint32(0x0B110907)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	ctx, cancel = context.WithCancel(context.Background())
	t.Cleanup(cancel)

	accepted := make(chan *Peer, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		var serverID [InstanceIDBytes]byte
		serverID[0] = 1
		p, err := NewPeer(c, PeerRoleInbound, PeerConfig{Magic: magic, Network: "devnet", Crypto: cp, Ours: HandshakeData{Network: "devnet", InstanceID: serverID}})
		if err != nil {
			return
		}
		accepted <- p
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	var clientID [InstanceIDBytes]byte
	clientID[0] = 2
	client, err = NewPeer(conn, PeerRoleOutbound, PeerConfig{Magic: magic, Network: "devnet", Crypto: cp, Ours: HandshakeData{Network: "devnet", InstanceID: clientID}})
	if err != nil {
		t.Fatal(err)
	}

	server = <-accepted
	return server, client, ctx, cancel
}

func TestPeerPeerListRequestResponse(t *testing.T) {
	server, client, ctx, cancel := newTestPeerPair(t)

	th := &testHandler{}
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Run(ctx, th) }()

	if err := client.Handshake(); err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	if err := client.Send(CmdPeerListRequest, nil); err != nil {
		t.Fatal(err)
	}

	_ = client.Conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, rerr := ReadMessage(client.Conn, client.Config.Crypto, client.Config.Magic)
	if rerr != nil {
		t.Fatal(rerr)
	}
	if msg.Command != CmdPeerListResponse {
		t.Fatalf("expected peer_list_response, got %q", msg.Command)
	}
	addrs, err := decodeAddrList(msg.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 2 {
		t.Fatalf("expected 2 addrs, got %d", len(addrs))
	}

	cancel()
	_ = <-serverErr
}

func TestPeerByeEndsSession(t *testing.T) {
	server, client, ctx, cancel := newTestPeerPair(t)
	defer cancel()

	th := &testHandler{}
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Run(ctx, th) }()

	if err := client.Handshake(); err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	if err := client.Send(CmdBye, nil); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-serverErr:
		if err != nil {
			t.Fatalf("Run returned error after Bye: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to end session on Bye")
	}
	if th.byeCalled.Load() != 1 {
		t.Fatalf("expected OnBye to be called once, got %d", th.byeCalled.Load())
	}
}

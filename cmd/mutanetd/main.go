// Command mutanetd runs the archival node core: it opens the block
// catalog and mutator set for a data directory, optionally mines, and
// serves inbound peer connections. CLI parsing itself is out of scope
// (spec.md §1): this wrapper exists only to wire the pieces together.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"mutanet.dev/node/consensus"
	"mutanet.dev/node/crypto"
	"mutanet.dev/node/mutatorset"
	"mutanet.dev/node/node"
	"mutanet.dev/node/node/p2p"
	"mutanet.dev/node/node/store"
)

// multiStringFlag collects repeated occurrences of a flag (e.g. -peer)
// into a slice, since the standard flag package has no native list type.
type multiStringFlag []string

func (m *multiStringFlag) String() string { return fmt.Sprint([]string(*m)) }
func (m *multiStringFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("mutanetd exiting", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := node.DefaultConfig()

	var peerFlags multiStringFlag
	var banFlags multiStringFlag
	fs := flag.NewFlagSet("mutanetd", flag.ExitOnError)
	fs.StringVar(&cfg.Network, "network", cfg.Network, "network name")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory")
	fs.StringVar(&cfg.BindAddr, "bind-addr", cfg.BindAddr, "listen address")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug|info|warn|error)")
	fs.IntVar(&cfg.MaxPeers, "max-peers", cfg.MaxPeers, "maximum simultaneous peers")
	fs.IntVar(&cfg.PeerTolerance, "peer-tolerance", cfg.PeerTolerance, "ban-score tolerance before disconnecting a peer")
	fs.BoolVar(&cfg.Mine, "mine", cfg.Mine, "mine blocks against the local tip")
	fs.BoolVar(&cfg.UnrestrictedMining, "unrestricted-mining", cfg.UnrestrictedMining, "mine even while not caught up with peers")
	fs.Var(&peerFlags, "peer", "peer address to dial (repeatable)")
	fs.Var(&banFlags, "ban", "IP address to ban outright (repeatable)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg.Peers = node.NormalizePeers(append(cfg.Peers, peerFlags...)...)
	cfg.Ban = append(cfg.Ban, banFlags...)

	if err := node.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if b, err := json.MarshalIndent(cfg, "", "  "); err == nil {
		logger.Info("starting mutanetd", "config", string(b))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := store.Open(cfg.DataDir, cfg.Network)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer db.Close()

	ams, err := store.OpenArchivalMutatorSet(db.ChainDir())
	if err != nil {
		return fmt.Errorf("open archival mutator set: %w", err)
	}
	defer ams.Close()

	genesis, err := genesisBlock(cfg.Network)
	if err != nil {
		return fmt.Errorf("build genesis: %w", err)
	}

	bs, err := node.OpenBlockStore(filepath.Join(db.ChainDir(), "blocks"), db, genesis, node.DefaultMaxFileSize)
	if err != nil {
		return fmt.Errorf("open block store: %w", err)
	}
	defer bs.Close()

	orch := node.NewOrchestrator(db, bs, ams)

	var instanceID [p2p.InstanceIDBytes]byte
	if _, err := readRandom(instanceID[:]); err != nil {
		return fmt.Errorf("generate instance id: %w", err)
	}

	handler := &nodePeerHandler{blocks: bs, logger: logger}
	server := &peerServer{
		cfg:     cfg,
		handler: handler,
		magic:   networkMagic(cfg.Network),
		ours: p2p.HandshakeData{
			ProtocolVersion: p2p.ProtocolVersionV1,
			Network:         cfg.Network,
			InstanceID:      instanceID,
			ListenPort:      uint16(cfg.PeerPort),
			UserAgent:       "mutanetd",
		},
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Serve(ctx, cfg.BindAddr); err != nil && ctx.Err() == nil {
			logger.Error("peer server stopped", "error", err)
		}
	}()

	if cfg.Mine {
		queue, err := node.NewQueue(1)
		if err != nil {
			return fmt.Errorf("create job queue: %w", err)
		}
		miner := &node.Miner{Orchestrator: orch, Blocks: bs}
		wg.Add(1)
		go func() {
			defer wg.Done()
			mineLoop(ctx, queue, miner, logger)
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	wg.Wait()
	return nil
}

// mineLoop repeatedly submits mining jobs until ctx is cancelled.
func mineLoop(ctx context.Context, queue *node.Queue, miner *node.Miner, logger *slog.Logger) {
	for {
		res, err := queue.Submit(ctx, miner.Job())
		if err != nil {
			return
		}
		if res.Err != nil {
			logger.Warn("mining job failed", "error", res.Err)
			continue
		}
		if block, ok := res.Value.(*consensus.Block); ok && block != nil {
			logger.Info("mined block", "height", block.Header.Height)
		}
	}
}

func genesisBlock(network string) (consensus.Block, error) {
	empty := mutatorset.New().Commitment()
	body := consensus.Body{
		PrevMutatorSetAccumulator: append([]byte(nil), empty[:]...),
		NextMutatorSetAccumulator: append([]byte(nil), empty[:]...),
	}
	root, err := consensus.ComputeBodyMerkleRoot(body)
	if err != nil {
		return consensus.Block{}, err
	}
	header := consensus.Header{
		Version:          1,
		Height:           0,
		BodyMerkleRoot:   root,
		TargetDifficulty: consensus.MinimumDifficulty(),
		Timestamp:        genesisTimestamp(network),
	}
	return consensus.Block{Header: header, Body: body}, nil
}

// genesisTimestamp is a fixed per-network constant rather than time.Now:
// every node on a given network must derive the same genesis hash.
func genesisTimestamp(network string) uint64 {
	switch network {
	case "mainnet":
		return 1_700_000_000_000_000_000
	default:
		return 1_600_000_000_000_000_000
	}
}

// networkMagic picks the envelope magic value per network, so a devnet
// and mainnet node can never mistake one another's frames for valid
// messages even if misconfigured to share a port.
func networkMagic(network string) uint32 {
	switch network {
	case "mainnet":
		return 0x4d4e4d31 // "MNM1"
	case "testnet":
		return 0x4d4e5431 // "MNT1"
	default:
		return 0x4d4e4431 // "MND1" (devnet and anything unrecognized)
	}
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func readRandom(b []byte) (int, error) {
	f, err := os.Open("/dev/urandom")
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.Read(b)
}

// peerServer accepts inbound connections and dials configured peers,
// running each resulting session through node/p2p's Peer/PeerHandler
// machinery. Kept here rather than as its own package: spec.md §1 treats
// the peer-manager's policy (who to dial, max-peers enforcement) as part
// of the node binary's wiring, not the wire codec itself.
type peerServer struct {
	cfg     node.Config
	handler p2p.PeerHandler
	ours    p2p.HandshakeData
	magic   uint32

	mu    sync.Mutex
	count int
}

func (s *peerServer) shouldRefuse(peer p2p.HandshakeData) (p2p.RefuseReason, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count >= s.cfg.MaxPeers {
		return p2p.RefuseReasonMaxPeersExceeded, true
	}
	return p2p.RefuseReasonNone, false
}

func (s *peerServer) Serve(ctx context.Context, bindAddr string) error {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", bindAddr, err)
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for _, addr := range s.cfg.Peers {
		go s.dial(ctx, addr)
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if s.isBanned(conn.RemoteAddr()) {
			_ = conn.Close()
			continue
		}
		go s.runSession(ctx, conn, p2p.PeerRoleInbound)
	}
}

// isBanned reports whether addr's IP appears in the static -ban list.
func (s *peerServer) isBanned(addr net.Addr) bool {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	for _, banned := range s.cfg.Ban {
		if banned == host {
			return true
		}
	}
	return false
}

func (s *peerServer) dial(ctx context.Context, addr string) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		slog.Warn("dial peer failed", "addr", addr, "error", err)
		return
	}
	s.runSession(ctx, conn, p2p.PeerRoleOutbound)
}

func (s *peerServer) runSession(ctx context.Context, conn net.Conn, role p2p.PeerRole) {
	defer conn.Close()

	peer, err := p2p.NewPeer(conn, role, p2p.PeerConfig{
		Magic:        s.magic,
		Network:      s.cfg.Network,
		Crypto:       crypto.DevStdProvider{},
		Ours:         s.ours,
		ShouldRefuse: s.shouldRefuse,
		IdleTimeout:  5 * time.Minute,
	})
	if err != nil {
		slog.Warn("peer session setup failed", "error", err)
		return
	}

	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.count--
		s.mu.Unlock()
	}()

	if err := peer.Run(ctx, s.handler); err != nil && ctx.Err() == nil {
		slog.Debug("peer session ended", "error", err)
	}
}

// nodePeerHandler answers block relay/request messages against the local
// block store.
type nodePeerHandler struct {
	blocks *node.BlockStore
	logger *slog.Logger
}

func (h *nodePeerHandler) OnBye(*p2p.Peer) {}

func (h *nodePeerHandler) OnPeerListRequest(*p2p.Peer) ([]string, error) {
	return nil, nil
}

func (h *nodePeerHandler) OnPeerListResponse(*p2p.Peer, []string) error {
	return nil
}

func (h *nodePeerHandler) OnBlock(peer *p2p.Peer, blockBytes []byte) error {
	block, err := consensus.ParseBlockBytes(blockBytes)
	if err != nil {
		return err
	}
	h.logger.Debug("received block", "height", block.Header.Height)
	return nil
}

func (h *nodePeerHandler) OnBlockRequestByHash(peer *p2p.Peer, hash [32]byte) ([]byte, error) {
	block, err := h.blocks.ReadBlock(consensus.Digest(hash))
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, nil
	}
	return consensus.BlockBytes(*block), nil
}

func (h *nodePeerHandler) OnBlockResponseByHash(peer *p2p.Peer, hash [32]byte, blockBytes []byte, present bool) error {
	return nil
}

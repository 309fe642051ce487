package node

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// TxProvingCapability selects how much a peer is trusted to prove its own
// transactions, per spec.md §6: it must never be a level that would leak
// transaction amounts.
type TxProvingCapability string

const (
	TxProvingLockScript   TxProvingCapability = "lock_script"
	TxProvingPrimitiveWitness TxProvingCapability = "primitive_witness"
	TxProvingSingleProof  TxProvingCapability = "single_proof"
)

// Config mirrors spec.md §6's flag list one field per flag.
type Config struct {
	Network  string   `json:"network"`
	DataDir  string   `json:"data_dir"`
	BindAddr string   `json:"bind_addr"`
	LogLevel string   `json:"log_level"`
	Peers    []string `json:"peers"`
	MaxPeers int      `json:"max_peers"`

	Ban []string `json:"ban"`

	PeerTolerance    int  `json:"peer_tolerance"`
	Mine             bool `json:"mine"`
	UnrestrictedMining bool `json:"unrestricted_mining"`

	MaxMempoolSize              uint64 `json:"max_mempool_size"`
	MaxUTXONotificationSize     uint64 `json:"max_utxo_notification_size"`
	MaxUnconfirmedUTXOPerPeer   int    `json:"max_unconfirmed_utxo_per_peer"`

	PeerPort int `json:"peer_port"`
	RPCPort  int `json:"rpc_port"`

	MaxBlocksBeforeSync int `json:"max_blocks_before_sync"`

	NumberOfMPsPerUTXO int                  `json:"number_of_mps_per_utxo"`
	TxProvingCapability TxProvingCapability `json:"tx_proving_capability"`

	TokioConsole string `json:"tokio_console"`
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".mutanet"
	}
	return filepath.Join(home, ".mutanet")
}

func DefaultConfig() Config {
	return Config{
		Network:  "devnet",
		DataDir:  DefaultDataDir(),
		BindAddr: "0.0.0.0:19111",
		Peers:    nil,
		LogLevel: "info",
		MaxPeers: 64,

		PeerTolerance: 1000,

		MaxMempoolSize:            1 << 30, // 1 GiB
		MaxUTXONotificationSize:   1 << 16,
		MaxUnconfirmedUTXOPerPeer: 100,

		PeerPort: 19111,
		RPCPort:  9799,

		MaxBlocksBeforeSync: 2,

		NumberOfMPsPerUTXO:  3,
		TxProvingCapability: TxProvingSingleProof,
	}
}

func NormalizePeers(raw ...string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, token := range raw {
		for _, p := range strings.Split(token, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Network) == "" {
		return errors.New("network is required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if err := validateAddr(cfg.BindAddr); err != nil {
		return fmt.Errorf("invalid bind_addr: %w", err)
	}
	for _, peer := range cfg.Peers {
		if err := validatePeerAddr(peer); err != nil {
			return fmt.Errorf("invalid peer %q: %w", peer, err)
		}
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	if cfg.MaxPeers <= 0 {
		return errors.New("max_peers must be > 0")
	}
	if cfg.MaxPeers > 4096 {
		return errors.New("max_peers must be <= 4096")
	}
	for _, ip := range cfg.Ban {
		if net.ParseIP(strings.TrimSpace(ip)) == nil {
			return fmt.Errorf("invalid ban entry %q: not an IP address", ip)
		}
	}
	if cfg.MaxBlocksBeforeSync < 2 {
		return errors.New("max_blocks_before_sync must be >= 2")
	}
	switch cfg.TxProvingCapability {
	case TxProvingLockScript, TxProvingPrimitiveWitness, TxProvingSingleProof:
	default:
		return fmt.Errorf("invalid tx_proving_capability %q", cfg.TxProvingCapability)
	}
	return nil
}

func validateAddr(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("empty address")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if strings.TrimSpace(port) == "" {
		return errors.New("missing port")
	}
	if strings.Contains(host, " ") {
		return errors.New("invalid host")
	}
	return nil
}

func validatePeerAddr(addr string) error {
	if err := validateAddr(addr); err != nil {
		return err
	}
	host, _, _ := net.SplitHostPort(addr)
	if strings.TrimSpace(host) == "" {
		return errors.New("missing host")
	}
	return nil
}

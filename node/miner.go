package node

import (
	"fmt"
	"time"

	"mutanet.dev/node/consensus"
	"mutanet.dev/node/mutatorset"
)

// TargetBlockInterval is the block-interval parameter fed to
// consensus.NextDifficulty; spec.md §4.2 leaves the concrete value tunable.
const TargetBlockInterval = uint64(9 * time.Second)

// Miner repeatedly assembles and grinds a candidate block extending the
// current tip, submitting each solved block through the orchestrator and
// block store. The grinding loop polls its CancelToken rather than being
// pre-empted, per spec.md §9's coroutine/async design note; this is a
// from-scratch rebuild against the mutator-set model, grounded on the
// teacher's now-removed miner's background-goroutine-with-context shape
// rather than its body (the teacher mined against a UTXO/covenant model
// this spec has no concept of).
type Miner struct {
	Orchestrator *Orchestrator
	Blocks       *BlockStore
}

// pollInterval is how many nonces MineOne grinds between cancellation
// checks; checking every iteration would dominate the loop with channel
// overhead.
const pollInterval = 1 << 16

// MineOne grinds a single block extending the current tip and, on success,
// commits it via the orchestrator and block store. It returns early with
// nil, nil if tok is cancelled before a solution is found.
func (m *Miner) MineOne(tok CancelToken) (*consensus.Block, error) {
	tip, err := m.Blocks.GetLatestBlock()
	if err != nil {
		return nil, err
	}

	nextDiff := consensus.NextDifficulty(
		uint64(time.Now().UnixNano()), tip.Header.Timestamp,
		tip.Header.TargetDifficulty, TargetBlockInterval, tip.Header.Height,
	)
	target := nextDiff.Target()

	emptyCommitment := mutatorset.New().Commitment()
	nextMS := tip.Body.NextMutatorSetAccumulator
	if nextMS == nil {
		nextMS = append([]byte(nil), emptyCommitment[:]...)
	}
	body := consensus.Body{
		PrevMutatorSetAccumulator: append([]byte(nil), nextMS...),
		NextMutatorSetAccumulator: append([]byte(nil), nextMS...),
	}
	root, err := consensus.ComputeBodyMerkleRoot(body)
	if err != nil {
		return nil, err
	}

	header := consensus.Header{
		Version:          1,
		Height:           tip.Header.Height + 1,
		PrevBlockDigest:  consensus.BlockHash(tip.Header),
		Timestamp:        uint64(time.Now().UnixNano()),
		TargetDifficulty: nextDiff,
		BodyMerkleRoot:   root,
	}

	for nonce := uint64(0); ; nonce++ {
		if nonce%pollInterval == 0 {
			select {
			case <-tok.Done():
				return nil, nil
			default:
			}
		}

		header.Nonce = nonce
		h := consensus.BlockHash(header)
		if consensus.HashMeetsTarget(h, target) {
			work, err := consensus.WorkFromTarget(target)
			if err != nil {
				return nil, err
			}
			header.ProofOfWorkLine = tip.Header.ProofOfWorkLine.Add(work)
			header.ProofOfWorkFamily = header.ProofOfWorkLine

			block := consensus.Block{Header: header, Body: body}
			if err := m.Orchestrator.UpdateMutatorSet(block); err != nil {
				return nil, fmt.Errorf("miner: update_mutator_set: %w", err)
			}
			if err := m.Blocks.WriteBlock(block, &tip.Header.ProofOfWorkLine); err != nil {
				return nil, fmt.Errorf("miner: write_block: %w", err)
			}
			return &block, nil
		}
	}
}

// Job wraps MineOne as a Job for submission to a Queue.
func (m *Miner) Job() Job {
	return Job{Sync: func(tok CancelToken) JobResult {
		b, err := m.MineOne(tok)
		return JobResult{Value: b, Err: err}
	}}
}

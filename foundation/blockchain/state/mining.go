package state

import (
	"context"
	"errors"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/network"
	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
)

// miningState exists while mining is on.
type miningState struct {
	jobID    uint64
	jobBytes int
	preset   []database.Tx
}

func (s *State) startMining(cmd StartMining) {
	if s.Worker == nil {
		s.evHandler("state: startMining: no worker running")
		s.alert(SeverityError, "Mining can't start without a running worker")
		return
	}

	if len(cmd.Chain) > 0 {
		s.receiveChain(cmd.Chain, "")
	}

	for _, tx := range cmd.Transactions {
		if _, err := s.addTransaction(tx, ""); err != nil {
			s.evHandler("state: startMining: tx[%s]: skipped: %s", tx.ID, err)
		}
	}

	if s.mining == nil {
		s.mining = &miningState{}

		if s.miners.Add(s.nodeID) {
			s.notifyMiners()
		}
		s.broadcast(network.NewMessage(network.TypeMiningStarted, network.MiningStarted{MinerID: s.nodeID}), "")
		s.alert(SeveritySuccess, "Mining started")
	}

	s.mining.preset = cmd.Transactions
	s.restartMining("mining requested")
}

func (s *State) stopMining() {
	if s.mining == nil {
		return
	}
	s.mining = nil

	if s.Worker != nil {
		s.Worker.SignalCancelMining()
	}

	if s.miners.Remove(s.nodeID) {
		s.notifyMiners()
	}
	s.broadcast(network.NewMessage(network.TypeMiningStopped, network.MiningStopped{MinerID: s.nodeID}), "")

	s.evHandler("state: stopMining: stopped")
}

// restartMining cancels the running job and hands the worker a new one on
// top of the current tip.
func (s *State) restartMining(reason string) {
	if s.mining == nil || s.Worker == nil {
		return
	}

	s.Worker.SignalCancelMining()

	s.jobSeq++
	txs := s.selectTransactions()
	reward := database.NewRewardTx(s.wallet.Address(), txs, s.chain.Length(), s.genesis)
	data := append(txs, reward)

	job := MiningJob{
		ID:        s.jobSeq,
		LastBlock: s.chain.LastBlock(),
		Data:      data,
		MineRate:  s.genesis.MineRate,
	}

	s.mining.jobID = job.ID
	s.mining.jobBytes = signature.SizeOf(data)

	s.evHandler("state: restartMining: %s: job[%d] txs[%d] bytes[%d] reward[%s]", reason, job.ID, len(txs), s.mining.jobBytes, reward.Input.Amount)
	s.Worker.SignalStartMining(job)
}

// selectTransactions picks the transactions for the next block and drops
// those that can't be spent in sequence on top of the chain.
func (s *State) selectTransactions() []database.Tx {
	var txs []database.Tx

	switch {
	case len(s.mining.preset) > 0:
		for _, tx := range s.mining.preset {
			if err := tx.Validate(); err == nil {
				txs = append(txs, tx)
			}
		}
		s.mining.preset = nil

	default:
		txs = s.mempool.SelectForBlock(s.feeThreshold, s.genesis.MaxBlockBytes)
	}

	return s.mempool.ValidateSequence(txs, s.chain.Blocks(), s.genesis.InitialBalance)
}

func (s *State) handleMiningResult(res MiningResult) {
	if s.mining == nil || res.JobID != s.mining.jobID {
		s.evHandler("state: handleMiningResult: job[%d]: stale result ignored", res.JobID)
		return
	}

	if res.Err != nil {
		if errors.Is(res.Err, context.Canceled) {
			s.evHandler("state: handleMiningResult: job[%d]: cancelled", res.JobID)
			return
		}

		s.evHandler("state: handleMiningResult: job[%d]: ERROR: %s", res.JobID, res.Err)
		s.stopMining()
		s.alert(SeverityError, "Mining stopped: %s", res.Err)
		offer(s.notify.miningErrors, res.Err)
		return
	}

	block := res.Block
	if block.LastHash != s.chain.LastBlock().Hash {
		s.evHandler("state: handleMiningResult: job[%d]: superseded by a new tip", res.JobID)
		s.restartMining("superseded")
		return
	}

	if err := s.chain.Append(block); err != nil {
		s.evHandler("state: handleMiningResult: job[%d]: block rejected: %s", res.JobID, err)
		s.restartMining("block rejected")
		return
	}

	s.evHandler("state: handleMiningResult: job[%d]: blk[%d] hash[%s] duration[%v]", res.JobID, s.chain.Length()-1, block.Hash, res.Duration)
	offer(s.notify.blocks, block)

	s.cancelVote("tip extended")
	s.chainChanged()
	s.broadcast(network.NewMessage(network.TypeChain, network.Chain{Chain: s.chain.Blocks()}), "")
}

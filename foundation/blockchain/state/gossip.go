package state

import (
	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/network"
)

// peerMessage applies a message from a registered connection.
func (s *State) peerMessage(conn *network.Conn, msg network.Message) {
	if s.net == nil {
		return
	}

	from := conn.PeerID()
	if current, exists := s.net.conns[from]; !exists || current != conn {
		return
	}

	switch p := msg.Payload.(type) {
	case *network.Chain:
		s.evHandler("state: peerMessage: peer[%s]: CHAIN: length[%d]", from, len(p.Chain))
		s.receiveChain(p.Chain, from)

	case *network.Transaction:
		s.evHandler("state: peerMessage: peer[%s]: TRANSACTION: tx[%s]", from, p.Transaction.ID)
		s.addTransaction(p.Transaction, from)

	case *network.TransactionPool:
		s.evHandler("state: peerMessage: peer[%s]: TRANSACTION_POOL: count[%d]", from, len(p.Transactions))
		s.receivePool(p.Transactions, from)

	case *network.Peers:
		s.evHandler("state: peerMessage: peer[%s]: PEERS: count[%d]", from, len(p.Addresses))
		for _, address := range p.Addresses {
			s.dial(address)
		}

	case *network.RequestChainCheck:
		resp := network.ResponseChainCheck{ChainLength: p.ChainLength}
		if block, exists := s.chain.BlockAt(p.ChainLength - 1); exists {
			resp.Block = &block
		}
		s.send(conn, network.NewMessage(network.TypeResponseChainCheck, resp))

	case *network.ResponseChainCheck:
		if p.Block != nil {
			s.addVote(from, p.ChainLength, *p.Block)
		}

	case *network.MiningStarted:
		if s.miners.Add(p.MinerID) {
			s.notifyMiners()
			s.broadcast(network.NewMessage(network.TypeMiningStarted, *p), from)
		}

	case *network.MiningStopped:
		if s.miners.Remove(p.MinerID) {
			s.notifyMiners()
			s.broadcast(network.NewMessage(network.TypeMiningStopped, *p), from)
		}

	case *network.Miners:
		var changed bool
		for _, id := range p.MinerIDs {
			if s.miners.Add(id) {
				changed = true
			}
		}
		if changed {
			s.notifyMiners()
		}

	default:
		s.evHandler("state: peerMessage: peer[%s]: unexpected %s after handshake", from, msg.Type)
		conn.Close()
	}
}

// receiveChain applies the replacement policy to a chain from a peer.
func (s *State) receiveChain(candidate []database.Block, from string) {
	res, err := s.chain.Replace(candidate)

	switch res {
	case database.Replaced:
		s.evHandler("state: receiveChain: peer[%s]: replaced: length[%d]", from, s.chain.Length())
		s.cancelVote("longer chain received")
		s.chainChanged()
		s.broadcast(network.NewMessage(network.TypeChain, network.Chain{Chain: s.chain.Blocks()}), from)

	case database.Conflict:
		s.openVote(candidate[len(candidate)-1], from)

	default:
		if err != nil {
			s.evHandler("state: receiveChain: peer[%s]: rejected: %s", from, err)
		}
	}
}

// receivePool merges a peer's pool into ours without relaying it.
func (s *State) receivePool(txs []database.Tx, from string) {
	var changed bool
	for _, tx := range txs {
		ok, err := s.mempool.Upsert(tx)
		if err != nil {
			s.evHandler("state: receivePool: peer[%s]: tx[%s]: rejected: %s", from, tx.ID, err)
			continue
		}
		if ok {
			changed = true
		}
	}

	if changed {
		s.poolChanged()
	}
}

// chainChanged prunes the pool, publishes the chain and restarts mining.
func (s *State) chainChanged() {
	s.notifyChain()

	blocks := s.chain.Blocks()

	removed := s.mempool.RemoveConfirmed(blocks)
	if removed > 0 {
		s.evHandler("state: chainChanged: removed[%d] confirmed transactions", removed)
	}

	pruned := s.mempool.PruneInvalid(blocks, s.genesis.InitialBalance)
	if pruned > 0 {
		s.evHandler("state: chainChanged: pruned[%d] transactions invalid on the new chain", pruned)
	}

	if removed+pruned > 0 {
		s.notifyPool()
	}

	s.restartMining("chain changed")
}

// poolChanged publishes the pool and restarts mining when the running job
// still has room for more transactions.
func (s *State) poolChanged() {
	s.notifyPool()

	if s.mining != nil && s.mining.jobBytes < s.genesis.MaxBlockBytes {
		s.restartMining("pool changed")
	}
}

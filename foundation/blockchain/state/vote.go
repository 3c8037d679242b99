package state

import (
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/network"
	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
)

// vote collects the tip candidates reported for one chain length. Each
// voter counts once and candidates are kept in first-seen order for the
// tie-break.
type vote struct {
	length int
	order  []string
	counts map[string]int
	blocks map[string]database.Block
	voters map[string]struct{}
	timer  *time.Timer
}

func (v *vote) add(voter string, block database.Block) bool {
	if _, exists := v.voters[voter]; exists {
		return false
	}
	v.voters[voter] = struct{}{}

	hash := signature.Hash(block)
	if _, exists := v.blocks[hash]; !exists {
		v.order = append(v.order, hash)
		v.blocks[hash] = block
	}
	v.counts[hash]++

	return true
}

// winner returns the candidate with the most votes. The first seen wins ties.
func (v *vote) winner() (database.Block, int) {
	var best string
	for _, hash := range v.order {
		if best == "" || v.counts[hash] > v.counts[best] {
			best = hash
		}
	}

	return v.blocks[best], v.counts[best]
}

// =============================================================================

// openVote starts a fork vote between our tip and the candidate tip, then
// asks every peer for its block at the same height.
func (s *State) openVote(candidate database.Block, from string) {
	length := s.chain.Length()

	if s.vote != nil && s.vote.length == length {
		if s.vote.add(from, candidate) {
			s.evHandler("state: openVote: length[%d]: added candidate from peer[%s]", length, from)
		}
		return
	}

	s.cancelVote("new conflict")

	v := vote{
		length: length,
		counts: make(map[string]int),
		blocks: make(map[string]database.Block),
		voters: make(map[string]struct{}),
		timer:  time.NewTimer(s.voteTimeout),
	}
	v.add(s.nodeID, s.chain.LastBlock())
	v.add(from, candidate)
	s.vote = &v

	s.evHandler("state: openVote: length[%d]: local[%s] candidate[%s] from peer[%s]", length, s.chain.LastBlock().Hash, candidate.Hash, from)
	s.broadcast(network.NewMessage(network.TypeRequestChainCheck, network.RequestChainCheck{ChainLength: length}), "")
}

func (s *State) addVote(voter string, length int, block database.Block) {
	if s.vote == nil || s.vote.length != length {
		return
	}

	if s.vote.add(voter, block) {
		s.evHandler("state: addVote: length[%d]: peer[%s]: block[%s]", length, voter, block.Hash)
	}
}

// cancelVote drops the running vote.
func (s *State) cancelVote(reason string) {
	if s.vote == nil {
		return
	}

	s.vote.timer.Stop()
	s.vote = nil

	s.evHandler("state: cancelVote: %s", reason)
}

// resolveVote replaces our tip with the plurality winner when it differs and
// validates against our prefix. The result is not rebroadcast.
func (s *State) resolveVote() {
	v := s.vote
	s.vote = nil

	if v == nil {
		return
	}

	if s.chain.Length() != v.length {
		s.evHandler("state: resolveVote: length[%d]: chain moved to length[%d]", v.length, s.chain.Length())
		return
	}

	winner, count := v.winner()
	s.evHandler("state: resolveVote: length[%d]: voters[%d]: winner[%s] votes[%d]", v.length, len(v.voters), winner.Hash, count)

	if signature.Hash(winner) == signature.Hash(s.chain.LastBlock()) {
		s.evHandler("state: resolveVote: keeping local tip")
		return
	}

	if err := s.chain.ReplaceTip(winner); err != nil {
		s.evHandler("state: resolveVote: winner rejected: %s", err)
		return
	}

	s.alert(SeverityInfo, "Fork at height %d resolved by vote, new tip %s", v.length-1, winner.Hash)
	s.chainChanged()
}

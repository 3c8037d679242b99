// Package peer maintains the peer related information such as the set
// of connected peers, their status and the set of known miners.
package peer

import (
	"slices"
	"sync"
)

// Connection roles as seen from this node.
const (
	RoleInbound  = "inbound"
	RoleOutbound = "outbound"
)

// Peer represents information about a Node in the network.
type Peer struct {
	ID        string `json:"id"`
	Address   string `json:"address"`
	Protocol  string `json:"protocol"`
	Role      string `json:"role"`
	Checking  bool   `json:"checking"`
	Available bool   `json:"available"`
}

// Match validates if the specified address matches this node.
func (p Peer) Match(address string) bool {
	return p.Address == address
}

// =============================================================================

// PeerSet represents the data representation to maintain the inbound and
// outbound connections keyed by peer id. A peer id never appears in both
// maps. Every mutator reports whether the set changed so the caller decides
// when to notify.
type PeerSet struct {
	mu           sync.RWMutex
	inbounds     map[string]Peer
	outbounds    map[string]Peer
	maxInbounds  int
	maxOutbounds int
}

// NewPeerSet constructs a new set with the connection limits.
func NewPeerSet(maxInbounds int, maxOutbounds int) *PeerSet {
	return &PeerSet{
		inbounds:     make(map[string]Peer),
		outbounds:    make(map[string]Peer),
		maxInbounds:  maxInbounds,
		maxOutbounds: maxOutbounds,
	}
}

// Add adds a peer to the map for its role. Nothing changes when the id is
// already known in either map or the map is full.
func (ps *PeerSet) Add(peer Peer) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.has(peer.ID) {
		return false
	}

	switch peer.Role {
	case RoleInbound:
		if len(ps.inbounds) >= ps.maxInbounds {
			return false
		}
		ps.inbounds[peer.ID] = peer

	case RoleOutbound:
		if len(ps.outbounds) >= ps.maxOutbounds {
			return false
		}
		ps.outbounds[peer.ID] = peer

	default:
		return false
	}

	return true
}

// Remove removes a peer from the set.
func (ps *PeerSet) Remove(id string) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, exists := ps.inbounds[id]; exists {
		delete(ps.inbounds, id)
		return true
	}

	if _, exists := ps.outbounds[id]; exists {
		delete(ps.outbounds, id)
		return true
	}

	return false
}

// Update applies fn to the peer with the id and stores the result.
func (ps *PeerSet) Update(id string, fn func(p *Peer)) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	for _, m := range []map[string]Peer{ps.inbounds, ps.outbounds} {
		p, exists := m[id]
		if !exists {
			continue
		}

		before := p
		fn(&p)
		p.ID, p.Role = before.ID, before.Role
		m[id] = p

		return p != before
	}

	return false
}

// Clear removes every peer.
func (ps *PeerSet) Clear() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	changed := len(ps.inbounds) > 0 || len(ps.outbounds) > 0
	ps.inbounds = make(map[string]Peer)
	ps.outbounds = make(map[string]Peer)

	return changed
}

// Get returns the peer with the id.
func (ps *PeerSet) Get(id string) (Peer, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	if p, exists := ps.inbounds[id]; exists {
		return p, true
	}
	p, exists := ps.outbounds[id]
	return p, exists
}

// Has reports whether the id is known in either map.
func (ps *PeerSet) Has(id string) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return ps.has(id)
}

// HasAddress reports whether a peer with the address is connected.
func (ps *PeerSet) HasAddress(address string) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	for _, m := range []map[string]Peer{ps.inbounds, ps.outbounds} {
		for _, p := range m {
			if p.Match(address) {
				return true
			}
		}
	}

	return false
}

// CanAcceptInbound reports whether another inbound connection fits.
func (ps *PeerSet) CanAcceptInbound() bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return len(ps.inbounds) < ps.maxInbounds
}

// OutboundSlots returns how many more outbound connections fit.
func (ps *PeerSet) OutboundSlots() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return max(ps.maxOutbounds-len(ps.outbounds), 0)
}

// Inbounds returns the inbound peers ordered by id.
func (ps *PeerSet) Inbounds() []Peer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return sorted(ps.inbounds)
}

// Outbounds returns the outbound peers ordered by id.
func (ps *PeerSet) Outbounds() []Peer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return sorted(ps.outbounds)
}

// Copy returns the addresses of the reachable peers excluding the address
// provided, for sharing with other nodes.
func (ps *PeerSet) Copy(address string) []string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var addresses []string
	for _, m := range []map[string]Peer{ps.inbounds, ps.outbounds} {
		for _, p := range m {
			if p.Available && p.Address != "" && !p.Match(address) {
				addresses = append(addresses, p.Address)
			}
		}
	}

	slices.Sort(addresses)
	return slices.Compact(addresses)
}

// =============================================================================

func (ps *PeerSet) has(id string) bool {
	if _, exists := ps.inbounds[id]; exists {
		return true
	}
	_, exists := ps.outbounds[id]
	return exists
}

func sorted(m map[string]Peer) []Peer {
	peers := make([]Peer, 0, len(m))
	for _, p := range m {
		peers = append(peers, p)
	}

	slices.SortFunc(peers, func(a, b Peer) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})

	return peers
}

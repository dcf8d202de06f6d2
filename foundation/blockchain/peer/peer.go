// Package peer maintains the peer related information such as the set
// of know peers and their status, and runs the websocket mesh that keeps
// the nodes of the network in sync.
package peer

import (
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Role is what a node advertises about itself during the handshake.
type Role string

// Set of roles a node can advertise.
const (
	RoleValidator Role = "validator"
	RoleFull      Role = "full"
	RoleLight     Role = "light"
)

// Peer represents information about a Node in the network.
type Peer struct {
	ID       string    `json:"id"`
	Host     string    `json:"host"`
	Role     Role      `json:"role"`
	Height   uint64    `json:"height"`
	LastSeen time.Time `json:"last_seen"`
	Alive    bool      `json:"alive"`
}

// New contructs a new peer value for a host that hasn't been contacted yet.
func New(host string) Peer {
	return Peer{
		Host: host,
	}
}

// Match validates if the specified host matches this node.
func (p Peer) Match(host string) bool {
	return p.Host == host
}

// =============================================================================

// PeerStatus represents information about the status
// of any given peer.
type PeerStatus struct {
	NodeID            string      `json:"node_id"`
	LatestBlockHash   common.Hash `json:"latest_block_hash"`
	LatestBlockNumber uint64      `json:"latest_block_number"`
	Connected         []Peer      `json:"connected"`
	KnownPeers        []Peer      `json:"known_peers"`
}

// =============================================================================

// PeerSet represents the data representation to maintain a set of known peers
// keyed by host.
type PeerSet struct {
	mu  sync.RWMutex
	set map[string]Peer
}

// NewPeerSet constructs a new info set to manage node peer information.
func NewPeerSet() *PeerSet {
	return &PeerSet{
		set: make(map[string]Peer),
	}
}

// Add adds a new node to the set.
func (ps *PeerSet) Add(peer Peer) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	_, exists := ps.set[peer.Host]
	if !exists {
		ps.set[peer.Host] = peer
		return true
	}

	return false
}

// Update replaces what is known about the peer's host.
func (ps *PeerSet) Update(peer Peer) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.set[peer.Host] = peer
}

// Remove removes a node from the set.
func (ps *PeerSet) Remove(host string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	delete(ps.set, host)
}

// Copy returns a list of the known peers ordered by host, leaving out the
// specified host.
func (ps *PeerSet) Copy(host string) []Peer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var peers []Peer
	for _, peer := range ps.set {
		if !peer.Match(host) {
			peers = append(peers, peer)
		}
	}

	sort.Slice(peers, func(i, j int) bool {
		return peers[i].Host < peers[j].Host
	})

	return peers
}

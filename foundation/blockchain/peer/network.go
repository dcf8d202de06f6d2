package peer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Path is the route peers connect to.
const Path = "/v1/p2p"

// writeWait is how long a single write to a peer may take.
const writeWait = 10 * time.Second

// Set of reasons a connection is refused during the handshake.
var (
	ErrChainMismatch = errors.New("chain id mismatch")
	ErrTooManyPeers  = errors.New("too many peers")
	ErrSelf          = errors.New("connected to self")
	ErrConnected     = errors.New("already connected")
	ErrNotPermitted  = errors.New("peer not permitted")
)

// Chain represents the behavior the network needs from the local chain.
// Blocks and transactions received from peers go through the same entry
// points as local ones.
type Chain interface {
	ChainID() uint64
	LatestBlock() database.Block
	QueryBlocksByNumber(from uint64, to uint64) []database.Block
	ProcessPeerBlock(block database.Block) error
	UpsertNodeTransaction(tx database.SignedTx) (database.PendingTx, error)
}

// Config represents the settings of the peer network.
type Config struct {
	NodeID            string
	Host              string // Address other nodes dial to reach this node.
	Role              Role
	MaxPeers          int
	HeartbeatInterval time.Duration
	TimeoutMultiple   int
	DialTimeout       time.Duration
	SyncBatch         uint64
	DedupTTL          time.Duration
	DedupSize         int
	Permit            func(Hello) error // Optional permission check.
	KnownPeers        *PeerSet
	EvHandler         func(v string, args ...any)
}

// Network manages the websocket connections to the peers of this node.
type Network struct {
	cfg      Config
	chain    Chain
	upgrader websocket.Upgrader
	dialer   websocket.Dialer
	seen     *expirable.LRU[common.Hash, struct{}]
	ev       func(v string, args ...any)

	mu    sync.RWMutex
	conns map[string]*conn

	wg   sync.WaitGroup
	shut chan struct{}
	once sync.Once
}

// NewNetwork constructs the network for the chain. Zero values in the
// config are replaced with defaults.
func NewNetwork(cfg Config, chain Chain) *Network {
	if cfg.Role == "" {
		cfg.Role = RoleFull
	}
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = 25
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.TimeoutMultiple <= 0 {
		cfg.TimeoutMultiple = 3
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.SyncBatch == 0 {
		cfg.SyncBatch = 100
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 5 * time.Minute
	}
	if cfg.DedupSize <= 0 {
		cfg.DedupSize = 10_000
	}
	if cfg.KnownPeers == nil {
		cfg.KnownPeers = NewPeerSet()
	}

	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	n := Network{
		cfg:   cfg,
		chain: chain,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		dialer: websocket.Dialer{
			HandshakeTimeout: cfg.DialTimeout,
		},
		seen:  expirable.NewLRU[common.Hash, struct{}](cfg.DedupSize, nil, cfg.DedupTTL),
		ev:    ev,
		conns: make(map[string]*conn),
		shut:  make(chan struct{}),
	}

	return &n
}

// PermitNodes returns a permission check that only lets the listed node
// ids connect.
func PermitNodes(ids ...string) func(Hello) error {
	return func(h Hello) error {
		if !slices.Contains(ids, h.NodeID) {
			return fmt.Errorf("%w: %s", ErrNotPermitted, h.NodeID)
		}
		return nil
	}
}

// =============================================================================

// ServeHTTP upgrades an inbound request to a peer connection. It returns
// once the peer disconnects.
func (n *Network) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if n.isShutdown() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.ev("peer: ServeHTTP: upgrade: ERROR: %s", err)
		return
	}

	n.wg.Add(1)
	defer n.wg.Done()

	n.run(ws)
}

// Connect dials the host and runs the connection in the background once
// the handshake succeeds.
func (n *Network) Connect(ctx context.Context, host string) error {
	if host == n.cfg.Host || n.connectedTo(host) {
		return nil
	}

	if n.Count() >= n.cfg.MaxPeers {
		return ErrTooManyPeers
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.DialTimeout)
	defer cancel()

	u := url.URL{Scheme: "ws", Host: host, Path: Path}
	ws, _, err := n.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		n.markDead(host)
		return fmt.Errorf("dial %s: %w", host, err)
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.run(ws)
	}()

	return nil
}

// Shutdown closes every connection and waits for them to finish.
func (n *Network) Shutdown() {
	n.ev("peer: shutdown: started")
	defer n.ev("peer: shutdown: completed")

	n.once.Do(func() {
		close(n.shut)
	})

	n.mu.RLock()
	for _, c := range n.conns {
		c.close()
	}
	n.mu.RUnlock()

	n.wg.Wait()
}

// =============================================================================

// BroadcastBlock sends the block to every connected peer.
func (n *Network) BroadcastBlock(block database.Block) {
	n.seen.Add(block.Hash, struct{}{})
	n.broadcast(MsgNewBlock, block)
}

// BroadcastTx sends the transaction to every connected peer.
func (n *Network) BroadcastTx(tx database.SignedTx) {
	n.seen.Add(tx.Hash(), struct{}{})
	n.broadcast(MsgNewTransaction, tx)
}

// Heartbeat pings every peer with the local height and drops the peers
// that have been silent for too long.
func (n *Network) Heartbeat() {
	timeout := n.timeout()
	height := n.chain.LatestBlock().Header.Number

	for _, c := range n.connections() {
		if silent := time.Since(c.info().LastSeen); silent > timeout {
			n.ev("peer: Heartbeat: %s: silent for %v: dropping", c.id, silent)
			c.close()
			continue
		}

		n.send(c, MsgPing, Status{Height: height})
	}
}

// Discover asks the connected peers for their peers and dials the known
// peers this node is not connected to yet.
func (n *Network) Discover(ctx context.Context) {
	for _, c := range n.connections() {
		n.send(c, MsgGetPeers, nil)
	}

	for _, p := range n.cfg.KnownPeers.Copy(n.cfg.Host) {
		if n.Count() >= n.cfg.MaxPeers {
			return
		}

		if err := n.Connect(ctx, p.Host); err != nil {
			n.ev("peer: Discover: %s: ERROR: %s", p.Host, err)
		}
	}
}

// Peers returns the connected peers ordered by host.
func (n *Network) Peers() []Peer {
	conns := n.connections()

	peers := make([]Peer, len(conns))
	for i, c := range conns {
		peers[i] = c.info()
	}

	slices.SortFunc(peers, func(a, b Peer) int {
		switch {
		case a.Host < b.Host:
			return -1
		case a.Host > b.Host:
			return 1
		}
		return 0
	})

	return peers
}

// NodeID returns the id this node advertises during the handshake.
func (n *Network) NodeID() string {
	return n.cfg.NodeID
}

// Count returns the number of connected peers.
func (n *Network) Count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return len(n.conns)
}

// =============================================================================

// run performs the handshake and then reads messages until the
// connection fails.
func (n *Network) run(ws *websocket.Conn) {
	c := &conn{ws: ws}
	defer c.close()

	hello, err := n.handshake(c)
	if err != nil {
		n.ev("peer: handshake: %s: disconnect: %s", ws.RemoteAddr(), err)
		return
	}

	n.ev("peer: connected: node[%s] host[%s] role[%s] height[%d]", hello.NodeID, hello.Host, hello.Role, hello.Height)

	defer func() {
		n.mu.Lock()
		delete(n.conns, c.id)
		n.mu.Unlock()

		n.markDead(hello.Host)
		n.ev("peer: disconnect: node[%s] host[%s]", hello.NodeID, hello.Host)
	}()

	if hello.Height > n.chain.LatestBlock().Header.Number {
		n.requestBlocks(c, hello.Height)
	}

	for {
		ws.SetReadDeadline(time.Now().Add(n.timeout()))

		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			if !n.isShutdown() {
				n.ev("peer: read: node[%s]: %s", c.id, err)
			}
			return
		}

		c.touch()

		if err := n.handle(c, msg); err != nil {
			n.ev("peer: handle: node[%s] %s: ERROR: %s", c.id, msg.Type, err)
		}
	}
}

// handshake exchanges hello messages and registers the connection.
func (n *Network) handshake(c *conn) (Hello, error) {
	hello := Hello{
		NodeID:  n.cfg.NodeID,
		Host:    n.cfg.Host,
		ChainID: n.chain.ChainID(),
		Role:    n.cfg.Role,
		Height:  n.chain.LatestBlock().Header.Number,
	}

	msg, err := newMessage(MsgHello, n.cfg.NodeID, hello)
	if err != nil {
		return Hello{}, err
	}

	if err := c.write(msg); err != nil {
		return Hello{}, err
	}

	c.ws.SetReadDeadline(time.Now().Add(n.cfg.DialTimeout))

	var reply Message
	if err := c.ws.ReadJSON(&reply); err != nil {
		return Hello{}, fmt.Errorf("read hello: %w", err)
	}

	if reply.Type != MsgHello {
		return Hello{}, fmt.Errorf("expected %s, got %s", MsgHello, reply.Type)
	}

	var remote Hello
	if err := reply.decode(&remote); err != nil {
		return Hello{}, err
	}

	switch {
	case remote.ChainID != hello.ChainID:
		return Hello{}, fmt.Errorf("%w: local %d, remote %d", ErrChainMismatch, hello.ChainID, remote.ChainID)
	case remote.NodeID == n.cfg.NodeID:
		return Hello{}, ErrSelf
	}

	if n.cfg.Permit != nil {
		if err := n.cfg.Permit(remote); err != nil {
			return Hello{}, err
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.conns[remote.NodeID]; exists {
		return Hello{}, fmt.Errorf("%w: %s", ErrConnected, remote.NodeID)
	}

	if len(n.conns) >= n.cfg.MaxPeers {
		return Hello{}, ErrTooManyPeers
	}

	c.id = remote.NodeID
	c.peer = Peer{
		ID:       remote.NodeID,
		Host:     remote.Host,
		Role:     remote.Role,
		Height:   remote.Height,
		LastSeen: time.Now(),
		Alive:    true,
	}
	n.conns[c.id] = c

	if remote.Host != "" {
		n.cfg.KnownPeers.Update(c.peer)
	}

	return remote, nil
}

// handle processes a single message from a peer.
func (n *Network) handle(c *conn, msg Message) error {
	switch msg.Type {
	case MsgNewBlock:
		var block database.Block
		if err := msg.decode(&block); err != nil {
			return err
		}

		// A block is only marked seen once it is applied or already behind
		// the local head, so a rejected block can arrive again.
		if n.seen.Contains(block.Hash) {
			return nil
		}

		c.setHeight(block.Header.Number)

		latest := n.chain.LatestBlock().Header.Number
		switch {
		case block.Header.Number <= latest:
			n.seen.Add(block.Hash, struct{}{})
			return nil
		case block.Header.Number > latest+1:
			n.requestBlocks(c, block.Header.Number)
			return nil
		}

		if err := n.chain.ProcessPeerBlock(block); err != nil {
			return err
		}
		n.seen.Add(block.Hash, struct{}{})

		return nil

	case MsgGetBlocks:
		var req GetBlocks
		if err := msg.decode(&req); err != nil {
			return err
		}

		if req.To < req.From || req.To-req.From >= n.cfg.SyncBatch {
			req.To = req.From + n.cfg.SyncBatch - 1
		}

		n.send(c, MsgBlocks, Blocks{Blocks: n.chain.QueryBlocksByNumber(req.From, req.To)})
		return nil

	case MsgBlocks:
		var resp Blocks
		if err := msg.decode(&resp); err != nil {
			return err
		}

		return n.applyBlocks(c, resp.Blocks)

	case MsgNewTransaction:
		var tx database.SignedTx
		if err := msg.decode(&tx); err != nil {
			return err
		}

		hash := tx.Hash()
		if n.seen.Contains(hash) {
			return nil
		}

		// A transaction can be refused until the block holding the
		// sender's previous nonce arrives.
		if _, err := n.chain.UpsertNodeTransaction(tx); err != nil {
			return err
		}
		n.seen.Add(hash, struct{}{})

		return nil

	case MsgPing, MsgPong:
		var status Status
		if err := msg.decode(&status); err != nil {
			return err
		}

		c.setHeight(status.Height)

		if msg.Type == MsgPing {
			n.send(c, MsgPong, Status{Height: n.chain.LatestBlock().Header.Number})
		}

		if status.Height > n.chain.LatestBlock().Header.Number {
			n.requestBlocks(c, status.Height)
		}
		return nil

	case MsgGetPeers:
		var peers []Peer
		for _, p := range n.Peers() {
			if p.Host != "" && p.Host != c.info().Host {
				peers = append(peers, p)
			}
		}

		n.send(c, MsgPeers, Peers{Peers: peers})
		return nil

	case MsgPeers:
		var resp Peers
		if err := msg.decode(&resp); err != nil {
			return err
		}

		for _, p := range resp.Peers {
			if p.Host == "" || p.Host == n.cfg.Host {
				continue
			}
			if n.cfg.KnownPeers.Add(New(p.Host)) {
				n.ev("peer: handle: discovered host[%s] from node[%s]", p.Host, c.id)
			}
		}
		return nil

	case MsgHello:
		return errors.New("unexpected hello")
	}

	return fmt.Errorf("unknown message type %q", msg.Type)
}

// applyBlocks commits a sync response in ascending order and asks for the
// next batch while the peer is still ahead.
func (n *Network) applyBlocks(c *conn, blocks []database.Block) error {
	slices.SortFunc(blocks, func(a, b database.Block) int {
		switch {
		case a.Header.Number < b.Header.Number:
			return -1
		case a.Header.Number > b.Header.Number:
			return 1
		}
		return 0
	})

	for _, block := range blocks {
		if block.Header.Number <= n.chain.LatestBlock().Header.Number {
			continue
		}

		if err := n.chain.ProcessPeerBlock(block); err != nil {
			return fmt.Errorf("sync blk[%d]: %w", block.Header.Number, err)
		}

		n.seen.Add(block.Hash, struct{}{})
	}

	if height := c.info().Height; height > n.chain.LatestBlock().Header.Number && len(blocks) > 0 {
		n.requestBlocks(c, height)
	}

	return nil
}

// requestBlocks asks the peer for the next batch of blocks up to height.
func (n *Network) requestBlocks(c *conn, height uint64) {
	c.setHeight(height)

	from := n.chain.LatestBlock().Header.Number + 1
	to := min(height, from+n.cfg.SyncBatch-1)

	n.ev("peer: sync: node[%s]: requesting blk[%d-%d]", c.id, from, to)
	n.send(c, MsgGetBlocks, GetBlocks{From: from, To: to})
}

// =============================================================================

// broadcast sends the payload to every connected peer.
func (n *Network) broadcast(typ MessageType, payload any) {
	msg, err := newMessage(typ, n.cfg.NodeID, payload)
	if err != nil {
		n.ev("peer: broadcast: ERROR: %s", err)
		return
	}

	for _, c := range n.connections() {
		if err := c.write(msg); err != nil {
			n.ev("peer: broadcast: node[%s] %s: ERROR: %s", c.id, typ, err)
			c.close()
		}
	}
}

// send writes a single message to the peer. A failed write closes the
// connection and the read loop cleans up.
func (n *Network) send(c *conn, typ MessageType, payload any) {
	msg, err := newMessage(typ, n.cfg.NodeID, payload)
	if err != nil {
		n.ev("peer: send: ERROR: %s", err)
		return
	}

	if err := c.write(msg); err != nil {
		n.ev("peer: send: node[%s] %s: ERROR: %s", c.id, typ, err)
		c.close()
	}
}

func (n *Network) connections() []*conn {
	n.mu.RLock()
	defer n.mu.RUnlock()

	conns := make([]*conn, 0, len(n.conns))
	for _, c := range n.conns {
		conns = append(conns, c)
	}

	return conns
}

func (n *Network) connectedTo(host string) bool {
	for _, c := range n.connections() {
		if c.info().Host == host {
			return true
		}
	}
	return false
}

// markDead keeps the host in the known peers but flags it as unreachable.
func (n *Network) markDead(host string) {
	if host == "" {
		return
	}

	for _, p := range n.cfg.KnownPeers.Copy("") {
		if p.Match(host) {
			p.Alive = false
			n.cfg.KnownPeers.Update(p)
			return
		}
	}
}

func (n *Network) timeout() time.Duration {
	return n.cfg.HeartbeatInterval * time.Duration(n.cfg.TimeoutMultiple)
}

func (n *Network) isShutdown() bool {
	select {
	case <-n.shut:
		return true
	default:
		return false
	}
}

// =============================================================================

// conn is a single peer socket. Gorilla connections support one concurrent
// writer so every write holds writeMu.
type conn struct {
	ws      *websocket.Conn
	id      string
	writeMu sync.Mutex
	once    sync.Once

	mu   sync.Mutex
	peer Peer
}

func (c *conn) write(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(msg)
}

func (c *conn) close() {
	c.once.Do(func() {
		c.ws.Close()
	})
}

func (c *conn) info() Peer {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.peer
}

func (c *conn) touch() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.peer.LastSeen = time.Now()
}

func (c *conn) setHeight(height uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if height > c.peer.Height {
		c.peer.Height = height
	}
}

package gossip

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cosmochain/cosmochain/internal/chain"
)

// NodeView is everything the gossip layer needs from the node orchestrator.
// It exists so this package depends on a narrow interface rather than the
// concrete orchestrator type.
type NodeView interface {
	// ChainSnapshot reports the local chain's current height and tip hash.
	ChainSnapshot() (height uint64, tip string)

	// Blocks returns every block the node currently holds, genesis first.
	Blocks() []chain.Block

	// ReplaceChain offers a full chain received from a peer to the node,
	// which adopts it only if it is longer and valid.
	ReplaceChain(blocks []chain.Block) (bool, error)

	// AppendIfNext offers a single block to the node, which appends it
	// only if it extends the current tip.
	AppendIfNext(block chain.Block) error

	// SeenBlock reports whether the node already has a block with hash.
	SeenBlock(hash string) bool

	// AcceptTransaction offers a gossiped transaction to the node's
	// mempool.
	AcceptTransaction(tx chain.Transaction) error

	// SeenTransaction reports whether tx_id is already known, pending or
	// confirmed.
	SeenTransaction(txID string) bool

	// ListenAddr is this node's own advertised address, sent in the
	// handshake.
	ListenAddr() string
}

// dialTimeout bounds how long Dial waits for the outbound websocket
// handshake to complete.
const dialTimeout = 10 * time.Second

// Hub owns every live peer connection and dispatches inbound messages
// against a NodeView.
type Hub struct {
	node NodeView
	evh  func(string, ...any)

	mu    sync.RWMutex
	peers map[string]*Peer
}

// NewHub constructs a hub bound to node. evHandler receives free-form
// progress lines the way the teacher's worker package reports its own
// state transitions.
func NewHub(node NodeView, evHandler func(string, ...any)) *Hub {
	return &Hub{
		node:  node,
		evh:   evHandler,
		peers: make(map[string]*Peer),
	}
}

// PeerCount returns the number of currently connected peers.
func (h *Hub) PeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Accept wraps an already-upgraded server-side connection as a peer and
// starts its pumps, sending the initial HANDSHAKE.
func (h *Hub) Accept(conn wireConn, host string) *Peer {
	p := h.addConn(conn, host)
	h.sendHandshake(p)
	return p
}

// Dial opens an outbound websocket connection to addr and registers it as
// a peer, sending the initial HANDSHAKE once connected.
func (h *Hub) Dial(addr string) (*Peer, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/gossip"}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dialing peer %s: %w", addr, err)
	}

	p := h.addConn(conn, addr)
	h.sendHandshake(p)
	return p, nil
}

func (h *Hub) addConn(conn wireConn, host string) *Peer {
	id := uuid.NewString()
	p := newPeer(id, host, conn, h)

	h.mu.Lock()
	h.peers[id] = p
	h.mu.Unlock()

	p.run()

	if h.evh != nil {
		h.evh("gossip: peer %s (%s) connected", id, host)
	}

	return p
}

func (h *Hub) remove(p *Peer) {
	h.mu.Lock()
	delete(h.peers, p.ID)
	h.mu.Unlock()

	if h.evh != nil {
		h.evh("gossip: peer %s (%s) disconnected", p.ID, p.Host)
	}
}

func (h *Hub) sendHandshake(p *Peer) {
	height, _ := h.node.ChainSnapshot()

	msg, err := newMessage(Handshake, HandshakePayload{
		ChainHeight: height,
		NodeInfo: NodeInfo{
			Version:    "1",
			ListenAddr: h.node.ListenAddr(),
		},
	})
	if err != nil {
		return
	}
	p.send(msg)
}

// Broadcast sends msg to every connected peer.
func (h *Hub) Broadcast(msg Message) {
	h.broadcast(msg, nil)
}

// BroadcastExcept sends msg to every connected peer other than sender, used
// to re-gossip a message received from a peer without echoing it straight
// back to that same peer.
func (h *Hub) BroadcastExcept(msg Message, sender *Peer) {
	h.broadcast(msg, sender)
}

func (h *Hub) broadcast(msg Message, except *Peer) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, p := range h.peers {
		if except != nil && id == except.ID {
			continue
		}
		p.send(msg)
	}
}

// GossipTransaction announces a newly admitted transaction to every peer.
func (h *Hub) GossipTransaction(tx chain.Transaction) {
	msg, err := newMessage(NewTransaction, tx)
	if err != nil {
		return
	}
	h.Broadcast(msg)
}

// GossipBlock announces a newly appended block to every peer.
func (h *Hub) GossipBlock(block chain.Block) {
	msg, err := newMessage(NewBlock, block)
	if err != nil {
		return
	}
	h.Broadcast(msg)
}

// handle dispatches one inbound message from from according to its type.
func (h *Hub) handle(from *Peer, msg Message) {
	switch msg.Type {
	case Handshake:
		h.handleHandshake(from, msg)

	case RequestChain:
		h.handleRequestChain(from)

	case ReceiveChain:
		h.handleReceiveChain(from, msg)

	case RequestLatest:
		h.handleRequestLatest(from)

	case ReceiveLatest:
		h.handleIncomingBlock(from, msg)

	case NewTransaction:
		h.handleNewTransaction(from, msg)

	case NewBlock:
		h.handleIncomingBlock(from, msg)

	case Ping:
		h.handlePing(from)

	case Pong:
		from.markPong()

	default:
		if h.evh != nil {
			h.evh("gossip: peer %s sent unknown message type %q", from.ID, msg.Type)
		}
	}
}

func (h *Hub) handleHandshake(from *Peer, msg Message) {
	var payload HandshakePayload
	if err := decodeInto(msg, &payload); err != nil {
		return
	}

	from.setKnownHeight(payload.ChainHeight)

	height, _ := h.node.ChainSnapshot()
	if payload.ChainHeight > height {
		req, err := newMessage(RequestChain, nil)
		if err == nil {
			from.send(req)
		}
	}
}

func (h *Hub) handleRequestChain(from *Peer) {
	msg, err := newMessage(ReceiveChain, h.node.Blocks())
	if err != nil {
		return
	}
	from.send(msg)
}

func (h *Hub) handleReceiveChain(from *Peer, msg Message) {
	var blocks []chain.Block
	if err := decodeInto(msg, &blocks); err != nil {
		return
	}

	replaced, err := h.node.ReplaceChain(blocks)
	if err != nil {
		if h.evh != nil {
			h.evh("gossip: rejecting chain from peer %s: %s", from.ID, err)
		}
		return
	}
	if replaced && h.evh != nil {
		h.evh("gossip: adopted longer chain (%d blocks) from peer %s", len(blocks), from.ID)
	}
}

func (h *Hub) handleRequestLatest(from *Peer) {
	blocks := h.node.Blocks()
	if len(blocks) == 0 {
		return
	}

	msg, err := newMessage(ReceiveLatest, blocks[len(blocks)-1])
	if err != nil {
		return
	}
	from.send(msg)
}

// handleIncomingBlock is the shared path for RECEIVE_LATEST and NEW_BLOCK:
// both deliver a single candidate block that the node should append if it
// extends the tip, falling back to a full REQUEST_CHAIN to everyone when it
// does not, since a gap this size means the local chain is behind by more
// than one block or forked, not just missing the one block from.
func (h *Hub) handleIncomingBlock(from *Peer, msg Message) {
	var block chain.Block
	if err := decodeInto(msg, &block); err != nil {
		return
	}

	if h.node.SeenBlock(block.Hash) {
		return
	}

	if err := h.node.AppendIfNext(block); err != nil {
		req, reqErr := newMessage(RequestChain, nil)
		if reqErr == nil {
			h.Broadcast(req)
		}
		return
	}

	out, err := newMessage(NewBlock, block)
	if err != nil {
		return
	}
	h.BroadcastExcept(out, from)
}

func (h *Hub) handleNewTransaction(from *Peer, msg Message) {
	var tx chain.Transaction
	if err := decodeInto(msg, &tx); err != nil {
		return
	}

	if h.node.SeenTransaction(tx.TxID) {
		return
	}

	if err := h.node.AcceptTransaction(tx); err != nil {
		return
	}

	out, err := newMessage(NewTransaction, tx)
	if err != nil {
		return
	}
	h.BroadcastExcept(out, from)
}

func (h *Hub) handlePing(from *Peer) {
	msg, err := newMessage(Pong, HeartbeatPayload{Timestamp: nowMs()})
	if err != nil {
		return
	}
	from.send(msg)
}

// Synchronize asks the peer that reports the highest chain height for a
// full copy of its chain, used once on startup to catch up with whatever
// the network already has. It does nothing if no peer is connected.
func (h *Hub) Synchronize() {
	h.mu.RLock()
	var best *Peer
	var bestHeight uint64
	for _, p := range h.peers {
		if best == nil || p.getKnownHeight() > bestHeight {
			best = p
			bestHeight = p.getKnownHeight()
		}
	}
	h.mu.RUnlock()

	if best == nil {
		return
	}

	msg, err := newMessage(RequestChain, nil)
	if err != nil {
		return
	}
	best.send(msg)
}

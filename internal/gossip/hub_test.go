package gossip

import (
	"errors"
	"testing"

	"github.com/cosmochain/cosmochain/internal/chain"
	"github.com/cosmochain/cosmochain/internal/crypto"
)

// fakeNode is a scripted NodeView double for exercising Hub.handle without
// a real chain or mempool.
type fakeNode struct {
	height uint64
	tip    string
	blocks []chain.Block

	replaceResult bool
	replaceErr    error
	appendErr     error

	seenBlocks map[string]bool
	seenTxs    map[string]bool
	acceptErr  error

	listenAddr string

	replaceCalls int
	appendCalls  int
	acceptCalls  int
}

func (f *fakeNode) ChainSnapshot() (uint64, string) { return f.height, f.tip }
func (f *fakeNode) Blocks() []chain.Block            { return f.blocks }

func (f *fakeNode) ReplaceChain(blocks []chain.Block) (bool, error) {
	f.replaceCalls++
	return f.replaceResult, f.replaceErr
}

func (f *fakeNode) AppendIfNext(block chain.Block) error {
	f.appendCalls++
	return f.appendErr
}

func (f *fakeNode) SeenBlock(hash string) bool { return f.seenBlocks[hash] }

func (f *fakeNode) AcceptTransaction(tx chain.Transaction) error {
	f.acceptCalls++
	return f.acceptErr
}

func (f *fakeNode) SeenTransaction(txID string) bool { return f.seenTxs[txID] }

func (f *fakeNode) ListenAddr() string { return f.listenAddr }

func newTestPeer(node NodeView) (*Peer, *fakeConn, *Hub) {
	hub := NewHub(node, nil)
	conn := newFakeConn()
	p := hub.addConn(conn, "10.0.0.1:6001")
	return p, conn, hub
}

func TestHandleHandshakeRequestsChainWhenPeerIsAhead(t *testing.T) {
	node := &fakeNode{height: 1}
	p, _, hub := newTestPeer(node)

	msg, err := newMessage(Handshake, HandshakePayload{ChainHeight: 5})
	if err != nil {
		t.Fatalf("newMessage: %s", err)
	}

	hub.handle(p, msg)

	if p.getKnownHeight() != 5 {
		t.Fatalf("known height %d, want 5", p.getKnownHeight())
	}
	select {
	case sent := <-p.outbox:
		if sent.Type != RequestChain {
			t.Fatalf("queued message type %s, want %s", sent.Type, RequestChain)
		}
	default:
		t.Fatal("handshake from an ahead peer should have queued a REQUEST_CHAIN")
	}
}

func TestHandleRequestChainRepliesWithBlocks(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generating key: %s", err)
	}
	genesis, err := chain.NewGenesisBlock(crypto.Address(key.PublicKey), 50, 1000)
	if err != nil {
		t.Fatalf("NewGenesisBlock: %s", err)
	}
	node := &fakeNode{blocks: []chain.Block{genesis}}
	p, _, hub := newTestPeer(node)

	msg, err := newMessage(RequestChain, nil)
	if err != nil {
		t.Fatalf("newMessage: %s", err)
	}
	hub.handle(p, msg)

	select {
	case sent := <-p.outbox:
		if sent.Type != ReceiveChain {
			t.Fatalf("queued message type %s, want %s", sent.Type, ReceiveChain)
		}
	default:
		t.Fatal("REQUEST_CHAIN should have queued a RECEIVE_CHAIN reply")
	}
}

func TestHandleIncomingBlockFallsBackToRequestChainOnGap(t *testing.T) {
	node := &fakeNode{appendErr: errors.New("block does not extend the current tip"), seenBlocks: map[string]bool{}}
	p, _, hub := newTestPeer(node)

	block := chain.Block{Hash: "deadbeef"}
	msg, err := newMessage(NewBlock, block)
	if err != nil {
		t.Fatalf("newMessage: %s", err)
	}

	hub.handle(p, msg)

	if node.appendCalls != 1 {
		t.Fatalf("AppendIfNext called %d times, want 1", node.appendCalls)
	}
	select {
	case sent := <-p.outbox:
		if sent.Type != RequestChain {
			t.Fatalf("queued message type %s, want %s", sent.Type, RequestChain)
		}
	default:
		t.Fatal("a rejected block should have queued a REQUEST_CHAIN")
	}
}

func TestHandleIncomingBlockFallsBackToRequestChainBroadcastToAllPeers(t *testing.T) {
	node := &fakeNode{appendErr: errors.New("block does not extend the current tip"), seenBlocks: map[string]bool{}}
	sender, _, hub := newTestPeer(node)
	other, _, _ := newTestPeer(node)
	hub.mu.Lock()
	hub.peers[other.ID] = other
	hub.mu.Unlock()

	block := chain.Block{Hash: "deadbeef"}
	msg, err := newMessage(NewBlock, block)
	if err != nil {
		t.Fatalf("newMessage: %s", err)
	}

	hub.handle(sender, msg)

	select {
	case sent := <-sender.outbox:
		if sent.Type != RequestChain {
			t.Fatalf("sender queued message type %s, want %s", sent.Type, RequestChain)
		}
	default:
		t.Fatal("a rejected block should have queued a REQUEST_CHAIN for the sender too")
	}
	select {
	case sent := <-other.outbox:
		if sent.Type != RequestChain {
			t.Fatalf("other peer queued message type %s, want %s", sent.Type, RequestChain)
		}
	default:
		t.Fatal("a rejected block should have broadcast REQUEST_CHAIN to every connected peer, not just the sender")
	}
}

func TestHandleIncomingBlockSkipsAlreadySeenBlocks(t *testing.T) {
	node := &fakeNode{seenBlocks: map[string]bool{"deadbeef": true}}
	p, _, hub := newTestPeer(node)

	msg, err := newMessage(NewBlock, chain.Block{Hash: "deadbeef"})
	if err != nil {
		t.Fatalf("newMessage: %s", err)
	}

	hub.handle(p, msg)

	if node.appendCalls != 0 {
		t.Fatalf("AppendIfNext called %d times for an already-seen block, want 0", node.appendCalls)
	}
}

func TestHandleIncomingBlockRegossipsExceptToSender(t *testing.T) {
	first := &fakeNode{seenBlocks: map[string]bool{}}
	pFirst, _, hubFirst := newTestPeer(first)
	second := &fakeNode{seenBlocks: map[string]bool{}}
	pSecond, _, _ := newTestPeer(second)
	hubFirst.mu.Lock()
	hubFirst.peers[pSecond.ID] = pSecond
	hubFirst.mu.Unlock()

	msg, err := newMessage(NewBlock, chain.Block{Hash: "deadbeef"})
	if err != nil {
		t.Fatalf("newMessage: %s", err)
	}

	hubFirst.handle(pFirst, msg)

	if first.appendCalls != 1 {
		t.Fatalf("AppendIfNext called %d times, want 1", first.appendCalls)
	}

	sawRegossip := false
	for i := 0; i < len(pSecond.outbox); i++ {
		if (<-pSecond.outbox).Type == NewBlock {
			sawRegossip = true
		}
	}
	if !sawRegossip {
		t.Fatal("an appended block should have been re-gossiped to other peers")
	}

	for i := 0; i < len(pFirst.outbox); i++ {
		if (<-pFirst.outbox).Type == NewBlock {
			t.Fatal("an appended block should not have been echoed back to its sender")
		}
	}
}

func TestHandleNewTransactionRegossipsOnAccept(t *testing.T) {
	first := &fakeNode{seenTxs: map[string]bool{}}
	pFirst, _, hubFirst := newTestPeer(first)
	second := &fakeNode{seenTxs: map[string]bool{}}
	pSecond, _, _ := newTestPeer(second)
	hubFirst.mu.Lock()
	hubFirst.peers[pSecond.ID] = pSecond
	hubFirst.mu.Unlock()

	msg, err := newMessage(NewTransaction, chain.Transaction{TxID: "tx-1"})
	if err != nil {
		t.Fatalf("newMessage: %s", err)
	}

	hubFirst.handle(pFirst, msg)

	if first.acceptCalls != 1 {
		t.Fatalf("AcceptTransaction called %d times, want 1", first.acceptCalls)
	}

	sawRegossip := false
	for i := 0; i < len(pSecond.outbox); i++ {
		if (<-pSecond.outbox).Type == NewTransaction {
			sawRegossip = true
		}
	}
	if !sawRegossip {
		t.Fatal("accepted transaction should have been re-gossiped to other peers")
	}

	for i := 0; i < len(pFirst.outbox); i++ {
		if (<-pFirst.outbox).Type == NewTransaction {
			t.Fatal("accepted transaction should not have been echoed back to its sender")
		}
	}
}

func TestSynchronizeRequestsChainFromHighestPeer(t *testing.T) {
	node := &fakeNode{}
	low, _, hub := newTestPeer(node)
	low.setKnownHeight(3)

	highConn := newFakeConn()
	high := hub.addConn(highConn, "10.0.0.2:6001")
	high.setKnownHeight(9)

	hub.Synchronize()

	select {
	case sent := <-high.outbox:
		if sent.Type != RequestChain {
			t.Fatalf("queued message type %s, want %s", sent.Type, RequestChain)
		}
	default:
		t.Fatal("Synchronize should have sent a REQUEST_CHAIN to the highest-height peer")
	}

	select {
	case sent := <-low.outbox:
		t.Fatalf("lower-height peer should not have received anything, got %s", sent.Type)
	default:
	}
}

func TestSynchronizeDoesNothingWithoutPeers(t *testing.T) {
	node := &fakeNode{}
	hub := NewHub(node, nil)

	hub.Synchronize()
}

func TestHandlePingRepliesWithPong(t *testing.T) {
	node := &fakeNode{}
	p, _, hub := newTestPeer(node)

	msg, err := newMessage(Ping, HeartbeatPayload{Timestamp: 1})
	if err != nil {
		t.Fatalf("newMessage: %s", err)
	}
	hub.handle(p, msg)

	select {
	case sent := <-p.outbox:
		if sent.Type != Pong {
			t.Fatalf("queued message type %s, want %s", sent.Type, Pong)
		}
	default:
		t.Fatal("PING should have queued a PONG reply")
	}
}

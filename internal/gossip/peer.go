package gossip

import (
	"encoding/json"
	"sync"
	"time"
)

// pingInterval is how often a connected peer is sent a liveness PING.
const pingInterval = 30 * time.Second

// pongTimeout is how long a peer may go without a PONG before it is
// disconnected.
const pongTimeout = 60 * time.Second

// outboxSize bounds how many queued messages a slow peer can accumulate
// before sends to it start being dropped rather than blocking the hub.
const outboxSize = 64

// wireConn is the subset of *gorilla/websocket.Conn this package depends
// on, so tests can exercise Peer/Hub against a fake without a real socket.
// *websocket.Conn satisfies this interface as-is.
type wireConn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// textMessage mirrors gorilla/websocket.TextMessage without importing the
// package here, since wireConn only needs the numeric frame type.
const textMessage = 1

// Peer is one live duplex connection to another node.
type Peer struct {
	ID   string
	Host string

	conn wireConn
	hub  *Hub

	outbox chan Message
	done   chan struct{}

	mu          sync.Mutex
	knownHeight uint64
	lastPong    time.Time
	closed      bool
}

func newPeer(id, host string, conn wireConn, hub *Hub) *Peer {
	return &Peer{
		ID:       id,
		Host:     host,
		conn:     conn,
		hub:      hub,
		outbox:   make(chan Message, outboxSize),
		done:     make(chan struct{}),
		lastPong: time.Now(),
	}
}

// run starts the peer's read pump, write pump, and heartbeat goroutines.
func (p *Peer) run() {
	go p.readPump()
	go p.writePump()
	go p.heartbeat()
}

// send enqueues msg for delivery. It never blocks: a peer that is not
// draining its outbox fast enough silently loses the message, the same
// trade-off the teacher's event fan-out makes.
func (p *Peer) send(msg Message) {
	select {
	case p.outbox <- msg:
	default:
	}
}

func (p *Peer) readPump() {
	defer p.close()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		p.hub.handle(p, msg)
	}
}

func (p *Peer) writePump() {
	for {
		select {
		case <-p.done:
			return
		case msg := <-p.outbox:
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := p.conn.WriteMessage(textMessage, data); err != nil {
				p.close()
				return
			}
		}
	}
}

func (p *Peer) heartbeat() {
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	checkTicker := time.NewTicker(pingInterval)
	defer checkTicker.Stop()

	for {
		select {
		case <-p.done:
			return

		case <-pingTicker.C:
			msg, err := newMessage(Ping, HeartbeatPayload{Timestamp: nowMs()})
			if err == nil {
				p.send(msg)
			}

		case <-checkTicker.C:
			p.mu.Lock()
			stale := time.Since(p.lastPong) > pongTimeout
			p.mu.Unlock()
			if stale {
				p.close()
				return
			}
		}
	}
}

func (p *Peer) markPong() {
	p.mu.Lock()
	p.lastPong = time.Now()
	p.mu.Unlock()
}

func (p *Peer) setKnownHeight(height uint64) {
	p.mu.Lock()
	p.knownHeight = height
	p.mu.Unlock()
}

func (p *Peer) getKnownHeight() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.knownHeight
}

func (p *Peer) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.done)
	p.conn.Close()
	p.hub.remove(p)
}

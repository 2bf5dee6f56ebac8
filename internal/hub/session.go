package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const sendBuffer = 64

// Subscription groups the live feed connections of one user.
type Subscription struct {
	UserID     string
	mu         sync.RWMutex
	conns      map[*Connection]struct{}
	lastActive atomic.Value // stores time.Time
}

func newSubscription(userID string, now time.Time) *Subscription {
	s := &Subscription{UserID: userID, conns: make(map[*Connection]struct{})}
	s.lastActive.Store(now)
	return s
}

// Connection represents a single balance feed WebSocket.
type Connection struct {
	WS           *websocket.Conn
	UserID       string
	Limiter      *rate.Limiter
	MessagesSent atomic.Int64
	Dropped      atomic.Int64
	Send         chan []byte
	Done         chan struct{}
	closeOnce    sync.Once
}

// NewConnection creates a new Connection with a send channel.
func NewConnection(ws *websocket.Conn, userID string, limiter *rate.Limiter) *Connection {
	return &Connection{
		WS:      ws,
		UserID:  userID,
		Limiter: limiter,
		Send:    make(chan []byte, sendBuffer),
		Done:    make(chan struct{}),
	}
}

// CloseDone safely closes the Done channel exactly once.
func (c *Connection) CloseDone() {
	c.closeOnce.Do(func() {
		close(c.Done)
	})
}

// Enqueue hands data to the write pump without blocking. A full buffer drops
// the message.
func (c *Connection) Enqueue(data []byte) bool {
	select {
	case <-c.Done:
		return false
	default:
	}
	select {
	case c.Send <- data:
		c.MessagesSent.Add(1)
		return true
	default:
		c.Dropped.Add(1)
		return false
	}
}

func (s *Subscription) add(c *Connection, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c] = struct{}{}
	s.lastActive.Store(now)
}

func (s *Subscription) remove(c *Connection, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[c]; !ok {
		return false
	}
	delete(s.conns, c)
	s.lastActive.Store(now)
	return true
}

// Connections returns a snapshot of the live connections.
func (s *Subscription) Connections() []*Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Connection, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Subscription) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// IsIdle returns true if the subscription has no connections and has been idle
// for longer than timeout.
func (s *Subscription) IsIdle(now time.Time, timeout time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.conns) > 0 {
		return false
	}
	lastActive, ok := s.lastActive.Load().(time.Time)
	if !ok {
		return true
	}
	return now.Sub(lastActive) > timeout
}

package wsmirror

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// subscriber wraps one public websocket connection with a buffered send
// queue, mirroring the teacher's pkg/ws Client write-pump shape.
type subscriber struct {
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

func newSubscriber(conn *websocket.Conn) *subscriber {
	return &subscriber{conn: conn, send: make(chan []byte, 64)}
}

func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() { close(s.send) })
}

// room is the set of subscribers bound to one instance hash — adapted
// from the teacher's pkg/ws Room, without the worker-pool broadcast since
// per-instance fanout here is expected to be small (dashboards, not a
// public chat product).
type room struct {
	hash    string
	mu      sync.Mutex
	members map[*subscriber]bool
}

func newRoom(hash string) *room {
	return &room{hash: hash, members: make(map[*subscriber]bool)}
}

func (r *room) join(s *subscriber) {
	r.mu.Lock()
	r.members[s] = true
	r.mu.Unlock()
}

func (r *room) leave(s *subscriber) {
	r.mu.Lock()
	delete(r.members, s)
	r.mu.Unlock()
}

func (r *room) broadcast(payload []byte) {
	r.mu.Lock()
	members := make([]*subscriber, 0, len(r.members))
	for s := range r.members {
		members = append(members, s)
	}
	r.mu.Unlock()

	for _, s := range members {
		select {
		case s.send <- payload:
		default:
			// slow subscriber, drop the frame rather than block the mirror
		}
	}
}

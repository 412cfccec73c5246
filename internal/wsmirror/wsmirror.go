// Package wsmirror implements the Worker-WebSocket Mirror — spec.md
// §4.8 (the outbound leg, dialing into the worker's own websocket) and
// SPEC_FULL.md §4.11 (the inbound leg, fanning frames out to public
// subscribers). Adapted from the teacher's pkg/ws client/room-manager
// pair, simplified for this gateway's much smaller per-instance fanout.
package wsmirror

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shridarpatil/wagateway/internal/supervisor"
)

const (
	connectDelay  = 5 * time.Second
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	maxFrameBytes = 1 << 20
)

// envelope is the shape re-broadcast to subscribers — spec.md §4.8.
type envelope struct {
	Type       string    `json:"type"`
	PhoneNumber string   `json:"phoneNumber"`
	Port       int       `json:"port,omitempty"`
	Message    any       `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Mirror owns the outbound connections into worker processes and the
// inbound subscriber rooms, keyed by instance hash.
type Mirror struct {
	log    *zap.Logger
	basicUser, basicPass string

	mu      sync.Mutex
	workers map[string]*workerConn // instance hash -> outbound connection
	rooms   map[string]*room       // instance hash -> subscriber room
}

// New constructs a Mirror. It implements supervisor.EventSink.
func New(basicUser, basicPass string, log *zap.Logger) *Mirror {
	return &Mirror{
		log:       log,
		basicUser: basicUser,
		basicPass: basicPass,
		workers:   make(map[string]*workerConn),
		rooms:     make(map[string]*room),
	}
}

var _ supervisor.EventSink = (*Mirror)(nil)

// WorkerStarted dials into the newly spawned worker's own websocket after
// a fixed settle delay — spec.md §4.8.
func (m *Mirror) WorkerStarted(hash string, port int) {
	wc := &workerConn{hash: hash, port: port, mirror: m, stop: make(chan struct{})}
	m.mu.Lock()
	m.workers[hash] = wc
	m.mu.Unlock()

	go func() {
		time.Sleep(connectDelay)
		wc.run()
	}()
}

// WorkerStopped tears down the outbound connection for hash, if any.
func (m *Mirror) WorkerStopped(hash string) {
	m.mu.Lock()
	wc, ok := m.workers[hash]
	delete(m.workers, hash)
	m.mu.Unlock()
	if ok {
		wc.close()
	}
}

// ProcessDied tears down the outbound connection like WorkerStopped, but
// also tells subscribers the process went away unexpectedly — spec.md
// §4.3: a health-check-detected death emits a process-stopped event to
// subscribed gateway clients filtered by instance.
func (m *Mirror) ProcessDied(hash string) {
	m.broadcast(hash, envelope{Type: "process-stopped", PhoneNumber: hash, Timestamp: time.Now()})
	m.WorkerStopped(hash)
}

func (m *Mirror) broadcast(hash string, env envelope) {
	m.mu.Lock()
	r, ok := m.rooms[hash]
	m.mu.Unlock()
	if !ok {
		return
	}
	payload, err := json.Marshal(env)
	if err != nil {
		m.log.Error("wsmirror: failed to marshal envelope", zap.Error(err))
		return
	}
	r.broadcast(payload)
}

func (m *Mirror) roomFor(hash string) *room {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[hash]
	if !ok {
		r = newRoom(hash)
		m.rooms[hash] = r
	}
	return r
}

// upgrader is shared across subscriber connections; origin checking is
// left to the caller's reverse proxy / auth middleware.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// subscribeRequest is the first frame a subscriber must send — SPEC_FULL.md
// §4.11.
type subscribeRequest struct {
	Subscribe string `json:"subscribe"`
}

// ServeSubscriber upgrades r into a websocket and joins the subscriber to
// the room named by its first {"subscribe": "<hash>"} frame.
func (m *Mirror) ServeSubscriber(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	sub := newSubscriber(conn)
	go sub.writePump()

	conn.SetReadLimit(maxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	var joined *room
	defer func() {
		if joined != nil {
			joined.leave(sub)
		}
		sub.close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		var req subscribeRequest
		if err := json.Unmarshal(data, &req); err != nil || req.Subscribe == "" {
			continue
		}
		if joined != nil {
			joined.leave(sub)
		}
		joined = m.roomFor(req.Subscribe)
		joined.join(sub)
	}
}

// workerConn is the outbound leg dialed into a worker process's own
// websocket endpoint — spec.md §4.8. No auto-reconnect: a closed
// connection stays closed until the next WorkerStarted event.
type workerConn struct {
	hash   string
	port   int
	mirror *Mirror
	conn   *websocket.Conn
	stop   chan struct{}
	once   sync.Once
}

func (wc *workerConn) run() {
	url := "ws://localhost:" + strconv.Itoa(wc.port) + "/ws"
	header := http.Header{}
	auth := wc.mirror.basicUser + ":" + wc.mirror.basicPass
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(auth)))

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		wc.mirror.log.Warn("wsmirror: failed to dial worker websocket",
			zap.String("hash", wc.hash), zap.Int("port", wc.port), zap.Error(err))
		return
	}
	wc.conn = conn

	wc.mirror.broadcast(wc.hash, envelope{
		Type: "container-websocket-connected", PhoneNumber: wc.hash, Port: wc.port, Timestamp: time.Now(),
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			wc.mirror.broadcast(wc.hash, envelope{
				Type: "container-websocket-closed", PhoneNumber: wc.hash, Port: wc.port, Timestamp: time.Now(),
			})
			return
		}

		var frame any
		if err := json.Unmarshal(data, &frame); err != nil {
			frame = string(data)
		}
		wc.mirror.broadcast(wc.hash, envelope{
			Type:        "whatsapp-websocket-message",
			PhoneNumber: wc.hash,
			Port:        wc.port,
			Message:     frame,
			Timestamp:   time.Now(),
		})
	}
}

func (wc *workerConn) close() {
	wc.once.Do(func() {
		close(wc.stop)
		if wc.conn != nil {
			wc.conn.Close()
		}
	})
}

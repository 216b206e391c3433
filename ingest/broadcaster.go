package ingest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// upgrader accepts any origin: the dashboard and the API share an origin in
// every deployment this service targets, matching the source's permissive
// CORS posture for the WebSocket route.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// connection is one subscriber: its socket plus the set of log sources it
// wants lines from. "all" subscribes to every source.
type connection struct {
	ws            *websocket.Conn
	mu            sync.Mutex // guards writes; gorilla connections are not write-concurrent-safe
	subscriptions map[string]bool
}

func (c *connection) isSubscribed(source string) bool {
	return c.subscriptions["all"] || c.subscriptions[source]
}

// Broadcaster fans out tailed lines to WebSocket subscribers, grounded on
// raw_log_broadcaster.py's RawLogBroadcaster. Go's goroutines and channels
// replace the source's manual asyncio-loop-handoff machinery: there is no
// separate event loop to schedule onto.
type Broadcaster struct {
	mu          sync.RWMutex
	connections map[string]*connection
	nextID      int
	log         zerolog.Logger
}

func NewBroadcaster(log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		connections: make(map[string]*connection),
		log:         log.With().Str("component", "ingest.broadcaster").Logger(),
	}
}

// ServeWS upgrades the request to a WebSocket, registers the connection, and
// blocks reading subscribe/unsubscribe control messages until the client
// disconnects or ctx-equivalent handler context ends.
func (b *Broadcaster) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	id, conn := b.addConnection(ws)
	defer b.removeConnection(id)

	for {
		var msg struct {
			Action string `json:"action"`
			Source string `json:"log_source"`
		}
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Action {
		case "subscribe":
			b.mu.Lock()
			conn.subscriptions[msg.Source] = true
			b.mu.Unlock()
		case "unsubscribe":
			b.mu.Lock()
			delete(conn.subscriptions, msg.Source)
			b.mu.Unlock()
		}
	}
}

func (b *Broadcaster) addConnection(ws *websocket.Conn) (string, *connection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := "conn_" + strconv.Itoa(b.nextID)
	conn := &connection{ws: ws, subscriptions: make(map[string]bool)}
	b.connections[id] = conn
	b.log.Info().Str("connection_id", id).Int("total", len(b.connections)).Msg("websocket connection added")
	return id, conn
}

func (b *Broadcaster) removeConnection(id string) {
	b.mu.Lock()
	conn, ok := b.connections[id]
	delete(b.connections, id)
	total := len(b.connections)
	b.mu.Unlock()
	if ok {
		conn.ws.Close()
	}
	b.log.Info().Str("connection_id", id).Int("total", total).Msg("websocket connection removed")
}

// Broadcast sends one raw line to every connection subscribed to source (or
// to "all"). A send error removes the connection, mirroring the source's
// disconnected-cleanup pass.
func (b *Broadcaster) Broadcast(source, rawLine string) {
	trimmed := strings.TrimSpace(rawLine)
	if trimmed == "" {
		return
	}

	payload, err := json.Marshal(CachedLine{
		Type:      "raw_log",
		LogSource: source,
		RawLine:   trimmed,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		b.log.Error().Err(err).Msg("marshal broadcast message")
		return
	}

	b.mu.RLock()
	targets := make([]string, 0, len(b.connections))
	for id, conn := range b.connections {
		if conn.isSubscribed(source) {
			targets = append(targets, id)
		}
	}
	b.mu.RUnlock()

	for _, id := range targets {
		b.mu.RLock()
		conn, ok := b.connections[id]
		b.mu.RUnlock()
		if !ok {
			continue
		}
		conn.mu.Lock()
		err := conn.ws.WriteMessage(websocket.TextMessage, payload)
		conn.mu.Unlock()
		if err != nil {
			b.log.Warn().Err(err).Str("connection_id", id).Msg("send failed, dropping connection")
			b.removeConnection(id)
		}
	}
}

// ConnectionCount reports the number of active subscribers.
func (b *Broadcaster) ConnectionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.connections)
}

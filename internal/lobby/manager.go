// internal/lobby/manager.go

package lobby

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tourney/internal/ledger"
	"github.com/sirupsen/logrus"
)

// OutBuffer is the per-connection queue size. Messages to a full queue are dropped.
const OutBuffer = 16

// Manager tracks the live connections watching each tournament lobby and
// fans ledger transitions out to them.
type Manager struct {
	mu    sync.Mutex
	rooms map[ledger.LobbyID]*Room
	log   logrus.FieldLogger
}

// Room is the set of connections watching one lobby.
type Room struct {
	LobbyID     ledger.LobbyID
	Connections map[uuid.UUID]*Connection
}

// Connection wraps a single client's stream for a lobby.
type Connection struct {
	ID        uuid.UUID
	SessionID string
	Cancel    context.CancelFunc // used to kill the read loop if needed
	OutChan   chan map[string]interface{}
}

// NewManager creates and returns a new Manager.
func NewManager(logger logrus.FieldLogger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		rooms: make(map[ledger.LobbyID]*Room),
		log:   logger.WithField("component", "lobby_manager"),
	}
}

// Join registers a new connection for sessionID on lobby id.
func (m *Manager) Join(id ledger.LobbyID, sessionID string, cancel context.CancelFunc) *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[id]
	if !ok {
		room = &Room{LobbyID: id, Connections: make(map[uuid.UUID]*Connection)}
		m.rooms[id] = room
	}
	conn := &Connection{
		ID:        uuid.New(),
		SessionID: sessionID,
		Cancel:    cancel,
		OutChan:   make(chan map[string]interface{}, OutBuffer),
	}
	room.Connections[conn.ID] = conn
	return conn
}

// Leave removes a connection, dropping the room once it is empty.
func (m *Manager) Leave(id ledger.LobbyID, conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[id]
	if !ok {
		return
	}
	delete(room.Connections, conn.ID)
	if len(room.Connections) == 0 {
		delete(m.rooms, id)
	}
}

// Watchers returns how many connections watch id.
func (m *Manager) Watchers(id ledger.LobbyID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok := m.rooms[id]; ok {
		return len(room.Connections)
	}
	return 0
}

// Broadcast sends msg to every connection watching id.
func (m *Manager) Broadcast(id ledger.LobbyID, msg map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[id]
	if !ok {
		return
	}
	for _, conn := range room.Connections {
		select {
		case conn.OutChan <- msg:
		default:
			m.log.WithFields(logrus.Fields{"lobby": id.String(), "conn": conn.ID}).Warn("dropping message for slow client")
		}
	}
}

// GameStarted tells watchers the ledger recorded the start.
func (m *Manager) GameStarted(_ context.Context, l *ledger.Lobby) {
	m.Broadcast(l.ID, map[string]interface{}{
		"type":  "game_started",
		"lobby": l,
		"ts":    time.Now().Unix(),
	})
}

// WinnerDeclared tells watchers the result is final on the ledger.
func (m *Manager) WinnerDeclared(_ context.Context, l *ledger.Lobby) {
	m.Broadcast(l.ID, map[string]interface{}{
		"type":   "winner_declared",
		"winner": l.Winner.Hex(),
		"lobby":  l,
		"ts":     time.Now().Unix(),
	})
}

// LobbyCancelled tells watchers the lobby is gone and closes their streams.
func (m *Manager) LobbyCancelled(_ context.Context, id ledger.LobbyID) {
	m.Broadcast(id, map[string]interface{}{
		"type":  "lobby_cancelled",
		"lobby": id.String(),
		"ts":    time.Now().Unix(),
	})
	m.mu.Lock()
	var conns []*Connection
	if room, ok := m.rooms[id]; ok {
		for _, c := range room.Connections {
			conns = append(conns, c)
		}
	}
	m.mu.Unlock()
	for _, c := range conns {
		if c.Cancel != nil {
			c.Cancel()
		}
	}
}

package chat

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/pelusa-v/duochat/internal/metrics"
)

// Manager is the set of live connections and fans events out to them. Each
// server owns its own Manager.
type Manager struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewManager(log *slog.Logger, m *metrics.Metrics) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		clients: map[string]*Client{},
		log:     log,
		metrics: m,
	}
}

func (m *Manager) Register(c *Client) {
	m.mu.Lock()
	m.clients[c.Id] = c
	m.mu.Unlock()
	m.metrics.Connections.Inc()
}

// Unregister removes c and closes its outbound queue. It reports false when
// c was not registered.
func (m *Manager) Unregister(c *Client) bool {
	m.mu.Lock()
	_, ok := m.clients[c.Id]
	if ok {
		delete(m.clients, c.Id)
		c.closeSend()
	}
	m.mu.Unlock()
	if ok {
		m.metrics.Connections.Dec()
	}
	return ok
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Broadcast encodes ev once and queues it for every client except exclude
// (nil means everyone). A full queue drops the frame for that client only.
func (m *Manager) Broadcast(ev any, exclude *Client) {
	data, err := json.Marshal(ev)
	if err != nil {
		m.log.Error("encode_event_failed", "error", err)
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.clients {
		if c == exclude {
			continue
		}
		m.enqueue(c, data)
	}
}

// Send queues ev for c alone.
func (m *Manager) Send(c *Client, ev any) {
	data, err := json.Marshal(ev)
	if err != nil {
		m.log.Error("encode_event_failed", "error", err)
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.clients[c.Id]; ok {
		m.enqueue(c, data)
	}
}

// enqueue must run under mu so a concurrent Unregister cannot close Send.
func (m *Manager) enqueue(c *Client, data []byte) {
	select {
	case c.Send <- data:
	default:
		m.metrics.SendDropped.Inc()
		m.log.Warn("send_buffer_full", "conn", c.Id)
	}
}

// CloseAll closes every connection; their read loops then unregister them.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	conns := make([]ConnLike, 0, len(m.clients))
	for _, c := range m.clients {
		conns = append(conns, c.Conn)
	}
	m.mu.RUnlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

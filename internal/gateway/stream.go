package gateway

import (
	"context"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/trackd/internal/bus"
	"github.com/basket/trackd/internal/entity"
)

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(ctx context.Context, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.conn, payload)
}

// auditStreamEvent is the wire shape pushed to audit stream subscribers.
type auditStreamEvent struct {
	Type   string             `json:"type"`
	Record entity.AuditRecord `json:"record"`
}

// handleAuditWS upgrades to a WebSocket and forwards every audit record
// published on the bus until the client disconnects. There is no replay:
// the stream starts at connect time, history lives in the audit log.
func (s *Server) handleAuditWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.cfg.Bus == nil {
		http.Error(w, "audit stream unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowOrigins,
	})
	if err != nil {
		return
	}

	c := &wsClient{conn: conn}
	s.addClient(c)
	s.logger.Info("audit stream client connected")
	defer func() {
		s.removeClient(c)
		s.logger.Info("audit stream client disconnecting")
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	sub := s.cfg.Bus.Subscribe(bus.TopicAuditRecorded)
	defer s.cfg.Bus.Unsubscribe(sub)

	// Reads are drained only to detect disconnect; the stream is one-way.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-readDone:
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			rec, ok := ev.Payload.(entity.AuditRecord)
			if !ok {
				continue
			}
			if err := c.write(r.Context(), auditStreamEvent{Type: "audit.recorded", Record: rec}); err != nil {
				s.logger.Error("audit stream write failed", "error", err)
				return
			}
		}
	}
}

func (s *Server) addClient(c *wsClient) {
	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.WSClients.Add(context.Background(), 1)
	}
}

func (s *Server) removeClient(c *wsClient) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.WSClients.Add(context.Background(), -1)
	}
}

func (s *Server) clientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

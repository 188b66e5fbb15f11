package service

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SyndicLabs/syndic/config"
	"github.com/SyndicLabs/syndic/models"
)

const (
	feedWriteWait      = 10 * time.Second
	feedPongWait       = 60 * time.Second
	feedPingPeriod     = (feedPongWait * 9) / 10
	feedMaxMessageSize = 512
	feedSendBufferSize = 64
)

// FeedHub fans publish announcements out to the peers subscribed on the
// websocket feed. A slow subscriber is dropped rather than allowed to block
// the announce path.
type FeedHub struct {
	logger *slog.Logger
	cfg    config.FeedConfig

	mu       sync.Mutex
	sessions map[*feedSession]struct{}
	closed   bool
}

type feedSession struct {
	hub  *FeedHub
	conn *websocket.Conn
	peer string
	send chan []byte
}

func NewFeedHub(logger *slog.Logger, cfg config.FeedConfig) *FeedHub {
	return &FeedHub{
		logger:   logger.WithGroup("feed"),
		cfg:      cfg,
		sessions: make(map[*feedSession]struct{}),
	}
}

// Attach takes ownership of an upgraded connection.
func (h *FeedHub) Attach(conn *websocket.Conn, peer string) {
	h.mu.Lock()
	if h.closed || len(h.sessions) >= h.cfg.MaxConnections {
		h.mu.Unlock()
		h.logger.Warn("feed connection rejected", "peer", peer)
		conn.WriteMessage(websocket.CloseMessage, []byte{})
		conn.Close()
		return
	}
	buffer := h.cfg.ChannelSize
	if buffer <= 0 {
		buffer = feedSendBufferSize
	}
	s := &feedSession{
		hub:  h,
		conn: conn,
		peer: peer,
		send: make(chan []byte, buffer),
	}
	h.sessions[s] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("feed subscriber attached", "peer", peer, "remote_addr", conn.RemoteAddr())
	go s.writePump()
	go s.readPump()
}

// Announce broadcasts one feed event to every attached subscriber.
func (h *FeedHub) Announce(fe models.FeedEvent) {
	data, err := json.Marshal(fe)
	if err != nil {
		h.logger.Error("could not marshal feed event", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.sessions {
		select {
		case s.send <- data:
		default:
			// Subscriber is not draining; detach it.
			h.logger.Warn("feed subscriber too slow, dropping", "peer", s.peer)
			delete(h.sessions, s)
			close(s.send)
		}
	}
}

func (h *FeedHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.sessions {
		close(s.send)
		delete(h.sessions, s)
	}
}

func (h *FeedHub) detach(s *feedSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s]; ok {
		delete(h.sessions, s)
		close(s.send)
	}
}

// readPump discards inbound frames; the feed is one-way. It exists to
// observe the close and keep pong handling alive.
func (s *feedSession) readPump() {
	defer func() {
		s.hub.detach(s)
		s.conn.Close()
	}()
	s.conn.SetReadLimit(feedMaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(feedPongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.hub.logger.Error("feed read error", "peer", s.peer, "error", err)
			}
			return
		}
	}
}

func (s *feedSession) writePump() {
	ticker := time.NewTicker(feedPingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.hub.logger.Error("feed write error", "peer", s.peer, "error", err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

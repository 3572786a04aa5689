package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/eventroll/rollcall/internal/member"
	"github.com/eventroll/rollcall/internal/view"
)

// MessageType defines the type of a WebSocket message
type MessageType string

const (
	// MessageTypeSnapshot carries the connection's current branch list
	MessageTypeSnapshot MessageType = "snapshot"

	// MessageTypeError reports a failed client request
	MessageTypeError MessageType = "error"

	// MessageTypeToggle is sent by clients to flip a member's status
	MessageTypeToggle MessageType = "toggle"

	// MessageTypeSelect is sent by clients to switch branch
	MessageTypeSelect MessageType = "select"
)

const writeTimeout = 5 * time.Second

// Message is the envelope of every WebSocket message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Request is the payload of client toggle and select messages
type Request struct {
	Code   string `json:"code,omitempty"`
	Branch string `json:"branch,omitempty"`
}

// client is one WebSocket connection and the view it owns.
type client struct {
	conn *websocket.Conn
	user member.User
	view *view.View

	// updates holds the newest unsent snapshot only
	updates chan view.Snapshot

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// offer replaces any unsent snapshot with snap.
func (c *client) offer(snap view.Snapshot) {
	for {
		select {
		case c.updates <- snap:
			return
		default:
		}
		select {
		case <-c.updates:
		default:
		}
	}
}

func (c *client) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.Close(code, reason)
	})
}

func (c *client) send(msgType MessageType, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(Message{Type: msgType, Timestamp: time.Now(), Data: data})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, msg)
}

func (c *client) sendError(err error) {
	_ = c.send(MessageTypeError, errorResponse{Error: err.Error()})
}

// handleWebSocket upgrades the connection and serves it until either side
// closes. The session token is taken from the token query parameter or the
// Authorization header; branch picks the initial branch.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, ok := s.config.Sessions.Lookup(bearerToken(r))
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("missing or expired session"))
		return
	}
	branch := r.URL.Query().Get("branch")
	if fixed, ok := user.FixedBranch(); ok && branch == "" {
		branch = fixed
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	c := &client{
		conn:    conn,
		user:    user,
		updates: make(chan view.Snapshot, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	cfg := view.DefaultConfig()
	cfg.Optimistic = s.config.Optimistic
	cfg.Logger = s.logger
	cfg.OnUpdate = c.offer
	c.view = view.New(s.config.Store, user, cfg)

	if !s.addClient(c) {
		_ = c.view.Close()
		c.close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	s.logger.Printf("Client %s connected (total: %d)", user.Name, s.ClientCount())

	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		s.writeLoop(c)
	}()
	defer func() {
		c.close(websocket.StatusNormalClosure, "")
		writer.Wait()
		_ = c.view.Close()
		s.removeClient(c)
	}()

	if branch == "" {
		c.offer(c.view.Snapshot())
	} else if err := c.view.SelectBranch(ctx, branch); err != nil {
		c.sendError(err)
	}

	s.readLoop(c)
}

// writeLoop sends snapshots until the connection is closed.
func (s *Server) writeLoop(c *client) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case snap := <-c.updates:
			if err := c.send(MessageTypeSnapshot, membersResponse(snap)); err != nil {
				if c.ctx.Err() == nil {
					s.logger.Printf("Failed to send to %s: %v", c.user.Name, err)
				}
				c.close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// readLoop handles client requests until the connection is closed.
func (s *Server) readLoop(c *client) {
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return
		}

		var msg Message
		var req Request
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError(errors.New("invalid message"))
			continue
		}
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				c.sendError(errors.New("invalid message data"))
				continue
			}
		}

		switch msg.Type {
		case MessageTypeToggle:
			err = c.view.ToggleAttendance(c.ctx, req.Code)
		case MessageTypeSelect:
			err = c.view.SelectBranch(c.ctx, req.Branch)
		default:
			err = errors.New("unknown message type " + string(msg.Type))
		}
		if err != nil && c.ctx.Err() == nil {
			c.sendError(err)
		}
	}
}

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/xhad/reimburse/internal/apperr"
	"github.com/xhad/reimburse/pkg/rag"
)

// Message is the websocket frame in both directions. Clients send
// {"type":"query"}; the server answers with "stream" chunks followed by
// "done", or a single "error".
type Message struct {
	Type    string   `json:"type"`
	Content string   `json:"content"`
	Filters *Filters `json:"filters,omitempty"`
}

type Filters struct {
	EmployeeName string `json:"employee_name,omitempty"`
	Date         string `json:"date,omitempty"`
	Status       string `json:"status,omitempty"`
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(s.config.AllowOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return slices.Contains(s.config.AllowOrigins, u.Scheme+"://"+u.Host)
		},
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("websocket read failed", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendMessage(conn, "error", "malformed message")
			continue
		}

		// one query at a time per connection; gorilla connections allow a
		// single concurrent writer
		s.handleMessage(ctx, conn, msg)
	}
}

func (s *Server) handleMessage(ctx context.Context, conn *websocket.Conn, msg Message) {
	if msg.Type != "query" {
		s.sendMessage(conn, "error", fmt.Sprintf("unsupported message type %q", msg.Type))
		return
	}

	q := rag.Query{Query: msg.Content}
	if msg.Filters != nil {
		q.EmployeeName = msg.Filters.EmployeeName
		q.Date = msg.Filters.Date
		q.Status = msg.Filters.Status
	}

	err := s.chatbot.AnswerStream(ctx, q, func(chunk string) error {
		return conn.WriteJSON(Message{Type: "stream", Content: chunk})
	})
	if err != nil {
		appErr := apperr.MapError(err)
		if appErr.Status >= http.StatusInternalServerError {
			s.log.Error("websocket query failed", "error", err)
		}
		s.sendMessage(conn, "error", appErr.Message)
		return
	}

	s.sendMessage(conn, "done", "")
}

func (s *Server) sendMessage(conn *websocket.Conn, msgType string, content string) {
	msg := Message{
		Type:    msgType,
		Content: content,
	}
	if err := conn.WriteJSON(msg); err != nil {
		s.log.Warn("failed to send websocket message", "error", err)
	}
}

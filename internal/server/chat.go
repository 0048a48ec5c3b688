package server

import (
	_ "embed"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ziadkadry99/fingraph/internal/pipeline"
)

//go:embed index.html
var indexHTML []byte

func serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// chatRequest is the incoming WebSocket message format.
type chatRequest struct {
	Type           string `json:"type"` // "message"
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// chatResponse is the outgoing WebSocket message format.
type chatResponse struct {
	Type           string  `json:"type"` // "response" or "error"
	ConversationID string  `json:"conversation_id"`
	Content        string  `json:"content"`
	Confidence     float64 `json:"confidence"`
	Category       string  `json:"query_category,omitempty"`
	GeneratedQuery string  `json:"generated_query,omitempty"`
	ProcessingMs   int64   `json:"processing_time_ms"`
	ErrorKind      string  `json:"error_kind,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// A connection without an explicit id gets its own conversation.
	connID := uuid.NewString()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		var req chatRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			s.sendError(conn, "", "invalid message format")
			continue
		}
		if req.ConversationID == "" {
			req.ConversationID = connID
		}
		if req.Type != "" && req.Type != "message" {
			s.sendError(conn, req.ConversationID, "unknown message type: "+req.Type)
			continue
		}
		if s.deps.Pipeline == nil {
			s.sendError(conn, req.ConversationID, "chat pipeline not configured")
			continue
		}

		preq := pipeline.Request{
			Question:       req.Content,
			ConversationID: req.ConversationID,
		}
		if err := pipeline.Validate(preq); err != nil {
			s.sendError(conn, req.ConversationID, err.Error())
			continue
		}

		resp := s.deps.Pipeline.Ask(r.Context(), preq)
		out := chatResponse{
			Type:           "response",
			ConversationID: resp.ConversationID,
			Content:        resp.AnswerText,
			Confidence:     resp.Confidence,
			Category:       string(resp.QueryCategory),
			GeneratedQuery: resp.GeneratedQuery,
			ProcessingMs:   resp.ProcessingDurationMs,
			ErrorKind:      string(resp.ErrorKind),
		}
		if resp.ErrorKind != "" {
			out.Type = "error"
		}
		s.send(conn, out)
	}
}

func (s *Server) send(conn *websocket.Conn, resp chatResponse) {
	if err := conn.WriteJSON(resp); err != nil {
		s.logger.Warn("websocket write failed", "error", err)
	}
}

func (s *Server) sendError(conn *websocket.Conn, conversationID, message string) {
	s.send(conn, chatResponse{
		Type:           "error",
		ConversationID: conversationID,
		Content:        message,
		ErrorKind:      string(pipeline.ErrInvalidRequest),
	})
}

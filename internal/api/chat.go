package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nugget/wfm-assistant/internal/agent"
	"github.com/nugget/wfm-assistant/internal/buildinfo"
	"github.com/nugget/wfm-assistant/internal/llm"
)

// ChatRequest is the body of POST /chat and of each websocket frame.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ChatResponse is the answer to a chat message.
type ChatResponse struct {
	Type           string                 `json:"type,omitempty"`
	Response       string                 `json:"response"`
	HTML           string                 `json:"html"`
	ConversationID string                 `json:"conversation_id"`
	Timestamp      string                 `json:"timestamp"`
	Turns          int                    `json:"turns"`
	ToolCalls      []agent.ToolCallRecord `json:"tool_calls"`
	Truncated      bool                   `json:"truncated"`
	TimedOut       bool                   `json:"timed_out"`
}

func (s *Server) chatResponse(res agent.Result) ChatResponse {
	return ChatResponse{
		Response:       res.Response,
		HTML:           s.renderMarkdown(res.Response),
		ConversationID: res.ConversationID,
		Timestamp:      timestamp(),
		Turns:          res.Turns,
		ToolCalls:      res.ToolCalls,
		Truncated:      res.Truncated,
		TimedOut:       res.TimedOut,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.tools.Ready() {
		s.ok(w, map[string]any{
			"status": "unhealthy",
			"error":  "MCP connection not available",
		})
		return
	}
	s.ok(w, map[string]any{
		"status":    "healthy",
		"timestamp": timestamp(),
		"components": map[string]any{
			"mcp_connected":      true,
			"chat_handler":       s.chat != nil,
			"collection_manager": s.catalog != nil && s.catalog.Ready(),
			"available_tools":    len(s.tools.Capabilities()),
			"channel_state":      s.tools.State().String(),
		},
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.ok(w, buildinfo.Info())
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeBody(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.New().String()
	}

	res, err := s.chat.Process(r.Context(), req.ConversationID, req.Message, nil)
	if err != nil {
		s.logger.Warn("chat aborted", "conversation_id", req.ConversationID, "error", err)
		s.errorResponse(w, http.StatusServiceUnavailable, "request cancelled: "+err.Error())
		return
	}
	s.ok(w, s.chatResponse(res))
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	msgs := s.chat.History(id)
	if msgs == nil {
		msgs = []llm.Message{}
	}
	s.ok(w, map[string]any{
		"conversation_id": id,
		"messages":        msgs,
		"count":           len(msgs),
	})
}

func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.chat.Reset(id)
	s.ok(w, map[string]any{
		"conversation_id": id,
		"cleared":         true,
	})
}

// handleWebsocket serves a chat session over a websocket. Each client
// frame is a ChatRequest; the server answers with progress events
// followed by a ChatResponse of type "response". Frames are handled one
// at a time, so all writes happen on this goroutine.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	conversationID := ""
	for {
		var req ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		if req.Message == "" {
			s.writeFrame(conn, map[string]string{"type": "error", "error": "message is required"})
			continue
		}
		if req.ConversationID != "" {
			conversationID = req.ConversationID
		}
		if conversationID == "" {
			conversationID = uuid.New().String()
		}

		res, err := s.chat.Process(ctx, conversationID, req.Message, func(e agent.Event) {
			if e.Kind == agent.EventFinal {
				return
			}
			s.writeFrame(conn, e)
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.writeFrame(conn, map[string]string{"type": "error", "error": err.Error()})
			continue
		}

		resp := s.chatResponse(res)
		resp.Type = "response"
		s.writeFrame(conn, resp)
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, v any) {
	if err := conn.WriteJSON(v); err != nil {
		s.logger.Debug("websocket write failed", "error", err)
	}
}

package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/samantha-chat/internal/companion"
	"github.com/ent0n29/samantha-chat/internal/observability"
	"github.com/ent0n29/samantha-chat/internal/protocol"
)

const (
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// handleChatWS runs chat turns over a websocket. Frames are read by this
// goroutine and queued in arrival order on a second goroutine, which runs chat
// turns one at a time and passes other events through unchanged. A third
// goroutine owns all writes, so server frames follow client frame order.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	log := observability.LoggerFromContext(r.Context())
	log.Info("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 16)
	outbound := make(chan any, 16)

	turnsDone := make(chan struct{})
	go func() {
		defer close(turnsDone)
		for item := range inbound {
			out := item
			if msg, ok := item.(protocol.ChatMessage); ok {
				out = s.runWSTurn(ctx, msg)
			}
			select {
			case <-ctx.Done():
				return
			case outbound <- out:
			}
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					log.Warn("websocket write failed", "error", err)
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.observeWS("outbound", t)
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		var item any
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			item = protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Source: "gateway",
				Detail: err.Error(),
			}
		} else {
			if t, ok := messageTypeOf(parsed); ok {
				s.observeWS("inbound", t)
			}
			item = wsResponseTo(parsed)
		}

		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- item:
		}
	}

	close(inbound)
	<-turnsDone
	cancel()
	<-writerDone
	log.Info("websocket disconnected")
}

func (s *Server) runWSTurn(ctx context.Context, msg protocol.ChatMessage) protocol.ChatReply {
	reqID := msg.RequestID
	if reqID == "" {
		reqID = uuid.NewString()
	}
	// Same as HTTP: a dropped connection does not abort the running turn.
	turnCtx := observability.WithRequestID(context.WithoutCancel(ctx), reqID)
	out := s.chat.Chat(turnCtx, companion.ChatInput{
		UserID:    msg.UserID,
		Message:   msg.Message,
		Transport: "websocket",
	})
	return protocol.ChatReply{
		Type:      protocol.TypeChatReply,
		RequestID: msg.RequestID,
		UserID:    msg.UserID,
		Response:  out.Response,
		Emotion:   out.Emotion,
	}
}

// wsResponseTo maps a parsed client frame to what goes on the ordered queue:
// chat messages are run as turns, control frames are answered directly.
func wsResponseTo(parsed any) any {
	switch msg := parsed.(type) {
	case protocol.ClientControl:
		if strings.EqualFold(msg.Action, protocol.ActionPing) {
			return protocol.SystemEvent{Type: protocol.TypeSystemEvent, Code: "pong"}
		}
		return protocol.ErrorEvent{
			Type:   protocol.TypeErrorEvent,
			Code:   "unsupported_action",
			Source: "gateway",
			Detail: msg.Action,
		}
	default:
		return parsed
	}
}

func (s *Server) observeWS(direction string, t protocol.MessageType) {
	if s.metrics == nil {
		return
	}
	s.metrics.WSMessages.WithLabelValues(direction, string(t)).Inc()
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ChatMessage:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.ChatReply:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}

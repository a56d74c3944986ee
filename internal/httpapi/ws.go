package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/recall/internal/assistant"
	"github.com/ent0n29/recall/internal/protocol"
)

const (
	wsReadLimit    = 1 << 20
	wsIdleTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// handleAskWS serves the ask pipeline over a websocket. Asks on one
// connection run in arrival order; replies echo the client request_id.
func (s *Server) handleAskWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 16)
	outbound := make(chan any, 64)

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		for msg := range inbound {
			reply := s.handleClientMessage(ctx, msg)
			select {
			case <-ctx.Done():
				return
			case outbound <- reply:
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
					s.logger.Debug("websocket write failed", "err", err)
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.RecordWS("outbound", string(t))
				}
			}
		}
	}()

	outbound <- protocol.SystemEvent{
		Type:   protocol.TypeSystemEvent,
		Code:   "connected",
		Detail: string(s.assistant.Strategy()),
	}

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
				// Drop when the outbound queue is saturated; writes stay on one goroutine.
				s.metrics.RecordWS("outbound", "drop_full")
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.RecordWS("inbound", string(t))
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	close(inbound)
	<-workerDone
	cancel()
	<-writerDone
}

func (s *Server) handleClientMessage(ctx context.Context, msg any) any {
	switch m := msg.(type) {
	case protocol.Ask:
		userID := strings.TrimSpace(m.UserID)
		if userID == "" {
			userID = assistant.DefaultUserID
		}
		res, err := s.assistant.Ask(ctx, assistant.AskRequest{
			Query:   m.Query,
			UserID:  userID,
			Context: m.Context,
		})
		if assistant.IsKind(err, assistant.KindValidation) {
			return protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				RequestID: m.RequestID,
				Code:      string(assistant.KindValidation),
				Detail:    res.Error,
			}
		}
		out := protocol.AskResult{
			Type:           protocol.TypeAskResult,
			RequestID:      m.RequestID,
			UserID:         userID,
			Response:       res.Response,
			Error:          res.Error,
			HistoryEntries: res.HistoryEntries,
			Persisted:      string(res.Persisted.Action),
		}
		if err != nil && out.Error == "" {
			out.Error = err.Error()
		}
		return out
	case protocol.Ping:
		return protocol.Pong{Type: protocol.TypePong, RequestID: m.RequestID}
	default:
		return protocol.ErrorEvent{
			Type:   protocol.TypeErrorEvent,
			Code:   "unsupported_message",
			Detail: protocol.ErrUnsupportedType.Error(),
		}
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.Ask:
		return m.Type, true
	case protocol.Ping:
		return m.Type, true
	case protocol.AskResult:
		return m.Type, true
	case protocol.Pong:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}

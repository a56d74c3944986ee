package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeAsk         MessageType = "ask"
	TypePing        MessageType = "ping"
	TypeAskResult   MessageType = "ask_result"
	TypePong        MessageType = "pong"
	TypeSystemEvent MessageType = "system_event"
	TypeErrorEvent  MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Ask mirrors the POST /ask-ai body. RequestID is echoed on the reply so
// clients can pipeline several asks on one connection.
type Ask struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Query     string      `json:"query"`
	UserID    string      `json:"user_ID"`
	Context   []string    `json:"context,omitempty"`
}

type Ping struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
}

type AskResult struct {
	Type           MessageType `json:"type"`
	RequestID      string      `json:"request_id,omitempty"`
	UserID         string      `json:"user_ID"`
	Response       string      `json:"response"`
	Error          string      `json:"error"`
	HistoryEntries int         `json:"history_entries"`
	Persisted      string      `json:"persisted,omitempty"`
}

type Pong struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
}

type SystemEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeAsk:
		var msg Ask
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Query) == "" {
			return nil, errors.New("invalid ask: query is required")
		}
		return msg, nil
	case TypePing:
		var msg Ping
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

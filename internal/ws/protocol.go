package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/christopherjohns/groupchat/internal/message"
)

// Event types carried in Envelope.Type.
const (
	EventLoadHistory = "load history"
	EventChatMessage = "chat message"
	EventError       = "error"
)

// Envelope is the JSON structure sent over the WebSocket in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ChatPayload is sent by the client to post a message.
type ChatPayload struct {
	User string `json:"user"`
	Text string `json:"text"`
}

// ChatMessage is a persisted message as seen by clients, both in history
// and in broadcasts.
type ChatMessage struct {
	User string    `json:"user"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// ErrorPayload is sent to a single client when its event was rejected or
// could not be processed.
type ErrorPayload struct {
	Message string `json:"message"`
}

var errMalformedEvent = errors.New("malformed event")

func toChatMessage(m *message.Message) ChatMessage {
	return ChatMessage{User: m.Author, Text: m.Body, Time: m.CreatedAt}
}

func encodeEnvelope(eventType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	env, err := json.Marshal(Envelope{Type: eventType, Payload: data})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", eventType, err)
	}
	return env, nil
}

func encodeHistory(msgs []*message.Message) ([]byte, error) {
	out := make([]ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toChatMessage(m))
	}
	return encodeEnvelope(EventLoadHistory, out)
}

// decodeChat parses an inbound frame. Only "chat message" envelopes whose
// payload carries user and text as strings are accepted; their contents,
// empty strings included, are taken as-is.
func decodeChat(data []byte) (ChatPayload, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ChatPayload{}, fmt.Errorf("%w: invalid JSON", errMalformedEvent)
	}
	if env.Type != EventChatMessage {
		return ChatPayload{}, fmt.Errorf("%w: unknown event type %q", errMalformedEvent, env.Type)
	}

	// Decode into raw fields first so missing and non-string values are
	// told apart from empty strings.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(env.Payload, &raw); err != nil || raw == nil {
		return ChatPayload{}, fmt.Errorf("%w: payload must be an object", errMalformedEvent)
	}

	var p ChatPayload
	if err := stringField(raw, "user", &p.User); err != nil {
		return ChatPayload{}, err
	}
	if err := stringField(raw, "text", &p.Text); err != nil {
		return ChatPayload{}, err
	}
	return p, nil
}

func stringField(raw map[string]json.RawMessage, name string, dst *string) error {
	v, ok := raw[name]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return fmt.Errorf("%w: %s is required", errMalformedEvent, name)
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("%w: %s must be a string", errMalformedEvent, name)
	}
	return nil
}

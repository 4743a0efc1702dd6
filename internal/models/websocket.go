package models

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventUserJoined EventType = "user_joined"
	EventMessage    EventType = "message"
	EventTyping     EventType = "typing"
	EventUserLeft   EventType = "user_left"
	EventError      EventType = "error"
	EventHeartbeat  EventType = "heartbeat"
)

// Event is a server to client frame. Every variant serializes with a "type"
// discriminator.
type Event interface {
	Type() EventType
}

type UserJoinedEvent struct {
	UserID    string
	Username  string
	Timestamp time.Time
}

type MessageEvent struct {
	MessageID string
	RoomID    string
	SenderID  string
	Username  string
	Content   string
	Timestamp time.Time
}

type TypingEvent struct {
	Username string
	IsTyping bool
}

type UserLeftEvent struct {
	UserID    string
	Username  string
	Timestamp time.Time
}

// ErrorEvent is only ever sent to the connection that caused it.
type ErrorEvent struct {
	Message string
}

func (UserJoinedEvent) Type() EventType { return EventUserJoined }
func (MessageEvent) Type() EventType    { return EventMessage }
func (TypingEvent) Type() EventType     { return EventTyping }
func (UserLeftEvent) Type() EventType   { return EventUserLeft }
func (ErrorEvent) Type() EventType      { return EventError }

// FormatTimestamp renders t as UTC ISO-8601.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func (e UserJoinedEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      EventType `json:"type"`
		UserID    string    `json:"user_id"`
		Username  string    `json:"username"`
		Timestamp string    `json:"timestamp"`
	}{e.Type(), e.UserID, e.Username, FormatTimestamp(e.Timestamp)})
}

func (e MessageEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      EventType `json:"type"`
		MessageID string    `json:"message_id"`
		RoomID    string    `json:"room_id"`
		SenderID  string    `json:"sender_id"`
		Username  string    `json:"username"`
		Content   string    `json:"content"`
		Timestamp string    `json:"timestamp"`
	}{e.Type(), e.MessageID, e.RoomID, e.SenderID, e.Username, e.Content, FormatTimestamp(e.Timestamp)})
}

func (e TypingEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     EventType `json:"type"`
		Username string    `json:"username"`
		IsTyping bool      `json:"is_typing"`
	}{e.Type(), e.Username, e.IsTyping})
}

func (e UserLeftEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      EventType `json:"type"`
		UserID    string    `json:"user_id"`
		Username  string    `json:"username"`
		Timestamp string    `json:"timestamp"`
	}{e.Type(), e.UserID, e.Username, FormatTimestamp(e.Timestamp)})
}

func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    EventType `json:"type"`
		Message string    `json:"message"`
	}{e.Type(), e.Message})
}

// InboundEvent is a client to server frame. Fields not used by a given
// type are left at their zero value.
type InboundEvent struct {
	Type     EventType `json:"type"`
	Content  string    `json:"content"`
	IsTyping bool      `json:"is_typing"`
}

// DecodeInbound parses a raw frame. Frames that are not JSON objects or
// carry no type are rejected.
func DecodeInbound(data []byte) (InboundEvent, bool) {
	var ev InboundEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return InboundEvent{}, false
	}
	if ev.Type == "" {
		return InboundEvent{}, false
	}
	return ev, true
}

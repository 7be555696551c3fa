// Package websocket implements the reload channel: the set of connected
// development clients and the notifications broadcast to them.
package websocket

import (
	"encoding/json"
	"time"
)

// MessageType names the action a client should take.
type MessageType string

const (
	// FullReload asks the client to reload the page.
	FullReload MessageType = "full_reload"
	// CSSReload asks the client to refresh the named stylesheets.
	CSSReload MessageType = "css_reload"
	// JSReload asks the client to reload because a script changed.
	JSReload MessageType = "js_reload"
)

// Message is one reload notification. On the wire it is a single JSON text
// frame; Files is null for a full reload.
type Message struct {
	Type      MessageType `json:"type"`
	Files     []string    `json:"files"`
	Timestamp string      `json:"timestamp"`
}

// NewFullReload returns a full reload notification stamped with now.
func NewFullReload(now time.Time) *Message {
	return &Message{
		Type:      FullReload,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// NewAssetReload returns a notification naming a single changed asset.
func NewAssetReload(typ MessageType, file string, now time.Time) *Message {
	return &Message{
		Type:      typ,
		Files:     []string{file},
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// Marshal encodes the message as sent on the wire.
func (m *Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

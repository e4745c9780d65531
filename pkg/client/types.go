package client

import (
	"encoding/json"
	"time"
)

// Session statuses reported by the server.
const (
	StatusNotRegistered     = "NOT_REGISTERED"
	StatusConnecting        = "CONNECTING"
	StatusAwaitingBootstrap = "AWAITING_BOOTSTRAP"
	StatusConnected         = "CONNECTED"
	StatusDisconnected      = "DISCONNECTED"
)

// StartResult is the outcome of StartSession.
type StartResult struct {
	Status         string  `json:"status"`
	BootstrapToken *string `json:"bootstrap_token"`
}

// Session is one tenant's session state.
type Session struct {
	Tenant         string     `json:"tenant"`
	Status         string     `json:"status"`
	BootstrapToken *string    `json:"bootstrap_token"`
	ConnectedSince *time.Time `json:"connected_since,omitempty"`
	IdleDeadline   *time.Time `json:"idle_deadline,omitempty"`
	RetryAt        *time.Time `json:"retry_at,omitempty"`
}

// Message is an outgoing message.
type Message struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// InboundMessage is a message received by one of the server's tenants.
type InboundMessage struct {
	Tenant    string          `json:"tenant"`
	ID        string          `json:"id"`
	From      string          `json:"from"`
	Body      string          `json:"body"`
	Response  json.RawMessage `json:"response,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

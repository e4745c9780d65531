// Package chat contains the events exchanged with a tenant's chat network
// connection.
package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// Close codes reported by the connection bridge. They follow the disconnect
// reasons of the chat network client library.
const (
	CloseLoggedOut       = 401
	CloseConnectionLost  = 408
	CloseConnection      = 428
	CloseReplaced        = 440
	CloseBadSession      = 500
	CloseRestartRequired = 515
)

// CloseReason describes why a connection closed.
type CloseReason struct {
	Code    int
	Message string
}

// LoggedOut reports whether the remote network revoked the session. A
// logged-out session cannot be resumed from stored credentials.
func (r CloseReason) LoggedOut() bool {
	return r.Code == CloseLoggedOut
}

func (r CloseReason) String() string {
	if r.Message == "" {
		return fmt.Sprintf("code %d", r.Code)
	}
	return fmt.Sprintf("code %d: %s", r.Code, r.Message)
}

// InboundMessage is a message observed on a tenant's connection.
type InboundMessage struct {
	Tenant string `json:"tenant"`
	ID     string `json:"id,omitempty"`
	// From is the sender's routable address.
	From string `json:"from"`
	Body string `json:"body,omitempty"`
	// Response carries structured reply data, such as the option picked in
	// a previously sent poll. It is passed through uninterpreted.
	Response  json.RawMessage `json:"response,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// OutgoingMessage is a text message to send. To may be in any format the
// address normalizer accepts.
type OutgoingMessage struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

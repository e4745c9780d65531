package bridge

import (
	"encoding/json"
	"time"

	"github.com/Sayan19951995/metricon-sub002/internal/domain/chat"
	"github.com/Sayan19951995/metricon-sub002/internal/domain/credential"
)

// Frame types written to the bridge.
const (
	frameHello  = "hello"
	frameSend   = "send"
	frameLogout = "logout"
)

// Frame types read from the bridge.
const (
	frameQR      = "qr"
	frameOpen    = "open"
	frameClose   = "close"
	frameMessage = "message"
	frameCreds   = "creds"
	frameAck     = "ack"
)

// outFrame is one newline-delimited JSON command to the bridge.
type outFrame struct {
	Type   string           `json:"type"`
	ID     string           `json:"id,omitempty"`
	Tenant string           `json:"tenant,omitempty"`
	Auth   credential.State `json:"auth,omitempty"`
	To     string           `json:"to,omitempty"`
	Body   string           `json:"body,omitempty"`
}

// inFrame is one newline-delimited JSON event from the bridge. Fields are
// populated according to Type.
type inFrame struct {
	Type string `json:"type"`

	// qr
	Token string `json:"token,omitempty"`

	// close
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// message
	ID        string          `json:"id,omitempty"`
	From      string          `json:"from,omitempty"`
	Body      string          `json:"body,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`

	// creds
	Update credential.State `json:"update,omitempty"`

	// ack
	OK    bool   `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
}

func (f inFrame) inbound() chat.InboundMessage {
	msg := chat.InboundMessage{
		ID:       f.ID,
		From:     f.From,
		Body:     f.Body,
		Response: f.Response,
	}
	if f.Timestamp > 0 {
		msg.Timestamp = time.Unix(f.Timestamp, 0).UTC()
	}
	return msg
}

package outbound

import (
	"context"

	"github.com/Sayan19951995/metricon-sub002/internal/domain/chat"
	"github.com/Sayan19951995/metricon-sub002/internal/domain/credential"
)

// Connector is the outbound port for opening a tenant's connection to the
// chat network. Adapters implement the network protocol; the session
// manager only sees the lifecycle events they emit.
type Connector interface {
	// Open starts a logical connection for tenant using the stored auth
	// state (empty for first-time pairing). Open returns once the transport
	// is set up; pairing and login progress is reported through sink.
	// No sink method is called before Open returns.
	Open(ctx context.Context, tenant string, auth credential.State, sink EventSink) (Connection, error)
}

// Connection is a handle to one open connection.
type Connection interface {
	// Send delivers a text message to a routable address.
	Send(ctx context.Context, to, body string) error
	// Logout asks the remote network to unlink this device.
	Logout(ctx context.Context) error
	// Close tears the connection down without logging out. Close does not
	// report a Closed event to the sink.
	Close() error
}

// EventSink receives the lifecycle events of one connection. Events for a
// connection are delivered from a single goroutine in the order they were
// observed.
type EventSink interface {
	// BootstrapToken reports a pairing token to be scanned by the user.
	// It may be called again when the token rotates.
	BootstrapToken(token string)
	// Connected reports that the connection is authenticated and usable.
	Connected()
	// Closed reports that the connection ended. No further events follow.
	Closed(reason chat.CloseReason)
	// Inbound reports a received message.
	Inbound(msg chat.InboundMessage)
	// CredentialsUpdated reports an incremental change to the auth state
	// that must be persisted before it is relied upon.
	CredentialsUpdated(update credential.State)
}

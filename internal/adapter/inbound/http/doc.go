// Package http provides the HTTP transport for the session manager.
//
// # Usage
//
//	transport := http.NewHTTPTransport(manager,
//	    http.WithAddr(":8080"),
//	    http.WithKeyring(keys),
//	    http.WithMetrics(reg, metrics),
//	    http.WithLogger(logger),
//	)
//	err := transport.Start(ctx)
//
// # Endpoints
//
//	POST   /api/v1/sessions/{tenant}/start           - start or join a session
//	GET    /api/v1/sessions/{tenant}                 - session status
//	GET    /api/v1/sessions/{tenant}/bootstrap-token - current pairing token
//	POST   /api/v1/sessions/{tenant}/messages        - send one message
//	POST   /api/v1/sessions/{tenant}/messages/batch  - send a paced batch
//	DELETE /api/v1/sessions/{tenant}                 - log out and forget credentials
//	GET    /api/v1/sessions                          - list known sessions
//	GET    /api/v1/events[?tenant=]                  - inbound messages as SSE
//	GET    /health                                   - component health
//	GET    /metrics                                  - Prometheus metrics
//
// Errors are returned as {"error": "..."}. Invalid tenant ids and
// addresses are 400. A closed manager is 503.
//
// # Authentication
//
// When a Keyring with keys is configured, /api/ routes require
// "Authorization: Bearer <key>". Keys are configured as Argon2id or
// "sha256:" hashes. /health and /metrics stay open.
//
// # Server-Sent Events
//
// Each inbound message is written as
//
//	id: <message id>
//	event: message
//	data: <json>
//
// A stream that falls behind by more than its buffer slows inbound
// delivery for every listener rather than losing messages.
package http

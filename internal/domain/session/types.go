// Package session defines per-tenant messaging session state and the
// registry that maps tenants to their live sessions.
package session

import (
	"errors"
	"regexp"
	"time"
)

// Status is the externally visible state of a tenant's session.
type Status string

const (
	// StatusNotRegistered means no session and no known credentials.
	StatusNotRegistered Status = "NOT_REGISTERED"
	// StatusConnecting means a connection attempt is in flight.
	StatusConnecting Status = "CONNECTING"
	// StatusAwaitingBootstrap means the remote network issued a pairing token
	// that has not been scanned yet.
	StatusAwaitingBootstrap Status = "AWAITING_BOOTSTRAP"
	// StatusConnected means the connection is established.
	StatusConnected Status = "CONNECTED"
	// StatusDisconnected means credentials exist but no attempt is running.
	StatusDisconnected Status = "DISCONNECTED"
)

// ErrInvalidTenant is returned for tenant identifiers that are empty or
// contain characters outside [A-Za-z0-9_.-].
var ErrInvalidTenant = errors.New("invalid tenant id")

var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

// ValidateTenant checks that id can be used as a registry key and as a
// credential file name.
func ValidateTenant(id string) error {
	if !tenantPattern.MatchString(id) || id == "." || id == ".." {
		return ErrInvalidTenant
	}
	return nil
}

// State is the state of a live session. Each live status has its own
// concrete type so that data like the bootstrap token only exists where it
// is valid.
type State interface {
	Status() Status
	isState()
}

// Connecting is the state while a connection attempt has not produced a
// token or an established connection yet.
type Connecting struct{}

// AwaitingBootstrap holds the pairing token issued during first-time pairing.
type AwaitingBootstrap struct {
	Token string
}

// Connected holds the time the connection was established.
type Connected struct {
	Since time.Time
}

// Disconnected is the state of a session waiting for its reconnect delay.
type Disconnected struct {
	RetryAt time.Time
}

func (Connecting) Status() Status        { return StatusConnecting }
func (AwaitingBootstrap) Status() Status { return StatusAwaitingBootstrap }
func (Connected) Status() Status         { return StatusConnected }
func (Disconnected) Status() Status      { return StatusDisconnected }

func (Connecting) isState()        {}
func (AwaitingBootstrap) isState() {}
func (Connected) isState()         {}
func (Disconnected) isState()      {}

// TokenOf returns the bootstrap token if st is AwaitingBootstrap.
func TokenOf(st State) (string, bool) {
	if ab, ok := st.(AwaitingBootstrap); ok {
		return ab.Token, true
	}
	return "", false
}

// Snapshot is a point-in-time read of a tenant's session.
type Snapshot struct {
	Tenant         string
	Status         Status
	BootstrapToken string
	ConnectedSince time.Time
	IdleDeadline   time.Time
	// RetryAt is set while a reconnect is scheduled.
	RetryAt time.Time
}

// SnapshotOf builds a Snapshot from a live state.
func SnapshotOf(tenant string, st State, idleDeadline time.Time) Snapshot {
	snap := Snapshot{Tenant: tenant, Status: st.Status()}
	switch s := st.(type) {
	case AwaitingBootstrap:
		snap.BootstrapToken = s.Token
	case Connected:
		snap.ConnectedSince = s.Since
		snap.IdleDeadline = idleDeadline
	case Disconnected:
		snap.RetryAt = s.RetryAt
	}
	return snap
}

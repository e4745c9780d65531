package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Sayan19951995/metricon-sub002/internal/clock"
	"github.com/Sayan19951995/metricon-sub002/internal/ctxkey"
	"github.com/Sayan19951995/metricon-sub002/internal/domain/address"
	"github.com/Sayan19951995/metricon-sub002/internal/domain/chat"
	"github.com/Sayan19951995/metricon-sub002/internal/domain/credential"
	"github.com/Sayan19951995/metricon-sub002/internal/domain/session"
	"github.com/Sayan19951995/metricon-sub002/internal/port/outbound"
)

// ErrManagerClosed is returned by operations on a closed SessionManager.
var ErrManagerClosed = errors.New("session manager closed")

// Default timings.
const (
	DefaultStartTimeout   = 15 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultIdleTimeout    = 5 * time.Minute
	DefaultReconnectDelay = 5 * time.Second
)

// SessionTimings configures how long operations wait and when sessions are
// evicted or reconnected. Zero values fall back to the defaults.
type SessionTimings struct {
	// StartTimeout bounds how long StartSession waits for a pairing token
	// or an established connection.
	StartTimeout time.Duration
	// ConnectTimeout bounds how long EnsureConnected waits.
	ConnectTimeout time.Duration
	// IdleTimeout is how long a connected session may go without a send or
	// an inbound message before it is closed.
	IdleTimeout time.Duration
	// ReconnectDelay is the fixed delay before reconnecting after an
	// unexpected connection loss.
	ReconnectDelay time.Duration
}

func (t SessionTimings) withDefaults() SessionTimings {
	if t.StartTimeout <= 0 {
		t.StartTimeout = DefaultStartTimeout
	}
	if t.ConnectTimeout <= 0 {
		t.ConnectTimeout = DefaultConnectTimeout
	}
	if t.IdleTimeout <= 0 {
		t.IdleTimeout = DefaultIdleTimeout
	}
	if t.ReconnectDelay <= 0 {
		t.ReconnectDelay = DefaultReconnectDelay
	}
	return t
}

// StartResult is the outcome of StartSession.
type StartResult struct {
	Status session.Status
	// BootstrapToken is set when Status is AWAITING_BOOTSTRAP.
	BootstrapToken string
}

// SessionOption configures SessionManager.
type SessionOption func(*SessionManager)

// WithClock sets the clock used for timeouts, idle eviction and reconnects.
func WithClock(c clock.Clock) SessionOption {
	return func(m *SessionManager) {
		m.clock = c
	}
}

// WithTimings overrides the default timings.
func WithTimings(t SessionTimings) SessionOption {
	return func(m *SessionManager) {
		m.timings = t.withDefaults()
	}
}

// WithNormalizer sets the address normalizer used by the send operations.
func WithNormalizer(n *address.Normalizer) SessionOption {
	return func(m *SessionManager) {
		m.normalizer = n
	}
}

// WithObserver registers an observer for lifecycle events.
func WithObserver(o SessionObserver) SessionOption {
	return func(m *SessionManager) {
		m.observer = o
	}
}

// WithTracer sets the tracer for the public operations.
func WithTracer(t trace.Tracer) SessionOption {
	return func(m *SessionManager) {
		m.tracer = t
	}
}

// WithInboundQueueSize sets the per-listener queue size of the inbound
// fan-out.
func WithInboundQueueSize(n int) SessionOption {
	return func(m *SessionManager) {
		m.inboundQueueSize = n
	}
}

// WithRegistryShards sets the number of registry shards.
func WithRegistryShards(n int) SessionOption {
	return func(m *SessionManager) {
		m.shards = n
	}
}

// SessionManager owns one chat network connection per tenant. It collapses
// concurrent connect demand for a tenant into a single attempt, closes
// connections that stay idle, reconnects after unexpected losses while
// credentials exist, and fans inbound messages out to listeners.
type SessionManager struct {
	sessions   *session.Registry[*tenantSession]
	dormant    sync.Map // tenant -> struct{}; credentials kept, no live session
	connector  outbound.Connector
	creds      credential.Store
	fanout     *InboundFanout
	normalizer *address.Normalizer
	clock      clock.Clock
	observer   SessionObserver
	tracer     trace.Tracer
	logger     *slog.Logger
	timings    SessionTimings

	inboundQueueSize int
	shards           int

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex // guards closed and wg.Add
	closed bool
	wg     sync.WaitGroup
}

// tenantSession is the live state of one tenant. All fields are guarded by
// mu. credMu serializes credential writes for the tenant and is acquired
// before mu.
type tenantSession struct {
	tenant string

	credMu sync.Mutex
	mu     sync.Mutex

	state   session.State
	conn    outbound.Connection
	sink    *connSink
	attempt *connectAttempt
	// gen identifies the current connection. It changes whenever an attempt
	// starts or the connection is torn down, so events from an older
	// connection are ignored.
	gen uint64

	idle         *clock.Timer
	idleSeq      uint64
	idleDeadline time.Time

	retry    *clock.Timer
	retrySeq uint64

	// deleting is set while the tenant's credentials are being deleted and
	// closed once the delete returns. The session stays registered until
	// then so no new attempt can load the old credentials.
	deleting chan struct{}
	removed  bool
}

// live reports whether sess may still change state. sess.mu must be held.
func (sess *tenantSession) live() bool {
	return !sess.removed && sess.deleting == nil
}

// connectAttempt is the single in-flight connection attempt of a session.
// ok is written before done is closed.
type connectAttempt struct {
	done       chan struct{}
	ok         bool
	tokenReady chan struct{}
	tokenSeen  bool
	pairing    bool
	started    time.Time
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(connector outbound.Connector, creds credential.Store, logger *slog.Logger, opts ...SessionOption) *SessionManager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &SessionManager{
		connector:        connector,
		creds:            creds,
		normalizer:       address.Default(),
		clock:            clock.Real(),
		observer:         noopObserver{},
		tracer:           noop.NewTracerProvider().Tracer(""),
		logger:           logger,
		timings:          SessionTimings{}.withDefaults(),
		inboundQueueSize: DefaultInboundQueueSize,
		shards:           session.DefaultShards,
		ctx:              ctx,
		cancel:           cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.sessions = session.NewRegistryWithShards[*tenantSession](m.shards)
	m.fanout = NewInboundFanout(m.inboundQueueSize, logger)
	return m
}

// Subscribe registers a listener for inbound messages of every tenant.
func (m *SessionManager) Subscribe(listener InboundListener) (unsubscribe func()) {
	return m.fanout.Subscribe(listener)
}

// RestoreDormant marks every tenant with stored credentials as
// DISCONNECTED so Status reports them without touching the store. It returns
// the number of tenants marked.
func (m *SessionManager) RestoreDormant(ctx context.Context) (int, error) {
	tenants, err := m.creds.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list credentials: %w", err)
	}
	for _, tenant := range tenants {
		m.dormant.Store(tenant, struct{}{})
	}
	return len(tenants), nil
}

// StartSession begins first-time pairing for tenant, or reports the current
// connection if one exists. It waits up to StartTimeout for a pairing token
// or an established connection and then returns the current status; the
// attempt keeps running in the background.
func (m *SessionManager) StartSession(ctx context.Context, tenant string) (StartResult, error) {
	ctx, span := m.tracer.Start(ctx, "session.StartSession", trace.WithAttributes(attribute.String("tenant", tenant)))
	defer span.End()

	if err := session.ValidateTenant(tenant); err != nil {
		return StartResult{}, err
	}
	if m.isClosed() {
		return StartResult{}, ErrManagerClosed
	}

	for {
		sess, _ := m.sessions.GetOrCreate(tenant, func() *tenantSession {
			return m.newSession(tenant, true)
		})

		sess.mu.Lock()
		if sess.removed {
			sess.mu.Unlock()
			continue
		}
		if deleting := sess.deleting; deleting != nil {
			sess.mu.Unlock()
			select {
			case <-deleting:
				continue
			case <-ctx.Done():
				return StartResult{Status: session.StatusNotRegistered}, nil
			}
		}
		switch st := sess.state.(type) {
		case session.Connected:
			m.resetIdleLocked(sess)
			sess.mu.Unlock()
			return StartResult{Status: session.StatusConnected}, nil
		case session.AwaitingBootstrap:
			sess.mu.Unlock()
			return StartResult{Status: session.StatusAwaitingBootstrap, BootstrapToken: st.Token}, nil
		}
		att := sess.attempt
		if att == nil {
			att = m.beginAttemptLocked(sess, true)
		}
		sess.mu.Unlock()

		select {
		case <-att.done:
		case <-att.tokenReady:
		case <-m.clock.After(m.timings.StartTimeout):
			m.log(ctx).Info("start session still pending", "tenant", tenant)
		case <-ctx.Done():
		}

		snap := m.Status(tenant)
		span.SetAttributes(attribute.String("status", string(snap.Status)))
		return StartResult{Status: snap.Status, BootstrapToken: snap.BootstrapToken}, nil
	}
}

// EnsureConnected returns true once tenant has an established connection.
// A connected session answers immediately. Otherwise the caller joins the
// in-flight attempt, or starts one when credentials are stored, and waits
// up to ConnectTimeout. Tenants without credentials are never connected.
func (m *SessionManager) EnsureConnected(ctx context.Context, tenant string) bool {
	ctx, span := m.tracer.Start(ctx, "session.EnsureConnected", trace.WithAttributes(attribute.String("tenant", tenant)))
	defer span.End()

	ok := m.ensureConnected(ctx, tenant)
	span.SetAttributes(attribute.Bool("connected", ok))
	return ok
}

func (m *SessionManager) ensureConnected(ctx context.Context, tenant string) bool {
	if session.ValidateTenant(tenant) != nil || m.isClosed() {
		return false
	}

	for {
		sess, ok := m.sessions.Get(tenant)
		if !ok {
			exists, err := m.creds.Exists(ctx, tenant)
			if err != nil {
				m.logger.Error("check credentials", "tenant", tenant, "error", err)
				return false
			}
			if !exists {
				return false
			}
			sess, _ = m.sessions.GetOrCreate(tenant, func() *tenantSession {
				return m.newSession(tenant, false)
			})
		}

		sess.mu.Lock()
		if sess.removed {
			sess.mu.Unlock()
			continue
		}
		if sess.deleting != nil {
			sess.mu.Unlock()
			return false
		}
		if _, connected := sess.state.(session.Connected); connected {
			m.resetIdleLocked(sess)
			sess.mu.Unlock()
			return true
		}
		att := sess.attempt
		if att == nil {
			// Waiting out the reconnect delay; connect now instead.
			att = m.beginAttemptLocked(sess, false)
		}
		sess.mu.Unlock()

		return m.await(ctx, att, m.timings.ConnectTimeout)
	}
}

func (m *SessionManager) await(ctx context.Context, att *connectAttempt, timeout time.Duration) bool {
	select {
	case <-att.done:
		return att.ok
	case <-m.clock.After(timeout):
		return false
	case <-ctx.Done():
		return false
	}
}

// SendMessage sends body to the given address over tenant's connection,
// connecting first if needed. Connection and delivery failures are
// reported as false. An address without digits is a caller error and is
// returned as ErrInvalidAddress.
func (m *SessionManager) SendMessage(ctx context.Context, tenant, to, body string) (bool, error) {
	ctx, span := m.tracer.Start(ctx, "session.SendMessage", trace.WithAttributes(attribute.String("tenant", tenant)))
	defer span.End()

	if err := session.ValidateTenant(tenant); err != nil {
		return false, err
	}
	jid, err := m.normalizer.Normalize(to)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	sent := m.send(ctx, tenant, jid, body)
	span.SetAttributes(attribute.Bool("sent", sent))
	return sent, nil
}

// SendBatch sends items in order over tenant's connection and reports the
// outcome of each. interval, if positive, is waited between items. Every
// address is validated before anything is sent. If ctx ends while pacing,
// the remaining items are reported as not sent.
func (m *SessionManager) SendBatch(ctx context.Context, tenant string, items []chat.OutgoingMessage, interval time.Duration) ([]bool, error) {
	ctx, span := m.tracer.Start(ctx, "session.SendBatch", trace.WithAttributes(
		attribute.String("tenant", tenant),
		attribute.Int("items", len(items)),
	))
	defer span.End()

	if err := session.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	jids := make([]string, len(items))
	for i, item := range items {
		jid, err := m.normalizer.Normalize(item.To)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		jids[i] = jid
	}

	results := make([]bool, len(items))
	for i, item := range items {
		if i > 0 && interval > 0 {
			select {
			case <-m.clock.After(interval):
			case <-ctx.Done():
				return results, nil
			}
		}
		results[i] = m.send(ctx, tenant, jids[i], item.Body)
	}
	return results, nil
}

func (m *SessionManager) send(ctx context.Context, tenant, jid, body string) bool {
	if !m.ensureConnected(ctx, tenant) {
		m.log(ctx).Warn("send skipped, not connected", "tenant", tenant)
		m.observer.MessageSent(false)
		return false
	}

	sess, ok := m.sessions.Get(tenant)
	if !ok {
		m.observer.MessageSent(false)
		return false
	}
	sess.mu.Lock()
	conn, gen := sess.conn, sess.gen
	_, connected := sess.state.(session.Connected)
	sess.mu.Unlock()
	if conn == nil || !connected {
		m.observer.MessageSent(false)
		return false
	}

	if err := conn.Send(ctx, jid, body); err != nil {
		m.log(ctx).Warn("send failed", "tenant", tenant, "error", err)
		m.observer.MessageSent(false)
		return false
	}

	sess.mu.Lock()
	if !sess.removed && sess.gen == gen {
		m.resetIdleLocked(sess)
	}
	sess.mu.Unlock()
	m.observer.MessageSent(true)
	return true
}

// Status returns the current state of tenant's session. It never blocks on
// I/O. Unknown tenants are NOT_REGISTERED; tenants whose session was closed
// while credentials remained are DISCONNECTED.
func (m *SessionManager) Status(tenant string) session.Snapshot {
	if sess, ok := m.sessions.Get(tenant); ok {
		sess.mu.Lock()
		live, deleting := sess.live(), sess.deleting != nil
		snap := session.SnapshotOf(tenant, sess.state, sess.idleDeadline)
		sess.mu.Unlock()
		if live {
			return snap
		}
		if deleting {
			return session.Snapshot{Tenant: tenant, Status: session.StatusNotRegistered}
		}
	}
	if _, ok := m.dormant.Load(tenant); ok {
		return session.Snapshot{Tenant: tenant, Status: session.StatusDisconnected}
	}
	return session.Snapshot{Tenant: tenant, Status: session.StatusNotRegistered}
}

// BootstrapToken returns the pending pairing token for tenant, if any.
func (m *SessionManager) BootstrapToken(tenant string) (string, bool) {
	sess, ok := m.sessions.Get(tenant)
	if !ok {
		return "", false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.live() {
		return "", false
	}
	return session.TokenOf(sess.state)
}

// Sessions returns snapshots of every live session plus dormant tenants,
// sorted by tenant.
func (m *SessionManager) Sessions() []session.Snapshot {
	seen := make(map[string]bool)
	var out []session.Snapshot
	m.sessions.Range(func(tenant string, _ *tenantSession) bool {
		snap := m.Status(tenant)
		seen[tenant] = true
		if snap.Status != session.StatusNotRegistered {
			out = append(out, snap)
		}
		return true
	})
	m.dormant.Range(func(key, _ any) bool {
		tenant := key.(string)
		if !seen[tenant] {
			out = append(out, session.Snapshot{Tenant: tenant, Status: session.StatusDisconnected})
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Tenant < out[j].Tenant })
	return out
}

// Disconnect ends tenant's session: it cancels timers, logs out remotely
// on a best-effort basis, closes the connection and deletes the stored
// credentials. Only a failure to delete credentials is returned.
func (m *SessionManager) Disconnect(ctx context.Context, tenant string) error {
	ctx, span := m.tracer.Start(ctx, "session.Disconnect", trace.WithAttributes(attribute.String("tenant", tenant)))
	defer span.End()

	if err := session.ValidateTenant(tenant); err != nil {
		return err
	}

	sess, conn, err := m.markDeleting(ctx, tenant)
	if err != nil {
		return err
	}
	defer m.finishDelete(sess)

	// Wait for an in-progress credential write of the old connection.
	sess.credMu.Lock()
	defer sess.credMu.Unlock()
	m.dormant.Delete(tenant)

	if conn != nil {
		if err := conn.Logout(ctx); err != nil {
			m.log(ctx).Debug("remote logout failed", "tenant", tenant, "error", err)
		}
		if err := conn.Close(); err != nil {
			m.logger.Debug("close connection", "tenant", tenant, "error", err)
		}
	}

	if err := m.creds.Delete(ctx, tenant); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("delete credentials: %w", err)
	}
	m.log(ctx).Info("session disconnected", "tenant", tenant)
	return nil
}

// markDeleting registers tenant as being deleted, registering a tombstone
// session when none is live, and detaches any connection. A delete already
// in progress is waited for first.
func (m *SessionManager) markDeleting(ctx context.Context, tenant string) (*tenantSession, outbound.Connection, error) {
	for {
		sess, _ := m.sessions.GetOrCreate(tenant, func() *tenantSession {
			return &tenantSession{tenant: tenant, state: session.Disconnected{}}
		})

		sess.mu.Lock()
		if sess.removed {
			sess.mu.Unlock()
			continue
		}
		if deleting := sess.deleting; deleting != nil {
			sess.mu.Unlock()
			select {
			case <-deleting:
				continue
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
		}
		conn := m.detachLocked(sess)
		sess.deleting = make(chan struct{})
		sess.state = session.Disconnected{}
		sess.mu.Unlock()
		return sess, conn, nil
	}
}

// finishDelete drops the tombstone left by markDeleting and releases
// waiters.
func (m *SessionManager) finishDelete(sess *tenantSession) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.removed = true
	m.sessions.CompareAndDelete(sess.tenant, sess)
	m.dormant.Delete(sess.tenant)
	close(sess.deleting)
}

// Close closes every connection without touching stored credentials and
// waits for background work to finish.
func (m *SessionManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()

	var errs []error
	for tenant, sess := range m.sessions.Drain() {
		sess.mu.Lock()
		conn := m.detachLocked(sess)
		sess.removed = true
		sess.mu.Unlock()
		if conn != nil {
			if err := conn.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", tenant, err))
			}
		}
	}

	m.fanout.Close()
	m.wg.Wait()
	return errors.Join(errs...)
}

// --- internal state transitions ---

// log returns the request-scoped logger from ctx, or the manager's logger.
func (m *SessionManager) log(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return m.logger
}

func (m *SessionManager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// goTracked runs fn in a goroutine that Close waits for. It reports false
// without running fn once the manager is closed.
func (m *SessionManager) goTracked(fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
	return true
}

// track is goTracked for code already running on its own goroutine, such
// as timer callbacks.
func (m *SessionManager) track() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.wg.Add(1)
	return true
}

// newSession runs under the registry shard lock. The session is not yet
// visible to other goroutines, so its first attempt starts here.
func (m *SessionManager) newSession(tenant string, pairing bool) *tenantSession {
	sess := &tenantSession{tenant: tenant, state: session.Connecting{}}
	m.beginAttemptLocked(sess, pairing)
	return sess
}

// beginAttemptLocked starts a connection attempt. sess.mu must be held
// (or sess not yet shared).
func (m *SessionManager) beginAttemptLocked(sess *tenantSession, pairing bool) *connectAttempt {
	if sess.retry != nil {
		sess.retry.Stop()
		sess.retry = nil
	}
	sess.gen++
	att := &connectAttempt{
		done:       make(chan struct{}),
		tokenReady: make(chan struct{}),
		pairing:    pairing,
		started:    m.clock.Now(),
	}
	sess.attempt = att
	sess.state = session.Connecting{}

	gen := sess.gen
	if !m.goTracked(func() { m.connect(sess, gen, att) }) {
		att.ok = false
		close(att.done)
		sess.attempt = nil
		return att
	}
	m.observer.ConnectStarted()
	return att
}

func (m *SessionManager) resolveLocked(sess *tenantSession, ok bool) {
	att := sess.attempt
	if att == nil {
		return
	}
	sess.attempt = nil
	att.ok = ok
	close(att.done)
	m.observer.ConnectFinished(ok, m.clock.Now().Sub(att.started))
}

// detachLocked invalidates the current connection: it bumps gen, stops the
// event pump and every timer, fails a pending attempt and returns the
// connection for the caller to close outside the lock.
func (m *SessionManager) detachLocked(sess *tenantSession) outbound.Connection {
	sess.gen++
	conn := sess.conn
	sess.conn = nil
	if sess.sink != nil {
		sess.sink.stop()
		sess.sink = nil
	}
	m.stopIdleLocked(sess)
	if sess.retry != nil {
		sess.retry.Stop()
		sess.retry = nil
	}
	m.resolveLocked(sess, false)
	return conn
}

// removeLocked drops sess from the registry. dormant records that
// credentials remain, so Status reads DISCONNECTED.
func (m *SessionManager) removeLocked(sess *tenantSession, dormant bool) {
	sess.removed = true
	m.sessions.CompareAndDelete(sess.tenant, sess)
	if dormant {
		m.dormant.Store(sess.tenant, struct{}{})
	} else {
		m.dormant.Delete(sess.tenant)
	}
}

func (m *SessionManager) resetIdleLocked(sess *tenantSession) {
	m.stopIdleLocked(sess)
	sess.idleSeq++
	seq := sess.idleSeq
	sess.idleDeadline = m.clock.Now().Add(m.timings.IdleTimeout)
	sess.idle = m.clock.AfterFunc(m.timings.IdleTimeout, func() { m.evict(sess, seq) })
}

func (m *SessionManager) stopIdleLocked(sess *tenantSession) {
	if sess.idle != nil {
		sess.idle.Stop()
		sess.idle = nil
	}
	sess.idleDeadline = time.Time{}
}

func (m *SessionManager) evict(sess *tenantSession, seq uint64) {
	if !m.track() {
		return
	}
	defer m.wg.Done()

	sess.mu.Lock()
	if !sess.live() || sess.idleSeq != seq {
		sess.mu.Unlock()
		return
	}
	if _, connected := sess.state.(session.Connected); !connected {
		sess.mu.Unlock()
		return
	}
	conn := m.detachLocked(sess)
	m.removeLocked(sess, true)
	sess.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			m.logger.Debug("close idle connection", "tenant", sess.tenant, "error", err)
		}
	}
	m.observer.SessionEvicted()
	m.logger.Info("idle session evicted", "tenant", sess.tenant)
}

func (m *SessionManager) scheduleRetryLocked(sess *tenantSession) {
	retryAt := m.clock.Now().Add(m.timings.ReconnectDelay)
	sess.state = session.Disconnected{RetryAt: retryAt}
	sess.retrySeq++
	seq := sess.retrySeq
	sess.retry = m.clock.AfterFunc(m.timings.ReconnectDelay, func() { m.reconnect(sess, seq) })
	m.logger.Info("scheduling reconnect", "tenant", sess.tenant, "delay", m.timings.ReconnectDelay)
}

func (m *SessionManager) reconnect(sess *tenantSession, seq uint64) {
	if !m.track() {
		return
	}
	defer m.wg.Done()

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.live() || sess.retrySeq != seq || sess.attempt != nil {
		return
	}
	if _, waiting := sess.state.(session.Disconnected); !waiting {
		return
	}
	sess.retry = nil
	m.beginAttemptLocked(sess, false)
}

// connect runs one attempt: load credentials, open the connection, attach
// it and pump its events.
func (m *SessionManager) connect(sess *tenantSession, gen uint64, att *connectAttempt) {
	tenant := sess.tenant

	auth, err := m.creds.Load(m.ctx, tenant)
	switch {
	case errors.Is(err, credential.ErrNotFound):
		if !att.pairing {
			m.logger.Info("no stored credentials", "tenant", tenant)
			m.abandon(sess, gen)
			return
		}
		auth = credential.State{}
	case err != nil:
		m.logger.Error("load credentials", "tenant", tenant, "error", err)
		m.connectionLost(sess, gen, nil)
		return
	}

	sink := newConnSink()
	conn, err := m.connector.Open(m.ctx, tenant, auth, sink)
	if err != nil {
		m.logger.Warn("open connection failed", "tenant", tenant, "error", err)
		sink.stop()
		m.connectionLost(sess, gen, nil)
		return
	}

	sess.mu.Lock()
	if sess.removed || sess.gen != gen {
		sess.mu.Unlock()
		sink.stop()
		_ = conn.Close()
		return
	}
	sess.conn = conn
	sess.sink = sink
	sess.mu.Unlock()

	m.pump(sess, gen, sink)
}

// abandon removes a session whose attempt cannot proceed because no
// credentials are stored.
func (m *SessionManager) abandon(sess *tenantSession, gen uint64) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.removed || sess.gen != gen {
		return
	}
	m.detachLocked(sess)
	m.removeLocked(sess, false)
}

// connectionLost handles a recoverable loss: the connection is closed and
// a reconnect is scheduled if credentials still exist.
func (m *SessionManager) connectionLost(sess *tenantSession, gen uint64, conn outbound.Connection) {
	sess.mu.Lock()
	if sess.removed || sess.gen != gen {
		sess.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if c := m.detachLocked(sess); c != nil {
		conn = c
	}
	sess.state = session.Disconnected{}
	gen = sess.gen
	sess.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	exists, err := m.creds.Exists(m.ctx, sess.tenant)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.removed || sess.gen != gen {
		return
	}
	switch {
	case err != nil:
		m.logger.Error("check credentials", "tenant", sess.tenant, "error", err)
		m.removeLocked(sess, true)
	case exists:
		m.scheduleRetryLocked(sess)
	default:
		m.removeLocked(sess, false)
	}
}

// loggedOut handles revocation by the remote network: the session is
// removed and its credentials deleted.
func (m *SessionManager) loggedOut(sess *tenantSession, gen uint64) {
	sess.credMu.Lock()
	defer sess.credMu.Unlock()

	sess.mu.Lock()
	if !sess.live() || sess.gen != gen {
		sess.mu.Unlock()
		return
	}
	conn := m.detachLocked(sess)
	sess.deleting = make(chan struct{})
	sess.state = session.Disconnected{}
	sess.mu.Unlock()
	defer m.finishDelete(sess)

	if conn != nil {
		_ = conn.Close()
	}
	if err := m.creds.Delete(m.ctx, sess.tenant); err != nil {
		m.logger.Error("delete revoked credentials", "tenant", sess.tenant, "error", err)
	}
	m.logger.Warn("session logged out remotely", "tenant", sess.tenant)
}

// pump handles the events of one connection in order until it closes or is
// detached.
func (m *SessionManager) pump(sess *tenantSession, gen uint64, sink *connSink) {
	for {
		select {
		case ev := <-sink.events:
			if done := m.handleEvent(sess, gen, ev); done {
				return
			}
		case <-sink.stopped:
			return
		}
	}
}

func (m *SessionManager) handleEvent(sess *tenantSession, gen uint64, ev connEvent) (done bool) {
	switch ev.kind {
	case eventToken:
		sess.mu.Lock()
		defer sess.mu.Unlock()
		if sess.removed || sess.gen != gen {
			return true
		}
		sess.state = session.AwaitingBootstrap{Token: ev.token}
		if att := sess.attempt; att != nil && !att.tokenSeen {
			att.tokenSeen = true
			close(att.tokenReady)
		}
		m.logger.Info("pairing token issued", "tenant", sess.tenant)

	case eventConnected:
		sess.mu.Lock()
		defer sess.mu.Unlock()
		if sess.removed || sess.gen != gen {
			return true
		}
		sess.state = session.Connected{Since: m.clock.Now()}
		m.resetIdleLocked(sess)
		m.resolveLocked(sess, true)
		m.dormant.Delete(sess.tenant)
		m.logger.Info("session connected", "tenant", sess.tenant)

	case eventClosed:
		m.observer.ConnectionClosed(ev.reason)
		m.logger.Info("connection closed", "tenant", sess.tenant, "reason", ev.reason.String())
		if ev.reason.LoggedOut() {
			m.loggedOut(sess, gen)
		} else {
			m.connectionLost(sess, gen, nil)
		}
		return true

	case eventInbound:
		sess.mu.Lock()
		if sess.removed || sess.gen != gen {
			sess.mu.Unlock()
			return true
		}
		if _, connected := sess.state.(session.Connected); connected {
			m.resetIdleLocked(sess)
		}
		sess.mu.Unlock()

		msg := ev.message
		msg.Tenant = sess.tenant
		m.observer.InboundReceived()
		m.fanout.Publish(msg)

	case eventCreds:
		sess.credMu.Lock()
		defer sess.credMu.Unlock()
		sess.mu.Lock()
		current := !sess.removed && sess.gen == gen
		sess.mu.Unlock()
		if !current {
			return true
		}
		if err := m.creds.Save(m.ctx, sess.tenant, ev.creds); err != nil {
			m.logger.Error("save credentials", "tenant", sess.tenant, "error", err)
		}
	}
	return false
}

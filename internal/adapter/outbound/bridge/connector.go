// Package bridge connects tenants to the chat network through a bridge
// subprocess that implements the network protocol. Each connection runs its
// own bridge process and talks to it with newline-delimited JSON over
// stdin and stdout.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sayan19951995/metricon-sub002/internal/domain/chat"
	"github.com/Sayan19951995/metricon-sub002/internal/domain/credential"
	"github.com/Sayan19951995/metricon-sub002/internal/port/outbound"
)

// DefaultSendTimeout bounds how long Send and Logout wait for an ack.
const DefaultSendTimeout = 30 * time.Second

// maxFrameSize is the largest frame accepted from the bridge. Credential
// updates with key material can be large.
const maxFrameSize = 8 << 20

// ErrConnectionClosed is returned by Send and Logout after the bridge exits
// or the connection is closed.
var ErrConnectionClosed = errors.New("bridge connection closed")

// process is a running bridge.
type process struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser
	wait   func() error
	kill   func() error
}

type startFunc func(tenant string) (*process, error)

// Config configures the bridge command.
type Config struct {
	Command     string
	Args        []string
	SendTimeout time.Duration
}

// Connector starts one bridge process per connection.
// It implements the outbound.Connector interface.
type Connector struct {
	sendTimeout time.Duration
	start       startFunc
	logger      *slog.Logger
}

// NewConnector creates a Connector that runs cfg.Command with cfg.Args
// plus "--tenant <id>". The bridge's stderr is forwarded to os.Stderr.
func NewConnector(cfg Config, logger *slog.Logger) *Connector {
	c := &Connector{
		sendTimeout: cfg.SendTimeout,
		logger:      logger,
		start:       execStart(cfg.Command, cfg.Args),
	}
	if c.sendTimeout <= 0 {
		c.sendTimeout = DefaultSendTimeout
	}
	return c
}

func execStart(command string, args []string) startFunc {
	return func(tenant string) (*process, error) {
		cmd := exec.Command(command, append(append([]string(nil), args...), "--tenant", tenant)...)

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			_ = stdin.Close()
			return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
		}
		cmd.Stderr = os.Stderr

		if err := cmd.Start(); err != nil {
			_ = stdin.Close()
			_ = stdout.Close()
			return nil, fmt.Errorf("failed to start bridge: %w", err)
		}

		return &process{
			stdin:  stdin,
			stdout: stdout,
			wait:   cmd.Wait,
			kill: func() error {
				if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
					return err
				}
				return nil
			},
		}, nil
	}
}

// Open starts a bridge for tenant and sends it the stored auth state.
func (c *Connector) Open(ctx context.Context, tenant string, auth credential.State, sink outbound.EventSink) (outbound.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	proc, err := c.start(tenant)
	if err != nil {
		return nil, err
	}

	conn := &Connection{
		tenant:      tenant,
		proc:        proc,
		enc:         json.NewEncoder(proc.stdin),
		sink:        sink,
		sendTimeout: c.sendTimeout,
		logger:      c.logger,
		pending:     make(map[string]chan ackResult),
		ready:       make(chan struct{}),
		readerDone:  make(chan struct{}),
	}
	go conn.readLoop()

	if err := conn.write(outFrame{Type: frameHello, Tenant: tenant, Auth: auth}); err != nil {
		conn.mu.Lock()
		conn.closed = true
		conn.mu.Unlock()
		close(conn.ready)
		_ = conn.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}

	// Events flow to the sink only after Open has returned the handle.
	defer close(conn.ready)
	return conn, nil
}

type ackResult struct {
	ok  bool
	err string
}

// Connection is one running bridge.
// It implements the outbound.Connection interface.
type Connection struct {
	tenant      string
	proc        *process
	sink        outbound.EventSink
	sendTimeout time.Duration
	logger      *slog.Logger

	writeMu sync.Mutex
	enc     *json.Encoder

	mu      sync.Mutex
	pending map[string]chan ackResult
	closed  bool

	ready      chan struct{}
	readerDone chan struct{}
	closeOnce  sync.Once
	closeErr   error
}

// Send delivers body to the routable address to and waits for the
// bridge's ack.
func (c *Connection) Send(ctx context.Context, to, body string) error {
	return c.request(ctx, outFrame{Type: frameSend, To: to, Body: body})
}

// Logout asks the bridge to unlink the device and waits for the ack.
func (c *Connection) Logout(ctx context.Context) error {
	return c.request(ctx, outFrame{Type: frameLogout})
}

func (c *Connection) request(ctx context.Context, frame outFrame) error {
	frame.ID = uuid.NewString()
	ch := make(chan ackResult, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	c.pending[frame.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, frame.ID)
		c.mu.Unlock()
	}()

	if err := c.write(frame); err != nil {
		return fmt.Errorf("write %s: %w", frame.Type, err)
	}

	timer := time.NewTimer(c.sendTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if !res.ok {
			if res.err == "" {
				res.err = "rejected by bridge"
			}
			return fmt.Errorf("%s: %s", frame.Type, res.err)
		}
		return nil
	case <-c.readerDone:
		return ErrConnectionClosed
	case <-timer.C:
		return fmt.Errorf("%s: timed out after %s", frame.Type, c.sendTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) write(frame outFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.enc.Encode(frame)
}

// Close stops the bridge without logging out. The sink is not told about
// the closure.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		var errs []error
		if err := c.proc.stdin.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stdin: %w", err))
		}
		if err := c.proc.kill(); err != nil {
			errs = append(errs, fmt.Errorf("kill bridge: %w", err))
		}
		// Wait reaps the process and closes stdout, which ends readLoop.
		_ = c.proc.wait()
		<-c.readerDone
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) readLoop() {
	defer close(c.readerDone)

	scanner := bufio.NewScanner(c.proc.stdout)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	sawClose := false
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var frame inFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			c.logger.Warn("bad bridge frame", "tenant", c.tenant, "error", err)
			continue
		}

		if frame.Type == frameAck {
			c.resolve(frame)
			continue
		}

		<-c.ready
		if c.isClosed() {
			continue
		}
		switch frame.Type {
		case frameQR:
			c.sink.BootstrapToken(frame.Token)
		case frameOpen:
			c.sink.Connected()
		case frameClose:
			sawClose = true
			c.sink.Closed(chat.CloseReason{Code: frame.Code, Message: frame.Message})
		case frameMessage:
			c.sink.Inbound(frame.inbound())
		case frameCreds:
			c.sink.CredentialsUpdated(frame.Update)
		default:
			c.logger.Debug("unknown bridge frame", "tenant", c.tenant, "type", frame.Type)
		}
		if sawClose {
			break
		}
	}

	if err := scanner.Err(); err != nil && !c.isClosed() {
		c.logger.Warn("read bridge output", "tenant", c.tenant, "error", err)
	}
	if !sawClose && !c.isClosed() {
		<-c.ready
		c.sink.Closed(chat.CloseReason{Code: chat.CloseConnectionLost, Message: "bridge exited"})
	}
	if sawClose {
		// Drain so the bridge never blocks writing after its close frame.
		_, _ = io.Copy(io.Discard, c.proc.stdout)
	}
}

func (c *Connection) resolve(frame inFrame) {
	c.mu.Lock()
	ch, ok := c.pending[frame.ID]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- ackResult{ok: frame.OK, err: frame.Error}:
	default:
	}
}

// Compile-time interface verification.
var (
	_ outbound.Connector  = (*Connector)(nil)
	_ outbound.Connection = (*Connection)(nil)
)

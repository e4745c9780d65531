package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Sayan19951995/metricon-sub002/internal/domain/chat"
	"github.com/Sayan19951995/metricon-sub002/internal/domain/credential"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeBridge is an in-memory bridge process.
type fakeBridge struct {
	cmdR   *io.PipeReader
	eventW *io.PipeWriter
	proc   *process
	frames chan outFrame

	exited   chan struct{}
	exitOnce sync.Once
	writeMu  sync.Mutex
}

func newFakeBridge() *fakeBridge {
	cmdR, cmdW := io.Pipe()
	eventR, eventW := io.Pipe()
	fb := &fakeBridge{
		cmdR:   cmdR,
		eventW: eventW,
		frames: make(chan outFrame, 16),
		exited: make(chan struct{}),
	}
	fb.proc = &process{
		stdin:  cmdW,
		stdout: eventR,
		wait: func() error {
			<-fb.exited
			return nil
		},
		kill: func() error {
			fb.exit()
			return nil
		},
	}
	go fb.readCommands()
	return fb
}

func (fb *fakeBridge) readCommands() {
	dec := json.NewDecoder(fb.cmdR)
	for {
		var f outFrame
		if err := dec.Decode(&f); err != nil {
			return
		}
		select {
		case fb.frames <- f:
		case <-fb.exited:
			return
		}
	}
}

func (fb *fakeBridge) emit(t *testing.T, frame string) {
	t.Helper()
	fb.writeMu.Lock()
	defer fb.writeMu.Unlock()
	if _, err := io.WriteString(fb.eventW, frame+"\n"); err != nil {
		t.Fatalf("emit %s: %v", frame, err)
	}
}

func (fb *fakeBridge) next(t *testing.T) outFrame {
	t.Helper()
	select {
	case f := <-fb.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame from connector")
		return outFrame{}
	}
}

// exit simulates the bridge process ending.
func (fb *fakeBridge) exit() {
	fb.exitOnce.Do(func() {
		close(fb.exited)
		_ = fb.eventW.Close()
		_ = fb.cmdR.Close()
	})
}

func newTestConnector(fb *fakeBridge, sendTimeout time.Duration) *Connector {
	return &Connector{
		sendTimeout: sendTimeout,
		logger:      testLogger(),
		start:       func(string) (*process, error) { return fb.proc, nil },
	}
}

// recordingSink records events as strings.
type recordingSink struct {
	events chan string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{events: make(chan string, 32)}
}

func (s *recordingSink) BootstrapToken(token string) { s.events <- "qr:" + token }
func (s *recordingSink) Connected()                  { s.events <- "open" }
func (s *recordingSink) Closed(r chat.CloseReason)   { s.events <- fmt.Sprintf("close:%d", r.Code) }
func (s *recordingSink) Inbound(m chat.InboundMessage) {
	s.events <- fmt.Sprintf("message:%s:%s:%s:%d", m.ID, m.From, m.Response, m.Timestamp.Unix())
}
func (s *recordingSink) CredentialsUpdated(u credential.State) {
	s.events <- "creds:" + string(u["creds"])
}

func (s *recordingSink) next(t *testing.T) string {
	t.Helper()
	select {
	case ev := <-s.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event on sink")
		return ""
	}
}

func (s *recordingSink) none(t *testing.T) {
	t.Helper()
	select {
	case ev := <-s.events:
		t.Errorf("unexpected event %q", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestConnector_OpenSendsHelloAndForwardsEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	fb := newFakeBridge()
	sink := newRecordingSink()
	auth := credential.State{"creds": json.RawMessage(`{"me":"x"}`)}

	conn, err := newTestConnector(fb, time.Second).Open(context.Background(), "s1", auth, sink)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = conn.Close() }()

	hello := fb.next(t)
	if hello.Type != frameHello || hello.Tenant != "s1" || string(hello.Auth["creds"]) != `{"me":"x"}` {
		t.Fatalf("hello = %+v", hello)
	}

	fb.emit(t, `{"type":"qr","token":"2@abc"}`)
	fb.emit(t, `{"type":"creds","update":{"creds":{"registered":true}}}`)
	fb.emit(t, `{"type":"open"}`)
	fb.emit(t, `{"type":"message","id":"m1","from":"77011234567@s.whatsapp.net","body":"","response":{"option":"5"},"timestamp":1767225600}`)

	want := []string{
		"qr:2@abc",
		`creds:{"registered":true}`,
		"open",
		`message:m1:77011234567@s.whatsapp.net:{"option":"5"}:1767225600`,
	}
	for _, w := range want {
		if got := sink.next(t); got != w {
			t.Errorf("event = %q, want %q", got, w)
		}
	}
}

func TestConnector_SendWaitsForAck(t *testing.T) {
	defer goleak.VerifyNone(t)

	fb := newFakeBridge()
	conn, err := newTestConnector(fb, time.Second).Open(context.Background(), "s1", nil, newRecordingSink())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()
	fb.next(t) // hello

	go func() {
		acks := []string{`"ok":true`, `"ok":false,"error":"not on network"`}
		for _, ack := range acks {
			select {
			case f := <-fb.frames:
				_, _ = io.WriteString(fb.eventW, fmt.Sprintf(`{"type":"ack","id":%q,%s}`+"\n", f.ID, ack))
			case <-fb.exited:
				return
			}
		}
	}()

	if err := conn.Send(context.Background(), "77011234567@s.whatsapp.net", "hi"); err != nil {
		t.Errorf("Send() error = %v", err)
	}
	err = conn.Send(context.Background(), "77000000000@s.whatsapp.net", "hi")
	if err == nil || !strings.Contains(err.Error(), "not on network") {
		t.Errorf("Send() error = %v, want rejection", err)
	}
}

func TestConnector_SendTimeout(t *testing.T) {
	fb := newFakeBridge()
	conn, err := newTestConnector(fb, 20*time.Millisecond).Open(context.Background(), "s1", nil, newRecordingSink())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	err = conn.Send(context.Background(), "77011234567@s.whatsapp.net", "hi")
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("Send() error = %v, want timeout", err)
	}
}

func TestConnector_BridgeExitIsConnectionLoss(t *testing.T) {
	defer goleak.VerifyNone(t)

	fb := newFakeBridge()
	sink := newRecordingSink()
	conn, err := newTestConnector(fb, time.Second).Open(context.Background(), "s1", nil, sink)
	if err != nil {
		t.Fatal(err)
	}
	fb.next(t) // hello

	fb.exit()
	if got := sink.next(t); got != fmt.Sprintf("close:%d", chat.CloseConnectionLost) {
		t.Errorf("event = %q, want connection lost", got)
	}
	if err := conn.Send(context.Background(), "x@s.whatsapp.net", "hi"); err == nil {
		t.Error("Send() after bridge exit succeeded")
	}
	_ = conn.Close()
}

func TestConnector_CloseFrameReportedOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	fb := newFakeBridge()
	sink := newRecordingSink()
	conn, err := newTestConnector(fb, time.Second).Open(context.Background(), "s1", nil, sink)
	if err != nil {
		t.Fatal(err)
	}
	fb.next(t) // hello

	fb.emit(t, `{"type":"close","code":401,"message":"logged out"}`)
	if got := sink.next(t); got != "close:401" {
		t.Errorf("event = %q, want close:401", got)
	}
	fb.exit()
	sink.none(t)
	_ = conn.Close()
}

func TestConnector_CloseIsSilent(t *testing.T) {
	defer goleak.VerifyNone(t)

	fb := newFakeBridge()
	sink := newRecordingSink()
	conn, err := newTestConnector(fb, time.Second).Open(context.Background(), "s1", nil, sink)
	if err != nil {
		t.Fatal(err)
	}
	fb.next(t) // hello

	if err := conn.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	sink.none(t)
	if err := conn.Logout(context.Background()); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Logout() after Close error = %v", err)
	}
}

func TestConnector_StartFailure(t *testing.T) {
	c := NewConnector(Config{Command: "/nonexistent/metricon-bridge"}, testLogger())
	if _, err := c.Open(context.Background(), "s1", nil, newRecordingSink()); err == nil {
		t.Fatal("Open() with missing command succeeded")
	}
}

func TestConnector_OpenCanceledContext(t *testing.T) {
	fb := newFakeBridge()
	defer fb.exit()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newTestConnector(fb, time.Second).Open(ctx, "s1", nil, newRecordingSink()); !errors.Is(err, context.Canceled) {
		t.Errorf("Open() error = %v, want context.Canceled", err)
	}
}

package service

import (
	"sync"

	"github.com/Sayan19951995/metricon-sub002/internal/domain/chat"
	"github.com/Sayan19951995/metricon-sub002/internal/domain/credential"
)

type connEventKind int

const (
	eventToken connEventKind = iota
	eventConnected
	eventClosed
	eventInbound
	eventCreds
)

type connEvent struct {
	kind    connEventKind
	token   string
	reason  chat.CloseReason
	message chat.InboundMessage
	creds   credential.State
}

const connEventBuffer = 64

// connSink queues the events of one connection for the session's pump
// goroutine. Once stopped, further events are discarded.
type connSink struct {
	events   chan connEvent
	stopped  chan struct{}
	stopOnce sync.Once
}

func newConnSink() *connSink {
	return &connSink{
		events:  make(chan connEvent, connEventBuffer),
		stopped: make(chan struct{}),
	}
}

func (s *connSink) stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

func (s *connSink) push(ev connEvent) {
	select {
	case <-s.stopped:
		return
	default:
	}
	select {
	case s.events <- ev:
	case <-s.stopped:
	}
}

func (s *connSink) BootstrapToken(token string) {
	s.push(connEvent{kind: eventToken, token: token})
}

func (s *connSink) Connected() {
	s.push(connEvent{kind: eventConnected})
}

func (s *connSink) Closed(reason chat.CloseReason) {
	s.push(connEvent{kind: eventClosed, reason: reason})
}

func (s *connSink) Inbound(msg chat.InboundMessage) {
	s.push(connEvent{kind: eventInbound, message: msg})
}

func (s *connSink) CredentialsUpdated(update credential.State) {
	s.push(connEvent{kind: eventCreds, creds: update.Clone()})
}

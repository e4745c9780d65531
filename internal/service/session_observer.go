package service

import (
	"time"

	"github.com/Sayan19951995/metricon-sub002/internal/domain/chat"
)

// SessionObserver is notified of session lifecycle events. Implementations
// must be safe for concurrent use and must not block.
type SessionObserver interface {
	ConnectStarted()
	ConnectFinished(ok bool, elapsed time.Duration)
	ConnectionClosed(reason chat.CloseReason)
	SessionEvicted()
	MessageSent(ok bool)
	InboundReceived()
}

type noopObserver struct{}

func (noopObserver) ConnectStarted()                     {}
func (noopObserver) ConnectFinished(bool, time.Duration) {}
func (noopObserver) ConnectionClosed(chat.CloseReason)   {}
func (noopObserver) SessionEvicted()                     {}
func (noopObserver) MessageSent(bool)                    {}
func (noopObserver) InboundReceived()                    {}

// Observers returns an observer that forwards every event to each of obs in
// order. Nil entries are skipped.
func Observers(obs ...SessionObserver) SessionObserver {
	var list multiObserver
	for _, o := range obs {
		if o != nil {
			list = append(list, o)
		}
	}
	switch len(list) {
	case 0:
		return noopObserver{}
	case 1:
		return list[0]
	}
	return list
}

type multiObserver []SessionObserver

func (m multiObserver) ConnectStarted() {
	for _, o := range m {
		o.ConnectStarted()
	}
}

func (m multiObserver) ConnectFinished(ok bool, elapsed time.Duration) {
	for _, o := range m {
		o.ConnectFinished(ok, elapsed)
	}
}

func (m multiObserver) ConnectionClosed(reason chat.CloseReason) {
	for _, o := range m {
		o.ConnectionClosed(reason)
	}
}

func (m multiObserver) SessionEvicted() {
	for _, o := range m {
		o.SessionEvicted()
	}
}

func (m multiObserver) MessageSent(ok bool) {
	for _, o := range m {
		o.MessageSent(ok)
	}
}

func (m multiObserver) InboundReceived() {
	for _, o := range m {
		o.InboundReceived()
	}
}

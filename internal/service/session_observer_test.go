package service

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sayan19951995/metricon-sub002/internal/domain/chat"
)

type countingObserver struct {
	started, finished, closed, evicted, sent, inbound atomic.Int32
}

func (c *countingObserver) ConnectStarted()                     { c.started.Add(1) }
func (c *countingObserver) ConnectFinished(bool, time.Duration) { c.finished.Add(1) }
func (c *countingObserver) ConnectionClosed(chat.CloseReason)   { c.closed.Add(1) }
func (c *countingObserver) SessionEvicted()                     { c.evicted.Add(1) }
func (c *countingObserver) MessageSent(bool)                    { c.sent.Add(1) }
func (c *countingObserver) InboundReceived()                    { c.inbound.Add(1) }

func TestObservers_FansOut(t *testing.T) {
	a, b := &countingObserver{}, &countingObserver{}
	obs := Observers(a, nil, b)

	obs.ConnectStarted()
	obs.ConnectFinished(true, time.Second)
	obs.ConnectionClosed(chat.CloseReason{Code: chat.CloseLoggedOut})
	obs.SessionEvicted()
	obs.MessageSent(false)
	obs.InboundReceived()

	for name, c := range map[string]*countingObserver{"a": a, "b": b} {
		got := []int32{c.started.Load(), c.finished.Load(), c.closed.Load(), c.evicted.Load(), c.sent.Load(), c.inbound.Load()}
		for i, n := range got {
			if n != 1 {
				t.Errorf("observer %s event %d count = %d, want 1", name, i, n)
			}
		}
	}
}

func TestObservers_Collapses(t *testing.T) {
	if _, ok := Observers().(noopObserver); !ok {
		t.Error("Observers() should return the no-op observer")
	}
	if _, ok := Observers(nil, nil).(noopObserver); !ok {
		t.Error("Observers(nil, nil) should return the no-op observer")
	}
	a := &countingObserver{}
	if got := Observers(a); got != a {
		t.Error("Observers(a) should return a itself")
	}
}

////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package event delivers typed notifications from the messenger to its
// subscribers on a dedicated thread.
package event

import (
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/parley/stoppable"
)

const eventBufferSize = 1000

type subscription struct {
	cb    Callback
	kinds map[Kind]struct{}
}

func (s subscription) wants(k Kind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

// Manager buffers reported events and fans them out to subscribers.
type Manager struct {
	eventCh chan Event
	subs    sync.Map
}

func NewEventManager() *Manager {
	return &Manager{
		eventCh: make(chan Event, eventBufferSize),
	}
}

// Report queues the event without blocking. Events reported while the buffer
// is full are logged and dropped.
func (m *Manager) Report(e Event) {
	select {
	case m.eventCh <- e:
		jww.TRACE.Printf("Event reported: %s", e)
	default:
		jww.ERROR.Printf("Event queue full, unable to report: %s", e)
	}
}

// RegisterEventCallback subscribes cb under a unique name. When kinds are
// given only those kinds are delivered.
func (m *Manager) RegisterEventCallback(
	name string, cb Callback, kinds ...Kind) error {
	sub := subscription{cb: cb}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}

	if _, exists := m.subs.LoadOrStore(name, sub); exists {
		return errors.Errorf("event callback %q already registered", name)
	}
	return nil
}

// UnregisterEventCallback removes the named subscriber. Unknown names are
// ignored.
func (m *Manager) UnregisterEventCallback(name string) {
	m.subs.Delete(name)
}

// EventService starts the delivery thread.
func (m *Manager) EventService() (stoppable.Stoppable, error) {
	stop := stoppable.NewSingle("EventReporting")
	go m.reportEventsHandler(stop)
	return stop, nil
}

func (m *Manager) reportEventsHandler(stop *stoppable.Single) {
	jww.DEBUG.Print("reportEventsHandler routine started")
	for {
		select {
		case <-stop.Quit():
			jww.DEBUG.Print("Stopping reportEventsHandler")
			stop.ToStopped()
			return
		case e := <-m.eventCh:
			m.dispatch(e)
		}
	}
}

// dispatch hands the event to each interested subscriber in turn.
func (m *Manager) dispatch(e Event) {
	m.subs.Range(func(name, value interface{}) bool {
		sub := value.(subscription)
		if sub.wants(e.Kind()) {
			deliver(name.(string), sub.cb, e)
		}
		return true
	})
}

// deliver isolates one subscriber so that its panic cannot stop the others.
func deliver(name string, cb Callback, e Event) {
	defer func() {
		if r := recover(); r != nil {
			jww.ERROR.Printf("Event callback %q panicked on %s: %v", name, e, r)
		}
	}()
	cb(e)
}

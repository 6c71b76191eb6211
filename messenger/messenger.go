////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package messenger is the entry point of the library. A Messenger owns one
// identity and wires the discussion lifecycle, the message pipeline and the
// refresh scheduler around a shared per-peer queue. Hosts subscribe to its
// events and call its operations.
package messenger

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/id"

	"gitlab.com/elixxir/parley/auth"
	"gitlab.com/elixxir/parley/dm"
	"gitlab.com/elixxir/parley/event"
	"gitlab.com/elixxir/parley/queue"
	"gitlab.com/elixxir/parley/refresh"
	"gitlab.com/elixxir/parley/session"
	"gitlab.com/elixxir/parley/storage"
	"gitlab.com/elixxir/parley/storage/versioned"
	"gitlab.com/elixxir/parley/transport"
)

const ownerPrefix = "Owner"

// Deps are the external collaborators of a Messenger.
type Deps struct {
	Store     storage.Store
	KV        *versioned.KV
	Module    session.Module
	Transport transport.Transport
	Keys      session.Keys

	// BlobKey encrypts the session engine state at rest.
	BlobKey []byte
}

// Messenger is one identity's running instance.
type Messenger struct {
	keys    session.Keys
	owner   *id.ID
	store   storage.Store
	module  session.Module
	persist *session.Persister
	queue   *queue.Queue[id.ID]
	events  *event.Manager

	auth      *auth.State
	dm        *dm.Manager
	refresher *refresh.Refresher
	scheduler *refresh.Scheduler
	services  *services
	params    Params

	// renewing holds peers with a renewal in flight
	renewing sync.Map
	renewals *renewals
}

// NewSQLite opens the relational store at path. An empty path opens a
// temporary in-memory database.
func NewSQLite(path string) (storage.Store, error) {
	return storage.NewStore(path)
}

// NewFilestore opens the encrypted key-value store in dir.
func NewFilestore(dir, password string) (*versioned.KV, error) {
	return versioned.NewFilestoreKV(dir, password)
}

// Open wires a Messenger. The session engine state is restored from the KV,
// and sends interrupted by an earlier shutdown are recovered according to
// Params.DM.InterruptedSendPolicy. Background services are not started.
func Open(params Params, deps Deps) (*Messenger, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("cannot open messenger without a store")
	case deps.Module == nil:
		return nil, errors.New("cannot open messenger without a session module")
	case deps.Transport == nil:
		return nil, errors.New("cannot open messenger without a transport")
	case len(deps.Keys.Public) == 0 || len(deps.Keys.Secret) == 0:
		return nil, errors.New("cannot open messenger without identity keys")
	case len(deps.BlobKey) == 0:
		return nil, errors.New("cannot open messenger without a blob key")
	}

	kv := deps.KV
	if kv == nil {
		jww.WARN.Printf("No key-value store given, session state will " +
			"not survive a restart")
		kv = versioned.NewMemKV()
	}

	// One KV can hold the session state of several identities
	owner := deps.Keys.OwnerID()
	persist := session.NewPersister(deps.Module,
		kv.Prefix(ownerPrefix+owner.HexEncode()), deps.BlobKey)
	restored, err := persist.Restore()
	if err != nil {
		return nil, err
	}
	persist.Register()

	net := transport.NewLimited(deps.Transport, params.SendRate)

	m := &Messenger{
		keys:     deps.Keys,
		owner:    owner,
		store:    deps.Store,
		module:   deps.Module,
		persist:  persist,
		queue:    queue.New[id.ID](),
		events:   event.NewEventManager(),
		services: newServices(),
		renewals: newRenewals(),
		params:   params,
	}

	m.auth = auth.NewState(m.keys, m.store, m.module, persist, net, m.queue,
		m.events, params.Auth)
	m.dm = dm.NewManager(m.keys, m.store, m.module, persist, net, m.queue,
		m.events, params.DM)
	m.refresher = refresh.NewRefresher(m.owner, m.module, m.dm,
		m.scheduleRenewal, m.events)
	m.scheduler = refresh.NewScheduler(m.events, m.jobs()...)

	if err = m.services.add(m.events.EventService); err != nil {
		return nil, err
	}
	if err = m.services.add(m.scheduler.StartService); err != nil {
		return nil, err
	}

	recovered, err := m.dm.RecoverInterrupted()
	if err != nil {
		return nil, err
	}

	jww.INFO.Printf("Opened messenger for %s (restored session state: %t, "+
		"recovered %d interrupted sends)", m.owner, restored, recovered)
	return m, nil
}

// jobs lists the periodic tasks. The refresh cycle and announcement
// ingestion never overlap, so a cycle never sees a handshake half applied.
func (m *Messenger) jobs() []refresh.Job {
	p := m.params.Refresh
	return []refresh.Job{
		{
			Kind:      refresh.Refresh,
			Period:    p.RefreshPeriod,
			Exclusive: true,
			Run:       m.runRefresh,
		},
		{
			Kind:      refresh.Announcements,
			Period:    p.AnnouncementPeriod,
			Exclusive: true,
			Run: func(ctx context.Context) error {
				_, err := m.FetchAnnouncements(ctx)
				return err
			},
		},
		{
			Kind:   refresh.Messages,
			Period: p.MessagePeriod,
			Run: func(ctx context.Context) error {
				_, err := m.dm.FetchMessages(ctx)
				return err
			},
		},
		{
			Kind:   refresh.Retry,
			Period: p.RetryPeriod,
			Run:    m.runRetry,
		},
	}
}

// ID returns the owner's ID.
func (m *Messenger) ID() *id.ID {
	return m.owner
}

// PublicKey returns the owner's public key, which peers need to start a
// discussion.
func (m *Messenger) PublicKey() []byte {
	return m.keys.Public
}

// Start starts event delivery and the periodic tasks. timeout bounds how
// long a later Stop waits for them.
func (m *Messenger) Start(timeout time.Duration) error {
	jww.INFO.Printf("Start() for %s", m.owner)
	if err := m.services.start(timeout); err != nil {
		return err
	}
	m.renewals.resume()
	return nil
}

// Stop stops the periodic tasks and cancels background renewals. Peer tasks
// that have not started are dropped, and tasks already running are allowed
// to finish.
func (m *Messenger) Stop() error {
	jww.INFO.Printf("Stop() for %s", m.owner)
	m.renewals.halt()
	err := m.services.stop()
	if waitErr := m.drain(); err == nil {
		err = waitErr
	}
	return err
}

// drain waits for halted renewals to return, then drops the peer tasks still
// queued.
func (m *Messenger) drain() error {
	err := m.renewals.wait(m.params.StopTimeout)
	if err != nil {
		jww.ERROR.Printf("%+v", err)
	}
	if dropped := m.queue.Clear(); dropped > 0 {
		jww.INFO.Printf("Dropped %d queued peer tasks", dropped)
	}
	return err
}

// Status returns the state of the background services.
func (m *Messenger) Status() Status {
	return m.services.status()
}

// Close stops the Messenger if it is running, waits for background renewals
// and pending session writes, and closes the store.
func (m *Messenger) Close() error {
	if m.Status() == Running {
		if err := m.Stop(); err != nil {
			return err
		}
	} else {
		m.renewals.halt()
		if err := m.drain(); err != nil {
			return err
		}
	}
	if err := m.persist.Flush(); err != nil {
		jww.ERROR.Printf("Failed to persist session state on close: %+v", err)
	}
	return m.store.Close()
}

// Trigger runs the periodic task now, on its own thread, unless a run is
// already pending. The services must be running.
func (m *Messenger) Trigger(k refresh.Kind) bool {
	return m.scheduler.Trigger(k)
}

// RegisterEventCallback subscribes cb under a unique name. When kinds are
// given only those kinds are delivered. Events are delivered while the
// Messenger is started.
func (m *Messenger) RegisterEventCallback(name string, cb event.Callback,
	kinds ...event.Kind) error {
	return m.events.RegisterEventCallback(name, cb, kinds...)
}

// UnregisterEventCallback removes the named subscriber.
func (m *Messenger) UnregisterEventCallback(name string) {
	m.events.UnregisterEventCallback(name)
}

func (m *Messenger) runRefresh(ctx context.Context) error {
	discussions, err := m.store.Discussions(m.owner)
	if err != nil {
		return err
	}
	return m.refresher.HandleSessionRefresh(ctx, discussions)
}

// runRetry republishes handshakes the transport refused and sends messages
// left waiting on sessions that are usable.
func (m *Messenger) runRetry(ctx context.Context) error {
	if _, err := m.auth.RetryPendingAnnouncements(ctx); err != nil {
		return err
	}

	active, err := m.store.DiscussionsByStatus(m.owner, storage.DiscussionActive)
	if err != nil {
		return err
	}
	for _, d := range active {
		peer := d.Peer()
		if peer == nil || !m.auth.IsStable(m.owner, peer) {
			continue
		}
		if _, err = m.dm.ProcessWaitingMessages(ctx, peer); err != nil {
			jww.WARN.Printf("Failed to send waiting messages to %s: %+v",
				peer, err)
		}
	}
	return nil
}

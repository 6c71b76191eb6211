////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package dm is the direct message delivery pipeline. Outgoing messages are
// parked while the session with their peer is unusable and sent in creation
// order once it is. Every send for one peer runs in that peer's slot of the
// shared per-peer queue, since each send advances the session.
package dm

import (
	"time"
	"unicode/utf8"

	jww "github.com/spf13/jwalterweatherman"
	"go.uber.org/ratelimit"
	"gitlab.com/xx_network/primitives/id"
	"gitlab.com/xx_network/primitives/netTime"

	"gitlab.com/elixxir/parley/event"
	"gitlab.com/elixxir/parley/queue"
	"gitlab.com/elixxir/parley/session"
	"gitlab.com/elixxir/parley/storage"
	"gitlab.com/elixxir/parley/transport"
)

// Manager sends and receives the owner's direct messages.
type Manager struct {
	keys    session.Keys
	owner   *id.ID
	store   storage.Store
	module  session.Module
	persist session.Flusher
	net     transport.Transport
	queue   *queue.Queue[id.ID]
	event   event.Reporter
	params  Params

	resendPace *transport.Pacer
	fetch      queue.Guard
}

// NewManager builds the pipeline. The queue must be the one the discussion
// lifecycle uses.
func NewManager(keys session.Keys, store storage.Store, module session.Module,
	persist session.Flusher, net transport.Transport,
	q *queue.Queue[id.ID], reporter event.Reporter, params Params) *Manager {
	limit := ratelimit.NewUnlimited()
	if params.ResendRate > 0 {
		limit = ratelimit.New(params.ResendRate, ratelimit.WithoutSlack)
	}
	return &Manager{
		keys:       keys,
		owner:      keys.OwnerID(),
		store:      store,
		module:     module,
		persist:    persist,
		net:        net,
		queue:      q,
		event:      reporter,
		params:     params,
		resendPace: transport.NewPacer(limit),
	}
}

// Messages lists the user-visible messages with the peer, oldest first.
func (m *Manager) Messages(peer *id.ID) ([]*storage.Message, error) {
	return m.store.Messages(m.owner, peer)
}

// MarkRead marks every delivered incoming message from the peer read and
// resets the discussion's unread counter.
func (m *Manager) MarkRead(peer *id.ID) (int64, error) {
	return queue.Run(m.queue, *peer, func() (int64, error) {
		n, err := m.store.MarkIncomingRead(m.owner, peer)
		if err != nil {
			return 0, err
		}
		_, err = m.store.UpdateDiscussion(m.owner, peer,
			func(d *storage.Discussion) error {
				d.UnreadCount = 0
				return nil
			})
		return n, err
	})
}

// RecoverInterrupted normalises messages left in Sending by a previous run.
// It must be called before any send is started.
func (m *Manager) RecoverInterrupted() (int64, error) {
	to := storage.Failed
	if m.params.InterruptedSendPolicy == RecoverAsWaiting {
		to = storage.WaitingSession
	}
	n, err := m.store.ResetSending(m.owner, to)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		jww.WARN.Printf("[DM] Recovered %d interrupted sends as %s", n, to)
	}
	return n, nil
}

// InvalidateCache drops the cached ciphertexts of the peer's unsent
// messages. A renewed session cannot decrypt them.
func (m *Manager) InvalidateCache(peer *id.ID) error {
	_, err := queue.Run(m.queue, *peer, func() (int64, error) {
		return m.store.InvalidatePayloads(m.owner, peer)
	})
	return err
}

// updateLastMessage records msg as the discussion's latest message.
func (m *Manager) updateLastMessage(peer *id.ID, msg *storage.Message,
	incoming bool) {
	_, err := m.store.UpdateDiscussion(m.owner, peer,
		func(d *storage.Discussion) error {
			d.LastMessageID = msg.ID
			d.LastMessagePreview = preview(msg, m.params.PreviewLength)
			at := msg.Timestamp
			d.LastMessageAt = &at
			if incoming {
				d.UnreadCount++
				d.LastSyncAt = timestamp()
			}
			return nil
		})
	if err != nil {
		jww.WARN.Printf("[DM] Failed to update last message of discussion "+
			"with %s: %+v", peer, err)
	}
}

func preview(msg *storage.Message, length int) string {
	if msg.Type != storage.Text {
		return "[" + msg.Type.String() + "]"
	}
	text := string(msg.Content)
	if length <= 0 || utf8.RuneCountInString(text) <= length {
		return text
	}
	return string([]rune(text)[:length]) + "…"
}

func timestamp() *time.Time {
	t := netTime.Now()
	return &t
}

////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package messenger

import (
	"context"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/id"

	"gitlab.com/elixxir/parley/auth"
	"gitlab.com/elixxir/parley/dm"
	"gitlab.com/elixxir/parley/event"
	"gitlab.com/elixxir/parley/session"
	"gitlab.com/elixxir/parley/storage"
)

////////////////////////////////////////////////////////////////////////////////
// Discussions                                                                //
////////////////////////////////////////////////////////////////////////////////

// Initiate starts a discussion with the contact. See auth.State.Initiate.
func (m *Messenger) Initiate(ctx context.Context, contact auth.ContactInfo,
	message string) (*storage.Discussion, error) {
	return m.auth.Initiate(ctx, contact, message)
}

// Accept accepts the peer's pending request and sends the messages that
// were waiting for the session.
func (m *Messenger) Accept(ctx context.Context, peer *id.ID) (*storage.Discussion, error) {
	d, err := m.auth.Accept(ctx, peer)
	if err != nil {
		return nil, err
	}
	m.onActive(ctx, peer)
	return d, nil
}

// Renew replaces the session with the peer. Waiting messages are sent once
// the session is usable, which may only be after the peer answers.
func (m *Messenger) Renew(ctx context.Context, peer *id.ID) error {
	if err := m.auth.Renew(ctx, peer); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.WithMessagef(err,
			"renewed %s but not sending waiting messages", peer)
	}
	m.onActive(ctx, peer)
	return nil
}

// CloseDiscussion ends the discussion with the peer.
func (m *Messenger) CloseDiscussion(peer *id.ID) error {
	return m.auth.Close(peer)
}

// RemoveContact closes the discussion with the peer and deletes the peer's
// contact, discussion and messages.
func (m *Messenger) RemoveContact(peer *id.ID) error {
	return m.auth.RemoveContact(peer)
}

// IsStable reports whether messages to the peer would be sent right away.
func (m *Messenger) IsStable(peer *id.ID) bool {
	return m.auth.IsStable(m.owner, peer)
}

// Discussion returns the discussion with the peer.
func (m *Messenger) Discussion(peer *id.ID) (*storage.Discussion, error) {
	return m.auth.Discussion(peer)
}

// Discussions lists every discussion of the owner.
func (m *Messenger) Discussions() ([]*storage.Discussion, error) {
	return m.store.Discussions(m.owner)
}

// Contacts lists every contact of the owner.
func (m *Messenger) Contacts() ([]*storage.Contact, error) {
	return m.store.Contacts(m.owner)
}

// FetchAnnouncements ingests published announcements and sends the waiting
// messages of every peer whose session became usable.
func (m *Messenger) FetchAnnouncements(ctx context.Context) (auth.IngestResult, error) {
	result, err := m.auth.FetchAndProcess(ctx)
	if err != nil {
		return result, err
	}
	for _, peer := range result.Activated {
		m.onActive(ctx, peer)
	}
	return result, nil
}

// QueueAnnouncement adds announcement data received out of band to the inbox
// read by the next FetchAnnouncements. Returns false for data already
// queued.
func (m *Messenger) QueueAnnouncement(data []byte) (bool, error) {
	return m.store.AddPendingAnnouncement(m.owner, data)
}

////////////////////////////////////////////////////////////////////////////////
// Messages                                                                   //
////////////////////////////////////////////////////////////////////////////////

// Send sends the draft. See dm.Manager.Send.
func (m *Messenger) Send(ctx context.Context, draft dm.Draft) (*dm.SendReport, error) {
	return m.dm.Send(ctx, draft)
}

// SendText sends a text message to the peer.
func (m *Messenger) SendText(ctx context.Context, peer *id.ID,
	text string) (*dm.SendReport, error) {
	return m.dm.SendText(ctx, peer, text)
}

// Reply sends a text message referencing the earlier message replyTo.
func (m *Messenger) Reply(ctx context.Context, peer *id.ID, text string,
	replyTo uint64) (*dm.SendReport, error) {
	return m.dm.Reply(ctx, peer, text, replyTo)
}

// Forward sends a copy of an earlier message to the peer.
func (m *Messenger) Forward(ctx context.Context, peer *id.ID,
	messageID uint64) (*dm.SendReport, error) {
	return m.dm.Forward(ctx, peer, messageID)
}

// Resend sends the given failed messages again, grouped by peer.
func (m *Messenger) Resend(ctx context.Context,
	failed map[id.ID][]uint64) (dm.ResendReport, error) {
	return m.dm.Resend(ctx, failed)
}

// ResendAllFailed sends every failed outgoing message again.
func (m *Messenger) ResendAllFailed(ctx context.Context) (dm.ResendReport, error) {
	return m.dm.ResendAllFailed(ctx)
}

// ProcessWaitingMessages sends the peer's waiting messages in creation
// order and returns how many were transmitted.
func (m *Messenger) ProcessWaitingMessages(ctx context.Context,
	peer *id.ID) (int, error) {
	return m.dm.ProcessWaitingMessages(ctx, peer)
}

// FetchMessages fetches and stores incoming messages.
func (m *Messenger) FetchMessages(ctx context.Context) (dm.FetchResult, error) {
	return m.dm.FetchMessages(ctx)
}

// QueueMessage adds message data received out of band to the inbox read by
// the next FetchMessages. Returns false for data already queued.
func (m *Messenger) QueueMessage(seeker, data []byte) (bool, error) {
	return m.store.AddPendingMessage(m.owner, seeker, data)
}

// Messages lists the messages exchanged with the peer, oldest first.
func (m *Messenger) Messages(peer *id.ID) ([]*storage.Message, error) {
	return m.dm.Messages(peer)
}

// MarkRead marks the peer's incoming messages read and returns how many
// changed.
func (m *Messenger) MarkRead(peer *id.ID) (int64, error) {
	return m.dm.MarkRead(peer)
}

////////////////////////////////////////////////////////////////////////////////
// Session changes                                                            //
////////////////////////////////////////////////////////////////////////////////

// onActive runs after a handshake with the peer completed on our side.
// Ciphertext cached under the old session is dropped, and waiting messages
// are sent if the session is usable.
func (m *Messenger) onActive(ctx context.Context, peer *id.ID) {
	if err := m.dm.InvalidateCache(peer); err != nil {
		jww.WARN.Printf("Failed to invalidate cached payloads for %s: %+v",
			peer, err)
	}
	if !m.auth.IsStable(m.owner, peer) {
		jww.DEBUG.Printf("Session with %s not yet usable, waiting messages "+
			"stay queued", peer)
		return
	}

	n, err := m.dm.ProcessWaitingMessages(ctx, peer)
	if err != nil {
		jww.WARN.Printf("Failed to send waiting messages to %s: %+v", peer, err)
		m.events.Report(event.Error{Source: "waiting", Peer: peer, Err: err})
		return
	}
	if n > 0 {
		jww.INFO.Printf("Sent %d waiting messages to %s", n, peer)
	}
}

// scheduleRenewal renews the peer's session in the background. A peer with a
// renewal already in flight is skipped, and nothing is scheduled once the
// Messenger is stopped or closed.
func (m *Messenger) scheduleRenewal(peer *id.ID, status session.Status) {
	key := *peer
	if _, inFlight := m.renewing.LoadOrStore(key, struct{}{}); inFlight {
		jww.DEBUG.Printf("Renewal of %s already in flight", peer)
		return
	}

	ctx, done, ok := m.renewals.begin()
	if !ok {
		m.renewing.Delete(key)
		jww.DEBUG.Printf("Not renewing %s session with %s: messenger is "+
			"stopped", status, peer)
		return
	}

	go func() {
		defer done()
		defer m.renewing.Delete(key)

		if m.params.RenewTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.params.RenewTimeout)
			defer cancel()
		}

		jww.INFO.Printf("Renewing %s session with %s", status, peer)
		if err := m.Renew(ctx, peer); err != nil {
			jww.WARN.Printf("Failed to renew session with %s: %+v", peer, err)
			m.events.Report(event.Error{Source: "renew", Peer: peer, Err: err})
		}
	}()
}

////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package auth manages the lifecycle of discussions. A discussion starts
// pending when either side publishes a handshake announcement, becomes active
// once both handshakes are exchanged and ends closed.
//
// Every mutation of one peer's discussion and session runs in that peer's
// slot of the shared per-peer queue.
package auth

import (
	"context"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/id"
	"gitlab.com/xx_network/primitives/netTime"

	"gitlab.com/elixxir/parley/event"
	"gitlab.com/elixxir/parley/queue"
	"gitlab.com/elixxir/parley/session"
	"gitlab.com/elixxir/parley/storage"
	"gitlab.com/elixxir/parley/transport"
)

// ContactInfo identifies a peer to start a discussion with.
type ContactInfo struct {
	Name      string
	PublicKey []byte
}

// State is the discussion lifecycle manager for one owner.
type State struct {
	keys    session.Keys
	owner   *id.ID
	store   storage.Store
	module  session.Module
	persist session.Flusher
	net     transport.Transport
	queue   *queue.Queue[id.ID]
	event   event.Reporter
	params  Params

	ingest queue.Guard
}

// NewState builds the lifecycle manager. The queue must be the one shared
// with the delivery pipeline so that both serialise on the same peer slots.
func NewState(keys session.Keys, store storage.Store, module session.Module,
	persist session.Flusher, net transport.Transport,
	q *queue.Queue[id.ID], reporter event.Reporter, params Params) *State {
	return &State{
		keys:    keys,
		owner:   keys.OwnerID(),
		store:   store,
		module:  module,
		persist: persist,
		net:     net,
		queue:   q,
		event:   reporter,
		params:  params,
	}
}

// IsStable reports whether the owner can exchange messages with the peer
// right now.
func (s *State) IsStable(owner, peer *id.ID) bool {
	if owner == nil || peer == nil || !owner.Cmp(s.owner) {
		return false
	}
	return s.module.PeerSessionStatus(peer) == session.Active
}

// CheckConsistency compares a stored discussion with the engine's view of its
// session. An active discussion whose session is PeerRequested cannot be
// explained by any sequence of valid transitions.
func CheckConsistency(d *storage.Discussion, st session.Status) error {
	if d.Status == storage.DiscussionActive && st == session.PeerRequested {
		return &InvariantError{
			Peer:       d.Peer(),
			Discussion: d.Status,
			Session:    st,
		}
	}
	return nil
}

// Close ends the discussion. Closed discussions ignore further announcements
// and messages.
func (s *State) Close(peer *id.ID) error {
	_, err := queue.Run(s.queue, *peer, func() (*storage.Discussion, error) {
		d, err := s.store.UpdateDiscussion(s.owner, peer,
			func(d *storage.Discussion) error {
				d.Status = storage.DiscussionClosed
				d.Announcement = nil
				return nil
			})
		if err != nil {
			return nil, err
		}
		s.reportStatus(d)
		return d, nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return errors.WithMessagef(ErrNoDiscussion, "cannot close %s", peer)
	}
	return err
}

// RemoveContact closes the discussion with the peer, then forgets the peer
// along with its discussion and messages.
func (s *State) RemoveContact(peer *id.ID) error {
	_, err := queue.Run(s.queue, *peer, func() (struct{}, error) {
		d, err := s.store.GetDiscussion(s.owner, peer)
		if err == nil && d.Status != storage.DiscussionClosed {
			d.Status = storage.DiscussionClosed
			s.reportStatus(d)
		}
		return struct{}{}, s.store.DeleteContact(s.owner, peer)
	})
	if err == nil {
		jww.INFO.Printf("[AUTH] Removed contact %s", peer)
	}
	return err
}

// Discussion returns the stored discussion with the peer.
func (s *State) Discussion(peer *id.ID) (*storage.Discussion, error) {
	return s.store.GetDiscussion(s.owner, peer)
}

// publish sends an announcement under the configured timeout.
func (s *State) publish(ctx context.Context, announcement []byte) error {
	if s.params.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.params.SendTimeout)
		defer cancel()
	}
	_, err := s.net.SendAnnouncement(ctx, announcement)
	return err
}

// establish runs the handshake step and waits for the resulting session state
// to be stored before the announcement may leave the device.
func (s *State) establish(peerPublicKey, userData []byte) ([]byte, error) {
	announcement, err := s.module.EstablishOutgoingSession(
		peerPublicKey, s.keys, userData)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to establish session")
	}
	if err = s.persist.Flush(); err != nil {
		return nil, errors.WithMessage(err, "failed to persist session state")
	}
	return announcement, nil
}

func (s *State) reportStatus(d *storage.Discussion) {
	s.event.Report(event.DiscussionStatusChanged{
		Peer:         d.Peer(),
		DiscussionID: d.ID,
		Status:       d.Status.String(),
	})
}

func (s *State) reportError(source string, peer *id.ID, err error) {
	s.event.Report(event.Error{Source: source, Peer: peer, Err: err})
}

func timestamp() *time.Time {
	t := netTime.Now()
	return &t
}

////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package auth

import (
	"context"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/id"

	"gitlab.com/elixxir/parley/event"
	"gitlab.com/elixxir/parley/queue"
	"gitlab.com/elixxir/parley/storage"
)

// Accept answers the peer's pending request with our handshake. The
// discussion becomes active only once the answer is published. If publishing
// fails the discussion is left exactly as it was.
func (s *State) Accept(ctx context.Context, peer *id.ID) (*storage.Discussion, error) {
	return queue.Run(s.queue, *peer, func() (*storage.Discussion, error) {
		return s.accept(ctx, peer)
	})
}

func (s *State) accept(ctx context.Context, peer *id.ID) (*storage.Discussion, error) {
	d, err := s.store.GetDiscussion(s.owner, peer)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errors.WithMessagef(ErrNoDiscussion, "cannot accept %s", peer)
	} else if err != nil {
		return nil, err
	}

	switch {
	case d.Status == storage.DiscussionClosed:
		return nil, ErrDiscussionClosed
	case d.Status != storage.DiscussionPending || d.Direction != storage.Received:
		return nil, errors.WithMessagef(ErrNotAcceptable,
			"discussion with %s is %s (%s)", peer, d.Status, d.Direction)
	}

	contact, err := s.store.GetContact(s.owner, peer)
	if err != nil {
		return nil, err
	}
	if len(contact.PublicKey) == 0 {
		return nil, ErrNoPublicKey
	}

	announcement, err := s.establish(contact.PublicKey, nil)
	if err != nil {
		return nil, err
	}

	if err = s.publish(ctx, announcement); err != nil {
		return nil, errors.WithMessagef(err,
			"failed to publish acceptance to %s", peer)
	}

	d, err = s.store.UpdateDiscussion(s.owner, peer,
		func(d *storage.Discussion) error {
			d.Status = storage.DiscussionActive
			d.Announcement = nil
			d.AnnouncementSentAt = timestamp()
			return nil
		})
	if err != nil {
		return nil, err
	}

	jww.INFO.Printf("[AUTH] Accepted discussion %d with %s", d.ID, peer)
	s.reportStatus(d)
	return d, nil
}

// Renew replaces a lost session with a fresh handshake. The discussion must
// be active. Messages waiting for the session are not flushed here; that is
// left to the delivery pipeline once the session is stable again.
func (s *State) Renew(ctx context.Context, peer *id.ID) error {
	_, err := queue.Run(s.queue, *peer, func() (struct{}, error) {
		return struct{}{}, s.renew(ctx, peer)
	})
	return err
}

func (s *State) renew(ctx context.Context, peer *id.ID) error {
	d, err := s.store.GetDiscussion(s.owner, peer)
	if errors.Is(err, storage.ErrNotFound) {
		return errors.WithMessagef(ErrNoDiscussion, "cannot renew %s", peer)
	} else if err != nil {
		return err
	}
	if d.Status != storage.DiscussionActive {
		return errors.WithMessagef(ErrNotActive,
			"cannot renew discussion with %s in state %s", peer, d.Status)
	}

	contact, err := s.store.GetContact(s.owner, peer)
	if err != nil {
		return err
	}

	announcement, err := s.establish(contact.PublicKey, nil)
	if err != nil {
		return err
	}
	if err = s.publish(ctx, announcement); err != nil {
		return errors.WithMessagef(err, "failed to publish renewal to %s", peer)
	}

	jww.INFO.Printf("[AUTH] Renewed session with %s", peer)
	s.event.Report(event.SessionRenewed{Peer: peer})
	return nil
}

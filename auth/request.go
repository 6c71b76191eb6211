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

	"gitlab.com/elixxir/parley/queue"
	"gitlab.com/elixxir/parley/session"
	"gitlab.com/elixxir/parley/storage"
)

// Initiate starts a discussion with the contact and publishes our handshake
// carrying message.
//
// The discussion is stored as pending before the announcement is published,
// and a publish failure leaves it pending with the announcement kept for
// RetryPendingAnnouncements. Initiating again towards a peer we already
// initiated with generates a fresh handshake.
func (s *State) Initiate(ctx context.Context, contact ContactInfo,
	message string) (*storage.Discussion, error) {
	if len(contact.PublicKey) == 0 {
		return nil, ErrNoPublicKey
	}
	peer := session.DeriveID(contact.PublicKey)
	if peer.Cmp(s.owner) {
		return nil, ErrSelfDiscussion
	}

	return queue.Run(s.queue, *peer, func() (*storage.Discussion, error) {
		return s.initiate(ctx, peer, contact, message)
	})
}

func (s *State) initiate(ctx context.Context, peer *id.ID,
	contact ContactInfo, message string) (*storage.Discussion, error) {
	existing, err := s.store.GetDiscussion(s.owner, peer)
	if err == nil {
		switch {
		case existing.Status == storage.DiscussionClosed:
			return nil, ErrDiscussionClosed
		case existing.Status == storage.DiscussionActive:
			return nil, ErrDiscussionActive
		case existing.Direction == storage.Received:
			return nil, ErrRequestPending
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	err = s.store.UpsertContact(&storage.Contact{
		OwnerID:   s.owner.Marshal(),
		PeerID:    peer.Marshal(),
		Name:      contact.Name,
		PublicKey: contact.PublicKey,
	})
	if err != nil {
		return nil, err
	}

	announcement, err := s.establish(contact.PublicKey, []byte(message))
	if err != nil {
		return nil, err
	}

	var d *storage.Discussion
	if existing == nil {
		d = &storage.Discussion{
			OwnerID:      s.owner.Marshal(),
			PeerID:       peer.Marshal(),
			Status:       storage.DiscussionPending,
			Direction:    storage.Initiated,
			Announcement: announcement,
			OurMessage:   message,
		}
		if err = s.store.CreateDiscussion(d); err != nil {
			return nil, err
		}
	} else {
		d, err = s.store.UpdateDiscussion(s.owner, peer,
			func(d *storage.Discussion) error {
				d.Announcement = announcement
				d.AnnouncementSentAt = nil
				d.OurMessage = message
				return nil
			})
		if err != nil {
			return nil, err
		}
	}
	s.reportStatus(d)

	if err = s.publish(ctx, announcement); err != nil {
		jww.WARN.Printf("[AUTH] Failed to publish request to %s, will retry: %+v",
			peer, err)
		s.reportError("initiate", peer, err)
		return d, nil
	}

	d, err = s.markPublished(peer)
	if err != nil {
		return nil, err
	}

	jww.INFO.Printf("[AUTH] Requested discussion %d with %s", d.ID, peer)
	return d, nil
}

func (s *State) markPublished(peer *id.ID) (*storage.Discussion, error) {
	return s.store.UpdateDiscussion(s.owner, peer,
		func(d *storage.Discussion) error {
			d.AnnouncementSentAt = timestamp()
			return nil
		})
}

// RetryPendingAnnouncements republishes stored handshakes the transport has
// not yet accepted. Returns how many were published.
func (s *State) RetryPendingAnnouncements(ctx context.Context) (int, error) {
	discussions, err := s.store.Discussions(s.owner)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, d := range discussions {
		if !unsent(d) {
			continue
		}
		peer := d.Peer()
		ok, err := queue.Run(s.queue, *peer, func() (bool, error) {
			return s.retryAnnouncement(ctx, peer)
		})
		if err != nil {
			jww.WARN.Printf("[AUTH] Retry of announcement to %s failed: %+v",
				peer, err)
			continue
		}
		if ok {
			published++
		}
	}

	if published > 0 {
		jww.INFO.Printf("[AUTH] Republished %d announcements", published)
	}
	return published, nil
}

func (s *State) retryAnnouncement(ctx context.Context, peer *id.ID) (bool, error) {
	// Reload in the slot; the discussion may have moved on
	d, err := s.store.GetDiscussion(s.owner, peer)
	if err != nil {
		return false, err
	}
	if !unsent(d) {
		return false, nil
	}

	if err = s.publish(ctx, d.Announcement); err != nil {
		return false, err
	}
	if _, err = s.markPublished(peer); err != nil {
		return false, err
	}
	return true, nil
}

// unsent reports whether the discussion holds an announcement that never
// reached the transport.
func unsent(d *storage.Discussion) bool {
	return d.Status != storage.DiscussionClosed &&
		d.AnnouncementSentAt == nil && len(d.Announcement) > 0
}

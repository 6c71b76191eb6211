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
	"gitlab.com/xx_network/primitives/netTime"

	"gitlab.com/elixxir/parley/event"
	"gitlab.com/elixxir/parley/queue"
	"gitlab.com/elixxir/parley/session"
	"gitlab.com/elixxir/parley/storage"
)

// IngestResult summarises one announcement ingestion pass.
type IngestResult struct {
	// Success is false only when every announcement in the batch failed.
	Success bool

	// Dropped is set when the pass did not run because another was still in
	// progress.
	Dropped bool

	// Processed counts announcements addressed to us, Skipped those that
	// were not and Failed those that could not be handled.
	Processed int
	Skipped   int
	Failed    int

	// New counts discussions created by the pass.
	New int

	// Activated lists peers whose session became usable during the pass.
	// Their waiting messages can be flushed.
	Activated []*id.ID
}

// outcome is the effect of one announcement on its peer's discussion.
type outcome struct {
	created   bool
	activated bool
}

// FetchAndProcess drains the out-of-band inbox, or fetches from the transport
// when the inbox is empty, and applies each announcement addressed to us. A
// call made while another pass is running is dropped.
func (s *State) FetchAndProcess(ctx context.Context) (IngestResult, error) {
	var (
		result IngestResult
		err    error
	)
	ran := s.ingest.TryRun(func() {
		result, err = s.fetchAndProcess(ctx)
	})
	if !ran {
		jww.DEBUG.Printf("[AUTH] Announcement ingestion already running")
		return IngestResult{Dropped: true}, nil
	}
	return result, err
}

func (s *State) fetchAndProcess(ctx context.Context) (IngestResult, error) {
	items, err := s.collect(ctx)
	if err != nil {
		return IngestResult{}, err
	}

	result := IngestResult{Success: true}
	if len(items) == 0 {
		return result, nil
	}

	var accept []*id.ID
	for _, data := range items {
		peer, out, err := s.processAnnouncement(ctx, data)
		switch {
		case err != nil:
			jww.WARN.Printf("[AUTH] Failed to process announcement: %+v", err)
			s.reportError("ingest", peer, err)
			result.Failed++
		case peer == nil:
			result.Skipped++
		default:
			result.Processed++
			if out.created {
				result.New++
				accept = append(accept, peer)
			}
			if out.activated {
				result.Activated = append(result.Activated, peer)
			}
		}
	}

	if s.params.AutoAccept {
		for _, peer := range accept {
			if _, err = s.Accept(ctx, peer); err != nil {
				jww.WARN.Printf("[AUTH] Auto-accept of %s failed: %+v", peer, err)
				s.reportError("auto-accept", peer, err)
				continue
			}
			result.Activated = append(result.Activated, peer)
		}
	}

	result.Success = result.Failed < len(items)
	jww.DEBUG.Printf("[AUTH] Ingested %d announcements: %d processed, "+
		"%d skipped, %d failed, %d new", len(items), result.Processed,
		result.Skipped, result.Failed, result.New)
	return result, nil
}

// collect returns the next batch of raw announcements. Inbox rows are deleted
// as soon as they are read so that concurrent producers only ever add.
func (s *State) collect(ctx context.Context) ([][]byte, error) {
	pending, err := s.store.PendingAnnouncements(s.owner, s.params.InboxBatch)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		ids := make([]uint64, len(pending))
		items := make([][]byte, len(pending))
		for i, p := range pending {
			ids[i] = p.ID
			items[i] = p.Data
		}
		if err = s.store.DeletePendingAnnouncements(s.owner, ids); err != nil {
			return nil, err
		}
		jww.TRACE.Printf("[AUTH] Read %d announcements from the inbox", len(items))
		return items, nil
	}

	if s.params.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.params.FetchTimeout)
		defer cancel()
	}
	items, err := s.net.FetchAnnouncements(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to fetch announcements")
	}
	return items, nil
}

// processAnnouncement feeds one announcement to the session engine and
// applies it to the announcer's discussion. A nil peer with a nil error means
// the announcement was not for us.
func (s *State) processAnnouncement(ctx context.Context,
	data []byte) (*id.ID, outcome, error) {
	ann, err := s.module.FeedIncomingAnnouncement(data, s.keys)
	if err != nil {
		return nil, outcome{}, errors.WithMessage(err,
			"session engine rejected announcement")
	}
	if ann == nil || len(ann.PublicKey) == 0 {
		return nil, outcome{}, nil
	}
	if err = s.persist.Flush(); err != nil {
		return nil, outcome{}, errors.WithMessage(err,
			"failed to persist session state")
	}

	peer := session.DeriveID(ann.PublicKey)
	if peer.Cmp(s.owner) {
		return nil, outcome{}, nil
	}

	out, err := queue.Run(s.queue, *peer, func() (outcome, error) {
		return s.apply(ctx, peer, ann)
	})
	return peer, out, err
}

// apply runs in the peer's slot.
func (s *State) apply(ctx context.Context, peer *id.ID,
	ann *session.Announcement) (outcome, error) {
	var out outcome

	if _, err := s.store.GetContact(s.owner, peer); errors.Is(err, storage.ErrNotFound) {
		err = s.store.UpsertContact(&storage.Contact{
			OwnerID:   s.owner.Marshal(),
			PeerID:    peer.Marshal(),
			PublicKey: ann.PublicKey,
		})
		if err != nil {
			return out, err
		}
		jww.INFO.Printf("[AUTH] New contact %s from announcement", peer)
	} else if err != nil {
		return out, err
	}
	if err := s.store.TouchContact(s.owner, peer, netTime.Now()); err != nil {
		jww.WARN.Printf("[AUTH] Failed to update last seen of %s: %+v", peer, err)
	}

	d, err := s.store.GetDiscussion(s.owner, peer)
	if errors.Is(err, storage.ErrNotFound) {
		d = &storage.Discussion{
			OwnerID:     s.owner.Marshal(),
			PeerID:      peer.Marshal(),
			Status:      storage.DiscussionPending,
			Direction:   storage.Received,
			PeerMessage: string(ann.UserData),
		}
		if err = s.store.CreateDiscussion(d); err != nil {
			return out, err
		}
		jww.INFO.Printf("[AUTH] Discussion request %d from %s", d.ID, peer)
		s.event.Report(event.DiscussionRequest{
			Peer:         peer,
			DiscussionID: d.ID,
			Message:      d.PeerMessage,
		})
		out.created = true
		return out, nil
	} else if err != nil {
		return out, err
	}

	switch {
	case d.Status == storage.DiscussionClosed:
		jww.DEBUG.Printf("[AUTH] Ignoring announcement for closed "+
			"discussion with %s", peer)

	case d.Status == storage.DiscussionPending && d.Direction == storage.Received:
		if len(ann.UserData) == 0 {
			break
		}
		_, err = s.store.UpdateDiscussion(s.owner, peer,
			func(d *storage.Discussion) error {
				d.PeerMessage = string(ann.UserData)
				return nil
			})

	case d.Status == storage.DiscussionPending:
		// The peer answered our request
		d, err = s.store.UpdateDiscussion(s.owner, peer,
			func(d *storage.Discussion) error {
				d.Status = storage.DiscussionActive
				d.Announcement = nil
				if len(ann.UserData) > 0 {
					d.PeerMessage = string(ann.UserData)
				}
				return nil
			})
		if err != nil {
			return out, err
		}
		jww.INFO.Printf("[AUTH] Discussion %d with %s is active", d.ID, peer)
		s.reportStatus(d)
		out.activated = true
		if s.module.PeerSessionStatus(peer) == session.PeerRequested {
			err = s.respond(ctx, peer, d)
		}

	default:
		switch s.module.PeerSessionStatus(peer) {
		case session.PeerRequested:
			// The peer renewed its side of an active session
			if err = s.respond(ctx, peer, d); err != nil {
				return out, err
			}
			out.activated = true
			s.event.Report(event.SessionRenewed{Peer: peer})
		case session.Active:
			// The peer answered our renewal
			out.activated = true
		}
	}

	return out, err
}

// respond answers a peer's handshake on an active discussion. An answer the
// transport refuses is kept on the discussion for RetryPendingAnnouncements.
func (s *State) respond(ctx context.Context, peer *id.ID,
	d *storage.Discussion) error {
	contact, err := s.store.GetContact(s.owner, peer)
	if err != nil {
		return err
	}
	announcement, err := s.establish(contact.PublicKey, nil)
	if err != nil {
		return err
	}

	sendErr := s.publish(ctx, announcement)
	_, err = s.store.UpdateDiscussion(s.owner, peer,
		func(d *storage.Discussion) error {
			if sendErr != nil {
				d.Announcement = announcement
				d.AnnouncementSentAt = nil
			} else {
				d.Announcement = nil
				d.AnnouncementSentAt = timestamp()
			}
			return nil
		})
	if err != nil {
		return err
	}

	if sendErr != nil {
		jww.WARN.Printf("[AUTH] Failed to answer %s on discussion %d, will "+
			"retry: %+v", peer, d.ID, sendErr)
		s.reportError("respond", peer, sendErr)
		return nil
	}
	jww.DEBUG.Printf("[AUTH] Answered handshake of %s", peer)
	return nil
}

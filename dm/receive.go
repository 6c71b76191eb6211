////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package dm

import (
	"context"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/netTime"

	"gitlab.com/elixxir/parley/event"
	"gitlab.com/elixxir/parley/queue"
	"gitlab.com/elixxir/parley/session"
	"gitlab.com/elixxir/parley/storage"
	"gitlab.com/elixxir/parley/transport"
)

// FetchResult summarises one message fetch.
type FetchResult struct {
	// Skipped is set when the fetch did not run because another was still
	// in progress.
	Skipped bool

	// Received counts stored incoming messages. KeepAlive counts
	// keep-alives, which are not stored.
	Received  int
	KeepAlive int

	// Acknowledged counts our messages the peers confirmed.
	Acknowledged int64

	// Dropped counts messages for closed discussions.
	Dropped   int
	Duplicate int
	Failed    int
}

// FetchMessages drains the out-of-band inbox, or fetches every seeker the
// session engine is watching when the inbox is empty, and stores the
// messages addressed to us. A call made while another fetch is running is
// dropped.
func (m *Manager) FetchMessages(ctx context.Context) (FetchResult, error) {
	var (
		result FetchResult
		err    error
	)
	ran := m.fetch.TryRun(func() {
		result, err = m.fetchMessages(ctx)
	})
	if !ran {
		jww.DEBUG.Printf("[DM] Message fetch already running")
		return FetchResult{Skipped: true}, nil
	}
	return result, err
}

func (m *Manager) fetchMessages(ctx context.Context) (FetchResult, error) {
	var result FetchResult
	envelopes, err := m.collect(ctx)
	if err != nil || len(envelopes) == 0 {
		return result, err
	}

	seen := make(map[string]struct{}, len(envelopes))
	for _, env := range envelopes {
		if _, dup := seen[string(env.Seeker)]; dup {
			result.Duplicate++
			continue
		}
		seen[string(env.Seeker)] = struct{}{}

		if _, err = m.store.GetMessageBySeeker(m.owner, env.Seeker); err == nil {
			result.Duplicate++
			continue
		} else if !errors.Is(err, storage.ErrNotFound) {
			return result, err
		}

		in, err := m.module.FeedIncomingMessage(env.Seeker, env.Data, m.keys)
		if err != nil {
			jww.WARN.Printf("[DM] Failed to decrypt message: %+v", err)
			m.event.Report(event.Error{Source: "receive", Err: err})
			result.Failed++
			continue
		}
		if in == nil {
			continue
		}
		if err = m.persist.Flush(); err != nil {
			return result, errors.WithMessage(err,
				"failed to persist session state")
		}

		r, err := queue.Run(m.queue, *in.Peer, func() (receipt, error) {
			return m.receive(env.Seeker, in)
		})
		result.Acknowledged += r.acked
		switch {
		case err != nil:
			jww.WARN.Printf("[DM] Failed to store message from %s: %+v",
				in.Peer, err)
			m.event.Report(event.Error{Source: "receive", Peer: in.Peer, Err: err})
			result.Failed++
		case r.dropped:
			result.Dropped++
		case r.keepAlive:
			result.KeepAlive++
		default:
			result.Received++
		}
	}

	if result.Received > 0 || result.Acknowledged > 0 {
		jww.INFO.Printf("[DM] Fetched %d messages, %d acknowledgements",
			result.Received, result.Acknowledged)
	}
	return result, nil
}

// collect returns the next batch of envelopes. Inbox rows are deleted as soon
// as they are read.
func (m *Manager) collect(ctx context.Context) ([]transport.Envelope, error) {
	pending, err := m.store.PendingMessages(m.owner, m.params.InboxBatch)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		ids := make([]uint64, len(pending))
		envelopes := make([]transport.Envelope, len(pending))
		for i, p := range pending {
			ids[i] = p.ID
			envelopes[i] = transport.Envelope{Seeker: p.Seeker, Data: p.Data}
		}
		if err = m.store.DeletePendingMessages(m.owner, ids); err != nil {
			return nil, err
		}
		return envelopes, nil
	}

	seekers := m.module.ReadSeekers()
	if len(seekers) == 0 {
		return nil, nil
	}
	if m.params.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.params.FetchTimeout)
		defer cancel()
	}
	envelopes, err := m.net.FetchMessages(ctx, seekers)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to fetch messages")
	}
	return envelopes, nil
}

// receipt is the effect of one incoming message.
type receipt struct {
	acked     int64
	keepAlive bool
	dropped   bool
}

// receive runs in the sender's slot.
func (m *Manager) receive(seeker []byte, in *session.Incoming) (receipt, error) {
	var r receipt
	peer := in.Peer

	d, err := m.store.GetDiscussion(m.owner, peer)
	if errors.Is(err, storage.ErrNotFound) {
		return r, errors.WithMessagef(ErrNoDiscussion,
			"message from unknown peer %s", peer)
	} else if err != nil {
		return r, err
	}
	if d.Status == storage.DiscussionClosed {
		jww.DEBUG.Printf("[DM] Dropping message for closed discussion "+
			"with %s", peer)
		r.dropped = true
		return r, nil
	}

	if r.acked, err = m.store.AcknowledgeSeekers(m.owner, in.Acknowledged); err != nil {
		return r, err
	}
	if err = m.store.TouchContact(m.owner, peer, netTime.Now()); err != nil {
		jww.WARN.Printf("[DM] Failed to update last seen of %s: %+v", peer, err)
	}

	env, err := unmarshalEnvelope(in.Payload)
	if err != nil {
		return r, err
	}
	if env.Type == storage.KeepAlive {
		r.keepAlive = true
		_, err = m.store.UpdateDiscussion(m.owner, peer,
			func(d *storage.Discussion) error {
				d.LastSyncAt = timestamp()
				return nil
			})
		return r, err
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = env.time()
	}
	msg := &storage.Message{
		OwnerID:   m.owner.Marshal(),
		PeerID:    peer.Marshal(),
		Direction: storage.Incoming,
		Type:      env.Type,
		Status:    storage.Delivered,
		Content:   env.Content,
		Timestamp: ts,
		Seeker:    append([]byte{}, seeker...),
		ReplyTo:   env.ReplyTo,
		ForwardOf: env.ForwardOf,
	}
	if err = m.store.AddMessage(msg); err != nil {
		return r, err
	}
	m.updateLastMessage(peer, msg, true)

	jww.INFO.Printf("[DM] Received message %d from %s", msg.ID, peer)
	m.event.Report(event.MessageReceived{
		Peer:      peer,
		MessageID: msg.ID,
		Timestamp: msg.Timestamp,
	})
	return r, nil
}

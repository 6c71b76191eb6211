////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package dm

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/id"

	"gitlab.com/elixxir/parley/queue"
	"gitlab.com/elixxir/parley/session"
	"gitlab.com/elixxir/parley/storage"
)

// ResendReport counts the outcome of a Resend across every peer.
type ResendReport struct {
	Sent    int
	Failed  int
	Queued  int
	Skipped int
}

func (r *ResendReport) add(o ResendReport) {
	r.Sent += o.Sent
	r.Failed += o.Failed
	r.Queued += o.Queued
	r.Skipped += o.Skipped
}

// Resend sends failed messages again. Each peer's batch runs in that peer's
// slot, and batches for different peers run concurrently. Messages whose
// session is not active are parked as WaitingSession. Messages that are not
// failed outgoing messages are skipped.
func (m *Manager) Resend(ctx context.Context,
	failed map[id.ID][]uint64) (ResendReport, error) {
	var (
		wg       sync.WaitGroup
		mux      sync.Mutex
		report   ResendReport
		firstErr error
	)

	for peer, ids := range failed {
		peer, ids := peer, ids
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := queue.Run(m.queue, peer, func() (ResendReport, error) {
				return m.resendBatch(ctx, &peer, ids)
			})

			mux.Lock()
			defer mux.Unlock()
			report.add(r)
			if err != nil {
				jww.WARN.Printf("[DM] Resend to %s failed: %+v", &peer, err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}()
	}
	wg.Wait()

	jww.INFO.Printf("[DM] Resend finished: %d sent, %d failed, %d queued, "+
		"%d skipped", report.Sent, report.Failed, report.Queued, report.Skipped)
	return report, firstErr
}

// ResendAllFailed resends every failed outgoing message of the owner.
func (m *Manager) ResendAllFailed(ctx context.Context) (ResendReport, error) {
	failed, err := m.store.MessagesByStatus(m.owner, nil, storage.Failed)
	if err != nil {
		return ResendReport{}, err
	}

	byPeer := make(map[id.ID][]uint64)
	for _, msg := range failed {
		if msg.Direction != storage.Outgoing || msg.Type == storage.KeepAlive {
			continue
		}
		peer := *msg.Peer()
		byPeer[peer] = append(byPeer[peer], msg.ID)
	}
	if len(byPeer) == 0 {
		return ResendReport{}, nil
	}
	return m.Resend(ctx, byPeer)
}

// resendBatch runs in the peer's slot.
func (m *Manager) resendBatch(ctx context.Context, peer *id.ID,
	ids []uint64) (ResendReport, error) {
	var report ResendReport
	if err := m.checkDiscussion(peer); err != nil {
		report.Skipped = len(ids)
		return report, err
	}

	for _, messageID := range ids {
		msg, err := m.store.GetMessage(m.owner, messageID)
		if err != nil {
			return report, err
		}
		if !msg.Peer().Cmp(peer) || msg.Direction != storage.Outgoing ||
			msg.Status != storage.Failed {
			report.Skipped++
			continue
		}

		active := m.module.PeerSessionStatus(peer) == session.Active
		msg, err = m.store.UpdateMessage(m.owner, msg.ID,
			func(stored *storage.Message) error {
				if active {
					stored.Status = storage.Sending
				} else {
					stored.Status = storage.WaitingSession
					stored.EncryptedPayload = nil
				}
				return nil
			})
		if err != nil {
			return report, err
		}
		if !active {
			report.Queued++
			continue
		}

		if err = m.pace(ctx); err != nil {
			// Leave nothing in Sending
			if _, rerr := m.fail(peer, msg, err); rerr != nil {
				return report, rerr
			}
			report.Failed++
			return report, err
		}

		msg, err = m.transmit(ctx, peer, msg, true,
			makeDebugTag(peer, msg.Content, "Resend"))
		if err != nil {
			return report, err
		}
		if msg.Status == storage.Sent {
			report.Sent++
		} else {
			report.Failed++
		}
	}
	return report, nil
}

// ProcessWaitingMessages sends the peer's parked messages in creation order
// once its session is active, and returns how many were sent. It stops at
// the first failure so later messages never overtake earlier ones.
func (m *Manager) ProcessWaitingMessages(ctx context.Context,
	peer *id.ID) (int, error) {
	return queue.Run(m.queue, *peer, func() (int, error) {
		return m.processWaiting(ctx, peer)
	})
}

func (m *Manager) processWaiting(ctx context.Context, peer *id.ID) (int, error) {
	if st := m.module.PeerSessionStatus(peer); st != session.Active {
		jww.DEBUG.Printf("[DM] Not flushing messages to %s: session is %s",
			peer, st)
		return 0, nil
	}

	waiting, err := m.store.MessagesByStatus(m.owner, peer, storage.WaitingSession)
	if err != nil {
		return 0, err
	}
	if len(waiting) == 0 {
		return 0, nil
	}

	sent := 0
	for _, msg := range waiting {
		msg, err = m.store.UpdateMessage(m.owner, msg.ID,
			func(stored *storage.Message) error {
				if stored.Status != storage.WaitingSession {
					return errors.Errorf("message %d moved to %s",
						stored.ID, stored.Status)
				}
				stored.Status = storage.Sending
				return nil
			})
		if err != nil {
			return sent, err
		}

		msg, err = m.transmit(ctx, peer, msg, false,
			makeDebugTag(peer, msg.Content, "Waiting"))
		if err != nil {
			return sent, err
		}
		if msg.Status != storage.Sent {
			break
		}
		sent++
	}

	jww.INFO.Printf("[DM] Sent %d of %d waiting messages to %s",
		sent, len(waiting), peer)
	return sent, nil
}

// pace blocks until the resend rate allows another transmission.
func (m *Manager) pace(ctx context.Context) error {
	return m.resendPace.Take(ctx)
}

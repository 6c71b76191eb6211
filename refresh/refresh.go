////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package refresh keeps sessions alive. A refresh cycle advances the session
// engine's timers, asks for the renewal of sessions that were lost and sends
// keep-alives where the engine wants them. The Scheduler runs the cycle and
// the fetch loops on fixed periods or on demand.
package refresh

import (
	"context"

	"github.com/golang-collections/collections/set"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/id"

	"gitlab.com/elixxir/parley/auth"
	"gitlab.com/elixxir/parley/event"
	"gitlab.com/elixxir/parley/session"
	"gitlab.com/elixxir/parley/storage"
)

// Sessions is the part of the session engine a refresh cycle uses.
type Sessions interface {
	Refresh() ([]*id.ID, error)
	PeerSessionStatus(peer *id.ID) session.Status
}

// KeepAliveSender sends a keep-alive message to a peer.
type KeepAliveSender interface {
	SendKeepAlive(ctx context.Context, peer *id.ID) error
}

// RenewFunc is told about every active discussion whose session needs to be
// renewed. It must not block.
type RenewFunc func(peer *id.ID, status session.Status)

// Refresher runs refresh cycles for one owner.
type Refresher struct {
	owner     *id.ID
	sessions  Sessions
	keepAlive KeepAliveSender
	renew     RenewFunc
	event     event.Reporter
}

// NewRefresher builds a Refresher. renew may be nil.
func NewRefresher(owner *id.ID, sessions Sessions, keepAlive KeepAliveSender,
	renew RenewFunc, reporter event.Reporter) *Refresher {
	return &Refresher{
		owner:     owner,
		sessions:  sessions,
		keepAlive: keepAlive,
		renew:     renew,
		event:     reporter,
	}
}

// HandleSessionRefresh runs one cycle over the given discussions. Only
// active discussions are examined. The cycle stops and returns an
// *auth.InvariantError at the first active discussion whose session is
// PeerRequested. Every other problem is logged and reported, and the cycle
// carries on with the next discussion.
func (r *Refresher) HandleSessionRefresh(ctx context.Context,
	discussions []*storage.Discussion) error {
	if len(discussions) == 0 || r.owner == nil {
		return nil
	}

	keepAlive := set.New()
	peers, err := r.sessions.Refresh()
	if err != nil {
		jww.WARN.Printf("[REFRESH] Session engine refresh failed: %+v", err)
		r.event.Report(event.Error{Source: "refresh", Err: err})
	}
	for _, p := range peers {
		keepAlive.Insert(*p)
	}

	for _, d := range discussions {
		if d.Status != storage.DiscussionActive {
			continue
		}
		if err = r.handle(ctx, d, keepAlive); auth.IsInvariantError(err) {
			jww.ERROR.Printf("[REFRESH] %+v", err)
			r.event.Report(event.Error{Source: "refresh", Peer: d.Peer(), Err: err})
			return err
		} else if err != nil {
			jww.WARN.Printf("[REFRESH] Failed to refresh discussion %d: %+v",
				d.ID, err)
			r.event.Report(event.Error{Source: "refresh", Peer: d.Peer(), Err: err})
		}
	}
	return nil
}

// handle examines one active discussion.
func (r *Refresher) handle(ctx context.Context, d *storage.Discussion,
	keepAlive *set.Set) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("panic while refreshing: %v", rec)
		}
	}()

	peer := d.Peer()
	if peer == nil {
		return errors.Errorf("discussion %d has a malformed peer ID", d.ID)
	}

	st := r.sessions.PeerSessionStatus(peer)
	if st.NeedsRenewal() {
		jww.INFO.Printf("[REFRESH] Session with %s is %s, renewal needed",
			peer, st)
		r.event.Report(event.SessionBroken{Peer: peer, Status: st.String()})
		if r.renew != nil {
			r.renew(peer, st)
		}
		return nil
	}
	if err = auth.CheckConsistency(d, st); err != nil {
		return err
	}

	if keepAlive.Has(*peer) {
		if err = r.keepAlive.SendKeepAlive(ctx, peer); err != nil {
			return errors.WithMessage(err, "failed to send keep-alive")
		}
		jww.DEBUG.Printf("[REFRESH] Sent keep-alive to %s", peer)
	}
	return nil
}

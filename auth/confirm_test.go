////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package auth

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gitlab.com/elixxir/parley/event"
	"gitlab.com/elixxir/parley/loopback"
	"gitlab.com/elixxir/parley/session"
	"gitlab.com/elixxir/parley/storage"
)

// Tests the request, accept and promotion sequence on both sides.
func TestState_Accept(t *testing.T) {
	net := loopback.NewNetwork()
	a, b := newTestUser(t, net, GetDefaultParams()), newTestUser(t, net, GetDefaultParams())

	_, err := a.state.Initiate(testCtx(t), b.contact("bob"), "hi bob")
	require.NoError(t, err)

	result, err := b.state.FetchAndProcess(testCtx(t))
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 1, result.New)
	require.Empty(t, result.Activated)

	d, err := b.state.Discussion(a.id)
	require.NoError(t, err)
	require.Equal(t, storage.DiscussionPending, d.Status)
	require.Equal(t, storage.Received, d.Direction)
	require.Equal(t, "hi bob", d.PeerMessage)
	require.Equal(t, 1, b.events.count(event.KindDiscussionRequest))
	require.False(t, b.state.IsStable(b.id, a.id))

	d, err = b.state.Accept(testCtx(t), a.id)
	require.NoError(t, err)
	require.Equal(t, storage.DiscussionActive, d.Status)
	require.True(t, b.state.IsStable(b.id, a.id))

	result, err = a.state.FetchAndProcess(testCtx(t))
	require.NoError(t, err)
	require.Len(t, result.Activated, 1)
	require.True(t, result.Activated[0].Cmp(b.id))

	d, err = a.state.Discussion(b.id)
	require.NoError(t, err)
	if d.Status != storage.DiscussionActive {
		t.Errorf("Initiator's discussion not promoted."+
			"\nexpected: %s\nreceived: %s", storage.DiscussionActive, d.Status)
	}
	require.Equal(t, "hi bob", d.OurMessage)
	require.Empty(t, d.Announcement)
	require.True(t, a.state.IsStable(a.id, b.id))
	require.False(t, a.state.IsStable(b.id, b.id))
}

// Tests that a failed acceptance is returned and leaves the discussion as it
// was.
func TestState_Accept_PublishFailure(t *testing.T) {
	net := loopback.NewNetwork()
	a, b := newTestUser(t, net, GetDefaultParams()), newTestUser(t, net, GetDefaultParams())

	_, err := a.state.Initiate(testCtx(t), b.contact("bob"), "")
	require.NoError(t, err)
	_, err = b.state.FetchAndProcess(testCtx(t))
	require.NoError(t, err)

	net.SetOffline(true)
	_, err = b.state.Accept(testCtx(t), a.id)
	require.ErrorIs(t, err, loopback.ErrOffline)

	d, err := b.state.Discussion(a.id)
	require.NoError(t, err)
	require.Equal(t, storage.DiscussionPending, d.Status)
	require.Equal(t, storage.Received, d.Direction)

	// A second attempt still completes the handshake
	net.SetOffline(false)
	_, err = b.state.Accept(testCtx(t), a.id)
	require.NoError(t, err)
	_, err = a.state.FetchAndProcess(testCtx(t))
	require.NoError(t, err)
	require.Equal(t, session.Active, a.engine.PeerSessionStatus(b.id))
	require.Equal(t, session.Active, b.engine.PeerSessionStatus(a.id))
}

// Tests that only incoming pending requests can be accepted.
func TestState_Accept_Rejected(t *testing.T) {
	net := loopback.NewNetwork()
	a, b := newTestUser(t, net, GetDefaultParams()), newTestUser(t, net, GetDefaultParams())

	_, err := a.state.Accept(testCtx(t), b.id)
	require.ErrorIs(t, err, ErrNoDiscussion)

	_, err = a.state.Initiate(testCtx(t), b.contact("bob"), "")
	require.NoError(t, err)
	_, err = a.state.Accept(testCtx(t), b.id)
	require.ErrorIs(t, err, ErrNotAcceptable)
}

// Tests that renewing an active session makes the peer answer it and
// reports the renewal on the peer's side.
func TestState_Renew(t *testing.T) {
	net := loopback.NewNetwork()
	a, b := newTestUser(t, net, GetDefaultParams()), newTestUser(t, net, GetDefaultParams())
	connect(t, a, b)

	require.NoError(t, a.state.Renew(testCtx(t), b.id))
	require.Equal(t, 1, a.events.count(event.KindSessionRenewed))

	result, err := b.state.FetchAndProcess(testCtx(t))
	require.NoError(t, err)
	require.Len(t, result.Activated, 1)
	require.Equal(t, 1, b.events.count(event.KindSessionRenewed))
	require.Equal(t, session.Active, b.engine.PeerSessionStatus(a.id))

	_, err = a.state.FetchAndProcess(testCtx(t))
	require.NoError(t, err)
	require.Equal(t, session.Active, a.engine.PeerSessionStatus(b.id))

	// Discussion status is untouched by renewal
	d, err := a.state.Discussion(b.id)
	require.NoError(t, err)
	require.Equal(t, storage.DiscussionActive, d.Status)
}

// Tests that only active discussions can be renewed.
func TestState_Renew_NotActive(t *testing.T) {
	net := loopback.NewNetwork()
	a, b := newTestUser(t, net, GetDefaultParams()), newTestUser(t, net, GetDefaultParams())

	require.ErrorIs(t, a.state.Renew(testCtx(t), b.id), ErrNoDiscussion)

	_, err := a.state.Initiate(testCtx(t), b.contact("bob"), "")
	require.NoError(t, err)
	require.ErrorIs(t, a.state.Renew(testCtx(t), b.id), ErrNotActive)
}

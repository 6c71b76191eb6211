////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package dm

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/xx_network/primitives/id"

	"gitlab.com/elixxir/parley/event"
	"gitlab.com/elixxir/parley/loopback"
	"gitlab.com/elixxir/parley/queue"
	"gitlab.com/elixxir/parley/session"
	"gitlab.com/elixxir/parley/storage"
)

type loopbackUser struct {
	*Manager
	keys   session.Keys
	id     *id.ID
	engine *loopback.Engine
	events *recorder
}

// newLoopbackPair returns two users with an active session and discussion.
func newLoopbackPair(t *testing.T) (*loopbackUser, *loopbackUser) {
	net := loopback.NewNetwork()
	a, b := newLoopbackUser(t, net), newLoopbackUser(t, net)

	ann, err := a.engine.EstablishOutgoingSession(b.keys.Public, a.keys, nil)
	require.NoError(t, err)
	_, err = b.engine.FeedIncomingAnnouncement(ann, b.keys)
	require.NoError(t, err)
	reply, err := b.engine.EstablishOutgoingSession(a.keys.Public, b.keys, nil)
	require.NoError(t, err)
	_, err = a.engine.FeedIncomingAnnouncement(reply, a.keys)
	require.NoError(t, err)

	createDiscussion(t, a.store, a.id, b.id, storage.DiscussionActive)
	createDiscussion(t, b.store, b.id, a.id, storage.DiscussionActive)
	return a, b
}

func newLoopbackUser(t *testing.T, net *loopback.Network) *loopbackUser {
	keys, err := loopback.GenerateKeys(rand.Reader)
	require.NoError(t, err)
	store, err := storage.NewStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	engine := loopback.NewEngine(keys, loopback.GetDefaultParams())
	events := &recorder{}
	return &loopbackUser{
		Manager: NewManager(keys, store, engine, nopFlusher{}, net.Connect(),
			queue.New[id.ID](), events, GetDefaultParams()),
		keys:   keys,
		id:     keys.OwnerID(),
		engine: engine,
		events: events,
	}
}

// Tests a message round trip, its acknowledgement and the read marker.
func TestManager_FetchMessages(t *testing.T) {
	a, b := newLoopbackPair(t)

	sent, err := a.SendText(testCtx(t), b.id, "hello b")
	require.NoError(t, err)
	require.Equal(t, storage.Sent, sent.Message.Status)

	result, err := b.FetchMessages(testCtx(t))
	require.NoError(t, err)
	if result.Received != 1 {
		t.Errorf("Unexpected number of received messages."+
			"\nexpected: %d\nreceived: %d", 1, result.Received)
	}
	require.Equal(t, 1, b.events.count(event.KindMessageReceived))

	messages, err := b.Messages(a.id)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "hello b", string(messages[0].Content))
	require.Equal(t, storage.Incoming, messages[0].Direction)
	require.Equal(t, storage.Delivered, messages[0].Status)
	require.Equal(t, sent.Message.Seeker, messages[0].Seeker)

	d, err := b.store.GetDiscussion(b.id, a.id)
	require.NoError(t, err)
	require.EqualValues(t, 1, d.UnreadCount)
	require.NotNil(t, d.LastSyncAt)
	require.Equal(t, "hello b", d.LastMessagePreview)

	// Nothing new on a second fetch
	result, err = b.FetchMessages(testCtx(t))
	require.NoError(t, err)
	require.Zero(t, result.Received)

	// b's reply carries the acknowledgement of a's message
	_, err = b.Reply(testCtx(t), a.id, "hello a", messages[0].ID)
	require.NoError(t, err)
	result, err = a.FetchMessages(testCtx(t))
	require.NoError(t, err)
	require.Equal(t, 1, result.Received)
	require.EqualValues(t, 1, result.Acknowledged)

	acked, err := a.store.GetMessage(a.id, sent.Message.ID)
	require.NoError(t, err)
	require.Equal(t, storage.Delivered, acked.Status)

	incoming, err := a.Messages(b.id)
	require.NoError(t, err)
	require.Len(t, incoming, 2)
	require.Equal(t, sent.Message.Seeker, incoming[1].ReplyTo)

	n, err := b.MarkRead(a.id)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	d, err = b.store.GetDiscussion(b.id, a.id)
	require.NoError(t, err)
	require.Zero(t, d.UnreadCount)
}

// Tests that out-of-band messages are read from the inbox and duplicates are
// dropped.
func TestManager_FetchMessages_Inbox(t *testing.T) {
	a, b := newLoopbackPair(t)

	sent, err := a.SendText(testCtx(t), b.id, "hello b")
	require.NoError(t, err)
	stored, err := a.store.GetMessage(a.id, sent.Message.ID)
	require.NoError(t, err)

	result, err := b.FetchMessages(testCtx(t))
	require.NoError(t, err)
	require.Equal(t, 1, result.Received)

	// The same message delivered again out of band
	_, err = b.store.AddPendingMessage(b.id, stored.Seeker, []byte("anything"))
	require.NoError(t, err)
	result, err = b.FetchMessages(testCtx(t))
	require.NoError(t, err)
	require.Equal(t, 1, result.Duplicate)
	require.Zero(t, result.Received)

	pending, err := b.store.PendingMessages(b.id, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

// Tests that keep-alives are consumed without being stored.
func TestManager_FetchMessages_KeepAlive(t *testing.T) {
	a, b := newLoopbackPair(t)

	require.NoError(t, a.SendKeepAlive(testCtx(t), b.id))
	result, err := b.FetchMessages(testCtx(t))
	require.NoError(t, err)
	require.Equal(t, 1, result.KeepAlive)
	require.Zero(t, result.Received)

	messages, err := b.Messages(a.id)
	require.NoError(t, err)
	require.Empty(t, messages)
}

// Tests that messages for a closed discussion are dropped.
func TestManager_FetchMessages_Closed(t *testing.T) {
	a, b := newLoopbackPair(t)
	_, err := b.store.UpdateDiscussion(b.id, a.id, func(d *storage.Discussion) error {
		d.Status = storage.DiscussionClosed
		return nil
	})
	require.NoError(t, err)

	_, err = a.SendText(testCtx(t), b.id, "anyone there")
	require.NoError(t, err)
	result, err := b.FetchMessages(testCtx(t))
	require.NoError(t, err)
	require.Equal(t, 1, result.Dropped)

	messages, err := b.Messages(a.id)
	require.NoError(t, err)
	require.Empty(t, messages)
}

// Tests that overlapping fetches are skipped.
func TestManager_FetchMessages_Overlap(t *testing.T) {
	_, b := newLoopbackPair(t)
	ran := b.fetch.TryRun(func() {
		result, err := b.FetchMessages(testCtx(t))
		require.NoError(t, err)
		require.True(t, result.Skipped)
	})
	require.True(t, ran)
}

// Tests both recovery policies for sends interrupted by a restart.
func TestManager_RecoverInterrupted(t *testing.T) {
	for _, policy := range []RecoveryPolicy{RecoverAsFailed, RecoverAsWaiting} {
		params := GetDefaultParams()
		params.InterruptedSendPolicy = policy
		tm := newTestManager(t, session.Active, params)

		msg := &storage.Message{
			OwnerID:          tm.owner.Marshal(),
			PeerID:           tm.peer.Marshal(),
			Direction:        storage.Outgoing,
			Status:           storage.Sending,
			Content:          []byte("interrupted"),
			Seeker:           []byte("seeker"),
			EncryptedPayload: []byte("payload"),
		}
		require.NoError(t, tm.store.AddMessage(msg))

		n, err := tm.RecoverInterrupted()
		require.NoError(t, err)
		require.EqualValues(t, 1, n)

		sending, err := tm.store.MessagesByStatus(tm.owner, nil, storage.Sending)
		require.NoError(t, err)
		require.Empty(t, sending, "message left in Sending under %s", policy)

		recovered := tm.message(t, msg.ID)
		switch policy {
		case RecoverAsFailed:
			require.Equal(t, storage.Failed, recovered.Status)
			require.NotEmpty(t, recovered.EncryptedPayload)
		case RecoverAsWaiting:
			require.Equal(t, storage.WaitingSession, recovered.Status)
			require.Empty(t, recovered.EncryptedPayload)

			sent, err := tm.ProcessWaitingMessages(testCtx(t), tm.peer)
			require.NoError(t, err)
			require.Equal(t, 1, sent)
		}
	}
}

func TestGetParameters(t *testing.T) {
	p, err := GetParameters(`{"InterruptedSendPolicy": 1, "PreviewLength": 8}`)
	require.NoError(t, err)
	require.Equal(t, RecoverAsWaiting, p.InterruptedSendPolicy)
	require.Equal(t, 8, p.PreviewLength)
	require.Equal(t, GetDefaultParams().ResendRate, p.ResendRate)
}

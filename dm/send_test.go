////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package dm

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gitlab.com/xx_network/primitives/id"

	"gitlab.com/elixxir/parley/event"
	"gitlab.com/elixxir/parley/session"
	"gitlab.com/elixxir/parley/storage"
)

// Tests that a message to an active session is sent with a seeker.
func TestManager_Send(t *testing.T) {
	tm := newTestManager(t, session.Active, GetDefaultParams())

	report, err := tm.SendText(testCtx(t), tm.peer, "hi")
	require.NoError(t, err)
	require.False(t, report.Queued)

	msg := tm.message(t, report.Message.ID)
	if msg.Status != storage.Sent {
		t.Errorf("Unexpected message status.\nexpected: %s\nreceived: %s",
			storage.Sent, msg.Status)
	}
	require.NotEmpty(t, msg.Seeker)
	require.Empty(t, msg.EncryptedPayload)
	require.Len(t, tm.net.envelopes(), 1)
	require.Equal(t, msg.Seeker, tm.net.envelopes()[0].Seeker)
	require.Equal(t, 1, tm.events.count(event.KindMessageSent))

	d, err := tm.store.GetDiscussion(tm.owner, tm.peer)
	require.NoError(t, err)
	require.Equal(t, msg.ID, d.LastMessageID)
	require.Equal(t, "hi", d.LastMessagePreview)
}

// Tests that a message is parked while there is no session and sent once the
// session is renewed.
func TestManager_Send_WaitingSession(t *testing.T) {
	tm := newTestManager(t, session.NoSession, GetDefaultParams())

	report, err := tm.SendText(testCtx(t), tm.peer, "hi")
	require.NoError(t, err)
	require.True(t, report.Queued)
	require.Equal(t, storage.WaitingSession, tm.message(t, report.Message.ID).Status)
	require.Empty(t, tm.net.envelopes())

	// Nothing can be flushed yet
	n, err := tm.ProcessWaitingMessages(testCtx(t), tm.peer)
	require.NoError(t, err)
	require.Zero(t, n)

	tm.module.setStatus(tm.peer, session.Active)
	n, err = tm.ProcessWaitingMessages(testCtx(t), tm.peer)
	require.NoError(t, err)
	if n != 1 {
		t.Errorf("Unexpected number of flushed messages.\nexpected: %d\nreceived: %d",
			1, n)
	}
	msg := tm.message(t, report.Message.ID)
	require.Equal(t, storage.Sent, msg.Status)
	require.NotEmpty(t, msg.Seeker)
}

// Tests that waiting messages leave in creation order and that a failure
// stops the flush.
func TestManager_ProcessWaitingMessages_Order(t *testing.T) {
	tm := newTestManager(t, session.SelfRequested, GetDefaultParams())

	var ids []uint64
	for _, text := range []string{"one", "two", "three"} {
		report, err := tm.SendText(testCtx(t), tm.peer, text)
		require.NoError(t, err)
		ids = append(ids, report.Message.ID)
	}

	tm.module.setStatus(tm.peer, session.Active)
	n, err := tm.ProcessWaitingMessages(testCtx(t), tm.peer)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	sent := tm.net.envelopes()
	require.Len(t, sent, 3)
	for i, messageID := range ids {
		msg := tm.message(t, messageID)
		if !bytes.Equal(sent[i].Seeker, msg.Seeker) {
			t.Errorf("Message %d sent out of order.\nexpected seeker: %s"+
				"\nreceived seeker: %s", i, msg.Seeker, sent[i].Seeker)
		}
	}

	// Park two more, then fail the transport
	tm.module.setStatus(tm.peer, session.Killed)
	first, err := tm.SendText(testCtx(t), tm.peer, "four")
	require.NoError(t, err)
	second, err := tm.SendText(testCtx(t), tm.peer, "five")
	require.NoError(t, err)

	tm.module.setStatus(tm.peer, session.Active)
	tm.net.setOffline(true)
	n, err = tm.ProcessWaitingMessages(testCtx(t), tm.peer)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, storage.Failed, tm.message(t, first.Message.ID).Status)
	require.Equal(t, storage.WaitingSession, tm.message(t, second.Message.ID).Status)
}

// Tests that a transport failure leaves the message failed, recorded on the
// discussion, and that Resend reuses the cached ciphertext.
func TestManager_Send_TransportFailure(t *testing.T) {
	tm := newTestManager(t, session.Active, GetDefaultParams())
	tm.net.setOffline(true)

	report, err := tm.SendText(testCtx(t), tm.peer, "hi")
	require.NoError(t, err)
	msg := tm.message(t, report.Message.ID)
	require.Equal(t, storage.Failed, msg.Status)
	require.NotEmpty(t, msg.FailureReason)
	require.NotEmpty(t, msg.EncryptedPayload)
	require.Equal(t, 1, tm.events.count(event.KindMessageFailed))

	d, err := tm.store.GetDiscussion(tm.owner, tm.peer)
	require.NoError(t, err)
	require.Equal(t, msg.ID, d.LastFailedMessageID)
	require.NotNil(t, d.LastFailedAt)

	tm.net.setOffline(false)
	resend, err := tm.ResendAllFailed(testCtx(t))
	require.NoError(t, err)
	require.Equal(t, 1, resend.Sent)
	require.Equal(t, 1, tm.module.encryptions(),
		"resend encrypted again instead of reusing the cached payload")

	resent := tm.message(t, msg.ID)
	require.Equal(t, storage.Sent, resent.Status)
	require.Equal(t, msg.Seeker, resent.Seeker)
}

// Tests that Resend encrypts again once the cache is invalidated, and parks
// messages whose session is gone.
func TestManager_Resend(t *testing.T) {
	tm := newTestManager(t, session.Active, GetDefaultParams())
	tm.net.setOffline(true)

	report, err := tm.SendText(testCtx(t), tm.peer, "hi")
	require.NoError(t, err)
	tm.net.setOffline(false)

	require.NoError(t, tm.InvalidateCache(tm.peer))
	resend, err := tm.Resend(testCtx(t),
		map[id.ID][]uint64{*tm.peer: {report.Message.ID}})
	require.NoError(t, err)
	require.Equal(t, 1, resend.Sent)
	require.Equal(t, 2, tm.module.encryptions())

	// Already sent, so skipped
	resend, err = tm.Resend(testCtx(t),
		map[id.ID][]uint64{*tm.peer: {report.Message.ID}})
	require.NoError(t, err)
	require.Equal(t, 1, resend.Skipped)

	tm.net.setOffline(true)
	report, err = tm.SendText(testCtx(t), tm.peer, "again")
	require.NoError(t, err)
	tm.module.setStatus(tm.peer, session.Saturated)
	resend, err = tm.ResendAllFailed(testCtx(t))
	require.NoError(t, err)
	require.Equal(t, 1, resend.Queued)
	msg := tm.message(t, report.Message.ID)
	require.Equal(t, storage.WaitingSession, msg.Status)
	require.Empty(t, msg.EncryptedPayload)
}

// Tests that resends to different peers are independent.
func TestManager_Resend_MultiplePeers(t *testing.T) {
	tm := newTestManager(t, session.Active, GetDefaultParams())
	other := id.NewIdFromString("other", id.User, t)
	createDiscussion(t, tm.store, tm.owner, other, storage.DiscussionActive)
	tm.module.setStatus(other, session.Active)

	tm.net.setOffline(true)
	a, err := tm.SendText(testCtx(t), tm.peer, "to peer")
	require.NoError(t, err)
	b, err := tm.SendText(testCtx(t), other, "to other")
	require.NoError(t, err)
	tm.net.setOffline(false)

	resend, err := tm.Resend(testCtx(t), map[id.ID][]uint64{
		*tm.peer: {a.Message.ID},
		*other:   {b.Message.ID},
	})
	require.NoError(t, err)
	require.Equal(t, 2, resend.Sent)
}

// Tests the synchronous rejection of invalid drafts, with nothing stored.
func TestManager_Send_Invalid(t *testing.T) {
	tm := newTestManager(t, session.NoSession, GetDefaultParams())

	_, err := tm.SendText(testCtx(t), tm.peer, "")
	require.ErrorIs(t, err, ErrEmptyMessage)

	unknown := id.NewIdFromString("unknown", id.User, t)
	_, err = tm.SendText(testCtx(t), unknown, "hi")
	require.ErrorIs(t, err, ErrNoDiscussion)

	parked, err := tm.SendText(testCtx(t), tm.peer, "parked")
	require.NoError(t, err)

	_, err = tm.Reply(testCtx(t), tm.peer, "re", parked.Message.ID)
	if !errors.Is(err, ErrReplyToUnsent) {
		t.Errorf("Unexpected error replying to an unsent message."+
			"\nexpected: %v\nreceived: %v", ErrReplyToUnsent, err)
	}
	_, err = tm.Reply(testCtx(t), tm.peer, "re", 9999)
	require.ErrorIs(t, err, ErrUnknownMessage)
	_, err = tm.Forward(testCtx(t), tm.peer, parked.Message.ID)
	require.ErrorIs(t, err, ErrReplyToUnsent)

	closed := id.NewIdFromString("closed", id.User, t)
	createDiscussion(t, tm.store, tm.owner, closed, storage.DiscussionClosed)
	_, err = tm.SendText(testCtx(t), closed, "hi")
	require.ErrorIs(t, err, ErrDiscussionClosed)

	messages, err := tm.Messages(tm.peer)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	// A message the transport refused has a seeker but never reached the peer
	active := newTestManager(t, session.Active, GetDefaultParams())
	active.net.setOffline(true)
	failed, err := active.SendText(testCtx(t), active.peer, "lost")
	require.NoError(t, err)
	require.Equal(t, storage.Failed, failed.Message.Status)
	require.NotEmpty(t, active.message(t, failed.Message.ID).Seeker)
	active.net.setOffline(false)

	_, err = active.Reply(testCtx(t), active.peer, "re", failed.Message.ID)
	require.ErrorIs(t, err, ErrReplyToUnsent)
	_, err = active.Forward(testCtx(t), active.peer, failed.Message.ID)
	require.ErrorIs(t, err, ErrReplyToUnsent)
	require.Len(t, active.net.envelopes(), 0)
}

// Tests that replies and forwards carry the seeker of the referenced message.
func TestManager_ReplyAndForward(t *testing.T) {
	tm := newTestManager(t, session.Active, GetDefaultParams())

	original, err := tm.SendText(testCtx(t), tm.peer, "original")
	require.NoError(t, err)
	seeker := tm.message(t, original.Message.ID).Seeker

	reply, err := tm.Reply(testCtx(t), tm.peer, "reply", original.Message.ID)
	require.NoError(t, err)
	require.Equal(t, seeker, reply.Message.ReplyTo)
	require.Equal(t, storage.Sent, reply.Message.Status)

	forward, err := tm.Forward(testCtx(t), tm.peer, original.Message.ID)
	require.NoError(t, err)
	require.Equal(t, seeker, forward.Message.ForwardOf)
	require.Equal(t, []byte("original"), forward.Message.Content)

	env, err := unmarshalEnvelope(bytes.TrimPrefix(
		tm.net.envelopes()[1].Data, []byte("sealed:")))
	require.NoError(t, err)
	require.Equal(t, seeker, env.ReplyTo)
}

// Tests that keep-alives use the pipeline but are hidden from the message
// list, and are refused without a session.
func TestManager_SendKeepAlive(t *testing.T) {
	tm := newTestManager(t, session.Active, GetDefaultParams())

	require.NoError(t, tm.SendKeepAlive(testCtx(t), tm.peer))
	require.Len(t, tm.net.envelopes(), 1)

	messages, err := tm.Messages(tm.peer)
	require.NoError(t, err)
	require.Empty(t, messages)
	require.Zero(t, tm.events.count(event.KindMessageSent))

	tm.module.setStatus(tm.peer, session.Killed)
	require.ErrorIs(t, tm.SendKeepAlive(testCtx(t), tm.peer), ErrSessionNotActive)

	tm.module.setStatus(tm.peer, session.Active)
	tm.net.setOffline(true)
	require.Error(t, tm.SendKeepAlive(testCtx(t), tm.peer))
	require.Zero(t, tm.events.count(event.KindMessageFailed))
}

// Tests that an encryption failure fails the message without reaching the
// transport.
func TestManager_Send_EncryptFailure(t *testing.T) {
	tm := newTestManager(t, session.Active, GetDefaultParams())
	tm.module.sendErr = errors.New("ratchet exhausted")

	report, err := tm.SendText(testCtx(t), tm.peer, "hi")
	require.NoError(t, err)
	msg := tm.message(t, report.Message.ID)
	require.Equal(t, storage.Failed, msg.Status)
	require.Empty(t, msg.Seeker)
	require.Empty(t, tm.net.envelopes())
}

func TestPreview(t *testing.T) {
	text := &storage.Message{Type: storage.Text, Content: []byte("héllo world")}
	require.Equal(t, "héllo…", preview(text, 5))
	require.Equal(t, "héllo world", preview(text, 0))
	require.Equal(t, "[image]", preview(&storage.Message{Type: storage.Image}, 5))
}

////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package dm

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/id"
	"gitlab.com/xx_network/primitives/netTime"
	"golang.org/x/crypto/blake2b"

	"gitlab.com/elixxir/parley/event"
	"gitlab.com/elixxir/parley/queue"
	"gitlab.com/elixxir/parley/session"
	"gitlab.com/elixxir/parley/storage"
	"gitlab.com/elixxir/parley/transport"
)

const (
	// SendMessageTag is the base tag used when generating a debug tag for
	// sending a message.
	SendMessageTag = "Message"

	// SendReplyTag is the base tag used when generating a debug tag for
	// sending a reply.
	SendReplyTag = "Reply"

	// SendForwardTag is the base tag used when generating a debug tag for
	// forwarding a message.
	SendForwardTag = "Forward"

	// SendKeepAliveTag is the base tag used when generating a debug tag for
	// sending a keep-alive.
	SendKeepAliveTag = "KeepAlive"
)

// Draft is a message to send.
type Draft struct {
	Peer    *id.ID
	Type    storage.MessageType
	Content []byte

	// ReplyTo and ForwardOf are local IDs of earlier messages. The
	// referenced message must have been transmitted.
	ReplyTo   uint64
	ForwardOf uint64
}

// SendReport describes the outcome of Send.
type SendReport struct {
	Message *storage.Message

	// Queued is set when the message was parked until the session with the
	// peer is usable. It is not an error.
	Queued bool
}

// SendText sends a text message to the peer.
func (m *Manager) SendText(ctx context.Context, peer *id.ID,
	text string) (*SendReport, error) {
	return m.Send(ctx, Draft{Peer: peer, Type: storage.Text, Content: []byte(text)})
}

// Reply sends a text message referencing the earlier message replyTo.
func (m *Manager) Reply(ctx context.Context, peer *id.ID, text string,
	replyTo uint64) (*SendReport, error) {
	return m.Send(ctx, Draft{
		Peer:    peer,
		Type:    storage.Text,
		Content: []byte(text),
		ReplyTo: replyTo,
	})
}

// Forward sends a copy of an earlier message, from any discussion, to the
// peer.
func (m *Manager) Forward(ctx context.Context, peer *id.ID,
	messageID uint64) (*SendReport, error) {
	original, err := m.store.GetMessage(m.owner, messageID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errors.WithMessagef(ErrUnknownMessage,
			"cannot forward message %d", messageID)
	} else if err != nil {
		return nil, err
	}
	return m.Send(ctx, Draft{
		Peer:      peer,
		Type:      original.Type,
		Content:   original.Content,
		ForwardOf: messageID,
	})
}

// Send stores and transmits the message in the peer's slot. When the session
// is not active the message is parked as WaitingSession and the report is
// marked queued. A transport failure leaves the message Failed and is not
// returned as an error.
func (m *Manager) Send(ctx context.Context, draft Draft) (*SendReport, error) {
	if draft.Peer == nil {
		return nil, errors.New("message has no recipient")
	}
	if len(draft.Content) == 0 && draft.Type != storage.KeepAlive {
		return nil, ErrEmptyMessage
	}
	return queue.Run(m.queue, *draft.Peer, func() (*SendReport, error) {
		return m.send(ctx, draft)
	})
}

func (m *Manager) send(ctx context.Context, draft Draft) (*SendReport, error) {
	peer := draft.Peer
	tag := makeDebugTag(peer, draft.Content, draftTag(draft))

	// Validation precedes every effect
	if err := m.checkDiscussion(peer); err != nil {
		return nil, err
	}
	replyTo, err := m.referencedSeeker(draft.ReplyTo)
	if err != nil {
		return nil, errors.WithMessage(err, "invalid reply")
	}
	forwardOf, err := m.referencedSeeker(draft.ForwardOf)
	if err != nil {
		return nil, errors.WithMessage(err, "invalid forward")
	}

	msg := &storage.Message{
		OwnerID:   m.owner.Marshal(),
		PeerID:    peer.Marshal(),
		Direction: storage.Outgoing,
		Type:      draft.Type,
		Status:    storage.WaitingSession,
		Content:   draft.Content,
		Timestamp: netTime.Now(),
		ReplyTo:   replyTo,
		ForwardOf: forwardOf,
	}

	st := m.module.PeerSessionStatus(peer)
	if st != session.Active {
		if err = m.store.AddMessage(msg); err != nil {
			return nil, err
		}
		jww.INFO.Printf("[DM][%s] Queued message %d to %s until the session "+
			"is usable (%s)", tag, msg.ID, peer, st)
		if msg.Type != storage.KeepAlive {
			m.updateLastMessage(peer, msg, false)
		}
		return &SendReport{Message: msg, Queued: true}, nil
	}

	msg.Status = storage.Sending
	if err = m.store.AddMessage(msg); err != nil {
		return nil, err
	}
	if msg.Type != storage.KeepAlive {
		m.updateLastMessage(peer, msg, false)
	}

	msg, err = m.transmit(ctx, peer, msg, false, tag)
	if err != nil {
		return nil, err
	}
	return &SendReport{Message: msg}, nil
}

// SendKeepAlive sends an empty keep-alive message through the same pipeline.
// Keep-alives are never parked; ErrSessionNotActive is returned instead.
func (m *Manager) SendKeepAlive(ctx context.Context, peer *id.ID) error {
	_, err := queue.Run(m.queue, *peer, func() (*storage.Message, error) {
		if st := m.module.PeerSessionStatus(peer); st != session.Active {
			return nil, errors.WithMessagef(ErrSessionNotActive,
				"no keep-alive to %s (%s)", peer, st)
		}
		msg := &storage.Message{
			OwnerID:   m.owner.Marshal(),
			PeerID:    peer.Marshal(),
			Direction: storage.Outgoing,
			Type:      storage.KeepAlive,
			Status:    storage.Sending,
			Timestamp: netTime.Now(),
		}
		if err := m.store.AddMessage(msg); err != nil {
			return nil, err
		}
		msg, err := m.transmit(ctx, peer, msg, false,
			makeDebugTag(peer, nil, SendKeepAliveTag))
		if err != nil {
			return nil, err
		}
		if msg.Status == storage.Failed {
			return msg, errors.New(msg.FailureReason)
		}
		return msg, nil
	})
	return err
}

// transmit encrypts msg, or reuses its cached ciphertext when allowed, then
// hands it to the transport. It runs in the peer's slot with msg stored as
// Sending, and leaves msg Sent or Failed. The returned error is only set
// when the outcome could not be stored.
func (m *Manager) transmit(ctx context.Context, peer *id.ID,
	msg *storage.Message, reuse bool, tag string) (*storage.Message, error) {
	var out *session.Outgoing
	if reuse && len(msg.Seeker) > 0 && len(msg.EncryptedPayload) > 0 {
		out = &session.Outgoing{Seeker: msg.Seeker, Data: msg.EncryptedPayload}
		jww.DEBUG.Printf("[DM][%s] Reusing cached payload of message %d",
			tag, msg.ID)
	} else {
		plaintext, err := newEnvelope(msg).marshal()
		if err != nil {
			return m.fail(peer, msg, err)
		}
		out, err = m.module.SendMessage(peer, plaintext)
		if err != nil {
			return m.fail(peer, msg, errors.WithMessage(err, "failed to encrypt"))
		}

		// The session has advanced; that must be on disk before the
		// ciphertext can leave
		if err = m.persist.Flush(); err != nil {
			return m.fail(peer, msg,
				errors.WithMessage(err, "failed to persist session state"))
		}

		msg, err = m.store.UpdateMessage(m.owner, msg.ID,
			func(stored *storage.Message) error {
				stored.Seeker = out.Seeker
				stored.EncryptedPayload = out.Data
				return nil
			})
		if err != nil {
			return nil, err
		}
	}

	if m.params.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.params.SendTimeout)
		defer cancel()
	}
	err := m.net.SendMessage(ctx, transport.Envelope{Seeker: out.Seeker, Data: out.Data})
	if err != nil {
		return m.fail(peer, msg, errors.WithMessage(err, "transport failure"))
	}

	msg, err = m.store.UpdateMessage(m.owner, msg.ID,
		func(stored *storage.Message) error {
			stored.Status = storage.Sent
			stored.EncryptedPayload = nil
			stored.FailureReason = ""
			return nil
		})
	if err != nil {
		return nil, err
	}

	jww.INFO.Printf("[DM][%s] Sent message %d to %s", tag, msg.ID, peer)
	if msg.Type != storage.KeepAlive {
		m.event.Report(event.MessageSent{
			Peer:      peer,
			MessageID: msg.ID,
			Seeker:    msg.Seeker,
		})
	}
	return msg, nil
}

// fail records a send failure on the message and its discussion.
func (m *Manager) fail(peer *id.ID, msg *storage.Message,
	cause error) (*storage.Message, error) {
	reason := cause.Error()
	jww.WARN.Printf("[DM] Failed to send message %d to %s: %+v",
		msg.ID, peer, cause)

	msg, err := m.store.UpdateMessage(m.owner, msg.ID,
		func(stored *storage.Message) error {
			stored.Status = storage.Failed
			stored.FailureReason = reason
			return nil
		})
	if err != nil {
		return nil, err
	}

	if msg.Type == storage.KeepAlive {
		return msg, nil
	}

	_, err = m.store.UpdateDiscussion(m.owner, peer,
		func(d *storage.Discussion) error {
			d.LastFailedMessageID = msg.ID
			d.LastFailedReason = reason
			d.LastFailedAt = timestamp()
			return nil
		})
	if err != nil {
		jww.WARN.Printf("[DM] Failed to record failure on discussion "+
			"with %s: %+v", peer, err)
	}

	m.event.Report(event.MessageFailed{
		Peer:      peer,
		MessageID: msg.ID,
		Reason:    reason,
	})
	return msg, nil
}

func (m *Manager) checkDiscussion(peer *id.ID) error {
	d, err := m.store.GetDiscussion(m.owner, peer)
	if errors.Is(err, storage.ErrNotFound) {
		return errors.WithMessagef(ErrNoDiscussion, "cannot message %s", peer)
	} else if err != nil {
		return err
	}
	if d.Status == storage.DiscussionClosed {
		return ErrDiscussionClosed
	}
	return nil
}

// referencedSeeker returns the seeker of the message a draft points at, or
// nil when it points at none.
func (m *Manager) referencedSeeker(messageID uint64) ([]byte, error) {
	if messageID == 0 {
		return nil, nil
	}
	ref, err := m.store.GetMessage(m.owner, messageID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errors.WithMessagef(ErrUnknownMessage, "message %d", messageID)
	} else if err != nil {
		return nil, err
	}
	if len(ref.Seeker) == 0 || !transmitted(ref) {
		return nil, errors.WithMessagef(ErrReplyToUnsent,
			"message %d is %s", messageID, ref.Status)
	}
	return ref.Seeker, nil
}

// transmitted reports whether the peer can know msg by its seeker. Outgoing
// messages carry a seeker from encryption on, but only count once the
// transport accepted them.
func transmitted(msg *storage.Message) bool {
	if msg.Direction == storage.Incoming {
		return true
	}
	switch msg.Status {
	case storage.Sent, storage.Delivered, storage.Read:
		return true
	default:
		return false
	}
}

func draftTag(d Draft) string {
	switch {
	case d.Type == storage.KeepAlive:
		return SendKeepAliveTag
	case d.ReplyTo != 0:
		return SendReplyTag
	case d.ForwardOf != 0:
		return SendForwardTag
	default:
		return SendMessageTag
	}
}

// makeDebugTag tags log lines of one send so they can be correlated without
// printing the content.
func makeDebugTag(peer *id.ID, msg []byte, baseTag string) string {
	h, _ := blake2b.New256(nil)
	h.Write(msg)
	h.Write(peer.Marshal())

	tripCode := base64.RawStdEncoding.EncodeToString(h.Sum(nil))[:12]
	return fmt.Sprintf("%s-%s", baseTag, tripCode)
}

////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package event

import (
	"fmt"
	"strconv"
	"time"

	"gitlab.com/xx_network/primitives/id"
)

// Kind identifies the concrete type of an Event.
type Kind uint8

const (
	KindMessageReceived Kind = iota + 1
	KindMessageSent
	KindMessageFailed
	KindDiscussionRequest
	KindDiscussionStatusChanged
	KindSessionBroken
	KindSessionRenewed
	KindError
)

// String prints a human-readable version of the Kind. This function satisfies
// the fmt.Stringer interface.
func (k Kind) String() string {
	switch k {
	case KindMessageReceived:
		return "MessageReceived"
	case KindMessageSent:
		return "MessageSent"
	case KindMessageFailed:
		return "MessageFailed"
	case KindDiscussionRequest:
		return "DiscussionRequest"
	case KindDiscussionStatusChanged:
		return "DiscussionStatusChanged"
	case KindSessionBroken:
		return "SessionBroken"
	case KindSessionRenewed:
		return "SessionRenewed"
	case KindError:
		return "Error"
	default:
		return "INVALID KIND: " + strconv.Itoa(int(k))
	}
}

// Event is one of the concrete event structs in this file. Subscribers switch
// on the dynamic type.
type Event interface {
	Kind() Kind
	fmt.Stringer
}

// MessageReceived is reported once a decrypted incoming message is stored.
type MessageReceived struct {
	Peer      *id.ID
	MessageID uint64
	Timestamp time.Time
}

func (MessageReceived) Kind() Kind { return KindMessageReceived }
func (e MessageReceived) String() string {
	return fmt.Sprintf("MessageReceived{peer: %s, message: %d}", e.Peer, e.MessageID)
}

// MessageSent is reported when the transport accepted an outgoing message.
type MessageSent struct {
	Peer      *id.ID
	MessageID uint64
	Seeker    []byte
}

func (MessageSent) Kind() Kind { return KindMessageSent }
func (e MessageSent) String() string {
	return fmt.Sprintf("MessageSent{peer: %s, message: %d}", e.Peer, e.MessageID)
}

// MessageFailed is reported when an outgoing message moves to failed.
type MessageFailed struct {
	Peer      *id.ID
	MessageID uint64
	Reason    string
}

func (MessageFailed) Kind() Kind { return KindMessageFailed }
func (e MessageFailed) String() string {
	return fmt.Sprintf("MessageFailed{peer: %s, message: %d, reason: %q}",
		e.Peer, e.MessageID, e.Reason)
}

// DiscussionRequest is reported when a peer's announcement creates a new
// pending discussion.
type DiscussionRequest struct {
	Peer         *id.ID
	DiscussionID uint64
	Message      string
}

func (DiscussionRequest) Kind() Kind { return KindDiscussionRequest }
func (e DiscussionRequest) String() string {
	return fmt.Sprintf("DiscussionRequest{peer: %s, discussion: %d}",
		e.Peer, e.DiscussionID)
}

// DiscussionStatusChanged is reported on every discussion state transition.
type DiscussionStatusChanged struct {
	Peer         *id.ID
	DiscussionID uint64
	Status       string
}

func (DiscussionStatusChanged) Kind() Kind { return KindDiscussionStatusChanged }
func (e DiscussionStatusChanged) String() string {
	return fmt.Sprintf("DiscussionStatusChanged{peer: %s, discussion: %d, status: %s}",
		e.Peer, e.DiscussionID, e.Status)
}

// SessionBroken is reported when the refresh cycle finds that an active
// discussion's session needs renewal.
type SessionBroken struct {
	Peer   *id.ID
	Status string
}

func (SessionBroken) Kind() Kind { return KindSessionBroken }
func (e SessionBroken) String() string {
	return fmt.Sprintf("SessionBroken{peer: %s, status: %s}", e.Peer, e.Status)
}

// SessionRenewed is reported after a renewal handshake was sent.
type SessionRenewed struct {
	Peer *id.ID
}

func (SessionRenewed) Kind() Kind { return KindSessionRenewed }
func (e SessionRenewed) String() string {
	return fmt.Sprintf("SessionRenewed{peer: %s}", e.Peer)
}

// Error surfaces a failure of a background operation. Peer is nil when the
// failure is not tied to one peer.
type Error struct {
	Source string
	Peer   *id.ID
	Err    error
}

func (Error) Kind() Kind { return KindError }
func (e Error) String() string {
	return fmt.Sprintf("Error{source: %s, peer: %s, err: %v}", e.Source, e.Peer, e.Err)
}

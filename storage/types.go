////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package storage

import "strconv"

// DiscussionStatus is the lifecycle position of a Discussion.
type DiscussionStatus uint8

const (
	DiscussionPending DiscussionStatus = iota
	DiscussionActive
	DiscussionClosed
)

// String prints a human-readable version of the DiscussionStatus. This
// function satisfies the fmt.Stringer interface.
func (s DiscussionStatus) String() string {
	switch s {
	case DiscussionPending:
		return "pending"
	case DiscussionActive:
		return "active"
	case DiscussionClosed:
		return "closed"
	default:
		return "INVALID DISCUSSION STATUS: " + strconv.Itoa(int(s))
	}
}

// Direction records which side started a Discussion.
type Direction uint8

const (
	Initiated Direction = iota
	Received
)

func (d Direction) String() string {
	switch d {
	case Initiated:
		return "initiated"
	case Received:
		return "received"
	default:
		return "INVALID DIRECTION: " + strconv.Itoa(int(d))
	}
}

// MessageStatus is the delivery state of a Message.
type MessageStatus uint8

const (
	// WaitingSession messages are stored but were never encrypted because
	// no usable session existed.
	WaitingSession MessageStatus = iota
	// Sending is transient. No message stays Sending across a restart.
	Sending
	Sent
	Delivered
	Read
	Failed
)

// String prints a human-readable version of the MessageStatus. This function
// satisfies the fmt.Stringer interface.
func (s MessageStatus) String() string {
	switch s {
	case WaitingSession:
		return "waiting_session"
	case Sending:
		return "sending"
	case Sent:
		return "sent"
	case Delivered:
		return "delivered"
	case Read:
		return "read"
	case Failed:
		return "failed"
	default:
		return "INVALID MESSAGE STATUS: " + strconv.Itoa(int(s))
	}
}

// MessageDirection is the direction of a Message relative to the owner.
type MessageDirection uint8

const (
	Outgoing MessageDirection = iota
	Incoming
)

func (d MessageDirection) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}

// MessageType is the kind of content a Message carries.
type MessageType uint8

const (
	Text MessageType = iota
	Image
	File
	Audio
	Video
	// KeepAlive messages carry no content and are never shown to the user.
	KeepAlive
)

func (t MessageType) String() string {
	switch t {
	case Text:
		return "text"
	case Image:
		return "image"
	case File:
		return "file"
	case Audio:
		return "audio"
	case Video:
		return "video"
	case KeepAlive:
		return "keep_alive"
	default:
		return "INVALID MESSAGE TYPE: " + strconv.Itoa(int(t))
	}
}

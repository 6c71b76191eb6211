////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package storage is the relational store for contacts, discussions, messages
// and the out-of-band inboxes. Every row is scoped to an owner ID so one
// database can serve several local identities.
package storage

import (
	"time"

	"github.com/pkg/errors"
	"gitlab.com/xx_network/primitives/id"
)

var (
	// ErrNotFound is returned when no row matches the lookup.
	ErrNotFound = errors.New("record not found")

	// ErrExists is returned when creating a row that violates uniqueness.
	ErrExists = errors.New("record already exists")
)

// Store is the persistence contract used by the discussion, delivery and
// refresh layers.
type Store interface {
	// UpsertContact creates the contact or updates its name and public key.
	UpsertContact(c *Contact) error
	GetContact(owner, peer *id.ID) (*Contact, error)
	Contacts(owner *id.ID) ([]*Contact, error)
	// TouchContact marks the peer online as of seen.
	TouchContact(owner, peer *id.ID, seen time.Time) error
	// DeleteContact removes the contact together with its discussion and
	// messages.
	DeleteContact(owner, peer *id.ID) error

	// CreateDiscussion inserts a new discussion. Returns ErrExists if the
	// owner already has one with the peer.
	CreateDiscussion(d *Discussion) error
	GetDiscussion(owner, peer *id.ID) (*Discussion, error)
	// UpdateDiscussion applies fn to the stored discussion and saves the
	// result atomically. Nothing is saved if fn returns an error.
	UpdateDiscussion(owner, peer *id.ID,
		fn func(d *Discussion) error) (*Discussion, error)
	Discussions(owner *id.ID) ([]*Discussion, error)
	DiscussionsByStatus(owner *id.ID, status DiscussionStatus) ([]*Discussion, error)

	// AddMessage inserts the message and sets its ID.
	AddMessage(m *Message) error
	GetMessage(owner *id.ID, messageID uint64) (*Message, error)
	GetMessageBySeeker(owner *id.ID, seeker []byte) (*Message, error)
	// UpdateMessage applies fn to the stored message and saves the result
	// atomically. Nothing is saved if fn returns an error.
	UpdateMessage(owner *id.ID, messageID uint64,
		fn func(m *Message) error) (*Message, error)
	// MessagesByStatus lists messages in the status in insertion order. A
	// nil peer matches every peer.
	MessagesByStatus(owner, peer *id.ID, status MessageStatus) ([]*Message, error)
	// Messages lists the user-visible messages with the peer in insertion
	// order. Keep-alive messages are excluded.
	Messages(owner, peer *id.ID) ([]*Message, error)
	// ResetSending moves every message left in Sending to the given status
	// and returns how many were moved.
	ResetSending(owner *id.ID, to MessageStatus) (int64, error)
	// InvalidatePayloads drops the cached ciphertext of the peer's unsent
	// outgoing messages.
	InvalidatePayloads(owner, peer *id.ID) (int64, error)
	// AcknowledgeSeekers moves sent outgoing messages with the given seekers
	// to Delivered.
	AcknowledgeSeekers(owner *id.ID, seekers [][]byte) (int64, error)
	// MarkIncomingRead moves the peer's delivered incoming messages to Read.
	MarkIncomingRead(owner, peer *id.ID) (int64, error)

	// AddPendingAnnouncement queues raw announcement data. Returns false if
	// identical data is already queued.
	AddPendingAnnouncement(owner *id.ID, data []byte) (bool, error)
	PendingAnnouncements(owner *id.ID, limit int) ([]*PendingAnnouncement, error)
	DeletePendingAnnouncements(owner *id.ID, ids []uint64) error
	// AddPendingMessage queues raw message data. Returns false if identical
	// data is already queued.
	AddPendingMessage(owner *id.ID, seeker, data []byte) (bool, error)
	PendingMessages(owner *id.ID, limit int) ([]*PendingMessage, error)
	DeletePendingMessages(owner *id.ID, ids []uint64) error

	Close() error
}

////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package storage

import (
	"time"

	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/id"
)

// Contact is a peer known to the owner.
//
// A Contact has at most one Discussion.
type Contact struct {
	ID        uint64     `gorm:"primaryKey;autoIncrement:true"`
	OwnerID   []byte     `gorm:"uniqueIndex:idx_contact_owner_peer;not null"`
	PeerID    []byte     `gorm:"uniqueIndex:idx_contact_owner_peer;not null"`
	Name      string     `gorm:"not null"`
	PublicKey []byte     `gorm:"not null"`
	IsOnline  bool       `gorm:"not null"`
	LastSeen  *time.Time `gorm:""`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName overrides the table name used by Contact.
func (Contact) TableName() string {
	return "contacts"
}

func (c *Contact) Owner() *id.ID { return unmarshalID(c.OwnerID) }
func (c *Contact) Peer() *id.ID  { return unmarshalID(c.PeerID) }

// Discussion is the conversation between the owner and one peer. It moves
// from pending to active to closed and never leaves closed.
type Discussion struct {
	ID        uint64           `gorm:"primaryKey;autoIncrement:true"`
	OwnerID   []byte           `gorm:"uniqueIndex:idx_discussion_owner_peer;not null"`
	PeerID    []byte           `gorm:"uniqueIndex:idx_discussion_owner_peer;not null"`
	Status    DiscussionStatus `gorm:"index;not null"`
	Direction Direction        `gorm:"not null"`

	// Announcement holds our outgoing handshake until the transport has
	// accepted it. AnnouncementSentAt stays nil until then.
	Announcement       []byte
	AnnouncementSentAt *time.Time

	OurMessage  string
	PeerMessage string

	LastSyncAt         *time.Time
	LastMessageID      uint64
	LastMessagePreview string
	LastMessageAt      *time.Time
	UnreadCount        uint32 `gorm:"not null"`

	LastFailedMessageID uint64
	LastFailedReason    string
	LastFailedAt        *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName overrides the table name used by Discussion.
func (Discussion) TableName() string {
	return "discussions"
}

func (d *Discussion) Owner() *id.ID { return unmarshalID(d.OwnerID) }
func (d *Discussion) Peer() *id.ID  { return unmarshalID(d.PeerID) }

// Message is one direct message, incoming or outgoing.
//
// Seeker is set once the session layer has encrypted the message, and
// EncryptedPayload caches the ciphertext so a failed send can be retried
// without re-encrypting.
type Message struct {
	ID               uint64           `gorm:"primaryKey;autoIncrement:true"`
	OwnerID          []byte           `gorm:"index:idx_message_owner_peer;not null"`
	PeerID           []byte           `gorm:"index:idx_message_owner_peer;not null"`
	Direction        MessageDirection `gorm:"not null"`
	Type             MessageType      `gorm:"not null"`
	Status           MessageStatus    `gorm:"index;not null"`
	Content          []byte
	Timestamp        time.Time `gorm:"index;not null"`
	Seeker           []byte    `gorm:"index"`
	EncryptedPayload []byte
	ReplyTo          []byte
	ForwardOf        []byte
	FailureReason    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TableName overrides the table name used by Message.
func (Message) TableName() string {
	return "messages"
}

func (m *Message) Owner() *id.ID { return unmarshalID(m.OwnerID) }
func (m *Message) Peer() *id.ID  { return unmarshalID(m.PeerID) }

// PendingAnnouncement is a raw announcement delivered out of band and
// waiting for the next ingestion pass.
type PendingAnnouncement struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement:true"`
	OwnerID    []byte    `gorm:"uniqueIndex:idx_pending_announcement;not null"`
	Hash       []byte    `gorm:"uniqueIndex:idx_pending_announcement;not null"`
	Data       []byte    `gorm:"not null"`
	ReceivedAt time.Time `gorm:"not null"`
}

// TableName overrides the table name used by PendingAnnouncement.
func (PendingAnnouncement) TableName() string {
	return "pending_announcements"
}

// PendingMessage is a raw encrypted message delivered out of band.
type PendingMessage struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement:true"`
	OwnerID    []byte    `gorm:"uniqueIndex:idx_pending_message;not null"`
	Hash       []byte    `gorm:"uniqueIndex:idx_pending_message;not null"`
	Seeker     []byte    `gorm:"not null"`
	Data       []byte    `gorm:"not null"`
	ReceivedAt time.Time `gorm:"not null"`
}

// TableName overrides the table name used by PendingMessage.
func (PendingMessage) TableName() string {
	return "pending_messages"
}

func unmarshalID(b []byte) *id.ID {
	uid, err := id.Unmarshal(b)
	if err != nil {
		jww.ERROR.Printf("[SQL] Stored ID %v is malformed: %+v", b, err)
		return nil
	}
	return uid
}

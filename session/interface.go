////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package session is the boundary to the cryptographic session engine. The
// engine owns every per-peer ratchet and key. The rest of the messenger only
// sees opaque announcements, ciphertexts and seekers, plus the status the
// engine reports for each peer.
package session

import (
	"time"

	"gitlab.com/xx_network/primitives/id"
)

// Module is the external session engine. Implementations must be safe for
// concurrent use, and must call the persist callback after every change to
// their state.
type Module interface {
	// EstablishOutgoingSession creates or renews our half of the session
	// with the owner of peerPublicKey. It returns the announcement to
	// publish, with userData embedded for the peer to read.
	EstablishOutgoingSession(peerPublicKey []byte, keys Keys,
		userData []byte) ([]byte, error)

	// FeedIncomingAnnouncement processes a published announcement. It
	// returns nil without error when the announcement is not addressed to
	// us.
	FeedIncomingAnnouncement(data []byte, keys Keys) (*Announcement, error)

	// PeerSessionStatus reports the session state with the peer.
	PeerSessionStatus(peer *id.ID) Status

	// Refresh advances session timers. It returns the peers that must be
	// sent a keep-alive to keep their session from lapsing.
	Refresh() ([]*id.ID, error)

	// SendMessage encrypts the payload for the peer. The session must be
	// Active.
	SendMessage(peer *id.ID, payload []byte) (*Outgoing, error)

	// ReadSeekers returns every seeker that could carry our next incoming
	// message.
	ReadSeekers() [][]byte

	// FeedIncomingMessage decrypts a message fetched under seeker. It
	// returns nil without error when the message is not for us.
	FeedIncomingMessage(seeker, data []byte, keys Keys) (*Incoming, error)

	// ToEncryptedBlob serialises the full engine state under key.
	ToEncryptedBlob(key []byte) ([]byte, error)

	// Load replaces the engine state with a blob from ToEncryptedBlob.
	Load(blob, key []byte) error

	// SetPersistCallback registers the function called after every state
	// change.
	SetPersistCallback(cb func())
}

// Announcement is the result of processing an announcement addressed to us.
type Announcement struct {
	// PublicKey of the announcing peer. Its peer ID is DeriveID(PublicKey).
	PublicKey []byte
	UserData  []byte
}

// Outgoing is an encrypted message ready for the transport.
type Outgoing struct {
	Seeker []byte
	Data   []byte
}

// Incoming is a decrypted message.
type Incoming struct {
	Peer    *id.ID
	Payload []byte

	// Acknowledged lists seekers of our messages the peer confirmed.
	Acknowledged [][]byte

	Timestamp time.Time
}

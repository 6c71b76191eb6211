////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package transport declares the network the messenger publishes to. The
// network is a dumb store: announcements go on a public board and messages
// are filed under their seeker.
package transport

import (
	"context"
)

// Envelope is an encrypted message filed under its seeker.
type Envelope struct {
	Seeker []byte
	Data   []byte
}

// Transport moves opaque bytes. Implementations must be safe for concurrent
// use and should honour context cancellation.
type Transport interface {
	// SendAnnouncement publishes a handshake. It returns an identifier the
	// network assigned to it.
	SendAnnouncement(ctx context.Context, data []byte) (uint64, error)

	// FetchAnnouncements returns announcements published since the previous
	// fetch.
	FetchAnnouncements(ctx context.Context) ([][]byte, error)

	// SendMessage files the envelope under its seeker.
	SendMessage(ctx context.Context, env Envelope) error

	// FetchMessages returns the envelopes filed under any of the seekers.
	FetchMessages(ctx context.Context, seekers [][]byte) ([]Envelope, error)
}

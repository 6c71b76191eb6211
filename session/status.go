////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package session

import "strconv"

// Status is the session state the engine reports for one peer.
type Status uint8

const (
	// NoSession means the peer is known but no handshake is in progress.
	NoSession Status = iota
	// SelfRequested means we announced and the peer has not answered.
	SelfRequested
	// PeerRequested means the peer announced and we have not answered.
	PeerRequested
	// Active sessions can carry messages.
	Active
	// Saturated sessions have too many unacknowledged messages to send more.
	Saturated
	// Killed sessions were torn down and must be renewed.
	Killed
	// UnknownPeer means the engine has no record of the peer.
	UnknownPeer
)

// String prints a human-readable version of the Status. This function
// satisfies the fmt.Stringer interface.
func (s Status) String() string {
	switch s {
	case NoSession:
		return "no_session"
	case SelfRequested:
		return "self_requested"
	case PeerRequested:
		return "peer_requested"
	case Active:
		return "active"
	case Saturated:
		return "saturated"
	case Killed:
		return "killed"
	case UnknownPeer:
		return "unknown_peer"
	default:
		return "INVALID STATUS: " + strconv.Itoa(int(s))
	}
}

// NeedsRenewal reports whether an active discussion in this state can only
// recover through a fresh handshake.
func (s Status) NeedsRenewal() bool {
	switch s {
	case Killed, Saturated, NoSession, UnknownPeer:
		return true
	default:
		return false
	}
}

////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package auth

import (
	"fmt"

	"github.com/pkg/errors"
	"gitlab.com/xx_network/primitives/id"

	"gitlab.com/elixxir/parley/session"
	"gitlab.com/elixxir/parley/storage"
)

var (
	ErrNoPublicKey      = errors.New("contact has no public key")
	ErrSelfDiscussion   = errors.New("cannot start a discussion with yourself")
	ErrNoDiscussion     = errors.New("no discussion with peer")
	ErrDiscussionClosed = errors.New("discussion is closed")
	ErrDiscussionActive = errors.New("discussion is already active")
	ErrNotActive        = errors.New("discussion is not active")

	// ErrRequestPending is returned when initiating towards a peer whose
	// own request is waiting to be accepted.
	ErrRequestPending = errors.New("peer's request is pending; accept it instead")

	// ErrNotAcceptable is returned when accepting a discussion that is not
	// an incoming pending request.
	ErrNotAcceptable = errors.New("discussion is not an incoming request")
)

// InvariantError reports a discussion whose stored state contradicts the
// session engine. It is never retried.
type InvariantError struct {
	Peer       *id.ID
	Discussion storage.DiscussionStatus
	Session    session.Status
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("discussion with %s is %s but its session is %s",
		e.Peer, e.Discussion, e.Session)
}

// IsInvariantError reports whether err is or wraps an InvariantError.
func IsInvariantError(err error) bool {
	var target *InvariantError
	return errors.As(err, &target)
}

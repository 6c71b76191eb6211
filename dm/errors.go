////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package dm

import "github.com/pkg/errors"

var (
	ErrNoDiscussion     = errors.New("no discussion with peer")
	ErrDiscussionClosed = errors.New("discussion is closed")
	ErrEmptyMessage     = errors.New("message has no content")
	ErrUnknownMessage   = errors.New("referenced message does not exist")

	// ErrReplyToUnsent is returned when replying to or forwarding a message
	// that was never transmitted and so has no seeker to reference.
	ErrReplyToUnsent = errors.New("referenced message has not been sent")

	// ErrSessionNotActive is returned by operations that need a usable
	// session and will not queue.
	ErrSessionNotActive = errors.New("session with peer is not active")
)

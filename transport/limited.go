////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package transport

import (
	"context"

	jww "github.com/spf13/jwalterweatherman"
	"go.uber.org/ratelimit"
)

// limited paces outgoing sends. Fetches pass through unthrottled.
type limited struct {
	Transport
	pace *Pacer
}

// NewLimited wraps t so that at most perSecond announcements and messages
// combined are sent each second. A non-positive rate returns t unchanged.
func NewLimited(t Transport, perSecond int) Transport {
	if perSecond <= 0 {
		return t
	}
	jww.DEBUG.Printf("Limiting transport sends to %d per second", perSecond)
	return &limited{
		Transport: t,
		pace:      NewPacer(ratelimit.New(perSecond, ratelimit.WithoutSlack)),
	}
}

func (l *limited) SendAnnouncement(ctx context.Context, data []byte) (uint64, error) {
	if err := l.pace.Take(ctx); err != nil {
		return 0, err
	}
	return l.Transport.SendAnnouncement(ctx, data)
}

func (l *limited) SendMessage(ctx context.Context, env Envelope) error {
	if err := l.pace.Take(ctx); err != nil {
		return err
	}
	return l.Transport.SendMessage(ctx, env)
}

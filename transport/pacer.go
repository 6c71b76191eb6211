////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package transport

import (
	"context"

	"go.uber.org/ratelimit"
)

// Pacer hands out slots of a ratelimit.Limiter to callers that may give up.
// A Limiter cannot be interrupted, so a caller whose context ends leaves its
// wait running in the background; at most one such wait exists at a time.
type Pacer struct {
	rl     ratelimit.Limiter
	waiter chan struct{}
}

func NewPacer(rl ratelimit.Limiter) *Pacer {
	return &Pacer{rl: rl, waiter: make(chan struct{}, 1)}
}

// Take blocks until the Limiter grants a slot or ctx ends.
func (p *Pacer) Take(ctx context.Context) error {
	select {
	case p.waiter <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	slot := make(chan struct{})
	go func() {
		defer func() { <-p.waiter }()
		p.rl.Take()
		close(slot)
	}()

	select {
	case <-slot:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

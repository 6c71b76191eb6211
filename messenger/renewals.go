////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package messenger

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// renewals tracks background session renewals so that teardown can cancel
// them and wait for them to return.
type renewals struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     *sync.WaitGroup
	halted bool
	mux    sync.Mutex
}

func newRenewals() *renewals {
	r := &renewals{}
	r.reset()
	return r
}

func (r *renewals) reset() {
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.wg = &sync.WaitGroup{}
	r.halted = false
}

// begin registers a renewal. It returns the context the renewal runs under
// and the function to call when it returns, or false once halted.
func (r *renewals) begin() (context.Context, func(), bool) {
	r.mux.Lock()
	defer r.mux.Unlock()

	if r.halted {
		return nil, nil, false
	}
	wg := r.wg
	wg.Add(1)
	return r.ctx, wg.Done, true
}

// halt cancels running renewals and refuses new ones until resume.
func (r *renewals) halt() {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.halted = true
	r.cancel()
}

// wait blocks until every renewal begun before the last halt returned, or
// until timeout passes. A timeout of 0 waits without bound.
func (r *renewals) wait(timeout time.Duration) error {
	r.mux.Lock()
	wg := r.wg
	r.mux.Unlock()

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	if timeout <= 0 {
		<-finished
		return nil
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	select {
	case <-finished:
		return nil
	case <-deadline.C:
		return errors.Errorf("session renewals did not return within %s",
			timeout)
	}
}

// resume accepts renewals again after a halt.
func (r *renewals) resume() {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.halted {
		r.reset()
	}
}

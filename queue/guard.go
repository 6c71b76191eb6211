////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package queue

import "sync/atomic"

// Guard lets at most one invocation of an operation run at a time. Calls that
// arrive while one is running are dropped, not queued.
type Guard struct {
	running uint32
}

// TryRun runs fn unless another TryRun on the same Guard is in progress.
// Returns false when the call was dropped.
func (g *Guard) TryRun(fn func()) bool {
	if !atomic.CompareAndSwapUint32(&g.running, 0, 1) {
		return false
	}
	defer atomic.StoreUint32(&g.running, 0)
	fn()
	return true
}

// IsRunning reports whether an invocation is in progress.
func (g *Guard) IsRunning() bool {
	return atomic.LoadUint32(&g.running) == 1
}

////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package transport

import (
	"context"
	"sync"
	"testing"
	"time"
)

// blockingLimiter hands out a slot only when released.
type blockingLimiter struct {
	release chan struct{}
	mux     sync.Mutex
	waiting int
	max     int
}

func (b *blockingLimiter) Take() time.Time {
	b.mux.Lock()
	b.waiting++
	if b.waiting > b.max {
		b.max = b.waiting
	}
	b.mux.Unlock()

	<-b.release

	b.mux.Lock()
	b.waiting--
	b.mux.Unlock()
	return time.Now()
}

func (b *blockingLimiter) maxWaiting() int {
	b.mux.Lock()
	defer b.mux.Unlock()
	return b.max
}

// Tests that callers giving up never leave more than one wait on the limiter.
func TestPacer_Take_Cancelled(t *testing.T) {
	rl := &blockingLimiter{release: make(chan struct{})}
	p := NewPacer(rl)

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(),
			10*time.Millisecond)
		err := p.Take(ctx)
		cancel()
		if err == nil {
			t.Fatalf("Take %d returned without a slot.", i)
		}
	}
	if n := rl.maxWaiting(); n != 1 {
		t.Errorf("Unexpected number of waits on the limiter."+
			"\nexpected: %d\nreceived: %d", 1, n)
	}

	close(rl.release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Take(ctx); err != nil {
		t.Errorf("Take failed once the limiter released: %+v", err)
	}
}

////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package queue

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	jww.SetStdoutThreshold(jww.LevelTrace)
	os.Exit(m.Run())
}

// Tests that tasks under one key complete in submission order even when the
// earlier ones take longer.
func TestQueue_Enqueue_SameKeyOrder(t *testing.T) {
	q := New[string]()

	var mux sync.Mutex
	var order []int
	futures := make([]*Future, 5)
	for i := range futures {
		i := i
		futures[i] = q.Enqueue("peer", func() (interface{}, error) {
			time.Sleep(time.Duration(5-i) * 5 * time.Millisecond)
			mux.Lock()
			order = append(order, i)
			mux.Unlock()
			return i, nil
		})
	}

	for i, f := range futures {
		result, err := f.Wait()
		if err != nil {
			t.Fatalf("Task %d returned an error: %+v", i, err)
		}
		if result.(int) != i {
			t.Errorf("Unexpected result.\nexpected: %d\nreceived: %v", i, result)
		}
	}

	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

// Tests that tasks under different keys overlap.
func TestQueue_Enqueue_DifferentKeysConcurrent(t *testing.T) {
	q := New[string]()

	release := make(chan struct{})
	started := make(chan string, 2)
	for _, key := range []string{"a", "b"} {
		key := key
		q.Enqueue(key, func() (interface{}, error) {
			started <- key
			<-release
			return nil, nil
		})
	}

	timeout := time.After(time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-timeout:
			t.Fatal("Tasks under different keys did not run concurrently.")
		}
	}
	close(release)
}

// Tests that a failing or panicking task does not stop the key's later tasks.
func TestQueue_Enqueue_FailureDoesNotBlock(t *testing.T) {
	q := New[int]()
	expectedErr := errors.New("task failure")

	failed := q.Enqueue(1, func() (interface{}, error) { return nil, expectedErr })
	panicked := q.Enqueue(1, func() (interface{}, error) { panic("boom") })
	ok := q.Enqueue(1, func() (interface{}, error) { return "done", nil })

	if _, err := failed.Wait(); !errors.Is(err, expectedErr) {
		t.Errorf("Unexpected error.\nexpected: %v\nreceived: %v", expectedErr, err)
	}
	if _, err := panicked.Wait(); err == nil {
		t.Error("Panicking task did not resolve with an error.")
	}
	result, err := ok.Wait()
	require.NoError(t, err)
	require.Equal(t, "done", result)
}

// Tests that Clear drops tasks that have not started and leaves the running
// one alone.
func TestQueue_Clear(t *testing.T) {
	q := New[string]()

	started := make(chan struct{})
	release := make(chan struct{})
	running := q.Enqueue("peer", func() (interface{}, error) {
		close(started)
		<-release
		return "ran", nil
	})
	<-started

	var ranDropped bool
	dropped := q.Enqueue("peer", func() (interface{}, error) {
		ranDropped = true
		return nil, nil
	})

	if n := q.Clear(); n != 1 {
		t.Errorf("Unexpected number of dropped tasks.\nexpected: %d\nreceived: %d", 1, n)
	}

	if _, err := dropped.Wait(); !errors.Is(err, ErrCleared) {
		t.Errorf("Unexpected error.\nexpected: %v\nreceived: %v", ErrCleared, err)
	}

	close(release)
	result, err := running.Wait()
	require.NoError(t, err)
	require.Equal(t, "ran", result)
	require.False(t, ranDropped)

	// The key is usable again after clearing
	after, err := Run(q, "peer", func() (int, error) { return 7, nil })
	require.NoError(t, err)
	require.Equal(t, 7, after)
}

// Tests that Run returns the typed result and error together.
func TestRun(t *testing.T) {
	q := New[string]()
	expectedErr := errors.New("partial")

	n, err := Run(q, "k", func() (int, error) { return 3, expectedErr })
	if !errors.Is(err, expectedErr) || n != 3 {
		t.Errorf("Unexpected result.\nexpected: %d, %v\nreceived: %d, %v",
			3, expectedErr, n, err)
	}

	p, err := Run(q, "k", func() (*int, error) { return nil, nil })
	require.NoError(t, err)
	require.Nil(t, p)
}

// Tests that a Future can be waited on with a context.
func TestFuture_WaitContext(t *testing.T) {
	f := newFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := f.WaitContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Unexpected error.\nexpected: %v\nreceived: %v",
			context.DeadlineExceeded, err)
	}

	f.resolve(1, nil)
	select {
	case <-f.Done():
	default:
		t.Error("Done channel not closed after resolve.")
	}
}

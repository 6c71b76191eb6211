////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package queue serialises work per key. Tasks that share a key run one at a
// time in submission order, while tasks under different keys run
// concurrently. Each peer of the messenger owns one key, so every mutation of
// that peer's session and discussion state is totally ordered.
package queue

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// ErrCleared is the result of any task dropped by Queue.Clear before it
// started.
var ErrCleared = errors.New("task was cleared from the queue before running")

// Task is a unit of work. Its return values resolve the Future returned by
// Enqueue.
type Task func() (interface{}, error)

// Future resolves once the associated Task has run or has been dropped.
type Future struct {
	done   chan struct{}
	result interface{}
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(result interface{}, err error) {
	f.result, f.err = result, err
	close(f.done)
}

// Done returns a channel closed once the Future is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the Future is resolved.
func (f *Future) Wait() (interface{}, error) {
	<-f.done
	return f.result, f.err
}

// WaitContext blocks until the Future is resolved or the context ends. A
// context that ends first does not cancel the task.
func (f *Future) WaitContext(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type job struct {
	task   Task
	future *Future
}

// Queue is a keyed FIFO executor. The zero value is not usable; use New.
type Queue[K comparable] struct {
	pending map[K][]*job
	running map[K]bool
	mux     sync.Mutex
}

// New returns an empty Queue.
func New[K comparable]() *Queue[K] {
	return &Queue[K]{
		pending: make(map[K][]*job),
		running: make(map[K]bool),
	}
}

// Enqueue appends the task to the key's FIFO. It starts after every task
// previously enqueued under the same key has finished, whether those
// succeeded, failed or panicked.
func (q *Queue[K]) Enqueue(key K, task Task) *Future {
	j := &job{task: task, future: newFuture()}

	q.mux.Lock()
	defer q.mux.Unlock()

	q.pending[key] = append(q.pending[key], j)
	if !q.running[key] {
		q.running[key] = true
		go q.drain(key)
	}

	return j.future
}

// Clear drops every task that has not started yet. Their futures resolve
// with ErrCleared. Tasks already running are unaffected.
func (q *Queue[K]) Clear() int {
	q.mux.Lock()
	defer q.mux.Unlock()

	dropped := 0
	for key, jobs := range q.pending {
		for _, j := range jobs {
			j.future.resolve(nil, ErrCleared)
			dropped++
		}
		delete(q.pending, key)
	}

	if dropped > 0 {
		jww.DEBUG.Printf("[QUEUE] Cleared %d pending tasks", dropped)
	}

	return dropped
}

// Len returns the number of tasks waiting under the key, excluding the one
// currently running.
func (q *Queue[K]) Len(key K) int {
	q.mux.Lock()
	defer q.mux.Unlock()
	return len(q.pending[key])
}

// drain runs the key's tasks until its FIFO is empty.
func (q *Queue[K]) drain(key K) {
	for {
		q.mux.Lock()
		jobs := q.pending[key]
		if len(jobs) == 0 {
			delete(q.pending, key)
			delete(q.running, key)
			q.mux.Unlock()
			return
		}
		j := jobs[0]
		jobs[0] = nil
		q.pending[key] = jobs[1:]
		q.mux.Unlock()

		j.future.resolve(execute(j.task))
	}
}

// execute runs the task, converting a panic into an error so that one bad
// task cannot stall its key.
func execute(task Task) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			jww.ERROR.Printf("[QUEUE] Task panicked: %v", r)
			result, err = nil, errors.Errorf("task panicked: %v", r)
		}
	}()
	return task()
}

// Run enqueues fn under the key and waits for its typed result.
func Run[K comparable, T any](q *Queue[K], key K, fn func() (T, error)) (T, error) {
	var zero T
	result, err := q.Enqueue(key, func() (interface{}, error) {
		return fn()
	}).Wait()
	if result == nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, errors.Errorf("unexpected task result type %T", result)
	}
	return typed, err
}

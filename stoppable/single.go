////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package stoppable

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// Single controls one goroutine. The goroutine selects on Quit and calls
// ToStopped as its last action.
type Single struct {
	name   string
	quit   chan struct{}
	status uint32
	once   sync.Once
}

// NewSingle returns a running Single.
func NewSingle(name string) *Single {
	return &Single{
		name:   name,
		quit:   make(chan struct{}),
		status: uint32(Running),
	}
}

func (s *Single) Name() string {
	return s.name
}

func (s *Single) GetStatus() Status {
	return Status(atomic.LoadUint32(&s.status))
}

func (s *Single) IsRunning() bool {
	return s.GetStatus() == Running
}

// Quit is closed when the goroutine must exit.
func (s *Single) Quit() <-chan struct{} {
	return s.quit
}

// Close moves the Single to Stopping and closes the quit channel. Only the
// first call has an effect; calls on a Single that is not running fail.
func (s *Single) Close() error {
	err := errors.Errorf("thread %q is already %s", s.name, s.GetStatus())

	s.once.Do(func() {
		if !atomic.CompareAndSwapUint32(
			&s.status, uint32(Running), uint32(Stopping)) {
			return
		}
		err = nil
		jww.TRACE.Printf("Stopping thread %q", s.name)
		close(s.quit)
	})

	return err
}

// ToStopped marks the goroutine as exited. Calling it on a Single that was
// never closed is a programming error.
func (s *Single) ToStopped() {
	if !atomic.CompareAndSwapUint32(
		&s.status, uint32(Stopping), uint32(Stopped)) {
		jww.FATAL.Panicf("Thread %q cannot stop from status %s",
			s.name, s.GetStatus())
	}
	jww.DEBUG.Printf("Thread %q stopped", s.name)
}

////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package stoppable tracks the lifetime of the messenger's background
// threads.
package stoppable

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// Stoppable is a background thread, or a group of them, that can be asked to
// stop.
type Stoppable interface {
	// Close asks the thread to stop. It does not wait for it.
	Close() error
	IsRunning() bool
	Name() string
	GetStatus() Status
}

// Status is the lifecycle position of a Stoppable.
type Status uint32

const (
	Running Status = iota
	Stopping
	Stopped
)

// String prints a human-readable version of the Status. This function
// satisfies the fmt.Stringer interface.
func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "INVALID STATUS: " + strconv.Itoa(int(s))
	}
}

const pollInterval = 10 * time.Millisecond

// WaitForStopped polls the Stoppable until it reports Stopped or the timeout
// elapses.
func WaitForStopped(s Stoppable, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for s.GetStatus() != Stopped {
		select {
		case <-deadline.C:
			err := errors.Errorf("%s did not stop within %s: status is %s",
				s.Name(), timeout, s.GetStatus())
			jww.ERROR.Print(err)
			return err
		case <-ticker.C:
		}
	}

	return nil
}

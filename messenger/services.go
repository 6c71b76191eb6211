////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package messenger

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/parley/stoppable"
)

// Service is a background process started with the messenger. The Stoppable
// it returns may be nil when there is nothing to stop.
type Service func() (stoppable.Stoppable, error)

// services starts and stops a set of Service together.
type services struct {
	services  []Service
	stoppable *stoppable.Multi
	state     Status
	timeout   time.Duration
	mux       sync.Mutex
}

func newServices() *services {
	return &services{
		services:  make([]Service, 0),
		stoppable: stoppable.NewMulti("services"),
		state:     Stopped,
	}
}

// add registers the Service, starting it at once if the services are
// running.
func (s *services) add(sp Service) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	if s.state == Running {
		stop, err := sp()
		if err != nil {
			return errors.WithMessage(err, "failed to start added service")
		}
		if stop != nil {
			s.stoppable.Add(stop)
		}
	}
	s.services = append(s.services, sp)
	return nil
}

// start runs every Service. timeout bounds the wait in a later stop.
func (s *services) start(timeout time.Duration) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	if s.state != Stopped {
		return errors.Errorf("cannot start services when not in the "+
			"stopped state, services are %s", s.state)
	}

	multi := stoppable.NewMulti("services")
	for _, sp := range s.services {
		stop, err := sp()
		if err != nil {
			if closeErr := multi.Close(); closeErr != nil {
				jww.WARN.Printf("Failed to close partially started "+
					"services: %+v", closeErr)
			}
			return errors.WithMessage(err, "failed to start services")
		}
		if stop != nil {
			multi.Add(stop)
		}
	}

	s.stoppable = multi
	s.timeout = timeout
	s.state = Running
	return nil
}

// stop closes every Service and waits for their threads to exit.
func (s *services) stop() error {
	s.mux.Lock()
	defer s.mux.Unlock()

	if s.state != Running {
		return errors.Errorf("cannot stop services when they are not "+
			"running, services are %s", s.state)
	}

	// Threads that outlive the timeout belong to the old Multi, so the
	// services can be started again either way
	s.state = Stopping
	defer func() { s.state = Stopped }()

	if err := s.stoppable.Close(); err != nil {
		return errors.WithMessage(err, "failed to stop services")
	}
	return stoppable.WaitForStopped(s.stoppable, s.timeout)
}

func (s *services) status() Status {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.state
}

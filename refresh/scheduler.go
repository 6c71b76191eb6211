////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package refresh

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/parley/event"
	"gitlab.com/elixxir/parley/queue"
	"gitlab.com/elixxir/parley/stoppable"
)

// Kind names a periodic task.
type Kind uint8

const (
	Refresh Kind = iota
	Announcements
	Messages
	Retry
)

// String returns a human-readable name for the Kind. This function satisfies
// the fmt.Stringer interface.
func (k Kind) String() string {
	switch k {
	case Refresh:
		return "Refresh"
	case Announcements:
		return "Announcements"
	case Messages:
		return "Messages"
	case Retry:
		return "Retry"
	default:
		return "INVALID KIND: " + strconv.Itoa(int(k))
	}
}

// Job is a periodic task. Exclusive jobs never run at the same time as each
// other.
type Job struct {
	Kind      Kind
	Period    time.Duration
	Exclusive bool
	Run       func(ctx context.Context) error
}

type job struct {
	Job
	guard   queue.Guard
	trigger chan struct{}
}

// Scheduler runs each job on its own thread. A job is started by its ticker
// or by Trigger, and a start that finds the job already running is dropped.
type Scheduler struct {
	jobs  map[Kind]*job
	cycle sync.Mutex
	event event.Reporter
}

// NewScheduler builds a Scheduler. Jobs with a non-positive period only run
// when triggered. A later job replaces an earlier one of the same Kind.
func NewScheduler(reporter event.Reporter, jobs ...Job) *Scheduler {
	s := &Scheduler{
		jobs:  make(map[Kind]*job, len(jobs)),
		event: reporter,
	}
	for _, j := range jobs {
		s.jobs[j.Kind] = &job{Job: j, trigger: make(chan struct{}, 1)}
	}
	return s
}

// StartService starts one thread per job. Closing the returned Stoppable
// stops the threads once the job each one is running has returned.
func (s *Scheduler) StartService() (stoppable.Stoppable, error) {
	multi := stoppable.NewMulti("Scheduler")
	for _, j := range s.jobs {
		stop := stoppable.NewSingle("Scheduler" + j.Kind.String())
		go s.thread(j, stop)
		multi.Add(stop)
	}
	return multi, nil
}

// Trigger asks the job's thread to run it as soon as possible. Returns false
// when the Kind is unknown or a run was already requested.
func (s *Scheduler) Trigger(k Kind) bool {
	j, ok := s.jobs[k]
	if !ok {
		return false
	}
	select {
	case j.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// RunNow runs the job on the calling goroutine. ran is false when the job is
// unknown or already running.
func (s *Scheduler) RunNow(ctx context.Context, k Kind) (ran bool, err error) {
	j, ok := s.jobs[k]
	if !ok {
		return false, errors.Errorf("no %s job scheduled", k)
	}
	ran = j.guard.TryRun(func() { err = s.run(ctx, j) })
	return ran, err
}

func (s *Scheduler) thread(j *job, stop *stoppable.Single) {
	var tick <-chan time.Time
	if j.Period > 0 {
		ticker := time.NewTicker(j.Period)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-stop.Quit():
			jww.DEBUG.Printf("[SCHEDULER] Stopping %s thread", j.Kind)
			stop.ToStopped()
			return
		case <-tick:
		case <-j.trigger:
		}

		if !j.guard.TryRun(func() { s.report(j, s.run(context.Background(), j)) }) {
			jww.TRACE.Printf("[SCHEDULER] %s already running", j.Kind)
		}
	}
}

// run executes one pass of the job, turning a panic into an error.
func (s *Scheduler) run(ctx context.Context, j *job) (err error) {
	if j.Exclusive {
		s.cycle.Lock()
		defer s.cycle.Unlock()
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("%s panicked: %v", j.Kind, r)
		}
	}()
	return j.Run(ctx)
}

func (s *Scheduler) report(j *job, err error) {
	if err == nil {
		return
	}
	jww.ERROR.Printf("[SCHEDULER] %s failed: %+v", j.Kind, err)
	s.event.Report(event.Error{Source: j.Kind.String(), Err: err})
}

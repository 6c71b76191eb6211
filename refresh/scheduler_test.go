////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package refresh

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"gitlab.com/elixxir/parley/event"
	"gitlab.com/elixxir/parley/stoppable"
)

func TestKind_String(t *testing.T) {
	expected := map[Kind]string{
		Refresh:       "Refresh",
		Announcements: "Announcements",
		Messages:      "Messages",
		Retry:         "Retry",
		Kind(200):     "INVALID KIND: 200",
	}
	for k, str := range expected {
		if k.String() != str {
			t.Errorf("Unexpected string for kind %d."+
				"\nexpected: %s\nreceived: %s", k, str, k.String())
		}
	}
}

// Tests that a job runs on its ticker and stops with the service.
func TestScheduler_StartService(t *testing.T) {
	var runs int32
	s := NewScheduler(&recorder{}, Job{
		Kind:   Messages,
		Period: 5 * time.Millisecond,
		Run: func(context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	})

	stop, err := s.StartService()
	require.NoError(t, err)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 3 },
		time.Second, time.Millisecond)

	require.NoError(t, stop.Close())
	require.NoError(t, stoppable.WaitForStopped(stop, time.Second))
	stopped := atomic.LoadInt32(&runs)
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&runs) != stopped {
		t.Errorf("Job ran after the service stopped.")
	}
}

func TestScheduler_Trigger(t *testing.T) {
	done := make(chan struct{}, 1)
	s := NewScheduler(&recorder{}, Job{
		Kind: Announcements,
		Run: func(context.Context) error {
			done <- struct{}{}
			return nil
		},
	})

	if s.Trigger(Retry) {
		t.Errorf("Trigger accepted a kind with no job.")
	}

	stop, err := s.StartService()
	require.NoError(t, err)
	defer stop.Close()

	require.True(t, s.Trigger(Announcements))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Triggered job did not run.")
	}
}

// A run requested while the job is running is dropped.
func TestScheduler_RunNow_Overlap(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var runs int32
	s := NewScheduler(&recorder{}, Job{
		Kind: Refresh,
		Run: func(context.Context) error {
			if atomic.AddInt32(&runs, 1) == 1 {
				close(started)
				<-release
			}
			return nil
		},
	})

	go func() { _, _ = s.RunNow(context.Background(), Refresh) }()
	<-started

	ran, err := s.RunNow(context.Background(), Refresh)
	require.NoError(t, err)
	if ran {
		t.Errorf("Overlapping run was not dropped.")
	}
	close(release)
	require.Equal(t, int32(1), atomic.LoadInt32(&runs))

	_, err = s.RunNow(context.Background(), Retry)
	require.Error(t, err)
}

// Exclusive jobs never overlap each other.
func TestScheduler_Exclusive(t *testing.T) {
	var active, overlaps int32
	body := func(context.Context) error {
		if atomic.AddInt32(&active, 1) > 1 {
			atomic.AddInt32(&overlaps, 1)
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return nil
	}
	s := NewScheduler(&recorder{},
		Job{Kind: Refresh, Period: time.Millisecond, Exclusive: true, Run: body},
		Job{Kind: Announcements, Period: time.Millisecond, Exclusive: true, Run: body})

	stop, err := s.StartService()
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, stop.Close())
	require.NoError(t, stoppable.WaitForStopped(stop, time.Second))

	if n := atomic.LoadInt32(&overlaps); n != 0 {
		t.Errorf("Exclusive jobs overlapped %d times.", n)
	}
}

// Errors and panics become events and do not kill the thread.
func TestScheduler_Failure(t *testing.T) {
	events := &recorder{}
	var runs int32
	s := NewScheduler(events, Job{
		Kind:   Retry,
		Period: time.Millisecond,
		Run: func(context.Context) error {
			if atomic.AddInt32(&runs, 1) == 1 {
				panic("boom")
			}
			return errors.New("transport offline")
		},
	})

	stop, err := s.StartService()
	require.NoError(t, err)
	defer stop.Close()

	require.Eventually(t, func() bool { return events.count(event.KindError) >= 2 },
		time.Second, time.Millisecond)
}

func TestGetParameters(t *testing.T) {
	p, err := GetParameters(`{"MessagePeriod": 1000000000}`)
	require.NoError(t, err)
	require.Equal(t, time.Second, p.MessagePeriod)
	require.Equal(t, GetDefaultParams().RefreshPeriod, p.RefreshPeriod)

	_, err = GetParameters("not json")
	require.Error(t, err)
}

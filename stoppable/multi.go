////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package stoppable

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Multi groups Stoppables so they can be stopped together.
type Multi struct {
	name     string
	children []Stoppable
	mux      sync.RWMutex
}

func NewMulti(name string) *Multi {
	return &Multi{name: name}
}

// Add registers a child.
func (m *Multi) Add(s Stoppable) {
	m.mux.Lock()
	m.children = append(m.children, s)
	m.mux.Unlock()
}

// Name lists the group followed by its children in braces.
func (m *Multi) Name() string {
	m.mux.RLock()
	defer m.mux.RUnlock()

	names := make([]string, len(m.children))
	for i, child := range m.children {
		names[i] = child.Name()
	}
	return m.name + "{" + strings.Join(names, ", ") + "}"
}

// GetStatus is Running while any child runs, Stopping while any child is
// still stopping and Stopped otherwise. An empty group is Stopped.
func (m *Multi) GetStatus() Status {
	m.mux.RLock()
	defer m.mux.RUnlock()

	status := Stopped
	for _, child := range m.children {
		switch child.GetStatus() {
		case Running:
			return Running
		case Stopping:
			status = Stopping
		}
	}
	return status
}

func (m *Multi) IsRunning() bool {
	return m.GetStatus() == Running
}

// Close asks every running child to stop.
func (m *Multi) Close() error {
	m.mux.RLock()
	children := make([]Stoppable, len(m.children))
	copy(children, m.children)
	m.mux.RUnlock()

	var failed []string
	for _, child := range children {
		if child.GetStatus() != Running {
			continue
		}
		if err := child.Close(); err != nil {
			failed = append(failed, err.Error())
		}
	}

	if len(failed) > 0 {
		return errors.Errorf("failed to close %d threads of %s: %s",
			len(failed), m.name, strings.Join(failed, "; "))
	}
	return nil
}

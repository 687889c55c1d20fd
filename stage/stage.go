// Package stage tracks the lifecycle of the life service through an atomic
// stage machine, and lets goroutines wait for a stage to be reached.
package stage

import (
	"sync"
	"sync/atomic"
)

type Stage string

const (
	Init         Stage = "Init"         // The default stage of the service
	Starting     Stage = "Starting"     // Set when Start() is called
	Ready        Stage = "Ready"        // Set when wiring is complete and timers may start
	Running      Stage = "Running"      // Set when the simulation loops are ticking
	ShuttingDown Stage = "ShuttingDown" // Set when a shutdown signal is received
	ShutDown     Stage = "ShutDown"     // Set when the service has fully stopped
)

type Manager struct {
	current *atomic.Value

	mu      sync.Mutex
	waiters map[Stage][]chan struct{}
}

func NewManager() *Manager {
	m := &Manager{
		current: &atomic.Value{},
		waiters: make(map[Stage][]chan struct{}),
	}
	m.current.Store(Init)
	return m
}

func (m *Manager) Current() Stage {
	return m.current.Load().(Stage)
}

func (m *Manager) CompareAndSwap(oldStage, newStage Stage) (swapped bool) {
	swapped = m.current.CompareAndSwap(oldStage, newStage)
	if swapped {
		m.notify(newStage)
	}
	return swapped
}

func (m *Manager) Store(stage Stage) {
	m.current.Store(stage)
	m.notify(stage)
}

// NotifyOnStage returns a channel that is closed when the given stage is
// reached. If the service is already at that stage the channel is closed
// immediately. Stages are not revisited, so a waiter missing an intermediate
// stage waits forever; callers wait only for stages still ahead.
func (m *Manager) NotifyOnStage(stage Stage) <-chan struct{} {
	ch := make(chan struct{})
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Current() == stage {
		close(ch)
		return ch
	}
	m.waiters[stage] = append(m.waiters[stage], ch)
	return ch
}

func (m *Manager) notify(stage Stage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.waiters[stage] {
		close(ch)
	}
	delete(m.waiters, stage)
}

// Execution cancellation for the cortex server.
//
// The CancelManager tracks the exchanges an HTTP client is waiting on, keyed
// by exchange ID, so that POST /stop can end the wait. Cancelling a
// synchronous exchange cancels the backend call. A streaming session outlives
// its caller, so cancelling it only stops the relay to the client; the session
// ends on completion or when the stream timeout expires.

package core

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Execution describes an exchange a client is waiting on.
type Execution struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"` // "chat", "stream" or "describe"
	Started time.Time `json:"started"`
}

type execution struct {
	Execution
	cancel context.CancelFunc
}

// CancelManager tracks running executions and provides cancellation capabilities.
type CancelManager struct {
	executions map[string]execution
	mutex      sync.RWMutex
}

// NewCancelManager creates an empty cancel manager.
func NewCancelManager() *CancelManager {
	return &CancelManager{
		executions: make(map[string]execution),
	}
}

// AddExecution registers an execution with the function that cancels its wait.
func (cm *CancelManager) AddExecution(executionID, kind string, cancel context.CancelFunc) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.executions[executionID] = execution{
		Execution: Execution{ID: executionID, Kind: kind, Started: time.Now()},
		cancel:    cancel,
	}
}

// RemoveExecution stops tracking an execution.
func (cm *CancelManager) RemoveExecution(executionID string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	delete(cm.executions, executionID)
}

// CancelExecution cancels and forgets the execution. It reports whether the
// execution was still running.
func (cm *CancelManager) CancelExecution(executionID string) bool {
	cm.mutex.Lock()
	exec, exists := cm.executions[executionID]
	delete(cm.executions, executionID)
	cm.mutex.Unlock()

	if exists {
		exec.cancel()
	}
	return exists
}

// GetActiveExecutions returns the running executions, oldest first.
func (cm *CancelManager) GetActiveExecutions() []Execution {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	executions := make([]Execution, 0, len(cm.executions))
	for _, exec := range cm.executions {
		executions = append(executions, exec.Execution)
	}
	sort.Slice(executions, func(i, j int) bool {
		return executions[i].Started.Before(executions[j].Started)
	})
	return executions
}

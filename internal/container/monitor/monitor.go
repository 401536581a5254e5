// Package monitor implements the ExecutionMonitor component described in
// §4.4: it owns the map from process Id to ProcessResult (each process's
// reaping goroutine records its own result; a mutex serializes them) and
// classifies a reaped wait status into a CompletionStatus using the
// priority order §4.4's table requires when several conditions hold at
// once: a memory breach outranks a time breach, which outranks an output
// breach, which outranks the group's real-time limit, which outranks a
// plain signal classification. A supervisor-initiated SIGKILL (crash
// propagation, a background sibling killed off) classifies the same as
// an organic one: the table has no separate row for kill origin.
package monitor

import (
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/elispeigel/invoker/internal/container/task"
)

// ExitState is the portable subset of a reaped process's wait status this
// package classifies against.
type ExitState struct {
	Exited   bool
	ExitCode int
	Signaled bool
	Signal   syscall.Signal
}

// FromProcessState extracts ExitState from an *os.ProcessState produced by
// process.Started.Wait.
func FromProcessState(state *os.ProcessState) (ExitState, error) {
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		return ExitState{}, fmt.Errorf("process state does not carry a syscall.WaitStatus")
	}
	return ExitState{
		Exited:   ws.Exited(),
		ExitCode: ws.ExitStatus(),
		Signaled: ws.Signaled(),
		Signal:   ws.Signal(),
	}, nil
}

// ClassifyInput bundles everything Classify needs to assign one
// CompletionStatus to a reaped process.
type ClassifyInput struct {
	Exit             ExitState
	Limits           task.ProcessResourceLimits
	Usage            task.ResourceUsage
	OOMed            bool
	RealTimeExceeded bool
}

// Classify assigns the CompletionStatus for one reaped process, applying
// the fixed tie-break order: MEMORY > TIME > OUTPUT > REAL_TIME > SIGNAL.
func Classify(in ClassifyInput) task.CompletionStatus {
	switch {
	case in.OOMed, in.Limits.MemoryLimitBytes > 0 && in.Usage.MemoryUsageBytes > in.Limits.MemoryLimitBytes:
		return task.MemoryLimitExceeded
	case in.Limits.TimeLimit > 0 && in.Usage.TimeUsage > in.Limits.TimeLimit:
		return task.TimeLimitExceeded
	case in.Exit.Signaled && in.Exit.Signal == syscall.SIGXCPU:
		return task.TimeLimitExceeded
	case in.Limits.OutputLimitBytes > 0 && in.Usage.OutputUsageBytes > in.Limits.OutputLimitBytes:
		return task.OutputLimitExceeded
	case in.Exit.Signaled && in.Exit.Signal == syscall.SIGXFSZ:
		return task.OutputLimitExceeded
	case in.RealTimeExceeded:
		return task.RealTimeLimitExceeded
	case in.Exit.Signaled:
		return task.TerminatedBySignal
	case in.Exit.Exited && in.Exit.ExitCode == 0:
		return task.OK
	case in.Exit.Exited:
		return task.ExitStatus
	default:
		return task.AbnormalExit
	}
}

// Monitor owns the Id -> ProcessResult map for one group. It is not a
// single-writer structure: the supervision loop calls Record from one
// goroutine per process, and the RWMutex serializes those writes against
// each other and against concurrent Result, Count and GroupResult calls.
type Monitor struct {
	mu      sync.RWMutex
	results map[task.Id]task.ProcessResult
}

// New returns a Monitor with no results recorded yet.
func New() *Monitor {
	return &Monitor{results: map[task.Id]task.ProcessResult{}}
}

// Record stores the final result for one process. Recording the same Id
// twice overwrites the earlier result; the supervision loop never does
// this for a process that has already terminated.
func (m *Monitor) Record(id task.Id, result task.ProcessResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[id] = result
}

// Result returns the recorded result for id, if any.
func (m *Monitor) Result(id task.Id) (task.ProcessResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[id]
	return r, ok
}

// Count returns how many results have been recorded so far.
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.results)
}

// GroupResult computes the group's final verdict: OK iff every process
// named in waitFor recorded an OK completion status.
func (m *Monitor) GroupResult(waitFor []task.Id) task.GroupResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := task.GroupOK
	for _, id := range waitFor {
		r, ok := m.results[id]
		if !ok || r.CompletionStatus != task.OK {
			status = task.GroupAbnormalExit
			break
		}
	}

	processes := make(map[task.Id]task.ProcessResult, len(m.results))
	for id, r := range m.results {
		processes[id] = r
	}
	return task.GroupResult{CompletionStatus: status, Processes: processes}
}

// Package task models the declarative input consumed by the
// process-group executor: a set of processes, the pipes that connect
// them, and the limits and policies that govern the group as a whole.
package task

import (
	"encoding/json"
	"fmt"
	"time"
)

// Id identifies one process within a Task. It is the process's 0-based
// position in Task.Processes and is immutable for the life of the group.
type Id int

// End identifies one end of a pipe.
type End int

const (
	ReadEnd End = iota
	WriteEnd
)

// PipeId identifies one pipe within a Task's Pipes slice.
type PipeId int

// Pipe describes one unnamed pipe shared by the processes in a group. Its
// two ends are referenced from ProcessSpec.Descriptors via PipeEnd
// bindings; every pipe must have exactly one reading process and at least
// one writing process across the group.
type Pipe struct{}

// OwnerId is the uid/gid a child process runs as.
type OwnerId struct {
	UID uint32
	GID uint32
}

// GroupResourceLimits are the limits that apply to the group as a whole,
// rather than to any single process.
type GroupResourceLimits struct {
	// RealTimeLimit bounds the group's total wall-clock time. Zero means
	// unlimited.
	RealTimeLimit time.Duration
}

// ProcessResourceLimits are the limits that apply to one process.
type ProcessResourceLimits struct {
	// TimeLimit bounds cumulative CPU time. Zero means unlimited.
	TimeLimit time.Duration
	// MemoryLimitBytes bounds peak memory usage. Zero means unlimited.
	MemoryLimitBytes uint64
	// OutputLimitBytes bounds bytes written by the process (enforced via
	// RLIMIT_FSIZE). Zero means unlimited.
	OutputLimitBytes uint64
}

// ProcessSpec is the declarative description of one child process.
type ProcessSpec struct {
	// Executable is an absolute path inside the container.
	Executable string
	// Arguments is argv, including argv[0].
	Arguments []string
	// Environment maps name to value; names are unique (set semantics).
	Environment map[string]string
	// CurrentPath is an absolute path inside the container, used as the
	// child's working directory and as the base for relative File
	// stream bindings.
	CurrentPath string
	// OwnerId is the uid/gid the child process runs as.
	OwnerId OwnerId
	// ResourceLimits are this process's individual limits.
	ResourceLimits ProcessResourceLimits
	// Descriptors maps a target fd number to the binding installed
	// there in the child.
	Descriptors map[int]StreamBinding
	// GroupWaitsForTermination, when true (the default), means the
	// group's supervision loop keeps running until this process
	// terminates. When false, this process is actively killed once
	// every waiting process has terminated, rather than left running.
	GroupWaitsForTermination bool
	// TerminateGroupOnCrash, when true (the default), means any
	// non-OK completion of this process triggers group-wide
	// termination of the remaining processes.
	TerminateGroupOnCrash bool
	// Name is an optional label surfaced in lifecycle events.
	Name string
}

// UnmarshalJSON decodes a ProcessSpec, resolving each Descriptors entry's
// "kind" discriminator into its concrete StreamBinding variant. The
// encoding/json package cannot do this on its own: Descriptors' value type
// is the StreamBinding interface, and only a concrete type can satisfy
// json.Unmarshaler.
func (p *ProcessSpec) UnmarshalJSON(data []byte) error {
	type alias ProcessSpec
	var aux struct {
		alias
		Descriptors map[int]json.RawMessage `json:"Descriptors"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*p = ProcessSpec(aux.alias)
	p.Descriptors = make(map[int]StreamBinding, len(aux.Descriptors))
	for fd, raw := range aux.Descriptors {
		binding, err := unmarshalStreamBinding(raw)
		if err != nil {
			return fmt.Errorf("process %q fd %d: %w", p.Executable, fd, err)
		}
		p.Descriptors[fd] = binding
	}
	return nil
}

// Task is the immutable input to one invocation of the executor. A Task is
// consumed exactly once.
type Task struct {
	// Processes is the ordered sequence of process specs; a process's
	// position in this slice is its Id.
	Processes []ProcessSpec
	// Pipes is the ordered sequence of pipes shared by the group.
	Pipes []Pipe
	// ResourceLimits are the group-wide limits.
	ResourceLimits GroupResourceLimits
	// NotifierEndpoints names zero or more event-sink addresses that
	// lifecycle events are published to.
	NotifierEndpoints []string
}

// NewProcessSpec returns a ProcessSpec with GroupWaitsForTermination and
// TerminateGroupOnCrash set to their documented defaults (true); Go's bool
// zero value is false, so callers that build a ProcessSpec as a struct
// literal must set these fields explicitly instead.
func NewProcessSpec(executable string) ProcessSpec {
	return ProcessSpec{
		Executable:               executable,
		Environment:              map[string]string{},
		Descriptors:              map[int]StreamBinding{},
		GroupWaitsForTermination: true,
		TerminateGroupOnCrash:    true,
	}
}

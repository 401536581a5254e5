package task

import (
	"fmt"
)

// ValidationError reports a Task that violates one of the invariants in
// §3: unbound pipe ends, dangling or cyclic FDAlias bindings, or an
// FDAlias target that is itself an FDAlias. Validation runs before any
// fork, so these are always programming errors, never runtime failures.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid task: %s", e.Reason)
}

// Validate checks Task invariant (a) (every pipe end is bound by exactly
// one reader and at least one writer) and invariant (b) (every FDAlias
// refers, on the same process, to an already-bound non-alias descriptor,
// with no cycles).
func Validate(t *Task) error {
	readers := make([]int, len(t.Pipes))
	writers := make([]int, len(t.Pipes))

	for pid, proc := range t.Processes {
		for fd, binding := range proc.Descriptors {
			switch b := binding.(type) {
			case PipeEnd:
				if int(b.PipeId) < 0 || int(b.PipeId) >= len(t.Pipes) {
					return &ValidationError{Reason: fmt.Sprintf("process %d fd %d references unknown pipe %d", pid, fd, b.PipeId)}
				}
				switch b.End {
				case ReadEnd:
					readers[b.PipeId]++
				case WriteEnd:
					writers[b.PipeId]++
				default:
					return &ValidationError{Reason: fmt.Sprintf("process %d fd %d has invalid pipe end", pid, fd)}
				}
			case FDAlias:
				if err := validateAlias(proc, fd, b.FD); err != nil {
					return err
				}
			}
		}
	}

	for id, pipe := range t.Pipes {
		_ = pipe
		if readers[id] != 1 {
			return &ValidationError{Reason: fmt.Sprintf("pipe %d must have exactly one reader, has %d", id, readers[id])}
		}
		if writers[id] < 1 {
			return &ValidationError{Reason: fmt.Sprintf("pipe %d must have at least one writer, has %d", id, writers[id])}
		}
	}

	return nil
}

// validateAlias checks that targetFD is, on the same process, bound
// directly to a non-FDAlias binding. Only the non-alias pass's resolved
// descriptors are visible to an alias lookup (see Streams Resolver, §4.1),
// so a chain of aliases is as invalid as a dangling one or a cycle.
func validateAlias(proc ProcessSpec, aliasFD, targetFD int) error {
	if targetFD == aliasFD {
		return &ValidationError{Reason: fmt.Sprintf("fd %d aliases itself", aliasFD)}
	}
	target, ok := proc.Descriptors[targetFD]
	if !ok {
		return &ValidationError{Reason: fmt.Sprintf("fd %d aliases unbound fd %d", aliasFD, targetFD)}
	}
	if _, isAlias := target.(FDAlias); isAlias {
		return &ValidationError{Reason: fmt.Sprintf("fd %d aliases fd %d, which is itself an alias", aliasFD, targetFD)}
	}
	return nil
}

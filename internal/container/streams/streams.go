// Package streams resolves the StreamBinding tagged union into concrete
// file descriptors to install in a child process, per §4.1. It runs in two
// phases to satisfy the FDAlias invariant: a non-alias pass that opens
// files and looks up pipe ends, then an alias pass that dups already
// resolved descriptors.
package streams

import (
	"fmt"
	"path/filepath"

	"github.com/elispeigel/invoker/internal/container/errs"
	"github.com/elispeigel/invoker/internal/container/task"
	"golang.org/x/sys/unix"
)

// PipeSet is the parent's view of the group's shared pipes: for each
// PipeId, the read end and write end file descriptors, open before any
// fork so every child inherits the full matrix.
type PipeSet []PipeFDs

// PipeFDs holds the two fds backing one pipe.
type PipeFDs struct {
	ReadFD  int
	WriteFD int
}

// MakePipeSet allocates one OS pipe per entry in pipes.
func MakePipeSet(pipes []task.Pipe) (PipeSet, error) {
	set := make(PipeSet, len(pipes))
	for i := range pipes {
		fds := [2]int{}
		if err := unix.Pipe(fds[:]); err != nil {
			return nil, fmt.Errorf("create pipe %d: %w", i, err)
		}
		set[i] = PipeFDs{ReadFD: fds[0], WriteFD: fds[1]}
	}
	return set, nil
}

// Close closes every fd in the set; safe to call after children have
// exec'd, to drop the parent's references to pipes it no longer needs.
func (s PipeSet) Close() error {
	var firstErr error
	for _, fds := range s {
		if fds.ReadFD >= 0 {
			if err := unix.Close(fds.ReadFD); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if fds.WriteFD >= 0 {
			if err := unix.Close(fds.WriteFD); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// AllocatedFDs tracks fds opened while resolving one process's streams, so
// they can all be closed on any exit path.
type AllocatedFDs struct {
	fds []int
}

func (a *AllocatedFDs) track(fd int) int {
	a.fds = append(a.fds, fd)
	return fd
}

// Close closes every tracked fd. Errors are accumulated but all fds are
// attempted regardless of earlier failures.
func (a *AllocatedFDs) Close() error {
	var firstErr error
	for _, fd := range a.fds {
		if err := unix.Close(fd); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.fds = nil
	return firstErr
}

// Resolved is the outcome of resolving one process's descriptor map: for
// every target fd number, either a concrete source fd to dup2 onto it, or
// a request to close it in the child.
type Resolved struct {
	// Install maps target fd -> source fd to dup2 before exec.
	Install map[int]int
	// CloseInChild lists target fds to explicitly close rather than
	// install.
	CloseInChild []int
	// Allocated owns every fd opened while resolving; the caller closes
	// it once the child has exec'd or failed to start.
	Allocated *AllocatedFDs
}

// Resolve resolves one process's descriptor map against the group's shared
// pipes, in the two-phase order invariant (b) requires.
func Resolve(id task.Id, proc task.ProcessSpec, pipes PipeSet) (*Resolved, error) {
	resolved := &Resolved{
		Install:   map[int]int{},
		Allocated: &AllocatedFDs{},
	}

	// Phase 1: non-alias pass. File and PipeEnd bindings are opened or
	// looked up; Close bindings are recorded directly.
	for fd, binding := range proc.Descriptors {
		switch b := binding.(type) {
		case task.File:
			source, err := openFile(proc.CurrentPath, b, resolved.Allocated)
			if err != nil {
				resolved.Allocated.Close()
				return nil, err
			}
			resolved.Install[fd] = source
		case task.PipeEnd:
			source, err := pipeEndFD(pipes, b)
			if err != nil {
				resolved.Allocated.Close()
				return nil, err
			}
			resolved.Install[fd] = source
		case task.Close:
			resolved.CloseInChild = append(resolved.CloseInChild, fd)
		}
	}

	// Phase 2: alias pass. Targets were resolved in phase 1 above; a
	// dangling or chained alias is a validation failure, not reached
	// here because task.Validate runs before group construction.
	for fd, binding := range proc.Descriptors {
		alias, ok := binding.(task.FDAlias)
		if !ok {
			continue
		}
		source, ok := resolved.Install[alias.FD]
		if !ok {
			resolved.Allocated.Close()
			return nil, &errs.ProcessDescriptorOutOfRangeError{ProcessId: int(id), FD: alias.FD}
		}
		dup, err := unix.Dup(source)
		if err != nil {
			resolved.Allocated.Close()
			return nil, fmt.Errorf("dup fd %d for alias fd %d: %w", source, fd, err)
		}
		resolved.Install[fd] = resolved.Allocated.track(dup)
	}

	return resolved, nil
}

func openFile(currentPath string, binding task.File, allocated *AllocatedFDs) (int, error) {
	flags := 0
	switch binding.AccessMode {
	case task.ReadOnly:
		flags = unix.O_RDONLY
	case task.WriteOnly:
		flags = unix.O_WRONLY | unix.O_TRUNC | unix.O_CREAT
	case task.ReadWrite:
		flags = unix.O_RDWR
	default:
		return 0, fmt.Errorf("unknown access mode %d for path %q", binding.AccessMode, binding.Path)
	}

	path := binding.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(currentPath, path)
	}

	fd, err := unix.Open(path, flags, 0666)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	return allocated.track(fd), nil
}

func pipeEndFD(pipes PipeSet, end task.PipeEnd) (int, error) {
	if int(end.PipeId) < 0 || int(end.PipeId) >= len(pipes) {
		return 0, fmt.Errorf("pipe %d out of range", end.PipeId)
	}
	fds := pipes[end.PipeId]
	switch end.End {
	case task.ReadEnd:
		return fds.ReadFD, nil
	case task.WriteEnd:
		return fds.WriteFD, nil
	default:
		return 0, fmt.Errorf("invalid pipe end %d", end.End)
	}
}

// Package process implements the ProcessStarter component described in
// §4.2: it turns one resolved task.ProcessSpec into a running child,
// installing its streams, credentials and working directory in a fixed
// order before handing control to the target executable.
//
// A child is launched by re-exec'ing this same binary into child-init mode
// (see childinit.go) rather than forking directly, because Go only allows
// arbitrary code to run between fork and exec inside its own runtime-owned
// fork+exec path. The freshly exec'd child-init process is single-threaded
// and can safely call setuid, dup2 and chdir in the exact order §4.2
// requires before calling execve into the target.
package process

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/elispeigel/invoker/internal/container/streams"
	"github.com/elispeigel/invoker/internal/container/task"
	"github.com/elispeigel/invoker/pkg/log"
	"golang.org/x/sys/unix"
)

// Started is a live child process: its pid, and the means to learn its
// fate once it exits.
type Started struct {
	Pid int

	cmd *exec.Cmd
}

// Wait blocks until the underlying process has been reaped.
func (s *Started) Wait() (*os.ProcessState, error) {
	err := s.cmd.Wait()
	if err == nil {
		return s.cmd.ProcessState, nil
	}
	if _, ok := err.(*exec.ExitError); ok {
		return s.cmd.ProcessState, nil
	}
	return s.cmd.ProcessState, err
}

// Signal delivers sig to the child.
func (s *Started) Signal(sig os.Signal) error {
	return s.cmd.Process.Signal(sig)
}

// Starter spawns processes for one group via the self-reexec child-init
// protocol: exec.Cmd launches this same binary in child-init mode, handing
// it a config pipe and the fds the Streams Resolver produced; the
// child-init process performs cgroup join, credential drop, fd install and
// exec before the supervision loop ever sees it as started.
type Starter struct {
	// SelfPath is the path to this binary, used to re-exec into
	// child-init mode. Resolved via os.Executable when empty.
	SelfPath string
	Logger   log.Logger
}

// StartSpec bundles everything Start needs beyond the ProcessSpec itself.
type StartSpec struct {
	Proc             task.ProcessSpec
	Resolved         *streams.Resolved
	CgroupTasksFiles []string
	TimeLimit        time.Duration
	OutputLimitBytes uint64
}

// Start forks one child implementing spec, returning once either the
// child-init has reported a pre-exec failure (surfaced as an error here,
// corresponding to completion status StartFailed) or the exec has
// succeeded and the child is running.
func (s *Starter) Start(ctx context.Context, spec StartSpec) (*Started, error) {
	self := s.SelfPath
	if self == "" {
		resolved, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve self path: %w", err)
		}
		self = resolved
	}

	targetFDs, sourceFiles, err := flattenInstall(spec.Resolved.Install)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, f := range sourceFiles {
			f.Close()
		}
	}()

	cfg := childConfig{
		Executable:       spec.Proc.Executable,
		Argv:             argvFor(spec.Proc),
		Envp:             envpFor(spec.Proc),
		CurrentPath:      spec.Proc.CurrentPath,
		UID:              spec.Proc.OwnerId.UID,
		GID:              spec.Proc.OwnerId.GID,
		TargetFDs:        targetFDs,
		CloseInChild:     spec.Resolved.CloseInChild,
		CgroupTasksFiles: spec.CgroupTasksFiles,
		TimeLimitSeconds: ceilSeconds(spec.TimeLimit),
		OutputLimitBytes: spec.OutputLimitBytes,
	}

	errRead, errWrite, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create error pipe: %w", err)
	}
	cfgRead, cfgWrite, err := os.Pipe()
	if err != nil {
		errRead.Close()
		errWrite.Close()
		return nil, fmt.Errorf("create config pipe: %w", err)
	}

	cmd := exec.CommandContext(ctx, self, childInitArg)
	cmd.ExtraFiles = append([]*os.File{errWrite, cfgRead}, sourceFiles...)

	if err := cmd.Start(); err != nil {
		errRead.Close()
		errWrite.Close()
		cfgRead.Close()
		cfgWrite.Close()
		return nil, fmt.Errorf("start child-init: %w", err)
	}

	errWrite.Close()
	cfgRead.Close()

	if err := json.NewEncoder(cfgWrite).Encode(cfg); err != nil {
		cfgWrite.Close()
		errRead.Close()
		cmd.Process.Kill()
		cmd.Wait()
		return nil, fmt.Errorf("send child config: %w", err)
	}
	cfgWrite.Close()

	reason, readErr := readStartFailure(errRead)
	errRead.Close()
	if readErr == nil && reason != "" {
		cmd.Wait()
		return nil, fmt.Errorf("process failed to start: %s", reason)
	}

	return &Started{Pid: cmd.Process.Pid, cmd: cmd}, nil
}

// readStartFailure blocks until the child-init's error pipe either closes
// with nothing written (success: the close-on-exec write end vanished
// across the exec) or yields a failure message written before exit.
func readStartFailure(r *os.File) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	return "", scanner.Err()
}

// flattenInstall orders install's targets and dups each source fd before
// wrapping it in an *os.File, so the returned files own independent fds
// that process.Starter can close once the child has inherited them. A
// source fd may back more than one target (e.g. a pipe's write end shared
// by several writers) or be reused across StartSpec calls for the same
// pipe, so Start must never close the caller's original.
func flattenInstall(install map[int]int) ([]int, []*os.File, error) {
	targets := make([]int, 0, len(install))
	for fd := range install {
		targets = append(targets, fd)
	}
	sort.Ints(targets)

	files := make([]*os.File, 0, len(targets))
	for _, target := range targets {
		dup, err := unix.Dup(install[target])
		if err != nil {
			for _, f := range files {
				f.Close()
			}
			return nil, nil, fmt.Errorf("dup source fd for target %d: %w", target, err)
		}
		files = append(files, os.NewFile(uintptr(dup), fmt.Sprintf("fd%d", target)))
	}
	return targets, files, nil
}

// ceilSeconds rounds d up to the next whole second, the granularity
// RLIMIT_CPU enforces; a sub-second limit still produces a nonzero
// rlimit rather than silently disabling it. Zero stays zero (unlimited).
func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

func argvFor(proc task.ProcessSpec) []string {
	if len(proc.Arguments) > 0 {
		return proc.Arguments
	}
	return []string{proc.Executable}
}

func envpFor(proc task.ProcessSpec) []string {
	envp := make([]string, 0, len(proc.Environment))
	for k, v := range proc.Environment {
		envp = append(envp, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(envp)
	return envp
}

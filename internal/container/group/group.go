// Package group implements the ProcessGroupStarter component described in
// §4.5: the supervision loop that turns a validated task.Task into a
// running set of processes sharing pipes and per-process cgroups, and
// reduces their individual outcomes into one task.GroupResult.
package group

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/elispeigel/invoker/internal/container/cgroup"
	"github.com/elispeigel/invoker/internal/container/errs"
	"github.com/elispeigel/invoker/internal/container/monitor"
	"github.com/elispeigel/invoker/internal/container/process"
	"github.com/elispeigel/invoker/internal/container/streams"
	"github.com/elispeigel/invoker/internal/container/task"
	"github.com/elispeigel/invoker/pkg/log"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// DefaultSampleInterval is how often ResourceAccounting polls a process's
// memory peak between wait(2) events.
const DefaultSampleInterval = 50 * time.Millisecond

// Supervisor runs one Task from start to GroupResult. A Supervisor is used
// once; construct a new one per Task.
type Supervisor struct {
	Starter        *process.Starter
	Factory        cgroup.Factory
	CgroupRoot     string
	Logger         log.Logger
	Publisher      Publisher
	SampleInterval time.Duration
}

type runningProcess struct {
	id        task.Id
	proc      task.ProcessSpec
	started   *process.Started
	cg        *cgroup.Cgroup
	acct      *cgroup.ResourceAccounting
	startedAt time.Time
	resolved  *streams.Resolved
}

// Run validates t, starts every process it declares, supervises them to
// completion per the termination policy each ProcessSpec names, and
// returns the reduced task.GroupResult. The context bounds the whole
// group's lifetime; cancelling it terminates every process still running.
func (s *Supervisor) Run(ctx context.Context, t task.Task) (task.GroupResult, error) {
	if err := task.Validate(&t); err != nil {
		return task.GroupResult{}, err
	}
	if s.SampleInterval <= 0 {
		s.SampleInterval = DefaultSampleInterval
	}
	publisher := s.Publisher
	if publisher == nil {
		publisher = NopPublisher{}
	}
	logger := s.Logger
	if logger == nil {
		logger = log.Nop()
	}

	pipes, err := streams.MakePipeSet(t.Pipes)
	if err != nil {
		return task.GroupResult{}, fmt.Errorf("make pipe set: %w", err)
	}

	mon := monitor.New()
	running := make(map[task.Id]*runningProcess, len(t.Processes))

	var waitFor []task.Id
	for i, proc := range t.Processes {
		if proc.GroupWaitsForTermination {
			waitFor = append(waitFor, task.Id(i))
		}
	}

	var startErr error
	for i, proc := range t.Processes {
		id := task.Id(i)
		rp, err := s.startOne(ctx, id, proc, pipes)
		if err != nil {
			mon.Record(id, task.ProcessResult{CompletionStatus: task.StartFailed})
			startErr = fmt.Errorf("start process %d: %w", id, err)
			break
		}
		running[id] = rp
		publisher.Publish(Event{Kind: EventProcessStarted, ProcessId: id, Time: rp.startedAt})
	}

	if err := pipes.Close(); err != nil {
		logger.Warn("failed to close parent pipe fds after launch", zapErrField(err))
	}

	if startErr != nil {
		s.terminateAll(running)
		s.reapAll(running, mon, false)
		s.teardownAll(running, logger)
		return mon.GroupResult(waitFor), startErr
	}

	var mu sync.Mutex
	waitForDone := make(chan struct{})
	realTimeExceeded := false

	waitForSet := make(map[task.Id]bool, len(waitFor))
	for _, id := range waitFor {
		waitForSet[id] = true
	}
	waitForRemaining := len(waitFor)
	var waitForMu sync.Mutex
	if waitForRemaining == 0 {
		close(waitForDone)
	}

	g, gctx := errgroup.WithContext(ctx)

	if t.ResourceLimits.RealTimeLimit > 0 {
		g.Go(func() error {
			timer := time.NewTimer(t.ResourceLimits.RealTimeLimit)
			defer timer.Stop()
			select {
			case <-timer.C:
				mu.Lock()
				realTimeExceeded = true
				mu.Unlock()
				s.terminateAll(running)
			case <-waitForDone:
			case <-gctx.Done():
			}
			return nil
		})
	}

	// Once every process named in waitFor has completed, anything still
	// running was only kept alive as a background sibling and is killed
	// rather than left to finish on its own.
	g.Go(func() error {
		select {
		case <-waitForDone:
			s.killUnwaited(running, waitForSet)
		case <-gctx.Done():
		}
		return nil
	})

	for id, rp := range running {
		id, rp := id, rp
		g.Go(func() error {
			state, waitErr := rp.started.Wait()
			usage := rp.acct.Close()
			oomed := rp.acct.OOMed()

			mu.Lock()
			rte := realTimeExceeded
			mu.Unlock()

			var exit monitor.ExitState
			if waitErr == nil && state != nil {
				exit, _ = monitor.FromProcessState(state)
			}

			status := monitor.Classify(monitor.ClassifyInput{
				Exit:             exit,
				Limits:           rp.proc.ResourceLimits,
				Usage:            task.ResourceUsage{TimeUsage: usage.CPUTime, MemoryUsageBytes: usage.MemoryPeak},
				OOMed:            oomed,
				RealTimeExceeded: rte,
			})

			var exitStatus, termSig *int32
			if exit.Exited {
				v := int32(exit.ExitCode)
				exitStatus = &v
			}
			if exit.Signaled {
				v := int32(exit.Signal)
				termSig = &v
			}

			mon.Record(id, task.ProcessResult{
				CompletionStatus: status,
				ExitStatus:       exitStatus,
				TermSig:          termSig,
				ResourceUsage: task.ResourceUsage{
					TimeUsage:        usage.CPUTime,
					MemoryUsageBytes: usage.MemoryPeak,
					RealTimeUsage:    time.Since(rp.startedAt),
				},
			})
			publisher.Publish(Event{Kind: EventProcessFinished, ProcessId: id, Time: time.Now(), Status: status})

			if status != task.OK && rp.proc.TerminateGroupOnCrash {
				s.terminateAll(running)
			}

			if waitForSet[id] {
				waitForMu.Lock()
				waitForRemaining--
				done := waitForRemaining == 0
				waitForMu.Unlock()
				if done {
					close(waitForDone)
				}
			}

			s.teardownOne(rp, logger)
			return nil
		})
	}

	g.Wait()

	for id := range running {
		if _, ok := mon.Result(id); !ok {
			return task.GroupResult{}, errs.NewIllegalState(fmt.Sprintf("process %d finished without a recorded result", id))
		}
	}

	result := mon.GroupResult(waitFor)
	publisher.Publish(Event{Kind: EventGroupFinished, Time: time.Now(), Status: statusOf(result)})
	return result, nil
}

func statusOf(r task.GroupResult) task.CompletionStatus {
	if r.CompletionStatus == task.GroupOK {
		return task.OK
	}
	return task.AbnormalExit
}

func (s *Supervisor) startOne(ctx context.Context, id task.Id, proc task.ProcessSpec, pipes streams.PipeSet) (*runningProcess, error) {
	resolved, err := streams.Resolve(id, proc, pipes)
	if err != nil {
		return nil, fmt.Errorf("resolve streams: %w", err)
	}

	cg, acct, err := s.joinCgroup(id, proc)
	if err != nil {
		resolved.Allocated.Close()
		return nil, err
	}

	started, err := s.Starter.Start(ctx, process.StartSpec{
		Proc:             proc,
		Resolved:         resolved,
		CgroupTasksFiles: tasksFilesFor(cg, s.Factory.Subsystems()),
		TimeLimit:        proc.ResourceLimits.TimeLimit,
		OutputLimitBytes: proc.ResourceLimits.OutputLimitBytes,
	})
	resolved.Allocated.Close()
	if err != nil {
		acct.Close()
		cg.Close()
		return nil, &errs.ContainerError{Reason: "process start failed", Cause: err}
	}

	acct.Start(s.SampleInterval)

	return &runningProcess{
		id:        id,
		proc:      proc,
		started:   started,
		cg:        cg,
		acct:      acct,
		startedAt: time.Now(),
		resolved:  resolved,
	}, nil
}

// cpuQuotaPeriodMicros sets the CFS bandwidth window wide enough that a
// realistic process run never spans more than one period, turning the
// quota into a one-shot CPU-time budget rather than a recurring rate
// limit: the backstop cgroup.CPU documents.
const cpuQuotaPeriodMicros = int64(time.Hour / time.Microsecond)

// minCPUQuotaMicros is the kernel's floor for cpu.cfs_quota_us.
const minCPUQuotaMicros = 1000

func (s *Supervisor) joinCgroup(id task.Id, proc task.ProcessSpec) (*cgroup.Cgroup, *cgroup.ResourceAccounting, error) {
	cpu := &cgroup.CPU{}
	if limit := proc.ResourceLimits.TimeLimit; limit > 0 {
		quota := limit.Microseconds()
		if quota < minCPUQuotaMicros {
			quota = minCPUQuotaMicros
		}
		cpu.QuotaMicros = quota
		cpu.PeriodMicros = cpuQuotaPeriodMicros
	}

	spec := cgroup.NewSpecBuilder().
		WithName(fmt.Sprintf("invoker-%s", uuid.New().String())).
		WithCgroupRoot(s.CgroupRoot).
		WithResources(&cgroup.Resources{
			Memory: &cgroup.Memory{LimitBytes: proc.ResourceLimits.MemoryLimitBytes},
			CPU:    cpu,
		}).
		Build()

	cg, err := s.Factory.CreateCgroup(spec)
	if err != nil {
		return nil, nil, fmt.Errorf("create cgroup for process %d: %w", id, err)
	}
	return cg, cgroup.NewResourceAccounting(cg, nil), nil
}

// tasksFilesFor lists the per-subsystem tasks files a freshly created
// cgroup needs joined before exec: the kernel creates each subsystem
// directory's tasks pseudo-file automatically once NewCgroup has created
// the directory itself.
func tasksFilesFor(cg *cgroup.Cgroup, subsystems []cgroup.Subsystem) []string {
	files := make([]string, 0, len(subsystems))
	for _, sub := range subsystems {
		files = append(files, filepath.Join(cg.CgroupRoot, sub.Name(), cg.Name, "tasks"))
	}
	return files
}

// terminateAll sends SIGKILL to every process still running, plus a
// belt-and-braces SIGKILL to every pid still listed in its cgroup's tasks
// file, so a process that forked grandchildren before being killed cannot
// leave survivors behind.
func (s *Supervisor) terminateAll(running map[task.Id]*runningProcess) {
	for _, rp := range running {
		rp.started.Signal(killSignal)
		if pids, err := rp.cg.Tasks(); err == nil {
			for _, pid := range pids {
				killPid(pid)
			}
		}
	}
}

// killUnwaited kills every process not named in waitForSet, once every
// waited-for process has completed: a GroupWaitsForTermination=false
// process is a background sibling the group never promised to let finish
// on its own.
func (s *Supervisor) killUnwaited(running map[task.Id]*runningProcess, waitForSet map[task.Id]bool) {
	for id, rp := range running {
		if waitForSet[id] {
			continue
		}
		rp.started.Signal(killSignal)
	}
}

func (s *Supervisor) reapAll(running map[task.Id]*runningProcess, mon *monitor.Monitor, recordResults bool) {
	for id, rp := range running {
		state, _ := rp.started.Wait()
		usage := rp.acct.Close()
		if recordResults {
			var exit monitor.ExitState
			if state != nil {
				exit, _ = monitor.FromProcessState(state)
			}
			status := monitor.Classify(monitor.ClassifyInput{
				Exit:   exit,
				Limits: rp.proc.ResourceLimits,
				Usage:  task.ResourceUsage{TimeUsage: usage.CPUTime, MemoryUsageBytes: usage.MemoryPeak},
				OOMed:  rp.acct.OOMed(),
			})
			mon.Record(id, task.ProcessResult{CompletionStatus: status})
		}
	}
}

func (s *Supervisor) teardownAll(running map[task.Id]*runningProcess, logger log.Logger) {
	for _, rp := range running {
		s.teardownOne(rp, logger)
	}
}

func (s *Supervisor) teardownOne(rp *runningProcess, logger log.Logger) {
	err := multierr.Combine(
		rp.cg.Close(),
		rp.cg.Remove(s.Factory.Subsystems()),
	)
	if err != nil {
		logger.Warn("failed to tear down process cgroup", zapErrField(err))
	}
}

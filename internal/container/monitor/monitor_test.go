package monitor

import (
	"syscall"
	"testing"
	"time"

	"github.com/elispeigel/invoker/internal/container/task"
)

func TestClassifyPriority(t *testing.T) {
	cases := []struct {
		name string
		in   ClassifyInput
		want task.CompletionStatus
	}{
		{
			name: "clean exit is OK",
			in:   ClassifyInput{Exit: ExitState{Exited: true, ExitCode: 0}},
			want: task.OK,
		},
		{
			name: "nonzero exit",
			in:   ClassifyInput{Exit: ExitState{Exited: true, ExitCode: 7}},
			want: task.ExitStatus,
		},
		{
			name: "memory breach outranks a concurrent time breach",
			in: ClassifyInput{
				Exit:   ExitState{Signaled: true, Signal: syscall.SIGKILL},
				Limits: task.ProcessResourceLimits{MemoryLimitBytes: 1000, TimeLimit: time.Second},
				Usage:  task.ResourceUsage{MemoryUsageBytes: 2000, TimeUsage: 2 * time.Second},
			},
			want: task.MemoryLimitExceeded,
		},
		{
			name: "oom flag wins even without a memory limit recorded",
			in:   ClassifyInput{Exit: ExitState{Signaled: true, Signal: syscall.SIGKILL}, OOMed: true},
			want: task.MemoryLimitExceeded,
		},
		{
			name: "time breach outranks output breach",
			in: ClassifyInput{
				Exit:   ExitState{Signaled: true, Signal: syscall.SIGXFSZ},
				Limits: task.ProcessResourceLimits{TimeLimit: time.Second, OutputLimitBytes: 10},
				Usage:  task.ResourceUsage{TimeUsage: 2 * time.Second, OutputUsageBytes: 20},
			},
			want: task.TimeLimitExceeded,
		},
		{
			name: "sigxcpu without a recorded usage breach still classifies as time",
			in:   ClassifyInput{Exit: ExitState{Signaled: true, Signal: syscall.SIGXCPU}},
			want: task.TimeLimitExceeded,
		},
		{
			name: "sigxfsz classifies as output",
			in:   ClassifyInput{Exit: ExitState{Signaled: true, Signal: syscall.SIGXFSZ}},
			want: task.OutputLimitExceeded,
		},
		{
			name: "real time exceeded outranks a plain signal",
			in:   ClassifyInput{Exit: ExitState{Signaled: true, Signal: syscall.SIGKILL}, RealTimeExceeded: true},
			want: task.RealTimeLimitExceeded,
		},
		{
			name: "a SIGKILL with no breach attributed is a plain signal termination, whatever sent it",
			in:   ClassifyInput{Exit: ExitState{Signaled: true, Signal: syscall.SIGKILL}},
			want: task.TerminatedBySignal,
		},
		{
			name: "unrelated signal",
			in:   ClassifyInput{Exit: ExitState{Signaled: true, Signal: syscall.SIGSEGV}},
			want: task.TerminatedBySignal,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Classify(c.in); got != c.want {
				t.Errorf("Classify() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestMonitorGroupResult(t *testing.T) {
	m := New()
	m.Record(0, task.ProcessResult{CompletionStatus: task.OK})
	m.Record(1, task.ProcessResult{CompletionStatus: task.TimeLimitExceeded})

	result := m.GroupResult([]task.Id{0, 1})
	if result.CompletionStatus != task.GroupAbnormalExit {
		t.Errorf("expected group abnormal exit when one waited-for process failed, got %v", result.CompletionStatus)
	}
	if len(result.Processes) != 2 {
		t.Errorf("expected both results surfaced regardless of group verdict, got %d", len(result.Processes))
	}

	result = m.GroupResult([]task.Id{0})
	if result.CompletionStatus != task.GroupOK {
		t.Errorf("expected group OK when only the successful process is waited for, got %v", result.CompletionStatus)
	}
}

func TestMonitorResultLookup(t *testing.T) {
	m := New()
	if _, ok := m.Result(0); ok {
		t.Fatal("expected no result before Record")
	}
	m.Record(0, task.ProcessResult{CompletionStatus: task.OK})
	r, ok := m.Result(0)
	if !ok || r.CompletionStatus != task.OK {
		t.Fatal("expected recorded result to be retrievable")
	}
	if m.Count() != 1 {
		t.Errorf("Count() = %d, want 1", m.Count())
	}
}

// Package invokercli implements the invoker command-line interface: a
// single command that runs one process group and prints its result, per
// §6's flag table.
package invokercli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/elispeigel/invoker/internal/config"
	"github.com/elispeigel/invoker/internal/container/task"
	"github.com/elispeigel/invoker/internal/ctl"
	"github.com/elispeigel/invoker/internal/notifier"
	"github.com/elispeigel/invoker/pkg/log"
	"github.com/spf13/cobra"
)

// usageError marks a flag/argument problem, as opposed to a failure while
// actually running the group; Execute maps it to exit status 200.
type usageError struct{ reason string }

func (e *usageError) Error() string { return e.reason }

type flags struct {
	configPath          string
	executable          string
	timeLimitNanos      uint64
	haveTimeLimit       bool
	memoryLimitBytes    uint64
	haveMemoryLimit     bool
	outputLimitBytes    uint64
	haveOutputLimit     bool
	realTimeLimitMillis uint64
	haveRealTimeLimit   bool
	stdinPath           string
	stdoutPath          string
	stderrPath          string
	arguments           []string
}

// NewRootCmd builds the invoker command.
func NewRootCmd() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:           "invoker -e <executable> [flags] [-- args...]",
		Short:         "Run one process group under resource limits and report its result",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.arguments = append(f.arguments, args...)
			return runInvoke(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "configuration file")
	cmd.Flags().StringVarP(&f.executable, "executable", "e", "", "executable (required)")
	cmd.Flags().Uint64VarP(&f.timeLimitNanos, "time-limit", "t", 0, "time limit in nanoseconds")
	cmd.Flags().Uint64VarP(&f.memoryLimitBytes, "memory-limit", "m", 0, "memory limit in bytes")
	cmd.Flags().Uint64VarP(&f.outputLimitBytes, "output-limit", "o", 0, "output limit in bytes")
	cmd.Flags().Uint64VarP(&f.realTimeLimitMillis, "real-time-limit", "l", 0, "real time limit in milliseconds")
	cmd.Flags().StringVar(&f.stdinPath, "stdin", "/dev/null", "file for stdin")
	cmd.Flags().StringVar(&f.stdoutPath, "stdout", "/dev/null", "file for stdout")
	cmd.Flags().StringVar(&f.stderrPath, "stderr", "/dev/null", "file for stderr")
	cmd.Flags().StringArrayVarP(&f.arguments, "argument", "a", nil, "argument (repeatable)")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		f.haveTimeLimit = cmd.Flags().Changed("time-limit")
		f.haveMemoryLimit = cmd.Flags().Changed("memory-limit")
		f.haveOutputLimit = cmd.Flags().Changed("output-limit")
		f.haveRealTimeLimit = cmd.Flags().Changed("real-time-limit")
		if f.executable == "" {
			return &usageError{reason: "required flag \"executable\" not set"}
		}
		return nil
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{reason: err.Error()}
	})

	return cmd
}

// Execute runs cmd and returns the process exit code per §6: 0 on success,
// 200 for a usage error, 1 for any other failure.
func Execute(cmd *cobra.Command) int {
	err := cmd.Execute()
	switch {
	case err == nil:
		return 0
	case isUsageError(err):
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, cmd.UsageString())
		return 200
	default:
		fmt.Fprintln(os.Stderr, "invoker: "+err.Error())
		return 1
	}
}

func isUsageError(err error) bool {
	_, ok := err.(*usageError)
	return ok
}

func runInvoke(ctx context.Context, f *flags) error {
	settings, err := config.LoadEffective(f.configPath)
	if err != nil {
		return err
	}

	proc := task.NewProcessSpec(f.executable)
	proc.Arguments = append([]string{f.executable}, f.arguments...)

	if f.haveTimeLimit {
		proc.ResourceLimits.TimeLimit = time.Duration(f.timeLimitNanos)
	}
	if f.haveMemoryLimit {
		proc.ResourceLimits.MemoryLimitBytes = f.memoryLimitBytes
	}
	if f.haveOutputLimit {
		proc.ResourceLimits.OutputLimitBytes = f.outputLimitBytes
	}

	if f.stdinPath != "/dev/null" {
		proc.Descriptors[0] = task.File{Path: f.stdinPath, AccessMode: task.ReadOnly}
	}
	if f.stdoutPath != "/dev/null" {
		proc.Descriptors[1] = task.File{Path: f.stdoutPath, AccessMode: task.WriteOnly}
	}
	if f.stderrPath != "/dev/null" {
		proc.Descriptors[2] = task.File{Path: f.stderrPath, AccessMode: task.WriteOnly}
	}

	settings.ApplyProcessDefaults(&proc)

	t := task.Task{Processes: []task.ProcessSpec{proc}}
	if f.haveRealTimeLimit {
		t.ResourceLimits.RealTimeLimit = time.Duration(f.realTimeLimitMillis) * time.Millisecond
	}
	settings.ApplyGroupDefaults(&t)

	logger, err := log.NewProduction()
	if err != nil {
		logger = log.Nop()
	}

	publisher, err := notifier.BuildFanOut(t.NotifierEndpoints, logger)
	if err != nil {
		return fmt.Errorf("build notifier fan-out: %w", err)
	}
	defer publisher.Close()

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve self path: %w", err)
	}

	sup := ctl.NewSupervisor(self, os.Getenv("INVOKER_CGROUP_ROOT"), logger, publisher)

	result, err := sup.Run(ctx, t)
	if err != nil {
		return err
	}

	return printResult(result)
}

func printResult(result task.GroupResult) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	fmt.Println("Process group result:")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encode group result: %w", err)
	}
	if len(result.Processes) == 1 {
		fmt.Println("Process result:")
		for _, p := range result.Processes {
			return enc.Encode(p)
		}
	}
	return nil
}

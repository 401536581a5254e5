package process

// childConfig is sent from the parent (ProcessStarter, running inside the
// control helper) to the re-exec'd child-init process over a pipe, once
// per spawned process. Install targets are parallel to the source fds
// inherited via exec.Cmd.ExtraFiles, starting at fd sourceFDBase.
type childConfig struct {
	Executable  string
	Argv        []string
	Envp        []string
	CurrentPath string
	UID         uint32
	GID         uint32

	// TargetFDs[i] is the fd number the child installs source fd
	// sourceFDBase+i onto via dup2.
	TargetFDs []int
	// CloseInChild lists fd numbers to explicitly close rather than
	// install, per a Close stream binding.
	CloseInChild []int

	// CgroupTasksFiles are every subsystem's tasks file path the child
	// writes its own pid into before dropping privileges.
	CgroupTasksFiles []string

	TimeLimitSeconds int64 // 0 means unlimited
	OutputLimitBytes uint64
}

const (
	// childInitArg is the argv[1] the re-exec'd process checks for to
	// enter child-init mode instead of running the normal CLI.
	childInitArg = "invoker-child-init"

	// errorPipeFD and configPipeFD are the fixed fd numbers the
	// child-init process finds its error-reporting pipe and its
	// configuration pipe at, once exec.Cmd has installed ExtraFiles.
	errorPipeFD  = 3
	configPipeFD = 4

	// sourceFDBase is the fd number of the first dup2 source fd; sources
	// occupy consecutive fds after the error and config pipes.
	sourceFDBase = 5

	// startFailedExitCode is the sentinel exit status a child-init
	// process uses when it fails before calling execve, letting the
	// parent distinguish START_FAILED from a later failure.
	startFailedExitCode = 127
)

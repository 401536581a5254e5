package process

import (
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// IsChildInit reports whether the running process was re-exec'd into
// child-init mode, i.e. whether main() should call RunChildInit instead of
// the normal CLI entrypoint.
func IsChildInit(args []string) bool {
	return len(args) > 1 && args[1] == childInitArg
}

// RunChildInit is the entrypoint of the re-exec'd helper process. It reads
// its childConfig from configPipeFD, performs every step that must happen
// between fork and exec in a fixed order, and execve's into the target
// executable. It never returns on success; on any failure it reports the
// reason over errorPipeFD and exits with startFailedExitCode.
//
// This runs as the sole thread of a freshly exec'd process, which is what
// makes it safe to call arbitrary Go code here - the restrictions that
// apply between a raw fork() and exec() in a multi-threaded program do not
// apply to a process that re-exec'd itself first.
func RunChildInit() {
	cfg, err := readConfig()
	if err != nil {
		fail(fmt.Errorf("read child config: %w", err))
	}

	unix.CloseOnExec(errorPipeFD)

	for _, path := range cfg.CgroupTasksFiles {
		if err := joinCgroup(path); err != nil {
			fail(fmt.Errorf("join cgroup %s: %w", path, err))
		}
	}

	if cfg.TimeLimitSeconds > 0 {
		// The hard limit sits one second above the soft one: at the soft
		// limit the kernel delivers SIGXCPU, while a hard limit equal to it
		// would deliver SIGKILL instead.
		lim := &unix.Rlimit{Cur: uint64(cfg.TimeLimitSeconds), Max: uint64(cfg.TimeLimitSeconds) + 1}
		if err := unix.Setrlimit(unix.RLIMIT_CPU, lim); err != nil {
			fail(fmt.Errorf("setrlimit CPU: %w", err))
		}
	}
	if cfg.OutputLimitBytes > 0 {
		lim := &unix.Rlimit{Cur: cfg.OutputLimitBytes, Max: cfg.OutputLimitBytes}
		if err := unix.Setrlimit(unix.RLIMIT_FSIZE, lim); err != nil {
			fail(fmt.Errorf("setrlimit FSIZE: %w", err))
		}
	}

	if err := unix.Setgid(int(cfg.GID)); err != nil {
		fail(fmt.Errorf("setgid %d: %w", cfg.GID, err))
	}
	if err := unix.Setuid(int(cfg.UID)); err != nil {
		fail(fmt.Errorf("setuid %d: %w", cfg.UID, err))
	}

	if cfg.CurrentPath != "" {
		if err := unix.Chdir(cfg.CurrentPath); err != nil {
			fail(fmt.Errorf("chdir %s: %w", cfg.CurrentPath, err))
		}
	}

	if err := installDescriptors(cfg); err != nil {
		fail(err)
	}

	if err := unix.Exec(cfg.Executable, cfg.Argv, cfg.Envp); err != nil {
		fail(fmt.Errorf("exec %s: %w", cfg.Executable, err))
	}
}

func readConfig() (*childConfig, error) {
	f := os.NewFile(uintptr(configPipeFD), "config-pipe")
	defer f.Close()
	var cfg childConfig
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func joinCgroup(tasksFile string) error {
	return os.WriteFile(tasksFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644)
}

func installDescriptors(cfg *childConfig) error {
	for _, fd := range cfg.CloseInChild {
		unix.Close(fd)
	}

	for i, target := range cfg.TargetFDs {
		source := sourceFDBase + i
		if err := unix.Dup2(source, target); err != nil {
			return fmt.Errorf("dup2 %d -> %d: %w", source, target, err)
		}
	}

	maxInstalled := sourceFDBase + len(cfg.TargetFDs) - 1
	for fd := sourceFDBase; fd <= maxInstalled; fd++ {
		if !containsInt(cfg.TargetFDs, fd) {
			unix.Close(fd)
		}
	}
	return nil
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func fail(err error) {
	msg := err.Error()
	f := os.NewFile(uintptr(errorPipeFD), "error-pipe")
	f.Write([]byte(msg))
	f.Close()
	os.Exit(startFailedExitCode)
}

package invokercli

import (
	"os"
	"os/exec"
	"testing"

	"github.com/elispeigel/invoker/internal/container/process"
)

// TestMain lets the test binary double as the re-exec target, exactly as
// the group package's own tests do.
func TestMain(m *testing.M) {
	if process.IsChildInit(os.Args) {
		process.RunChildInit()
		return
	}
	os.Exit(m.Run())
}

func TestExecuteRunsProcessAndExitsZero(t *testing.T) {
	trueBin, err := exec.LookPath("true")
	if err != nil {
		t.Skip("true not on PATH")
	}
	t.Setenv("INVOKER_CGROUP_ROOT", t.TempDir())

	cmd := NewRootCmd()
	cmd.SetArgs([]string{"-e", trueBin})
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	if code := Execute(cmd); code != 0 {
		t.Errorf("Execute() = %d, want 0", code)
	}
}

func TestExecuteMissingExecutableIsUsageError(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetArgs([]string{})
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	if code := Execute(cmd); code != 200 {
		t.Errorf("Execute() = %d, want 200", code)
	}
}

func TestExecuteUnknownExecutableIsRuntimeError(t *testing.T) {
	t.Setenv("INVOKER_CGROUP_ROOT", t.TempDir())

	cmd := NewRootCmd()
	cmd.SetArgs([]string{"-e", "/no/such/executable"})
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	if code := Execute(cmd); code != 1 {
		t.Errorf("Execute() = %d, want 1", code)
	}
}

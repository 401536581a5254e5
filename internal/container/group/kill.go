package group

import (
	"syscall"

	"go.uber.org/zap"
)

// killSignal is the signal terminateAll and killUnwaited deliver. The
// executor always escalates straight to SIGKILL rather than a graceful
// SIGTERM first, since a judged submission has no expectation of clean
// shutdown. A process killed this way classifies the same as an organic
// SIGKILL: TerminatedBySignal, termSig=SIGKILL.
const killSignal = syscall.SIGKILL

// killPid best-effort SIGKILLs a pid found in a cgroup's tasks file. Errors
// are swallowed: the pid may have already exited between the read and the
// kill, which is the expected case, not a failure.
func killPid(pid int) {
	_ = syscall.Kill(pid, killSignal)
}

func zapErrField(err error) zap.Field {
	return zap.Error(err)
}

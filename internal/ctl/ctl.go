// Package ctl implements the Control helper described in §6: a small
// in-container executable that receives a serialized task.Task on a pipe,
// runs the supervision loop, and returns the serialized task.GroupResult
// on the same pipe. The outer Container collaborator launches this helper
// inside the container's namespaces and wires its stdin/stdout to the pipe
// pair it uses to drive it.
package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elispeigel/invoker/internal/container/errs"
	"github.com/elispeigel/invoker/internal/container/group"
	"github.com/elispeigel/invoker/internal/container/task"
	"github.com/elispeigel/invoker/pkg/log"
)

// Serve reads exactly one task.Task from r, runs it to completion via sup,
// and writes exactly one task.GroupResult to w. A malformed Task is a
// ConfigurationError; a failure in pre-flight validation or launch is
// reported as a ContainerUtilityError and no result is written, since the
// caller's contract is "a result means the group actually ran".
func Serve(ctx context.Context, r io.Reader, w io.Writer, sup *group.Supervisor) error {
	var t task.Task
	if err := json.NewDecoder(r).Decode(&t); err != nil {
		return &errs.ConfigurationError{Reason: fmt.Sprintf("decode task: %v", err)}
	}

	result, err := sup.Run(ctx, t)
	if err != nil {
		return &errs.ContainerUtilityError{ExitStatus: 1, Stderr: err.Error()}
	}

	if err := json.NewEncoder(w).Encode(result); err != nil {
		return &errs.ContainerUtilityError{ExitStatus: 1, Stderr: fmt.Sprintf("encode result: %v", err)}
	}
	return nil
}

// Logger is a convenience constructor for the Supervisor this package
// drives, kept here rather than in group so cmd/invoker-ctl has one import
// to reach both the supervisor and its logging default.
func Logger() log.Logger {
	l, err := log.NewProduction()
	if err != nil {
		return log.Nop()
	}
	return l
}

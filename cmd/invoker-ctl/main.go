// invoker-ctl is the in-container control helper described in §6: it
// reads one serialized Task from stdin, drives the supervision loop, and
// writes the serialized GroupResult to stdout. The outer invoker CLI (or
// any other launcher) is expected to spawn this binary inside the
// container's namespaces and pipe a Task into it.
//
// This binary also doubles as its own re-exec target: the supervision loop
// launches child processes by re-executing os.Executable() into child-init mode, so
// invoker-ctl must be the same binary the Starter's SelfPath points at.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/elispeigel/invoker/internal/container/process"
	"github.com/elispeigel/invoker/internal/ctl"
	"github.com/elispeigel/invoker/internal/notifier"
)

func main() {
	if process.IsChildInit(os.Args) {
		process.RunChildInit()
		return
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve self path: %w", err)
	}

	logger := ctl.Logger()

	var endpoints []string
	if raw := os.Getenv(notifierEndpointsEnv); raw != "" {
		endpoints = strings.Split(raw, ",")
	}
	publisher, err := notifier.BuildFanOut(endpoints, logger)
	if err != nil {
		return fmt.Errorf("build notifier fan-out: %w", err)
	}
	defer publisher.Close()

	cgroupRoot := os.Getenv(cgroupRootEnv)
	sup := ctl.NewSupervisor(self, cgroupRoot, logger, publisher)

	return ctl.Serve(context.Background(), os.Stdin, os.Stdout, sup)
}

const (
	notifierEndpointsEnv = "INVOKER_NOTIFIER_ENDPOINTS"
	cgroupRootEnv        = "INVOKER_CGROUP_ROOT"
)

package ctl

import (
	"github.com/elispeigel/invoker/internal/container/cgroup"
	"github.com/elispeigel/invoker/internal/container/group"
	"github.com/elispeigel/invoker/internal/container/process"
	"github.com/elispeigel/invoker/pkg/log"
)

// DefaultCgroupRoot is where the control helper expects the cgroup v1
// hierarchy mounted inside the container, joining cpu/cpuacct/memory per
// process as the supervision loop starts each one.
const DefaultCgroupRoot = "/sys/fs/cgroup"

// NewSupervisor wires a group.Supervisor from the pieces the control
// helper's main needs: the re-exec self path for process.Starter, the
// default cpu/cpuacct/memory cgroup subsystems, and a Publisher (typically
// a notifier.FanOut, or group.NopPublisher{} if the Task names no
// endpoints).
func NewSupervisor(selfPath string, cgroupRoot string, logger log.Logger, publisher group.Publisher) *group.Supervisor {
	if cgroupRoot == "" {
		cgroupRoot = DefaultCgroupRoot
	}
	fileHandler := cgroup.DefaultFileHandler{}
	subsystems := []cgroup.Subsystem{
		cgroup.NewCPUSubsystem(fileHandler),
		cgroup.NewCPUAcctSubsystem(fileHandler),
		cgroup.NewMemorySubsystem(fileHandler),
	}
	factory := cgroup.NewDefaultFactory(subsystems, fileHandler)

	return &group.Supervisor{
		Starter:    &process.Starter{SelfPath: selfPath, Logger: logger},
		Factory:    factory,
		CgroupRoot: cgroupRoot,
		Logger:     logger,
		Publisher:  publisher,
	}
}

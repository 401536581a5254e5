// cgroup package manages Linux control groups (cgroups) and provides functionality to apply resource limitations.
package cgroup

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
)

// NewCPUSubsystem initializes a new CPUSubsystem instance with the provided fileHandler.
func NewCPUSubsystem(fileHandler FileHandler) *CPUSubsystem {
	return &CPUSubsystem{fileHandler: fileHandler}
}

// CPUSubsystem applies cpu.shares and, when a quota is set, the cfs
// bandwidth controls used to backstop a process's time limit at the group
// level.
type CPUSubsystem struct {
	fileHandler FileHandler
}

// Name returns the name of the CPUSubsystem, which is "cpu".
func (c *CPUSubsystem) Name() string {
	return "cpu"
}

// ApplySettings applies the provided CPU resources settings to the specified cgroup path.
func (c *CPUSubsystem) ApplySettings(cgroupPath string, resources *Resources) error {
	if resources.CPU == nil {
		return nil
	}
	if resources.CPU.Shares > 0 {
		if err := setSubsystemValue(c.fileHandler, cgroupPath, "cpu.shares", strconv.Itoa(resources.CPU.Shares)); err != nil {
			return err
		}
	}
	if resources.CPU.QuotaMicros > 0 {
		period := resources.CPU.PeriodMicros
		if period <= 0 {
			period = 100000
		}
		if err := setSubsystemValue(c.fileHandler, cgroupPath, "cpu.cfs_period_us", strconv.FormatInt(period, 10)); err != nil {
			return err
		}
		if err := setSubsystemValue(c.fileHandler, cgroupPath, "cpu.cfs_quota_us", strconv.FormatInt(resources.CPU.QuotaMicros, 10)); err != nil {
			return err
		}
	}
	return nil
}

// NewCPUAcctSubsystem initializes a new CPUAcctSubsystem instance.
func NewCPUAcctSubsystem(fileHandler FileHandler) *CPUAcctSubsystem {
	return &CPUAcctSubsystem{fileHandler: fileHandler}
}

// CPUAcctSubsystem has no settings of its own; joining it is enough to make
// cpuacct.usage readable by ResourceAccounting.
type CPUAcctSubsystem struct {
	fileHandler FileHandler
}

// Name returns the name of the CPUAcctSubsystem, which is "cpuacct".
func (c *CPUAcctSubsystem) Name() string {
	return "cpuacct"
}

// ApplySettings is a no-op: cpuacct is joined for accounting only.
func (c *CPUAcctSubsystem) ApplySettings(cgroupPath string, resources *Resources) error {
	return nil
}

// NewMemorySubsystem initializes a new MemorySubsystem instance with the provided fileHandler.
func NewMemorySubsystem(fileHandler FileHandler) *MemorySubsystem {
	return &MemorySubsystem{fileHandler: fileHandler}
}

// MemorySubsystem applies memory.limit_in_bytes.
type MemorySubsystem struct {
	fileHandler FileHandler
}

// Name returns the name of the MemorySubsystem, which is "memory".
func (m *MemorySubsystem) Name() string {
	return "memory"
}

// ApplySettings applies the provided memory resources settings to the specified cgroup path.
func (m *MemorySubsystem) ApplySettings(cgroupPath string, resources *Resources) error {
	if resources.Memory == nil || resources.Memory.LimitBytes == 0 {
		return nil
	}
	return setSubsystemValue(m.fileHandler, cgroupPath, "memory.limit_in_bytes", strconv.FormatUint(resources.Memory.LimitBytes, 10))
}

// setSubsystemValue sets the value of the specified cgroup subsystem file, handling errors if the file cannot be opened or written to.
func setSubsystemValue(fileHandler FileHandler, subsystemPath, filename string, value string) error {
	subsystemFile, err := fileHandler.OpenFile(filepath.Join(subsystemPath, filename), os.O_WRONLY, 0644)
	if err != nil {
		zap.L().Error("failed to open cgroup subsystem file", zap.String("filename", filename), zap.Error(err))
		return fmt.Errorf("failed to open %s for cgroup: %w", filename, err)
	}
	defer subsystemFile.Close()
	if _, err := subsystemFile.WriteString(value); err != nil {
		zap.L().Error("failed to set cgroup subsystem value", zap.String("filename", filename), zap.Error(err))
		return fmt.Errorf("failed to set %s value for cgroup: %w", filename, err)
	}
	return nil
}

package cgroup

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// NewCgroup returns a new cgroup object based on the given specification.
// The cgroup will be created with the specified name, and resources will be limited according to the given resource allocation.
func NewCgroup(spec *Spec, subsystems []Subsystem, fileHandler FileHandler) (*Cgroup, error) {
	cgroupRoot := spec.CgroupRoot
	if cgroupRoot == "" {
		cgroupRoot = "/sys/fs/cgroup"
	}
	cgroupPath := filepath.Join(cgroupRoot, spec.Name)
	if err := fileHandler.MkdirAll(cgroupPath, 0755); err != nil {
		zap.L().Error("failed to create cgroup directory", zap.String("cgroupPath", cgroupPath), zap.Error(err))
		return nil, fmt.Errorf("failed to create cgroup directory %q: %w", cgroupPath, err)
	}

	tasksFilePath := filepath.Join(cgroupPath, "tasks")
	tasksFile, err := fileHandler.OpenFile(tasksFilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		zap.L().Error("failed to create tasks file for cgroup", zap.String("cgroupName", spec.Name), zap.Error(err))
		return nil, fmt.Errorf("failed to create tasks file for cgroup %q: %w", spec.Name, err)
	}
	defer tasksFile.Close()

	for _, subsystem := range subsystems {
		subsystemPath := filepath.Join(cgroupRoot, subsystem.Name(), spec.Name)

		// Create subsystem directory if it doesn't exist
		if err := fileHandler.MkdirAll(subsystemPath, 0755); err != nil {
			zap.L().Error("failed to create subsystem directory", zap.String("subsystemPath", subsystemPath), zap.Error(err))
			return nil, fmt.Errorf("failed to create subsystem directory %q: %w", subsystemPath, err)
		}

		if err := subsystem.ApplySettings(subsystemPath, spec.Resources); err != nil {
			zap.L().Error("failed to apply subsystem settings", zap.Error(err))
			return nil, err
		}
	}

	return &Cgroup{
		Name:        spec.Name,
		File:        tasksFile,
		CgroupRoot:  cgroupRoot,
		fileHandler: fileHandler,
	}, nil
}

// Cgroup is an abstraction over a Linux control group.
// It contains the name of the cgroup, a file descriptor for the tasks file, and the root path to the cgroup.
type Cgroup struct {
	Name        string
	File        *os.File
	CgroupRoot  string
	fileHandler FileHandler
}

// Set sets the value of the specified control for the cgroup.
// This function takes a control file name and a value (e.g. "1024") as arguments,
// and writes the value to that file directly under CgroupRoot/Name; it does
// not write into a subsystem directory (use the subsystems' ApplySettings
// for controls such as memory.limit_in_bytes).
func (cg *Cgroup) Set(control string, value string) error {
	controlFile := filepath.Join(cg.CgroupRoot, cg.Name, control)
	f, err := cg.fileHandler.OpenFile(controlFile, os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		zap.L().Error("failed to open control file", zap.String("controlFile", controlFile), zap.Error(err))
		return fmt.Errorf("failed to open control file %s: %w", controlFile, err)
	}
	defer f.Close()
	if _, err := f.WriteString(value); err != nil {
		zap.L().Error("failed to write value to control file", zap.String("controlFile", controlFile), zap.Error(err))
		return fmt.Errorf("failed to write value to control file %s: %w", controlFile, err)
	}
	return nil
}

// Get reads the value of the specified control file under a subsystem
// directory for this cgroup (e.g. Get("memory", "memory.usage_in_bytes")).
func (cg *Cgroup) Get(subsystem, control string) (string, error) {
	controlFile := filepath.Join(cg.CgroupRoot, subsystem, cg.Name, control)
	raw, err := cg.fileHandler.ReadFile(controlFile)
	if err != nil {
		return "", fmt.Errorf("failed to read control file %s: %w", controlFile, err)
	}
	return string(bytes.TrimSpace(raw)), nil
}

// Close releases the cgroup's resources.
// This function closes the file descriptor for the cgroup's tasks file.
func (cg *Cgroup) Close() error {
	if err := cg.File.Close(); err != nil {
		zap.L().Error("failed to close cgroup file", zap.Error(err))
		return fmt.Errorf("failed to close cgroup file: %w", err)
	}
	return nil
}

// Remove deletes the cgroup after closing its resources.
// This function removes the cgroup directory, including every subsystem's
// leaf directory, from the filesystem.
func (cg *Cgroup) Remove(subsystems []Subsystem) error {
	var errs []error
	for _, subsystem := range subsystems {
		subsystemPath := filepath.Join(cg.CgroupRoot, subsystem.Name(), cg.Name)
		if err := cg.fileHandler.RemoveAll(subsystemPath); err != nil {
			zap.L().Error("failed to remove cgroup subsystem directory", zap.String("path", subsystemPath), zap.Error(err))
			errs = append(errs, fmt.Errorf("remove %s: %w", subsystemPath, err))
		}
	}
	cgroupPath := filepath.Join(cg.CgroupRoot, cg.Name)
	if err := cg.fileHandler.RemoveAll(cgroupPath); err != nil {
		zap.L().Error("failed to remove cgroup directory", zap.String("cgroupPath", cgroupPath), zap.Error(err))
		errs = append(errs, fmt.Errorf("remove %s: %w", cgroupPath, err))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// AddProcess adds a process to the cgroup by writing the process ID to the tasks file.
func (cg *Cgroup) AddProcess(pid int, fileHandler FileHandler) error {
	tasksFilePath := filepath.Join(cg.CgroupRoot, cg.Name, "tasks")
	tasksFile, err := fileHandler.OpenFile(tasksFilePath, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open tasks file for cgroup %q: %w", cg.Name, err)
	}
	defer tasksFile.Close()

	if _, err := fmt.Fprintf(tasksFile, "%d\n", pid); err != nil {
		return fmt.Errorf("failed to add process %d to cgroup %q: %w", pid, cg.Name, err)
	}

	return nil
}

// Tasks returns the pids currently attached to the cgroup's tasks file. An
// empty result after the supervision loop returns is one of the testable
// properties: no child may survive the core call.
func (cg *Cgroup) Tasks() ([]int, error) {
	tasksFilePath := filepath.Join(cg.CgroupRoot, cg.Name, "tasks")
	raw, err := cg.fileHandler.ReadFile(tasksFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks file for cgroup %q: %w", cg.Name, err)
	}
	var pids []int
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("failed to parse pid %q in tasks file for cgroup %q: %w", line, cg.Name, err)
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

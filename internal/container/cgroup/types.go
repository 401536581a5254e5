// Package cgroup manages Linux control group v1 hierarchies and exposes
// resource accounting for the process-group executor.
package cgroup

import "os"

// FileHandler abstracts the filesystem operations the cgroup package needs
// so tests can substitute an in-memory double instead of touching
// /sys/fs/cgroup.
type FileHandler interface {
	OpenFile(name string, flag int, perm os.FileMode) (*os.File, error)
	ReadFile(filename string) ([]byte, error)
	MkdirAll(path string, perm os.FileMode) error
	RemoveAll(path string) error
}

// DefaultFileHandler implements FileHandler against the real filesystem.
type DefaultFileHandler struct{}

func (DefaultFileHandler) OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(name, flag, perm)
}

func (DefaultFileHandler) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

func (DefaultFileHandler) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (DefaultFileHandler) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// Subsystem represents one cgroup v1 controller mounted under the cgroup
// root (cpu, cpuacct, memory).
type Subsystem interface {
	Name() string
	ApplySettings(cgroupPath string, resources *Resources) error
}

package cgroup

import (
	"fmt"

	"go.uber.org/zap"
)

// Factory creates Cgroup objects for different Specs using a fixed set of
// subsystems, so the executor only has to construct one factory per group.
type Factory interface {
	CreateCgroup(spec *Spec) (*Cgroup, error)
	Subsystems() []Subsystem
}

// DefaultFactory implements Factory by joining the given subsystems for
// every cgroup it creates.
type DefaultFactory struct {
	subsystems  []Subsystem
	fileHandler FileHandler
}

// NewDefaultFactory returns a new instance of DefaultFactory with the specified subsystems.
func NewDefaultFactory(subsystems []Subsystem, fileHandler FileHandler) *DefaultFactory {
	return &DefaultFactory{subsystems: subsystems, fileHandler: fileHandler}
}

// CreateCgroup creates a new Cgroup using the factory's subsystems and file handler.
func (f *DefaultFactory) CreateCgroup(spec *Spec) (*Cgroup, error) {
	cgroup, err := NewCgroup(spec, f.subsystems, f.fileHandler)
	if err != nil {
		zap.L().Error("failed to create cgroup", zap.Error(err))
		return nil, fmt.Errorf("failed to create cgroup: %w", err)
	}
	return cgroup, nil
}

// Subsystems returns the subsystems this factory joins, so callers can
// later enumerate the per-subsystem leaf directories to remove.
func (f *DefaultFactory) Subsystems() []Subsystem {
	return f.subsystems
}

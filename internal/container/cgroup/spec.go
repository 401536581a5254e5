package cgroup

// Spec represents the specification for a Linux control group subtree
// joined by one process group: a name (used as the leaf directory under
// each subsystem), the root hierarchy, and the resources to enforce.
type Spec struct {
	Name       string
	Resources  *Resources
	CgroupRoot string
}

// Resources carries the limits pushed into the cgroup subsystems. Only the
// fields relevant to the accounting the executor needs are modeled; block
// I/O shares are not part of this spec's resource model.
type Resources struct {
	Memory *Memory
	CPU    *CPU
}

// CPU carries cgroup v1 cpu-controller settings. Shares sets relative
// weight (cpu.shares); QuotaMicros/PeriodMicros, when QuotaMicros > 0, cap
// absolute CPU time per PeriodMicros window (cpu.cfs_quota_us /
// cpu.cfs_period_us) and is how a process-level timeLimit is additionally
// backstopped at the group level.
type CPU struct {
	Shares       int
	QuotaMicros  int64
	PeriodMicros int64
}

// Memory carries cgroup v1 memory-controller settings.
type Memory struct {
	LimitBytes uint64
}

// SpecBuilder is a fluent builder for Spec, matching the construction style
// used for Task and ProcessSpec elsewhere in this module.
type SpecBuilder struct {
	spec *Spec
}

// NewSpecBuilder creates a new SpecBuilder.
func NewSpecBuilder() *SpecBuilder {
	return &SpecBuilder{spec: &Spec{Resources: &Resources{}}}
}

func (b *SpecBuilder) WithName(name string) *SpecBuilder {
	b.spec.Name = name
	return b
}

func (b *SpecBuilder) WithResources(resources *Resources) *SpecBuilder {
	b.spec.Resources = resources
	return b
}

func (b *SpecBuilder) WithCgroupRoot(cgroupRoot string) *SpecBuilder {
	b.spec.CgroupRoot = cgroupRoot
	return b
}

// Build constructs the Spec using the provided settings.
func (b *SpecBuilder) Build() *Spec {
	return b.spec
}

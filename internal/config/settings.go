package config

import (
	"time"

	"github.com/elispeigel/invoker/internal/container/filesystem"
	"github.com/elispeigel/invoker/internal/container/task"
	"golang.org/x/sys/unix"
)

// NamespaceSettings is the effective LXC-style namespace config: the
// architecture tag, the container's hostname, and the bind mounts that
// must be present before a group runs.
type NamespaceSettings struct {
	Arch    string
	UtsName string
	Mounts  []filesystem.Mount
}

// Settings is the effective, already-merged configuration the core and its
// collaborators consume. Unlike Document, every field here carries a
// concrete value — there is no "absent" to distinguish from zero.
type Settings struct {
	ProcessDefaults   task.ProcessResourceLimits
	Environment       map[string]string
	GroupDefaults     task.GroupResourceLimits
	Namespace         NamespaceSettings
	NotifierEndpoints []string
}

// Default returns the baseline Settings §6 names: no resource limits, the
// default process environment, and bind-RO mounts of /etc, /bin, /sbin,
// /lib, /usr plus procfs.
func Default() Settings {
	return Settings{
		Environment: map[string]string{
			"PATH":   "/usr/local/bin:/usr/bin:/bin:/usr/local/sbin:/usr/sbin:/sbin",
			"LC_ALL": "C",
			"LANG":   "C",
			"PWD":    "/",
		},
		Namespace: NamespaceSettings{
			Mounts: []filesystem.Mount{
				{Source: "/etc", Target: "/etc", FSType: "bind", Flags: bindROFlags},
				{Source: "/bin", Target: "/bin", FSType: "bind", Flags: bindROFlags},
				{Source: "/sbin", Target: "/sbin", FSType: "bind", Flags: bindROFlags},
				{Source: "/lib", Target: "/lib", FSType: "bind", Flags: bindROFlags},
				{Source: "/usr", Target: "/usr", FSType: "bind", Flags: bindROFlags},
				{Source: "proc", Target: "/proc", FSType: "proc", Flags: 0},
			},
		},
	}
}

// bindROFlags is the flag set for a read-only recursive bind mount.
const bindROFlags = unix.MS_BIND | unix.MS_RDONLY | unix.MS_REC

// Merge applies doc's overrides on top of base, field by field, following
// the defaulting pattern of an explicit Merge function rather than
// reflection-based struct merging. Any field doc does not set is left as
// base had it.
func Merge(base Settings, doc Document) Settings {
	out := base
	out.Environment = mergeEnv(base.Environment, nil)

	if doc.ProcessDefaults != nil {
		pd := doc.ProcessDefaults
		if pd.TimeLimitNanos != nil {
			out.ProcessDefaults.TimeLimit = time.Duration(*pd.TimeLimitNanos)
		}
		if pd.MemoryLimitBytes != nil {
			out.ProcessDefaults.MemoryLimitBytes = *pd.MemoryLimitBytes
		}
		if pd.OutputLimitBytes != nil {
			out.ProcessDefaults.OutputLimitBytes = *pd.OutputLimitBytes
		}
		out.Environment = mergeEnv(base.Environment, pd.Environment)
	}

	if doc.GroupDefaults != nil && doc.GroupDefaults.RealTimeLimitMillis != nil {
		out.GroupDefaults.RealTimeLimit = time.Duration(*doc.GroupDefaults.RealTimeLimitMillis) * time.Millisecond
	}

	if doc.Namespace != nil {
		ns := doc.Namespace
		if ns.Arch != "" {
			out.Namespace.Arch = ns.Arch
		}
		if ns.UtsName != "" {
			out.Namespace.UtsName = ns.UtsName
		}
		if len(ns.Mounts) > 0 {
			out.Namespace.Mounts = make([]filesystem.Mount, 0, len(ns.Mounts))
			for _, m := range ns.Mounts {
				flags := uintptr(0)
				if m.ReadOnly {
					flags = bindROFlags
				}
				out.Namespace.Mounts = append(out.Namespace.Mounts, filesystem.Mount{
					Source: m.Source,
					Target: m.Target,
					FSType: m.FSType,
					Flags:  flags,
				})
			}
		}
	}

	if len(doc.NotifierEndpoints) > 0 {
		out.NotifierEndpoints = doc.NotifierEndpoints
	}

	return out
}

// mergeEnv returns a fresh map with base's entries, overridden by
// override's. Both base and the result are independent: callers can hold
// onto a Settings without aliasing another Settings' map.
func mergeEnv(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

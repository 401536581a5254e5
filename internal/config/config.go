// Package config implements the Configuration collaborator described in
// §6: a JSON document tree deserialized into defaults for ProcessSpec and
// ProcessGroup, filesystem population, and an LXC-style namespace config.
// The core never sees the document itself, only the effective Settings
// produced by merging it over a baseline.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/elispeigel/invoker/internal/container/errs"
	"github.com/elispeigel/invoker/internal/container/task"
)

// EnvConfigVar names the environment variable holding the config file path
// used when the CLI's --config flag is absent, per §6.
const EnvConfigVar = "INVOKER_CONFIG"

// MountDoc describes one bind mount entry for the namespace config.
type MountDoc struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	FSType   string `json:"fstype,omitempty"`
	ReadOnly bool   `json:"readOnly,omitempty"`
}

// NamespaceDoc is the namespace section of the config document: the LXC-style
// arch/utsname/mount entries §6 names.
type NamespaceDoc struct {
	Arch    string     `json:"arch,omitempty"`
	UtsName string     `json:"utsname,omitempty"`
	Mounts  []MountDoc `json:"mounts,omitempty"`
}

// ProcessDefaultsDoc is the optional-override shape of per-process
// resource defaults. A nil pointer means "inherit the baseline"; JSON's
// explicit-null-vs-absent distinction isn't needed here since the core
// never round-trips this document, only the merged Settings.
type ProcessDefaultsDoc struct {
	TimeLimitNanos   *int64            `json:"timeLimitNanos,omitempty"`
	MemoryLimitBytes *uint64           `json:"memoryLimitBytes,omitempty"`
	OutputLimitBytes *uint64           `json:"outputLimitBytes,omitempty"`
	Environment      map[string]string `json:"environment,omitempty"`
}

// GroupDefaultsDoc is the optional-override shape of group-wide defaults.
type GroupDefaultsDoc struct {
	RealTimeLimitMillis *int64 `json:"realTimeLimitMillis,omitempty"`
}

// Document is the JSON shape read from disk. Every field is optional; a
// field absent from the document leaves the corresponding baseline Settings
// field untouched.
type Document struct {
	ProcessDefaults   *ProcessDefaultsDoc `json:"processDefaults,omitempty"`
	GroupDefaults     *GroupDefaultsDoc   `json:"groupDefaults,omitempty"`
	Namespace         *NamespaceDoc       `json:"namespace,omitempty"`
	NotifierEndpoints []string            `json:"notifierEndpoints,omitempty"`
}

// Load reads and parses a config document from path. A missing or
// malformed document is a ConfigurationError, surfaced to the CLI before
// any fork per §7.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.ConfigurationError{Reason: fmt.Sprintf("read config %s: %v", path, err)}
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &errs.ConfigurationError{Reason: fmt.Sprintf("parse config %s: %v", path, err)}
	}
	return &doc, nil
}

// ResolvePath picks the config path to load: flagPath if non-empty,
// otherwise INVOKER_CONFIG. Returns an empty path and no error if neither
// is set, since a config document is optional — Default() alone is a
// valid effective Settings.
func ResolvePath(flagPath string) (string, error) {
	if flagPath != "" {
		return flagPath, nil
	}
	if env := os.Getenv(EnvConfigVar); env != "" {
		return env, nil
	}
	return "", nil
}

// LoadEffective resolves path (flagPath or INVOKER_CONFIG), loads the
// document if one is named, and merges it over Default(). This is the one
// call the CLI and the control helper need to go from "nothing" to
// effective Settings.
func LoadEffective(flagPath string) (Settings, error) {
	path, err := ResolvePath(flagPath)
	if err != nil {
		return Settings{}, err
	}
	base := Default()
	if path == "" {
		return base, nil
	}
	doc, err := Load(path)
	if err != nil {
		return Settings{}, err
	}
	return Merge(base, *doc), nil
}

// ApplyProcessDefaults fills the zero-valued fields of spec's resource
// limits and environment from s's process defaults, leaving any value the
// caller already set untouched. This is how an effective Settings reaches
// a concrete task.ProcessSpec without the core ever seeing the document.
func (s Settings) ApplyProcessDefaults(spec *task.ProcessSpec) {
	if spec.ResourceLimits.TimeLimit == 0 {
		spec.ResourceLimits.TimeLimit = s.ProcessDefaults.TimeLimit
	}
	if spec.ResourceLimits.MemoryLimitBytes == 0 {
		spec.ResourceLimits.MemoryLimitBytes = s.ProcessDefaults.MemoryLimitBytes
	}
	if spec.ResourceLimits.OutputLimitBytes == 0 {
		spec.ResourceLimits.OutputLimitBytes = s.ProcessDefaults.OutputLimitBytes
	}
	if spec.Environment == nil {
		spec.Environment = map[string]string{}
	}
	for k, v := range s.Environment {
		if _, ok := spec.Environment[k]; !ok {
			spec.Environment[k] = v
		}
	}
}

// ApplyGroupDefaults fills t's group-wide resource limits from s, leaving
// any value the caller already set untouched.
func (s Settings) ApplyGroupDefaults(t *task.Task) {
	if t.ResourceLimits.RealTimeLimit == 0 {
		t.ResourceLimits.RealTimeLimit = s.GroupDefaults.RealTimeLimit
	}
	if len(t.NotifierEndpoints) == 0 {
		t.NotifierEndpoints = s.NotifierEndpoints
	}
}

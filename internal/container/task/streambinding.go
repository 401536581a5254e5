package task

import (
	"encoding/json"
	"fmt"
)

// AccessMode is the open mode for a File stream binding.
type AccessMode int

const (
	ReadOnly AccessMode = iota
	WriteOnly
	ReadWrite
)

// StreamBinding is a declarative instruction for one file-descriptor slot
// in a child process. It is a tagged union of File, PipeEnd, FDAlias, and
// Close, dispatched by type switch rather than virtual methods. Each
// variant marshals itself with an explicit "kind" discriminator so a Task
// round-trips through JSON without losing which variant a descriptor held.
type StreamBinding interface {
	isStreamBinding()
	bindingKind() string
}

// File opens (or creates, for WriteOnly) a path inside the container and
// installs it at the target descriptor. WriteOnly implies truncate+create
// with mode 0666.
type File struct {
	Path       string
	AccessMode AccessMode
}

func (File) isStreamBinding() {}
func (File) bindingKind() string { return "file" }

func (b File) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind       string     `json:"kind"`
		Path       string     `json:"path"`
		AccessMode AccessMode `json:"accessMode"`
	}{b.bindingKind(), b.Path, b.AccessMode})
}

// PipeEnd installs one end of a shared pipe at the target descriptor.
type PipeEnd struct {
	PipeId PipeId
	End    End
}

func (PipeEnd) isStreamBinding() {}
func (PipeEnd) bindingKind() string { return "pipe_end" }

func (b PipeEnd) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind   string `json:"kind"`
		PipeId PipeId `json:"pipeId"`
		End    End    `json:"end"`
	}{b.bindingKind(), b.PipeId, b.End})
}

// FDAlias duplicates another descriptor already bound on the same process
// at the target descriptor. The referenced descriptor must be bound to a
// non-FDAlias binding; alias chains are not permitted.
type FDAlias struct {
	FD int
}

func (FDAlias) isStreamBinding() {}
func (FDAlias) bindingKind() string { return "fd_alias" }

func (b FDAlias) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind string `json:"kind"`
		FD   int    `json:"fd"`
	}{b.bindingKind(), b.FD})
}

// Close closes the target descriptor in the child before exec.
type Close struct{}

func (Close) isStreamBinding() {}
func (Close) bindingKind() string { return "close" }

func (b Close) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind string `json:"kind"`
	}{b.bindingKind()})
}

// unmarshalStreamBinding decodes one StreamBinding from its "kind"
// discriminator, the inverse of each variant's MarshalJSON.
func unmarshalStreamBinding(data []byte) (StreamBinding, error) {
	var tag struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("unmarshal stream binding kind: %w", err)
	}
	switch tag.Kind {
	case "file":
		var v struct {
			Path       string     `json:"path"`
			AccessMode AccessMode `json:"accessMode"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("unmarshal file binding: %w", err)
		}
		return File{Path: v.Path, AccessMode: v.AccessMode}, nil
	case "pipe_end":
		var v struct {
			PipeId PipeId `json:"pipeId"`
			End    End    `json:"end"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("unmarshal pipe end binding: %w", err)
		}
		return PipeEnd{PipeId: v.PipeId, End: v.End}, nil
	case "fd_alias":
		var v struct {
			FD int `json:"fd"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("unmarshal fd alias binding: %w", err)
		}
		return FDAlias{FD: v.FD}, nil
	case "close":
		return Close{}, nil
	default:
		return nil, fmt.Errorf("unknown stream binding kind %q", tag.Kind)
	}
}

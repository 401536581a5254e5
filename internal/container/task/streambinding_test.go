package task

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestStreamBindingRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		binding StreamBinding
	}{
		{"file read-only", File{Path: "/stdin", AccessMode: ReadOnly}},
		{"file write-only", File{Path: "/stdout", AccessMode: WriteOnly}},
		{"pipe end", PipeEnd{PipeId: 2, End: WriteEnd}},
		{"fd alias", FDAlias{FD: 1}},
		{"close", Close{}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			data, err := json.Marshal(c.binding)
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}
			got, err := unmarshalStreamBinding(data)
			if err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			if !reflect.DeepEqual(got, c.binding) {
				t.Errorf("round-trip mismatch: got %#v, want %#v", got, c.binding)
			}
		})
	}
}

func TestProcessSpecRoundTripsDescriptors(t *testing.T) {
	spec := NewProcessSpec("/usr/bin/judge")
	spec.Arguments = []string{"/usr/bin/judge", "--strict"}
	spec.Descriptors[0] = File{Path: "/stdin", AccessMode: ReadOnly}
	spec.Descriptors[1] = PipeEnd{PipeId: 1, End: WriteEnd}
	spec.Descriptors[2] = FDAlias{FD: 1}
	spec.Descriptors[3] = Close{}

	data, err := json.Marshal(spec)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var got ProcessSpec
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if got.Executable != spec.Executable {
		t.Errorf("Executable = %q, want %q", got.Executable, spec.Executable)
	}
	if !reflect.DeepEqual(got.Descriptors, spec.Descriptors) {
		t.Errorf("Descriptors = %#v, want %#v", got.Descriptors, spec.Descriptors)
	}
}

func TestTaskRoundTripIsByteEqualOnceRemarshaled(t *testing.T) {
	tk := Task{
		Pipes: []Pipe{{}},
		Processes: []ProcessSpec{
			{
				Executable:  "/bin/cat",
				Arguments:   []string{"/bin/cat"},
				Environment: map[string]string{},
				Descriptors: map[int]StreamBinding{
					0: PipeEnd{PipeId: 0, End: ReadEnd},
					1: File{Path: "/stdout", AccessMode: WriteOnly},
				},
				GroupWaitsForTermination: true,
				TerminateGroupOnCrash:    true,
			},
		},
	}

	first, err := json.Marshal(tk)
	if err != nil {
		t.Fatalf("first marshal failed: %v", err)
	}

	var decoded Task
	if err := json.Unmarshal(first, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	second, err := json.Marshal(decoded)
	if err != nil {
		t.Fatalf("second marshal failed: %v", err)
	}

	if string(first) != string(second) {
		t.Errorf("re-marshal not byte-equal:\nfirst:  %s\nsecond: %s", first, second)
	}
}

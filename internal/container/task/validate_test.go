package task

import "testing"

func TestValidatePipeRequiresOneReaderAndWriter(t *testing.T) {
	tsk := &Task{
		Pipes: []Pipe{{}},
		Processes: []ProcessSpec{
			{Descriptors: map[int]StreamBinding{1: PipeEnd{PipeId: 0, End: WriteEnd}}},
			{Descriptors: map[int]StreamBinding{0: PipeEnd{PipeId: 0, End: ReadEnd}}},
		},
	}
	if err := Validate(tsk); err != nil {
		t.Fatalf("expected valid task, got %v", err)
	}
}

func TestValidateRejectsUnreadPipe(t *testing.T) {
	tsk := &Task{
		Pipes: []Pipe{{}},
		Processes: []ProcessSpec{
			{Descriptors: map[int]StreamBinding{1: PipeEnd{PipeId: 0, End: WriteEnd}}},
		},
	}
	if err := Validate(tsk); err == nil {
		t.Fatal("expected validation error for pipe with no reader")
	}
}

func TestValidateRejectsDoubleReader(t *testing.T) {
	tsk := &Task{
		Pipes: []Pipe{{}},
		Processes: []ProcessSpec{
			{Descriptors: map[int]StreamBinding{0: PipeEnd{PipeId: 0, End: ReadEnd}}},
			{Descriptors: map[int]StreamBinding{0: PipeEnd{PipeId: 0, End: ReadEnd}}},
		},
	}
	if err := Validate(tsk); err == nil {
		t.Fatal("expected validation error for pipe with two readers")
	}
}

func TestValidateFDAliasToOrdinaryBinding(t *testing.T) {
	tsk := &Task{
		Processes: []ProcessSpec{
			{Descriptors: map[int]StreamBinding{
				1: File{Path: "/out", AccessMode: WriteOnly},
				2: FDAlias{FD: 1},
			}},
		},
	}
	if err := Validate(tsk); err != nil {
		t.Fatalf("expected valid task, got %v", err)
	}
}

func TestValidateRejectsDanglingFDAlias(t *testing.T) {
	tsk := &Task{
		Processes: []ProcessSpec{
			{Descriptors: map[int]StreamBinding{2: FDAlias{FD: 9}}},
		},
	}
	if err := Validate(tsk); err == nil {
		t.Fatal("expected validation error for dangling alias")
	}
}

func TestValidateRejectsAliasChainToAlias(t *testing.T) {
	tsk := &Task{
		Processes: []ProcessSpec{
			{Descriptors: map[int]StreamBinding{
				1: File{Path: "/out", AccessMode: WriteOnly},
				2: FDAlias{FD: 1},
				3: FDAlias{FD: 2},
			}},
		},
	}
	if err := Validate(tsk); err == nil {
		t.Fatal("expected validation error: fd 3 aliases fd 2, which is itself an alias")
	}
}

func TestValidateRejectsAliasCycle(t *testing.T) {
	tsk := &Task{
		Processes: []ProcessSpec{
			{Descriptors: map[int]StreamBinding{
				1: FDAlias{FD: 2},
				2: FDAlias{FD: 1},
			}},
		},
	}
	if err := Validate(tsk); err == nil {
		t.Fatal("expected validation error for alias cycle")
	}
}

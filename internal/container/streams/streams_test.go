package streams

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/elispeigel/invoker/internal/container/errs"
	"github.com/elispeigel/invoker/internal/container/task"
	"golang.org/x/sys/unix"
)

func TestResolveFileWriteOnly(t *testing.T) {
	dir := t.TempDir()
	proc := task.ProcessSpec{
		CurrentPath: dir,
		Descriptors: map[int]task.StreamBinding{
			1: task.File{Path: "out.txt", AccessMode: task.WriteOnly},
		},
	}

	resolved, err := Resolve(0, proc, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	defer resolved.Allocated.Close()

	fd, ok := resolved.Install[1]
	if !ok {
		t.Fatal("expected fd 1 to be resolved")
	}
	if _, err := unix.Write(fd, []byte("hello\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil {
		t.Fatalf("failed to read written file: %v", err)
	}
	if string(content) != "hello\n" {
		t.Errorf("unexpected file content: %q", content)
	}
}

func TestResolvePipeEnds(t *testing.T) {
	pipes, err := MakePipeSet([]task.Pipe{{}})
	if err != nil {
		t.Fatalf("MakePipeSet failed: %v", err)
	}
	defer pipes.Close()

	writer := task.ProcessSpec{
		Descriptors: map[int]task.StreamBinding{1: task.PipeEnd{PipeId: 0, End: task.WriteEnd}},
	}
	reader := task.ProcessSpec{
		Descriptors: map[int]task.StreamBinding{0: task.PipeEnd{PipeId: 0, End: task.ReadEnd}},
	}

	wResolved, err := Resolve(0, writer, pipes)
	if err != nil {
		t.Fatalf("Resolve(writer) failed: %v", err)
	}
	defer wResolved.Allocated.Close()

	rResolved, err := Resolve(1, reader, pipes)
	if err != nil {
		t.Fatalf("Resolve(reader) failed: %v", err)
	}
	defer rResolved.Allocated.Close()

	if wResolved.Install[1] != pipes[0].WriteFD {
		t.Errorf("expected writer fd 1 to resolve to the pipe's write end")
	}
	if rResolved.Install[0] != pipes[0].ReadFD {
		t.Errorf("expected reader fd 0 to resolve to the pipe's read end")
	}
}

func TestResolveFDAliasDupsTarget(t *testing.T) {
	dir := t.TempDir()
	proc := task.ProcessSpec{
		CurrentPath: dir,
		Descriptors: map[int]task.StreamBinding{
			1: task.File{Path: "out.txt", AccessMode: task.WriteOnly},
			2: task.FDAlias{FD: 1},
		},
	}

	resolved, err := Resolve(0, proc, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	defer resolved.Allocated.Close()

	if resolved.Install[1] == resolved.Install[2] {
		t.Error("expected alias to produce a distinct dup'd fd, not share the same fd number")
	}

	if _, err := unix.Write(resolved.Install[2], []byte("via-alias")); err != nil {
		t.Fatalf("write through aliased fd failed: %v", err)
	}
	content, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil {
		t.Fatalf("failed to read file: %v", err)
	}
	if string(content) != "via-alias" {
		t.Errorf("unexpected content: %q", content)
	}
}

func TestResolveCloseBinding(t *testing.T) {
	proc := task.ProcessSpec{
		Descriptors: map[int]task.StreamBinding{3: task.Close{}},
	}
	resolved, err := Resolve(0, proc, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	defer resolved.Allocated.Close()

	if len(resolved.CloseInChild) != 1 || resolved.CloseInChild[0] != 3 {
		t.Errorf("expected fd 3 recorded as close-in-child, got %v", resolved.CloseInChild)
	}
}

func TestResolveDanglingAliasFails(t *testing.T) {
	proc := task.ProcessSpec{
		Descriptors: map[int]task.StreamBinding{2: task.FDAlias{FD: 9}},
	}
	_, err := Resolve(3, proc, nil)
	if err == nil {
		t.Fatal("expected error for dangling alias")
	}
	outOfRange, ok := err.(*errs.ProcessDescriptorOutOfRangeError)
	if !ok {
		t.Fatalf("expected *errs.ProcessDescriptorOutOfRangeError, got %T", err)
	}
	if outOfRange.ProcessId != 3 || outOfRange.FD != 9 {
		t.Errorf("ProcessId/FD = %d/%d, want 3/9", outOfRange.ProcessId, outOfRange.FD)
	}
}

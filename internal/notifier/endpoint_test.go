package notifier

import (
	"path/filepath"
	"testing"

	"github.com/elispeigel/invoker/pkg/log"
)

func TestBuildFanOutEmptyEndpointsYieldsNoSinks(t *testing.T) {
	fan, err := BuildFanOut(nil, log.Nop())
	if err != nil {
		t.Fatalf("BuildFanOut: %v", err)
	}
	if len(fan.sinks) != 0 {
		t.Errorf("sinks = %d, want 0", len(fan.sinks))
	}
}

func TestBuildFanOutFilePathIsFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	fan, err := BuildFanOut([]string{path}, log.Nop())
	if err != nil {
		t.Fatalf("BuildFanOut: %v", err)
	}
	if len(fan.sinks) != 1 {
		t.Fatalf("sinks = %d, want 1", len(fan.sinks))
	}
	if _, ok := fan.sinks[0].(*FileSink); !ok {
		t.Errorf("sink type = %T, want *FileSink", fan.sinks[0])
	}
}

func TestBuildFanOutUnixEndpointIsSocketSink(t *testing.T) {
	fan, err := BuildFanOut([]string{"unix:/tmp/invoker-test.sock"}, log.Nop())
	if err != nil {
		t.Fatalf("BuildFanOut: %v", err)
	}
	if len(fan.sinks) != 1 {
		t.Fatalf("sinks = %d, want 1", len(fan.sinks))
	}
	if _, ok := fan.sinks[0].(*SocketSink); !ok {
		t.Errorf("sink type = %T, want *SocketSink", fan.sinks[0])
	}
}

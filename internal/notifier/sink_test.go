package notifier

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/elispeigel/invoker/internal/container/group"
	"github.com/elispeigel/invoker/internal/container/task"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/net/nettest"
)

func TestFrameRoundTrip(t *testing.T) {
	pr, pw := net.Pipe()
	defer pr.Close()
	defer pw.Close()

	want := group.Event{
		Kind:      group.EventProcessFinished,
		ProcessId: task.Id(3),
		Time:      time.Unix(1700000000, 0).UTC(),
		Status:    task.MemoryLimitExceeded,
		Detail:    "peak exceeded limit",
	}

	errCh := make(chan error, 1)
	go func() { errCh <- WriteFrame(pw, want) }()

	got, err := ReadFrame(pr)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	if got.Kind != want.Kind || got.ProcessId != want.ProcessId || got.Status != want.Status || got.Detail != want.Detail {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
	if !got.Time.Equal(want.Time) {
		t.Errorf("round trip time mismatch: got %v, want %v", got.Time, want.Time)
	}
}

func TestSocketSinkDeliversOverInProcessListener(t *testing.T) {
	ln, err := nettest.NewLocalListener("tcp")
	if err != nil {
		t.Skipf("no local listener available: %v", err)
	}
	defer ln.Close()

	received := make(chan group.Event, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		e, err := ReadFrame(conn)
		if err == nil {
			received <- e
		}
	}()

	sink := NewSocketSink("tcp", ln.Addr().String())
	defer sink.Close()

	want := group.Event{Kind: group.EventGroupFinished, Status: task.OK}
	if err := sink.Publish(want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-received:
		if got.Kind != want.Kind || got.Status != want.Status {
			t.Errorf("got %+v, want %+v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivered event")
	}
}

func TestFileSinkRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.log")

	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	want := group.Event{Kind: group.EventProcessStarted, ProcessId: task.Id(1)}
	if err := sink.Publish(want); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open event log: %v", err)
	}
	defer f.Close()
	got, err := ReadFrame(f)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Kind != want.Kind || got.ProcessId != want.ProcessId {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestFileSinkCompressedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.log.lz4")

	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	want := group.Event{Kind: group.EventProcessFinished, ProcessId: task.Id(2), Status: task.TimeLimitExceeded}
	if err := sink.Publish(want); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open event log: %v", err)
	}
	defer f.Close()
	got, err := ReadFrame(lz4.NewReader(f))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Kind != want.Kind || got.ProcessId != want.ProcessId || got.Status != want.Status {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestFanOutIsolatesSinkFailures(t *testing.T) {
	good := &countingSink{}
	bad := &failingSink{}

	fo := NewFanOut([]Sink{good, bad}, nil)
	fo.Publish(group.Event{Kind: group.EventProcessStarted})
	if err := fo.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if good.count != 1 {
		t.Errorf("expected the good sink to receive the event despite the bad sink failing, got %d", good.count)
	}
}

func TestFanOutDeliversInPublishOrderPerSink(t *testing.T) {
	recorder := &recordingSink{}
	fo := NewFanOut([]Sink{recorder}, nil)

	for i := 0; i < 50; i++ {
		fo.Publish(group.Event{Kind: group.EventProcessStarted, ProcessId: task.Id(i)})
	}
	if err := fo.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if len(recorder.ids) != 50 {
		t.Fatalf("expected 50 events delivered, got %d", len(recorder.ids))
	}
	for i, id := range recorder.ids {
		if id != task.Id(i) {
			t.Fatalf("event %d arrived out of order: got ProcessId %d, want %d", i, id, i)
		}
	}
}

type recordingSink struct {
	mu  sync.Mutex
	ids []task.Id
}

func (s *recordingSink) Publish(e group.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, e.ProcessId)
	return nil
}
func (s *recordingSink) Close() error { return nil }

type countingSink struct {
	count int
}

func (s *countingSink) Publish(group.Event) error { s.count++; return nil }
func (s *countingSink) Close() error              { return nil }

type failingSink struct{}

func (failingSink) Publish(group.Event) error { return errAlwaysFails }
func (failingSink) Close() error               { return nil }

var errAlwaysFails = errors.New("sink always fails")

package group

import (
	"time"

	"github.com/elispeigel/invoker/internal/container/task"
)

// EventKind names the lifecycle transitions the Notifier Sink publishes.
type EventKind string

const (
	EventProcessStarted  EventKind = "process_started"
	EventProcessFinished EventKind = "process_finished"
	EventGroupFinished   EventKind = "group_finished"
)

// Event is one lifecycle notification emitted by the supervision loop, in
// the order the loop observed it: a process's start is always published
// before its finish, and every process's finish is published before the
// group's.
type Event struct {
	Kind      EventKind
	ProcessId task.Id
	Time      time.Time
	Status    task.CompletionStatus
	Detail    string
}

// Publisher receives lifecycle events as the supervision loop produces
// them. Implementations must not block the loop for long; the Notifier
// Sink's fan-out runs each subscriber on its own goroutine for that reason.
type Publisher interface {
	Publish(Event)
}

// NopPublisher discards every event, used when a Task names no notifier
// endpoints.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}

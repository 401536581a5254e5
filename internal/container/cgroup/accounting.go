package cgroup

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Usage is a resource-usage snapshot for one cgroup, in canonical units
// (nanoseconds, bytes).
type Usage struct {
	CPUTime    time.Duration
	MemoryPeak uint64
}

// ResourceAccounting reads memory and CPU usage from a joined cgroup
// subtree and converts it to canonical units. A dedicated sampler polls
// memory usage on an interval so peaks that vanish between wait(2) events
// are still observed, per the "highest observed peak wins" rule.
type ResourceAccounting struct {
	cg     *Cgroup
	logger *zap.Logger

	peakMemory *atomic.Uint64
	oomed      *atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewResourceAccounting constructs a ResourceAccounting bound to the given
// cgroup. Call Start to begin the background sampler, Close to stop it.
func NewResourceAccounting(cg *Cgroup, logger *zap.Logger) *ResourceAccounting {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResourceAccounting{
		cg:         cg,
		logger:     logger,
		peakMemory: atomic.NewUint64(0),
		oomed:      atomic.NewBool(false),
	}
}

// Start launches the memory-peak sampler and, best-effort, an OOM watcher,
// polling every interval. It returns immediately; samples accumulate in the
// background until Close is called.
func (ra *ResourceAccounting) Start(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	ra.cancel = cancel
	ra.done = make(chan struct{})

	go func() {
		defer close(ra.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ra.sampleMemoryPeak()
			}
		}
	}()

	go ra.watchOOM(ctx)
}

// sampleMemoryPeak reads the kernel-tracked memory.max_usage_in_bytes and
// records it if it is the highest value observed so far.
func (ra *ResourceAccounting) sampleMemoryPeak() {
	raw, err := ra.cg.Get("memory", "memory.max_usage_in_bytes")
	if err != nil {
		ra.logger.Warn("failed to sample memory peak", zap.Error(err))
		return
	}
	value, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		ra.logger.Warn("failed to parse memory peak sample", zap.String("raw", raw), zap.Error(err))
		return
	}
	for {
		current := ra.peakMemory.Load()
		if value <= current {
			return
		}
		if ra.peakMemory.CompareAndSwap(current, value) {
			return
		}
	}
}

// watchOOM watches the cgroup's memory subsystem directory with fsnotify
// and, on every write or create event there, reads memory.oom_control's
// under_oom flag, resolving the ambiguity between a SIGKILL signal exit and an
// out-of-memory kill in favor of the OOM classification whenever the flag
// was observed set before the child was reaped.
func (ra *ResourceAccounting) watchOOM(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		ra.logger.Warn("failed to start oom watcher", zap.Error(err))
		return
	}
	defer watcher.Close()

	cgroupDir := ra.cg.CgroupRoot + "/memory/" + ra.cg.Name
	if err := watcher.Add(cgroupDir); err != nil {
		ra.logger.Warn("failed to watch cgroup memory directory", zap.String("dir", cgroupDir), zap.Error(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			raw, err := ra.cg.Get("memory", "memory.oom_control")
			if err != nil {
				continue
			}
			if strings.Contains(raw, "under_oom 1") {
				ra.oomed.Store(true)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			ra.logger.Warn("oom watcher error", zap.Error(err))
		}
	}
}

// Close stops the background sampler and returns the final usage snapshot.
func (ra *ResourceAccounting) Close() Usage {
	if ra.cancel != nil {
		ra.cancel()
		<-ra.done
	}
	return ra.Sample()
}

// Sample reads the current cumulative CPU time and returns it alongside the
// highest memory peak observed so far.
func (ra *ResourceAccounting) Sample() Usage {
	var cpu time.Duration
	if raw, err := ra.cg.Get("cpuacct", "cpuacct.usage"); err == nil {
		if nanos, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
			cpu = time.Duration(nanos)
		}
	}
	return Usage{
		CPUTime:    cpu,
		MemoryPeak: ra.peakMemory.Load(),
	}
}

// OOMed reports whether an out-of-memory kill was observed for this cgroup.
func (ra *ResourceAccounting) OOMed() bool {
	return ra.oomed.Load()
}

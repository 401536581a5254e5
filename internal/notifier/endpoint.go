package notifier

import (
	"fmt"
	"strings"

	"github.com/elispeigel/invoker/pkg/log"
)

// BuildFanOut resolves the control-plane wiring of Task.NotifierEndpoints
// into a FanOut: each endpoint is either "unix:address" or "tcp:address"
// (dialed lazily via NewSocketSink) or, for any other string, a bare
// filesystem path (appended to via NewFileSink, transparently lz4-compressed
// if it ends in ".log.lz4"). An empty endpoint list is valid and yields a
// FanOut with no sinks, equivalent to group.NopPublisher.
func BuildFanOut(endpoints []string, logger log.Logger) (*FanOut, error) {
	sinks := make([]Sink, 0, len(endpoints))
	for _, endpoint := range endpoints {
		sink, err := buildSink(endpoint)
		if err != nil {
			return nil, fmt.Errorf("notifier endpoint %q: %w", endpoint, err)
		}
		sinks = append(sinks, sink)
	}
	return NewFanOut(sinks, logger), nil
}

func buildSink(endpoint string) (Sink, error) {
	if network, address, ok := strings.Cut(endpoint, ":"); ok && (network == "unix" || network == "tcp") {
		return NewSocketSink(network, address), nil
	}
	return NewFileSink(endpoint)
}

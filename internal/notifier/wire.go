// Package notifier implements the Notifier Sink component described in
// §4.6: a typed publish API that fans lifecycle events out to zero or
// more independently-failing sinks, framed as versioned length-prefixed
// messages over a socket or, for the file-backed sink, appended to a file
// (lz4-compressed for a ".log.lz4" path).
package notifier

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elispeigel/invoker/internal/container/group"
)

// maxFrameBytes bounds a single encoded event, guarding a reader against a
// corrupt or hostile length prefix.
const maxFrameBytes = 1 << 20

// frameVersionJSON is the only payload encoding a frame currently carries.
// Reserving the byte now means a future binary payload codec can be
// introduced without changing the framing a reader has to parse to find
// out which decoder to use.
const frameVersionJSON byte = 1

// WriteFrame writes e as one versioned, length-prefixed frame: a 4-byte
// big-endian length, a 1-byte payload version, then the payload itself.
// The payload codec is JSON (frameVersionJSON); see DESIGN.md's Notifier
// Sink section for why the payload schema itself stays JSON rather than a
// second binary codec.
func WriteFrame(w io.Writer, e group.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if len(payload) > maxFrameBytes {
		return fmt.Errorf("event frame too large: %d bytes", len(payload))
	}
	var header [5]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(payload))+1)
	header[4] = frameVersionJSON
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one frame written by WriteFrame and rejects any payload
// version it does not recognize, so a future codec change fails loudly
// against an old reader instead of silently misparsing.
func ReadFrame(r io.Reader) (group.Event, error) {
	var lenHeader [4]byte
	if _, err := io.ReadFull(r, lenHeader[:]); err != nil {
		return group.Event{}, err
	}
	n := binary.BigEndian.Uint32(lenHeader[:])
	if n == 0 {
		return group.Event{}, fmt.Errorf("empty event frame")
	}
	if n > maxFrameBytes {
		return group.Event{}, fmt.Errorf("event frame too large: %d bytes", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return group.Event{}, fmt.Errorf("read frame body: %w", err)
	}
	version, payload := body[0], body[1:]
	if version != frameVersionJSON {
		return group.Event{}, fmt.Errorf("unsupported event frame version %d", version)
	}
	var e group.Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return group.Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return e, nil
}
